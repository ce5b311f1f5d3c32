package livereload

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Bridge is the process-wide registry of running servers. Every broadcast
// goes to every registered server.
type Bridge struct {
	mu      sync.RWMutex
	servers []*Server
}

// NewBridge creates an empty registry.
func NewBridge() *Bridge { return &Bridge{} }

// StartServer starts a server for opts and registers it.
func (b *Bridge) StartServer(ctx context.Context, opts Options) (*Server, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := NewServer(opts)
	if err := s.Start(); err != nil {
		return nil, err
	}
	b.Register(s)
	return s, nil
}

// Register adds an already running server.
func (b *Bridge) Register(s *Server) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.servers = append(b.servers, s)
}

// Servers returns the registered servers in start order.
func (b *Bridge) Servers() []*Server {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Server, len(b.servers))
	copy(out, b.servers)
	return out
}

// Reload broadcasts a full refresh on every server.
func (b *Bridge) Reload() {
	for _, s := range b.Servers() {
		s.Reload()
	}
}

// Changed broadcasts targeted updates for files on every server.
func (b *Bridge) Changed(files []string) {
	if len(files) == 0 {
		return
	}
	for _, s := range b.Servers() {
		s.Changed(files)
	}
}

// Shutdown stops every server.
func (b *Bridge) Shutdown(ctx context.Context) error {
	var result *multierror.Error
	for _, s := range b.Servers() {
		if err := s.Shutdown(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

package livereload

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeTimeout = 5 * time.Second

// Hub tracks the websocket clients of one server.
type Hub struct {
	mu    sync.RWMutex
	conns map[*websocket.Conn]*sync.Mutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[*websocket.Conn]*sync.Mutex)}
}

// Register adds a client.
func (h *Hub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = &sync.Mutex{}
}

// Unregister removes and closes a client.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.conns[conn]
	delete(h.conns, conn)
	h.mu.Unlock()
	if ok {
		_ = conn.Close()
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Send writes v to a single client. Writes to one connection are serialized.
func (h *Hub) Send(conn *websocket.Conn, v any) error {
	h.mu.RLock()
	lock, ok := h.conns[conn]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	lock.Lock()
	defer lock.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

// Broadcast writes v to every client, dropping clients whose write fails.
func (h *Hub) Broadcast(v any) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := h.Send(c, v); err != nil {
			log.Debug().Err(err).Str("remote", c.RemoteAddr().String()).Msg("dropping livereload client")
			h.Unregister(c)
		}
	}
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[*websocket.Conn]*sync.Mutex)
	h.mu.Unlock()
	for c := range conns {
		_ = c.Close()
	}
}

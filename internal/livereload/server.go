// Package livereload serves the output directory over HTTP and pushes
// LiveReload protocol messages to connected browsers.
package livereload

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

//go:embed static
var staticFS embed.FS

const clientSnippet = `<script src="/livereload.js"></script>`

// StatusPath serves a JSON StatusResponse.
const StatusPath = "/_assetflow/status"

// Options configures a Server.
type Options struct {
	Root       string
	Host       string
	Port       int
	LiveReload bool
}

// Server is one static file server with its live-reload clients.
type Server struct {
	ID         string
	Root       string
	LiveReload bool

	addr     string
	hub      *Hub
	files    http.Handler
	upgrader websocket.Upgrader
	srv      *http.Server
	ln       net.Listener
}

// NewServer creates a server; it does not listen until Start.
func NewServer(opts Options) *Server {
	root := opts.Root
	if root == "" {
		root = "."
	}
	host := opts.Host
	if host == "" {
		host = "localhost"
	}
	return &Server{
		ID:         uuid.NewString(),
		Root:       root,
		LiveReload: opts.LiveReload,
		addr:       net.JoinHostPort(host, strconv.Itoa(opts.Port)),
		hub:        NewHub(),
		files:      http.FileServer(http.Dir(root)),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Routes for the server
func (s *Server) routes(mux *http.ServeMux) {
	if s.LiveReload {
		mux.HandleFunc("/livereload", s.handleSocket)
		mux.HandleFunc("/livereload.js", s.handleClient)
	}
	mux.HandleFunc(StatusPath, s.handleStatus)
	mux.HandleFunc("/", s.handleFiles)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	_ = r.Body.Close()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(StatusResponse{
		ID:         s.ID,
		Time:       time.Now(),
		Host:       r.Host,
		Root:       s.Root,
		LiveReload: s.LiveReload,
		Clients:    s.hub.Count(),
	})
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	mux := http.NewServeMux()
	s.routes(mux)
	s.ln = ln
	s.srv = &http.Server{Handler: mux}
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("server", s.ID).Msg("server stopped")
		}
	}()
	log.Info().Str("server", s.ID).Str("url", s.URL()).Str("root", s.Root).Bool("livereload", s.LiveReload).Msg("Server started")
	return nil
}

// Addr is the bound address once started, the configured one before.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// URL is the http URL of the server.
func (s *Server) URL() string { return "http://" + s.Addr() }

// Clients returns the number of connected live-reload clients.
func (s *Server) Clients() int { return s.hub.Count() }

// Reload asks every client to refresh the whole page.
func (s *Server) Reload() {
	if !s.LiveReload {
		return
	}
	s.hub.Broadcast(fullReload())
}

// Changed announces the given output files so clients can swap them in place.
func (s *Server) Changed(files []string) {
	if !s.LiveReload {
		return
	}
	for _, f := range files {
		s.hub.Broadcast(assetChanged(s.urlPath(f)))
	}
}

// Shutdown stops the server and disconnects clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.CloseAll()
	if s.srv == nil {
		return fmt.Errorf("server not running")
	}
	return s.srv.Shutdown(ctx)
}

// urlPath maps an output file path to the URL path it is served under.
func (s *Server) urlPath(file string) string {
	root, err1 := filepath.Abs(s.Root)
	abs, err2 := filepath.Abs(file)
	if err1 == nil && err2 == nil {
		if rel, err := filepath.Rel(root, abs); err == nil && !strings.HasPrefix(rel, "..") {
			return "/" + filepath.ToSlash(rel)
		}
	}
	return "/" + filepath.Base(file)
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("livereload upgrade failed")
		return
	}
	s.hub.Register(conn)
	log.Debug().Str("server", s.ID).Str("remote", conn.RemoteAddr().String()).Msg("livereload client connected")
	go s.readLoop(conn)
}

func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.hub.Unregister(conn)
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if cmd, _ := msg["command"].(string); cmd == "hello" {
			hello := HelloMessage{Command: "hello", Protocols: []string{ProtocolV7}, ServerName: "assetflow"}
			if err := s.hub.Send(conn, hello); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleClient(w http.ResponseWriter, r *http.Request) {
	data, err := staticFS.ReadFile("static/livereload.js")
	if err != nil {
		http.Error(w, "client not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/javascript")
	_, _ = w.Write(data)
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	upath := path.Clean("/" + r.URL.Path)
	if s.LiveReload && (strings.HasSuffix(upath, ".html") || strings.HasSuffix(r.URL.Path, "/")) {
		if s.serveHTML(w, r, upath) {
			return
		}
	}
	s.files.ServeHTTP(w, r)
}

// serveHTML serves an HTML document with the client script injected.
// It returns false when the file cannot be served this way.
func (s *Server) serveHTML(w http.ResponseWriter, r *http.Request, upath string) bool {
	name := upath
	if !strings.HasSuffix(name, ".html") {
		name = path.Join(name, "index.html")
	}
	f, err := http.Dir(s.Root).Open(name)
	if err != nil {
		return false
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil || st.IsDir() {
		return false
	}
	body, err := io.ReadAll(f)
	if err != nil {
		return false
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeContent(w, r, name, st.ModTime(), bytes.NewReader(injectClient(body)))
	return true
}

// injectClient places the client script before the closing body tag, or at
// the end of the document when there is none.
func injectClient(doc []byte) []byte {
	lower := bytes.ToLower(doc)
	i := bytes.LastIndex(lower, []byte("</body>"))
	if i < 0 {
		return append(append([]byte{}, doc...), clientSnippet...)
	}
	out := make([]byte, 0, len(doc)+len(clientSnippet))
	out = append(out, doc[:i]...)
	out = append(out, clientSnippet...)
	out = append(out, doc[i:]...)
	return out
}

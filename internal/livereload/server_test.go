package livereload

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialClient(t *testing.T, baseURL string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/livereload"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := conn.WriteJSON(HelloMessage{Command: "hello", Protocols: []string{ProtocolV7}}); err != nil {
		t.Fatalf("hello: %v", err)
	}
	var hello HelloMessage
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if hello.Command != "hello" || len(hello.Protocols) == 0 || hello.Protocols[0] != ProtocolV7 {
		t.Fatalf("unexpected hello %+v", hello)
	}
	return conn
}

func readReload(t *testing.T, conn *websocket.Conn) ReloadMessage {
	t.Helper()
	var msg ReloadMessage
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read reload: %v", err)
	}
	return msg
}

// TestInjectClient tests client script injection into HTML documents
func TestInjectClient(t *testing.T) {
	got := string(injectClient([]byte("<html><BODY><p>x</p></BODY></html>")))
	want := "<html><BODY><p>x</p>" + clientSnippet + "</BODY></html>"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	got = string(injectClient([]byte("<p>fragment</p>")))
	if !strings.HasSuffix(got, clientSnippet) {
		t.Fatalf("snippet must be appended to fragments: %q", got)
	}
}

// TestServeHTML tests that HTML is served with the client and other files untouched
func TestServeHTML(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "index.html"), []byte("<html><body>hi</body></html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "app.css"), []byte("body{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	srv := NewServer(Options{Root: root, LiveReload: true})
	mux := http.NewServeMux()
	srv.routes(mux)

	for _, p := range []string{"/", "/index.html"} {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, p, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status %d", p, rr.Code)
		}
		if !strings.Contains(rr.Body.String(), clientSnippet+"</body>") {
			t.Fatalf("%s: client not injected: %q", p, rr.Body.String())
		}
	}

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/app.css", nil))
	if rr.Body.String() != "body{}" {
		t.Fatalf("css must be served untouched, got %q", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/livereload.js", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "WebSocket") {
		t.Fatalf("client script not served")
	}
}

// TestServeWithoutLiveReload tests that plain servers do not inject anything
func TestServeWithoutLiveReload(t *testing.T) {
	root := t.TempDir()
	_ = os.WriteFile(filepath.Join(root, "index.html"), []byte("<body></body>"), 0o644)
	srv := NewServer(Options{Root: root})
	mux := http.NewServeMux()
	srv.routes(mux)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	body, _ := io.ReadAll(rr.Body)
	if strings.Contains(string(body), clientSnippet) {
		t.Fatalf("unexpected injection: %q", body)
	}
}

// TestReloadAndChanged tests the messages sent to a connected client
func TestReloadAndChanged(t *testing.T) {
	root := t.TempDir()
	srv := NewServer(Options{Root: root, LiveReload: true})
	mux := http.NewServeMux()
	srv.routes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	conn := dialClient(t, ts.URL)
	if srv.Clients() != 1 {
		t.Fatalf("expected 1 client, got %d", srv.Clients())
	}

	srv.Reload()
	msg := readReload(t, conn)
	if msg.Command != "reload" || msg.Path != "/" || msg.LiveCSS {
		t.Fatalf("unexpected full reload %+v", msg)
	}

	srv.Changed([]string{filepath.Join(root, "app", "main.js")})
	msg = readReload(t, conn)
	if msg.Path != "/app/main.js" || !msg.LiveCSS {
		t.Fatalf("unexpected changed message %+v", msg)
	}
}

// TestBridgeFanOut tests that every registered server receives every event
func TestBridgeFanOut(t *testing.T) {
	root := t.TempDir()
	b := NewBridge()
	ctx := context.Background()
	var conns []*websocket.Conn
	for i := 0; i < 2; i++ {
		s, err := b.StartServer(ctx, Options{Root: root, Host: "127.0.0.1", Port: 0, LiveReload: true})
		if err != nil {
			t.Fatalf("start server: %v", err)
		}
		conns = append(conns, dialClient(t, s.URL()))
	}
	defer b.Shutdown(ctx)

	if n := len(b.Servers()); n != 2 {
		t.Fatalf("expected 2 servers, got %d", n)
	}

	b.Changed([]string{filepath.Join(root, "app.css")})
	for i, c := range conns {
		if msg := readReload(t, c); msg.Path != "/app.css" {
			t.Fatalf("server %d: unexpected message %+v", i, msg)
		}
	}

	b.Reload()
	for i, c := range conns {
		if msg := readReload(t, c); msg.Path != "/" {
			t.Fatalf("server %d: unexpected message %+v", i, msg)
		}
	}
}

// TestStatus tests the status endpoint
func TestStatus(t *testing.T) {
	srv := NewServer(Options{Root: t.TempDir(), LiveReload: true})
	mux := http.NewServeMux()
	srv.routes(mux)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, StatusPath, nil))
	if rr.Code != 200 {
		t.Fatalf("status %d", rr.Code)
	}
	var resp StatusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.ID != srv.ID || !resp.LiveReload || resp.Clients != 0 {
		t.Fatalf("unexpected status %+v", resp)
	}
}

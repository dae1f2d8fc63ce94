package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const simpleHTML = "<html>\n<body>B</body>\n</html>\n"

type report struct {
	kind    ErrorKind
	context string
	err     error
}

// recordingReporter keeps every reported failure for assertions.
type recordingReporter struct {
	mu      sync.Mutex
	reports []report
}

func (r *recordingReporter) ReportFailure(kind ErrorKind, context string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report{kind: kind, context: context, err: err})
}

func (r *recordingReporter) snapshot() []report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]report(nil), r.reports...)
}

func (r *recordingReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reports)
}

func newDocRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "simple.html"), []byte(simpleHTML), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

// newTestServer builds a server that is not listening. Sessions are
// driven directly over connections the test creates.
func newTestServer(t *testing.T, mutate func(*Config)) (*Server, *recordingReporter) {
	t.Helper()

	rep := &recordingReporter{}
	cfg := &Config{
		DocRoot:       newDocRoot(t),
		DetectTimeout: 2 * time.Second,
		IdleTimeout:   2 * time.Second,
		WriteTimeout:  2 * time.Second,
		Reporter:      rep,
	}
	if mutate != nil {
		mutate(cfg)
	}

	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv, rep
}

// startServer serves on a loopback port until the test ends.
func startServer(t *testing.T, mutate func(*Config)) (*Server, string, *recordingReporter) {
	t.Helper()

	srv, rep := newTestServer(t, mutate)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	})

	return srv, ln.Addr().String(), rep
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// sessions returns the WebSocket sessions currently joined to h.
func sessions(h *Hub) []*WebSocketSession {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*WebSocketSession
	for m := range h.members {
		if s, ok := m.(*WebSocketSession); ok {
			out = append(out, s)
		}
	}
	return out
}

// tcpPair returns both ends of a loopback TCP connection.
func tcpPair(t *testing.T) (server, client net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer func() { _ = ln.Close() }()

	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	server, err = ln.Accept()
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return server, client
}

// endings returns the recorded count of session endings of kind.
func endings(t *testing.T, srv *Server, kind ErrorKind) float64 {
	t.Helper()
	families, err := srv.Metrics().Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != "flexgate_session_endings_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "kind" && l.GetValue() == kind.String() {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

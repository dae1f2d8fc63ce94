package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/muurk/flexgate/internal/exchange"
)

func dial(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn, bufio.NewReader(conn)
}

func readResponse(t *testing.T, br *bufio.Reader) (*http.Response, string) {
	t.Helper()
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatalf("ReadResponse() error = %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	_ = resp.Body.Close()
	return resp, string(body)
}

func expectEOF(t *testing.T, br *bufio.Reader) {
	t.Helper()
	if _, err := br.ReadByte(); !errors.Is(err, io.EOF) {
		t.Errorf("expected server to close the connection, got %v", err)
	}
}

func TestHTTPServesSimpleFile(t *testing.T) {
	_, addr, rep := startServer(t, nil)
	conn, br := dial(t, addr)

	fmt.Fprint(conn, "GET /simple.html HTTP/1.1\r\nHost: test\r\n\r\n")
	resp, body := readResponse(t, br)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if body != simpleHTML {
		t.Errorf("body = %q, want %q", body, simpleHTML)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/html" {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
	if rep.count() != 0 {
		t.Errorf("unexpected failures: %v", rep.snapshot())
	}
}

func TestHTTPKeepAliveAnswersInOrder(t *testing.T) {
	_, addr, _ := startServer(t, nil)
	conn, br := dial(t, addr)

	targets := []string{"/simple.html", "/missing-1", "/simple.html", "/missing-2", "/missing-3"}

	// All requests are pipelined before any response is read.
	var sb strings.Builder
	for _, target := range targets {
		fmt.Fprintf(&sb, "GET %s HTTP/1.1\r\nHost: test\r\n\r\n", target)
	}
	if _, err := io.WriteString(conn, sb.String()); err != nil {
		t.Fatal(err)
	}

	for i, target := range targets {
		resp, body := readResponse(t, br)
		if target == "/simple.html" {
			if resp.StatusCode != http.StatusOK || body != simpleHTML {
				t.Errorf("response %d: %d %q, want 200 simple.html", i, resp.StatusCode, body)
			}
			continue
		}
		want := fmt.Sprintf("The resource '%s' was not found.", target)
		if resp.StatusCode != http.StatusNotFound || body != want {
			t.Errorf("response %d: %d %q, want 404 %q", i, resp.StatusCode, body, want)
		}
	}
}

func TestHTTPIllegalTarget(t *testing.T) {
	tests := []struct {
		name      string
		request   string
		keepAlive bool
	}{
		{
			name:      "relative target",
			request:   "GET simple.html HTTP/1.1\r\nHost: test\r\n\r\n",
			keepAlive: false,
		},
		{
			name:      "parent reference",
			request:   "GET /../simple.html HTTP/1.1\r\nHost: test\r\n\r\n",
			keepAlive: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, addr, rep := startServer(t, nil)
			conn, br := dial(t, addr)

			fmt.Fprint(conn, tt.request)
			resp, body := readResponse(t, br)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
			if body != "Illegal request-target" {
				t.Errorf("body = %q, want %q", body, "Illegal request-target")
			}

			if tt.keepAlive {
				fmt.Fprint(conn, "GET /simple.html HTTP/1.1\r\nHost: test\r\n\r\n")
				if resp, _ := readResponse(t, br); resp.StatusCode != http.StatusOK {
					t.Errorf("follow-up status = %d, want 200", resp.StatusCode)
				}
			} else {
				expectEOF(t, br)
			}
			if rep.count() != 0 {
				t.Errorf("bad requests must not be reported as failures: %v", rep.snapshot())
			}
		})
	}
}

func TestHTTPUnknownMethod(t *testing.T) {
	_, addr, _ := startServer(t, nil)
	conn, br := dial(t, addr)

	fmt.Fprint(conn, "DELETE /simple.html HTTP/1.1\r\nHost: test\r\n\r\n")
	resp, body := readResponse(t, br)
	if resp.StatusCode != http.StatusBadRequest || body != "Unknown HTTP-method" {
		t.Errorf("got %d %q, want 400 Unknown HTTP-method", resp.StatusCode, body)
	}
}

func TestHTTP10ClosesAfterResponse(t *testing.T) {
	_, addr, rep := startServer(t, nil)
	conn, br := dial(t, addr)

	fmt.Fprint(conn, "GET /simple.html HTTP/1.0\r\n\r\n")
	resp, body := readResponse(t, br)
	if resp.StatusCode != http.StatusOK || body != simpleHTML {
		t.Errorf("got %d %q", resp.StatusCode, body)
	}
	expectEOF(t, br)
	if rep.count() != 0 {
		t.Errorf("unexpected failures: %v", rep.snapshot())
	}
}

func TestHTTPIdleTimeoutIsBenign(t *testing.T) {
	_, addr, rep := startServer(t, func(c *Config) {
		c.IdleTimeout = 100 * time.Millisecond
	})
	conn, br := dial(t, addr)

	fmt.Fprint(conn, "GET /simple.html HTTP/1.1\r\nHost: test\r\n\r\n")
	readResponse(t, br)

	// Send nothing more; the idle timer closes the session.
	expectEOF(t, br)
	time.Sleep(50 * time.Millisecond)
	if rep.count() != 0 {
		t.Errorf("idle timeout was reported as a failure: %v", rep.snapshot())
	}
}

func TestIsUpgrade(t *testing.T) {
	newReq := func(method, proto string, headers map[string]string) *http.Request {
		r := &http.Request{Method: method, Header: make(http.Header), URL: &url.URL{Path: "/"}}
		r.Proto = proto
		r.ProtoMajor, r.ProtoMinor, _ = http.ParseHTTPVersion(proto)
		for k, v := range headers {
			r.Header.Set(k, v)
		}
		return r
	}
	upgrade := map[string]string{"Connection": "keep-alive, Upgrade", "Upgrade": "websocket"}

	tests := []struct {
		name string
		req  *http.Request
		want bool
	}{
		{"websocket upgrade", newReq("GET", "HTTP/1.1", upgrade), true},
		{"post", newReq("POST", "HTTP/1.1", upgrade), false},
		{"http/1.0", newReq("GET", "HTTP/1.0", upgrade), false},
		{"plain get", newReq("GET", "HTTP/1.1", nil), false},
		{"h2c", newReq("GET", "HTTP/1.1", map[string]string{"Connection": "Upgrade", "Upgrade": "h2c"}), false},
	}
	for _, tt := range tests {
		if got := isUpgrade(tt.req); got != tt.want {
			t.Errorf("%s: isUpgrade() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestMalformed(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"eof", io.EOF, false},
		{"unexpected eof", io.ErrUnexpectedEOF, false},
		{"timeout", &net.OpError{Op: "read", Err: errTimeout{}}, false},
		{"bad target", &url.Error{Op: "parse", URL: "simple.html", Err: errors.New("invalid URI for request")}, true},
		{"bad request line", errors.New("malformed HTTP request \"garbage\""), true},
		{"header over the cap", ErrReadLimit, true},
	}
	for _, tt := range tests {
		if got := malformed(tt.err); got != tt.want {
			t.Errorf("%s: malformed() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

type errTimeout struct{}

func (errTimeout) Error() string   { return "i/o timeout" }
func (errTimeout) Timeout() bool   { return true }
func (errTimeout) Temporary() bool { return true }

// runPipeSession serves one HTTP session over an in-memory connection and
// returns the client end. ran is closed when Run returns.
func runPipeSession(t *testing.T, srv *Server) (sess *HTTPSession, client net.Conn, ran <-chan struct{}) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() { _ = clientSide.Close() })
	_ = clientSide.SetDeadline(time.Now().Add(5 * time.Second))

	sess = newHTTPSession(srv, NewConn(serverSide, nil))
	done := make(chan struct{})
	go func() {
		defer close(done)
		sess.Run()
	}()
	return sess, clientSide, done
}

func waitRun(t *testing.T, ran <-chan struct{}) {
	t.Helper()
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("HTTP session did not return")
	}
}

func TestHTTPHandoffReleasesConnection(t *testing.T) {
	srv, rep := newTestServer(t, nil)
	sess, client, ran := runPipeSession(t, srv)

	dialer := websocket.Dialer{
		NetDialContext: func(context.Context, string, string) (net.Conn, error) {
			return client, nil
		},
		HandshakeTimeout: 5 * time.Second,
	}
	ws, resp, err := dialer.Dial("ws://test/", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("handshake status = %d, want 101", resp.StatusCode)
	}
	waitRun(t, ran)

	if got := sess.State(); got != StateUpgradeHandoff {
		t.Errorf("State() = %v, want %v", got, StateUpgradeHandoff)
	}
	if !sess.conn.Released() {
		t.Error("HTTP session still owns the connection after the upgrade")
	}
	if sess.Served() != 0 {
		t.Errorf("Served() = %d, want 0", sess.Served())
	}

	// The stream now belongs to the WebSocket session alone.
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := ws.WriteMessage(websocket.TextMessage, []byte("Howdy.")); err != nil {
		t.Fatal(err)
	}
	if got := readText(t, ws); got != "Howdy." {
		t.Errorf("echo = %q, want Howdy.", got)
	}

	closeWS(t, ws)
	waitFor(t, "session to leave hub", func() bool { return srv.Hub().Len() == 0 })
	if rep.count() != 0 {
		t.Errorf("unexpected failures: %v", rep.snapshot())
	}
}

func TestHTTPUnreadBodyEndsSession(t *testing.T) {
	tests := []struct {
		name      string
		declared  int
		sent      int
		keepsOpen bool
	}{
		{name: "short body is drained", declared: 10, sent: 10, keepsOpen: true},
		{name: "body at the drain limit", declared: maxBodyDrain, sent: maxBodyDrain, keepsOpen: true},
		{name: "body over the drain limit", declared: 2 * maxBodyDrain, sent: maxBodyDrain + 1, keepsOpen: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, rep := newTestServer(t, nil)
			sess, client, ran := runPipeSession(t, srv)
			br := bufio.NewReader(client)

			head := fmt.Sprintf("GET /simple.html HTTP/1.1\r\nHost: test\r\nContent-Length: %d\r\n\r\n", tt.declared)
			go func() {
				_, _ = io.WriteString(client, head+strings.Repeat("x", tt.sent))
			}()

			resp, body := readResponse(t, br)
			if resp.StatusCode != http.StatusOK || body != simpleHTML {
				t.Fatalf("response = %d %q", resp.StatusCode, body)
			}

			if tt.keepsOpen {
				go func() {
					_, _ = io.WriteString(client, "GET /simple.html HTTP/1.1\r\nHost: test\r\n\r\n")
				}()
				if resp, _ := readResponse(t, br); resp.StatusCode != http.StatusOK {
					t.Errorf("second status = %d, want 200", resp.StatusCode)
				}
				_ = client.Close()
				waitRun(t, ran)
			} else {
				expectEOF(t, br)
				waitRun(t, ran)
				if sess.Served() != 1 {
					t.Errorf("Served() = %d, want 1", sess.Served())
				}
			}

			if got := sess.State(); got != StateClosed {
				t.Errorf("State() = %v, want closed", got)
			}
			if rep.count() != 0 {
				t.Errorf("unexpected failures: %v", rep.snapshot())
			}
		})
	}
}

func TestHTTPHeaderTooLarge(t *testing.T) {
	srv, rep := newTestServer(t, nil)
	sess, client, ran := runPipeSession(t, srv)
	br := bufio.NewReader(client)

	// One header line that never ends, exactly as long as the read cap.
	prefix := "GET /simple.html HTTP/1.1\r\nHost: test\r\nX-Filler: "
	filler := strings.Repeat("a", maxHeaderBytes+readBufferSize-len(prefix))
	go func() {
		_, _ = io.WriteString(client, prefix+filler)
	}()

	resp, body := readResponse(t, br)
	if resp.StatusCode != http.StatusRequestHeaderFieldsTooLarge {
		t.Errorf("status = %d, want 431", resp.StatusCode)
	}
	if body != exchange.BodyHeaderTooLarge {
		t.Errorf("body = %q, want %q", body, exchange.BodyHeaderTooLarge)
	}
	if !resp.Close {
		t.Error("response should close the connection")
	}
	expectEOF(t, br)
	waitRun(t, ran)

	if got := sess.State(); got != StateClosed {
		t.Errorf("State() = %v, want closed", got)
	}
	if rep.count() != 0 {
		t.Errorf("unexpected failures: %v", rep.snapshot())
	}
}

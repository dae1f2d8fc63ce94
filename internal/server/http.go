package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/muurk/flexgate/internal/exchange"
	"github.com/muurk/flexgate/internal/logging"
	"go.uber.org/zap"
)

// State is the lifecycle state of an HTTP or WebSocket session.
type State int32

const (
	StateIdle State = iota
	StateReading
	StateDispatching
	StateWriting
	StateUpgradeHandoff
	StateAccepting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReading:
		return "reading"
	case StateDispatching:
		return "dispatching"
	case StateWriting:
		return "writing"
	case StateUpgradeHandoff:
		return "upgrade-handoff"
	case StateAccepting:
		return "accepting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

const (
	// maxBodyDrain bounds how much of an unread request body is discarded
	// to keep the connection usable. A longer body closes the session.
	maxBodyDrain = 64 << 10

	// maxHeaderBytes bounds a request line plus headers. Network reads
	// for one request head stop at maxHeaderBytes+readBufferSize.
	maxHeaderBytes = 1 << 20
)

// HTTPSession serves HTTP/1.x requests on one connection until the peer
// stops sending, a response asks to close, the idle timer fires, or the
// connection is handed to a WebSocket session.
type HTTPSession struct {
	srv    *Server
	conn   *Conn
	remote string
	state  atomic.Int32

	// pending is the response being written, kept until the write ends.
	pending exchange.Response
	served  int
}

func newHTTPSession(srv *Server, conn *Conn) *HTTPSession {
	return &HTTPSession{srv: srv, conn: conn, remote: conn.RemoteAddr()}
}

// State returns the current state.
func (s *HTTPSession) State() State { return State(s.state.Load()) }

func (s *HTTPSession) setState(st State) { s.state.Store(int32(st)) }

// Served returns the number of responses written.
func (s *HTTPSession) Served() int { return s.served }

// Run reads, dispatches and writes requests in order until the session
// ends. Each request is answered before the next is read.
func (s *HTTPSession) Run() {
	for {
		s.setState(StateReading)
		if err := s.conn.Arm(s.srv.config.IdleTimeout); err != nil {
			s.end(classify(err), "http arm", err)
			return
		}

		_ = s.conn.LimitReads(maxHeaderBytes + readBufferSize)
		req, err := http.ReadRequest(s.conn.Reader())
		_ = s.conn.LimitReads(-1)
		if err != nil {
			if malformed(err) {
				s.reject(err)
				return
			}
			s.end(classify(err), "http read", err)
			return
		}

		logging.LogHTTPRequest(s.remote, req.Method, req.RequestURI, req.Proto)

		if isUpgrade(req) {
			s.handoff(req)
			return
		}

		s.setState(StateDispatching)
		resp := exchange.Handle(s.srv.config.DocRoot, req)
		drained := discardBody(req)

		if !s.write(resp) {
			return
		}
		if !resp.KeepAlive() || !drained {
			// The response asked for close, or the rest of the body is
			// still unread: end cleanly as if by the peer.
			s.end(KindPeerClosed, "http close", io.EOF)
			return
		}
	}
}

// write sends resp and reports whether the session may continue.
func (s *HTTPSession) write(resp exchange.Response) bool {
	s.setState(StateWriting)
	s.pending = resp
	_, err := resp.WriteTo(s.conn)
	_ = resp.Close()
	s.pending = nil

	if err != nil {
		s.end(classify(err), "http write", err)
		return false
	}
	s.served++
	s.srv.metrics.HTTPResponse(resp.Status())
	logging.LogHTTPResponse(s.remote, resp.Status(), resp.KeepAlive())
	return true
}

// reject answers a request that could not be parsed and closes.
func (s *HTTPSession) reject(err error) {
	resp := exchange.BadRequest(nil, exchange.BodyMalformed)
	var uerr *url.Error
	switch {
	case errors.Is(err, ErrReadLimit):
		resp = exchange.Reject(nil, http.StatusRequestHeaderFieldsTooLarge, exchange.BodyHeaderTooLarge)
	case errors.As(err, &uerr):
		resp = exchange.BadRequest(nil, exchange.BodyIllegalTarget)
	}
	logging.Warn("Rejecting malformed request",
		zap.String("remote_addr", s.remote),
		zap.Error(err),
	)
	if s.write(resp) {
		s.end(KindPeerClosed, "http close", io.EOF)
	}
}

// handoff releases the connection to a WebSocket session. The HTTP session
// is inert afterwards and never touches the connection again.
func (s *HTTPSession) handoff(req *http.Request) {
	s.setState(StateUpgradeHandoff)
	conn := s.conn.Release()
	s.srv.metrics.Upgrade()
	logging.LogConnection(s.remote, "websocket_upgrade")

	ws := newWebSocketSession(s.srv, conn)
	ws.Start(req)
}

// end closes the connection and classifies the ending.
func (s *HTTPSession) end(kind ErrorKind, op string, err error) {
	s.setState(StateClosed)
	if s.pending != nil {
		_ = s.pending.Close()
		s.pending = nil
	}
	if kind == KindPeerClosed {
		_ = s.conn.Shutdown()
	} else {
		_ = s.conn.Close()
	}
	s.srv.finish(kind, op, s.remote, err)
}

// isUpgrade reports whether req asks to become a WebSocket session.
func isUpgrade(req *http.Request) bool {
	return req.Method == http.MethodGet &&
		req.ProtoAtLeast(1, 1) &&
		websocket.IsWebSocketUpgrade(req)
}

// malformed separates parse failures from transport failures. Anything
// that is not an I/O condition means the peer sent bytes that are not a
// valid HTTP request.
func malformed(err error) bool {
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, ErrConnReleased) {
		return false
	}
	// url.Error also satisfies net.Error, so it is checked first.
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return true
	}
	var ne net.Error
	return !errors.As(err, &ne)
}

// discardBody consumes what the handler left of the request body and
// reports whether all of it was read. Bodies longer than maxBodyDrain are
// left on the wire; Body.Close is skipped then since it would read them all.
func discardBody(req *http.Request) bool {
	if req.Body == nil || req.Body == http.NoBody {
		return true
	}
	n, err := io.CopyN(io.Discard, req.Body, maxBodyDrain+1)
	if n > maxBodyDrain || (err != nil && !errors.Is(err, io.EOF)) {
		return false
	}
	_ = req.Body.Close()
	return true
}

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/gorilla/websocket"
	"github.com/muurk/flexgate/internal/logging"
)

// ErrorKind classifies how a connection or session ended.
type ErrorKind int

const (
	// KindDetectionFailed: malformed or incomplete protocol preamble.
	KindDetectionFailed ErrorKind = iota
	// KindPeerClosed: the peer ended the stream cleanly.
	KindPeerClosed
	// KindTransportFailure: a read or write failed.
	KindTransportFailure
	// KindCancelledByTimer: an idle deadline fired or the server shut down.
	KindCancelledByTimer
	// KindUpgradeUnsupported: a secured connection was detected and rejected.
	KindUpgradeUnsupported
)

// String returns the kind name used in logs and metrics.
func (k ErrorKind) String() string {
	switch k {
	case KindDetectionFailed:
		return "DetectionFailed"
	case KindPeerClosed:
		return "PeerClosed"
	case KindTransportFailure:
		return "TransportFailure"
	case KindCancelledByTimer:
		return "CancelledByTimer"
	case KindUpgradeUnsupported:
		return "UpgradeUnsupported"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Benign kinds end a session without being reported as failures.
func (k ErrorKind) Benign() bool {
	return k == KindPeerClosed || k == KindCancelledByTimer
}

var (
	// ErrConnReleased is returned by a Conn handle after Release.
	ErrConnReleased = errors.New("connection ownership released")
	// ErrSessionClosed is returned by Send once a session has closed.
	ErrSessionClosed = errors.New("session closed")
	// ErrNotAccepted is returned by Send before the handshake completed.
	ErrNotAccepted = errors.New("websocket handshake not complete")
	// ErrSecuredUnsupported rejects TLS connections.
	ErrSecuredUnsupported = errors.New("secured connections are not supported")
	// ErrReadLimit is returned once a Conn read cap is used up.
	ErrReadLimit = errors.New("read limit reached")
	// ErrIdleTimeout ends a WebSocket session that stopped answering pings.
	ErrIdleTimeout = errors.New("idle timeout")
)

// SessionError describes a session ending with its kind and operation.
type SessionError struct {
	Kind       ErrorKind
	Op         string // "detect", "http read", "websocket write", ...
	RemoteAddr string
	Err        error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s %s: %v (%s)", e.Op, e.RemoteAddr, e.Err, e.Kind)
}

func (e *SessionError) Unwrap() error { return e.Err }

// KindOf returns the kind carried by a SessionError, or classifies err.
func KindOf(err error) ErrorKind {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Kind
	}
	return classify(err)
}

// classify maps an I/O error to the kind a session ends with.
func classify(err error) ErrorKind {
	if errors.Is(err, io.EOF) {
		return KindPeerClosed
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) || errors.Is(err, websocket.ErrCloseSent) {
		return KindPeerClosed
	}
	if errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, ErrIdleTimeout) {
		return KindCancelledByTimer
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindCancelledByTimer
	}
	return KindTransportFailure
}

// FailureReporter receives every non-benign session ending. It must not
// block; its return is never consulted.
type FailureReporter interface {
	ReportFailure(kind ErrorKind, context string, err error)
}

// logReporter is the default reporter: it writes to the global logger.
type logReporter struct{}

func (logReporter) ReportFailure(kind ErrorKind, context string, err error) {
	logging.LogFailure(kind.String(), context, err)
}

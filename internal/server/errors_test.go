package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"testing"

	"github.com/gorilla/websocket"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"eof", io.EOF, KindPeerClosed},
		{"wrapped eof", fmt.Errorf("read: %w", io.EOF), KindPeerClosed},
		{"websocket close", &websocket.CloseError{Code: websocket.CloseNormalClosure}, KindPeerClosed},
		{"close sent", websocket.ErrCloseSent, KindPeerClosed},
		{"closed conn", &net.OpError{Op: "read", Err: net.ErrClosed}, KindCancelledByTimer},
		{"deadline", &net.OpError{Op: "read", Err: os.ErrDeadlineExceeded}, KindCancelledByTimer},
		{"context", context.Canceled, KindCancelledByTimer},
		{"idle", ErrIdleTimeout, KindCancelledByTimer},
		{"unexpected eof", io.ErrUnexpectedEOF, KindTransportFailure},
		{"reset", &net.OpError{Op: "write", Err: errors.New("connection reset by peer")}, KindTransportFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err); got != tt.want {
				t.Errorf("classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorKindBenign(t *testing.T) {
	benign := map[ErrorKind]bool{
		KindDetectionFailed:    false,
		KindPeerClosed:         true,
		KindTransportFailure:   false,
		KindCancelledByTimer:   true,
		KindUpgradeUnsupported: false,
	}
	for kind, want := range benign {
		if got := kind.Benign(); got != want {
			t.Errorf("%v.Benign() = %v, want %v", kind, got, want)
		}
	}
	if got := ErrorKind(42).String(); got != "ErrorKind(42)" {
		t.Errorf("String() = %q", got)
	}
}

func TestSessionError(t *testing.T) {
	err := &SessionError{Kind: KindTransportFailure, Op: "http write", RemoteAddr: "10.0.0.1:4000", Err: io.ErrShortWrite}

	if !errors.Is(err, io.ErrShortWrite) {
		t.Error("SessionError does not unwrap to its cause")
	}
	if got, want := err.Error(), "http write 10.0.0.1:4000: short write (TransportFailure)"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if KindOf(fmt.Errorf("outer: %w", err)) != KindTransportFailure {
		t.Error("KindOf did not find the wrapped SessionError")
	}
	if KindOf(io.EOF) != KindPeerClosed {
		t.Error("KindOf should classify plain errors")
	}
}

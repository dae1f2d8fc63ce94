package server

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// Detection is the outcome of inspecting a connection's first bytes.
type Detection int

const (
	// Plain means the peer speaks cleartext HTTP.
	Plain Detection = iota
	// Secured means the peer opened with a TLS ClientHello.
	Secured
)

func (d Detection) String() string {
	switch d {
	case Plain:
		return "plain"
	case Secured:
		return "secured"
	default:
		return fmt.Sprintf("Detection(%d)", int(d))
	}
}

// TLS record layout used to recognise a ClientHello:
//
//	[0]    content type, 0x16 = handshake
//	[1:3]  record protocol version
//	[3:5]  record length
//	[5]    handshake type, 0x01 = ClientHello
//	[6:9]  handshake length
const (
	tlsRecordHandshake = 0x16
	tlsClientHello     = 0x01
	tlsPeekLen         = 9
	// version(2) + random(32) is the smallest possible ClientHello body.
	tlsMinClientHello = 34
)

// DefaultDetectTimeout bounds how long a fresh connection may stay silent.
const DefaultDetectTimeout = 5 * time.Second

// Detect inspects the first bytes of c without consuming them. The peeked
// bytes stay buffered in c for whoever owns it next.
//
// A connection that stays silent until the deadline fails with
// KindCancelledByTimer, not KindDetectionFailed: an idle peer is a benign
// ending like any other expired timer. A connection that closes or stalls
// partway through a TLS preamble fails with KindDetectionFailed.
func Detect(c *Conn, timeout time.Duration) (Detection, error) {
	if timeout <= 0 {
		timeout = DefaultDetectTimeout
	}
	if err := c.Arm(timeout); err != nil {
		return Plain, detectErr(c, KindDetectionFailed, err)
	}

	first, err := c.Peek(1)
	if err != nil {
		kind := KindDetectionFailed
		if classify(err) == KindCancelledByTimer {
			kind = KindCancelledByTimer
		}
		return Plain, detectErr(c, kind, err)
	}

	if first[0] != tlsRecordHandshake {
		return Plain, disarm(c)
	}

	hdr, err := c.Peek(tlsPeekLen)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Plain, detectErr(c, KindDetectionFailed, fmt.Errorf("incomplete TLS preamble: %w", err))
	}

	if isClientHello(hdr) {
		return Secured, disarm(c)
	}
	return Plain, disarm(c)
}

func isClientHello(hdr []byte) bool {
	if len(hdr) < tlsPeekLen || hdr[0] != tlsRecordHandshake {
		return false
	}
	// Record versions are 3.x for SSLv3 through TLS 1.3.
	if hdr[1] != 0x03 {
		return false
	}
	recordLen := int(hdr[3])<<8 | int(hdr[4])
	if recordLen < tlsMinClientHello {
		return false
	}
	if hdr[5] != tlsClientHello {
		return false
	}
	helloLen := int(hdr[6])<<16 | int(hdr[7])<<8 | int(hdr[8])
	return helloLen >= tlsMinClientHello
}

// rejectTLS answers a ClientHello with a fatal handshake_failure alert so
// the peer sees an explicit refusal rather than a bare reset.
func rejectTLS(c *Conn) error {
	major, minor := byte(0x03), byte(0x01)
	if hdr, err := c.Peek(3); err == nil {
		major, minor = hdr[1], hdr[2]
	}
	alert := []byte{0x15, major, minor, 0x00, 0x02, 0x02, 0x28}
	_, err := c.Write(alert)
	return err
}

func disarm(c *Conn) error {
	if err := c.Disarm(); err != nil {
		return detectErr(c, KindDetectionFailed, err)
	}
	return nil
}

func detectErr(c *Conn, kind ErrorKind, err error) error {
	return &SessionError{Kind: kind, Op: "detect", RemoteAddr: c.RemoteAddr(), Err: err}
}

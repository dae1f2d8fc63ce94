package server

import (
	"bufio"
	"io"
	"net"
	"sync"
	"time"
)

// readBufferSize is large enough for request heads and lets the WebSocket
// layer reuse the same reader after an upgrade.
const readBufferSize = 4096

// Conn is an exclusively owned connection. Exactly one component holds a
// usable Conn at a time: Release hands the stream to a new owner and leaves
// the old handle inert, so every later call on it fails with
// ErrConnReleased. Bytes already peeked or buffered travel with the stream.
type Conn struct {
	st *connState
}

type connState struct {
	raw       net.Conn
	src       *readCap
	br        *bufio.Reader
	remote    string
	closeOnce sync.Once
	onClose   func()
}

// NewConn wraps raw. onClose, if non-nil, runs once when the connection is
// closed by whichever component owns it at that point.
func NewConn(raw net.Conn, onClose func()) *Conn {
	remote := "unknown"
	if addr := raw.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	src := &readCap{r: raw, left: -1}
	return &Conn{st: &connState{
		raw:     raw,
		src:     src,
		br:      bufio.NewReaderSize(src, readBufferSize),
		remote:  remote,
		onClose: onClose,
	}}
}

// Release transfers ownership to the returned handle.
func (c *Conn) Release() *Conn {
	st := c.st
	c.st = nil
	return &Conn{st: st}
}

// Released reports whether this handle gave up ownership.
func (c *Conn) Released() bool { return c.st == nil }

// RemoteAddr returns the peer address, or "released" for an inert handle.
func (c *Conn) RemoteAddr() string {
	if c.st == nil {
		return "released"
	}
	return c.st.remote
}

// Peek returns the next n bytes without consuming them.
func (c *Conn) Peek(n int) ([]byte, error) {
	if c.st == nil {
		return nil, ErrConnReleased
	}
	return c.st.br.Peek(n)
}

// Buffered returns how many bytes have been read from the network but not
// yet consumed.
func (c *Conn) Buffered() int {
	if c.st == nil {
		return 0
	}
	return c.st.br.Buffered()
}

// Read consumes buffered bytes first, then reads from the network.
func (c *Conn) Read(p []byte) (int, error) {
	if c.st == nil {
		return 0, ErrConnReleased
	}
	return c.st.br.Read(p)
}

// Write writes directly to the network.
func (c *Conn) Write(p []byte) (int, error) {
	if c.st == nil {
		return 0, ErrConnReleased
	}
	return c.st.raw.Write(p)
}

// Reader exposes the buffered reader for parsers that need one.
func (c *Conn) Reader() *bufio.Reader {
	if c.st == nil {
		return nil
	}
	return c.st.br
}

// LimitReads caps how many more bytes the buffered reader may pull from
// the network. Once the cap is used up reads fail with ErrReadLimit.
// Bytes already buffered are not counted. A negative n removes the cap.
func (c *Conn) LimitReads(n int64) error {
	if c.st == nil {
		return ErrConnReleased
	}
	c.st.src.left = n
	return nil
}

// Arm sets an idle deadline d from now on both directions. Expiry makes
// pending I/O fail with a timeout, which sessions treat as benign.
func (c *Conn) Arm(d time.Duration) error {
	if c.st == nil {
		return ErrConnReleased
	}
	return c.st.raw.SetDeadline(time.Now().Add(d))
}

// Disarm clears any deadline.
func (c *Conn) Disarm() error {
	if c.st == nil {
		return ErrConnReleased
	}
	return c.st.raw.SetDeadline(time.Time{})
}

// Shutdown stops both directions where the transport supports it and then
// closes the connection.
func (c *Conn) Shutdown() error {
	if c.st == nil {
		return ErrConnReleased
	}
	if tcp, ok := c.st.raw.(*net.TCPConn); ok {
		_ = tcp.CloseWrite()
		_ = tcp.CloseRead()
	}
	return c.Close()
}

// Close closes the connection. Only the first call has an effect.
func (c *Conn) Close() error {
	if c.st == nil {
		return ErrConnReleased
	}
	var err error
	st := c.st
	st.closeOnce.Do(func() {
		err = st.raw.Close()
		if st.onClose != nil {
			st.onClose()
		}
	})
	return err
}

// hijack returns the raw transport and reader for a protocol library that
// takes over the stream. The Conn keeps ownership of closing it.
func (c *Conn) hijack() (net.Conn, *bufio.Reader, error) {
	if c.st == nil {
		return nil, nil, ErrConnReleased
	}
	return c.st.raw, c.st.br, nil
}

// readCap sits between the network and the buffered reader.
type readCap struct {
	r    io.Reader
	left int64 // -1: unlimited
}

func (rc *readCap) Read(p []byte) (int, error) {
	if rc.left < 0 {
		return rc.r.Read(p)
	}
	if rc.left == 0 {
		return 0, ErrReadLimit
	}
	if int64(len(p)) > rc.left {
		p = p[:rc.left]
	}
	n, err := rc.r.Read(p)
	rc.left -= int64(n)
	return n, err
}

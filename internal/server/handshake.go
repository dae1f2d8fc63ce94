package server

import (
	"bufio"
	"net"
	"net/http"

	"github.com/muurk/flexgate/internal/exchange"
)

// handshakeWriter lets websocket.Upgrader complete a handshake on a
// connection this package already owns. Upgrader only needs Header and
// Hijack on success; failures go through upgradeError instead of the
// ResponseWriter so the peer always gets a complete, closing response.
type handshakeWriter struct {
	conn   *Conn
	header http.Header
	status int
}

func newHandshakeWriter(conn *Conn) *handshakeWriter {
	return &handshakeWriter{conn: conn, header: make(http.Header)}
}

func (w *handshakeWriter) Header() http.Header { return w.header }

func (w *handshakeWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
}

func (w *handshakeWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.conn.Write(p)
}

// Hijack hands the raw stream and its buffered reader to the WebSocket
// layer. Bytes buffered while reading the request stay available.
func (w *handshakeWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	raw, br, err := w.conn.hijack()
	if err != nil {
		return nil, nil, err
	}
	return raw, bufio.NewReadWriter(br, bufio.NewWriter(raw)), nil
}

// upgradeError writes a closing error response for a rejected handshake.
func upgradeError(conn *Conn) func(http.ResponseWriter, *http.Request, int, error) {
	return func(w http.ResponseWriter, r *http.Request, status int, reason error) {
		resp := exchange.Reject(r, status, http.StatusText(status)+": "+reason.Error())
		if hw, ok := w.(*handshakeWriter); ok {
			hw.WriteHeader(status)
		}
		_, _ = resp.WriteTo(conn)
		_ = resp.Close()
	}
}

package exchange

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/muurk/flexgate/internal/version"
)

// Response is a response produced by Handle and held by the HTTP session
// until it has been written. Callers only ask whether it keeps the
// connection open, write it, and close it.
type Response interface {
	// Status returns the HTTP status code.
	Status() int
	// KeepAlive reports whether the connection may serve another request
	// after this response has been written.
	KeepAlive() bool
	// WriteTo serializes the status line, headers and body to w.
	WriteTo(w io.Writer) (int64, error)
	// Close releases resources held by the body. Safe to call twice.
	Close() error
}

// head holds what every response shape shares: protocol version, status
// and header block.
type head struct {
	major, minor int
	status       int
	keepAlive    bool
	header       http.Header
}

func newHead(req *http.Request, status int, keepAlive bool) head {
	major, minor := 1, 1
	if req != nil && req.ProtoMajor == 1 {
		major, minor = req.ProtoMajor, req.ProtoMinor
	}
	h := head{
		major:     major,
		minor:     minor,
		status:    status,
		keepAlive: keepAlive,
		header:    make(http.Header),
	}
	h.header.Set("Server", version.ServerHeader())
	switch {
	case !keepAlive:
		h.header.Set("Connection", "close")
	case minor == 0:
		h.header.Set("Connection", "keep-alive")
	}
	return h
}

func (h *head) Status() int     { return h.status }
func (h *head) KeepAlive() bool { return h.keepAlive }

// Header exposes the header block for inspection in tests and logging.
func (h *head) Header() http.Header { return h.header }

func (h *head) writeHead(w *bufio.Writer) error {
	if _, err := fmt.Fprintf(w, "HTTP/%d.%d %03d %s\r\n",
		h.major, h.minor, h.status, http.StatusText(h.status)); err != nil {
		return err
	}
	if err := h.header.Write(w); err != nil {
		return err
	}
	_, err := w.WriteString("\r\n")
	return err
}

// stringResponse carries a small in-memory body, used for error pages.
type stringResponse struct {
	head
	body string
}

func newStringResponse(req *http.Request, status int, keepAlive bool, body string) *stringResponse {
	r := &stringResponse{head: newHead(req, status, keepAlive), body: body}
	r.header.Set("Content-Type", "text/html")
	r.header.Set("Content-Length", strconv.Itoa(len(body)))
	return r
}

func (r *stringResponse) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)
	if err := r.writeHead(bw); err != nil {
		return cw.n, err
	}
	if _, err := bw.WriteString(r.body); err != nil {
		return cw.n, err
	}
	err := bw.Flush()
	return cw.n, err
}

func (r *stringResponse) Close() error { return nil }

// Body returns the response body.
func (r *stringResponse) Body() string { return r.body }

// emptyResponse answers HEAD requests: headers describe a body that is
// never sent.
type emptyResponse struct {
	head
}

func newEmptyResponse(req *http.Request, size int64, contentType string) *emptyResponse {
	r := &emptyResponse{head: newHead(req, http.StatusOK, !req.Close)}
	r.header.Set("Content-Type", contentType)
	r.header.Set("Content-Length", strconv.FormatInt(size, 10))
	return r
}

func (r *emptyResponse) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)
	if err := r.writeHead(bw); err != nil {
		return cw.n, err
	}
	err := bw.Flush()
	return cw.n, err
}

func (r *emptyResponse) Close() error { return nil }

// fileResponse streams an open file. The file stays open until Close.
type fileResponse struct {
	head
	file *os.File
	size int64
}

func newFileResponse(req *http.Request, file *os.File, size int64, contentType string) *fileResponse {
	r := &fileResponse{head: newHead(req, http.StatusOK, !req.Close), file: file, size: size}
	r.header.Set("Content-Type", contentType)
	r.header.Set("Content-Length", strconv.FormatInt(size, 10))
	return r
}

func (r *fileResponse) WriteTo(w io.Writer) (int64, error) {
	if r.file == nil {
		return 0, os.ErrClosed
	}
	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)
	if err := r.writeHead(bw); err != nil {
		return cw.n, err
	}
	if _, err := io.CopyN(bw, r.file, r.size); err != nil {
		return cw.n, fmt.Errorf("copy body: %w", err)
	}
	err := bw.Flush()
	return cw.n, err
}

func (r *fileResponse) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewCaptureDisabled(t *testing.T) {
	c, err := NewCapture("")
	if err != nil || c != nil {
		t.Fatalf("NewCapture(\"\") = %v, %v; want nil, nil", c, err)
	}
	// nil capture records nothing
	c.Record("id", "addr", 1, "client->server", TextMessage("x"))
	if c.Path() != "" {
		t.Error("nil capture has a path")
	}
}

func TestCaptureRecord(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "captures")
	c, err := NewCapture(dir)
	if err != nil {
		t.Fatalf("NewCapture() error = %v", err)
	}
	if filepath.Dir(c.Path()) != dir {
		t.Errorf("Path() = %q, want file in %q", c.Path(), dir)
	}

	c.Record("s1", "127.0.0.1:5000", 1, "client->server", TextMessage("Howdy."))
	c.Record("s1", "127.0.0.1:5000", 2, "client->server", BinaryMessage([]byte{0x00, 0xff}))

	f, err := os.Open(c.Path())
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	lines, err := ReadCapture(f)
	if err != nil {
		t.Fatalf("ReadCapture() error = %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}

	first := lines[0]
	if first.MessageType != "text" || first.PayloadASCII != "Howdy." || first.PayloadLen != 6 {
		t.Errorf("first line = %+v", first)
	}
	second := lines[1]
	if second.MessageType != "binary" || second.PayloadHex != "00ff" || second.MessageNum != 2 {
		t.Errorf("second line = %+v", second)
	}

	if p, err := second.Payload(); err != nil || string(p) != "\x00\xff" {
		t.Errorf("Payload() = %x, %v", p, err)
	}
}

func TestReadCaptureRejectsBadLine(t *testing.T) {
	in := `{"session_id":"a","message_num":1}

not json
`
	_, err := ReadCapture(strings.NewReader(in))
	if err == nil || !strings.Contains(err.Error(), "line 3") {
		t.Errorf("ReadCapture() error = %v, want line 3", err)
	}
}

func TestSummarizeCapture(t *testing.T) {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msgs := []CapturedMessage{
		{SessionID: "b", RemoteAddr: "10.0.0.2:1", Timestamp: t0.Add(time.Second), MessageType: "text", PayloadLen: 3},
		{SessionID: "a", RemoteAddr: "10.0.0.1:1", Timestamp: t0, MessageType: "text", PayloadLen: 5},
		{SessionID: "a", RemoteAddr: "10.0.0.1:1", Timestamp: t0.Add(2 * time.Second), MessageType: "binary", PayloadLen: 7},
	}

	got := SummarizeCapture(msgs)
	if len(got) != 2 {
		t.Fatalf("got %d sessions, want 2", len(got))
	}
	a := got[0]
	if a.SessionID != "a" || a.Messages != 2 || a.Text != 1 || a.Binary != 1 || a.Bytes != 12 {
		t.Errorf("session a = %+v", a)
	}
	if !a.First.Equal(t0) || !a.Last.Equal(t0.Add(2*time.Second)) {
		t.Errorf("session a span = %v..%v", a.First, a.Last)
	}
	if got[1].SessionID != "b" || got[1].Messages != 1 {
		t.Errorf("session b = %+v", got[1])
	}
}

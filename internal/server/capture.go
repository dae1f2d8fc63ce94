package server

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/muurk/flexgate/internal/logging"
	"go.uber.org/zap"
)

// CapturedMessage is one line of a capture file.
type CapturedMessage struct {
	Timestamp    time.Time `json:"timestamp"`
	SessionID    string    `json:"session_id"`
	MessageNum   int       `json:"message_num"`
	RemoteAddr   string    `json:"remote_addr"`
	Direction    string    `json:"direction"`
	MessageType  string    `json:"message_type"`
	PayloadLen   int       `json:"payload_length"`
	PayloadHex   string    `json:"payload_hex"`
	PayloadASCII string    `json:"payload_ascii"`
}

// Capture appends received WebSocket messages to a JSON Lines file, one
// file per server run. A nil *Capture records nothing.
type Capture struct {
	mu   sync.Mutex
	path string
}

// NewCapture returns nil when dir is empty.
func NewCapture(dir string) (*Capture, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory: %w", err)
	}
	name := fmt.Sprintf("capture-%s.jsonl", time.Now().Format("20060102-150405"))
	return &Capture{path: filepath.Join(dir, name)}, nil
}

// Path returns the capture file path.
func (c *Capture) Path() string {
	if c == nil {
		return ""
	}
	return c.path
}

// Record appends msg. Failures are logged and otherwise ignored so a full
// disk never takes a session down.
func (c *Capture) Record(sessionID, remoteAddr string, num int, direction string, msg Message) {
	if c == nil {
		return
	}

	line, err := json.Marshal(CapturedMessage{
		Timestamp:    time.Now(),
		SessionID:    sessionID,
		MessageNum:   num,
		RemoteAddr:   remoteAddr,
		Direction:    direction,
		MessageType:  messageTypeName(msg.Type),
		PayloadLen:   len(msg.Payload),
		PayloadHex:   hex.EncodeToString(msg.Payload),
		PayloadASCII: logging.ASCII(msg.Payload),
	})
	if err != nil {
		logging.Error("Failed to marshal captured message", zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		logging.Error("Failed to open capture file",
			zap.String("filename", c.path),
			zap.Error(err),
		)
		return
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(line, '\n')); err != nil {
		logging.Error("Failed to write to capture file",
			zap.String("filename", c.path),
			zap.Error(err),
		)
		return
	}

	logging.Debug("Saved message to capture file",
		zap.String("filename", c.path),
		zap.Int("message_num", num),
	)
}

func messageTypeName(t int) string {
	switch t {
	case 1:
		return "text"
	case 2:
		return "binary"
	default:
		return fmt.Sprintf("type-%d", t)
	}
}

// Payload decodes the captured bytes.
func (m *CapturedMessage) Payload() ([]byte, error) {
	return hex.DecodeString(m.PayloadHex)
}

// ReadCapture parses a capture file. Blank lines are skipped; a malformed
// line fails the whole read with its line number.
func ReadCapture(r io.Reader) ([]CapturedMessage, error) {
	sc := bufio.NewScanner(r)
	// Hex doubles the payload, so allow twice the largest message.
	sc.Buffer(make([]byte, 0, 64*1024), 2*defaultMaxMessageSize+4096)

	var msgs []CapturedMessage
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var m CapturedMessage
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		msgs = append(msgs, m)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read capture: %w", err)
	}
	return msgs, nil
}

// SessionSummary aggregates the captured messages of one session.
type SessionSummary struct {
	SessionID  string
	RemoteAddr string
	Messages   int
	Text       int
	Binary     int
	Bytes      int
	First      time.Time
	Last       time.Time
}

// SummarizeCapture groups messages by session, ordered by first message.
func SummarizeCapture(msgs []CapturedMessage) []SessionSummary {
	bySession := make(map[string]*SessionSummary)
	for _, m := range msgs {
		s, ok := bySession[m.SessionID]
		if !ok {
			s = &SessionSummary{SessionID: m.SessionID, RemoteAddr: m.RemoteAddr, First: m.Timestamp}
			bySession[m.SessionID] = s
		}
		s.Messages++
		s.Bytes += m.PayloadLen
		switch m.MessageType {
		case "text":
			s.Text++
		case "binary":
			s.Binary++
		}
		if m.Timestamp.Before(s.First) {
			s.First = m.Timestamp
		}
		if m.Timestamp.After(s.Last) {
			s.Last = m.Timestamp
		}
	}

	out := make([]SessionSummary, 0, len(bySession))
	for _, s := range bySession {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].First.Equal(out[j].First) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].First.Before(out[j].First)
	})
	return out
}

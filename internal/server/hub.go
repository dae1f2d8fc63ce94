package server

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/muurk/flexgate/internal/logging"
	"github.com/muurk/flexgate/internal/metrics"
	"go.uber.org/zap"
)

// Message is one WebSocket data message.
type Message struct {
	Type    int // websocket.TextMessage or websocket.BinaryMessage
	Payload []byte
}

// TextMessage builds a text message.
func TextMessage(s string) Message {
	return Message{Type: websocket.TextMessage, Payload: []byte(s)}
}

// BinaryMessage builds a binary message.
func BinaryMessage(b []byte) Message {
	return Message{Type: websocket.BinaryMessage, Payload: b}
}

// Member is anything the hub can deliver to.
type Member interface {
	Send(msg Message) error
}

// Hub is the state shared by all WebSocket sessions of one server: the set
// of sessions currently joined. Sessions join after their handshake and
// leave no later than their destruction.
type Hub struct {
	mu      sync.RWMutex
	members map[Member]struct{}
	metrics *metrics.Collector
}

// NewHub creates an empty hub. m may be nil.
func NewHub(m *metrics.Collector) *Hub {
	return &Hub{
		members: make(map[Member]struct{}),
		metrics: m,
	}
}

// Join adds m. Joining twice has no effect.
func (h *Hub) Join(m Member) {
	h.mu.Lock()
	h.members[m] = struct{}{}
	n := len(h.members)
	h.mu.Unlock()
	logging.Debug("Session joined hub", zap.Int("members", n))
}

// Leave removes m and reports whether it was a member.
func (h *Hub) Leave(m Member) bool {
	h.mu.Lock()
	_, ok := h.members[m]
	delete(h.members, m)
	n := len(h.members)
	h.mu.Unlock()
	if ok {
		logging.Debug("Session left hub", zap.Int("members", n))
	}
	return ok
}

// Len returns the number of members.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

// Broadcast enqueues msg on every member joined at the time of the call
// and returns how many accepted it. Members that closed in the meantime
// are skipped.
func (h *Hub) Broadcast(msg Message) int {
	h.mu.RLock()
	snapshot := make([]Member, 0, len(h.members))
	for m := range h.members {
		snapshot = append(snapshot, m)
	}
	h.mu.RUnlock()

	sent := 0
	for _, m := range snapshot {
		if err := m.Send(msg); err != nil {
			if !errors.Is(err, ErrSessionClosed) {
				logging.Warn("Broadcast delivery failed", zap.Error(err))
			}
			continue
		}
		sent++
	}
	h.metrics.Broadcast(sent)
	return sent
}

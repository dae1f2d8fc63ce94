package server

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/muurk/flexgate/internal/config"
	"github.com/muurk/flexgate/internal/logging"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message or control frame to the peer.
	defaultWriteWait = 10 * time.Second

	// Largest message accepted from a peer.
	defaultMaxMessageSize = 1 << 20
)

// WebSocketSession owns an upgraded connection. It reads messages, echoes
// or broadcasts them, and writes its outbound queue one message at a time
// in enqueue order.
//
// Ownership: the server's handoff gives it the owner reference. Each
// running goroutine and each control reply holds another reference, so
// the session is destroyed (leaves the hub, closes the connection, closes
// Done) only after it is closed and nothing still uses it.
type WebSocketSession struct {
	id     string
	srv    *Server
	conn   *Conn
	ws     *websocket.Conn
	remote string
	life   *lifetime
	alive  *keepAlive

	accepted atomic.Bool
	received atomic.Int64

	mu      sync.Mutex
	queue   []Message
	writing bool
	closed  bool
}

func newWebSocketSession(srv *Server, conn *Conn) *WebSocketSession {
	s := &WebSocketSession{
		id:     uuid.NewString(),
		srv:    srv,
		conn:   conn,
		remote: conn.RemoteAddr(),
	}
	s.life = newLifetime(s.destroy)
	srv.metrics.WebSocketOpened()
	return s
}

// ID returns the session identifier used in logs and captures.
func (s *WebSocketSession) ID() string { return s.id }

// RemoteAddr returns the peer address.
func (s *WebSocketSession) RemoteAddr() string { return s.remote }

// Done is closed once the session has been destroyed.
func (s *WebSocketSession) Done() <-chan struct{} { return s.life.Done() }

// State reports the session state. Reading and writing run concurrently;
// Writing is reported while a write burst is in flight.
func (s *WebSocketSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return StateClosed
	case !s.accepted.Load():
		return StateAccepting
	case s.writing:
		return StateWriting
	default:
		return StateReading
	}
}

// Start completes the WebSocket handshake for req and starts the read
// loop. On handshake failure the peer gets an error response and the
// session closes.
func (s *WebSocketSession) Start(req *http.Request) {
	up := websocket.Upgrader{
		HandshakeTimeout: s.srv.config.WriteTimeout,
		CheckOrigin:      func(*http.Request) bool { return true },
		Error:            upgradeError(s.conn),
	}

	ws, err := up.Upgrade(newHandshakeWriter(s.conn), req, nil)
	if err != nil {
		kind := classify(err)
		var herr websocket.HandshakeError
		if errors.As(err, &herr) {
			kind = KindTransportFailure
		}
		s.terminate(kind, "websocket accept", err)
		return
	}

	s.ws = ws
	ws.SetReadLimit(s.srv.config.MaxMessageSize)
	ws.SetPingHandler(s.onPing)
	ws.SetPongHandler(s.onPong)
	ws.SetCloseHandler(s.onClose)

	// Set before the session is reachable: Send from a broadcast can start
	// a write burst whose failure calls terminate.
	s.alive = newKeepAlive(s.srv.config.PingInterval, s.ping, s.expire)

	s.mu.Lock()
	s.accepted.Store(true)
	s.mu.Unlock()

	s.srv.hub.Join(s)
	logging.Info("WebSocket session accepted",
		zap.String("remote_addr", s.remote),
		zap.String("session_id", s.id),
		zap.String("mode", s.srv.config.WebSocketMode),
	)

	if s.alive != nil && s.life.acquire() {
		s.srv.goAsync(func() {
			defer s.life.release()
			s.alive.run()
		})
	}

	if s.life.acquire() {
		s.srv.goAsync(s.readLoop)
	}
}

// Send enqueues msg and starts a write burst if none is running.
func (s *WebSocketSession) Send(msg Message) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if !s.accepted.Load() {
		s.mu.Unlock()
		return ErrNotAccepted
	}
	s.queue = append(s.queue, msg)
	if s.writing {
		s.mu.Unlock()
		return nil
	}
	if !s.life.acquire() {
		s.queue = nil
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.writing = true
	s.mu.Unlock()

	s.srv.goAsync(s.writeLoop)
	return nil
}

// Queued returns the number of messages waiting to be written, including
// the one in flight.
func (s *WebSocketSession) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close ends the session with a normal close frame.
func (s *WebSocketSession) Close() {
	if s.accepted.Load() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.srv.config.WriteTimeout))
	}
	s.terminate(KindPeerClosed, "websocket close", net.ErrClosed)
}

// Activity marks the peer as alive.
func (s *WebSocketSession) Activity() { s.alive.Activity() }

func (s *WebSocketSession) readLoop() {
	defer s.life.release()

	for {
		mt, data, err := s.ws.ReadMessage()
		if err != nil {
			s.terminate(classify(err), "websocket read", err)
			return
		}
		s.Activity()

		num := int(s.received.Add(1))
		msg := Message{Type: mt, Payload: data}
		s.srv.metrics.Message("in")
		logging.LogWebSocketMessage(s.remote, "received", mt, data)
		s.srv.capture.Record(s.id, s.remote, num, "client->server", msg)

		if s.srv.config.WebSocketMode == config.ModeBroadcast {
			s.srv.hub.Broadcast(msg)
			continue
		}
		if err := s.Send(msg); err != nil {
			// Only fails once the session is closing.
			return
		}
	}
}

// writeLoop drains the queue. queue[0] is the message in flight and is
// only removed after its write completes.
func (s *WebSocketSession) writeLoop() {
	defer s.life.release()

	for {
		s.mu.Lock()
		if s.closed || len(s.queue) == 0 {
			s.writing = false
			s.mu.Unlock()
			return
		}
		msg := s.queue[0]
		s.mu.Unlock()

		_ = s.ws.SetWriteDeadline(time.Now().Add(s.srv.config.WriteTimeout))
		err := s.ws.WriteMessage(msg.Type, msg.Payload)

		s.mu.Lock()
		if len(s.queue) > 0 {
			s.queue[0] = Message{}
			s.queue = s.queue[1:]
		}
		s.mu.Unlock()

		if err != nil {
			s.terminate(classify(err), "websocket write", err)
			return
		}
		s.srv.metrics.Message("out")
		logging.LogWebSocketMessage(s.remote, "sent", msg.Type, msg.Payload)
	}
}

func (s *WebSocketSession) onPing(appData string) error {
	if !s.life.acquire() {
		return nil
	}
	defer s.life.release()
	s.Activity()

	err := s.ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(s.srv.config.WriteTimeout))
	if err == websocket.ErrCloseSent {
		return nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return nil
	}
	return err
}

func (s *WebSocketSession) onPong(string) error {
	s.Activity()
	logging.Debug("Received pong", zap.String("remote_addr", s.remote))
	return nil
}

func (s *WebSocketSession) onClose(code int, text string) error {
	if !s.life.acquire() {
		return nil
	}
	defer s.life.release()

	logging.Debug("Received close frame",
		zap.String("remote_addr", s.remote),
		zap.Int("code", code),
		zap.String("text", text),
	)
	msg := websocket.FormatCloseMessage(code, "")
	_ = s.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.srv.config.WriteTimeout))
	return nil
}

// ping is called by the keepalive timer after one idle interval.
func (s *WebSocketSession) ping() error {
	if !s.life.acquire() {
		return ErrSessionClosed
	}
	defer s.life.release()
	logging.Debug("Sending keepalive ping", zap.String("remote_addr", s.remote))
	return s.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.srv.config.WriteTimeout))
}

// expire ends a session whose peer missed a keepalive ping.
func (s *WebSocketSession) expire() {
	s.terminate(KindCancelledByTimer, "websocket keepalive", ErrIdleTimeout)
}

// terminate moves the session to Closed exactly once: it discards the
// queue, closes the connection so blocked I/O returns, and drops the
// owner reference.
func (s *WebSocketSession) terminate(kind ErrorKind, op string, err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	dropped := len(s.queue)
	s.queue = nil
	s.mu.Unlock()

	if dropped > 0 {
		logging.Debug("Discarded queued messages",
			zap.String("remote_addr", s.remote),
			zap.Int("count", dropped),
		)
	}

	s.alive.Stop()
	_ = s.conn.Close()
	s.srv.finish(kind, op, s.remote, err)
	s.life.close()
}

// destroy runs once when the last reference is released.
func (s *WebSocketSession) destroy() {
	s.srv.hub.Leave(s)
	s.srv.metrics.WebSocketDestroyed()
	logging.Info("WebSocket session destroyed",
		zap.String("remote_addr", s.remote),
		zap.String("session_id", s.id),
		zap.Int64("messages_received", s.received.Load()),
	)
}

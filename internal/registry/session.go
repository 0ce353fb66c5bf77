// Package registry tracks the set of live world WebSocket sessions and
// dispatches outbound frames to them.
package registry

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Session is one authenticated world connection. A Session is safe for
// concurrent use: Send serializes writes, a single reader goroutine (the
// lifecycle controller's inbound pump) calls ReadMessage, and Close may be
// called from either side.
type Session struct {
	ClientID    string
	ConnectedAt time.Time
	RemoteAddr  string
	token       string

	conn *websocket.Conn

	sendMu sync.Mutex

	mu       sync.Mutex
	lastSeen time.Time
	closed   bool
	closeCh  chan struct{}
}

// NewSession wraps an upgraded connection for ClientID, authenticated with
// token.
func NewSession(clientID, token string, conn *websocket.Conn) *Session {
	now := time.Now()
	remoteAddr := ""
	if conn != nil {
		remoteAddr = conn.RemoteAddr().String()
	}
	return &Session{
		ClientID:    clientID,
		ConnectedAt: now,
		RemoteAddr:  remoteAddr,
		token:       token,
		conn:        conn,
		lastSeen:    now,
		closeCh:     make(chan struct{}),
	}
}

// Send writes a single text frame to the world. Safe to call from multiple
// goroutines; gorilla/websocket permits only one writer at a time.
func (s *Session) Send(data []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.mu.Unlock()

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Ping writes a protocol-level ping control frame.
func (s *Session) Ping(deadline time.Time) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline)
}

// Touch records inbound activity (a frame or a pong), resetting the
// inactivity clock the sweep measures against.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// IdleSince reports how long it has been since the last inbound activity.
func (s *Session) IdleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen)
}

// SessionStats is a point-in-time snapshot of a Session, for the /debug
// introspection surface. It carries no lock and is safe to hold onto after
// the Session it was taken from closes.
type SessionStats struct {
	ClientID    string
	ConnectedAt time.Time
	LastSeen    time.Time
	RemoteAddr  string
}

// Stats takes a snapshot of s for /debug introspection.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStats{
		ClientID:    s.ClientID,
		ConnectedAt: s.ConnectedAt,
		LastSeen:    s.lastSeen,
		RemoteAddr:  s.RemoteAddr,
	}
}

// Done returns a channel closed when the session has been closed, so
// dependents (the correlator's per-session waiter index) can react.
func (s *Session) Done() <-chan struct{} {
	return s.closeCh
}

// Close tears down the underlying connection. Close is idempotent: only the
// first caller actually closes the socket and the done channel.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.closeCh)
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// ReadMessage blocks for the next text frame from the world. It is the
// caller's responsibility to run this in a single per-session goroutine;
// gorilla/websocket forbids concurrent readers.
func (s *Session) ReadMessage() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	return data, err
}

// SetReadDeadline forwards to the underlying connection.
func (s *Session) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// SetPongHandler forwards to the underlying connection.
func (s *Session) SetPongHandler(h func(string) error) {
	s.conn.SetPongHandler(h)
}

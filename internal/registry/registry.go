package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// closeCodeSuperseded is the application-range WebSocket close code sent to
// a Session replaced by a newer connection for the same clientId.
const closeCodeSuperseded = 4000

// ErrSessionClosed is returned by operations against a Session that has
// already been closed.
var ErrSessionClosed = errors.New("registry: session closed")

// Registry is the single source of truth for which clientId currently owns
// a live connection. At most one Session may be registered per clientId;
// Add enforces this by superseding (closing) any prior holder.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{sessions: map[string]*Session{}}
}

// Add registers sess under its ClientID. If a session already holds that
// clientId, it is closed and evicted first, so the new connection
// supersedes it atomically from the registry's point of view. A prior
// Session with a connection is sent a close frame with code 4000 and reason
// "superseded" before it is closed. Add returns the superseded Session, or
// nil if there was none.
func (r *Registry) Add(sess *Session) *Session {
	r.mu.Lock()
	prev := r.sessions[sess.ClientID]
	r.sessions[sess.ClientID] = sess
	r.mu.Unlock()

	if prev != nil {
		if prev.conn != nil {
			_ = prev.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(closeCodeSuperseded, "superseded"),
				time.Now().Add(time.Second))
		}
		_ = prev.Close()
	}
	return prev
}

// Get returns the live Session for clientId, if any.
func (r *Registry) Get(clientID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[clientID]
	return sess, ok
}

// Remove drops clientId from the registry if sess is still the registered
// holder. It is a no-op if clientId was already removed or superseded by a
// different Session, making Remove idempotent and safe to call from both
// the lifecycle controller's close supervisor and the sweep.
func (r *Registry) Remove(sess *Session) {
	r.mu.Lock()
	if cur, ok := r.sessions[sess.ClientID]; ok && cur == sess {
		delete(r.sessions, sess.ClientID)
	}
	r.mu.Unlock()
}

// Len reports the number of live sessions, used for the sessions_active
// gauge.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns a SessionStats for every currently registered session,
// for the /debug/sessions introspection endpoint.
func (r *Registry) Snapshot() []SessionStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := make([]SessionStats, 0, len(r.sessions))
	for _, sess := range r.sessions {
		stats = append(stats, sess.Stats())
	}
	return stats
}

// CloseAll closes and evicts every registered session, for graceful
// shutdown. Each Session's Done channel fires as usual, so any supervisor
// goroutine waiting on it (e.g. to fail that session's pending waiters)
// still runs.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.sessions = map[string]*Session{}
	r.mu.Unlock()

	for _, sess := range sessions {
		_ = sess.Close()
	}
}

// SweepInactive closes and evicts every session idle for longer than
// maxIdle, returning the clientIds it evicted.
func (r *Registry) SweepInactive(maxIdle time.Duration) []string {
	now := time.Now()

	r.mu.RLock()
	candidates := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		candidates = append(candidates, sess)
	}
	r.mu.RUnlock()

	var evicted []string
	for _, sess := range candidates {
		if sess.IdleSince(now) <= maxIdle {
			continue
		}
		r.Remove(sess)
		_ = sess.Close()
		evicted = append(evicted, sess.ClientID)
	}
	return evicted
}

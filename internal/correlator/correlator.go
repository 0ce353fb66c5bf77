// Package correlator matches HTTP requests dispatched onto a world's
// WebSocket session to the asynchronous reply that eventually arrives on
// that same connection, per spec.md §4.3/§5.
package correlator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// ErrTimeout is returned by Await when T_request elapses before a reply
// arrives.
var ErrTimeout = errors.New("correlator: request timed out")

// ErrCancelled is returned by Await when the caller's context is done
// before a reply arrives.
var ErrCancelled = errors.New("correlator: request cancelled")

// ErrSessionLost is the failure reason used when a session is superseded
// or evicted while requests are still outstanding on it.
var ErrSessionLost = errors.New("correlator: session lost")

// Result is what a dispatched request eventually resolves to: either a
// decoded success payload, a world-reported error with its suggestion, or
// (SessionLost set) no reply at all because the session it was sent on was
// superseded or evicted before the world could answer.
type Result struct {
	Payload     json.RawMessage
	Err         string
	Suggestion  string
	SessionLost bool
}

type waiter struct {
	sessionID string
	ch        chan Result
}

// Table is the pending-request registry. One Table is shared by every
// in-flight HTTP request the broker is dispatching.
type Table struct {
	mu        sync.Mutex
	pending   map[string]*waiter
	bySession map[string]map[string]struct{}
}

// New returns an empty Table.
func New() *Table {
	return &Table{
		pending:   map[string]*waiter{},
		bySession: map[string]map[string]struct{}{},
	}
}

// Register mints a waiter for requestID, associated with sessionID so a
// later FailSession can find it. It must be called before the request is
// written to the world, to close the race between write and reply.
func (t *Table) Register(requestID, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pending[requestID] = &waiter{sessionID: sessionID, ch: make(chan Result, 1)}
	set, ok := t.bySession[sessionID]
	if !ok {
		set = map[string]struct{}{}
		t.bySession[sessionID] = set
	}
	set[requestID] = struct{}{}
}

// Complete delivers a reply to the waiter registered for requestID. It is
// a no-op if requestID is unknown (already timed out, cancelled, or
// delivered twice).
func (t *Table) Complete(requestID string, result Result) {
	t.mu.Lock()
	w := t.take(requestID)
	t.mu.Unlock()
	if w == nil {
		return
	}
	w.ch <- result
}

// FailSession fails every request still outstanding on sessionID with
// ErrSessionLost instead of leaving them to time out. Called when the
// registry supersedes or evicts a session.
func (t *Table) FailSession(sessionID string) {
	t.mu.Lock()
	ids := t.bySession[sessionID]
	requestIDs := make([]string, 0, len(ids))
	for id := range ids {
		requestIDs = append(requestIDs, id)
	}
	waiters := make([]*waiter, 0, len(requestIDs))
	for _, id := range requestIDs {
		if w := t.take(id); w != nil {
			waiters = append(waiters, w)
		}
	}
	t.mu.Unlock()

	for _, w := range waiters {
		w.ch <- Result{SessionLost: true}
	}
}

// take removes and returns the waiter for requestID, from both indexes.
// Callers must hold t.mu.
func (t *Table) take(requestID string) *waiter {
	w, ok := t.pending[requestID]
	if !ok {
		return nil
	}
	delete(t.pending, requestID)
	if set := t.bySession[w.sessionID]; set != nil {
		delete(set, requestID)
		if len(set) == 0 {
			delete(t.bySession, w.sessionID)
		}
	}
	return w
}

// Await blocks until requestID resolves, ctx is cancelled, or the caller's
// timeout context deadline passes. On timeout or cancellation the waiter is
// evicted so a late reply is silently dropped rather than leaked.
func (t *Table) Await(ctx context.Context, requestID string) (Result, error) {
	t.mu.Lock()
	w, ok := t.pending[requestID]
	t.mu.Unlock()
	if !ok {
		return Result{}, errors.New("correlator: unknown requestId")
	}

	select {
	case result := <-w.ch:
		return result, nil
	case <-ctx.Done():
		t.mu.Lock()
		t.take(requestID)
		t.mu.Unlock()

		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, ErrTimeout
		}
		return Result{}, ErrCancelled
	}
}

// Pending reports how many requests are outstanding, for diagnostics.
func (t *Table) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Shutdown fails every still-outstanding waiter with ErrCancelled, draining
// the table. Called once during graceful process shutdown so no dispatch
// goroutine blocks past the server's own teardown deadline.
func (t *Table) Shutdown() {
	t.mu.Lock()
	waiters := make([]*waiter, 0, len(t.pending))
	for id := range t.pending {
		waiters = append(waiters, t.take(id))
	}
	t.mu.Unlock()

	for _, w := range waiters {
		if w != nil {
			w.ch <- Result{Err: ErrCancelled.Error()}
		}
	}
}

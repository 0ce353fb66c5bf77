package registry

import (
	"testing"
	"time"
)

func newTestSession(clientID string, idleFor time.Duration) *Session {
	return &Session{
		ClientID: clientID,
		lastSeen: time.Now().Add(-idleFor),
		closeCh:  make(chan struct{}),
	}
}

func TestAddSupersedesExisting(t *testing.T) {
	r := New()
	first := newTestSession("W1", 0)
	second := newTestSession("W1", 0)

	if prev := r.Add(first); prev != nil {
		t.Fatalf("expected no prior session, got %v", prev)
	}
	prev := r.Add(second)
	if prev != first {
		t.Fatal("expected Add to return the superseded session")
	}

	select {
	case <-first.Done():
	default:
		t.Fatal("superseded session should be closed")
	}

	got, ok := r.Get("W1")
	if !ok || got != second {
		t.Fatal("registry should hold the new session under the clientId")
	}
}

func TestRemoveIsIdempotentAndScoped(t *testing.T) {
	r := New()
	first := newTestSession("W1", 0)
	second := newTestSession("W1", 0)

	r.Add(first)
	r.Add(second)

	// Removing the superseded session must not evict the current holder.
	r.Remove(first)
	if _, ok := r.Get("W1"); !ok {
		t.Fatal("removing a stale session must not evict the live one")
	}

	r.Remove(second)
	r.Remove(second)
	if _, ok := r.Get("W1"); ok {
		t.Fatal("expected session to be removed")
	}
}

func TestSweepInactiveEvictsOnlyStale(t *testing.T) {
	r := New()
	stale := newTestSession("Stale", time.Minute)
	fresh := newTestSession("Fresh", 0)
	r.Add(stale)
	r.Add(fresh)

	evicted := r.SweepInactive(10 * time.Second)
	if len(evicted) != 1 || evicted[0] != "Stale" {
		t.Fatalf("expected only Stale to be evicted, got %v", evicted)
	}
	if _, ok := r.Get("Stale"); ok {
		t.Fatal("stale session should have been removed")
	}
	if _, ok := r.Get("Fresh"); !ok {
		t.Fatal("fresh session should remain")
	}
}

func TestSnapshotReturnsStatsForEverySession(t *testing.T) {
	r := New()
	r.Add(newTestSession("A", 0))
	r.Add(newTestSession("B", time.Minute))

	stats := r.Snapshot()
	if len(stats) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(stats))
	}
	byClient := map[string]SessionStats{}
	for _, s := range stats {
		byClient[s.ClientID] = s
	}
	if _, ok := byClient["A"]; !ok {
		t.Fatal("expected a snapshot entry for A")
	}
	if _, ok := byClient["B"]; !ok {
		t.Fatal("expected a snapshot entry for B")
	}
}

func TestLen(t *testing.T) {
	r := New()
	r.Add(newTestSession("A", 0))
	r.Add(newTestSession("B", 0))
	if r.Len() != 2 {
		t.Fatalf("expected 2 sessions, got %d", r.Len())
	}
}

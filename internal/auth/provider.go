// Package auth is the broker's credential and quota adapter: it validates a
// world's headless-session handshake and checks an API key's daily quota
// before a REST dispatch is allowed through. Neither the schema it reads nor
// the store behind it is owned by the dispatcher or controller — this
// package only defines and implements the narrow contract they call
// through.
package auth

import (
	"sync"
	"time"
)

// CredentialRecord is one API key's quota/identity row. Only the provider
// implementations below mutate it.
type CredentialRecord struct {
	APIKey          string
	UserID          string
	RequestsToday   int
	DailyQuota      int
	LastRequestDate string
}

// IdentityVerifier validates a world's WebSocket handshake credentials.
type IdentityVerifier interface {
	ValidateHeadlessSession(id, token string) bool
}

// QuotaStore checks and atomically consumes one unit of an API key's daily
// request quota.
type QuotaStore interface {
	CheckAndConsumeQuota(apiKey string) (bool, error)
}

// CredentialProvider is the full adapter the broker's HTTP layer and
// WebSocket handshake depend on. Embedding the two narrower interfaces
// lets any IdentityVerifier/QuotaStore pair satisfy it by composition,
// e.g. Provider{JWTProvider{...}, RedisQuotaStore{...}}.
type CredentialProvider interface {
	IdentityVerifier
	QuotaStore
}

// Provider composes an IdentityVerifier and a QuotaStore into one
// CredentialProvider.
type Provider struct {
	IdentityVerifier
	QuotaStore
}

// MemoryProvider is an in-memory CredentialProvider, sufficient for tests
// and single-process deployments.
type MemoryProvider struct {
	mu          sync.Mutex
	sessions    map[string]string // world id -> token
	credentials map[string]*CredentialRecord
	now         func() time.Time
}

// NewMemoryProvider returns an empty MemoryProvider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		sessions:    map[string]string{},
		credentials: map[string]*CredentialRecord{},
		now:         time.Now,
	}
}

// RegisterSession authorizes id to connect with token. Call this when a
// world is provisioned.
func (p *MemoryProvider) RegisterSession(id, token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[id] = token
}

// ValidateHeadlessSession reports whether token matches the token
// registered for id.
func (p *MemoryProvider) ValidateHeadlessSession(id, token string) bool {
	if id == "" || token == "" {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	want, ok := p.sessions[id]
	return ok && want == token
}

// RegisterAPIKey installs a quota record for apiKey, overwriting any prior
// record for the same key.
func (p *MemoryProvider) RegisterAPIKey(rec CredentialRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := rec
	p.credentials[rec.APIKey] = &cp
}

// CheckAndConsumeQuota reports whether apiKey has remaining daily quota,
// consuming one unit if so. Unknown keys are rejected. The per-day counter
// also resets lazily here when LastRequestDate rolls over, independent of
// any bulk reset job run against this store.
func (p *MemoryProvider) CheckAndConsumeQuota(apiKey string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.credentials[apiKey]
	if !ok {
		return false, nil
	}
	today := p.now().UTC().Format("2006-01-02")
	if rec.LastRequestDate != today {
		rec.RequestsToday = 0
		rec.LastRequestDate = today
	}
	if rec.RequestsToday >= rec.DailyQuota {
		return false, nil
	}
	rec.RequestsToday++
	return true, nil
}

// ResetAllDaily zeroes every tracked key's RequestsToday, in the shape the
// distributed daily-reset job (reset.go) expects to call against whatever
// credential store backs a deployment.
func (p *MemoryProvider) ResetAllDaily() {
	p.mu.Lock()
	defer p.mu.Unlock()
	today := p.now().UTC().Format("2006-01-02")
	for _, rec := range p.credentials {
		rec.RequestsToday = 0
		rec.LastRequestDate = today
	}
}

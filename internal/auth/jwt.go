package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// sessionClaims is the JWT payload a world's handshake token carries,
// grounded in stahp-god-Scale-MMO-butt/token-issuer's Claims shape
// (AccountID/RealmID) and louisbranch-fracturing.space's join-grant claims
// (issuer check, explicit clock), generalized to this broker's identity: a
// world's clientId rather than an account or a campaign.
type sessionClaims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// JWTProvider validates the WebSocket handshake token as a JWT signed by a
// configured HMAC key, in the manner of stahp-god's token-issuer, with the
// issuer check and explicit clock louisbranch's join-grant verifier adds.
type JWTProvider struct {
	key    []byte
	issuer string
	now    func() time.Time
}

// NewJWTProvider returns a JWTProvider verifying HS256 tokens signed with
// key. issuer, if non-empty, must match the token's "iss" claim.
func NewJWTProvider(key []byte, issuer string) *JWTProvider {
	return &JWTProvider{key: key, issuer: issuer, now: time.Now}
}

// ValidateHeadlessSession parses token as a JWT and checks that it is
// unexpired, signed with the configured key, and (if configured) issued by
// the expected issuer, and that its client_id claim matches id.
func (p *JWTProvider) ValidateHeadlessSession(id, token string) bool {
	if id == "" || token == "" {
		return false
	}

	var claims sessionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return p.key, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return false
	}

	if p.issuer != "" && claims.Issuer != p.issuer {
		return false
	}
	if claims.ClientID == "" || claims.ClientID != id {
		return false
	}

	now := p.now().UTC()
	if claims.ExpiresAt != nil && !claims.ExpiresAt.Time.UTC().After(now) {
		return false
	}
	return true
}

// IssueSessionToken mints a signed handshake token for clientID, valid for
// ttl. Exercised by tests and by an operator-facing provisioning path; the
// broker itself only verifies, it never issues.
func (p *JWTProvider) IssueSessionToken(clientID string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(clientID) == "" {
		return "", errors.New("auth: clientID is required")
	}
	now := p.now()
	claims := sessionClaims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.key)
}

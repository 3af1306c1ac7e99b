package security

import "time"

// Fixed secrets for unit tests only. Do not use in production.
const (
	testAccessSecret  = "test-access-secret-0123456789abcdef"
	testRefreshSecret = "test-refresh-secret-0123456789abcdef"
)

// NewTestTokenProvider returns a TokenProvider with fixed test secrets, a 15m access
// TTL and a 24h refresh TTL. For unit tests only.
func NewTestTokenProvider() *TokenProvider {
	return NewTokenProvider(testAccessSecret, testRefreshSecret, "test-issuer", "test-audience", 15*time.Minute, 24*time.Hour)
}

// WithClock returns a copy of p that reads time from now. For unit tests only.
func (p *TokenProvider) WithClock(now func() time.Time) *TokenProvider {
	cp := *p
	cp.now = now
	return &cp
}

// NewTestSecretBox returns a SecretBox with a cheap scrypt cost. For unit tests only.
func NewTestSecretBox(masterKey string) *SecretBox {
	return &SecretBox{masterKey: []byte(masterKey), n: 1 << 4}
}

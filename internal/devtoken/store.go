// Package devtoken holds issued password-reset tokens in memory so they can be read back
// through GET /v1/dev/reset-token when DEV_RESET_TOKENS is set outside production.
package devtoken

import (
	"context"
	"sync"
	"time"

	userdomain "msp-identity-core/internal/user/domain"
)

// Store keeps the latest reset token per email. Not used in production.
type Store interface {
	// Put records token for email until expiresAt, replacing any earlier token.
	Put(ctx context.Context, email, token string, expiresAt time.Time)
	// Get returns the token for email if present and not expired.
	Get(ctx context.Context, email string) (token string, ok bool)
}

type entry struct {
	token     string
	expiresAt time.Time
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu   sync.RWMutex
	m    map[string]entry
	nowF func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[string]entry),
		nowF: time.Now,
	}
}

func (s *MemoryStore) Put(_ context.Context, email, token string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[userdomain.NormalizeEmail(email)] = entry{token: token, expiresAt: expiresAt}
}

func (s *MemoryStore) Get(_ context.Context, email string) (string, bool) {
	key := userdomain.NormalizeEmail(email)
	s.mu.RLock()
	e, ok := s.m[key]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !e.expiresAt.After(s.nowF()) {
		s.mu.Lock()
		if cur, ok := s.m[key]; ok && cur == e {
			delete(s.m, key)
		}
		s.mu.Unlock()
		return "", false
	}
	return e.token, true
}

// Package sessiontest provides an in-memory session store for tests.
package sessiontest

import (
	"context"
	"sync"
	"time"

	"msp-identity-core/internal/session/domain"
	"msp-identity-core/internal/session/repository"
)

var _ repository.Repository = (*Repo)(nil)

// Repo is an in-memory session store. Rotate holds the lock for the whole
// check-and-insert, like the row lock the Postgres transaction takes.
type Repo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	subjects map[string]domain.Subject
	lookups  int
}

// NewRepo returns an empty store.
func NewRepo() *Repo {
	return &Repo{sessions: map[string]*domain.Session{}, subjects: map[string]domain.Subject{}}
}

// SetSubject makes userID resolvable by LoadSubject (an active user in an active org).
func (m *Repo) SetSubject(s domain.Subject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects[s.UserID] = s
}

// DropSubject makes LoadSubject return nil for userID, as for a deactivated user.
func (m *Repo) DropSubject(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subjects, userID)
}

// HashLookups counts GetByAccessHash and GetByRefreshHash calls.
func (m *Repo) HashLookups() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookups
}

func (m *Repo) Create(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *Repo) GetByID(_ context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (m *Repo) find(match func(*domain.Session) bool) *domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	for _, s := range m.sessions {
		if match(s) {
			cp := *s
			return &cp
		}
	}
	return nil
}

func (m *Repo) GetByAccessHash(_ context.Context, hash string) (*domain.Session, error) {
	return m.find(func(s *domain.Session) bool { return s.AccessTokenHash == hash }), nil
}

func (m *Repo) GetByRefreshHash(_ context.Context, hash string) (*domain.Session, error) {
	return m.find(func(s *domain.Session) bool { return s.RefreshTokenHash == hash }), nil
}

func (m *Repo) ListActiveByUser(_ context.Context, userID string, now time.Time) ([]*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Session
	for _, s := range m.sessions {
		if s.UserID == userID && s.ActiveAt(now) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Repo) revokeLocked(id, reason string, at time.Time) bool {
	s, ok := m.sessions[id]
	if !ok || s.Status != domain.StatusActive {
		return false
	}
	s.Status = domain.StatusRevoked
	s.RevokeReason = reason
	s.RevokedAt = &at
	return true
}

func (m *Repo) Revoke(_ context.Context, id, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revokeLocked(id, reason, at), nil
}

func (m *Repo) RevokeAllByUser(_ context.Context, userID, reason string, at time.Time) ([]*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Session
	for id, s := range m.sessions {
		if s.UserID == userID && m.revokeLocked(id, reason, at) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Repo) Rotate(_ context.Context, oldID string, next *domain.Session, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.revokeLocked(oldID, domain.ReasonTokenRefresh, at) {
		return repository.ErrNotActive
	}
	cp := *next
	m.sessions[next.ID] = &cp
	return nil
}

func (m *Repo) ExpireStale(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.sessions {
		if s.Status == domain.StatusActive && !s.ExpiresAt.After(now) {
			s.Status = domain.StatusExpired
			n++
		}
	}
	return n, nil
}

func (m *Repo) LoadSubject(_ context.Context, userID string) (*domain.Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.subjects[userID]; ok {
		return &s, nil
	}
	return nil, nil
}

package repository

import (
	"context"
	"errors"
	"time"

	"msp-identity-core/internal/session/domain"
)

// ErrNotActive is returned by Rotate when the old session was no longer active.
var ErrNotActive = errors.New("session not active")

// Repository defines persistence for sessions.
type Repository interface {
	Create(ctx context.Context, s *domain.Session) error
	// GetByID, GetByAccessHash and GetByRefreshHash return nil when no row matches.
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	GetByAccessHash(ctx context.Context, hash string) (*domain.Session, error)
	GetByRefreshHash(ctx context.Context, hash string) (*domain.Session, error)
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error)
	// Revoke flips an active row to revoked. It reports false when the row was not active.
	Revoke(ctx context.Context, id, reason string, at time.Time) (bool, error)
	// RevokeAllByUser revokes every active row of userID and returns the rows it changed.
	RevokeAllByUser(ctx context.Context, userID, reason string, at time.Time) ([]*domain.Session, error)
	// Rotate revokes oldID with reason token_refresh and inserts next in one transaction.
	// It fails with ErrNotActive, inserting nothing, when oldID was already revoked.
	Rotate(ctx context.Context, oldID string, next *domain.Session, at time.Time) error
	// ExpireStale marks active rows past their expiry as expired.
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
	// LoadSubject re-derives the token identity of an active user in an active org; nil otherwise.
	LoadSubject(ctx context.Context, userID string) (*domain.Subject, error)
}

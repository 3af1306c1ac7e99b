package repository

import (
	"context"
	"errors"
	"time"

	"msp-identity-core/internal/access/domain"
)

var (
	// ErrActiveExists is returned by Create when the pair already has an active grant.
	ErrActiveExists = errors.New("active grant already exists")
	// ErrNotActive is returned by Update and Revoke when the grant is no longer active.
	ErrNotActive = errors.New("grant is not active")
)

// Repository defines persistence for technician grants.
type Repository interface {
	Create(ctx context.Context, g *domain.Grant) error
	GetByID(ctx context.Context, id string) (*domain.Grant, error)
	// GetActive returns the active grant for the pair, or nil.
	GetActive(ctx context.Context, technicianID, customerOrgID string) (*domain.Grant, error)
	ListActive(ctx context.Context) ([]*domain.Grant, error)
	ListByTechnician(ctx context.Context, technicianID string, activeOnly bool) ([]*domain.Grant, error)
	ListByCustomer(ctx context.Context, customerOrgID string, activeOnly bool) ([]*domain.Grant, error)
	// LockActiveByTechnician returns the technician's active grants, locking the rows
	// when called inside InTx.
	LockActiveByTechnician(ctx context.Context, technicianID string) ([]*domain.Grant, error)
	// Update writes the mutable fields of an active grant.
	Update(ctx context.Context, g *domain.Grant) error
	Revoke(ctx context.Context, id, revokedBy, reason string, at time.Time) error
	// ExpireStale marks active grants past expires_at as expired and returns them.
	ExpireStale(ctx context.Context, now time.Time) ([]*domain.Grant, error)
	// InTx runs fn against a repository bound to one transaction.
	InTx(ctx context.Context, fn func(Repository) error) error
}

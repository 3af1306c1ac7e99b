package repository

import (
	"context"
	"time"

	"msp-identity-core/internal/audit/domain"
)

// Writer is the single write path for audit entries.
type Writer interface {
	Create(ctx context.Context, e *domain.Entry) error
}

// Reader serves queries and aggregates over audit entries.
type Reader interface {
	// Query returns one page ordered by created_at DESC, id DESC and the total match count.
	Query(ctx context.Context, f domain.Filter) ([]*domain.Entry, int64, error)
	Stats(ctx context.Context, scope domain.Scope, since time.Time) (*domain.Stats, error)
	CountActions(ctx context.Context, scope domain.Scope, actions []string) (int64, error)
	ListActions(ctx context.Context, scope domain.Scope, actions []string, limit int) ([]*domain.Entry, error)
}

// Repository is the full audit store.
type Repository interface {
	Writer
	Reader
	// DeleteNonCompliantBefore removes entries with compliance_relevant = false created before cutoff.
	DeleteNonCompliantBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

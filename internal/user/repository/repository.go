package repository

import (
	"context"
	"time"

	"msp-identity-core/internal/user/domain"
)

// Repository defines persistence for users.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	// ListTechnicians returns active provider users whose role may hold customer grants.
	ListTechnicians(ctx context.Context) ([]*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	Update(ctx context.Context, u *domain.User) error
	RecordLogin(ctx context.Context, id string, at time.Time) error
}

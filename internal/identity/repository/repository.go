package repository

import (
	"context"

	"msp-identity-core/internal/identity/domain"
)

// Repository reads login accounts: a user joined with its owning organization.
type Repository interface {
	GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error)
	GetAccountByUserID(ctx context.Context, userID string) (*domain.Account, error)
}

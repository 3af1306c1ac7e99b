package repository

import (
	"context"
	"errors"
	"time"

	"msp-identity-core/internal/mfa/domain"
)

// ErrStateConflict is returned when a transition does not apply to the user's current MFA state.
var ErrStateConflict = errors.New("mfa state changed")

// Repository defines persistence for the MFA columns of users.
type Repository interface {
	// GetState returns the user's MFA state, or nil if the user does not exist.
	GetState(ctx context.Context, userID string) (*domain.State, error)
	// SaveEnrollment stores a new sealed secret and backup-code hashes and moves the user to
	// pending. Fails with ErrStateConflict when MFA is already enabled.
	SaveEnrollment(ctx context.Context, userID, secretEnc string, codeHashes []string, at time.Time) error
	// Enable moves a pending enrollment to enabled.
	Enable(ctx context.Context, userID string, at time.Time) error
	// Disable clears the secret and backup codes of a pending or enabled user.
	Disable(ctx context.Context, userID string, at time.Time) error
	// ReplaceBackupCodes swaps the whole set for an enabled user.
	ReplaceBackupCodes(ctx context.Context, userID string, codeHashes []string, at time.Time) error
	// ConsumeBackupCode removes hash from the set in one statement. ok is false when the
	// hash was not present (already used or never issued).
	ConsumeBackupCode(ctx context.Context, userID, hash string) (remaining int, ok bool, err error)
}

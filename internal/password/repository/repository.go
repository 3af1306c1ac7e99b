package repository

import (
	"context"
	"errors"
	"time"

	"msp-identity-core/internal/password/domain"
)

var (
	// ErrUserNotFound is returned when the user row addressed by a write does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrTokenConsumed is returned by RedeemResetToken when the token was used concurrently.
	ErrTokenConsumed = errors.New("reset token already used")
)

// Repository defines persistence for credentials, reuse history, reset tokens and lockout counters.
type Repository interface {
	// RetiredHashes returns up to n previous password hashes for userID, newest first.
	RetiredHashes(ctx context.Context, userID string, n int) ([]string, error)
	// SetPassword retires the current hash into history, stores hash, clears the lockout
	// counters and trims history to keep entries, atomically.
	SetPassword(ctx context.Context, userID, hash string, keep int, at time.Time) error
	// SaveResetToken stores t, replacing any earlier token of the same user.
	SaveResetToken(ctx context.Context, t *domain.ResetToken) error
	// GetResetToken returns the token with tokenHash, or nil if not found.
	GetResetToken(ctx context.Context, tokenHash string) (*domain.ResetToken, error)
	// RedeemResetToken marks the token used and sets the password in one transaction.
	// Returns ErrTokenConsumed if the token was already used.
	RedeemResetToken(ctx context.Context, tokenID, userID, hash string, keep int, at time.Time) error
	// DeleteExpiredResetTokens removes tokens that expired before cutoff.
	DeleteExpiredResetTokens(ctx context.Context, cutoff time.Time) (int64, error)
	// RecordFailedLogin applies one failed login under a row lock.
	RecordFailedLogin(ctx context.Context, userID string, p domain.LockoutPolicy, at time.Time) (domain.Outcome, error)
	// ResetFailedAttempts clears the counter and any lock.
	ResetFailedAttempts(ctx context.Context, userID string) error
}

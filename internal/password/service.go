// Package password implements credential governance: policy validation, change and reset
// flows, reuse history and failed-login lockout.
package password

import (
	"context"
	"errors"
	"log"
	"time"

	"msp-identity-core/internal/apperr"
	"msp-identity-core/internal/audit"
	"msp-identity-core/internal/password/domain"
	"msp-identity-core/internal/password/repository"
	"msp-identity-core/internal/security"
	userdomain "msp-identity-core/internal/user/domain"
)

const resetTokenBytes = 32

// ErrResetTokenInvalid covers unknown, used and expired reset tokens alike.
var ErrResetTokenInvalid = apperr.New(apperr.KindNotFound, "reset token is invalid or expired")

// ErrPasswordReused is returned when a new password falls inside the reuse window.
var ErrPasswordReused = apperr.Invalid("password was used recently")

// UserRepo is the minimal user repository needed by the password service.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
}

// Limiter bounds reset requests per subject.
type Limiter interface {
	Allow(ctx context.Context, subject string) (bool, error)
}

// ResetTokenSink receives freshly issued reset tokens for out-of-band delivery.
type ResetTokenSink interface {
	Put(ctx context.Context, email, token string, expiresAt time.Time)
}

// SessionRevoker ends a user's sessions after a reset.
type SessionRevoker interface {
	RevokeAll(ctx context.Context, userID, reason string) (int, error)
}

// Config carries the policy knobs of the service.
type Config struct {
	Policy   domain.Policy
	Lockout  domain.LockoutPolicy
	ResetTTL time.Duration
	// ResponseFloor is the minimum duration of GenerateResetToken, so known and unknown
	// emails take the same time.
	ResponseFloor time.Duration
}

// Service implements password governance.
type Service struct {
	users   UserRepo
	repo    repository.Repository
	hasher  *security.Hasher
	limiter Limiter
	audit   *audit.Service
	cfg     Config
	sink    ResetTokenSink
	revoker SessionRevoker
	now     func() time.Time
}

// NewService returns a password Service.
func NewService(users UserRepo, repo repository.Repository, hasher *security.Hasher, limiter Limiter, auditor *audit.Service, cfg Config) *Service {
	return &Service{
		users:   users,
		repo:    repo,
		hasher:  hasher,
		limiter: limiter,
		audit:   auditor,
		cfg:     cfg,
		now:     time.Now,
	}
}

// SetResetTokenSink registers where issued reset tokens are delivered.
func (s *Service) SetResetTokenSink(sink ResetTokenSink) { s.sink = sink }

// SetSessionRevoker registers the session service used to end sessions after a reset.
func (s *Service) SetSessionRevoker(r SessionRevoker) { s.revoker = r }

// Policy returns the configured password policy.
func (s *Service) Policy() domain.Policy { return s.cfg.Policy }

// Validate scores pw against the configured policy.
func (s *Service) Validate(pw string) domain.Result {
	return s.cfg.Policy.Validate(pw)
}

// Expired reports whether u's password has outlived the policy's maximum age.
func (s *Service) Expired(u *userdomain.User) bool {
	return s.cfg.Policy.Expired(u.PasswordChangedAt, s.now())
}

// Change replaces userID's password after re-verifying current.
func (s *Service) Change(ctx context.Context, userID, current, next string) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return apperr.Transient("user store", err)
	}
	if u == nil || !u.IsActive() {
		return apperr.NotFound("user")
	}
	if !s.hasher.Matches(u.PasswordHash, current) {
		return apperr.ErrInvalidCredential
	}
	hash, err := s.admit(ctx, u, next)
	if err != nil {
		return err
	}
	if err := s.repo.SetPassword(ctx, u.ID, hash, s.retiredWindow(), s.now().UTC()); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return apperr.NotFound("user")
		}
		return apperr.Wrap(apperr.KindTransactionFailure, "password change failed", err)
	}
	s.audit.PasswordChanged(ctx, u.ID)
	return nil
}

// admit validates next against the policy and reuse window and returns its hash.
func (s *Service) admit(ctx context.Context, u *userdomain.User, next string) (string, error) {
	if res := s.cfg.Policy.Validate(next); !res.Valid {
		return "", apperr.Invalid(res.Errors...)
	}
	reused, err := s.reused(ctx, u, next)
	if err != nil {
		return "", err
	}
	if reused {
		return "", ErrPasswordReused
	}
	hash, err := s.hasher.Hash(next)
	if err != nil {
		return "", err
	}
	return hash, nil
}

func (s *Service) retiredWindow() int {
	return max(s.cfg.Policy.HistorySize-1, 0)
}

// reused reports whether pw matches the current hash or one of the retired hashes in the window.
func (s *Service) reused(ctx context.Context, u *userdomain.User, pw string) (bool, error) {
	if s.cfg.Policy.HistorySize <= 0 {
		return false, nil
	}
	if s.hasher.Matches(u.PasswordHash, pw) {
		return true, nil
	}
	retired, err := s.repo.RetiredHashes(ctx, u.ID, s.retiredWindow())
	if err != nil {
		return false, apperr.Transient("password history", err)
	}
	for _, h := range retired {
		if s.hasher.Matches(h, pw) {
			return true, nil
		}
	}
	return false, nil
}

// GenerateResetToken issues a reset token for email. It returns "" with a nil error for
// unknown, inactive and rate-limited addresses alike; callers must not surface the token.
func (s *Service) GenerateResetToken(ctx context.Context, email string) (string, error) {
	start := s.now()
	defer s.pad(ctx, start)

	email = userdomain.NormalizeEmail(email)
	if email == "" {
		return "", nil
	}
	ok, err := s.limiter.Allow(ctx, email)
	if err != nil {
		return "", apperr.Transient("rate limiter", err)
	}
	if !ok {
		log.Printf("password: reset rate limit reached")
		return "", nil
	}
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return "", apperr.Transient("user store", err)
	}
	token, err := security.RandomToken(resetTokenBytes)
	if err != nil {
		return "", err
	}
	if u == nil || !u.IsActive() {
		return "", nil
	}
	now := s.now().UTC()
	t := &domain.ResetToken{
		UserID:    u.ID,
		TokenHash: security.HashToken(token),
		ExpiresAt: now.Add(s.cfg.ResetTTL),
		CreatedAt: now,
	}
	if err := s.repo.SaveResetToken(ctx, t); err != nil {
		return "", apperr.Transient("reset token store", err)
	}
	s.audit.PasswordResetRequested(ctx, u.ID)
	if s.sink != nil {
		s.sink.Put(ctx, email, token, t.ExpiresAt)
	}
	return token, nil
}

func (s *Service) pad(ctx context.Context, start time.Time) {
	wait := s.cfg.ResponseFloor - s.now().Sub(start)
	if wait <= 0 {
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// ResetPassword redeems token and sets next as the password. The token is consumed and
// the credential replaced in one transaction.
func (s *Service) ResetPassword(ctx context.Context, token, next string) error {
	if token == "" {
		return ErrResetTokenInvalid
	}
	now := s.now().UTC()
	t, err := s.repo.GetResetToken(ctx, security.HashToken(token))
	if err != nil {
		return apperr.Transient("reset token store", err)
	}
	if t == nil || !t.Redeemable(now) {
		return ErrResetTokenInvalid
	}
	u, err := s.users.GetByID(ctx, t.UserID)
	if err != nil {
		return apperr.Transient("user store", err)
	}
	if u == nil || !u.IsActive() {
		return ErrResetTokenInvalid
	}
	hash, err := s.admit(ctx, u, next)
	if err != nil {
		return err
	}
	if err := s.repo.RedeemResetToken(ctx, t.ID, u.ID, hash, s.retiredWindow(), now); err != nil {
		if errors.Is(err, repository.ErrTokenConsumed) || errors.Is(err, repository.ErrUserNotFound) {
			return ErrResetTokenInvalid
		}
		return apperr.Wrap(apperr.KindTransactionFailure, "password reset failed", err)
	}
	s.audit.PasswordResetCompleted(ctx, u.ID)
	if s.revoker != nil {
		if _, err := s.revoker.RevokeAll(ctx, u.ID, "password_reset"); err != nil {
			log.Printf("password: revoke sessions after reset for %s: %v", u.ID, err)
		}
	}
	return nil
}

// HandleFailedLogin counts one failed login for userID and locks the account once the
// threshold is reached. The count and the lock are applied under one row lock.
func (s *Service) HandleFailedLogin(ctx context.Context, userID string) (domain.Outcome, error) {
	out, err := s.repo.RecordFailedLogin(ctx, userID, s.cfg.Lockout, s.now().UTC())
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return domain.Outcome{}, apperr.NotFound("user")
		}
		return domain.Outcome{}, apperr.Transient("lockout store", err)
	}
	if out.JustLocked {
		s.audit.AccountLocked(ctx, userID, *out.LockedUntil)
	}
	return out, nil
}

// ResetFailedAttempts clears the failed-login counter after a successful authentication.
func (s *Service) ResetFailedAttempts(ctx context.Context, userID string) error {
	if err := s.repo.ResetFailedAttempts(ctx, userID); err != nil {
		return apperr.Transient("lockout store", err)
	}
	return nil
}

// CleanupExpiredTokens deletes reset tokens past their expiry.
func (s *Service) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpiredResetTokens(ctx, s.now().UTC())
	if err != nil {
		return 0, apperr.Transient("reset token store", err)
	}
	return n, nil
}

// Package mfa implements TOTP enrollment and verification, backup codes with replay
// protection, and the login tickets that carry a user between password and MFA steps.
package mfa

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"msp-identity-core/internal/apperr"
	"msp-identity-core/internal/audit"
	"msp-identity-core/internal/mfa/domain"
	"msp-identity-core/internal/mfa/repository"
	"msp-identity-core/internal/policy/engine"
	"msp-identity-core/internal/security"
	userdomain "msp-identity-core/internal/user/domain"
)

const (
	totpPeriod = 30
	totpSkew   = 1
)

var (
	ErrAlreadyEnabled = apperr.New(apperr.KindConflict, "mfa is already enabled")
	ErrNotEnabled     = apperr.New(apperr.KindConflict, "mfa is not enabled")
	ErrNoPendingSetup = apperr.New(apperr.KindConflict, "no pending mfa setup")
)

// Config carries MFA settings.
type Config struct {
	Issuer          string
	BackupCodeCount int
	TOTPReplayTTL   time.Duration
	BackupReplayTTL time.Duration
	// RequiredRoles must have MFA enabled before a session is issued.
	RequiredRoles []string
}

// DefaultConfig returns ten backup codes and replay windows of 60s (TOTP) and 300s (backup).
// A TOTP claim is held for at least the code's validity window whatever TOTPReplayTTL says.
func DefaultConfig(issuer string, requiredRoles []string) Config {
	return Config{
		Issuer:          issuer,
		BackupCodeCount: 10,
		TOTPReplayTTL:   60 * time.Second,
		BackupReplayTTL: 300 * time.Second,
		RequiredRoles:   requiredRoles,
	}
}

// Service implements the MFA state machine unenrolled -> pending -> enabled -> disabled.
type Service struct {
	repo    repository.Repository
	box     *security.SecretBox
	replay  ReplayGuard
	policy  engine.Evaluator
	auditor *audit.Service
	cfg     Config
	now     func() time.Time
}

// NewService returns an MFA service.
func NewService(repo repository.Repository, box *security.SecretBox, replay ReplayGuard, policy engine.Evaluator, auditor *audit.Service, cfg Config) *Service {
	if cfg.BackupCodeCount <= 0 {
		cfg.BackupCodeCount = 10
	}
	return &Service{repo: repo, box: box, replay: replay, policy: policy, auditor: auditor, cfg: cfg, now: time.Now}
}

// Required reports whether a user with role in an org with orgRequiresMFA must use MFA.
// An evaluation failure is returned; callers must not treat it as "not required".
func (s *Service) Required(ctx context.Context, role userdomain.Role, orgRequiresMFA bool) (bool, error) {
	required, err := s.policy.MFARequired(ctx, engine.MFAInput{
		Role:           string(role),
		OrgRequiresMFA: orgRequiresMFA,
		RequiredRoles:  s.cfg.RequiredRoles,
	})
	if err != nil {
		return false, fmt.Errorf("mfa: evaluate requirement: %w", err)
	}
	return required, nil
}

// Status returns the user's enrollment status.
func (s *Service) Status(ctx context.Context, userID string) (userdomain.MFAStatus, error) {
	st, err := s.state(ctx, userID)
	if err != nil {
		return "", err
	}
	return st.Status, nil
}

// BeginSetup issues a new secret and backup codes and moves the user to pending.
// The plaintext values are returned only here.
func (s *Service) BeginSetup(ctx context.Context, userID string) (*domain.Enrollment, error) {
	st, err := s.state(ctx, userID)
	if err != nil {
		return nil, err
	}
	if st.Status == userdomain.MFAEnabled {
		return nil, ErrAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.cfg.Issuer,
		AccountName: st.Email,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("mfa: generate secret: %w", err)
	}
	codes, err := GenerateBackupCodes(s.cfg.BackupCodeCount)
	if err != nil {
		return nil, fmt.Errorf("mfa: generate backup codes: %w", err)
	}
	sealed, err := s.box.Seal(key.Secret())
	if err != nil {
		return nil, fmt.Errorf("mfa: seal secret: %w", err)
	}
	if err := s.repo.SaveEnrollment(ctx, userID, sealed, HashBackupCodes(codes), s.now().UTC()); err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			return nil, ErrAlreadyEnabled
		}
		return nil, apperr.Transient("mfa store", err)
	}
	return &domain.Enrollment{Secret: key.Secret(), URI: key.URL(), BackupCodes: codes}, nil
}

// CompleteSetup enables MFA once the user proves possession of the pending secret.
func (s *Service) CompleteSetup(ctx context.Context, userID, code string) error {
	st, err := s.state(ctx, userID)
	if err != nil {
		return err
	}
	if st.Status != userdomain.MFAPending {
		return ErrNoPendingSetup
	}
	ok, err := s.checkTOTP(ctx, st, normalizeCode(code))
	if err != nil {
		return err
	}
	if !ok {
		s.auditor.MFAVerified(ctx, userID, string(domain.MethodTOTP), false, 0)
		return apperr.ErrInvalidCode
	}
	if err := s.repo.Enable(ctx, userID, s.now().UTC()); err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			return ErrNoPendingSetup
		}
		return apperr.Transient("mfa store", err)
	}
	s.auditor.MFAEnabled(ctx, userID)
	return nil
}

// Verify checks code as a TOTP first and then as a backup code. A used backup code is
// removed from the set. Every accepted code is claimed in the replay cache, so
// presenting it again inside its window fails with ErrInvalidCode.
func (s *Service) Verify(ctx context.Context, userID, code string) (*domain.Verification, error) {
	st, err := s.state(ctx, userID)
	if err != nil {
		return nil, err
	}
	if st.Status != userdomain.MFAEnabled {
		return nil, ErrNotEnabled
	}
	code = normalizeCode(code)

	if looksLikeTOTP(code) {
		ok, err := s.checkTOTP(ctx, st, code)
		if err != nil {
			return nil, err
		}
		if ok {
			v := &domain.Verification{Valid: true, Method: domain.MethodTOTP, RemainingBackupCodes: len(st.BackupCodeHashes)}
			s.auditor.MFAVerified(ctx, userID, string(v.Method), true, v.RemainingBackupCodes)
			return v, nil
		}
	}

	remaining, ok, err := s.consumeBackup(ctx, st, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		method := domain.MethodBackupCode
		if looksLikeTOTP(code) {
			method = domain.MethodTOTP
		}
		s.auditor.MFAVerified(ctx, userID, string(method), false, len(st.BackupCodeHashes))
		return &domain.Verification{Valid: false}, apperr.ErrInvalidCode
	}
	v := &domain.Verification{Valid: true, Method: domain.MethodBackupCode, RemainingBackupCodes: remaining}
	s.auditor.MFAVerified(ctx, userID, string(v.Method), true, remaining)
	return v, nil
}

// Disable clears the secret and backup codes. Re-enabling requires a new enrollment.
func (s *Service) Disable(ctx context.Context, userID string) error {
	st, err := s.state(ctx, userID)
	if err != nil {
		return err
	}
	if st.Status != userdomain.MFAEnabled && st.Status != userdomain.MFAPending {
		return ErrNotEnabled
	}
	if err := s.repo.Disable(ctx, userID, s.now().UTC()); err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			return ErrNotEnabled
		}
		return apperr.Transient("mfa store", err)
	}
	s.auditor.MFADisabled(ctx, userID)
	return nil
}

// RegenerateBackupCodes replaces the whole backup-code set. Only allowed while enabled.
func (s *Service) RegenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	st, err := s.state(ctx, userID)
	if err != nil {
		return nil, err
	}
	if st.Status != userdomain.MFAEnabled {
		return nil, ErrNotEnabled
	}
	codes, err := GenerateBackupCodes(s.cfg.BackupCodeCount)
	if err != nil {
		return nil, fmt.Errorf("mfa: generate backup codes: %w", err)
	}
	if err := s.repo.ReplaceBackupCodes(ctx, userID, HashBackupCodes(codes), s.now().UTC()); err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			return nil, ErrNotEnabled
		}
		return nil, apperr.Transient("mfa store", err)
	}
	s.auditor.BackupCodesRegenerated(ctx, userID)
	return codes, nil
}

func (s *Service) state(ctx context.Context, userID string) (*domain.State, error) {
	st, err := s.repo.GetState(ctx, userID)
	if err != nil {
		return nil, apperr.Transient("mfa store", err)
	}
	if st == nil {
		return nil, apperr.NotFound("user")
	}
	return st, nil
}

// checkTOTP validates code against the sealed secret with one step of skew and, when
// valid, claims it in the replay cache.
func (s *Service) checkTOTP(ctx context.Context, st *domain.State, code string) (bool, error) {
	if st.SecretEnc == "" || !looksLikeTOTP(code) {
		return false, nil
	}
	secret, err := s.box.Open(st.SecretEnc)
	if err != nil {
		return false, fmt.Errorf("mfa: open secret: %w", err)
	}
	step, ok, err := matchStep(code, secret, s.now().UTC())
	if err != nil || !ok {
		return false, nil
	}
	claimed, err := s.replay.Claim(ctx, totpReplayKey(st.UserID, step), s.totpReplayTTL())
	if err != nil {
		return false, apperr.Transient("mfa replay cache", err)
	}
	return claimed, nil
}

// totpWindow is how long one step's code keeps validating: the step itself plus the
// skew on either side.
const totpWindow = (2*totpSkew + 1) * totpPeriod * time.Second

// totpReplayTTL never lets a claim lapse while its step still validates.
func (s *Service) totpReplayTTL() time.Duration {
	return max(s.cfg.TOTPReplayTTL, totpWindow)
}

// matchStep returns the time step whose code equals code, searching totpSkew steps
// either side of at.
func matchStep(code, secret string, at time.Time) (int64, bool, error) {
	opts := totp.ValidateOpts{Period: totpPeriod, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1}
	current := at.Unix() / totpPeriod
	for step := current - totpSkew; step <= current+totpSkew; step++ {
		want, err := totp.GenerateCodeCustom(secret, time.Unix(step*totpPeriod, 0).UTC(), opts)
		if err != nil {
			return 0, false, err
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return step, true, nil
		}
	}
	return 0, false, nil
}

func (s *Service) consumeBackup(ctx context.Context, st *domain.State, code string) (int, bool, error) {
	hash := HashBackupCode(code)
	if code == "" || !st.HasBackupHash(hash) {
		return 0, false, nil
	}
	claimed, err := s.replay.Claim(ctx, backupReplayKey(st.UserID, hash), s.cfg.BackupReplayTTL)
	if err != nil {
		return 0, false, apperr.Transient("mfa replay cache", err)
	}
	if !claimed {
		return 0, false, nil
	}
	remaining, ok, err := s.repo.ConsumeBackupCode(ctx, st.UserID, hash)
	if err != nil {
		return 0, false, apperr.Transient("mfa store", err)
	}
	return remaining, ok, nil
}

func normalizeCode(code string) string {
	return strings.TrimSpace(strings.ReplaceAll(code, " ", ""))
}

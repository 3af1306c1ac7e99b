// Package session issues, verifies, refreshes and revokes access/refresh token pairs.
// Signed tokens cannot be withdrawn, so revocation is enforced by a Redis blacklist of
// token hashes that lives as long as the tokens would.
package session

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"msp-identity-core/internal/apperr"
	"msp-identity-core/internal/audit"
	auditdomain "msp-identity-core/internal/audit/domain"
	"msp-identity-core/internal/security"
	"msp-identity-core/internal/session/cache"
	"msp-identity-core/internal/session/domain"
	"msp-identity-core/internal/session/repository"
	userdomain "msp-identity-core/internal/user/domain"
)

// MFAPolicy decides whether a role must have satisfied MFA to hold a session.
type MFAPolicy interface {
	Required(ctx context.Context, role userdomain.Role, orgRequiresMFA bool) (bool, error)
}

// Service implements the session/token lifecycle.
type Service struct {
	repo    repository.Repository
	cache   cache.Store
	tokens  *security.TokenProvider
	auditor *audit.Service
	mfa     MFAPolicy
	now     func() time.Time
}

// NewService returns a session service.
func NewService(repo repository.Repository, store cache.Store, tokens *security.TokenProvider, auditor *audit.Service) *Service {
	return &Service{repo: repo, cache: store, tokens: tokens, auditor: auditor, now: time.Now}
}

// SetMFAPolicy makes Refresh refuse to extend a session that did not satisfy MFA when the
// user's current role requires it.
func (s *Service) SetMFAPolicy(p MFAPolicy) { s.mfa = p }

// IssuePair signs a new access/refresh pair for sub and persists a session keyed by
// the token hashes. mfaVerified records whether this login satisfied MFA.
func (s *Service) IssuePair(ctx context.Context, sub domain.Subject, dev domain.DeviceContext, mfaVerified bool) (*domain.Pair, error) {
	pair, sess, err := s.sign(sub, dev, mfaVerified)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, apperr.Transient("session store", err)
	}
	s.cacheAccess(ctx, sess)
	return pair, nil
}

func (s *Service) sign(sub domain.Subject, dev domain.DeviceContext, mfaVerified bool) (*domain.Pair, *domain.Session, error) {
	sessionID := uuid.New().String()
	access, accessExp, err := s.tokens.IssueAccess(security.AccessSubject{
		UserID:    sub.UserID,
		Email:     sub.Email,
		Role:      sub.Role,
		OrgID:     sub.OrgID,
		OrgName:   sub.OrgName,
		OrgType:   sub.OrgType,
		SessionID: sessionID,
	})
	if err != nil {
		return nil, nil, err
	}
	refresh, refreshExp, err := s.tokens.IssueRefresh(sub.UserID, sessionID)
	if err != nil {
		return nil, nil, err
	}
	now := s.now().UTC()
	sess := &domain.Session{
		ID:               sessionID,
		UserID:           sub.UserID,
		AccessTokenHash:  security.HashToken(access),
		RefreshTokenHash: security.HashToken(refresh),
		AccessExpiresAt:  accessExp,
		ExpiresAt:        refreshExp,
		Status:           domain.StatusActive,
		Device:           dev,
		MFAVerified:      mfaVerified,
		LastActivityAt:   now,
		CreatedAt:        now,
	}
	pair := &domain.Pair{
		SessionID:        sessionID,
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}
	return pair, sess, nil
}

// cacheAccess writes the fast-path entry. Best-effort: a miss only costs a store lookup.
func (s *Service) cacheAccess(ctx context.Context, sess *domain.Session) {
	entry := cache.AccessEntry{UserID: sess.UserID, SessionID: sess.ID, ExpiresAt: sess.AccessExpiresAt}
	if err := s.cache.PutAccess(ctx, sess.AccessTokenHash, entry, sess.AccessExpiresAt.Sub(s.now())); err != nil {
		log.Printf("session: cache access token: %v", err)
	}
}

// Verify checks the access token's signature and claims, then the revocation list, then
// the session itself (from the fast-path cache when possible).
func (s *Service) Verify(ctx context.Context, accessToken string) (*domain.Identity, error) {
	claims, err := s.tokens.ParseAccess(accessToken)
	if err != nil {
		if errors.Is(err, security.ErrExpiredToken) {
			return nil, apperr.ErrTokenExpired
		}
		return nil, apperr.ErrTokenInvalid
	}
	hash := security.HashToken(accessToken)
	revoked, err := s.cache.IsBlacklisted(ctx, hash)
	if err != nil {
		return nil, apperr.Transient("revocation list", err)
	}
	if revoked {
		return nil, apperr.ErrTokenRevoked
	}

	id := &domain.Identity{
		Subject: domain.Subject{
			UserID:  claims.UserID,
			Email:   claims.Email,
			Role:    claims.Role,
			OrgID:   claims.OrgID,
			OrgName: claims.OrgName,
			OrgType: claims.OrgType,
		},
		SessionID: claims.SessionID,
	}

	entry, err := s.cache.GetAccess(ctx, hash)
	if err != nil {
		log.Printf("session: fast path: %v", err)
	}
	if entry != nil && entry.UserID == claims.UserID && entry.SessionID == claims.SessionID {
		return id, nil
	}

	sess, err := s.repo.GetByAccessHash(ctx, hash)
	if err != nil {
		return nil, apperr.Transient("session store", err)
	}
	if sess == nil || sess.ID != claims.SessionID || !sess.ActiveAt(s.now()) {
		return nil, apperr.ErrTokenRevoked
	}
	s.cacheAccess(ctx, sess)
	return id, nil
}

// Refresh rotates a refresh token. The old session is revoked with reason token_refresh
// in the same transaction that creates its successor, so a refresh token works once.
// Role and organization are re-read, so changes since login take effect.
func (s *Service) Refresh(ctx context.Context, refreshToken string, dev domain.DeviceContext) (*domain.Pair, error) {
	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		if errors.Is(err, security.ErrExpiredToken) {
			return nil, apperr.ErrTokenExpired
		}
		return nil, apperr.ErrTokenInvalid
	}
	old, err := s.repo.GetByRefreshHash(ctx, security.HashToken(refreshToken))
	if err != nil {
		return nil, apperr.Transient("session store", err)
	}
	if old != nil && old.Status == domain.StatusRevoked && old.RevokeReason == domain.ReasonTokenRefresh {
		s.auditor.SecurityEvent(ctx, auditdomain.RiskHigh, "refresh_token_reuse",
			"rotated refresh token presented again", map[string]string{"session_id": old.ID, "user_id": old.UserID})
	}
	if old == nil || old.ID != claims.SessionID || !old.ActiveAt(s.now()) {
		return nil, apperr.ErrNoActiveSession
	}
	sub, err := s.repo.LoadSubject(ctx, old.UserID)
	if err != nil {
		return nil, apperr.Transient("session store", err)
	}
	if sub == nil {
		return nil, apperr.ErrNoActiveSession
	}
	if !old.MFAVerified && s.mfa != nil {
		required, err := s.mfa.Required(ctx, userdomain.Role(sub.Role), sub.OrgRequiresMFA)
		if err != nil {
			return nil, apperr.Transient("mfa policy", err)
		}
		if required {
			if err := s.Revoke(ctx, old.ID, domain.ReasonMFARequired); err != nil {
				return nil, err
			}
			return nil, apperr.ErrNoActiveSession
		}
	}
	if dev == (domain.DeviceContext{}) {
		dev = old.Device
	}

	pair, next, err := s.sign(*sub, dev, old.MFAVerified)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Rotate(ctx, old.ID, next, s.now().UTC()); err != nil {
		if errors.Is(err, repository.ErrNotActive) {
			return nil, apperr.ErrNoActiveSession
		}
		return nil, apperr.Wrap(apperr.KindTransactionFailure, "refresh failed", err)
	}
	s.closeTokens(ctx, old)
	s.cacheAccess(ctx, next)
	return pair, nil
}

// Get returns a session by id.
func (s *Service) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	sess, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, apperr.Transient("session store", err)
	}
	if sess == nil {
		return nil, apperr.NotFound("session")
	}
	return sess, nil
}

// ListActive returns the user's live sessions.
func (s *Service) ListActive(ctx context.Context, userID string) ([]*domain.Session, error) {
	list, err := s.repo.ListActiveByUser(ctx, userID, s.now().UTC())
	if err != nil {
		return nil, apperr.Transient("session store", err)
	}
	return list, nil
}

// Revoke ends a session and blacklists both of its tokens. Revoking an already revoked
// session succeeds and re-asserts the blacklist.
func (s *Service) Revoke(ctx context.Context, sessionID, reason string) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	changed, err := s.repo.Revoke(ctx, sessionID, reason, s.now().UTC())
	if err != nil {
		return apperr.Transient("session store", err)
	}
	s.closeTokens(ctx, sess)
	if changed && reason != domain.ReasonLogout {
		s.auditor.SessionsRevoked(ctx, sess.UserID, sess.ID, reason, 1)
	}
	return nil
}

// RevokeAll ends every active session of userID and returns how many were revoked.
func (s *Service) RevokeAll(ctx context.Context, userID, reason string) (int, error) {
	revoked, err := s.repo.RevokeAllByUser(ctx, userID, reason, s.now().UTC())
	if err != nil {
		return 0, apperr.Transient("session store", err)
	}
	for _, sess := range revoked {
		s.closeTokens(ctx, sess)
	}
	if len(revoked) > 0 {
		s.auditor.SessionsRevoked(ctx, userID, "", reason, len(revoked))
	}
	return len(revoked), nil
}

// CleanupExpired marks sessions past their expiry as expired.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireStale(ctx, s.now().UTC())
	if err != nil {
		return 0, apperr.Transient("session store", err)
	}
	return n, nil
}

// closeTokens blacklists both token hashes for the rest of their natural lifetime and drops
// the fast-path entry. Failures are logged: the session row is already revoked, so the
// store check still rejects the access token once the fast-path entry lapses.
func (s *Service) closeTokens(ctx context.Context, sess *domain.Session) {
	now := s.now()
	if err := s.cache.Blacklist(ctx, sess.AccessTokenHash, sess.AccessExpiresAt.Sub(now)); err != nil {
		log.Printf("session: blacklist access token of %s: %v", sess.ID, err)
	}
	if err := s.cache.Blacklist(ctx, sess.RefreshTokenHash, sess.ExpiresAt.Sub(now)); err != nil {
		log.Printf("session: blacklist refresh token of %s: %v", sess.ID, err)
	}
	if err := s.cache.DropAccess(ctx, sess.AccessTokenHash); err != nil {
		log.Printf("session: drop fast path of %s: %v", sess.ID, err)
	}
}

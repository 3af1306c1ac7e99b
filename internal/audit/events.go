package audit

import (
	"context"
	"time"

	"msp-identity-core/internal/audit/domain"
	"msp-identity-core/internal/platform/reqctx"
)

// Op is a CRUD verb for organization and user events.
type Op int

const (
	OpCreate Op = iota
	OpUpdate
	OpDelete
)

// LoginSucceeded records a completed login. method is "password" or the MFA method used.
func (s *Service) LoginSucceeded(ctx context.Context, userID, orgID, sessionID, email, method string) {
	s.record(ctx, EventLoginSuccess, Record{
		UserID: userID, OrgID: orgID, SessionID: sessionID, ResourceID: sessionID,
		Detail: domain.LoginDetail{Email: email, Success: true, MFAMethod: method},
	})
}

// LoginFailed records a rejected login. userID is empty when the email matched no account.
func (s *Service) LoginFailed(ctx context.Context, userID, orgID, email, reason string) {
	s.record(ctx, EventLoginFailed, Record{
		System: userID == "", UserID: userID, OrgID: orgID,
		Detail: domain.LoginDetail{Email: email, Reason: reason},
	})
}

// LoggedOut records a user ending their own session.
func (s *Service) LoggedOut(ctx context.Context, userID, sessionID string) {
	s.record(ctx, EventLogout, Record{
		UserID: userID, SessionID: sessionID, ResourceID: sessionID,
		Detail: domain.SessionDetail{Reason: "logout"},
	})
}

// SessionsRevoked records an actor revoking one or more sessions of targetUserID.
func (s *Service) SessionsRevoked(ctx context.Context, targetUserID, sessionID, reason string, count int) {
	s.record(ctx, EventSessionRevoked, Record{
		System: isSystem(ctx), ResourceID: sessionID,
		Detail: domain.SessionDetail{Reason: reason, TargetUserID: targetUserID, Count: count},
	})
}

// OrganizationChanged records organization CRUD.
func (s *Service) OrganizationChanged(ctx context.Context, op Op, orgID, name string, changes map[string]string) {
	ev := [...]Event{EventOrganizationCreated, EventOrganizationUpdated, EventOrganizationDeleted}[op]
	s.record(ctx, ev, Record{
		System: isSystem(ctx), OrgID: orgID, ResourceID: orgID,
		Detail: domain.EntityDetail{Name: name, Changes: changes},
	})
}

// UserChanged records user CRUD.
func (s *Service) UserChanged(ctx context.Context, op Op, userID, orgID, email string, changes map[string]string) {
	ev := [...]Event{EventUserCreated, EventUserUpdated, EventUserDeleted}[op]
	s.record(ctx, ev, Record{
		System: isSystem(ctx), OrgID: orgID, ResourceID: userID,
		Detail: domain.EntityDetail{Name: email, Changes: changes},
	})
}

// AccessGranted records a new technician grant.
func (s *Service) AccessGranted(ctx context.Context, actorID, accessID string, d domain.AccessDetail) {
	s.record(ctx, EventAccessGranted, Record{UserID: actorID, OrgID: d.CustomerOrgID, ResourceID: accessID, Detail: d})
}

// AccessUpdated records a patch to a grant.
func (s *Service) AccessUpdated(ctx context.Context, actorID, accessID string, d domain.AccessDetail) {
	s.record(ctx, EventAccessUpdated, Record{UserID: actorID, OrgID: d.CustomerOrgID, ResourceID: accessID, Detail: d})
}

// AccessRevoked records a grant revocation.
func (s *Service) AccessRevoked(ctx context.Context, actorID, accessID string, d domain.AccessDetail) {
	s.record(ctx, EventAccessRevoked, Record{System: actorID == "", UserID: actorID, OrgID: d.CustomerOrgID, ResourceID: accessID, Detail: d})
}

// AccessHandoff records a bulk transfer between technicians.
func (s *Service) AccessHandoff(ctx context.Context, actorID string, d domain.HandoffDetail) {
	s.record(ctx, EventAccessHandoff, Record{UserID: actorID, ResourceID: d.FromTechnicianID, Detail: d})
}

// MFAEnabled records completed enrollment.
func (s *Service) MFAEnabled(ctx context.Context, userID string) {
	s.record(ctx, EventMFAEnabled, Record{UserID: userID, ResourceID: userID, Detail: domain.MFADetail{Method: "totp", Success: true}})
}

// MFADisabled records MFA removal.
func (s *Service) MFADisabled(ctx context.Context, userID string) {
	s.record(ctx, EventMFADisabled, Record{UserID: userID, ResourceID: userID, Detail: domain.MFADetail{Success: true}})
}

// MFAVerified records a verification attempt; failures map to mfa_verify_failed.
func (s *Service) MFAVerified(ctx context.Context, userID, method string, success bool, remainingBackup int) {
	ev := EventMFAVerified
	if !success {
		ev = EventMFAVerifyFailed
	}
	s.record(ctx, ev, Record{
		UserID: userID, ResourceID: userID,
		Detail: domain.MFADetail{Method: method, Success: success, RemainingBackupCodes: remainingBackup},
	})
}

// BackupCodesRegenerated records replacement of the backup-code set.
func (s *Service) BackupCodesRegenerated(ctx context.Context, userID string) {
	s.record(ctx, EventBackupCodesRegenerated, Record{UserID: userID, ResourceID: userID, Detail: domain.MFADetail{Method: "backup_code", Success: true}})
}

// PasswordChanged records a self-service password change.
func (s *Service) PasswordChanged(ctx context.Context, userID string) {
	s.record(ctx, EventPasswordChanged, Record{UserID: userID, ResourceID: userID, Detail: domain.PasswordDetail{Reason: "change"}})
}

// PasswordResetRequested records issuance of a reset token. Not compliance-relevant.
func (s *Service) PasswordResetRequested(ctx context.Context, userID string) {
	no := false
	s.record(ctx, EventPasswordResetRequested, Record{
		UserID: userID, ResourceID: userID, ComplianceRelevant: &no,
		Detail: domain.PasswordDetail{Reason: "reset_requested"},
	})
}

// PasswordResetCompleted records redemption of a reset token.
func (s *Service) PasswordResetCompleted(ctx context.Context, userID string) {
	s.record(ctx, EventPasswordResetCompleted, Record{UserID: userID, ResourceID: userID, Detail: domain.PasswordDetail{Reason: "reset"}})
}

// AccountLocked records the lock transition.
func (s *Service) AccountLocked(ctx context.Context, userID string, until time.Time) {
	s.record(ctx, EventAccountLocked, Record{
		UserID: userID, ResourceID: userID,
		Detail: domain.PasswordDetail{Reason: "failed_attempts", LockedUntil: &until},
	})
}

// DataAccessed records an authorized technician action against a customer. Emergency-level
// access is recorded as high risk.
func (s *Service) DataAccessed(ctx context.Context, technicianID string, d domain.DataAccessDetail) {
	ev := EventDataAccess
	if d.Level == "emergency" {
		ev = EventEmergencyDataAccess
	}
	s.record(ctx, ev, Record{UserID: technicianID, OrgID: d.CustomerOrgID, ResourceID: d.CustomerOrgID, Detail: d})
}

// AccessDenied records a technician action refused by policy.
func (s *Service) AccessDenied(ctx context.Context, technicianID string, d domain.DataAccessDetail) {
	s.record(ctx, EventAccessDenied, Record{UserID: technicianID, OrgID: d.CustomerOrgID, ResourceID: d.CustomerOrgID, Detail: d})
}

// SecurityEvent records a generic security event at the given risk.
func (s *Service) SecurityEvent(ctx context.Context, risk domain.RiskLevel, event, message string, attrs map[string]string) {
	s.record(ctx, EventSecurity, Record{
		System: isSystem(ctx), Risk: risk,
		Detail: domain.SecurityDetail{Event: event, Message: message, Attributes: attrs},
	})
}

func isSystem(ctx context.Context) bool {
	_, ok := reqctx.GetUserID(ctx)
	return !ok
}

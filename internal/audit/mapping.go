package audit

import "msp-identity-core/internal/audit/domain"

// Event names a domain event that has a canonical audit mapping.
type Event string

const (
	EventLoginSuccess           Event = "login_success"
	EventLoginFailed            Event = "login_failed"
	EventLogout                 Event = "logout"
	EventSessionRevoked         Event = "session_revoked"
	EventOrganizationCreated    Event = "organization_created"
	EventOrganizationUpdated    Event = "organization_updated"
	EventOrganizationDeleted    Event = "organization_deleted"
	EventUserCreated            Event = "user_created"
	EventUserUpdated            Event = "user_updated"
	EventUserDeleted            Event = "user_deleted"
	EventAccessGranted          Event = "access_granted"
	EventAccessUpdated          Event = "access_updated"
	EventAccessRevoked          Event = "access_revoked"
	EventAccessHandoff          Event = "access_handoff"
	EventMFAEnabled             Event = "mfa_enabled"
	EventMFADisabled            Event = "mfa_disabled"
	EventMFAVerified            Event = "mfa_verified"
	EventMFAVerifyFailed        Event = "mfa_verify_failed"
	EventBackupCodesRegenerated Event = "backup_codes_regenerated"
	EventPasswordChanged        Event = "password_changed"
	EventPasswordResetRequested Event = "password_reset_requested"
	EventPasswordResetCompleted Event = "password_reset_completed"
	EventAccountLocked          Event = "account_locked"
	EventDataAccess             Event = "data_access"
	EventEmergencyDataAccess    Event = "data_access_emergency"
	EventAccessDenied           Event = "access_denied"
	EventSecurity               Event = "security_event"
)

// Resource types.
const (
	ResourceSession          = "session"
	ResourceOrganization     = "organization"
	ResourceUser             = "user"
	ResourceTechnicianAccess = "technician_access"
	ResourceCustomerData     = "customer_data"
	ResourceSystem           = "system"
)

// Triple is the canonical (action, resource type, risk) an event is recorded as.
type Triple struct {
	Action       string
	ResourceType string
	Risk         domain.RiskLevel
}

var canonical = map[Event]Triple{
	EventLoginSuccess:           {"login_success", ResourceSession, domain.RiskLow},
	EventLoginFailed:            {"login_failed", ResourceSession, domain.RiskMedium},
	EventLogout:                 {"logout", ResourceSession, domain.RiskLow},
	EventSessionRevoked:         {"session_revoked", ResourceSession, domain.RiskMedium},
	EventOrganizationCreated:    {"organization_created", ResourceOrganization, domain.RiskMedium},
	EventOrganizationUpdated:    {"organization_updated", ResourceOrganization, domain.RiskMedium},
	EventOrganizationDeleted:    {"organization_deleted", ResourceOrganization, domain.RiskHigh},
	EventUserCreated:            {"user_created", ResourceUser, domain.RiskMedium},
	EventUserUpdated:            {"user_updated", ResourceUser, domain.RiskLow},
	EventUserDeleted:            {"user_deleted", ResourceUser, domain.RiskHigh},
	EventAccessGranted:          {"access_granted", ResourceTechnicianAccess, domain.RiskMedium},
	EventAccessUpdated:          {"access_updated", ResourceTechnicianAccess, domain.RiskMedium},
	EventAccessRevoked:          {"access_revoked", ResourceTechnicianAccess, domain.RiskHigh},
	EventAccessHandoff:          {"access_handoff", ResourceTechnicianAccess, domain.RiskHigh},
	EventMFAEnabled:             {"mfa_enabled", ResourceUser, domain.RiskMedium},
	EventMFADisabled:            {"mfa_disabled", ResourceUser, domain.RiskHigh},
	EventMFAVerified:            {"mfa_verified", ResourceUser, domain.RiskLow},
	EventMFAVerifyFailed:        {"mfa_verify_failed", ResourceUser, domain.RiskMedium},
	EventBackupCodesRegenerated: {"backup_codes_regenerated", ResourceUser, domain.RiskMedium},
	EventPasswordChanged:        {"password_changed", ResourceUser, domain.RiskMedium},
	EventPasswordResetRequested: {"password_reset_requested", ResourceUser, domain.RiskLow},
	EventPasswordResetCompleted: {"password_reset_completed", ResourceUser, domain.RiskMedium},
	EventAccountLocked:          {"account_locked", ResourceUser, domain.RiskHigh},
	EventDataAccess:             {"data_access", ResourceCustomerData, domain.RiskLow},
	EventEmergencyDataAccess:    {"data_access_emergency", ResourceCustomerData, domain.RiskHigh},
	EventAccessDenied:           {"access_denied", ResourceCustomerData, domain.RiskMedium},
	EventSecurity:               {"security_event", ResourceSystem, domain.RiskHigh},
}

// Canonical returns the triple for e and whether e is mapped.
func Canonical(e Event) (Triple, bool) {
	t, ok := canonical[e]
	return t, ok
}

// Report sections group actions into the categories of a compliance deliverable.
var (
	userManagementActions = []string{
		"user_created", "user_updated", "user_deleted", "password_changed", "password_reset_completed",
		"mfa_enabled", "mfa_disabled", "backup_codes_regenerated",
	}
	accessManagementActions = []string{
		"access_granted", "access_updated", "access_revoked", "access_handoff", "session_revoked",
	}
	dataAccessActions = []string{"data_access", "data_access_emergency", "access_denied"}
	securityActions   = []string{"security_event", "login_failed", "account_locked", "mfa_verify_failed"}
)

package engine

import (
	"context"
	"time"
)

// MFAInput is what the MFA-required predicate sees about a user.
type MFAInput struct {
	Role string
	// OrgRequiresMFA is the organization's require_mfa setting.
	OrgRequiresMFA bool
	// RequiredRoles is the configured list of roles that must use MFA.
	RequiredRoles []string
}

// Window restricts a grant to a daily hour range and set of weekdays in Timezone.
// StartHour > EndHour wraps past midnight.
type Window struct {
	Timezone  string
	StartHour int
	EndHour   int
	Weekdays  []string
}

// AccessInput is a technician action against a customer together with the active grant.
type AccessInput struct {
	Level           string
	Status          string
	ExpiresAt       *time.Time
	AllowedServices []string
	AllowedIPs      []string
	Window          *Window

	Action  string
	Service string
	IP      string
	At      time.Time
}

// AccessDecision is the policy outcome for an AccessInput.
type AccessDecision struct {
	Allowed  bool
	Reasons  []string
	HighRisk bool
}

// Evaluator evaluates the identity policies using OPA or other engines.
type Evaluator interface {
	// MFARequired reports whether a user must complete MFA before a session is issued.
	MFARequired(ctx context.Context, in MFAInput) (bool, error)
	// EvaluateAccess decides whether a technician action is permitted under a grant.
	EvaluateAccess(ctx context.Context, in AccessInput) (AccessDecision, error)
}

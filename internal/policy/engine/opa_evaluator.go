package engine

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const (
	mfaQuery    = "data.msp.identity.mfa_required"
	accessQuery = "data.msp.identity.decision"
)

// DefaultPolicy is the built-in Rego module for MFA enforcement and technician access.
const DefaultPolicy = `package msp.identity

default mfa_required := false

mfa_required if input.org.require_mfa

mfa_required if input.user.role in input.config.mfa_required_roles

read_actions := {"read", "view", "list", "export"}

write_actions := {"write", "update", "create", "delete", "execute"}

level_permits if {
	input.grant.level == "read_only"
	input.action in read_actions
}

level_permits if {
	input.grant.level == "full_access"
	input.action in read_actions
}

level_permits if {
	input.grant.level == "full_access"
	input.action in write_actions
}

level_permits if input.grant.level == "emergency"

service_allowed if input.service in input.grant.allowed_services

ip_allowed if {
	some cidr in input.grant.allowed_ips
	net.cidr_contains(cidr, input.ip)
}

in_hours if {
	w := input.grant.window
	w.start_hour <= w.end_hour
	input.hour >= w.start_hour
	input.hour < w.end_hour
}

in_hours if {
	w := input.grant.window
	w.start_hour > w.end_hour
	input.hour >= w.start_hour
}

in_hours if {
	w := input.grant.window
	w.start_hour > w.end_hour
	input.hour < w.end_hour
}

on_allowed_day if input.weekday in input.grant.window.weekdays

deny contains "grant is not active" if input.grant.status != "active"

deny contains "grant has expired" if input.now_ns >= input.grant.expires_at_ns

deny contains "action not permitted at this access level" if not level_permits

deny contains "service not in allowed list" if {
	count(input.grant.allowed_services) > 0
	input.service != ""
	not service_allowed
}

deny contains "source address not allowed" if {
	count(input.grant.allowed_ips) > 0
	not ip_allowed
}

deny contains "outside allowed hours" if {
	input.grant.window
	not in_hours
}

deny contains "outside allowed days" if {
	count(input.grant.window.weekdays) > 0
	not on_allowed_day
}

default allow := false

allow if count(deny) == 0

default high_risk := false

high_risk if input.grant.level == "emergency"

decision := {"allow": allow, "reasons": deny, "high_risk": high_risk}
`

// OPAEvaluator evaluates identity policies using OPA Rego. Modules are compiled once.
type OPAEvaluator struct {
	compiler *ast.Compiler
}

// NewOPAEvaluator compiles the default policy.
func NewOPAEvaluator() (*OPAEvaluator, error) {
	return NewOPAEvaluatorWithPolicy(DefaultPolicy)
}

// NewOPAEvaluatorWithPolicy compiles the given Rego modules, which must define
// data.msp.identity.mfa_required and data.msp.identity.decision.
func NewOPAEvaluatorWithPolicy(policies ...string) (*OPAEvaluator, error) {
	modules := make(map[string]string, len(policies))
	for i, p := range policies {
		modules[fmt.Sprintf("policy_%d.rego", i)] = p
	}
	compiler, err := ast.CompileModules(modules)
	if err != nil {
		return nil, fmt.Errorf("compile policies: %w", err)
	}
	return &OPAEvaluator{compiler: compiler}, nil
}

// HealthCheck verifies that the compiled policy evaluates. Does not touch storage.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	if _, err := e.MFARequired(ctx, MFAInput{Role: "technician"}); err != nil {
		return fmt.Errorf("eval policy: %w", err)
	}
	return nil
}

// MFARequired evaluates the MFA-required predicate.
func (e *OPAEvaluator) MFARequired(ctx context.Context, in MFAInput) (bool, error) {
	input := map[string]interface{}{
		"user":   map[string]interface{}{"role": in.Role},
		"org":    map[string]interface{}{"require_mfa": in.OrgRequiresMFA},
		"config": map[string]interface{}{"mfa_required_roles": toList(in.RequiredRoles)},
	}
	value, err := e.eval(ctx, mfaQuery, input)
	if err != nil {
		return false, err
	}
	required, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("policy: %s returned %T", mfaQuery, value)
	}
	return required, nil
}

// EvaluateAccess evaluates a technician action. Any evaluation failure is returned as an
// error; callers deny on error.
func (e *OPAEvaluator) EvaluateAccess(ctx context.Context, in AccessInput) (AccessDecision, error) {
	value, err := e.eval(ctx, accessQuery, buildAccessInput(in))
	if err != nil {
		return AccessDecision{}, err
	}
	obj, ok := value.(map[string]interface{})
	if !ok {
		return AccessDecision{}, fmt.Errorf("policy: %s returned %T", accessQuery, value)
	}
	var out AccessDecision
	out.Allowed, _ = obj["allow"].(bool)
	out.HighRisk, _ = obj["high_risk"].(bool)
	if reasons, ok := obj["reasons"].([]interface{}); ok {
		for _, r := range reasons {
			if s, ok := r.(string); ok {
				out.Reasons = append(out.Reasons, s)
			}
		}
	}
	sort.Strings(out.Reasons)
	if out.Allowed && len(out.Reasons) > 0 {
		out.Allowed = false
	}
	return out, nil
}

func (e *OPAEvaluator) eval(ctx context.Context, query string, input map[string]interface{}) (interface{}, error) {
	rs, err := rego.New(
		rego.Query(query),
		rego.Compiler(e.compiler),
		rego.Input(input),
	).Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy: eval %s: %w", query, err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, fmt.Errorf("policy: %s is undefined", query)
	}
	return rs[0].Expressions[0].Value, nil
}

func buildAccessInput(in AccessInput) map[string]interface{} {
	at := in.At
	if at.IsZero() {
		at = time.Now()
	}
	grant := map[string]interface{}{
		"level":            in.Level,
		"status":           in.Status,
		"allowed_services": toList(in.AllowedServices),
		"allowed_ips":      toList(normalizeCIDRs(in.AllowedIPs)),
	}
	if in.ExpiresAt != nil {
		grant["expires_at_ns"] = in.ExpiresAt.UnixNano()
	}

	local := at.UTC()
	if in.Window != nil {
		if loc, err := time.LoadLocation(in.Window.Timezone); err == nil && in.Window.Timezone != "" {
			local = at.In(loc)
		}
		days := make([]string, 0, len(in.Window.Weekdays))
		for _, d := range in.Window.Weekdays {
			days = append(days, strings.ToLower(d))
		}
		grant["window"] = map[string]interface{}{
			"start_hour": in.Window.StartHour,
			"end_hour":   in.Window.EndHour,
			"weekdays":   toList(days),
		}
	}

	return map[string]interface{}{
		"grant":   grant,
		"action":  strings.ToLower(in.Action),
		"service": in.Service,
		"ip":      in.IP,
		"now_ns":  at.UnixNano(),
		"hour":    local.Hour(),
		"weekday": strings.ToLower(local.Weekday().String()),
	}
}

// normalizeCIDRs turns bare addresses into single-host prefixes; net.cidr_contains
// needs a prefix as its first operand.
func normalizeCIDRs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if addr, err := netip.ParseAddr(s); err == nil {
			out = append(out, netip.PrefixFrom(addr, addr.BitLen()).String())
			continue
		}
		out = append(out, s)
	}
	return out
}

func toList(in []string) []interface{} {
	out := make([]interface{}, 0, len(in))
	for _, s := range in {
		out = append(out, s)
	}
	return out
}

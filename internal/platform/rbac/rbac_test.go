package rbac

import (
	"context"
	"errors"
	"testing"

	"msp-identity-core/internal/apperr"
	"msp-identity-core/internal/platform/reqctx"
	userdomain "msp-identity-core/internal/user/domain"
)

func withRole(role userdomain.Role, orgID string) context.Context {
	return reqctx.WithPrincipal(context.Background(), reqctx.Principal{UserID: "user-1", Role: string(role), OrgID: orgID})
}

func TestRequireRole_Success(t *testing.T) {
	ctx := withRole(userdomain.RoleSeniorTechnician, "org-1")
	p, err := RequireRole(ctx, userdomain.RoleProviderAdmin, userdomain.RoleSeniorTechnician)
	if err != nil {
		t.Fatalf("RequireRole: %v", err)
	}
	if p.UserID != "user-1" {
		t.Errorf("user_id = %q, want %q", p.UserID, "user-1")
	}
}

func TestRequireRole_Failure_WrongRole(t *testing.T) {
	ctx := withRole(userdomain.RoleTechnician, "org-1")
	_, err := RequireRole(ctx, userdomain.RoleProviderAdmin)
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("err = %v, want forbidden", err)
	}
}

func TestRequireRole_Failure_Unauthenticated(t *testing.T) {
	_, err := RequireRole(context.Background(), userdomain.RoleProviderAdmin)
	if !errors.Is(err, apperr.ErrTokenInvalid) {
		t.Errorf("err = %v, want token invalid", err)
	}
}

func TestRequirePermission(t *testing.T) {
	if _, err := RequirePermission(withRole(userdomain.RoleCustomerAdmin, "c1"), userdomain.PermReadAudit); err != nil {
		t.Errorf("customer admin audit read: %v", err)
	}
	if _, err := RequirePermission(withRole(userdomain.RoleCustomerUser, "c1"), userdomain.PermReadAudit); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("customer user audit read: err = %v, want forbidden", err)
	}
	if _, err := RequirePermission(withRole(userdomain.RoleTechnician, "p1"), userdomain.PermManageAccess); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("technician manage access: err = %v, want forbidden", err)
	}
}

func TestScopeOrg(t *testing.T) {
	provider := reqctx.Principal{UserID: "u", Role: string(userdomain.RoleProviderAdmin), OrgID: "p1"}
	customer := reqctx.Principal{UserID: "u", Role: string(userdomain.RoleCustomerAdmin), OrgID: "c1"}

	if got, err := ScopeOrg(provider, ""); err != nil || got != "" {
		t.Errorf("provider all orgs = %q, %v", got, err)
	}
	if got, err := ScopeOrg(provider, "c2"); err != nil || got != "c2" {
		t.Errorf("provider c2 = %q, %v", got, err)
	}
	if got, err := ScopeOrg(customer, ""); err != nil || got != "c1" {
		t.Errorf("customer default = %q, %v", got, err)
	}
	if _, err := ScopeOrg(customer, "c2"); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("customer other org: err = %v, want forbidden", err)
	}
}

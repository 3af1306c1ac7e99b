package rbac

import (
	"context"

	"msp-identity-core/internal/apperr"
	"msp-identity-core/internal/platform/reqctx"
	userdomain "msp-identity-core/internal/user/domain"
)

// RequirePermission ensures the caller's role carries perm.
func RequirePermission(ctx context.Context, perm string) (reqctx.Principal, error) {
	p, err := RequireAuthenticated(ctx)
	if err != nil {
		return reqctx.Principal{}, err
	}
	if !userdomain.Role(p.Role).Has(perm) {
		return reqctx.Principal{}, apperr.ErrForbidden
	}
	return p, nil
}

// ScopeOrg resolves which organization a caller may read. Provider roles may read any
// organization (requested may be empty for all). Customer roles are pinned to their own
// organization; asking for another one is forbidden.
func ScopeOrg(p reqctx.Principal, requested string) (string, error) {
	if userdomain.Role(p.Role).IsProvider() {
		return requested, nil
	}
	if requested != "" && requested != p.OrgID {
		return "", apperr.ErrForbidden
	}
	return p.OrgID, nil
}

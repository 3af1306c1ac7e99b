package rbac

import (
	"context"

	"msp-identity-core/internal/apperr"
	"msp-identity-core/internal/platform/reqctx"
	userdomain "msp-identity-core/internal/user/domain"
)

// RequireRole ensures the caller is authenticated and holds one of roles.
// Returns the principal on success; apperr.ErrTokenInvalid when unauthenticated and
// apperr.ErrForbidden when the role does not match.
func RequireRole(ctx context.Context, roles ...userdomain.Role) (reqctx.Principal, error) {
	p, ok := reqctx.GetPrincipal(ctx)
	if !ok || p.UserID == "" {
		return reqctx.Principal{}, apperr.ErrTokenInvalid
	}
	for _, r := range roles {
		if userdomain.Role(p.Role) == r {
			return p, nil
		}
	}
	return reqctx.Principal{}, apperr.ErrForbidden
}

// RequireAuthenticated ensures the caller is authenticated (any role).
func RequireAuthenticated(ctx context.Context) (reqctx.Principal, error) {
	p, ok := reqctx.GetPrincipal(ctx)
	if !ok || p.UserID == "" {
		return reqctx.Principal{}, apperr.ErrTokenInvalid
	}
	return p, nil
}

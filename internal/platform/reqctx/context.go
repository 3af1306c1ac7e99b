// Package reqctx carries the authenticated principal and client details through a request context.
package reqctx

import "context"

type contextKey struct{ name string }

var (
	principalKey = contextKey{"principal"}
	clientKey    = contextKey{"client"}
)

// Principal is the verified bearer of an access token.
type Principal struct {
	UserID    string
	Email     string
	Role      string
	OrgID     string
	OrgName   string
	OrgType   string
	SessionID string
}

// Client is where a request came from.
type Client struct {
	IP        string
	UserAgent string
}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal returns the principal and true if set; otherwise zero, false.
func GetPrincipal(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// GetUserID returns the authenticated user id and true if set; otherwise "", false.
func GetUserID(ctx context.Context) (string, bool) {
	p, ok := GetPrincipal(ctx)
	if !ok || p.UserID == "" {
		return "", false
	}
	return p.UserID, true
}

// WithClient returns a context carrying c.
func WithClient(ctx context.Context, c Client) context.Context {
	return context.WithValue(ctx, clientKey, c)
}

// GetClient returns the client details, or zero if unset.
func GetClient(ctx context.Context) Client {
	c, _ := ctx.Value(clientKey).(Client)
	return c
}

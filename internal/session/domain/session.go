package domain

import "time"

// Status is the lifecycle state of a session row. Revoked and expired rows are kept.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
	StatusExpired Status = "expired"
)

// Revocation reasons recorded on the session row.
const (
	ReasonLogout        = "logout"
	ReasonTokenRefresh  = "token_refresh"
	ReasonUserRevoked   = "user_revoked"
	ReasonRevokeAll     = "revoke_all"
	ReasonPasswordReset = "password_reset"
	ReasonAdmin         = "admin_revoked"
	ReasonMFARequired   = "mfa_required"
)

// Session is one issued token pair. Only hashes of the tokens are stored.
type Session struct {
	ID               string
	UserID           string
	AccessTokenHash  string
	RefreshTokenHash string
	AccessExpiresAt  time.Time
	// ExpiresAt is the refresh token's expiry and the session's absolute end.
	ExpiresAt      time.Time
	Status         Status
	Device         DeviceContext
	MFAVerified    bool
	LastActivityAt time.Time
	CreatedAt      time.Time
	RevokedAt      *time.Time
	RevokeReason   string
}

// ActiveAt reports whether the session is active and unexpired at now.
func (s *Session) ActiveAt(now time.Time) bool {
	return s != nil && s.Status == StatusActive && s.ExpiresAt.After(now)
}

// DeviceContext is where a session was created from.
type DeviceContext struct {
	IP         string `json:"ip,omitempty"`
	UserAgent  string `json:"userAgent,omitempty"`
	DeviceName string `json:"deviceName,omitempty"`
	Location   string `json:"location,omitempty"`
}

// Subject is the identity a pair is issued for, as re-derived from the user and
// organization rows.
type Subject struct {
	UserID  string
	Email   string
	Role    string
	OrgID   string
	OrgName string
	OrgType string
	// OrgRequiresMFA mirrors the organization's require_mfa setting. It is not a token claim.
	OrgRequiresMFA bool
}

// Identity is what a verified access token asserts.
type Identity struct {
	Subject
	SessionID string
}

// Pair is a freshly issued access/refresh token pair.
type Pair struct {
	SessionID        string
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

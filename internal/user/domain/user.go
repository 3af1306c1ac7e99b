package domain

import (
	"errors"
	"strings"
	"time"
)

// User is the core user entity. Credential and MFA material live in their own
// columns and are read only by the password and MFA repositories.
type User struct {
	ID                  string
	OrgID               string
	Email               string
	Name                string
	Role                Role
	Status              UserStatus
	PasswordHash        string
	PasswordChangedAt   time.Time
	FailedLoginAttempts int
	LockedUntil         *time.Time
	MFAStatus           MFAStatus
	LastLoginAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusInactive  UserStatus = "inactive"
	UserStatusSuspended UserStatus = "suspended"
)

// MFAStatus tracks the enrollment state machine: unenrolled -> pending -> enabled -> disabled.
type MFAStatus string

const (
	MFAUnenrolled MFAStatus = "unenrolled"
	MFAPending    MFAStatus = "pending"
	MFAEnabled    MFAStatus = "enabled"
	MFADisabled   MFAStatus = "disabled"
)

// IsActive reports whether the user may authenticate.
func (u *User) IsActive() bool {
	return u != nil && u.Status == UserStatusActive
}

// LockedAt reports whether the account is locked at now.
func (u *User) LockedAt(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

// NormalizeEmail lowercases and trims an address for lookup and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.Email == "" || !strings.Contains(u.Email, "@") {
		return errors.New("a valid email is required")
	}
	if u.OrgID == "" {
		return errors.New("org_id is required")
	}
	if !u.Role.Valid() {
		return errors.New("unknown role")
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	if u.MFAStatus == "" {
		u.MFAStatus = MFAUnenrolled
	}
	return nil
}

package domain

import (
	"time"

	orgdomain "msp-identity-core/internal/organization/domain"
	sessiondomain "msp-identity-core/internal/session/domain"
	userdomain "msp-identity-core/internal/user/domain"
)

// Account is a user together with the organization that owns it, as read at login.
type Account struct {
	User *userdomain.User
	Org  *orgdomain.Org
}

// Usable reports whether both the user and its organization are active.
func (a *Account) Usable() bool {
	return a != nil && a.User.IsActive() && a.Org != nil && a.Org.IsActive()
}

// Subject returns the token subject for the account.
func (a *Account) Subject() sessiondomain.Subject {
	return sessiondomain.Subject{
		UserID:  a.User.ID,
		Email:   a.User.Email,
		Role:    string(a.User.Role),
		OrgID:   a.Org.ID,
		OrgName: a.Org.Name,
		OrgType: string(a.Org.Kind),
	}
}

// UserView is the user block of a login response.
type UserView struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Role    string `json:"role"`
	OrgID   string `json:"orgId"`
	OrgName string `json:"orgName"`
	OrgType string `json:"orgType"`
}

// ViewOf renders a subject as a UserView.
func ViewOf(s sessiondomain.Subject) *UserView {
	return &UserView{ID: s.UserID, Email: s.Email, Role: s.Role, OrgID: s.OrgID, OrgName: s.OrgName, OrgType: s.OrgType}
}

// MFAStep tells the client which second step to run and with which ticket.
type MFAStep struct {
	Ticket    string    `json:"ticket"`
	Kind      string    `json:"kind"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// LoginResult is either a signed-in user with a token pair or a pending MFA step,
// never both.
type LoginResult struct {
	User *UserView
	Pair *sessiondomain.Pair
	MFA  *MFAStep
	// PasswordExpired is set when the credential has outlived the password policy.
	PasswordExpired bool
}

// Complete reports whether the result carries tokens.
func (r *LoginResult) Complete() bool {
	return r != nil && r.Pair != nil
}

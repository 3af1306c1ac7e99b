package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"msp-identity-core/internal/apperr"
	"msp-identity-core/internal/audit"
	"msp-identity-core/internal/identity/domain"
	"msp-identity-core/internal/identity/repository"
	mfadomain "msp-identity-core/internal/mfa/domain"
	pwdomain "msp-identity-core/internal/password/domain"
	"msp-identity-core/internal/security"
	sessiondomain "msp-identity-core/internal/session/domain"
	userdomain "msp-identity-core/internal/user/domain"
)

// ErrTicketInvalid covers unknown, expired, exhausted and wrong-kind MFA tickets.
var ErrTicketInvalid = apperr.New(apperr.KindTokenInvalid, "mfa ticket is invalid or expired")

// ErrAddressNotAllowed is returned when the organization restricts login addresses.
var ErrAddressNotAllowed = apperr.New(apperr.KindForbidden, "login is not allowed from this address")

// Login failure reasons recorded in the audit log.
const (
	reasonUnknownAccount = "unknown_account"
	reasonInactive       = "inactive_account"
	reasonBadPassword    = "invalid_password"
	reasonLocked         = "account_locked"
	reasonBadCode        = "invalid_mfa_code"
	reasonAddress        = "address_not_allowed"
)

// Passwords is the slice of the password service used at login.
type Passwords interface {
	HandleFailedLogin(ctx context.Context, userID string) (pwdomain.Outcome, error)
	ResetFailedAttempts(ctx context.Context, userID string) error
	Expired(u *userdomain.User) bool
}

// MFA is the slice of the MFA service used at login.
type MFA interface {
	Required(ctx context.Context, role userdomain.Role, orgRequiresMFA bool) (bool, error)
	Verify(ctx context.Context, userID, code string) (*mfadomain.Verification, error)
	BeginSetup(ctx context.Context, userID string) (*mfadomain.Enrollment, error)
	CompleteSetup(ctx context.Context, userID, code string) error
}

// Tickets stores login tickets between the password and MFA steps.
type Tickets interface {
	Issue(ctx context.Context, t mfadomain.Ticket, ttl time.Duration) (*mfadomain.Ticket, error)
	Get(ctx context.Context, id string) (*mfadomain.Ticket, error)
	Consume(ctx context.Context, id string) (*mfadomain.Ticket, error)
	RecordFailure(ctx context.Context, id string) (bool, error)
}

// Sessions issues and ends sessions.
type Sessions interface {
	IssuePair(ctx context.Context, sub sessiondomain.Subject, dev sessiondomain.DeviceContext, mfaVerified bool) (*sessiondomain.Pair, error)
	Verify(ctx context.Context, accessToken string) (*sessiondomain.Identity, error)
	Revoke(ctx context.Context, sessionID, reason string) error
}

// LoginRecorder stamps a successful login on the user row.
type LoginRecorder interface {
	RecordLogin(ctx context.Context, id string, at time.Time) error
}

// AuthService runs the login flow: password check, optional MFA challenge or
// enrollment, then session issuance.
type AuthService struct {
	accounts  repository.Repository
	users     LoginRecorder
	hasher    *security.Hasher
	passwords Passwords
	mfa       MFA
	tickets   Tickets
	sessions  Sessions
	auditor   *audit.Service
	ticketTTL time.Duration
	now       func() time.Time
}

// NewAuthService returns an AuthService. ticketTTL bounds how long an MFA step may take.
func NewAuthService(
	accounts repository.Repository,
	users LoginRecorder,
	hasher *security.Hasher,
	passwords Passwords,
	mfa MFA,
	tickets Tickets,
	sessions Sessions,
	auditor *audit.Service,
	ticketTTL time.Duration,
) *AuthService {
	if ticketTTL <= 0 {
		ticketTTL = 5 * time.Minute
	}
	return &AuthService{
		accounts:  accounts,
		users:     users,
		hasher:    hasher,
		passwords: passwords,
		mfa:       mfa,
		tickets:   tickets,
		sessions:  sessions,
		auditor:   auditor,
		ticketTTL: ticketTTL,
		now:       time.Now,
	}
}

// Login checks email and password. Unknown accounts, inactive accounts and wrong
// passwords fail alike with ErrInvalidCredential. On success the result carries either
// a token pair or the MFA step the user must complete first.
func (s *AuthService) Login(ctx context.Context, email, password string, dev sessiondomain.DeviceContext) (*domain.LoginResult, error) {
	email = userdomain.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperr.Invalid("email and password are required")
	}
	acct, err := s.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		return nil, apperr.Transient("account store", err)
	}
	if acct == nil {
		s.hasher.BurnCompare(password)
		s.auditor.LoginFailed(ctx, "", "", email, reasonUnknownAccount)
		return nil, apperr.ErrInvalidCredential
	}
	u := acct.User
	if !acct.Usable() {
		s.hasher.BurnCompare(password)
		s.auditor.LoginFailed(ctx, u.ID, u.OrgID, email, reasonInactive)
		return nil, apperr.ErrInvalidCredential
	}
	if u.LockedAt(s.now()) {
		s.auditor.LoginFailed(ctx, u.ID, u.OrgID, email, reasonLocked)
		return nil, &apperr.LockedError{Until: *u.LockedUntil}
	}
	if !s.hasher.Matches(u.PasswordHash, password) {
		return nil, s.failPassword(ctx, u)
	}
	if !acct.Org.Settings.AllowsIP(dev.IP) {
		s.auditor.LoginFailed(ctx, u.ID, u.OrgID, email, reasonAddress)
		return nil, ErrAddressNotAllowed
	}
	if u.FailedLoginAttempts > 0 || u.LockedUntil != nil {
		if err := s.passwords.ResetFailedAttempts(ctx, u.ID); err != nil {
			return nil, err
		}
	}

	required, err := s.mfa.Required(ctx, u.Role, acct.Org.Settings.RequireMFA)
	if err != nil {
		return nil, err
	}
	switch {
	case u.MFAStatus == userdomain.MFAEnabled:
		return s.issueTicket(ctx, u.ID, mfadomain.TicketChallenge, dev)
	case required:
		return s.issueTicket(ctx, u.ID, mfadomain.TicketEnrollment, dev)
	}

	res, err := s.signIn(ctx, acct, dev, false, "")
	if err != nil {
		return nil, err
	}
	res.PasswordExpired = s.passwords.Expired(u)
	return res, nil
}

func (s *AuthService) failPassword(ctx context.Context, u *userdomain.User) error {
	out, err := s.passwords.HandleFailedLogin(ctx, u.ID)
	if err != nil {
		return err
	}
	if out.Locked && out.LockedUntil != nil {
		s.auditor.LoginFailed(ctx, u.ID, u.OrgID, u.Email, reasonLocked)
		return &apperr.LockedError{Until: *out.LockedUntil}
	}
	s.auditor.LoginFailed(ctx, u.ID, u.OrgID, u.Email, reasonBadPassword)
	return apperr.ErrInvalidCredential
}

func (s *AuthService) issueTicket(ctx context.Context, userID string, kind mfadomain.TicketKind, dev sessiondomain.DeviceContext) (*domain.LoginResult, error) {
	t, err := s.tickets.Issue(ctx, mfadomain.Ticket{
		UserID: userID, Kind: kind, IP: dev.IP, UserAgent: dev.UserAgent, DeviceName: dev.DeviceName,
	}, s.ticketTTL)
	if err != nil {
		return nil, apperr.Transient("mfa ticket store", err)
	}
	return &domain.LoginResult{MFA: &domain.MFAStep{Ticket: t.ID, Kind: string(t.Kind), ExpiresAt: t.ExpiresAt}}, nil
}

// CompleteMFALogin redeems a challenge ticket with a TOTP or backup code. A wrong code
// counts against the ticket, which is destroyed after too many failures.
func (s *AuthService) CompleteMFALogin(ctx context.Context, ticketID, code string) (*domain.LoginResult, error) {
	t, err := s.ticket(ctx, ticketID, mfadomain.TicketChallenge)
	if err != nil {
		return nil, err
	}
	v, err := s.mfa.Verify(ctx, t.UserID, code)
	if err != nil {
		return nil, s.failCode(ctx, t, err)
	}
	return s.redeem(ctx, t, string(v.Method))
}

// BeginEnrollment starts MFA setup for the holder of an enrollment ticket. The ticket
// stays valid for CompleteEnrollment.
func (s *AuthService) BeginEnrollment(ctx context.Context, ticketID string) (*mfadomain.Enrollment, error) {
	t, err := s.ticket(ctx, ticketID, mfadomain.TicketEnrollment)
	if err != nil {
		return nil, err
	}
	return s.mfa.BeginSetup(ctx, t.UserID)
}

// CompleteEnrollment confirms the pending secret with a code and signs the user in.
func (s *AuthService) CompleteEnrollment(ctx context.Context, ticketID, code string) (*domain.LoginResult, error) {
	t, err := s.ticket(ctx, ticketID, mfadomain.TicketEnrollment)
	if err != nil {
		return nil, err
	}
	if err := s.mfa.CompleteSetup(ctx, t.UserID, code); err != nil {
		return nil, s.failCode(ctx, t, err)
	}
	return s.redeem(ctx, t, string(mfadomain.MethodTOTP))
}

// Logout ends the session that owns accessToken.
func (s *AuthService) Logout(ctx context.Context, accessToken string) error {
	id, err := s.sessions.Verify(ctx, accessToken)
	if err != nil {
		return err
	}
	if err := s.sessions.Revoke(ctx, id.SessionID, sessiondomain.ReasonLogout); err != nil {
		return err
	}
	s.auditor.LoggedOut(ctx, id.UserID, id.SessionID)
	return nil
}

func (s *AuthService) ticket(ctx context.Context, id string, kind mfadomain.TicketKind) (*mfadomain.Ticket, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.Invalid("ticket is required")
	}
	t, err := s.tickets.Get(ctx, id)
	if err != nil {
		return nil, apperr.Transient("mfa ticket store", err)
	}
	if t == nil || t.Kind != kind {
		return nil, ErrTicketInvalid
	}
	return t, nil
}

func (s *AuthService) failCode(ctx context.Context, t *mfadomain.Ticket, cause error) error {
	if !errors.Is(cause, apperr.ErrInvalidCode) {
		return cause
	}
	if _, err := s.tickets.RecordFailure(ctx, t.ID); err != nil {
		log.Printf("auth: record mfa failure: %v", err)
	}
	s.auditor.LoginFailed(ctx, t.UserID, "", "", reasonBadCode)
	return cause
}

// redeem consumes the ticket and issues the session. Of two concurrent redeemers only
// the one that consumes the ticket gets a pair.
func (s *AuthService) redeem(ctx context.Context, t *mfadomain.Ticket, method string) (*domain.LoginResult, error) {
	consumed, err := s.tickets.Consume(ctx, t.ID)
	if err != nil {
		return nil, apperr.Transient("mfa ticket store", err)
	}
	if consumed == nil {
		return nil, ErrTicketInvalid
	}
	acct, err := s.accounts.GetAccountByUserID(ctx, t.UserID)
	if err != nil {
		return nil, apperr.Transient("account store", err)
	}
	if !acct.Usable() {
		return nil, apperr.ErrInvalidCredential
	}
	if acct.User.LockedAt(s.now()) {
		return nil, &apperr.LockedError{Until: *acct.User.LockedUntil}
	}
	dev := sessiondomain.DeviceContext{IP: t.IP, UserAgent: t.UserAgent, DeviceName: t.DeviceName}
	res, err := s.signIn(ctx, acct, dev, true, method)
	if err != nil {
		return nil, err
	}
	res.PasswordExpired = s.passwords.Expired(acct.User)
	return res, nil
}

func (s *AuthService) signIn(ctx context.Context, acct *domain.Account, dev sessiondomain.DeviceContext, mfaVerified bool, method string) (*domain.LoginResult, error) {
	sub := acct.Subject()
	pair, err := s.sessions.IssuePair(ctx, sub, dev, mfaVerified)
	if err != nil {
		return nil, err
	}
	if err := s.users.RecordLogin(ctx, sub.UserID, s.now().UTC()); err != nil {
		log.Printf("auth: record login for %s: %v", sub.UserID, err)
	}
	s.auditor.LoginSucceeded(ctx, sub.UserID, sub.OrgID, pair.SessionID, sub.Email, method)
	return &domain.LoginResult{User: domain.ViewOf(sub), Pair: pair}, nil
}

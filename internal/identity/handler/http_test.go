package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"msp-identity-core/internal/apperr"
	"msp-identity-core/internal/audit"
	"msp-identity-core/internal/audit/audittest"
	"msp-identity-core/internal/identity/domain"
	"msp-identity-core/internal/identity/service"
	"msp-identity-core/internal/mfa"
	mfadomain "msp-identity-core/internal/mfa/domain"
	orgdomain "msp-identity-core/internal/organization/domain"
	pwdomain "msp-identity-core/internal/password/domain"
	"msp-identity-core/internal/platform/httpx"
	"msp-identity-core/internal/security"
	"msp-identity-core/internal/session"
	"msp-identity-core/internal/session/cache"
	"msp-identity-core/internal/session/sessiontest"
	userdomain "msp-identity-core/internal/user/domain"
)

const password = "Correct-Horse-42"

type accounts map[string]*domain.Account

func (a accounts) GetAccountByEmail(_ context.Context, email string) (*domain.Account, error) {
	return a[email], nil
}

func (a accounts) GetAccountByUserID(_ context.Context, id string) (*domain.Account, error) {
	for _, acct := range a {
		if acct.User.ID == id {
			return acct, nil
		}
	}
	return nil, nil
}

func (a accounts) RecordLogin(context.Context, string, time.Time) error { return nil }

type noLockout struct{}

func (noLockout) HandleFailedLogin(context.Context, string) (pwdomain.Outcome, error) {
	return pwdomain.Outcome{AttemptsRemaining: 4}, nil
}
func (noLockout) ResetFailedAttempts(context.Context, string) error { return nil }
func (noLockout) Expired(*userdomain.User) bool                     { return false }

type codes struct{}

func (codes) Required(_ context.Context, role userdomain.Role, _ bool) (bool, error) {
	return role == userdomain.RoleProviderAdmin, nil
}

func (codes) Verify(_ context.Context, _, code string) (*mfadomain.Verification, error) {
	if code == "123456" {
		return &mfadomain.Verification{Valid: true, Method: mfadomain.MethodTOTP}, nil
	}
	return &mfadomain.Verification{}, apperr.ErrInvalidCode
}

func (codes) BeginSetup(context.Context, string) (*mfadomain.Enrollment, error) {
	return &mfadomain.Enrollment{Secret: "JBSWY3DPEHPK3PXP", URI: "otpauth://totp/x", BackupCodes: []string{"a", "b"}}, nil
}

func (codes) CompleteSetup(_ context.Context, _, code string) error {
	if code != "123456" {
		return apperr.ErrInvalidCode
	}
	return nil
}

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	hasher := security.NewHasher(4)
	hash, err := hasher.Hash(password)
	if err != nil {
		t.Fatal(err)
	}
	provider := &orgdomain.Org{ID: "p1", Name: "Provider", Kind: orgdomain.OrgKindProvider, Status: orgdomain.OrgStatusActive}
	user := func(id, email string, role userdomain.Role, mfaStatus userdomain.MFAStatus) *domain.Account {
		return &domain.Account{Org: provider, User: &userdomain.User{ID: id, Email: email, Role: role, OrgID: "p1",
			Status: userdomain.UserStatusActive, PasswordHash: hash, MFAStatus: mfaStatus}}
	}
	accts := accounts{
		"ann@provider.example": user("u1", "ann@provider.example", userdomain.RoleTechnician, userdomain.MFAUnenrolled),
		"eve@provider.example": user("u2", "eve@provider.example", userdomain.RoleProviderAdmin, userdomain.MFAEnabled),
		"ned@provider.example": user("u3", "ned@provider.example", userdomain.RoleProviderAdmin, userdomain.MFAUnenrolled),
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	auditor := audit.NewWriterService(&audittest.Repo{}, nil)
	sessions := session.NewService(sessiontest.NewRepo(), cache.NewRedisStore(client), security.NewTestTokenProvider(), auditor)
	auth := service.NewAuthService(accts, accts, hasher, noLockout{}, codes{}, mfa.NewTicketStore(client, 5),
		sessions, auditor, time.Minute)

	h := New(auth)
	r := chi.NewRouter()
	r.Route("/v1/auth", func(r chi.Router) {
		h.PublicRoutes(r)
		r.Post("/logout", h.Logout)
	})
	return r
}

type response struct {
	User   *domain.UserView `json:"user"`
	Tokens *struct {
		AccessToken  string    `json:"accessToken"`
		RefreshToken string    `json:"refreshToken"`
		ExpiresAt    time.Time `json:"expiresAt"`
	} `json:"tokens"`
	MFA *domain.MFAStep `json:"mfa"`
}

func post(t *testing.T, h http.Handler, path, body, bearer string) (*httptest.ResponseRecorder, response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var res response
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
			t.Fatalf("decode %s: %v", rec.Body, err)
		}
	}
	return rec, res
}

func TestLogin_ReturnsUserAndTokens(t *testing.T) {
	h := newRouter(t)
	rec, res := post(t, h, "/v1/auth/login", `{"email":"ann@provider.example","password":"`+password+`"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("login response must not be cached")
	}
	if res.MFA != nil || res.Tokens == nil || res.Tokens.AccessToken == "" || res.Tokens.RefreshToken == "" {
		t.Fatalf("response = %s", rec.Body)
	}
	want := domain.UserView{ID: "u1", Email: "ann@provider.example", Role: "technician", OrgID: "p1", OrgName: "Provider", OrgType: "provider"}
	if *res.User != want {
		t.Errorf("user = %+v, want %+v", *res.User, want)
	}
}

func TestLogin_WrongPasswordIs401(t *testing.T) {
	h := newRouter(t)
	rec, _ := post(t, h, "/v1/auth/login", `{"email":"ann@provider.example","password":"nope"}`, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	var body httpx.ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Code != "invalid_credential" {
		t.Errorf("code = %q", body.Code)
	}
}

func TestLogin_UnknownFieldRejected(t *testing.T) {
	h := newRouter(t)
	rec, _ := post(t, h, "/v1/auth/login", `{"email":"ann@provider.example","password":"x","orgId":"p1"}`, "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMFAChallenge_OverHTTP(t *testing.T) {
	h := newRouter(t)
	rec, res := post(t, h, "/v1/auth/login", `{"email":"eve@provider.example","password":"`+password+`"}`, "")
	if rec.Code != http.StatusOK || res.MFA == nil {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if res.Tokens != nil || res.User != nil || res.MFA.Kind != "challenge" {
		t.Fatalf("challenge response leaked tokens or wrong kind: %s", rec.Body)
	}

	rec, _ = post(t, h, "/v1/auth/mfa/verify", `{"ticket":"`+res.MFA.Ticket+`"}`, "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("missing code status = %d", rec.Code)
	}
	rec, _ = post(t, h, "/v1/auth/mfa/verify", `{"ticket":"`+res.MFA.Ticket+`","code":"000000"}`, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong code status = %d", rec.Code)
	}
	rec, done := post(t, h, "/v1/auth/mfa/verify", `{"ticket":"`+res.MFA.Ticket+`","code":"123456"}`, "")
	if rec.Code != http.StatusOK || done.Tokens == nil || done.User.ID != "u2" {
		t.Fatalf("verify status = %d, body %s", rec.Code, rec.Body)
	}
}

func TestEnrollment_OverHTTP(t *testing.T) {
	h := newRouter(t)
	_, res := post(t, h, "/v1/auth/login", `{"email":"ned@provider.example","password":"`+password+`"}`, "")
	if res.MFA == nil || res.MFA.Kind != "enrollment" {
		t.Fatalf("mfa = %+v", res.MFA)
	}

	rec, _ := post(t, h, "/v1/auth/mfa/enroll", `{"ticket":"`+res.MFA.Ticket+`"}`, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"otpauthUri"`) {
		t.Fatalf("enroll status = %d, body %s", rec.Code, rec.Body)
	}
	rec, done := post(t, h, "/v1/auth/mfa/enroll/complete", `{"ticket":"`+res.MFA.Ticket+`","code":"123456"}`, "")
	if rec.Code != http.StatusOK || done.Tokens == nil {
		t.Fatalf("complete status = %d, body %s", rec.Code, rec.Body)
	}
}

func TestLogout(t *testing.T) {
	h := newRouter(t)
	_, res := post(t, h, "/v1/auth/login", `{"email":"ann@provider.example","password":"`+password+`"}`, "")

	rec, _ := post(t, h, "/v1/auth/logout", ``, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("logout without token = %d", rec.Code)
	}
	rec, _ = post(t, h, "/v1/auth/logout", ``, res.Tokens.AccessToken)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout = %d, body %s", rec.Code, rec.Body)
	}
	rec, _ = post(t, h, "/v1/auth/logout", ``, res.Tokens.AccessToken)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("second logout = %d", rec.Code)
	}
}

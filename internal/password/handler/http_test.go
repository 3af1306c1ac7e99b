package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"msp-identity-core/internal/audit"
	"msp-identity-core/internal/audit/audittest"
	"msp-identity-core/internal/password"
	"msp-identity-core/internal/password/domain"
	"msp-identity-core/internal/password/repository"
	"msp-identity-core/internal/security"
	userdomain "msp-identity-core/internal/user/domain"
)

// stubStore knows one user and accepts reset tokens. Other repository methods are unused here.
type stubStore struct {
	repository.Repository
	user  *userdomain.User
	saved int
}

func (s *stubStore) GetByID(_ context.Context, id string) (*userdomain.User, error) {
	if s.user != nil && s.user.ID == id {
		return s.user, nil
	}
	return nil, nil
}

func (s *stubStore) GetByEmail(_ context.Context, email string) (*userdomain.User, error) {
	if s.user != nil && s.user.Email == userdomain.NormalizeEmail(email) {
		return s.user, nil
	}
	return nil, nil
}

func (s *stubStore) SaveResetToken(_ context.Context, _ *domain.ResetToken) error {
	s.saved++
	return nil
}

type allowAll struct{}

func (allowAll) Allow(context.Context, string) (bool, error) { return true, nil }

func newHandler() (*Handler, *stubStore) {
	store := &stubStore{user: &userdomain.User{
		ID: "u1", Email: "tech@provider.example", Status: userdomain.UserStatusActive,
	}}
	svc := password.NewService(store, store, security.NewHasher(4), allowAll{},
		audit.NewWriterService(&audittest.Repo{}, nil),
		password.Config{Policy: domain.Policy{MinLength: 12, RequireDigit: true}, ResetTTL: time.Hour})
	return New(svc), store
}

func TestForgot_SameResponseForKnownAndUnknown(t *testing.T) {
	h, store := newHandler()

	send := func(email string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		body := strings.NewReader(`{"email":"` + email + `"}`)
		h.Forgot(rec, httptest.NewRequest(http.MethodPost, "/v1/auth/password/forgot", body))
		return rec
	}
	known := send("tech@provider.example")
	unknown := send("nobody@nowhere.example")

	if known.Code != http.StatusAccepted || unknown.Code != http.StatusAccepted {
		t.Fatalf("status = %d / %d, want 202", known.Code, unknown.Code)
	}
	if known.Body.String() != unknown.Body.String() {
		t.Errorf("bodies differ:\n%s\n%s", known.Body, unknown.Body)
	}
	if store.saved != 1 {
		t.Errorf("saved tokens = %d, want 1", store.saved)
	}
}

func TestValidate_ReturnsScore(t *testing.T) {
	h, _ := newHandler()
	rec := httptest.NewRecorder()
	h.Validate(rec, httptest.NewRequest(http.MethodPost, "/v1/auth/password/validate", strings.NewReader(`{"password":"short"}`)))

	var res domain.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Valid || len(res.Errors) != 2 || res.Score != 45 || res.Strength != domain.StrengthFair {
		t.Errorf("result = %+v", res)
	}
}

func TestChange_RequiresAuthentication(t *testing.T) {
	h, _ := newHandler()
	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"currentPassword":"a","newPassword":"b"}`)
	h.Change(rec, httptest.NewRequest(http.MethodPost, "/v1/auth/password/change", body))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestReset_InvalidToken(t *testing.T) {
	h, _ := newHandler()
	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"token":"","newPassword":"Whatever-123456"}`)
	h.Reset(rec, httptest.NewRequest(http.MethodPost, "/v1/auth/password/reset", body))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

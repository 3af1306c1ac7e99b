package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"msp-identity-core/internal/platform/reqctx"
	"msp-identity-core/internal/user/domain"
)

type stubUsers struct {
	byID  map[string]*domain.User
	techs []*domain.User
	err   error
}

func (s *stubUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.byID[id], nil
}

func (s *stubUsers) ListTechnicians(context.Context) ([]*domain.User, error) {
	return s.techs, s.err
}

func serve(t *testing.T, users Reader, path string, p *reqctx.Principal) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/v1/users", New(users).Routes)
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if p != nil {
		req = req.WithContext(reqctx.WithPrincipal(req.Context(), *p))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestMe(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	users := &stubUsers{byID: map[string]*domain.User{
		"u1": {ID: "u1", OrgID: "p1", Email: "ann@provider.example", Role: domain.RoleTechnician,
			Status: domain.UserStatusActive, MFAStatus: domain.MFAEnabled, PasswordHash: "$2a$secret", CreatedAt: now},
	}}
	rec := serve(t, users, "/v1/users/me", &reqctx.Principal{UserID: "u1", Role: "technician", OrgID: "p1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Fatalf("profile leaked the password hash: %s", rec.Body)
	}
	var got Profile
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != "u1" || got.MFAStatus != "enabled" || got.Role != "technician" {
		t.Errorf("profile = %+v", got)
	}
}

func TestMe_Unauthenticated(t *testing.T) {
	rec := serve(t, &stubUsers{}, "/v1/users/me", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestMe_DeletedUser(t *testing.T) {
	rec := serve(t, &stubUsers{}, "/v1/users/me", &reqctx.Principal{UserID: "gone", Role: "technician"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestMe_StoreError(t *testing.T) {
	rec := serve(t, &stubUsers{err: errors.New("db down")}, "/v1/users/me", &reqctx.Principal{UserID: "u1", Role: "technician"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestTechnicians(t *testing.T) {
	users := &stubUsers{techs: []*domain.User{
		{ID: "u1", Email: "ann@provider.example", Role: domain.RoleTechnician},
		{ID: "u2", Email: "bob@provider.example", Role: domain.RoleSeniorTechnician},
	}}
	rec := serve(t, users, "/v1/users/technicians", &reqctx.Principal{UserID: "a", Role: "provider_admin"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Technicians []Profile `json:"technicians"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Technicians) != 2 {
		t.Errorf("technicians = %+v", body.Technicians)
	}

	rec = serve(t, users, "/v1/users/technicians", &reqctx.Principal{UserID: "c", Role: "customer_admin", OrgID: "c1"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("customer admin status = %d", rec.Code)
	}
}

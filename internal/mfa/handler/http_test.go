package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"msp-identity-core/internal/audit"
	"msp-identity-core/internal/audit/audittest"
	"msp-identity-core/internal/mfa"
	"msp-identity-core/internal/mfa/domain"
	"msp-identity-core/internal/mfa/repository"
	"msp-identity-core/internal/platform/reqctx"
	"msp-identity-core/internal/security"
	userdomain "msp-identity-core/internal/user/domain"
)

// stubRepo holds one user's state. Methods not used by these tests come from the nil embed.
type stubRepo struct {
	repository.Repository
	mu    sync.Mutex
	state domain.State
}

func (s *stubRepo) GetState(_ context.Context, userID string) (*domain.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if userID != s.state.UserID {
		return nil, nil
	}
	cp := s.state
	return &cp, nil
}

func (s *stubRepo) SaveEnrollment(_ context.Context, _ string, secretEnc string, codes []string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Status = userdomain.MFAPending
	s.state.SecretEnc = secretEnc
	s.state.BackupCodeHashes = codes
	return nil
}

type mapGuard struct {
	mu   sync.Mutex
	used map[string]bool
}

func (g *mapGuard) Claim(_ context.Context, key string, _ time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.used[key] {
		return false, nil
	}
	g.used[key] = true
	return true, nil
}

func newRouter(status userdomain.MFAStatus) (http.Handler, *stubRepo) {
	repo := &stubRepo{state: domain.State{UserID: "u1", Email: "tech@provider.example", Status: status}}
	svc := mfa.NewService(repo, security.NewTestSecretBox("handler-test-key-0123456789abcdef"),
		&mapGuard{used: map[string]bool{}}, nil, audit.NewWriterService(&audittest.Repo{}, nil),
		mfa.DefaultConfig("MSP Portal", nil))
	r := chi.NewRouter()
	r.Route("/v1/mfa", New(svc).Routes)
	return r, repo
}

func authed(req *http.Request) *http.Request {
	return req.WithContext(reqctx.WithPrincipal(req.Context(), reqctx.Principal{UserID: "u1", Role: string(userdomain.RoleTechnician)}))
}

func TestSetup_ReturnsEnrollmentOnce(t *testing.T) {
	router, repo := newRouter(userdomain.MFAUnenrolled)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodPost, "/v1/mfa/setup", nil)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("enrollment response must not be cached")
	}
	var en domain.Enrollment
	if err := json.Unmarshal(rec.Body.Bytes(), &en); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(en.BackupCodes) != 10 || !strings.HasPrefix(en.URI, "otpauth://") {
		t.Errorf("enrollment = %+v", en)
	}
	if repo.state.Status != userdomain.MFAPending {
		t.Errorf("status = %q, want pending", repo.state.Status)
	}
}

func TestSetup_RequiresAuthentication(t *testing.T) {
	router, _ := newRouter(userdomain.MFAUnenrolled)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/mfa/setup", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestSetup_AlreadyEnabledConflicts(t *testing.T) {
	router, _ := newRouter(userdomain.MFAEnabled)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodPost, "/v1/mfa/setup", nil)))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestRegenerateBackupCodes_NotEnabled(t *testing.T) {
	router, _ := newRouter(userdomain.MFAUnenrolled)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodPost, "/v1/mfa/backup-codes", nil)))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	router, _ := newRouter(userdomain.MFAPending)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodGet, "/v1/mfa/status", nil)))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"pending"`) {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
}

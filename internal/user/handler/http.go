package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"msp-identity-core/internal/apperr"
	"msp-identity-core/internal/platform/httpx"
	"msp-identity-core/internal/platform/rbac"
	"msp-identity-core/internal/user/domain"
)

// Reader is the slice of the user repository the handler needs.
type Reader interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	ListTechnicians(ctx context.Context) ([]*domain.User, error)
}

// Handler serves user profile reads.
type Handler struct {
	users Reader
}

// New returns a Handler over users.
func New(users Reader) *Handler {
	return &Handler{users: users}
}

// Routes mounts the handler on r (expected under /v1/users, behind authentication).
func (h *Handler) Routes(r chi.Router) {
	r.Get("/me", h.Me)
	r.Get("/technicians", h.Technicians)
}

// Profile is the public projection of a user. Credential and lockout columns never leave the service.
type Profile struct {
	ID          string     `json:"id"`
	OrgID       string     `json:"orgId"`
	Email       string     `json:"email"`
	Name        string     `json:"name,omitempty"`
	Role        string     `json:"role"`
	Status      string     `json:"status"`
	MFAStatus   string     `json:"mfaStatus"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// ProfileOf projects u.
func ProfileOf(u *domain.User) Profile {
	return Profile{
		ID:          u.ID,
		OrgID:       u.OrgID,
		Email:       u.Email,
		Name:        u.Name,
		Role:        string(u.Role),
		Status:      string(u.Status),
		MFAStatus:   string(u.MFAStatus),
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
	}
}

// Me handles GET /v1/users/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	p, err := rbac.RequireAuthenticated(r.Context())
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	u, err := h.users.GetByID(r.Context(), p.UserID)
	if err != nil {
		httpx.Error(w, r, apperr.Transient("get user", err))
		return
	}
	if u == nil {
		httpx.Error(w, r, apperr.NotFound("user"))
		return
	}
	httpx.JSON(w, http.StatusOK, ProfileOf(u))
}

// Technicians handles GET /v1/users/technicians: the provider staff who may hold customer grants.
func (h *Handler) Technicians(w http.ResponseWriter, r *http.Request) {
	if _, err := rbac.RequirePermission(r.Context(), domain.PermViewAccess); err != nil {
		httpx.Error(w, r, err)
		return
	}
	techs, err := h.users.ListTechnicians(r.Context())
	if err != nil {
		httpx.Error(w, r, apperr.Transient("list technicians", err))
		return
	}
	out := make([]Profile, 0, len(techs))
	for _, u := range techs {
		out = append(out, ProfileOf(u))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"technicians": out})
}

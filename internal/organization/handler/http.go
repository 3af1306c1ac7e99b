package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"msp-identity-core/internal/apperr"
	"msp-identity-core/internal/organization/domain"
	"msp-identity-core/internal/platform/httpx"
	"msp-identity-core/internal/platform/rbac"
	"msp-identity-core/internal/platform/reqctx"
	userdomain "msp-identity-core/internal/user/domain"
)

// Reader is the slice of the organization repository the handler needs.
type Reader interface {
	GetOrganizationByID(ctx context.Context, id string) (*domain.Org, error)
	ListActiveCustomers(ctx context.Context) ([]*domain.Org, error)
}

// Handler serves organization reads.
type Handler struct {
	orgs Reader
}

// New returns a Handler over orgs.
func New(orgs Reader) *Handler {
	return &Handler{orgs: orgs}
}

// Routes mounts the handler on r (expected under /v1/organizations, behind authentication).
func (h *Handler) Routes(r chi.Router) {
	r.Get("/customers", h.Customers)
	r.Get("/{id}", h.Get)
}

// View is an organization as returned by the API.
type View struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Kind       string          `json:"kind"`
	Status     string          `json:"status"`
	SSOEnabled bool            `json:"ssoEnabled"`
	Settings   domain.Settings `json:"settings"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// ViewOf projects o.
func ViewOf(o *domain.Org) View {
	return View{
		ID:         o.ID,
		Name:       o.Name,
		Kind:       string(o.Kind),
		Status:     string(o.Status),
		SSOEnabled: o.SSOEnabled,
		Settings:   o.Settings,
		CreatedAt:  o.CreatedAt,
	}
}

// Get handles GET /v1/organizations/{id}. Customer roles may read only their own organization.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := rbac.RequireAuthenticated(r.Context())
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	id, err := scope(p, chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	o, err := h.orgs.GetOrganizationByID(r.Context(), id)
	if err != nil {
		httpx.Error(w, r, apperr.Transient("get organization", err))
		return
	}
	if o == nil || o.Status == domain.OrgStatusDeleted {
		httpx.Error(w, r, apperr.NotFound("organization"))
		return
	}
	httpx.JSON(w, http.StatusOK, ViewOf(o))
}

// scope pins customer callers to their own org. Provider callers may name any org.
func scope(p reqctx.Principal, requested string) (string, error) {
	if requested == "" {
		return "", apperr.Invalid("organization id is required")
	}
	return rbac.ScopeOrg(p, requested)
}

// Customers handles GET /v1/organizations/customers.
func (h *Handler) Customers(w http.ResponseWriter, r *http.Request) {
	if _, err := rbac.RequirePermission(r.Context(), userdomain.PermViewAccess); err != nil {
		httpx.Error(w, r, err)
		return
	}
	orgs, err := h.orgs.ListActiveCustomers(r.Context())
	if err != nil {
		httpx.Error(w, r, apperr.Transient("list customers", err))
		return
	}
	out := make([]View, 0, len(orgs))
	for _, o := range orgs {
		out = append(out, ViewOf(o))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"customers": out})
}

package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"msp-identity-core/internal/access"
	"msp-identity-core/internal/access/domain"
	"msp-identity-core/internal/apperr"
	"msp-identity-core/internal/platform/httpx"
	"msp-identity-core/internal/platform/rbac"
	"msp-identity-core/internal/platform/reqctx"
	userdomain "msp-identity-core/internal/user/domain"
)

// Handler serves technician access management.
type Handler struct {
	svc *access.Service
}

// New returns a Handler over svc.
func New(svc *access.Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts the handler on r (expected under /v1/access, behind authentication).
func (h *Handler) Routes(r chi.Router) {
	r.Get("/matrix", h.Matrix)
	r.Post("/", h.Grant)
	r.Post("/handoff", h.Handoff)
	r.Post("/check", h.Check)
	r.Get("/technicians/{id}", h.ListForTechnician)
	r.Get("/customers/{id}", h.ListForCustomer)
	r.Get("/{id}", h.Get)
	r.Patch("/{id}", h.Update)
	r.Post("/{id}/revoke", h.Revoke)
}

func requireManager(r *http.Request) (reqctx.Principal, error) {
	return rbac.RequireRole(r.Context(), userdomain.RoleProviderAdmin, userdomain.RoleSeniorTechnician)
}

// Matrix handles GET /v1/access/matrix.
func (h *Handler) Matrix(w http.ResponseWriter, r *http.Request) {
	if _, err := requireManager(r); err != nil {
		httpx.Error(w, r, err)
		return
	}
	m, err := h.svc.BuildAccessMatrix(r.Context())
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

// Grant handles POST /v1/access.
func (h *Handler) Grant(w http.ResponseWriter, r *http.Request) {
	p, err := requireManager(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var req domain.GrantRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	g, err := h.svc.Grant(r.Context(), p.UserID, req)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, g)
}

// Get handles GET /v1/access/{id}. Technicians may read their own grants.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := rbac.RequireAuthenticated(r.Context())
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	g, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if g.TechnicianID != p.UserID && !userdomain.Role(p.Role).Has(userdomain.PermManageAccess) {
		httpx.Error(w, r, apperr.NotFound("access grant"))
		return
	}
	httpx.JSON(w, http.StatusOK, g)
}

// Update handles PATCH /v1/access/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	p, err := requireManager(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var patch domain.Patch
	if err := httpx.Decode(r, &patch); err != nil {
		httpx.Error(w, r, err)
		return
	}
	g, err := h.svc.Update(r.Context(), p.UserID, chi.URLParam(r, "id"), patch)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, g)
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

// Revoke handles POST /v1/access/{id}/revoke.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	p, err := requireManager(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var req revokeRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		httpx.Error(w, r, apperr.Invalid("reason is required"))
		return
	}
	g, err := h.svc.Revoke(r.Context(), p.UserID, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, g)
}

// Handoff handles POST /v1/access/handoff.
func (h *Handler) Handoff(w http.ResponseWriter, r *http.Request) {
	p, err := requireManager(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var req domain.HandoffRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	out, err := h.svc.Handoff(r.Context(), p.UserID, req)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

// Check handles POST /v1/access/check. Managers may check any technician; a technician
// may check only their own access. The caller's address is used when ip is omitted.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	p, err := rbac.RequireAuthenticated(r.Context())
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var req domain.CheckRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	if req.TechnicianID == "" {
		req.TechnicianID = p.UserID
	}
	if req.TechnicianID != p.UserID && !userdomain.Role(p.Role).Has(userdomain.PermManageAccess) {
		httpx.Error(w, r, apperr.ErrForbidden)
		return
	}
	if req.IP == "" && req.TechnicianID == p.UserID {
		req.IP = reqctx.GetClient(r.Context()).IP
	}
	d, err := h.svc.Check(r.Context(), req)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

// ListForTechnician handles GET /v1/access/technicians/{id}?active=true.
func (h *Handler) ListForTechnician(w http.ResponseWriter, r *http.Request) {
	p, err := rbac.RequireAuthenticated(r.Context())
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	if id != p.UserID && !userdomain.Role(p.Role).Has(userdomain.PermViewAccess) {
		httpx.Error(w, r, apperr.ErrForbidden)
		return
	}
	list, err := h.svc.ListForTechnician(r.Context(), id, r.URL.Query().Get("active") == "true")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string][]*domain.Grant{"grants": nonNil(list)})
}

// ListForCustomer handles GET /v1/access/customers/{id}. Customer admins may list the
// technicians working on their own organization.
func (h *Handler) ListForCustomer(w http.ResponseWriter, r *http.Request) {
	p, err := rbac.RequireAuthenticated(r.Context())
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	role := userdomain.Role(p.Role)
	if !role.Has(userdomain.PermViewAccess) && role != userdomain.RoleCustomerAdmin {
		httpx.Error(w, r, apperr.ErrForbidden)
		return
	}
	orgID, err := rbac.ScopeOrg(p, chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	list, err := h.svc.ListForCustomer(r.Context(), orgID, r.URL.Query().Get("active") == "true")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string][]*domain.Grant{"grants": nonNil(list)})
}

// Roles handles GET /v1/roles?orgType=provider|customer.
func (h *Handler) Roles(w http.ResponseWriter, r *http.Request) {
	if _, err := requireManager(r); err != nil {
		httpx.Error(w, r, err)
		return
	}
	kind := r.URL.Query().Get("orgType")
	if kind != "provider" && kind != "customer" {
		httpx.Error(w, r, apperr.Invalid("orgType must be provider or customer"))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"orgType": kind, "roles": h.svc.ListValidRoles(kind)})
}

func nonNil(list []*domain.Grant) []*domain.Grant {
	if list == nil {
		return []*domain.Grant{}
	}
	return list
}

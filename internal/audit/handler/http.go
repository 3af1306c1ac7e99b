package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"msp-identity-core/internal/apperr"
	"msp-identity-core/internal/audit"
	"msp-identity-core/internal/audit/domain"
	"msp-identity-core/internal/platform/httpx"
	"msp-identity-core/internal/platform/rbac"
	userdomain "msp-identity-core/internal/user/domain"
)

// Handler serves the audit read API. Provider readers see every organization; customer
// admins are pinned to their own.
type Handler struct {
	svc *audit.Service
}

// New returns a Handler over svc.
func New(svc *audit.Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts the audit endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/logs", h.Logs)
	r.Get("/stats", h.Stats)
	r.Get("/compliance-report", h.ComplianceReport)
}

// Logs handles GET /v1/audit/logs.
func (h *Handler) Logs(w http.ResponseWriter, r *http.Request) {
	p, err := rbac.RequirePermission(r.Context(), userdomain.PermReadAudit)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	q := r.URL.Query()
	f := domain.Filter{
		UserID:       q.Get("userId"),
		Action:       q.Get("action"),
		ResourceType: q.Get("resourceType"),
		Risk:         domain.RiskLevel(q.Get("risk")),
		IP:           q.Get("ip"),
	}
	if f.OrgID, err = rbac.ScopeOrg(p, q.Get("orgId")); err != nil {
		httpx.Error(w, r, err)
		return
	}
	for _, name := range []string{"userId", "orgId"} {
		if err := httpx.ValidUUID(name, q.Get(name)); err != nil {
			httpx.Error(w, r, err)
			return
		}
	}
	if v := q.Get("complianceRelevant"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			httpx.Error(w, r, apperr.Invalid("complianceRelevant must be a boolean"))
			return
		}
		f.ComplianceRelevant = &b
	}
	if f.Limit, err = httpx.QueryInt(r, "limit"); err != nil {
		httpx.Error(w, r, err)
		return
	}
	if f.Offset, err = httpx.QueryInt(r, "offset"); err != nil {
		httpx.Error(w, r, err)
		return
	}
	if f.From, err = httpx.QueryTime(r, "from"); err != nil {
		httpx.Error(w, r, err)
		return
	}
	if f.To, err = httpx.QueryTime(r, "to"); err != nil {
		httpx.Error(w, r, err)
		return
	}
	page, err := h.svc.Query(r.Context(), f)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	out := make([]entryResponse, len(page.Entries))
	for i, e := range page.Entries {
		out[i] = toResponse(e)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"entries": out,
		"total":   page.Total,
		"limit":   page.Limit,
		"offset":  page.Offset,
	})
}

// Stats handles GET /v1/audit/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	st, err := h.svc.Stats(r.Context(), scope)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

// ComplianceReport handles GET /v1/audit/compliance-report.
func (h *Handler) ComplianceReport(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	rep, err := h.svc.ComplianceReport(r.Context(), scope)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"orgId":            rep.OrgID,
		"from":             rep.From,
		"to":               rep.To,
		"generatedAt":      rep.GeneratedAt,
		"summary":          rep.Summary,
		"userManagement":   toResponses(rep.UserManagement),
		"accessManagement": toResponses(rep.AccessManagement),
		"dataAccess":       toResponses(rep.DataAccess),
		"securityEvents":   toResponses(rep.SecurityEvents),
	})
}

func (h *Handler) scope(w http.ResponseWriter, r *http.Request) (domain.Scope, bool) {
	p, err := rbac.RequirePermission(r.Context(), userdomain.PermReadAudit)
	if err != nil {
		httpx.Error(w, r, err)
		return domain.Scope{}, false
	}
	var s domain.Scope
	if s.OrgID, err = rbac.ScopeOrg(p, r.URL.Query().Get("orgId")); err != nil {
		httpx.Error(w, r, err)
		return domain.Scope{}, false
	}
	if err := httpx.ValidUUID("orgId", r.URL.Query().Get("orgId")); err != nil {
		httpx.Error(w, r, err)
		return domain.Scope{}, false
	}
	if s.From, err = httpx.QueryTime(r, "from"); err != nil {
		httpx.Error(w, r, err)
		return domain.Scope{}, false
	}
	if s.To, err = httpx.QueryTime(r, "to"); err != nil {
		httpx.Error(w, r, err)
		return domain.Scope{}, false
	}
	return s, true
}

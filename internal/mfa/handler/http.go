package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"msp-identity-core/internal/mfa"
	"msp-identity-core/internal/platform/httpx"
	"msp-identity-core/internal/platform/rbac"
	userdomain "msp-identity-core/internal/user/domain"
)

// Handler serves self-service MFA management for the authenticated user.
type Handler struct {
	svc *mfa.Service
}

// New returns a Handler over svc.
func New(svc *mfa.Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts the handler on r (expected under /v1/mfa, behind authentication).
func (h *Handler) Routes(r chi.Router) {
	r.Get("/status", h.Status)
	r.Post("/setup", h.Setup)
	r.Post("/setup/complete", h.CompleteSetup)
	r.Post("/disable", h.Disable)
	r.Post("/backup-codes", h.RegenerateBackupCodes)
}

type codeRequest struct {
	Code string `json:"code"`
}

// Status handles GET /v1/mfa/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	p, err := rbac.RequireAuthenticated(r.Context())
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	status, err := h.svc.Status(r.Context(), p.UserID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

// Setup handles POST /v1/mfa/setup. The secret and backup codes appear in this response only.
func (h *Handler) Setup(w http.ResponseWriter, r *http.Request) {
	p, err := rbac.RequireAuthenticated(r.Context())
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	en, err := h.svc.BeginSetup(r.Context(), p.UserID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.JSON(w, http.StatusCreated, en)
}

// CompleteSetup handles POST /v1/mfa/setup/complete.
func (h *Handler) CompleteSetup(w http.ResponseWriter, r *http.Request) {
	p, err := rbac.RequireAuthenticated(r.Context())
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var req codeRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	if err := h.svc.CompleteSetup(r.Context(), p.UserID, req.Code); err != nil {
		httpx.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Disable handles POST /v1/mfa/disable. An enabled user must present a current code.
func (h *Handler) Disable(w http.ResponseWriter, r *http.Request) {
	p, err := rbac.RequireAuthenticated(r.Context())
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var req codeRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	status, err := h.svc.Status(r.Context(), p.UserID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if status == userdomain.MFAEnabled {
		if _, err := h.svc.Verify(r.Context(), p.UserID, req.Code); err != nil {
			httpx.Error(w, r, err)
			return
		}
	}
	if err := h.svc.Disable(r.Context(), p.UserID); err != nil {
		httpx.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RegenerateBackupCodes handles POST /v1/mfa/backup-codes.
func (h *Handler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	p, err := rbac.RequireAuthenticated(r.Context())
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	codes, err := h.svc.RegenerateBackupCodes(r.Context(), p.UserID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.JSON(w, http.StatusOK, map[string][]string{"backupCodes": codes})
}

package handler

import (
	"log"
	"net/http"

	"msp-identity-core/internal/password"
	"msp-identity-core/internal/platform/httpx"
	"msp-identity-core/internal/platform/rbac"
)

// Handler serves the password endpoints.
type Handler struct {
	svc *password.Service
}

// New returns a Handler over svc.
func New(svc *password.Service) *Handler {
	return &Handler{svc: svc}
}

type forgotRequest struct {
	Email string `json:"email"`
}

// Forgot handles POST /v1/auth/password/forgot. The response never depends on whether
// the email is registered.
func (h *Handler) Forgot(w http.ResponseWriter, r *http.Request) {
	var req forgotRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	if _, err := h.svc.GenerateResetToken(r.Context(), req.Email); err != nil {
		log.Printf("password: reset request: %v", err)
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{
		"message": "If the address belongs to an active account, a reset link has been sent.",
	})
}

type resetRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// Reset handles POST /v1/auth/password/reset.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	if err := h.svc.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		httpx.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type changeRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// Change handles POST /v1/auth/password/change for the authenticated user.
func (h *Handler) Change(w http.ResponseWriter, r *http.Request) {
	p, err := rbac.RequireAuthenticated(r.Context())
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var req changeRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	if err := h.svc.Change(r.Context(), p.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		httpx.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type validateRequest struct {
	Password string `json:"password"`
}

// Validate handles POST /v1/auth/password/validate, the strength meter.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	res := h.svc.Validate(req.Password)
	if res.Errors == nil {
		res.Errors = []string{}
	}
	httpx.JSON(w, http.StatusOK, res)
}

// Package handler serves the dev-only reset-token lookup.
package handler

import (
	"net/http"

	"msp-identity-core/internal/apperr"
	"msp-identity-core/internal/devtoken"
	"msp-identity-core/internal/platform/httpx"
)

const devNote = "DEV MODE ONLY"

// Handler reads reset tokens from the dev store. Only mounted when DEV_RESET_TOKENS is set
// and APP_ENV is not production.
type Handler struct {
	store devtoken.Store
}

// New returns a Handler over store.
func New(store devtoken.Store) *Handler {
	return &Handler{store: store}
}

// ResetToken handles GET /v1/dev/reset-token?email=.
func (h *Handler) ResetToken(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		httpx.Error(w, r, apperr.Invalid("email is required"))
		return
	}
	token, ok := h.store.Get(r.Context(), email)
	if !ok {
		httpx.Error(w, r, apperr.NotFound("reset token"))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"token": token, "note": devNote})
}

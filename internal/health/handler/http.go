// Package handler serves the readiness report over HTTP.
package handler

import (
	"net/http"

	"msp-identity-core/internal/health"
	"msp-identity-core/internal/platform/httpx"
)

// Handler serves GET /healthz.
type Handler struct {
	checker *health.Checker
}

// New returns a Handler over checker.
func New(checker *health.Checker) *Handler {
	return &Handler{checker: checker}
}

// ServeHTTP writes the report with 200 when every check passes, else 503.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rep := h.checker.Check(r.Context())
	status := http.StatusOK
	if !rep.OK {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.JSON(w, status, rep)
}

package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"msp-identity-core/internal/apperr"
	"msp-identity-core/internal/platform/httpx"
	"msp-identity-core/internal/platform/rbac"
	"msp-identity-core/internal/platform/reqctx"
	"msp-identity-core/internal/session"
	"msp-identity-core/internal/session/domain"
	userdomain "msp-identity-core/internal/user/domain"
)

// Handler serves token refresh and session management.
type Handler struct {
	svc *session.Service
}

// New returns a Handler over svc.
func New(svc *session.Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts the session management endpoints on r (expected under /v1/sessions, behind authentication).
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/revoke-all", h.RevokeAll)
	r.Delete("/{id}", h.Revoke)
}

// Tokens is the token half of every authentication response.
type Tokens struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// TokensOf converts a freshly issued pair to its wire form.
func TokensOf(p *domain.Pair) Tokens {
	return Tokens{AccessToken: p.AccessToken, RefreshToken: p.RefreshToken, ExpiresAt: p.AccessExpiresAt.UTC()}
}

// DeviceOf reads the device context of the calling client.
func DeviceOf(r *http.Request, deviceName string) domain.DeviceContext {
	c := reqctx.GetClient(r.Context())
	return domain.DeviceContext{IP: c.IP, UserAgent: c.UserAgent, DeviceName: deviceName}
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Refresh handles POST /v1/auth/refresh.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	if req.RefreshToken == "" {
		httpx.Error(w, r, apperr.Invalid("refreshToken is required"))
		return
	}
	pair, err := h.svc.Refresh(r.Context(), req.RefreshToken, DeviceOf(r, ""))
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.JSON(w, http.StatusOK, map[string]Tokens{"tokens": TokensOf(pair)})
}

type sessionView struct {
	ID             string               `json:"id"`
	Device         domain.DeviceContext `json:"device"`
	MFAVerified    bool                 `json:"mfaVerified"`
	Current        bool                 `json:"current"`
	LastActivityAt time.Time            `json:"lastActivityAt"`
	CreatedAt      time.Time            `json:"createdAt"`
	ExpiresAt      time.Time            `json:"expiresAt"`
}

// List handles GET /v1/sessions. Provider admins may pass ?userId= to inspect another user.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p, err := rbac.RequireAuthenticated(r.Context())
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	userID := p.UserID
	if q := r.URL.Query().Get("userId"); q != "" && q != p.UserID {
		if userdomain.Role(p.Role) != userdomain.RoleProviderAdmin {
			httpx.Error(w, r, apperr.ErrForbidden)
			return
		}
		userID = q
	}
	list, err := h.svc.ListActive(r.Context(), userID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	out := make([]sessionView, 0, len(list))
	for _, s := range list {
		out = append(out, sessionView{
			ID:             s.ID,
			Device:         s.Device,
			MFAVerified:    s.MFAVerified,
			Current:        s.ID == p.SessionID,
			LastActivityAt: s.LastActivityAt,
			CreatedAt:      s.CreatedAt,
			ExpiresAt:      s.ExpiresAt,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string][]sessionView{"sessions": out})
}

// Revoke handles DELETE /v1/sessions/{id}. Owners may revoke their own sessions; provider
// admins may revoke anyone's. Other callers get NotFound so foreign session ids stay hidden.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	p, err := rbac.RequireAuthenticated(r.Context())
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	sess, err := h.svc.Get(r.Context(), id)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	reason := domain.ReasonUserRevoked
	if sess.UserID != p.UserID {
		if userdomain.Role(p.Role) != userdomain.RoleProviderAdmin {
			httpx.Error(w, r, apperr.NotFound("session"))
			return
		}
		reason = domain.ReasonAdmin
	}
	if err := h.svc.Revoke(r.Context(), id, reason); err != nil {
		httpx.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RevokeAll handles POST /v1/sessions/revoke-all for the caller's own sessions.
func (h *Handler) RevokeAll(w http.ResponseWriter, r *http.Request) {
	p, err := rbac.RequireAuthenticated(r.Context())
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	n, err := h.svc.RevokeAll(r.Context(), p.UserID, domain.ReasonRevokeAll)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"revoked": n})
}

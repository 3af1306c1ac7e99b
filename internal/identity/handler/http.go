package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"msp-identity-core/internal/apperr"
	"msp-identity-core/internal/identity/domain"
	"msp-identity-core/internal/identity/service"
	"msp-identity-core/internal/platform/httpx"
	sessionhandler "msp-identity-core/internal/session/handler"
)

// Handler serves the login flow.
type Handler struct {
	auth *service.AuthService
}

// New returns a Handler over auth.
func New(auth *service.AuthService) *Handler {
	return &Handler{auth: auth}
}

// PublicRoutes mounts the unauthenticated login steps on r (expected under /v1/auth).
func (h *Handler) PublicRoutes(r chi.Router) {
	r.Post("/login", h.Login)
	r.Post("/mfa/verify", h.VerifyMFA)
	r.Post("/mfa/enroll", h.BeginEnrollment)
	r.Post("/mfa/enroll/complete", h.CompleteEnrollment)
}

// loginResponse is the one response shape of every login step: either user and
// tokens, or the pending MFA step.
type loginResponse struct {
	User            *domain.UserView       `json:"user,omitempty"`
	Tokens          *sessionhandler.Tokens `json:"tokens,omitempty"`
	MFA             *domain.MFAStep        `json:"mfa,omitempty"`
	PasswordExpired bool                   `json:"passwordExpired,omitempty"`
}

func writeLogin(w http.ResponseWriter, res *domain.LoginResult) {
	body := loginResponse{MFA: res.MFA}
	if res.Complete() {
		tokens := sessionhandler.TokensOf(res.Pair)
		body.User = res.User
		body.Tokens = &tokens
		body.PasswordExpired = res.PasswordExpired
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.JSON(w, http.StatusOK, body)
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	DeviceName string `json:"deviceName,omitempty"`
}

// Login handles POST /v1/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	res, err := h.auth.Login(r.Context(), req.Email, req.Password, sessionhandler.DeviceOf(r, req.DeviceName))
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	writeLogin(w, res)
}

type ticketRequest struct {
	Ticket string `json:"ticket"`
	Code   string `json:"code,omitempty"`
}

func decodeTicket(r *http.Request, needCode bool) (ticketRequest, error) {
	var req ticketRequest
	if err := httpx.Decode(r, &req); err != nil {
		return req, err
	}
	var reasons []string
	if req.Ticket == "" {
		reasons = append(reasons, "ticket is required")
	}
	if needCode && req.Code == "" {
		reasons = append(reasons, "code is required")
	}
	if len(reasons) > 0 {
		return req, apperr.Invalid(reasons...)
	}
	return req, nil
}

// VerifyMFA handles POST /v1/auth/mfa/verify.
func (h *Handler) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTicket(r, true)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	res, err := h.auth.CompleteMFALogin(r.Context(), req.Ticket, req.Code)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	writeLogin(w, res)
}

// BeginEnrollment handles POST /v1/auth/mfa/enroll. The secret and backup codes appear
// in this response only.
func (h *Handler) BeginEnrollment(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTicket(r, false)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	en, err := h.auth.BeginEnrollment(r.Context(), req.Ticket)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.JSON(w, http.StatusOK, en)
}

// CompleteEnrollment handles POST /v1/auth/mfa/enroll/complete.
func (h *Handler) CompleteEnrollment(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTicket(r, true)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	res, err := h.auth.CompleteEnrollment(r.Context(), req.Ticket, req.Code)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	writeLogin(w, res)
}

// Logout handles POST /v1/auth/logout. It ends the session of the presented access token.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token := httpx.BearerToken(r)
	if token == "" {
		httpx.Error(w, r, apperr.ErrTokenInvalid)
		return
	}
	if err := h.auth.Logout(r.Context(), token); err != nil {
		httpx.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

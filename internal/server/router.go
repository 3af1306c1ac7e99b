// Package server assembles the HTTP API and the gRPC health endpoint.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	accesshandler "msp-identity-core/internal/access/handler"
	audithandler "msp-identity-core/internal/audit/handler"
	devtokenhandler "msp-identity-core/internal/devtoken/handler"
	healthhandler "msp-identity-core/internal/health/handler"
	identityhandler "msp-identity-core/internal/identity/handler"
	mfahandler "msp-identity-core/internal/mfa/handler"
	orghandler "msp-identity-core/internal/organization/handler"
	passwordhandler "msp-identity-core/internal/password/handler"
	sessionhandler "msp-identity-core/internal/session/handler"
	"msp-identity-core/internal/telemetry"
	userhandler "msp-identity-core/internal/user/handler"
)

const maxBodyBytes = 1 << 20

// Handlers are the transport adapters the router mounts. DevToken is optional.
type Handlers struct {
	Identity *identityhandler.Handler
	Sessions *sessionhandler.Handler
	Password *passwordhandler.Handler
	MFA      *mfahandler.Handler
	Access   *accesshandler.Handler
	Audit    *audithandler.Handler
	Users    *userhandler.Handler
	Orgs     *orghandler.Handler
	Health   *healthhandler.Handler
	DevToken *devtokenhandler.Handler
}

// RouterConfig holds the router's non-handler dependencies.
type RouterConfig struct {
	Verifier Verifier
	Metrics  *telemetry.Metrics
	// AuthLimiter throttles the unauthenticated auth endpoints per address.
	AuthLimiter *IPLimiter
	TrustProxy  bool
	// RequestTimeout is the context deadline of every API request. Zero disables it.
	RequestTimeout time.Duration
}

// NewRouter returns the API router.
//
// Public, rate limited: /v1/auth/{login,mfa/*,refresh,password/forgot,password/reset,password/validate}.
// Bearer authenticated: logout, sessions, password change, MFA self-service, access, roles, audit,
// user profile and organization reads.
// Unauthenticated: /healthz, /metrics and, when enabled, /v1/dev/reset-token.
func NewRouter(h Handlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(Logging)
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Instrument)
	}
	r.Use(SecurityHeaders)
	r.Use(WithClient(cfg.TrustProxy))
	r.Use(middleware.RequestSize(maxBodyBytes))
	if cfg.RequestTimeout > 0 {
		r.Use(Deadline(cfg.RequestTimeout))
	}

	if h.Health != nil {
		r.Method(http.MethodGet, "/healthz", h.Health)
	}
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				if cfg.AuthLimiter != nil {
					r.Use(cfg.AuthLimiter.Middleware)
				}
				h.Identity.PublicRoutes(r)
				r.Post("/refresh", h.Sessions.Refresh)
				r.Post("/password/forgot", h.Password.Forgot)
				r.Post("/password/reset", h.Password.Reset)
				r.Post("/password/validate", h.Password.Validate)
			})
			r.Group(func(r chi.Router) {
				r.Use(Authenticate(cfg.Verifier))
				r.Post("/logout", h.Identity.Logout)
				r.Post("/password/change", h.Password.Change)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(Authenticate(cfg.Verifier))
			r.Route("/sessions", h.Sessions.Routes)
			r.Route("/mfa", h.MFA.Routes)
			r.Route("/access", h.Access.Routes)
			r.Get("/roles", h.Access.Roles)
			r.Route("/audit", h.Audit.Routes)
			r.Route("/users", h.Users.Routes)
			r.Route("/organizations", h.Orgs.Routes)
		})

		if h.DevToken != nil {
			r.Get("/dev/reset-token", h.DevToken.ResetToken)
		}
	})
	return r
}

package server

import (
	"context"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"msp-identity-core/internal/apperr"
	"msp-identity-core/internal/platform/httpx"
	"msp-identity-core/internal/platform/reqctx"
	sessiondomain "msp-identity-core/internal/session/domain"
)

// Verifier resolves an access token to the identity it asserts.
type Verifier interface {
	Verify(ctx context.Context, token string) (*sessiondomain.Identity, error)
}

// ClientIP returns the caller's address. With trustProxy the first X-Forwarded-For
// hop, then X-Real-IP, take precedence over the socket peer.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if s := strings.TrimSpace(first); s != "" {
				return s
			}
		}
		if s := strings.TrimSpace(r.Header.Get("X-Real-IP")); s != "" {
			return s
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// WithClient records the caller's address and user agent in the request context.
func WithClient(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := reqctx.WithClient(r.Context(), reqctx.Client{
				IP:        ClientIP(r, trustProxy),
				UserAgent: r.UserAgent(),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Authenticate rejects requests without a valid bearer access token and puts the
// verified principal in the context of those it admits.
func Authenticate(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := httpx.BearerToken(r)
			if token == "" {
				httpx.Error(w, r, apperr.ErrTokenInvalid)
				return
			}
			id, err := v.Verify(r.Context(), token)
			if err != nil {
				httpx.Error(w, r, err)
				return
			}
			ctx := reqctx.WithPrincipal(r.Context(), reqctx.Principal{
				UserID:    id.UserID,
				Email:     id.Email,
				Role:      id.Role,
				OrgID:     id.OrgID,
				OrgName:   id.OrgName,
				OrgType:   id.OrgType,
				SessionID: id.SessionID,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SecurityHeaders sets the response hardening headers every API response carries.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// Logging writes one line per request: method, path, status, duration, request id.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		log.Printf("http: %s %s -> %d (%s) req=%s", r.Method, r.URL.Path, status,
			time.Since(start).Round(time.Microsecond), middleware.GetReqID(r.Context()))
	})
}

// Deadline bounds the request context so storage calls made on its behalf give up after d.
func Deadline(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

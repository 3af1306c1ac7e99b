package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	accesshandler "msp-identity-core/internal/access/handler"
	"msp-identity-core/internal/audit"
	"msp-identity-core/internal/audit/audittest"
	"msp-identity-core/internal/health"
	healthhandler "msp-identity-core/internal/health/handler"
	identityhandler "msp-identity-core/internal/identity/handler"
	"msp-identity-core/internal/security"
	"msp-identity-core/internal/session"
	"msp-identity-core/internal/session/cache"
	sessiondomain "msp-identity-core/internal/session/domain"
	sessionhandler "msp-identity-core/internal/session/handler"
	"msp-identity-core/internal/session/sessiontest"
	"msp-identity-core/internal/telemetry"
)

type routerEnv struct {
	router   http.Handler
	sessions *session.Service
	metrics  *telemetry.Metrics
}

func newRouterEnv(t *testing.T) *routerEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	sessions := session.NewService(sessiontest.NewRepo(), cache.NewRedisStore(client), security.NewTestTokenProvider(),
		audit.NewWriterService(&audittest.Repo{}, nil))

	checker := health.NewChecker(time.Second)
	checker.Register("redis", func(ctx context.Context) error { return client.Ping(ctx).Err() })

	metrics := telemetry.NewMetrics()
	h := Handlers{
		Identity: identityhandler.New(nil),
		Sessions: sessionhandler.New(sessions),
		Access:   accesshandler.New(nil),
		Health:   healthhandler.New(checker),
	}
	r := NewRouter(h, RouterConfig{
		Verifier:    sessions,
		Metrics:     metrics,
		AuthLimiter: NewIPLimiter("auth", 0.01, 2, metrics.RateLimited),
	})
	return &routerEnv{router: r, sessions: sessions, metrics: metrics}
}

func (e *routerEnv) do(method, path, body, token string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	r.RemoteAddr = "198.51.100.7:3000"
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, r)
	return rec
}

func (e *routerEnv) login(t *testing.T, role string) *sessiondomain.Pair {
	t.Helper()
	pair, err := e.sessions.IssuePair(context.Background(), sessiondomain.Subject{
		UserID: "u-" + role, Email: role + "@provider.example", Role: role,
		OrgID: "p1", OrgName: "Provider", OrgType: "provider",
	}, sessiondomain.DeviceContext{IP: "198.51.100.7"}, true)
	require.NoError(t, err)
	return pair
}

func TestRouter_Healthz(t *testing.T) {
	e := newRouterEnv(t)
	rec := e.do(http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"name":"redis"`)
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestRouter_Metrics(t *testing.T) {
	e := newRouterEnv(t)
	e.do(http.MethodGet, "/healthz", "", "")
	rec := e.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `identity_http_requests_total{method="GET",route="/healthz",status="200"} 1`)
}

func TestRouter_ProtectedRoutesNeedBearer(t *testing.T) {
	e := newRouterEnv(t)
	for _, route := range []struct{ method, path string }{
		{http.MethodPost, "/v1/auth/logout"},
		{http.MethodGet, "/v1/sessions"},
		{http.MethodDelete, "/v1/sessions/abc"},
		{http.MethodPost, "/v1/sessions/revoke-all"},
		{http.MethodPost, "/v1/auth/password/change"},
		{http.MethodPost, "/v1/mfa/setup"},
		{http.MethodGet, "/v1/access/matrix"},
		{http.MethodGet, "/v1/roles?orgType=provider"},
		{http.MethodGet, "/v1/audit/logs"},
		{http.MethodGet, "/v1/users/me"},
		{http.MethodGet, "/v1/organizations/customers"},
	} {
		rec := e.do(route.method, route.path, "", "")
		require.Equal(t, http.StatusUnauthorized, rec.Code, route.path)
		rec = e.do(route.method, route.path, "", "not-a-token")
		require.Equal(t, http.StatusUnauthorized, rec.Code, route.path)
	}
}

func TestRouter_AuthenticatedRequestReachesHandler(t *testing.T) {
	e := newRouterEnv(t)
	admin := e.login(t, "provider_admin")

	rec := e.do(http.MethodGet, "/v1/roles?orgType=customer", "", admin.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		OrgType string `json:"orgType"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "customer", body.OrgType)

	tech := e.login(t, "technician")
	rec = e.do(http.MethodGet, "/v1/roles?orgType=customer", "", tech.AccessToken)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(http.MethodGet, "/v1/sessions", "", tech.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRouter_RevokedSessionRejected(t *testing.T) {
	e := newRouterEnv(t)
	pair := e.login(t, "technician")
	require.NoError(t, e.sessions.Revoke(context.Background(), pair.SessionID, sessiondomain.ReasonAdmin))

	rec := e.do(http.MethodGet, "/v1/sessions", "", pair.AccessToken)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_PublicAuthIsRateLimited(t *testing.T) {
	e := newRouterEnv(t)
	for i := 0; i < 2; i++ {
		rec := e.do(http.MethodPost, "/v1/auth/login", "not json", "")
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	}
	rec := e.do(http.MethodPost, "/v1/auth/login", "not json", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec = e.do(http.MethodGet, "/metrics", "", "")
	require.Contains(t, rec.Body.String(), `identity_rate_limited_total{limiter="auth"} 1`)
}

func TestRouter_DevTokenRouteAbsentByDefault(t *testing.T) {
	e := newRouterEnv(t)
	rec := e.do(http.MethodGet, "/v1/dev/reset-token?email=a@b.example", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

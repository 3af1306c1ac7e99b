package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"msp-identity-core/internal/audit/domain"
)

func TestInstrument_UsesRoutePattern(t *testing.T) {
	m := NewMetrics()
	r := chi.NewRouter()
	r.Use(m.Instrument)
	r.Get("/v1/sessions/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/sessions/"+id, nil))
	}
	require.Equal(t, 3.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "/v1/sessions/{id}", "404")))
	require.Equal(t, 1, testutil.CollectAndCount(m.requestDuration))
	require.Equal(t, 0.0, testutil.ToFloat64(m.inFlight))
}

func TestInstrument_DefaultStatusIsOK(t *testing.T) {
	m := NewMetrics()
	r := chi.NewRouter()
	r.Use(m.Instrument)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	require.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "/healthz", "200")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "unmatched", "404")))
}

func TestMetrics_CountsAuditAndJobs(t *testing.T) {
	m := NewMetrics()
	m.Emit(context.Background(), &domain.Entry{Action: "login_failed", Risk: domain.RiskMedium})
	m.Emit(context.Background(), &domain.Entry{Action: "login_failed", Risk: domain.RiskMedium})
	m.Emit(context.Background(), nil)
	m.CleanupRemoved("sessions", 4)
	m.CleanupRemoved("sessions", 0)
	m.RateLimited("auth")

	require.Equal(t, 2.0, testutil.ToFloat64(m.auditEvents.WithLabelValues("login_failed", "medium")))
	require.Equal(t, 4.0, testutil.ToFloat64(m.cleanupRemoved.WithLabelValues("sessions")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.rateLimited.WithLabelValues("auth")))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.SetBuildInfo("1.2.3")
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), `identity_build_info{version="1.2.3"} 1`), string(body))
	require.Contains(t, string(body), "go_goroutines")
}

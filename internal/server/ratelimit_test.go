package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"msp-identity-core/internal/platform/reqctx"
)

func limited(l *IPLimiter) http.Handler {
	return WithClient(false)(l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))
}

func hit(h http.Handler, ip string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil)
	r.RemoteAddr = ip + ":4000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestIPLimiter_BurstThenReject(t *testing.T) {
	var rejected []string
	l := NewIPLimiter("auth", 1, 3, func(name string) { rejected = append(rejected, name) })
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	h := limited(l)

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, hit(h, "10.0.0.1").Code)
	}
	rec := hit(h, "10.0.0.1")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))
	require.JSONEq(t, `{"error":"too many requests","code":"rate_limited"}`, rec.Body.String())
	require.Equal(t, []string{"auth"}, rejected)

	require.Equal(t, http.StatusOK, hit(h, "10.0.0.2").Code, "other addresses keep their own bucket")

	now = now.Add(time.Second)
	require.Equal(t, http.StatusOK, hit(h, "10.0.0.1").Code, "one token refills per second")
}

func TestIPLimiter_SweepsIdleBuckets(t *testing.T) {
	l := NewIPLimiter("auth", 5, 5, nil)
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.reserve("10.0.0.1")
	l.reserve("10.0.0.2")
	require.Equal(t, 2, l.Size())

	now = now.Add(limiterIdleTTL + time.Minute)
	l.reserve("10.0.0.3")
	require.Equal(t, 1, l.Size())
}

func TestIPLimiter_MissingClientUsesSharedBucket(t *testing.T) {
	l := NewIPLimiter("auth", 0.001, 1, nil)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, reqctx.GetClient(r.Context()).IP)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

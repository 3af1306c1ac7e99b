package server

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"msp-identity-core/internal/platform/httpx"
	"msp-identity-core/internal/platform/reqctx"
)

const limiterIdleTTL = 10 * time.Minute

// RejectFunc is told the name of the limiter that refused a request.
type RejectFunc func(limiter string)

// IPLimiter is a token bucket per client address.
type IPLimiter struct {
	name   string
	limit  rate.Limit
	burst  int
	reject RejectFunc
	now    func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewIPLimiter allows perSecond sustained requests with bursts of burst per address.
// reject may be nil.
func NewIPLimiter(name string, perSecond float64, burst int, reject RejectFunc) *IPLimiter {
	if burst < 1 {
		burst = 1
	}
	return &IPLimiter{
		name:    name,
		limit:   rate.Limit(perSecond),
		burst:   burst,
		reject:  reject,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// reserve takes one token for ip. It returns false and the wait until the next
// token when the bucket is empty.
func (l *IPLimiter) reserve(ip string) (bool, time.Duration) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > limiterIdleTTL {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > limiterIdleTTL {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[ip] = b
	}
	b.seen = now
	res := b.lim.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Minute
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Size reports how many addresses currently hold a bucket.
func (l *IPLimiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Middleware answers 429 once the caller's bucket is empty. It needs WithClient upstream.
func (l *IPLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := reqctx.GetClient(r.Context()).IP
		if ip == "" {
			ip = "unknown"
		}
		ok, wait := l.reserve(ip)
		if !ok {
			if l.reject != nil {
				l.reject(l.name)
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			httpx.JSON(w, http.StatusTooManyRequests, httpx.ErrorBody{Error: "too many requests", Code: "rate_limited"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

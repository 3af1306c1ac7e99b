// Package health reports readiness of the service's backing stores.
package health

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// CheckFunc returns nil when the dependency is reachable.
type CheckFunc func(ctx context.Context) error

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Status is the outcome of one check.
type Status struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Report is the outcome of a full run.
type Report struct {
	OK     bool      `json:"ok"`
	Checks []Status  `json:"checks"`
	At     time.Time `json:"at"`
}

// Checker runs named dependency checks.
type Checker struct {
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewChecker returns a Checker bounding each check by timeout.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Checker{timeout: timeout, checks: make(map[string]CheckFunc)}
}

// Register adds or replaces the check called name.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// RegisterPinger registers p.PingContext as a check.
func (c *Checker) RegisterPinger(name string, p Pinger) {
	c.Register(name, p.PingContext)
}

// Check runs every check concurrently. The report is sorted by name.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	fns := make([]CheckFunc, 0, len(c.checks))
	for name, fn := range c.checks {
		names = append(names, name)
		fns = append(fns, fn)
	}
	c.mu.RUnlock()

	statuses := make([]Status, len(fns))
	var wg sync.WaitGroup
	for i := range fns {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			st := Status{Name: names[i], OK: true}
			if err := fns[i](cctx); err != nil {
				st.OK = false
				st.Error = err.Error()
			}
			statuses[i] = st
		}(i)
	}
	wg.Wait()

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	rep := Report{OK: true, Checks: statuses, At: time.Now().UTC()}
	for _, st := range statuses {
		if !st.OK {
			rep.OK = false
		}
	}
	return rep
}

// Sync runs the checks every interval and mirrors the overall result onto srv
// for the empty service name, until ctx ends. The first run is immediate.
func (c *Checker) Sync(ctx context.Context, srv *health.Server, interval time.Duration) {
	last := healthpb.HealthCheckResponse_UNKNOWN
	update := func() {
		next := healthpb.HealthCheckResponse_SERVING
		rep := c.Check(ctx)
		if !rep.OK {
			next = healthpb.HealthCheckResponse_NOT_SERVING
		}
		if next != last {
			log.Printf("health: serving status %s", next)
			last = next
		}
		srv.SetServingStatus("", next)
	}
	update()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			update()
		}
	}
}

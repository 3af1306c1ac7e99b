// Package maintenance runs the periodic cleanup jobs of the worker process.
package maintenance

import (
	"context"
	"log"
	"time"
)

// Job removes or expires stale rows and reports how many it touched.
type Job struct {
	Name string
	Run  func(ctx context.Context) (int64, error)
}

// Observer is told the outcome of every job run.
type Observer interface {
	CleanupRemoved(job string, n int64)
}

// Runner executes its jobs in order once per interval.
type Runner struct {
	jobs     []Job
	interval time.Duration
	timeout  time.Duration
	observer Observer
}

// NewRunner returns a Runner. Each job run is bounded by timeout; observer may be nil.
func NewRunner(interval, timeout time.Duration, observer Observer, jobs ...Job) *Runner {
	return &Runner{jobs: jobs, interval: interval, timeout: timeout, observer: observer}
}

// RunOnce runs every job. A failing job is logged and does not stop the others.
// It returns the number of jobs that failed.
func (r *Runner) RunOnce(ctx context.Context) int {
	failed := 0
	for _, j := range r.jobs {
		if ctx.Err() != nil {
			return failed
		}
		jctx, cancel := context.WithTimeout(ctx, r.timeout)
		start := time.Now()
		n, err := j.Run(jctx)
		cancel()
		if err != nil {
			failed++
			log.Printf("worker: %s: %v", j.Name, err)
			continue
		}
		if r.observer != nil {
			r.observer.CleanupRemoved(j.Name, n)
		}
		if n > 0 {
			log.Printf("worker: %s: %d rows (%s)", j.Name, n, time.Since(start).Round(time.Millisecond))
		}
	}
	return failed
}

// Run calls RunOnce immediately and then every interval until ctx ends.
func (r *Runner) Run(ctx context.Context) {
	r.RunOnce(ctx)
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.RunOnce(ctx)
		}
	}
}

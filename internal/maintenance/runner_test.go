package maintenance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type counts struct {
	mu sync.Mutex
	n  map[string]int64
}

func (c *counts) CleanupRemoved(job string, n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == nil {
		c.n = map[string]int64{}
	}
	c.n[job] += n
}

func TestRunOnce_FailureDoesNotStopOthers(t *testing.T) {
	obs := &counts{}
	var order []string
	r := NewRunner(time.Minute, time.Second, obs,
		Job{Name: "sessions", Run: func(context.Context) (int64, error) {
			order = append(order, "sessions")
			return 3, nil
		}},
		Job{Name: "grants", Run: func(context.Context) (int64, error) {
			order = append(order, "grants")
			return 0, errors.New("deadlock detected")
		}},
		Job{Name: "audit", Run: func(context.Context) (int64, error) {
			order = append(order, "audit")
			return 7, nil
		}},
	)

	require.Equal(t, 1, r.RunOnce(context.Background()))
	require.Equal(t, []string{"sessions", "grants", "audit"}, order)
	require.Equal(t, map[string]int64{"sessions": 3, "audit": 7}, obs.n)
}

func TestRunOnce_JobsGetDeadline(t *testing.T) {
	r := NewRunner(time.Minute, 50*time.Millisecond, nil, Job{Name: "slow", Run: func(ctx context.Context) (int64, error) {
		_, ok := ctx.Deadline()
		require.True(t, ok)
		<-ctx.Done()
		return 0, ctx.Err()
	}})
	require.Equal(t, 1, r.RunOnce(context.Background()))
}

func TestRunOnce_StopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ran := 0
	r := NewRunner(time.Minute, time.Second, nil,
		Job{Name: "first", Run: func(context.Context) (int64, error) { ran++; cancel(); return 0, nil }},
		Job{Name: "second", Run: func(context.Context) (int64, error) { ran++; return 0, nil }},
	)
	r.RunOnce(ctx)
	require.Equal(t, 1, ran)
}

func TestRun_RepeatsUntilCancelled(t *testing.T) {
	var runs atomic.Int32
	r := NewRunner(5*time.Millisecond, time.Second, nil, Job{Name: "tick", Run: func(context.Context) (int64, error) {
		runs.Add(1)
		return 0, nil
	}})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

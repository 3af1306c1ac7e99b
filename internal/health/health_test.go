package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

func TestCheck_AllHealthy(t *testing.T) {
	c := NewChecker(time.Second)
	c.RegisterPinger("postgres", pinger{})
	c.Register("redis", func(context.Context) error { return nil })

	rep := c.Check(context.Background())
	require.True(t, rep.OK)
	require.Equal(t, []Status{{Name: "postgres", OK: true}, {Name: "redis", OK: true}}, rep.Checks)
}

func TestCheck_OneFailing(t *testing.T) {
	c := NewChecker(time.Second)
	c.RegisterPinger("postgres", pinger{err: errors.New("connection refused")})
	c.Register("redis", func(context.Context) error { return nil })

	rep := c.Check(context.Background())
	require.False(t, rep.OK)
	require.Equal(t, "connection refused", rep.Checks[0].Error)
	require.True(t, rep.Checks[1].OK)
}

func TestCheck_TimeoutBoundsSlowCheck(t *testing.T) {
	c := NewChecker(20 * time.Millisecond)
	c.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	start := time.Now()
	rep := c.Check(context.Background())
	require.False(t, rep.OK)
	require.Less(t, time.Since(start), time.Second)
}

func TestCheck_NoChecksIsHealthy(t *testing.T) {
	require.True(t, NewChecker(0).Check(context.Background()).OK)
}

func TestSync_MirrorsToGRPCHealth(t *testing.T) {
	c := NewChecker(time.Second)
	failing := make(chan error, 1)
	failing <- nil
	var current error
	c.Register("redis", func(context.Context) error {
		select {
		case current = <-failing:
		default:
		}
		return current
	})
	srv := health.NewServer()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Sync(ctx, srv, 5*time.Millisecond)
		close(done)
	}()

	status := func() healthpb.HealthCheckResponse_ServingStatus {
		res, err := srv.Check(context.Background(), &healthpb.HealthCheckRequest{})
		if err != nil {
			return healthpb.HealthCheckResponse_UNKNOWN
		}
		return res.Status
	}
	require.Eventually(t, func() bool { return status() == healthpb.HealthCheckResponse_SERVING }, time.Second, 5*time.Millisecond)

	failing <- errors.New("down")
	require.Eventually(t, func() bool { return status() == healthpb.HealthCheckResponse_NOT_SERVING }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

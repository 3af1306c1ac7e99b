package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestWindowLimiter_AllowsUpToLimit(t *testing.T) {
	mr, client := newTestRedis(t)
	l := NewWindowLimiter(client, "rl:test", 3, time.Hour)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		ok, err := l.Allow(ctx, "a@example.com")
		if err != nil {
			t.Fatalf("Allow #%d: %v", i, err)
		}
		if !ok {
			t.Fatalf("Allow #%d should pass", i)
		}
	}
	ok, err := l.Allow(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("Allow #4: %v", err)
	}
	if ok {
		t.Error("Allow #4 should be limited")
	}

	other, _ := l.Allow(ctx, "b@example.com")
	if !other {
		t.Error("limit must be per subject")
	}

	mr.FastForward(time.Hour + time.Second)
	ok, _ = l.Allow(ctx, "a@example.com")
	if !ok {
		t.Error("window should reset after expiry")
	}
}

func TestWindowLimiter_Reset(t *testing.T) {
	_, client := newTestRedis(t)
	l := NewWindowLimiter(client, "rl:test", 1, time.Hour)
	ctx := context.Background()

	_, _ = l.Allow(ctx, "x")
	if ok, _ := l.Allow(ctx, "x"); ok {
		t.Fatal("second hit should be limited")
	}
	if err := l.Reset(ctx, "x"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if ok, _ := l.Allow(ctx, "x"); !ok {
		t.Error("hit after Reset should pass")
	}
}

func TestWindowLimiter_Unavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer client.Close()
	l := NewWindowLimiter(client, "rl:test", 1, time.Hour)

	_, err := l.Allow(context.Background(), "x")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Allow error = %v, want ErrUnavailable", err)
	}
}

func TestOpen_BadURL(t *testing.T) {
	if _, err := Open(context.Background(), "not-a-url", time.Second); err == nil {
		t.Error("Open should reject a malformed URL")
	}
}

package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// WindowLimiter is a fixed-window counter keyed by an arbitrary subject.
type WindowLimiter struct {
	redis  *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

// NewWindowLimiter allows at most limit hits per window for each subject.
func NewWindowLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{redis: client, prefix: prefix, limit: int64(limit), window: window}
}

func (l *WindowLimiter) key(subject string) string {
	return l.prefix + ":" + subject
}

// Allow records a hit for subject and reports whether it is within the limit.
func (l *WindowLimiter) Allow(ctx context.Context, subject string) (bool, error) {
	count, err := l.redis.Incr(ctx, l.key(subject)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, l.key(subject), l.window).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return count <= l.limit, nil
}

// Reset clears the counter for subject.
func (l *WindowLimiter) Reset(ctx context.Context, subject string) error {
	if err := l.redis.Del(ctx, l.key(subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

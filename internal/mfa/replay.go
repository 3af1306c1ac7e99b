package mfa

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"msp-identity-core/internal/cache"
)

// ReplayGuard marks one-time codes as spent.
type ReplayGuard interface {
	// Claim records key as used for ttl. It reports false when key was already claimed.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisReplayGuard claims keys with SET NX, so of two concurrent claims exactly one wins.
type RedisReplayGuard struct {
	redis *redis.Client
}

// NewRedisReplayGuard returns a ReplayGuard backed by client.
func NewRedisReplayGuard(client *redis.Client) *RedisReplayGuard {
	return &RedisReplayGuard{redis: client}
}

// Claim sets key if absent.
func (g *RedisReplayGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.redis.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	return ok, nil
}

// totpReplayKey is per time step: a step has exactly one code.
func totpReplayKey(userID string, step int64) string {
	return "mfa_used:" + userID + ":totp:" + strconv.FormatInt(step, 10)
}

func backupReplayKey(userID, hash string) string {
	return "mfa_used:" + userID + ":backup:" + hash
}

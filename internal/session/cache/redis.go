// Package cache holds the session revocation list and the access-token fast path in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	sharedcache "msp-identity-core/internal/cache"
)

const (
	blacklistPrefix   = "blacklist:"
	accessTokenPrefix = "access_token:"
)

// AccessEntry is the fast-path record for a live access token.
type AccessEntry struct {
	UserID    string    `json:"userId"`
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Store is the revocation list plus the fast-path cache, keyed by token hash.
type Store interface {
	Blacklist(ctx context.Context, tokenHash string, ttl time.Duration) error
	IsBlacklisted(ctx context.Context, tokenHash string) (bool, error)
	PutAccess(ctx context.Context, tokenHash string, e AccessEntry, ttl time.Duration) error
	// GetAccess returns nil on a miss.
	GetAccess(ctx context.Context, tokenHash string) (*AccessEntry, error)
	DropAccess(ctx context.Context, tokenHash string) error
}

// RedisStore implements Store.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore returns a Store backed by client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{redis: client}
}

// Blacklist marks tokenHash revoked for ttl. Non-positive ttl is a no-op: the token has
// already expired on its own.
func (s *RedisStore) Blacklist(ctx context.Context, tokenHash string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.redis.Set(ctx, blacklistPrefix+tokenHash, 1, ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// IsBlacklisted reports whether tokenHash is on the revocation list.
func (s *RedisStore) IsBlacklisted(ctx context.Context, tokenHash string) (bool, error) {
	n, err := s.redis.Exists(ctx, blacklistPrefix+tokenHash).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return n > 0, nil
}

// PutAccess caches e for ttl.
func (s *RedisStore) PutAccess(ctx context.Context, tokenHash string, e AccessEntry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, accessTokenPrefix+tokenHash, raw, ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// GetAccess returns the cached entry, or nil on a miss.
func (s *RedisStore) GetAccess(ctx context.Context, tokenHash string) (*AccessEntry, error) {
	raw, err := s.redis.Get(ctx, accessTokenPrefix+tokenHash).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, unavailable(err)
	}
	var e AccessEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode access entry: %w", err)
	}
	return &e, nil
}

// DropAccess removes the fast-path entry.
func (s *RedisStore) DropAccess(ctx context.Context, tokenHash string) error {
	if err := s.redis.Del(ctx, accessTokenPrefix+tokenHash).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", sharedcache.ErrUnavailable, err)
}

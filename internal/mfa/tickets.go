package mfa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"msp-identity-core/internal/cache"
	"msp-identity-core/internal/mfa/domain"
	"msp-identity-core/internal/security"
)

const (
	ticketKeyPrefix      = "mfa_ticket:"
	ticketAttemptsPrefix = "mfa_ticket_attempts:"
	ticketBytes          = 32
)

// TicketStore keeps login tickets in Redis under the hash of the ticket id, so a
// Redis dump does not hand out usable tickets.
type TicketStore struct {
	redis       *redis.Client
	maxAttempts int64
	now         func() time.Time
}

// NewTicketStore returns a TicketStore. A ticket is destroyed after maxAttempts failed codes.
func NewTicketStore(client *redis.Client, maxAttempts int) *TicketStore {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &TicketStore{redis: client, maxAttempts: int64(maxAttempts), now: time.Now}
}

func ticketKey(id string) string {
	return ticketKeyPrefix + security.HashToken(id)
}

func attemptsKey(id string) string {
	return ticketAttemptsPrefix + security.HashToken(id)
}

// Issue stores t for ttl under a fresh random id and returns it with ID and ExpiresAt set.
func (s *TicketStore) Issue(ctx context.Context, t domain.Ticket, ttl time.Duration) (*domain.Ticket, error) {
	id, err := security.RandomToken(ticketBytes)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	t.ID = id
	t.CreatedAt = now
	t.ExpiresAt = now.Add(ttl)
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	if err := s.redis.Set(ctx, ticketKey(id), raw, ttl).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	return &t, nil
}

// Get returns the ticket for id, or nil if it does not exist or has expired.
func (s *TicketStore) Get(ctx context.Context, id string) (*domain.Ticket, error) {
	raw, err := s.redis.Get(ctx, ticketKey(id)).Bytes()
	return s.decode(id, raw, err)
}

// Consume returns and deletes the ticket in one step; of two concurrent consumers only
// one gets it.
func (s *TicketStore) Consume(ctx context.Context, id string) (*domain.Ticket, error) {
	raw, err := s.redis.GetDel(ctx, ticketKey(id)).Bytes()
	t, err := s.decode(id, raw, err)
	if err == nil && t != nil {
		_ = s.redis.Del(ctx, attemptsKey(id)).Err()
	}
	return t, err
}

// RecordFailure counts a wrong code against the ticket and destroys it once
// maxAttempts is reached. It reports whether the ticket is gone.
func (s *TicketStore) RecordFailure(ctx context.Context, id string) (bool, error) {
	n, err := s.redis.Incr(ctx, attemptsKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	if n == 1 {
		if ttl, err := s.redis.PTTL(ctx, ticketKey(id)).Result(); err == nil && ttl > 0 {
			s.redis.PExpire(ctx, attemptsKey(id), ttl)
		}
	}
	if n < s.maxAttempts {
		return false, nil
	}
	if err := s.redis.Del(ctx, ticketKey(id), attemptsKey(id)).Err(); err != nil {
		return false, fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	return true, nil
}

func (s *TicketStore) decode(id string, raw []byte, err error) (*domain.Ticket, error) {
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	var t domain.Ticket
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode ticket: %w", err)
	}
	t.ID = id
	if !t.ExpiresAt.After(s.now()) {
		return nil, nil
	}
	return &t, nil
}

// Package dedup remembers which events already produced a notification, so a
// redelivered message does not send a second e-mail.
//
// Callers claim an event before sending and release the claim when sending
// fails. A crash between claim and send loses that e-mail: delivery is at most
// once per event id.
package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "portal:notifier:sent:"

type Store interface {
	// Claim reports true when the caller is the first to claim eventID.
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisStore(client *redis.Client, ttl time.Duration, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, ttl: ttl, prefix: prefix}
}

func (s *RedisStore) Claim(ctx context.Context, eventID string) (bool, error) {
	return s.client.SetNX(ctx, s.prefix+eventID, time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
}

func (s *RedisStore) Release(ctx context.Context, eventID string) error {
	return s.client.Del(ctx, s.prefix+eventID).Err()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// MemoryStore is the single-process Store used when no Redis is configured.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	claimed map[string]time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now, claimed: map[string]time.Time{}}
}

func (s *MemoryStore) Claim(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, at := range s.claimed {
		if s.ttl > 0 && now.Sub(at) > s.ttl {
			delete(s.claimed, id)
		}
	}
	if _, ok := s.claimed[eventID]; ok {
		return false, nil
	}
	s.claimed[eventID] = now
	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed, eventID)
	return nil
}

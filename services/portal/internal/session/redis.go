package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "portal:session:"

// RedisStore keeps selections as JSON values that expire after ttl of
// inactivity.
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

func (s *RedisStore) Get(ctx context.Context, userID string) (*Selection, error) {
	raw, err := s.client.Get(ctx, s.prefix+userID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoSelection
		}
		return nil, err
	}
	var sel Selection
	if err := json.Unmarshal(raw, &sel); err != nil {
		return nil, fmt.Errorf("decode selection: %w", err)
	}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, s.prefix+userID, s.ttl).Err(); err != nil {
			return nil, err
		}
	}
	return &sel, nil
}

func (s *RedisStore) Set(ctx context.Context, sel Selection) error {
	raw, err := json.Marshal(sel)
	if err != nil {
		return fmt.Errorf("encode selection: %w", err)
	}
	return s.client.Set(ctx, s.prefix+sel.UserID, raw, s.ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, userID string) error {
	return s.client.Del(ctx, s.prefix+userID).Err()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

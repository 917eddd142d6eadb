package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store shared across API replicas. Take maps to GETDEL so
// two concurrent takes of the same key cannot both succeed.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOption customises a RedisStore.
type RedisOption func(*RedisStore)

// WithReclaimTTL sets an expiry on stored secrets so abandoned ceremonies do
// not accumulate. Zero keeps secrets until taken or overwritten.
func WithReclaimTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// NewRedisStore builds a store whose keys live under prefix.
func NewRedisStore(client *redis.Client, prefix string, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: prefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put overwrites the secret under key.
func (s *RedisStore) Put(ctx context.Context, key string, secret []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, secret, s.ttl).Err(); err != nil {
		return fmt.Errorf("store challenge: %w", err)
	}
	return nil
}

// PutIfAbsent maps to SET NX.
func (s *RedisStore) PutIfAbsent(ctx context.Context, key string, secret []byte) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+key, secret, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("store challenge: %w", err)
	}
	return ok, nil
}

// Take atomically reads and deletes the secret under key.
func (s *RedisStore) Take(ctx context.Context, key string) ([]byte, error) {
	secret, err := s.client.GetDel(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("take challenge: %w", err)
	}
	return secret, nil
}

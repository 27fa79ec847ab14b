package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTier stores cart payloads in Redis. It is the preferred tier.
type RedisTier struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTier wraps client with the given payload TTL.
func NewRedisTier(client *redis.Client, ttl time.Duration) *RedisTier {
	return &RedisTier{
		client: client,
		ttl:    ttl,
	}
}

func (t *RedisTier) Kind() Kind {
	return KindRedis
}

// Probe does a throwaway write and remove. A ping is not enough: a
// read-only or full instance answers pings but rejects writes.
func (t *RedisTier) Probe(ctx context.Context) error {
	if err := t.client.Set(ctx, probeKey, "1", time.Minute).Err(); err != nil {
		return fmt.Errorf("redis probe write: %w", err)
	}
	if err := t.client.Del(ctx, probeKey).Err(); err != nil {
		return fmt.Errorf("redis probe remove: %w", err)
	}
	return nil
}

func (t *RedisTier) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := t.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

func (t *RedisTier) Write(ctx context.Context, key string, data []byte) error {
	if err := t.client.Set(ctx, key, data, t.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (t *RedisTier) Remove(ctx context.Context, key string) error {
	if err := t.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

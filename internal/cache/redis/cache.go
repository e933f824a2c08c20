// Package redis implements the aggregate cache over a Redis instance.
// Aggregates are stored as JSON strings with a server-side TTL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/accomopricer/accomopricer/internal/pricing"
)

// Cache adapts a go-redis client to the aggregate cache gateway.
type Cache struct {
	client redis.UniversalClient
}

// New wraps an existing client; the caller owns its lifecycle.
func New(client redis.UniversalClient) *Cache {
	return &Cache{client: client}
}

// Dial connects to a Redis instance and verifies it is reachable.
func Dial(ctx context.Context, addr, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Cache{client: client}, nil
}

// Get loads and decodes the aggregate under key, mapping redis.Nil to
// pricing.ErrNotFound.
func (c *Cache) Get(ctx context.Context, key string) (pricing.AggregateResult, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return pricing.AggregateResult{}, pricing.ErrNotFound
		}
		return pricing.AggregateResult{}, fmt.Errorf("redis get %s: %w", key, err)
	}
	var result pricing.AggregateResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return pricing.AggregateResult{}, fmt.Errorf("decode cached aggregate %s: %w", key, err)
	}
	return result, nil
}

// Set encodes and stores the aggregate with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, result pricing.AggregateResult, ttl time.Duration) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode aggregate %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}

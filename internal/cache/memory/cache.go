// Package memory provides an in-memory aggregate cache for development and
// tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/accomopricer/accomopricer/internal/pricing"
)

type entry struct {
	result    pricing.AggregateResult
	expiresAt time.Time
}

// Cache is a TTL map keyed by cache key. Expired entries are dropped lazily
// on read.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	clock   pricing.Clock
}

// New constructs a Cache. clock may be nil, in which case wall time is used.
func New(clock pricing.Clock) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		clock:   clock,
	}
}

// Get returns the cached aggregate, or pricing.ErrNotFound on a miss or an
// expired entry.
func (c *Cache) Get(_ context.Context, key string) (pricing.AggregateResult, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return pricing.AggregateResult{}, pricing.ErrNotFound
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock: a Set may have replaced the entry
		// between the read and here.
		if cur, ok := c.entries[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return pricing.AggregateResult{}, pricing.ErrNotFound
	}
	return e.result, nil
}

// Set stores the aggregate under key. A non-positive ttl stores the entry
// without expiry.
func (c *Cache) Set(_ context.Context, key string, result pricing.AggregateResult, ttl time.Duration) error {
	e := entry{result: result}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return nil
}

func (c *Cache) now() time.Time {
	if c.clock != nil {
		return c.clock.Now()
	}
	return time.Now()
}

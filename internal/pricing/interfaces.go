package pricing

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound signals that a requested record does not exist, including
// cache misses.
var ErrNotFound = errors.New("record not found")

// ErrInvalidCriteria marks a search rejected at validation.
var ErrInvalidCriteria = errors.New("invalid search criteria")

// ErrSourceUnsupported is returned by a fetcher when it permanently cannot
// serve the given criteria. The coordinator skips retries for it.
var ErrSourceUnsupported = errors.New("criteria not supported by source")

// SourceFetcher retrieves price quotes from one external platform. Fetchers
// are registered by name and may be invoked concurrently for different jobs,
// but never concurrently for the same job.
type SourceFetcher interface {
	Name() string
	Fetch(ctx context.Context, criteria SearchCriteria) ([]PriceQuote, error)
}

// CacheGateway is a cache-aside store keyed by the criteria cache key.
// Get returns ErrNotFound on a miss or expired entry.
type CacheGateway interface {
	Get(ctx context.Context, key string) (AggregateResult, error)
	Set(ctx context.Context, key string, result AggregateResult, ttl time.Duration) error
}

// ResultStore durably persists aggregates, retrievable by fingerprint or
// job id. Writes for the same fingerprint are last-writer-wins.
type ResultStore interface {
	SaveAggregate(ctx context.Context, fingerprint string, result AggregateResult) error
	GetByJobID(ctx context.Context, jobID string) (AggregateResult, error)
	GetByFingerprint(ctx context.Context, fingerprint string) (AggregateResult, error)
}

// Publisher pushes completion notifications to a message bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Archiver writes raw aggregate snapshots and returns a URI.
type Archiver interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

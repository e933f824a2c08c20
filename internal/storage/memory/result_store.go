// Package memory provides an in-memory aggregate store for development and
// tests.
package memory

import (
	"context"
	"sync"

	"github.com/accomopricer/accomopricer/internal/pricing"
)

// ResultStore keeps aggregates in maps keyed by job ID and fingerprint. The
// fingerprint index holds the latest aggregate per search.
type ResultStore struct {
	mu    sync.RWMutex
	byJob map[string]pricing.AggregateResult
	byFP  map[string]pricing.AggregateResult
}

// NewResultStore constructs a ResultStore.
func NewResultStore() *ResultStore {
	return &ResultStore{
		byJob: make(map[string]pricing.AggregateResult),
		byFP:  make(map[string]pricing.AggregateResult),
	}
}

// SaveAggregate upserts the aggregate under both its job ID and fingerprint.
func (s *ResultStore) SaveAggregate(_ context.Context, fingerprint string, result pricing.AggregateResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byJob[result.JobID] = result
	s.byFP[fingerprint] = result
	return nil
}

// GetByJobID returns the aggregate for a job, or pricing.ErrNotFound.
func (s *ResultStore) GetByJobID(_ context.Context, jobID string) (pricing.AggregateResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.byJob[jobID]
	if !ok {
		return pricing.AggregateResult{}, pricing.ErrNotFound
	}
	return result, nil
}

// GetByFingerprint returns the latest aggregate for a search fingerprint, or
// pricing.ErrNotFound.
func (s *ResultStore) GetByFingerprint(_ context.Context, fingerprint string) (pricing.AggregateResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.byFP[fingerprint]
	if !ok {
		return pricing.AggregateResult{}, pricing.ErrNotFound
	}
	return result, nil
}

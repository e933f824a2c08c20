// Package coordinator executes one job's fan-out across platform fetchers and
// produces its aggregate result.
package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/accomopricer/accomopricer/internal/metrics"
	"github.com/accomopricer/accomopricer/internal/pricing"
)

// Source pairs a fetcher with its retry policy.
type Source struct {
	Fetcher pricing.SourceFetcher
	Policy  pricing.SourcePolicy
}

// EventSink receives every event the coordinator emits for a job.
type EventSink interface {
	Publish(jobID string, evt pricing.StreamEvent)
}

// Tracker applies per-source and terminal job transitions. The registry
// implements it; the coordinator never mutates a job directly.
type Tracker interface {
	SetSourceStatus(jobID, source string, status pricing.SourceStatus)
	FinishJob(jobID string, state pricing.JobState, at time.Time)
}

// Config controls fan-out behavior shared by all jobs.
type Config struct {
	// MaxConcurrent caps simultaneously in-flight fetches per job (default 5).
	MaxConcurrent int
	// CacheTTL is the lifetime of a completed aggregate in the cache.
	CacheTTL time.Duration
	// CompletionTopic, when set, receives a message for every completed job.
	CompletionTopic string
	// ArchivePrefix is the blob path prefix for aggregate snapshots.
	ArchivePrefix string
}

const (
	defaultMaxConcurrent  = 5
	defaultAttemptTimeout = 30 * time.Second
	finalizeTimeout       = 10 * time.Second
)

// Coordinator runs price search jobs. One Run call handles exactly one job;
// the in-flight aggregate is owned by that call alone.
type Coordinator struct {
	store     pricing.ResultStore
	cache     pricing.CacheGateway
	events    EventSink
	tracker   Tracker
	publisher pricing.Publisher
	archiver  pricing.Archiver
	clock     pricing.Clock
	stats     *metrics.Collector
	backoff   backoffPolicy
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Coordinator. publisher, archiver and stats may be nil.
func New(
	store pricing.ResultStore,
	cache pricing.CacheGateway,
	events EventSink,
	tracker Tracker,
	publisher pricing.Publisher,
	archiver pricing.Archiver,
	clock pricing.Clock,
	stats *metrics.Collector,
	cfg Config,
	logger *zap.Logger,
) *Coordinator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:     store,
		cache:     cache,
		events:    events,
		tracker:   tracker,
		publisher: publisher,
		archiver:  archiver,
		clock:     clock,
		stats:     stats,
		backoff:   newBackoffPolicy(),
		cfg:       cfg,
		logger:    logger,
	}
}

// Run fans the job out to every enabled source, streaming quotes as they
// arrive, and finalizes the aggregate once all sources are terminal or the
// context is cancelled. The job must already be registered as running.
func (c *Coordinator) Run(ctx context.Context, job pricing.Job, fingerprint string, sources []Source) {
	start := c.clock.Now()
	c.stats.JobStarted()

	agg := newAggregate()
	total := len(sources)
	sem := make(chan struct{}, c.cfg.MaxConcurrent)
	var wg sync.WaitGroup

	for _, src := range sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				// Cancelled before dispatch; the source never ran.
				c.finishSource(job.ID, agg, src.Fetcher.Name(), pricing.SourceFailed, total)
				return
			}
			c.runSource(ctx, job, agg, src, total)
		}(src)
	}
	wg.Wait()

	c.finalize(ctx, job, fingerprint, agg, total, start)
}

func (c *Coordinator) runSource(ctx context.Context, job pricing.Job, agg *aggregate, src Source, total int) {
	name := src.Fetcher.Name()
	c.tracker.SetSourceStatus(job.ID, name, pricing.SourceRunning)
	agg.setStatus(name, pricing.SourceRunning)

	quotes, err := c.fetchWithRetry(ctx, job.Criteria, src)
	if err != nil {
		c.logger.Warn("source fetch failed",
			zap.String("job_id", job.ID),
			zap.String("platform", name),
			zap.Error(err))
		c.finishSource(job.ID, agg, name, pricing.SourceFailed, total)
		return
	}

	for _, quote := range quotes {
		quote.Source = name
		if quote.ObservedAt.IsZero() {
			quote.ObservedAt = c.clock.Now()
		}
		agg.addQuote(quote)
		c.events.Publish(job.ID, pricing.NewPriceUpdate(job.ID, job.Criteria, quote))
	}
	c.stats.QuotesCollected(name, len(quotes))
	c.finishSource(job.ID, agg, name, pricing.SourceSucceeded, total)
}

// fetchWithRetry runs attempts against one source strictly sequentially. An
// attempt that exceeds its timeout counts as a retryable failure.
func (c *Coordinator) fetchWithRetry(ctx context.Context, criteria pricing.SearchCriteria, src Source) ([]pricing.PriceQuote, error) {
	name := src.Fetcher.Name()
	policy := src.Policy
	if policy.AttemptTimeout <= 0 {
		policy.AttemptTimeout = defaultAttemptTimeout
	}

	for attempt := 0; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, policy.AttemptTimeout)
		began := time.Now()
		quotes, err := src.Fetcher.Fetch(attemptCtx, criteria)
		cancel()
		dur := time.Since(began)

		if err == nil {
			c.stats.SourceAttempt(name, "ok", dur)
			return quotes, nil
		}

		outcome := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		c.stats.SourceAttempt(name, outcome, dur)

		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: job cancelled: %w", name, ctx.Err())
		}
		if !retryable(err) {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if attempt >= policy.MaxRetries {
			return nil, fmt.Errorf("%s: retries exhausted after %d attempts: %w", name, attempt+1, err)
		}

		select {
		case <-time.After(c.backoff.Backoff(attempt, policy.RetryDelay)):
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: job cancelled: %w", name, ctx.Err())
		}
	}
}

func (c *Coordinator) finishSource(jobID string, agg *aggregate, name string, status pricing.SourceStatus, total int) {
	c.tracker.SetSourceStatus(jobID, name, status)
	completed := agg.setStatus(name, status)
	c.events.Publish(jobID, pricing.NewStatusUpdate(jobID, pricing.JobRunning, completed, total))
}

// finalize persists the aggregate, populates the cache, notifies collaborators
// and marks the job terminal. Store, cache, publish and archive failures are
// warnings: subscribers still receive the result.
func (c *Coordinator) finalize(ctx context.Context, job pricing.Job, fingerprint string, agg *aggregate, total int, start time.Time) {
	cancelled := ctx.Err() != nil
	now := c.clock.Now()
	result := agg.result(job, now, !cancelled)

	// Finalization outlives job cancellation: partial results are still
	// persisted, tagged incomplete.
	finCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if err := c.store.SaveAggregate(finCtx, fingerprint, result); err != nil {
		c.logger.Warn("aggregate persist failed",
			zap.String("job_id", job.ID), zap.Error(err))
	}

	state := pricing.JobCompleted
	if cancelled {
		state = pricing.JobCancelled
	} else {
		if err := c.cache.Set(finCtx, pricing.CacheKey(job.Criteria), result, c.cfg.CacheTTL); err != nil {
			c.logger.Warn("aggregate cache write failed",
				zap.String("job_id", job.ID), zap.Error(err))
		}
		c.notify(finCtx, job, fingerprint, result)
	}

	c.tracker.FinishJob(job.ID, state, now)
	c.stats.JobFinished(string(state), now.Sub(start))
	c.events.Publish(job.ID, pricing.NewStatusUpdate(job.ID, state, agg.completedCount(), total))

	c.logger.Info("job finished",
		zap.String("job_id", job.ID),
		zap.String("state", string(state)),
		zap.Int("total_quotes", result.TotalQuotes),
		zap.Duration("elapsed", now.Sub(start)))
}

func (c *Coordinator) notify(ctx context.Context, job pricing.Job, fingerprint string, result pricing.AggregateResult) {
	if c.publisher != nil && c.cfg.CompletionTopic != "" {
		payload := map[string]any{
			"job_id":        job.ID,
			"fingerprint":   fingerprint,
			"total_results": result.TotalQuotes,
			"completed_at":  result.CompletedAt.Format(time.RFC3339),
		}
		if _, err := c.publisher.Publish(ctx, c.cfg.CompletionTopic, payload); err != nil {
			c.logger.Warn("completion publish failed",
				zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	if c.archiver != nil {
		data, err := json.Marshal(result)
		if err != nil {
			c.logger.Warn("aggregate marshal failed",
				zap.String("job_id", job.ID), zap.Error(err))
			return
		}
		path := fmt.Sprintf("%s/%s.json", c.cfg.ArchivePrefix, job.ID)
		if _, err := c.archiver.PutObject(ctx, path, "application/json", bytes.NewReader(data)); err != nil {
			c.logger.Warn("aggregate archive failed",
				zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}

// aggregate accumulates quotes and per-source statuses for one running job.
// Side effects are additive only: quotes are never removed.
type aggregate struct {
	mu       sync.Mutex
	quotes   map[string][]pricing.PriceQuote
	statuses map[string]pricing.SourceStatus
	total    int
}

func newAggregate() *aggregate {
	return &aggregate{
		quotes:   make(map[string][]pricing.PriceQuote),
		statuses: make(map[string]pricing.SourceStatus),
	}
}

func (a *aggregate) addQuote(q pricing.PriceQuote) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.quotes[q.Source] = append(a.quotes[q.Source], q)
	a.total++
}

// setStatus records the source status and returns the terminal-source count.
func (a *aggregate) setStatus(name string, status pricing.SourceStatus) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.statuses[name] = status
	completed := 0
	for _, st := range a.statuses {
		if st.Terminal() {
			completed++
		}
	}
	return completed
}

func (a *aggregate) completedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	completed := 0
	for _, st := range a.statuses {
		if st.Terminal() {
			completed++
		}
	}
	return completed
}

func (a *aggregate) result(job pricing.Job, at time.Time, complete bool) pricing.AggregateResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	quotes := make(map[string][]pricing.PriceQuote, len(a.quotes))
	for name, qs := range a.quotes {
		quotes[name] = append([]pricing.PriceQuote(nil), qs...)
	}
	return pricing.AggregateResult{
		JobID:       job.ID,
		Criteria:    job.Criteria,
		Quotes:      quotes,
		TotalQuotes: a.total,
		Complete:    complete,
		CompletedAt: at,
	}
}

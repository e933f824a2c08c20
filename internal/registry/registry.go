// Package registry admits price searches, deduplicates concurrent ones by
// criteria fingerprint, and tracks every job from submission to its terminal
// state.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/accomopricer/accomopricer/internal/coordinator"
	"github.com/accomopricer/accomopricer/internal/metrics"
	"github.com/accomopricer/accomopricer/internal/pricing"
)

// ErrJobNotFound signals an unknown job ID.
var ErrJobNotFound = errors.New("job not found")

// ErrNotReady signals the job exists but has not produced its aggregate yet.
var ErrNotReady = errors.New("job result not ready")

// Runner executes one admitted job to completion. Production wires the
// coordinator here; tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, job pricing.Job, fingerprint string, sources []coordinator.Source)
}

// Streams is the subset of the broadcaster the registry drives: topics must
// exist before the first event for a job is published.
type Streams interface {
	Register(jobID string)
}

// Submission is the outcome of Submit. Exactly one of Cached and JobID is
// meaningful: a cache hit carries the aggregate and no job, otherwise JobID
// names the job serving the search. Joined reports whether that job was
// already in flight for an identical search.
type Submission struct {
	Cached *pricing.AggregateResult
	JobID  string
	Joined bool
}

// Registry owns the job table and the single-flight index. All mutations of
// job state funnel through it.
type Registry struct {
	runner  Runner
	cache   pricing.CacheGateway
	store   pricing.ResultStore
	streams Streams
	clock   pricing.Clock
	ids     pricing.IDGenerator
	stats   *metrics.Collector
	sources []coordinator.Source
	logger  *zap.Logger

	mu       sync.Mutex
	jobs     map[string]*jobEntry
	inFlight map[string]string // fingerprint -> active job ID
}

type jobEntry struct {
	job    pricing.Job
	cancel context.CancelFunc
}

// New constructs a Registry over a fixed set of enabled sources. cache and
// stats may be nil.
func New(
	runner Runner,
	cache pricing.CacheGateway,
	store pricing.ResultStore,
	streams Streams,
	clock pricing.Clock,
	ids pricing.IDGenerator,
	stats *metrics.Collector,
	sources []coordinator.Source,
	logger *zap.Logger,
) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		runner:   runner,
		cache:    cache,
		store:    store,
		streams:  streams,
		clock:    clock,
		ids:      ids,
		stats:    stats,
		sources:  sources,
		logger:   logger,
		jobs:     make(map[string]*jobEntry),
		inFlight: make(map[string]string),
	}
}

// Submit admits one search. It resolves in order: cached aggregate, in-flight
// job for the same fingerprint, new job. The passed context governs admission
// only; an admitted job runs on its own lifetime and survives the caller.
func (r *Registry) Submit(ctx context.Context, criteria pricing.SearchCriteria) (Submission, error) {
	if err := criteria.Validate(); err != nil {
		return Submission{}, fmt.Errorf("invalid criteria: %w", err)
	}

	fingerprint := pricing.Fingerprint(criteria)

	if r.cache != nil {
		cached, err := r.cache.Get(ctx, pricing.CacheKey(criteria))
		switch {
		case err == nil:
			r.stats.CacheLookup("hit")
			return Submission{Cached: &cached}, nil
		case errors.Is(err, pricing.ErrNotFound):
			r.stats.CacheLookup("miss")
		default:
			r.stats.CacheLookup("error")
			r.logger.Warn("cache lookup failed", zap.Error(err))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if jobID, ok := r.inFlight[fingerprint]; ok {
		return Submission{JobID: jobID, Joined: true}, nil
	}

	id, err := r.ids.NewID()
	if err != nil {
		return Submission{}, fmt.Errorf("generate job id: %w", err)
	}

	job := pricing.Job{
		ID:        id,
		Criteria:  criteria,
		State:     pricing.JobRunning,
		Sources:   make(map[string]pricing.SourceStatus, len(r.sources)),
		CreatedAt: r.clock.Now(),
	}
	for _, src := range r.sources {
		job.Sources[src.Fetcher.Name()] = pricing.SourcePending
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.jobs[id] = &jobEntry{job: job, cancel: cancel}
	r.inFlight[fingerprint] = id

	if r.streams != nil {
		r.streams.Register(id)
	}

	r.logger.Info("job admitted",
		zap.String("job_id", id),
		zap.String("fingerprint", fingerprint),
		zap.String("property", criteria.PropertyName),
		zap.String("city", criteria.City))

	go r.runner.Run(runCtx, snapshot(job), fingerprint, r.sources)

	return Submission{JobID: id}, nil
}

// Job returns a snapshot of the job, or ErrJobNotFound.
func (r *Registry) Job(id string) (pricing.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.jobs[id]
	if !ok {
		return pricing.Job{}, ErrJobNotFound
	}
	return snapshot(entry.job), nil
}

// Results returns the finished aggregate for a job. A job that is still
// running yields ErrNotReady; an unknown job yields ErrJobNotFound.
func (r *Registry) Results(ctx context.Context, id string) (pricing.AggregateResult, error) {
	r.mu.Lock()
	entry, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return pricing.AggregateResult{}, ErrJobNotFound
	}
	terminal := entry.job.State.Terminal()
	r.mu.Unlock()

	if !terminal {
		return pricing.AggregateResult{}, ErrNotReady
	}

	result, err := r.store.GetByJobID(ctx, id)
	if err != nil {
		if errors.Is(err, pricing.ErrNotFound) {
			// Terminal but the persist was lost; treat as still pending
			// rather than inventing an empty aggregate.
			return pricing.AggregateResult{}, ErrNotReady
		}
		return pricing.AggregateResult{}, fmt.Errorf("load aggregate: %w", err)
	}
	return result, nil
}

// Cancel requests cancellation of a running job. Cancelling a job that is
// already terminal is a no-op; the settled state stands.
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if entry.job.State.Terminal() {
		return nil
	}
	entry.cancel()
	return nil
}

// SetSourceStatus implements coordinator.Tracker. Transitions are monotonic:
// a terminal per-source status never regresses.
func (r *Registry) SetSourceStatus(jobID, source string, status pricing.SourceStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.jobs[jobID]
	if !ok {
		return
	}
	if current, ok := entry.job.Sources[source]; ok && current.Terminal() {
		return
	}
	entry.job.Sources[source] = status
}

// FinishJob implements coordinator.Tracker. It settles the terminal state,
// releases the single-flight slot, and is idempotent.
func (r *Registry) FinishJob(jobID string, state pricing.JobState, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.jobs[jobID]
	if !ok || entry.job.State.Terminal() {
		return
	}
	entry.job.State = state
	entry.job.CompletedAt = &at
	entry.cancel()

	fingerprint := pricing.Fingerprint(entry.job.Criteria)
	if r.inFlight[fingerprint] == jobID {
		delete(r.inFlight, fingerprint)
	}
}

// Shutdown cancels every running job. Used on server stop so coordinators
// finalize with partial aggregates instead of being killed mid-write.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.jobs {
		if !entry.job.State.Terminal() {
			entry.cancel()
		}
	}
}

func snapshot(job pricing.Job) pricing.Job {
	out := job
	out.Sources = make(map[string]pricing.SourceStatus, len(job.Sources))
	for name, status := range job.Sources {
		out.Sources[name] = status
	}
	return out
}

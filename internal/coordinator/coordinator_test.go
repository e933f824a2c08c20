package coordinator

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/accomopricer/accomopricer/internal/pricing"
)

func testCriteria() pricing.SearchCriteria {
	return pricing.SearchCriteria{
		PropertyName: "Marriott Hotel",
		City:         "New York",
		State:        "NY",
		Country:      "USA",
		CheckIn:      "2024-02-01",
		CheckOut:     "2024-02-03",
	}
}

func testJob() pricing.Job {
	return pricing.Job{
		ID:       "job-1",
		Criteria: testCriteria(),
		State:    pricing.JobRunning,
	}
}

type fakeFetcher struct {
	mu       sync.Mutex
	name     string
	quotes   []pricing.PriceQuote
	errs     []error // consumed per attempt; nil entry means success
	sleep    time.Duration
	attempts int
}

func (f *fakeFetcher) Name() string { return f.name }

func (f *fakeFetcher) Fetch(ctx context.Context, _ pricing.SearchCriteria) ([]pricing.PriceQuote, error) {
	f.mu.Lock()
	attempt := f.attempts
	f.attempts++
	f.mu.Unlock()

	if f.sleep > 0 {
		select {
		case <-time.After(f.sleep):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if attempt < len(f.errs) && f.errs[attempt] != nil {
		return nil, f.errs[attempt]
	}
	return f.quotes, nil
}

func (f *fakeFetcher) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

type fakeStore struct {
	mu     sync.Mutex
	err    error
	saved  []pricing.AggregateResult
	byFP   map[string]pricing.AggregateResult
	prints []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{byFP: make(map[string]pricing.AggregateResult)}
}

func (s *fakeStore) SaveAggregate(_ context.Context, fp string, result pricing.AggregateResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, result)
	s.byFP[fp] = result
	s.prints = append(s.prints, fp)
	return nil
}

func (s *fakeStore) GetByJobID(context.Context, string) (pricing.AggregateResult, error) {
	return pricing.AggregateResult{}, pricing.ErrNotFound
}

func (s *fakeStore) GetByFingerprint(context.Context, string) (pricing.AggregateResult, error) {
	return pricing.AggregateResult{}, pricing.ErrNotFound
}

func (s *fakeStore) lastSaved() (pricing.AggregateResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saved) == 0 {
		return pricing.AggregateResult{}, false
	}
	return s.saved[len(s.saved)-1], true
}

type fakeCache struct {
	mu   sync.Mutex
	err  error
	sets map[string]pricing.AggregateResult
	ttls map[string]time.Duration
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		sets: make(map[string]pricing.AggregateResult),
		ttls: make(map[string]time.Duration),
	}
}

func (c *fakeCache) Get(context.Context, string) (pricing.AggregateResult, error) {
	return pricing.AggregateResult{}, pricing.ErrNotFound
}

func (c *fakeCache) Set(_ context.Context, key string, result pricing.AggregateResult, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sets[key] = result
	c.ttls[key] = ttl
	return nil
}

func (c *fakeCache) setCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sets)
}

type fakeSink struct {
	mu     sync.Mutex
	events []pricing.StreamEvent
}

func (s *fakeSink) Publish(_ string, evt pricing.StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func (s *fakeSink) all() []pricing.StreamEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pricing.StreamEvent(nil), s.events...)
}

type fakeTracker struct {
	mu       sync.Mutex
	statuses map[string]pricing.SourceStatus
	state    pricing.JobState
	finished bool
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{statuses: make(map[string]pricing.SourceStatus)}
}

func (t *fakeTracker) SetSourceStatus(_, source string, status pricing.SourceStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statuses[source] = status
}

func (t *fakeTracker) FinishJob(_ string, state pricing.JobState, _ time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = state
	t.finished = true
}

func (t *fakeTracker) sourceStatus(name string) pricing.SourceStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statuses[name]
}

func (t *fakeTracker) finalState() pricing.JobState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakePublisher struct {
	mu       sync.Mutex
	messages []any
}

func (p *fakePublisher) Publish(_ context.Context, _ string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, payload)
	return "msg-1", nil
}

type fakeArchiver struct {
	mu    sync.Mutex
	paths []string
}

func (a *fakeArchiver) PutObject(_ context.Context, path, _ string, data io.Reader) (string, error) {
	if _, err := io.ReadAll(data); err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paths = append(a.paths, path)
	return "memory://" + path, nil
}

func quotesFor(source string, n int) []pricing.PriceQuote {
	out := make([]pricing.PriceQuote, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, pricing.PriceQuote{
			Source:    source,
			Currency:  "USD",
			Amount:    float64(100 + i),
			Available: true,
		})
	}
	return out
}

type testEnv struct {
	store     *fakeStore
	cache     *fakeCache
	sink      *fakeSink
	tracker   *fakeTracker
	publisher *fakePublisher
	archiver  *fakeArchiver
	coord     *Coordinator
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	env := &testEnv{
		store:     newFakeStore(),
		cache:     newFakeCache(),
		sink:      &fakeSink{},
		tracker:   newFakeTracker(),
		publisher: &fakePublisher{},
		archiver:  &fakeArchiver{},
	}
	env.coord = New(
		env.store,
		env.cache,
		env.sink,
		env.tracker,
		env.publisher,
		env.archiver,
		&fakeClock{now: time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)},
		nil,
		cfg,
		zap.NewNop(),
	)
	return env
}

func fastPolicy() pricing.SourcePolicy {
	return pricing.SourcePolicy{
		AttemptTimeout: 200 * time.Millisecond,
		MaxRetries:     3,
		RetryDelay:     time.Millisecond,
	}
}

// TestRunAllSourcesSucceed covers the happy path: two sources with five
// quotes each produce an aggregate of ten, both marked succeeded, with the
// result cached, persisted, published and archived.
func TestRunAllSourcesSucceed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{CacheTTL: time.Hour, CompletionTopic: "prices", ArchivePrefix: "aggregates"})
	sources := []Source{
		{Fetcher: &fakeFetcher{name: "airbnb", quotes: quotesFor("airbnb", 5)}, Policy: fastPolicy()},
		{Fetcher: &fakeFetcher{name: "booking", quotes: quotesFor("booking", 5)}, Policy: fastPolicy()},
	}

	env.coord.Run(context.Background(), testJob(), "fp-1", sources)

	saved, ok := env.store.lastSaved()
	require.True(t, ok)
	require.Equal(t, 10, saved.TotalQuotes)
	require.True(t, saved.Complete)
	require.Len(t, saved.Quotes["airbnb"], 5)
	require.Len(t, saved.Quotes["booking"], 5)

	require.Equal(t, pricing.SourceSucceeded, env.tracker.sourceStatus("airbnb"))
	require.Equal(t, pricing.SourceSucceeded, env.tracker.sourceStatus("booking"))
	require.Equal(t, pricing.JobCompleted, env.tracker.finalState())

	key := pricing.CacheKey(testCriteria())
	require.Contains(t, env.cache.sets, key)
	require.Equal(t, time.Hour, env.cache.ttls[key])

	require.Len(t, env.publisher.messages, 1)
	require.Equal(t, []string{"aggregates/job-1.json"}, env.archiver.paths)

	events := env.sink.all()
	prices := 0
	for _, evt := range events {
		if evt.Type == pricing.EventPriceUpdate {
			prices++
		}
	}
	require.Equal(t, 10, prices)
	last := events[len(events)-1]
	require.Equal(t, pricing.EventStatus, last.Type)
	require.Equal(t, pricing.JobCompleted, last.Status)
	require.Equal(t, 2, last.CompletedSources)
	require.Equal(t, 2, last.TotalSources)
}

// TestRunPartialFailureIsolated verifies one source exhausting its retries
// does not abort the job: the other source's quotes survive and the job
// completes with a per-source failed entry.
func TestRunPartialFailureIsolated(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	failing := &fakeFetcher{name: "airbnb", errs: []error{boom, boom, boom, boom}}
	env := newTestEnv(t, Config{CacheTTL: time.Hour})
	sources := []Source{
		{Fetcher: failing, Policy: fastPolicy()},
		{Fetcher: &fakeFetcher{name: "booking", quotes: quotesFor("booking", 3)}, Policy: fastPolicy()},
	}

	env.coord.Run(context.Background(), testJob(), "fp-1", sources)

	require.Equal(t, pricing.JobCompleted, env.tracker.finalState())
	require.Equal(t, pricing.SourceFailed, env.tracker.sourceStatus("airbnb"))
	require.Equal(t, pricing.SourceSucceeded, env.tracker.sourceStatus("booking"))
	require.Equal(t, 4, failing.attemptCount()) // initial try + 3 retries

	saved, ok := env.store.lastSaved()
	require.True(t, ok)
	require.Equal(t, 3, saved.TotalQuotes)
	require.Empty(t, saved.Quotes["airbnb"])
	require.Len(t, saved.Quotes["booking"], 3)
}

// TestRunTimeoutRetriedThenFailed covers a source that never answers within
// the attempt timeout: every attempt counts as retryable, the source ends up
// failed, the job still completes.
func TestRunTimeoutRetriedThenFailed(t *testing.T) {
	t.Parallel()

	hung := &fakeFetcher{name: "vrbo", sleep: time.Second, quotes: quotesFor("vrbo", 1)}
	env := newTestEnv(t, Config{})
	policy := pricing.SourcePolicy{
		AttemptTimeout: 20 * time.Millisecond,
		MaxRetries:     2,
		RetryDelay:     time.Millisecond,
	}

	env.coord.Run(context.Background(), testJob(), "fp-1", []Source{{Fetcher: hung, Policy: policy}})

	require.Equal(t, pricing.JobCompleted, env.tracker.finalState())
	require.Equal(t, pricing.SourceFailed, env.tracker.sourceStatus("vrbo"))
	require.Equal(t, 3, hung.attemptCount())

	saved, ok := env.store.lastSaved()
	require.True(t, ok)
	require.Zero(t, saved.TotalQuotes)
	require.True(t, saved.Complete)
}

// TestRunUnsupportedSourceSkipsRetries checks permanent errors are not
// retried.
func TestRunUnsupportedSourceSkipsRetries(t *testing.T) {
	t.Parallel()

	unsupported := &fakeFetcher{name: "hotels", errs: []error{pricing.ErrSourceUnsupported}}
	env := newTestEnv(t, Config{})

	env.coord.Run(context.Background(), testJob(), "fp-1", []Source{{Fetcher: unsupported, Policy: fastPolicy()}})

	require.Equal(t, 1, unsupported.attemptCount())
	require.Equal(t, pricing.SourceFailed, env.tracker.sourceStatus("hotels"))
	require.Equal(t, pricing.JobCompleted, env.tracker.finalState())
}

// TestRunAllSourcesFailedStillCompletes pins the open-question resolution:
// admission succeeded, so a fan-out where every source failed is a completed
// job with an empty aggregate, never a failed one.
func TestRunAllSourcesFailedStillCompletes(t *testing.T) {
	t.Parallel()

	boom := errors.New("blocked")
	env := newTestEnv(t, Config{CacheTTL: time.Hour})
	sources := []Source{
		{Fetcher: &fakeFetcher{name: "airbnb", errs: []error{boom, boom, boom, boom}}, Policy: fastPolicy()},
		{Fetcher: &fakeFetcher{name: "booking", errs: []error{boom, boom, boom, boom}}, Policy: fastPolicy()},
	}

	env.coord.Run(context.Background(), testJob(), "fp-1", sources)

	require.Equal(t, pricing.JobCompleted, env.tracker.finalState())
	saved, ok := env.store.lastSaved()
	require.True(t, ok)
	require.Zero(t, saved.TotalQuotes)
	require.True(t, saved.Complete)
	// Even an empty aggregate is cached so repeat queries don't re-crawl.
	require.Equal(t, 1, env.cache.setCount())
}

// TestRunCancellation verifies a cancelled job transitions to cancelled,
// persists its partial aggregate tagged incomplete, never writes the cache,
// and still emits a terminal status event.
func TestRunCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	fast := &fakeFetcher{name: "airbnb", quotes: quotesFor("airbnb", 2)}
	slow := &fakeFetcher{name: "booking", sleep: 5 * time.Second, quotes: quotesFor("booking", 2)}

	env := newTestEnv(t, Config{CacheTTL: time.Hour})
	policy := pricing.SourcePolicy{AttemptTimeout: 10 * time.Second, MaxRetries: 0}

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	env.coord.Run(ctx, testJob(), "fp-1", []Source{
		{Fetcher: fast, Policy: policy},
		{Fetcher: slow, Policy: policy},
	})

	require.Equal(t, pricing.JobCancelled, env.tracker.finalState())
	require.Zero(t, env.cache.setCount())

	saved, ok := env.store.lastSaved()
	require.True(t, ok)
	require.False(t, saved.Complete)
	require.Len(t, saved.Quotes["airbnb"], 2)

	events := env.sink.all()
	last := events[len(events)-1]
	require.Equal(t, pricing.EventStatus, last.Type)
	require.Equal(t, pricing.JobCancelled, last.Status)
}

// TestRunStoreAndCacheErrorsNonFatal ensures durable-write failures degrade
// to warnings: the job still completes and subscribers get the terminal
// event.
func TestRunStoreAndCacheErrorsNonFatal(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{CacheTTL: time.Hour})
	env.store.err = errors.New("mongo is down")
	env.cache.err = errors.New("redis is down")

	env.coord.Run(context.Background(), testJob(), "fp-1", []Source{
		{Fetcher: &fakeFetcher{name: "airbnb", quotes: quotesFor("airbnb", 1)}, Policy: fastPolicy()},
	})

	require.Equal(t, pricing.JobCompleted, env.tracker.finalState())
	events := env.sink.all()
	require.NotEmpty(t, events)
	require.Equal(t, pricing.JobCompleted, events[len(events)-1].Status)
}

// TestRunPerSourceEventOrdering checks quotes from one source are delivered
// in the order the fetcher produced them.
func TestRunPerSourceEventOrdering(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})
	env.coord.Run(context.Background(), testJob(), "fp-1", []Source{
		{Fetcher: &fakeFetcher{name: "airbnb", quotes: quotesFor("airbnb", 6)}, Policy: fastPolicy()},
	})

	var amounts []float64
	for _, evt := range env.sink.all() {
		if evt.Type == pricing.EventPriceUpdate {
			amounts = append(amounts, evt.Quote.Amount)
		}
	}
	require.Equal(t, []float64{100, 101, 102, 103, 104, 105}, amounts)
}

// TestRunBoundedConcurrency asserts the fan-out never runs more sources at
// once than the configured cap.
func TestRunBoundedConcurrency(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	inFlight, peak := 0, 0

	mkFetcher := func(name string) *countingFetcher {
		return &countingFetcher{name: name, onFetch: func() {
			mu.Lock()
			inFlight++
			if inFlight > peak {
				peak = inFlight
			}
			mu.Unlock()
			time.Sleep(30 * time.Millisecond)
			mu.Lock()
			inFlight--
			mu.Unlock()
		}}
	}

	env := newTestEnv(t, Config{MaxConcurrent: 2})
	sources := make([]Source, 0, 6)
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		sources = append(sources, Source{Fetcher: mkFetcher(name), Policy: fastPolicy()})
	}

	env.coord.Run(context.Background(), testJob(), "fp-1", sources)

	mu.Lock()
	defer mu.Unlock()
	require.LessOrEqual(t, peak, 2)
	require.Equal(t, pricing.JobCompleted, env.tracker.finalState())
}

type countingFetcher struct {
	name    string
	onFetch func()
}

func (f *countingFetcher) Name() string { return f.name }

func (f *countingFetcher) Fetch(context.Context, pricing.SearchCriteria) ([]pricing.PriceQuote, error) {
	f.onFetch()
	return nil, nil
}

// Package stream implements per-job fan-out of price events to subscribers.
// Publishing never blocks on slow consumers: every subscriber owns a bounded
// queue and is disconnected if it falls too far behind.
package stream

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/accomopricer/accomopricer/internal/metrics"
	"github.com/accomopricer/accomopricer/internal/pricing"
)

// Config controls buffering and retention for the Broadcaster.
//   - SubscriberBuffer: per-subscriber queue size (default 64).
//   - RetainedTail: events kept per job for late subscribers (default 256).
//   - Retention: how long a finished job's tail stays available (default 5m).
//   - Logger: optional structured logger used for warnings.
//   - Stats: optional metrics collector for subscriber gauges.
type Config struct {
	SubscriberBuffer int
	RetainedTail     int
	Retention        time.Duration
	Logger           *zap.Logger
	Stats            *metrics.Collector
}

const (
	defaultSubscriberBuffer = 64
	defaultRetainedTail     = 256
	defaultRetention        = 5 * time.Minute
)

// Broadcaster delivers every event published for a job to every subscriber of
// that job, in publish order. It is safe for concurrent use.
type Broadcaster struct {
	mu     sync.Mutex
	cfg    Config
	topics map[string]*topic
	logger *zap.Logger
	closed bool
}

// Subscription yields the ordered event sequence for one job. The channel is
// closed once the terminal status event has been delivered, or immediately if
// the subscriber is disconnected for falling behind.
type Subscription struct {
	jobID     string
	ch        chan pricing.StreamEvent
	b         *Broadcaster
	closeOnce sync.Once
}

type topic struct {
	tail []pricing.StreamEvent
	subs map[*Subscription]struct{}
	done bool
}

// New constructs a Broadcaster.
func New(cfg Config) *Broadcaster {
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = defaultSubscriberBuffer
	}
	if cfg.RetainedTail <= 0 {
		cfg.RetainedTail = defaultRetainedTail
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		cfg:    cfg,
		topics: make(map[string]*topic),
		logger: logger,
	}
}

// Subscribe attaches to a job's event stream. Events still buffered in the
// retained tail are replayed first, then live events follow in publish order.
// Subscribing to an unknown or already-reaped job yields a closed channel.
func (b *Broadcaster) Subscribe(jobID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok || b.closed {
		sub := &Subscription{jobID: jobID, b: b, ch: make(chan pricing.StreamEvent)}
		close(sub.ch)
		return sub
	}

	buffer := b.cfg.SubscriberBuffer
	if len(t.tail) > buffer {
		buffer = len(t.tail) + b.cfg.SubscriberBuffer
	}
	sub := &Subscription{
		jobID: jobID,
		b:     b,
		ch:    make(chan pricing.StreamEvent, buffer),
	}
	for _, evt := range t.tail {
		sub.ch <- evt
	}
	if t.done {
		close(sub.ch)
		return sub
	}
	t.subs[sub] = struct{}{}
	b.cfg.Stats.SubscriberAttached()
	return sub
}

// Register creates the topic for a job before its coordinator starts, so
// subscribers attaching early never observe a missing stream.
func (b *Broadcaster) Register(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if _, ok := b.topics[jobID]; !ok {
		b.topics[jobID] = &topic{subs: make(map[*Subscription]struct{})}
	}
}

// Publish delivers the event to every live subscriber of the job. It never
// blocks: a subscriber whose queue is full is disconnected. A terminal status
// event closes the topic after delivery and schedules its reaping.
func (b *Broadcaster) Publish(jobID string, evt pricing.StreamEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok || t.done || b.closed {
		return
	}

	t.tail = append(t.tail, evt)
	if len(t.tail) > b.cfg.RetainedTail {
		t.tail = t.tail[len(t.tail)-b.cfg.RetainedTail:]
	}

	for sub := range t.subs {
		select {
		case sub.ch <- evt:
		default:
			delete(t.subs, sub)
			close(sub.ch)
			b.cfg.Stats.SubscriberDetached()
			b.cfg.Stats.SubscriberDropped()
			b.logger.Warn("subscriber disconnected due to backpressure",
				zap.String("job_id", jobID))
		}
	}

	if evt.Type == pricing.EventStatus && evt.Status.Terminal() {
		t.done = true
		for sub := range t.subs {
			delete(t.subs, sub)
			close(sub.ch)
			b.cfg.Stats.SubscriberDetached()
		}
		retention := b.cfg.Retention
		time.AfterFunc(retention, func() { b.reap(jobID) })
	}
}

// Close shuts every topic down, closing all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for jobID, t := range b.topics {
		t.done = true
		for sub := range t.subs {
			delete(t.subs, sub)
			close(sub.ch)
			b.cfg.Stats.SubscriberDetached()
		}
		delete(b.topics, jobID)
	}
}

func (b *Broadcaster) reap(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[jobID]
	if !ok || !t.done {
		return
	}
	delete(b.topics, jobID)
}

// Events returns the subscriber's receive channel.
func (s *Subscription) Events() <-chan pricing.StreamEvent {
	return s.ch
}

// Close detaches the subscription. Safe to call multiple times or after the
// job has already completed.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.b.mu.Lock()
		defer s.b.mu.Unlock()
		t, ok := s.b.topics[s.jobID]
		if !ok {
			return
		}
		if _, live := t.subs[s]; live {
			delete(t.subs, s)
			close(s.ch)
			s.b.cfg.Stats.SubscriberDetached()
		}
	})
}

// Package metrics exposes Prometheus collectors for the price crawler.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns every collector the service registers. A nil *Collector is
// valid and records nothing, so callers never need to guard.
type Collector struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobDuration   *prometheus.HistogramVec

	sourceAttempts *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
	quotesTotal    *prometheus.CounterVec

	cacheLookups *prometheus.CounterVec

	streamSubscribers prometheus.Gauge
	streamDropped     prometheus.Counter
}

// New registers the collectors against the provided registry.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricer_jobs_started_total",
			Help: "Total price search jobs that have started.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pricer_jobs_completed_total",
			Help: "Total jobs that reached a terminal state, partitioned by state.",
		}, []string{"state"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pricer_jobs_running",
			Help: "Current number of running jobs.",
		}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pricer_job_duration_seconds",
			Help:    "Wall time per terminal job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"state"}),
		sourceAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pricer_source_attempts_total",
			Help: "Fetch attempts partitioned by platform and outcome.",
		}, []string{"platform", "outcome"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pricer_fetch_duration_seconds",
			Help:    "Fetch attempt duration partitioned by platform.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"platform"}),
		quotesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pricer_quotes_total",
			Help: "Price quotes collected, partitioned by platform.",
		}, []string{"platform"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pricer_cache_lookups_total",
			Help: "Cache-aside lookups partitioned by result.",
		}, []string{"result"}),
		streamSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pricer_stream_subscribers",
			Help: "Current number of attached event stream subscribers.",
		}),
		streamDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricer_stream_dropped_subscribers_total",
			Help: "Subscribers disconnected for falling behind.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		c.jobsStarted,
		c.jobsCompleted,
		c.jobsRunning,
		c.jobDuration,
		c.sourceAttempts,
		c.fetchDuration,
		c.quotesTotal,
		c.cacheLookups,
		c.streamSubscribers,
		c.streamDropped,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register pricer collector: %w", err)
		}
	}
	return c, nil
}

// JobStarted records one dispatched job.
func (c *Collector) JobStarted() {
	if c == nil {
		return
	}
	c.jobsStarted.Inc()
	c.jobsRunning.Inc()
}

// JobFinished records a terminal transition with its wall duration.
func (c *Collector) JobFinished(state string, dur time.Duration) {
	if c == nil {
		return
	}
	c.jobsRunning.Dec()
	c.jobsCompleted.WithLabelValues(state).Inc()
	c.jobDuration.WithLabelValues(state).Observe(dur.Seconds())
}

// SourceAttempt records one fetch attempt outcome ("ok", "error", "timeout").
func (c *Collector) SourceAttempt(platform, outcome string, dur time.Duration) {
	if c == nil {
		return
	}
	c.sourceAttempts.WithLabelValues(platform, outcome).Inc()
	c.fetchDuration.WithLabelValues(platform).Observe(dur.Seconds())
}

// QuotesCollected adds to the per-platform quote counter.
func (c *Collector) QuotesCollected(platform string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.quotesTotal.WithLabelValues(platform).Add(float64(n))
}

// CacheLookup records a cache-aside result ("hit" or "miss").
func (c *Collector) CacheLookup(result string) {
	if c == nil {
		return
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

// SubscriberAttached tracks one new event stream subscriber.
func (c *Collector) SubscriberAttached() {
	if c == nil {
		return
	}
	c.streamSubscribers.Inc()
}

// SubscriberDetached tracks one subscriber leaving for any reason.
func (c *Collector) SubscriberDetached() {
	if c == nil {
		return
	}
	c.streamSubscribers.Dec()
}

// SubscriberDropped counts a subscriber disconnected for backpressure.
func (c *Collector) SubscriberDropped() {
	if c == nil {
		return
	}
	c.streamDropped.Inc()
}

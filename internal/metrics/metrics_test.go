package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecords(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)

	c.JobStarted()
	c.JobStarted()
	c.JobFinished("completed", 2*time.Second)
	c.SourceAttempt("airbnb", "ok", 100*time.Millisecond)
	c.SourceAttempt("booking", "timeout", time.Second)
	c.QuotesCollected("airbnb", 5)
	c.QuotesCollected("airbnb", 0)
	c.CacheLookup("hit")
	c.CacheLookup("miss")

	require.Equal(t, float64(2), testutil.ToFloat64(c.jobsStarted))
	require.Equal(t, float64(1), testutil.ToFloat64(c.jobsRunning))
	require.Equal(t, float64(1), testutil.ToFloat64(c.jobsCompleted.WithLabelValues("completed")))
	require.Equal(t, float64(5), testutil.ToFloat64(c.quotesTotal.WithLabelValues("airbnb")))
	require.Equal(t, float64(1), testutil.ToFloat64(c.cacheLookups.WithLabelValues("hit")))
	require.Equal(t, float64(1), testutil.ToFloat64(c.sourceAttempts.WithLabelValues("booking", "timeout")))
}

// TestCollectorNilSafe ensures a nil collector is a no-op everywhere.
func TestCollectorNilSafe(t *testing.T) {
	t.Parallel()

	var c *Collector
	c.JobStarted()
	c.JobFinished("completed", time.Second)
	c.SourceAttempt("airbnb", "ok", time.Second)
	c.QuotesCollected("airbnb", 1)
	c.CacheLookup("hit")
}

func TestCollectorDoubleRegisterFails(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	require.Error(t, err)
}

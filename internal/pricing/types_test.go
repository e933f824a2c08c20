package pricing

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSearchCriteriaValidate(t *testing.T) {
	t.Parallel()

	lat := 91.0
	cases := []struct {
		name    string
		mutate  func(*SearchCriteria)
		wantErr string
	}{
		{"valid", func(*SearchCriteria) {}, ""},
		{"missing property", func(c *SearchCriteria) { c.PropertyName = "" }, "property name is required"},
		{"missing city", func(c *SearchCriteria) { c.City = "" }, "city is required"},
		{"missing country", func(c *SearchCriteria) { c.Country = "" }, "country is required"},
		{"bad checkin", func(c *SearchCriteria) { c.CheckIn = "02/01/2024" }, "invalid checkin date"},
		{"bad checkout", func(c *SearchCriteria) { c.CheckOut = "soon" }, "invalid checkout date"},
		{"checkout before checkin", func(c *SearchCriteria) { c.CheckOut = "2024-01-30" }, "checkout date must be after checkin date"},
		{"checkout equals checkin", func(c *SearchCriteria) { c.CheckOut = c.CheckIn }, "checkout date must be after checkin date"},
		{"latitude out of range", func(c *SearchCriteria) { c.Latitude = &lat }, "latitude must be between -90 and 90"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := sampleCriteria()
			tc.mutate(&c)
			err := c.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidCriteria)
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestJobProgress(t *testing.T) {
	t.Parallel()

	job := Job{Sources: map[string]SourceStatus{
		"airbnb":  SourceSucceeded,
		"booking": SourceFailed,
		"vrbo":    SourceRunning,
		"hotels":  SourcePending,
	}}
	require.Equal(t, 2, job.CompletedSources())
	require.InDelta(t, 50.0, job.Progress(), 0.001)

	require.Zero(t, Job{}.Progress())
}

// TestStreamEventWireShapes pins the JSON shapes delivered to subscribers.
func TestStreamEventWireShapes(t *testing.T) {
	t.Parallel()

	quote := PriceQuote{
		Source:     "airbnb",
		Currency:   "USD",
		Amount:     129.99,
		Available:  true,
		ObservedAt: time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC),
	}
	price, err := json.Marshal(NewPriceUpdate("job-1", sampleCriteria(), quote))
	require.NoError(t, err)

	var priceMap map[string]any
	require.NoError(t, json.Unmarshal(price, &priceMap))
	require.Equal(t, "price_update", priceMap["type"])
	require.Equal(t, "job-1", priceMap["job_id"])
	require.Equal(t, "airbnb", priceMap["platform"])
	require.Contains(t, priceMap, "criteria")
	require.Contains(t, priceMap, "quote")

	status, err := json.Marshal(NewStatusUpdate("job-1", JobCompleted, 2, 2))
	require.NoError(t, err)

	var statusMap map[string]any
	require.NoError(t, json.Unmarshal(status, &statusMap))
	require.Equal(t, "status", statusMap["type"])
	require.Equal(t, "completed", statusMap["status"])
	require.EqualValues(t, 2, statusMap["completed_platforms"])
	require.EqualValues(t, 2, statusMap["total_platforms"])
	require.NotContains(t, statusMap, "quote")

	_, err = json.Marshal(StreamEvent{Type: "bogus"})
	require.Error(t, err)
}

func TestJobStateTerminal(t *testing.T) {
	t.Parallel()

	require.True(t, JobCompleted.Terminal())
	require.True(t, JobFailed.Terminal())
	require.True(t, JobCancelled.Terminal())
	require.False(t, JobPending.Terminal())
	require.False(t, JobRunning.Terminal())
}

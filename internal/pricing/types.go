// Package pricing defines core types shared across subsystems.
package pricing

import (
	"fmt"
	"time"
)

// DateLayout is the wire format for check-in/check-out dates.
const DateLayout = "2006-01-02"

// JobState represents the lifecycle state of a price search job.
type JobState string

// Job states. Transitions are monotonic: pending -> running -> terminal.
const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Terminal reports whether the state is final.
func (s JobState) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// SourceStatus tracks one platform's progress within a job.
type SourceStatus string

// Per-source statuses.
const (
	SourcePending   SourceStatus = "pending"
	SourceRunning   SourceStatus = "running"
	SourceSucceeded SourceStatus = "succeeded"
	SourceFailed    SourceStatus = "failed"
)

// Terminal reports whether the source has finished, successfully or not.
func (s SourceStatus) Terminal() bool {
	return s == SourceSucceeded || s == SourceFailed
}

// SearchCriteria captures one accommodation price search. It is immutable
// once a job has been created from it.
type SearchCriteria struct {
	PropertyName string   `json:"property_name"`
	City         string   `json:"city"`
	State        string   `json:"state,omitempty"`
	Country      string   `json:"country"`
	CheckIn      string   `json:"checkin_date"`
	CheckOut     string   `json:"checkout_date"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
}

// Validate checks required fields, date formats and coordinate bounds. All
// failures wrap ErrInvalidCriteria.
func (c SearchCriteria) Validate() error {
	if c.PropertyName == "" {
		return fmt.Errorf("%w: property name is required", ErrInvalidCriteria)
	}
	if c.City == "" {
		return fmt.Errorf("%w: city is required", ErrInvalidCriteria)
	}
	if c.Country == "" {
		return fmt.Errorf("%w: country is required", ErrInvalidCriteria)
	}
	checkIn, err := time.Parse(DateLayout, c.CheckIn)
	if err != nil {
		return fmt.Errorf("%w: invalid checkin date %q: expected YYYY-MM-DD", ErrInvalidCriteria, c.CheckIn)
	}
	checkOut, err := time.Parse(DateLayout, c.CheckOut)
	if err != nil {
		return fmt.Errorf("%w: invalid checkout date %q: expected YYYY-MM-DD", ErrInvalidCriteria, c.CheckOut)
	}
	if !checkOut.After(checkIn) {
		return fmt.Errorf("%w: checkout date must be after checkin date", ErrInvalidCriteria)
	}
	if c.Latitude != nil && (*c.Latitude < -90 || *c.Latitude > 90) {
		return fmt.Errorf("%w: latitude must be between -90 and 90", ErrInvalidCriteria)
	}
	if c.Longitude != nil && (*c.Longitude < -180 || *c.Longitude > 180) {
		return fmt.Errorf("%w: longitude must be between -180 and 180", ErrInvalidCriteria)
	}
	return nil
}

// PriceQuote is one price observation produced by a source fetcher. Quotes
// are immutable once produced.
type PriceQuote struct {
	Source       string    `json:"platform"`
	Currency     string    `json:"currency"`
	Amount       float64   `json:"amount"`
	Available    bool      `json:"availability"`
	PropertyName string    `json:"property_name,omitempty"`
	URL          string    `json:"url,omitempty"`
	Rating       float64   `json:"rating,omitempty"`
	ReviewCount  int       `json:"review_count,omitempty"`
	ObservedAt   time.Time `json:"timestamp"`
}

// Job is the unit of work for one search fan-out. It is owned by the
// registry; the coordinator mutates it only through registry transitions.
type Job struct {
	ID          string                  `json:"job_id"`
	Criteria    SearchCriteria          `json:"criteria"`
	State       JobState                `json:"status"`
	Sources     map[string]SourceStatus `json:"platforms"`
	CreatedAt   time.Time               `json:"created_at"`
	CompletedAt *time.Time              `json:"completed_at,omitempty"`
}

// CompletedSources counts sources that have reached a terminal status.
func (j Job) CompletedSources() int {
	n := 0
	for _, st := range j.Sources {
		if st.Terminal() {
			n++
		}
	}
	return n
}

// Progress returns completion as a percentage over enabled sources.
func (j Job) Progress() float64 {
	if len(j.Sources) == 0 {
		return 0
	}
	return float64(j.CompletedSources()) / float64(len(j.Sources)) * 100
}

// AggregateResult groups every quote a job produced by source. It is the
// unit written to the cache and result stores and returned to callers.
type AggregateResult struct {
	JobID       string                  `json:"job_id"`
	Criteria    SearchCriteria          `json:"criteria"`
	Quotes      map[string][]PriceQuote `json:"platform_prices"`
	TotalQuotes int                     `json:"total_results"`
	Complete    bool                    `json:"complete"`
	CompletedAt time.Time               `json:"completed_at"`
}

// SourcePolicy controls the retry behavior for one platform. Retries against
// the same source are always serialized, never overlapping.
type SourcePolicy struct {
	// AttemptTimeout bounds a single fetch attempt. An attempt exceeding it
	// counts as a retryable failure.
	AttemptTimeout time.Duration
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int
	// RetryDelay is the minimum wait between attempts to the same source.
	RetryDelay time.Duration
}

package pricing

import (
	"encoding/json"
	"fmt"
)

// EventType tags the two kinds of stream events.
type EventType string

// Stream event types.
const (
	EventPriceUpdate EventType = "price_update"
	EventStatus      EventType = "status"
)

// StreamEvent is a tagged union: a price_update carries Criteria and Quote, a
// status event carries Status and the completed/total source counts. Events
// are immutable and ordered only by emission time within a single job.
type StreamEvent struct {
	Type  EventType
	JobID string

	// price_update fields.
	Source   string
	Criteria SearchCriteria
	Quote    PriceQuote

	// status fields.
	Status           JobState
	CompletedSources int
	TotalSources     int
}

// NewPriceUpdate builds a price_update event.
func NewPriceUpdate(jobID string, criteria SearchCriteria, quote PriceQuote) StreamEvent {
	return StreamEvent{
		Type:     EventPriceUpdate,
		JobID:    jobID,
		Source:   quote.Source,
		Criteria: criteria,
		Quote:    quote,
	}
}

// NewStatusUpdate builds a status event.
func NewStatusUpdate(jobID string, status JobState, completed, total int) StreamEvent {
	return StreamEvent{
		Type:             EventStatus,
		JobID:            jobID,
		Status:           status,
		CompletedSources: completed,
		TotalSources:     total,
	}
}

type priceUpdateWire struct {
	Type     EventType      `json:"type"`
	JobID    string         `json:"job_id"`
	Platform string         `json:"platform"`
	Criteria SearchCriteria `json:"criteria"`
	Quote    PriceQuote     `json:"quote"`
}

type statusWire struct {
	Type               EventType `json:"type"`
	JobID              string    `json:"job_id"`
	Status             JobState  `json:"status"`
	CompletedPlatforms int       `json:"completed_platforms"`
	TotalPlatforms     int       `json:"total_platforms"`
}

// MarshalJSON emits the wire shape matching the event type.
func (e StreamEvent) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventPriceUpdate:
		return json.Marshal(priceUpdateWire{
			Type:     e.Type,
			JobID:    e.JobID,
			Platform: e.Source,
			Criteria: e.Criteria,
			Quote:    e.Quote,
		})
	case EventStatus:
		return json.Marshal(statusWire{
			Type:               e.Type,
			JobID:              e.JobID,
			Status:             e.Status,
			CompletedPlatforms: e.CompletedSources,
			TotalPlatforms:     e.TotalSources,
		})
	default:
		return nil, fmt.Errorf("unknown stream event type %q", e.Type)
	}
}

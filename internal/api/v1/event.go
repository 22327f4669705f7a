package v1

import (
	"fmt"
	"time"

	"github.com/aevon-lab/eventkernel/internal/core/event"
)

// AppendEventsRequest is the body of POST /v1/streams/:tenant_id/:aggregate_type/:aggregate_id/events.
// The stream coordinates come from the path.
type AppendEventsRequest struct {
	// ExpectedVersion is the stream version the caller last observed.
	// It is a pointer so a missing value is rejected rather than read as 0.
	ExpectedVersion *int64 `json:"expected_version"`

	Events []EventInput `json:"events"`

	// UserID and RequestID are optional provenance stored with every event.
	UserID    string `json:"user_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// EventInput is one event inside an append.
type EventInput struct {
	EventType string `json:"event_type"`

	// OccurredAt defaults to the server clock when omitted.
	OccurredAt time.Time `json:"occurred_at"`

	// SchemaVersion defaults to 1.
	SchemaVersion int `json:"schema_version,omitempty"`

	EventData map[string]interface{} `json:"event_data"`
}

// Validate checks the request body shape.
func (r *AppendEventsRequest) Validate() error {
	if r.ExpectedVersion == nil {
		return fmt.Errorf("expected_version is required")
	}
	if *r.ExpectedVersion < 0 {
		return fmt.Errorf("expected_version must be >= 0")
	}
	if len(r.Events) == 0 {
		return fmt.Errorf("events must not be empty")
	}
	for i, e := range r.Events {
		if e.EventType == "" {
			return fmt.Errorf("events[%d]: event_type is required", i)
		}
		if e.SchemaVersion < 0 {
			return fmt.Errorf("events[%d]: schema_version must be >= 1", i)
		}
	}
	return nil
}

// DomainEvents converts the inputs into domain events for aggregateID,
// filling defaults from now.
func (r *AppendEventsRequest) DomainEvents(aggregateID string, now time.Time) []event.DomainEvent {
	out := make([]event.DomainEvent, len(r.Events))
	for i, in := range r.Events {
		e := event.New(in.EventType, aggregateID, in.EventData)
		if in.OccurredAt.IsZero() {
			e.OccurredAt = now.UTC()
		} else {
			e.OccurredAt = in.OccurredAt.UTC()
		}
		if in.SchemaVersion > 0 {
			e.SchemaVersion = in.SchemaVersion
		}
		if e.EventData == nil {
			e.EventData = map[string]interface{}{}
		}
		out[i] = e
	}
	return out
}

type AppendEventsResponse struct {
	NewVersion int64 `json:"new_version"`
}

// EventRecord is the read-side JSON shape of a stored event.
type EventRecord struct {
	ID            string                 `json:"id"`
	TenantID      string                 `json:"tenant_id"`
	AggregateType string                 `json:"aggregate_type"`
	AggregateID   string                 `json:"aggregate_id"`
	Version       int64                  `json:"version"`
	EventType     string                 `json:"event_type"`
	SchemaVersion int                    `json:"schema_version"`
	OccurredAt    time.Time              `json:"occurred_at"`
	InsertedAt    time.Time              `json:"inserted_at"`
	UserID        string                 `json:"user_id,omitempty"`
	RequestID     string                 `json:"request_id,omitempty"`
	EventData     map[string]interface{} `json:"event_data"`
}

func NewEventRecord(e event.StoredEvent) EventRecord {
	return EventRecord{
		ID:            e.ID,
		TenantID:      e.TenantID,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		Version:       e.Version,
		EventType:     e.EventType,
		SchemaVersion: e.SchemaVersion,
		OccurredAt:    e.OccurredAt,
		InsertedAt:    e.InsertedAt,
		UserID:        e.UserID,
		RequestID:     e.RequestID,
		EventData:     e.EventData,
	}
}

func NewEventRecords(events []event.StoredEvent) []EventRecord {
	out := make([]EventRecord, len(events))
	for i, e := range events {
		out[i] = NewEventRecord(e)
	}
	return out
}

// StreamResponse is returned by GET /v1/streams/:tenant_id/:aggregate_type/:aggregate_id.
type StreamResponse struct {
	TenantID       string        `json:"tenant_id"`
	AggregateType  string        `json:"aggregate_type"`
	AggregateID    string        `json:"aggregate_id"`
	CurrentVersion int64         `json:"current_version"`
	Events         []EventRecord `json:"events"`
}

// EventsResponse is returned by GET /v1/events. NextOffset restarts the read
// after the last returned event.
type EventsResponse struct {
	Events     []EventRecord `json:"events"`
	Count      int           `json:"count"`
	NextOffset int           `json:"next_offset"`
}

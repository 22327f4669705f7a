package event

import (
	"fmt"
	"time"
)

// DomainEvent is a business fact produced by an aggregate.
// It carries only domain data; storage coordinates are added when it becomes a StoredEvent.
type DomainEvent struct {
	// EventType is the registry key (e.g. "UserRegistered").
	EventType string `json:"event_type"`

	// OccurredAt is when the fact happened, stamped by the producer.
	OccurredAt time.Time `json:"occurred_at"`

	// AggregateID identifies the aggregate instance the event belongs to.
	AggregateID string `json:"aggregate_id"`

	// EventData is the payload. It may hold timestamps, byte slices and decimals;
	// the registry codec takes care of tagging those for storage.
	EventData map[string]interface{} `json:"event_data"`

	// SchemaVersion is the payload shape version, starting at 1.
	SchemaVersion int `json:"schema_version"`
}

// New builds a DomainEvent stamped with the current time and schema version 1.
// The payload map is copied so later caller mutations do not leak into the event.
func New(eventType, aggregateID string, data map[string]interface{}) DomainEvent {
	return DomainEvent{
		EventType:     eventType,
		OccurredAt:    time.Now().UTC(),
		AggregateID:   aggregateID,
		EventData:     CopyData(data),
		SchemaVersion: 1,
	}
}

// WithSchemaVersion returns a copy of e carrying the given schema version.
func (e DomainEvent) WithSchemaVersion(version int) DomainEvent {
	e.SchemaVersion = version
	return e
}

// WithOccurredAt returns a copy of e with a fixed occurrence time.
func (e DomainEvent) WithOccurredAt(at time.Time) DomainEvent {
	e.OccurredAt = at.UTC()
	return e
}

// Clone deep-copies the payload.
func (e DomainEvent) Clone() DomainEvent {
	e.EventData = CopyData(e.EventData)
	return e
}

// Validate ensures the event has everything a store needs to persist it.
func (e DomainEvent) Validate() error {
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.AggregateID == "" {
		return fmt.Errorf("aggregate_id is required")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}
	if e.SchemaVersion < 1 {
		return fmt.Errorf("schema_version must be >= 1, got %d", e.SchemaVersion)
	}
	return nil
}

// StoredEvent is a DomainEvent plus the coordinates assigned on persistence.
type StoredEvent struct {
	// ID is unique per stored event, assigned by the store.
	ID string `json:"id"`

	TenantID      string `json:"tenant_id"`
	AggregateType string `json:"aggregate_type"`

	// Version is the 1-based position of the event within its stream.
	Version int64 `json:"version"`

	DomainEvent

	// UserID and RequestID are optional provenance supplied by the appender.
	UserID    string `json:"user_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	// InsertedAt is the store's clock at persistence time.
	InsertedAt time.Time `json:"inserted_at"`
}

// Clone deep-copies the payload and keeps the storage coordinates.
func (e StoredEvent) Clone() StoredEvent {
	e.DomainEvent = e.DomainEvent.Clone()
	return e
}

// Key returns the stream coordinates of the event.
func (e StoredEvent) Key() StreamKey {
	return StreamKey{TenantID: e.TenantID, AggregateType: e.AggregateType, AggregateID: e.AggregateID}
}

// StreamKey identifies one aggregate's event stream.
type StreamKey struct {
	TenantID      string `json:"tenant_id"`
	AggregateType string `json:"aggregate_type"`
	AggregateID   string `json:"aggregate_id"`
}

func (k StreamKey) Validate() error {
	if k.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if k.AggregateType == "" {
		return fmt.Errorf("aggregate_type is required")
	}
	if k.AggregateID == "" {
		return fmt.Errorf("aggregate_id is required")
	}
	return nil
}

func (k StreamKey) String() string {
	return k.TenantID + "/" + k.AggregateType + "/" + k.AggregateID
}

// CopyData deep-copies a payload map. Nested maps and slices are copied; leaf
// values are shared since they are immutable in practice (strings, numbers, times).
func CopyData(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return CopyData(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	case []byte:
		out := make([]byte, len(val))
		copy(out, val)
		return out
	default:
		return v
	}
}

package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/aevon-lab/eventkernel/internal/core/event"
)

var (
	// ErrConcurrency matches every *ConcurrencyError through errors.Is.
	ErrConcurrency = errors.New("concurrency conflict")

	// ErrNoEvents is returned when an append carries no events.
	ErrNoEvents = errors.New("no events to append")

	// ErrSnapshotNotFound is returned when no snapshot satisfies a lookup.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrSubscriptionUnsupported is returned when a live feed is requested from
	// a store that cannot deliver one.
	ErrSubscriptionUnsupported = errors.New("store does not support subscription")
)

// ConcurrencyError reports a failed compare-and-append. CurrentVersion is the
// stream version observed by the losing writer.
type ConcurrencyError struct {
	TenantID        string
	AggregateType   string
	AggregateID     string
	ExpectedVersion int64
	CurrentVersion  int64
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("concurrency conflict on %s/%s/%s: expected version %d, current version %d",
		e.TenantID, e.AggregateType, e.AggregateID, e.ExpectedVersion, e.CurrentVersion)
}

func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrency
}

// AppendRequest asks a store to append Events to one stream, provided the
// stream is still at ExpectedVersion.
type AppendRequest struct {
	TenantID        string
	AggregateType   string
	AggregateID     string
	ExpectedVersion int64
	Events          []event.DomainEvent

	UserID    string
	RequestID string
}

// Key returns the target stream.
func (r AppendRequest) Key() event.StreamKey {
	return event.StreamKey{TenantID: r.TenantID, AggregateType: r.AggregateType, AggregateID: r.AggregateID}
}

// Validate checks the request shape. Every event must belong to the target aggregate.
func (r AppendRequest) Validate() error {
	if err := r.Key().Validate(); err != nil {
		return err
	}
	if r.ExpectedVersion < 0 {
		return fmt.Errorf("expected_version must be >= 0, got %d", r.ExpectedVersion)
	}
	if len(r.Events) == 0 {
		return ErrNoEvents
	}
	for i, e := range r.Events {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
		if e.AggregateID != r.AggregateID {
			return fmt.Errorf("event %d: aggregate_id %q does not match stream %q", i, e.AggregateID, r.AggregateID)
		}
	}
	return nil
}

// NewConflict builds the ConcurrencyError for this request.
func (r AppendRequest) NewConflict(currentVersion int64) *ConcurrencyError {
	return &ConcurrencyError{
		TenantID:        r.TenantID,
		AggregateType:   r.AggregateType,
		AggregateID:     r.AggregateID,
		ExpectedVersion: r.ExpectedVersion,
		CurrentVersion:  currentVersion,
	}
}

type AppendResult struct {
	NewVersion int64
}

// LoadRequest reads one stream after FromVersion (exclusive).
type LoadRequest struct {
	TenantID      string
	AggregateType string
	AggregateID   string
	FromVersion   int64
}

func (r LoadRequest) Key() event.StreamKey {
	return event.StreamKey{TenantID: r.TenantID, AggregateType: r.AggregateType, AggregateID: r.AggregateID}
}

// Stream is the result of LoadStream. CurrentVersion is the head of the whole
// stream, independent of FromVersion.
type Stream struct {
	Events         []event.StoredEvent
	CurrentVersion int64
}

// EventStore is the append-only log of aggregate streams.
type EventStore interface {
	// AppendToStream atomically appends events if the stream is at ExpectedVersion.
	// Returns *ConcurrencyError otherwise; nothing is persisted on failure.
	AppendToStream(ctx context.Context, req AppendRequest) (AppendResult, error)

	// LoadStream returns events with version > FromVersion in ascending version order.
	LoadStream(ctx context.Context, req LoadRequest) (Stream, error)

	// LoadAllEvents reads across streams for analytics and rebuilds.
	LoadAllEvents(ctx context.Context, filter event.Filter, opts event.ReadOptions) ([]event.StoredEvent, error)
}

// EventStreamer is implemented by stores that can walk the log in bounded batches.
type EventStreamer interface {
	StreamAllEvents(filter event.Filter, opts event.ReadOptions) *Cursor
}

// Handler receives events from a live subscription.
type Handler func(ctx context.Context, e event.StoredEvent)

type Subscription interface {
	Close() error
}

// Subscriber is an optional EventStore capability delivering newly appended events.
type Subscriber interface {
	Subscribe(ctx context.Context, handler Handler) (Subscription, error)
}

// SnapshotStore persists aggregate snapshots. Lookups that find nothing
// return ErrSnapshotNotFound.
type SnapshotStore interface {
	// SaveSnapshot upserts on (stream, version).
	SaveSnapshot(ctx context.Context, snapshot event.Snapshot) error
	LoadLatestSnapshot(ctx context.Context, key event.StreamKey) (*event.Snapshot, error)
	// LoadSnapshotAtVersion returns the newest snapshot with version <= maxVersion.
	LoadSnapshotAtVersion(ctx context.Context, key event.StreamKey, maxVersion int64) (*event.Snapshot, error)
	DeleteSnapshots(ctx context.Context, key event.StreamKey) error
}

package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aevon-lab/eventkernel/internal/core/event"
	"github.com/aevon-lab/eventkernel/internal/core/storage"
	"github.com/aevon-lab/eventkernel/internal/registry"
	"github.com/google/uuid"
)

// ErrAggregateNotFound is returned when a stream has no events.
var ErrAggregateNotFound = errors.New("aggregate not found")

// Snapshotter is implemented by aggregates whose state can be captured.
// The map may hold times, byte slices and decimals.
type Snapshotter interface {
	SnapshotState() (map[string]interface{}, error)
	RestoreSnapshotState(state map[string]interface{}) error
}

// Upcaster brings stored events to the current schema version of their type.
type Upcaster interface {
	Upcast(e event.StoredEvent) (event.StoredEvent, error)
}

type RepositoryOptions struct {
	// Snapshots enables snapshot reads and writes when set.
	Snapshots storage.SnapshotStore
	// SnapshotEvery takes a snapshot each time the version crosses a multiple of it.
	SnapshotEvery int64
	// Upcaster is applied to every replayed event.
	Upcaster Upcaster
	// StrictEventTypes fails loads that meet an unregistered event type
	// instead of skipping it.
	StrictEventTypes bool
}

// Repository loads and saves one aggregate type through an EventStore.
type Repository[T Aggregate] struct {
	store         storage.EventStore
	aggregateType string
	factory       func() T
	opts          RepositoryOptions
}

func NewRepository[T Aggregate](store storage.EventStore, aggregateType string, factory func() T, opts RepositoryOptions) *Repository[T] {
	if store == nil {
		panic("aggregate: nil event store")
	}
	return &Repository[T]{
		store:         store,
		aggregateType: aggregateType,
		factory:       factory,
		opts:          opts,
	}
}

// Load rebuilds the latest state: newest snapshot if any, then the events after it.
func (r *Repository[T]) Load(ctx context.Context, tenantID, id string) (T, error) {
	return r.load(ctx, tenantID, id, 0)
}

// LoadAt rebuilds the state as of version (inclusive).
func (r *Repository[T]) LoadAt(ctx context.Context, tenantID, id string, version int64) (T, error) {
	if version <= 0 {
		var zero T
		return zero, fmt.Errorf("version must be > 0, got %d", version)
	}
	return r.load(ctx, tenantID, id, version)
}

func (r *Repository[T]) load(ctx context.Context, tenantID, id string, atVersion int64) (T, error) {
	var zero T

	agg := r.factory()
	root := agg.AggregateRoot()
	root.Init(tenantID, r.aggregateType, id)
	key := root.Key()

	fromVersion, err := r.restoreSnapshot(ctx, agg, key, atVersion)
	if err != nil {
		return zero, err
	}

	req := storage.LoadRequest{
		TenantID:      tenantID,
		AggregateType: r.aggregateType,
		AggregateID:   id,
		FromVersion:   fromVersion,
	}
	stream, err := r.store.LoadStream(ctx, req)
	if err != nil {
		return zero, fmt.Errorf("load stream %s: %w", key, err)
	}
	if fromVersion > stream.CurrentVersion {
		// The snapshot claims more history than the stream holds; trust the events.
		slog.Warn("[Repository] Ignoring snapshot ahead of stream",
			"stream", key.String(),
			"snapshot_version", fromVersion,
			"stream_version", stream.CurrentVersion)
		agg = r.factory()
		root = agg.AggregateRoot()
		root.Init(tenantID, r.aggregateType, id)
		req.FromVersion = 0
		if stream, err = r.store.LoadStream(ctx, req); err != nil {
			return zero, fmt.Errorf("load stream %s: %w", key, err)
		}
	}
	if stream.CurrentVersion == 0 {
		return zero, fmt.Errorf("%w: %s", ErrAggregateNotFound, key)
	}

	for _, e := range stream.Events {
		if atVersion > 0 && e.Version > atVersion {
			break
		}
		if err := r.replay(agg, root, e); err != nil {
			return zero, err
		}
	}
	root.ResetEventStateAfterRehydrate()

	return agg, nil
}

func (r *Repository[T]) restoreSnapshot(ctx context.Context, agg T, key event.StreamKey, atVersion int64) (int64, error) {
	snapshotter, ok := any(agg).(Snapshotter)
	if r.opts.Snapshots == nil || !ok {
		return 0, nil
	}

	var (
		snap *event.Snapshot
		err  error
	)
	if atVersion > 0 {
		snap, err = r.opts.Snapshots.LoadSnapshotAtVersion(ctx, key, atVersion)
	} else {
		snap, err = r.opts.Snapshots.LoadLatestSnapshot(ctx, key)
	}
	if errors.Is(err, storage.ErrSnapshotNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load snapshot %s: %w", key, err)
	}

	payload, err := registry.Unmarshal(snap.State)
	if err != nil {
		return 0, fmt.Errorf("decode snapshot %s v%d: %w", key, snap.Version, err)
	}
	state, _ := payload["state"].(map[string]interface{})
	if err := snapshotter.RestoreSnapshotState(state); err != nil {
		return 0, fmt.Errorf("restore snapshot %s v%d: %w", key, snap.Version, err)
	}
	root := agg.AggregateRoot()
	if audit, ok := payload["root"].(map[string]interface{}); ok {
		root.restoreAuditState(audit)
	}
	root.RestoreVersion(snap.Version)

	slog.Debug("[Repository] Restored snapshot", "stream", key.String(), "version", snap.Version)
	return snap.Version, nil
}

func (r *Repository[T]) replay(agg T, root *Root, e event.StoredEvent) error {
	if r.opts.Upcaster != nil {
		upcast, err := r.opts.Upcaster.Upcast(e)
		if errors.Is(err, registry.ErrUnknownEventType) && !r.opts.StrictEventTypes {
			slog.Warn("[Repository] Skipping unregistered event type during replay",
				"stream", root.Key().String(),
				"event_type", e.EventType,
				"version", e.Version)
			if err := root.checkNext(e.Version); err != nil {
				return err
			}
			root.advance(e)
			return nil
		}
		if err != nil {
			return fmt.Errorf("upcast %s v%d: %w", e.EventType, e.Version, err)
		}
		e = upcast
	}
	return root.Replay(agg, e)
}

// Save appends the pending events with optimistic concurrency and commits
// them on success. A *storage.ConcurrencyError leaves the buffer intact so the
// caller can reload and retry.
func (r *Repository[T]) Save(ctx context.Context, agg T, userID, requestID string) error {
	root := agg.AggregateRoot()
	pending := root.UncommittedEvents()
	if len(pending) == 0 {
		return nil
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}

	previous := root.ExpectedVersion()
	result, err := r.store.AppendToStream(ctx, storage.AppendRequest{
		TenantID:        root.TenantID(),
		AggregateType:   r.aggregateType,
		AggregateID:     root.ID(),
		ExpectedVersion: previous,
		Events:          pending,
		UserID:          userID,
		RequestID:       requestID,
	})
	if err != nil {
		return err
	}
	root.CommitUncommittedEvents()
	root.markCommittedBy(userID, previous == 0)

	if result.NewVersion != root.Version() {
		slog.Warn("[Repository] Store version differs from aggregate version",
			"stream", root.Key().String(),
			"store_version", result.NewVersion,
			"aggregate_version", root.Version())
	}

	r.maybeSnapshot(ctx, agg, previous, result.NewVersion)
	return nil
}

// maybeSnapshot writes a snapshot when the version crossed a SnapshotEvery
// boundary. Failures are logged; the events are already durable.
func (r *Repository[T]) maybeSnapshot(ctx context.Context, agg T, previous, current int64) {
	if r.opts.Snapshots == nil || r.opts.SnapshotEvery <= 0 {
		return
	}
	if previous/r.opts.SnapshotEvery == current/r.opts.SnapshotEvery {
		return
	}
	if err := r.TakeSnapshot(ctx, agg); err != nil {
		slog.Warn("[Repository] Snapshot failed",
			"stream", agg.AggregateRoot().Key().String(),
			"version", current,
			"error", err)
	}
}

// TakeSnapshot captures agg at its committed version.
func (r *Repository[T]) TakeSnapshot(ctx context.Context, agg T) error {
	if r.opts.Snapshots == nil {
		return fmt.Errorf("snapshots are not configured")
	}
	snapshotter, ok := any(agg).(Snapshotter)
	if !ok {
		return fmt.Errorf("%s does not support snapshots", r.aggregateType)
	}
	root := agg.AggregateRoot()
	if root.HasUncommittedEvents() {
		return fmt.Errorf("cannot snapshot %s with uncommitted events", root.Key())
	}

	state, err := snapshotter.SnapshotState()
	if err != nil {
		return fmt.Errorf("capture state: %w", err)
	}
	blob, err := registry.Marshal(map[string]interface{}{
		"state": state,
		"root":  root.auditState(),
	})
	if err != nil {
		return err
	}

	return r.opts.Snapshots.SaveSnapshot(ctx, event.Snapshot{
		ID:            uuid.NewString(),
		TenantID:      root.TenantID(),
		AggregateType: r.aggregateType,
		AggregateID:   root.ID(),
		Version:       root.CommittedVersion(),
		State:         blob,
		CreatedAt:     nowFn(),
	})
}

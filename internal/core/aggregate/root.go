package aggregate

import (
	"fmt"
	"time"

	"github.com/aevon-lab/eventkernel/internal/core/event"
)

var nowFn = func() time.Time { return time.Now().UTC() }

// Aggregate is implemented by domain aggregates that embed Root.
// Apply must be a pure state transition: it is used both when recording new
// events and when replaying history.
type Aggregate interface {
	AggregateRoot() *Root
	Apply(e event.DomainEvent) error
}

// Root tracks identity, versioning, pending events, audit fields and soft
// deletion for an aggregate. The event buffer belongs to the instance.
type Root struct {
	tenantID      string
	aggregateType string
	id            string

	// version counts every event applied, committed or not.
	version          int64
	committedVersion int64
	uncommitted      []event.DomainEvent

	createdAt time.Time
	updatedAt time.Time
	createdBy string
	updatedBy string

	deletedAt *time.Time
	deletedBy string
}

// AggregateRoot lets embedding types satisfy Aggregate.
func (r *Root) AggregateRoot() *Root { return r }

// Init sets the stream coordinates. It is called by constructors and by the
// repository before replay.
func (r *Root) Init(tenantID, aggregateType, id string) {
	r.tenantID = tenantID
	r.aggregateType = aggregateType
	r.id = id
}

func (r *Root) TenantID() string      { return r.tenantID }
func (r *Root) AggregateType() string { return r.aggregateType }
func (r *Root) ID() string            { return r.id }

func (r *Root) Key() event.StreamKey {
	return event.StreamKey{TenantID: r.tenantID, AggregateType: r.aggregateType, AggregateID: r.id}
}

// Version is the committed version plus the number of pending events.
func (r *Root) Version() int64 { return r.version }

func (r *Root) CommittedVersion() int64 { return r.committedVersion }

// ExpectedVersion is the version the stream must be at for the pending
// events to be appended.
func (r *Root) ExpectedVersion() int64 { return r.committedVersion }

// AddDomainEvent buffers e and advances the version. It does not apply e.
func (r *Root) AddDomainEvent(e event.DomainEvent) {
	r.uncommitted = append(r.uncommitted, e)
	r.version++
}

// Record applies e to agg, buffers it and refreshes the audit timestamps
// from the event time, the same way replay derives them.
// A failing Apply leaves the aggregate untouched.
func (r *Root) Record(agg Aggregate, e event.DomainEvent) error {
	if e.AggregateID == "" {
		e.AggregateID = r.id
	}
	if e.AggregateID != r.id {
		return fmt.Errorf("event %s targets aggregate %q, not %q", e.EventType, e.AggregateID, r.id)
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = nowFn()
	}
	if err := agg.Apply(e); err != nil {
		return fmt.Errorf("apply %s: %w", e.EventType, err)
	}
	r.AddDomainEvent(e)
	if r.createdAt.IsZero() {
		r.createdAt = e.OccurredAt
	}
	r.updatedAt = e.OccurredAt
	return nil
}

// UncommittedEvents returns a copy of the pending events.
func (r *Root) UncommittedEvents() []event.DomainEvent {
	out := make([]event.DomainEvent, len(r.uncommitted))
	copy(out, r.uncommitted)
	return out
}

// PullUncommittedEvents returns the pending events and commits them.
func (r *Root) PullUncommittedEvents() []event.DomainEvent {
	out := r.UncommittedEvents()
	r.CommitUncommittedEvents()
	return out
}

// CommitUncommittedEvents clears the buffer; committed version catches up to version.
func (r *Root) CommitUncommittedEvents() {
	r.uncommitted = nil
	r.committedVersion = r.version
}

func (r *Root) HasUncommittedEvents() bool { return len(r.uncommitted) > 0 }

// MarkCreated stamps creation audit fields.
func (r *Root) MarkCreated(by string) {
	now := nowFn()
	r.createdAt = now
	r.updatedAt = now
	r.createdBy = by
	r.updatedBy = by
}

func (r *Root) MarkUpdated(by string) {
	r.updatedAt = nowFn()
	r.updatedBy = by
}

func (r *Root) CreatedAt() time.Time { return r.createdAt }
func (r *Root) UpdatedAt() time.Time { return r.updatedAt }
func (r *Root) CreatedBy() string    { return r.createdBy }
func (r *Root) UpdatedBy() string    { return r.updatedBy }

// SoftDelete marks the aggregate deleted. Deleting an already deleted
// aggregate changes nothing.
func (r *Root) SoftDelete(by string) {
	if r.deletedAt != nil {
		return
	}
	now := nowFn()
	r.deletedAt = &now
	r.deletedBy = by
	r.updatedAt = now
	r.updatedBy = by
}

// Restore clears the deletion markers. Restoring a live aggregate changes nothing.
func (r *Root) Restore(by string) {
	if r.deletedAt == nil {
		return
	}
	r.deletedAt = nil
	r.deletedBy = ""
	r.MarkUpdated(by)
}

func (r *Root) IsDeleted() bool { return r.deletedAt != nil }

func (r *Root) DeletedAt() *time.Time {
	if r.deletedAt == nil {
		return nil
	}
	t := *r.deletedAt
	return &t
}

func (r *Root) DeletedBy() string { return r.deletedBy }

// Replay applies one historical event. Versions must be contiguous.
func (r *Root) Replay(agg Aggregate, e event.StoredEvent) error {
	if err := r.checkNext(e.Version); err != nil {
		return err
	}
	if err := agg.Apply(e.DomainEvent); err != nil {
		return fmt.Errorf("replay %s v%d: %w", e.EventType, e.Version, err)
	}
	r.advance(e)
	return nil
}

// Rehydrate replays history onto agg and leaves it clean.
func (r *Root) Rehydrate(agg Aggregate, events []event.StoredEvent) error {
	for _, e := range events {
		if err := r.Replay(agg, e); err != nil {
			return err
		}
	}
	r.ResetEventStateAfterRehydrate()
	return nil
}

// ResetEventStateAfterRehydrate drops any buffered events and marks the
// current version as committed.
func (r *Root) ResetEventStateAfterRehydrate() {
	r.uncommitted = nil
	r.committedVersion = r.version
}

// RestoreVersion positions the root at a snapshot's version.
func (r *Root) RestoreVersion(version int64) {
	r.version = version
	r.committedVersion = version
	r.uncommitted = nil
}

func (r *Root) checkNext(version int64) error {
	if version != r.version+1 {
		return fmt.Errorf("version gap in %s: have %d, got event %d", r.Key(), r.version, version)
	}
	return nil
}

// advance moves the version past e and derives audit timestamps from history.
func (r *Root) advance(e event.StoredEvent) {
	r.version = e.Version
	if r.createdAt.IsZero() {
		r.createdAt = e.OccurredAt
		r.createdBy = e.UserID
	}
	r.updatedAt = e.OccurredAt
	if e.UserID != "" {
		r.updatedBy = e.UserID
	}
}

// markCommittedBy stamps the committing user the way advance does on replay.
func (r *Root) markCommittedBy(userID string, first bool) {
	if userID == "" {
		return
	}
	if first {
		r.createdBy = userID
	}
	r.updatedBy = userID
}

// auditState is the part of Root captured in snapshots.
func (r *Root) auditState() map[string]interface{} {
	state := map[string]interface{}{
		"created_at": r.createdAt,
		"updated_at": r.updatedAt,
		"created_by": r.createdBy,
		"updated_by": r.updatedBy,
		"deleted_by": r.deletedBy,
	}
	if r.deletedAt != nil {
		state["deleted_at"] = *r.deletedAt
	}
	return state
}

func (r *Root) restoreAuditState(state map[string]interface{}) {
	r.createdAt, _ = state["created_at"].(time.Time)
	r.updatedAt, _ = state["updated_at"].(time.Time)
	r.createdBy, _ = state["created_by"].(string)
	r.updatedBy, _ = state["updated_by"].(string)
	r.deletedBy, _ = state["deleted_by"].(string)
	r.deletedAt = nil
	if t, ok := state["deleted_at"].(time.Time); ok {
		r.deletedAt = &t
	}
}

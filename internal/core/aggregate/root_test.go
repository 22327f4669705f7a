package aggregate

import (
	"errors"
	"testing"
	"time"

	"github.com/aevon-lab/eventkernel/internal/core/event"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type counter struct {
	Root
	AnalyticsExtension

	count  int
	labels []string
}

func (c *counter) Apply(e event.DomainEvent) error {
	switch e.EventType {
	case "Incremented":
		c.count++
		if l, ok := e.EventData["label"].(string); ok {
			c.labels = append(c.labels, l)
		}
	case "Rejected":
		return errors.New("rejected by business rule")
	}
	return nil
}

func newCounter(id string) *counter {
	c := &counter{}
	c.Init("tenant-1", "Counter", id)
	return c
}

func stored(version int64, eventType string, at time.Time) event.StoredEvent {
	return event.StoredEvent{
		TenantID:      "tenant-1",
		AggregateType: "Counter",
		Version:       version,
		UserID:        "u-1",
		DomainEvent: event.DomainEvent{
			EventType:     eventType,
			AggregateID:   "c-1",
			OccurredAt:    at,
			SchemaVersion: 1,
		},
	}
}

func TestRoot_RecordBuffersAndVersions(t *testing.T) {
	c := newCounter("c-1")
	require.NoError(t, c.Record(c, event.New("Incremented", "", map[string]interface{}{"label": "a"})))
	require.NoError(t, c.Record(c, event.New("Incremented", "c-1", nil)))

	require.Equal(t, 2, c.count)
	require.Equal(t, int64(2), c.Version())
	require.Equal(t, int64(0), c.CommittedVersion())
	require.Equal(t, int64(0), c.ExpectedVersion())
	require.True(t, c.HasUncommittedEvents())

	pending := c.UncommittedEvents()
	require.Len(t, pending, 2)
	require.Equal(t, "c-1", pending[0].AggregateID)
	pending[0].EventType = "Mutated"
	require.Equal(t, "Incremented", c.UncommittedEvents()[0].EventType, "returned slice is a copy")

	c.CommitUncommittedEvents()
	require.False(t, c.HasUncommittedEvents())
	require.Equal(t, int64(2), c.ExpectedVersion())
}

func TestRoot_RecordRejectsForeignAndFailingEvents(t *testing.T) {
	c := newCounter("c-1")
	err := c.Record(c, event.New("Incremented", "c-2", nil))
	require.ErrorContains(t, err, `targets aggregate "c-2"`)

	err = c.Record(c, event.New("Rejected", "c-1", nil))
	require.ErrorContains(t, err, "rejected by business rule")
	require.Zero(t, c.Version())
	require.False(t, c.HasUncommittedEvents())
}

func TestRoot_PullCommits(t *testing.T) {
	c := newCounter("c-1")
	c.AddDomainEvent(event.New("Incremented", "c-1", nil))

	pulled := c.PullUncommittedEvents()
	require.Len(t, pulled, 1)
	require.Equal(t, int64(1), c.CommittedVersion())
	require.Empty(t, c.UncommittedEvents())
	require.Zero(t, c.count, "AddDomainEvent does not apply")
}

func TestRoot_RehydrateIsDeterministic(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	history := []event.StoredEvent{
		stored(1, "Incremented", at),
		stored(2, "Incremented", at.Add(time.Minute)),
		stored(3, "Incremented", at.Add(2*time.Minute)),
	}

	a := newCounter("c-1")
	require.NoError(t, a.Rehydrate(a, history))
	b := newCounter("c-1")
	require.NoError(t, b.Rehydrate(b, history))

	require.Equal(t, a.count, b.count)
	require.Equal(t, 3, a.count)
	require.Equal(t, int64(3), a.Version())
	require.Equal(t, int64(3), a.CommittedVersion())
	require.False(t, a.HasUncommittedEvents())
	require.Equal(t, at, a.CreatedAt())
	require.Equal(t, at.Add(2*time.Minute), a.UpdatedAt())
	require.Equal(t, "u-1", a.CreatedBy())
}

func TestRoot_RehydrateDetectsGaps(t *testing.T) {
	at := time.Now().UTC()
	c := newCounter("c-1")
	err := c.Rehydrate(c, []event.StoredEvent{stored(1, "Incremented", at), stored(3, "Incremented", at)})
	require.ErrorContains(t, err, "version gap")
}

func TestRoot_SoftDeleteAndRestoreAreIdempotent(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := t0
	nowFn = func() time.Time { return clock }
	t.Cleanup(func() { nowFn = func() time.Time { return time.Now().UTC() } })

	c := newCounter("c-1")
	c.MarkCreated("alice")
	require.Equal(t, t0, c.CreatedAt())
	require.Equal(t, "alice", c.UpdatedBy())

	clock = t0.Add(time.Hour)
	c.SoftDelete("bob")
	require.True(t, c.IsDeleted())
	require.Equal(t, t0.Add(time.Hour), *c.DeletedAt())
	require.Equal(t, "bob", c.DeletedBy())
	require.Equal(t, t0.Add(time.Hour), c.UpdatedAt())

	clock = t0.Add(2 * time.Hour)
	c.SoftDelete("carol")
	require.Equal(t, "bob", c.DeletedBy(), "second delete is a no-op")
	require.Equal(t, t0.Add(time.Hour), *c.DeletedAt())

	c.Restore("dave")
	require.False(t, c.IsDeleted())
	require.Nil(t, c.DeletedAt())
	require.Equal(t, "dave", c.UpdatedBy())
	require.Equal(t, t0.Add(2*time.Hour), c.UpdatedAt())

	clock = t0.Add(3 * time.Hour)
	c.Restore("erin")
	require.Equal(t, "dave", c.UpdatedBy(), "restoring a live aggregate is a no-op")
}

func TestRoot_AuditStateRoundTrip(t *testing.T) {
	c := newCounter("c-1")
	c.MarkCreated("alice")
	c.SoftDelete("bob")

	restored := newCounter("c-1")
	restored.restoreAuditState(c.auditState())
	require.Equal(t, c.CreatedAt(), restored.CreatedAt())
	require.Equal(t, c.CreatedBy(), restored.CreatedBy())
	require.True(t, restored.IsDeleted())
	require.Equal(t, "bob", restored.DeletedBy())
}

func TestAnalyticsExtension(t *testing.T) {
	c := newCounter("c-1")
	c.Track("revenue", decimal.RequireFromString("10.25"))
	c.Track("revenue", decimal.RequireFromString("0.75"))
	require.True(t, decimal.NewFromInt(11).Equal(c.Metric("revenue")))
	require.True(t, c.Metric("missing").IsZero())
	require.False(t, c.LastAnalyzedAt().IsZero())

	var other AnalyticsExtension
	other.RestoreAnalyticsState(c.AnalyticsState())
	require.True(t, decimal.NewFromInt(11).Equal(other.Metric("revenue")))

	m := c.Metrics()
	m["revenue"] = decimal.Zero
	require.False(t, c.Metric("revenue").IsZero(), "Metrics returns a copy")
}

func TestSyncExtension(t *testing.T) {
	var s SyncExtension
	require.True(t, s.NeedsSync(1))

	s.MarkSyncFailed(errors.New("remote down"))
	require.Equal(t, "remote down", s.LastSyncError())

	s.MarkSynced(3)
	require.Empty(t, s.LastSyncError())
	require.False(t, s.NeedsSync(3))
	require.True(t, s.NeedsSync(4))

	var restored SyncExtension
	restored.RestoreSyncState(s.SyncState())
	require.Equal(t, int64(3), restored.SyncedVersion())
	require.Equal(t, s.LastSyncedAt(), restored.LastSyncedAt())
}

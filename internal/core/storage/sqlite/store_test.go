package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aevon-lab/eventkernel/internal/core/event"
	"github.com/aevon-lab/eventkernel/internal/core/storage"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func userAppend(expected int64, events ...event.DomainEvent) storage.AppendRequest {
	return storage.AppendRequest{
		TenantID:        "tenant-1",
		AggregateType:   "User",
		AggregateID:     "user-42",
		ExpectedVersion: expected,
		Events:          events,
		UserID:          "admin",
		RequestID:       "req-1",
	}
}

var userStream = storage.LoadRequest{TenantID: "tenant-1", AggregateType: "User", AggregateID: "user-42"}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	require.ErrorContains(t, err, "storage path is required")
}

func TestOpenInMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Ping(context.Background()))
}

func TestStore_AppendAndLoad(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	occurred := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

	res, err := s.AppendToStream(ctx, userAppend(0,
		event.New("UserRegistered", "user-42", map[string]interface{}{"email": "a@example.com"}).WithOccurredAt(occurred)))
	require.NoError(t, err)
	require.Equal(t, int64(1), res.NewVersion)

	res, err = s.AppendToStream(ctx, userAppend(1, event.New("UserDisabled", "user-42", nil)))
	require.NoError(t, err)
	require.Equal(t, int64(2), res.NewVersion)

	stream, err := s.LoadStream(ctx, userStream)
	require.NoError(t, err)
	require.Equal(t, int64(2), stream.CurrentVersion)
	require.Len(t, stream.Events, 2)

	first := stream.Events[0]
	require.NotEmpty(t, first.ID)
	require.Equal(t, "UserRegistered", first.EventType)
	require.Equal(t, int64(1), first.Version)
	require.Equal(t, "a@example.com", first.EventData["email"])
	require.Equal(t, occurred, first.OccurredAt)
	require.Equal(t, "admin", first.UserID)
	require.Equal(t, "req-1", first.RequestID)
	require.Equal(t, 1, first.SchemaVersion)
	require.Equal(t, "UserDisabled", stream.Events[1].EventType)

	tail, err := s.LoadStream(ctx, storage.LoadRequest{TenantID: "tenant-1", AggregateType: "User", AggregateID: "user-42", FromVersion: 1})
	require.NoError(t, err)
	require.Len(t, tail.Events, 1)
	require.Equal(t, int64(2), tail.Events[0].Version)

	empty, err := s.LoadStream(ctx, storage.LoadRequest{TenantID: "tenant-1", AggregateType: "User", AggregateID: "nobody"})
	require.NoError(t, err)
	require.Empty(t, empty.Events)
	require.Zero(t, empty.CurrentVersion)
}

func TestStore_TimestampsTruncateToMillis(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	occurred := time.Date(2026, 4, 2, 9, 30, 0, 123456789, time.UTC)

	_, err := s.AppendToStream(ctx, userAppend(0,
		event.New("UserRegistered", "user-42", map[string]interface{}{"seen_at": occurred}).WithOccurredAt(occurred)))
	require.NoError(t, err)

	stream, err := s.LoadStream(ctx, userStream)
	require.NoError(t, err)
	require.Len(t, stream.Events, 1)
	got := stream.Events[0]
	require.Equal(t, occurred.Truncate(time.Millisecond), got.OccurredAt)
	require.Equal(t, got.InsertedAt, got.InsertedAt.Truncate(time.Millisecond))
	require.Equal(t, occurred, got.EventData["seen_at"], "payload times keep nanoseconds")
}

func TestStore_StaleAppendConflicts(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.AppendToStream(ctx, userAppend(0, event.New("UserRegistered", "user-42", nil), event.New("UserDisabled", "user-42", nil)))
	require.NoError(t, err)

	_, err = s.AppendToStream(ctx, userAppend(1, event.New("UserRenamed", "user-42", nil)))
	require.ErrorIs(t, err, storage.ErrConcurrency)
	var conflict *storage.ConcurrencyError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, int64(1), conflict.ExpectedVersion)
	require.Equal(t, int64(2), conflict.CurrentVersion)

	stream, err := s.LoadStream(ctx, userStream)
	require.NoError(t, err)
	require.Len(t, stream.Events, 2)
}

func TestStore_ConcurrentAppendsHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	const writers = 6
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AppendToStream(ctx, userAppend(0, event.New("UserRegistered", "user-42", nil)))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				require.ErrorIs(t, err, storage.ErrConcurrency)
				conflicts++
				return
			}
			winners++
		}()
	}
	wg.Wait()

	require.Equal(t, 1, winners)
	require.Equal(t, writers-1, conflicts)
}

func TestStore_AppendValidation(t *testing.T) {
	s := openTestStore(t)
	_, err := s.AppendToStream(context.Background(), userAppend(0))
	require.ErrorIs(t, err, storage.ErrNoEvents)
}

func TestStore_LoadAllEvents(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, id := range []string{"a", "b", "c"} {
		_, err := s.AppendToStream(ctx, storage.AppendRequest{
			TenantID: "tenant-1", AggregateType: "Order", AggregateID: id,
			Events: []event.DomainEvent{event.New("OrderPlaced", id, nil), event.New("OrderPaid", id, nil)},
		})
		require.NoError(t, err)
	}

	all, err := s.LoadAllEvents(ctx, event.Filter{}, event.ReadOptions{})
	require.NoError(t, err)
	require.Len(t, all, 6)

	paid, err := s.LoadAllEvents(ctx, event.Filter{EventType: "OrderPaid"}, event.ReadOptions{})
	require.NoError(t, err)
	require.Len(t, paid, 3)
	require.Equal(t, "a", paid[0].AggregateID)

	skipped, err := s.LoadAllEvents(ctx, event.Filter{}, event.ReadOptions{Offset: 4})
	require.NoError(t, err)
	require.Len(t, skipped, 2)
	require.Equal(t, "c", skipped[0].AggregateID)

	desc, err := s.LoadAllEvents(ctx, event.Filter{}, event.ReadOptions{Descending: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, desc, 1)
	require.Equal(t, "OrderPaid", desc[0].EventType)
	require.Equal(t, "c", desc[0].AggregateID)

	var seen int
	require.NoError(t, s.StreamAllEvents(event.Filter{}, event.ReadOptions{BatchSize: 4}).ForEach(ctx, func(event.StoredEvent) error {
		seen++
		return nil
	}))
	require.Equal(t, 6, seen)
}

func TestStore_Snapshots(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	key := event.StreamKey{TenantID: "tenant-1", AggregateType: "User", AggregateID: "user-42"}

	_, err := s.LoadLatestSnapshot(ctx, key)
	require.ErrorIs(t, err, storage.ErrSnapshotNotFound)

	for _, v := range []int64{5, 10} {
		require.NoError(t, s.SaveSnapshot(ctx, event.Snapshot{
			TenantID: "tenant-1", AggregateType: "User", AggregateID: "user-42",
			Version: v, State: []byte(`{"v":1}`),
		}))
	}
	require.NoError(t, s.SaveSnapshot(ctx, event.Snapshot{
		TenantID: "tenant-1", AggregateType: "User", AggregateID: "user-42",
		Version: 10, State: []byte(`{"v":2}`), Metadata: map[string]interface{}{"reason": "manual"},
	}))

	latest, err := s.LoadLatestSnapshot(ctx, key)
	require.NoError(t, err)
	require.Equal(t, int64(10), latest.Version)
	require.Equal(t, []byte(`{"v":2}`), latest.State)
	require.Equal(t, "manual", latest.Metadata["reason"])

	at, err := s.LoadSnapshotAtVersion(ctx, key, 7)
	require.NoError(t, err)
	require.Equal(t, int64(5), at.Version)

	_, err = s.LoadSnapshotAtVersion(ctx, key, 4)
	require.ErrorIs(t, err, storage.ErrSnapshotNotFound)

	require.NoError(t, s.DeleteSnapshots(ctx, key))
	_, err = s.LoadLatestSnapshot(ctx, key)
	require.ErrorIs(t, err, storage.ErrSnapshotNotFound)
}

package redisfeed

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/aevon-lab/eventkernel/internal/core/event"
	"github.com/aevon-lab/eventkernel/internal/core/storage"
	"github.com/aevon-lab/eventkernel/internal/core/storage/memory"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestFeed(t *testing.T) (*Feed, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	m := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return New(memory.New(), rc, "test-events"), m, rc
}

func userAppend(expected int64, events ...event.DomainEvent) storage.AppendRequest {
	return storage.AppendRequest{
		TenantID:        "tenant-1",
		AggregateType:   "User",
		AggregateID:     "user-42",
		ExpectedVersion: expected,
		Events:          events,
	}
}

func TestFeed_PublishesAppendedEvents(t *testing.T) {
	ctx := context.Background()
	feed, _, _ := newTestFeed(t)

	received := make(chan event.StoredEvent, 8)
	sub, err := feed.Subscribe(ctx, func(_ context.Context, e event.StoredEvent) {
		received <- e
	})
	require.NoError(t, err)
	defer sub.Close()

	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	_, err = feed.AppendToStream(ctx, userAppend(0,
		event.New("UserRegistered", "user-42", map[string]interface{}{"email": "a@example.com", "at": at}),
		event.New("UserDisabled", "user-42", nil)))
	require.NoError(t, err)

	var got []event.StoredEvent
	for len(got) < 2 {
		select {
		case e := <-received:
			got = append(got, e)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for events, got %d", len(got))
		}
	}

	require.Equal(t, "UserRegistered", got[0].EventType)
	require.Equal(t, int64(1), got[0].Version)
	require.Equal(t, "tenant-1", got[0].TenantID)
	require.Equal(t, "user-42", got[0].AggregateID)
	require.Equal(t, "a@example.com", got[0].EventData["email"])
	require.Equal(t, at, got[0].EventData["at"])
	require.Equal(t, "UserDisabled", got[1].EventType)
	require.Equal(t, int64(2), got[1].Version)
}

func TestFeed_FailedAppendPublishesNothing(t *testing.T) {
	ctx := context.Background()
	feed, _, _ := newTestFeed(t)

	received := make(chan event.StoredEvent, 8)
	sub, err := feed.Subscribe(ctx, func(_ context.Context, e event.StoredEvent) {
		received <- e
	})
	require.NoError(t, err)
	defer sub.Close()

	_, err = feed.AppendToStream(ctx, userAppend(3, event.New("UserRegistered", "user-42", nil)))
	require.ErrorIs(t, err, storage.ErrConcurrency)

	select {
	case e := <-received:
		t.Fatalf("unexpected event %s", e.EventType)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFeed_AppendSurvivesRedisOutage(t *testing.T) {
	ctx := context.Background()
	feed, m, _ := newTestFeed(t)
	m.Close()

	res, err := feed.AppendToStream(ctx, userAppend(0, event.New("UserRegistered", "user-42", nil)))
	require.NoError(t, err)
	require.Equal(t, int64(1), res.NewVersion)

	stream, err := feed.LoadStream(ctx, storage.LoadRequest{TenantID: "tenant-1", AggregateType: "User", AggregateID: "user-42"})
	require.NoError(t, err)
	require.Len(t, stream.Events, 1)
}

func TestFeed_ReadsPassThrough(t *testing.T) {
	ctx := context.Background()
	feed, _, _ := newTestFeed(t)

	_, err := feed.AppendToStream(ctx, userAppend(0,
		event.New("UserRegistered", "user-42", nil),
		event.New("UserDisabled", "user-42", nil)))
	require.NoError(t, err)

	all, err := feed.LoadAllEvents(ctx, event.Filter{EventType: "UserDisabled"}, event.ReadOptions{})
	require.NoError(t, err)
	require.Len(t, all, 1)

	var count int
	require.NoError(t, feed.StreamAllEvents(event.Filter{}, event.ReadOptions{BatchSize: 1}).ForEach(ctx, func(event.StoredEvent) error {
		count++
		return nil
	}))
	require.Equal(t, 2, count)
}

func TestFeed_CloseStopsDelivery(t *testing.T) {
	ctx := context.Background()
	feed, _, rc := newTestFeed(t)

	calls := make(chan struct{}, 1)
	sub, err := feed.Subscribe(ctx, func(context.Context, event.StoredEvent) { calls <- struct{}{} })
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	require.NoError(t, rc.Publish(ctx, "test-events", `{"event_type":"X","event_data":{}}`).Err())
	select {
	case <-calls:
		t.Fatal("handler called after Close")
	case <-time.After(100 * time.Millisecond):
	}
}

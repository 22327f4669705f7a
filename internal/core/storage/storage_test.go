package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aevon-lab/eventkernel/internal/core/event"
	"github.com/stretchr/testify/require"
)

type sliceReader struct {
	events []event.StoredEvent
	calls  []event.ReadOptions
	failAt int
}

func (r *sliceReader) LoadAllEvents(_ context.Context, _ event.Filter, opts event.ReadOptions) ([]event.StoredEvent, error) {
	r.calls = append(r.calls, opts)
	if r.failAt > 0 && len(r.calls) == r.failAt {
		return nil, errors.New("read failed")
	}
	if opts.Offset >= len(r.events) {
		return nil, nil
	}
	end := len(r.events)
	if opts.Limit > 0 && opts.Offset+opts.Limit < end {
		end = opts.Offset + opts.Limit
	}
	return r.events[opts.Offset:end], nil
}

func makeEvents(n int) []event.StoredEvent {
	out := make([]event.StoredEvent, n)
	for i := range out {
		out[i] = event.StoredEvent{ID: fmt.Sprintf("evt-%d", i+1), Version: int64(i + 1)}
	}
	return out
}

func TestCursor_PagesInBatches(t *testing.T) {
	reader := &sliceReader{events: makeEvents(5)}
	cursor := NewCursor(reader, event.Filter{}, event.ReadOptions{BatchSize: 2})

	var seen []string
	err := cursor.ForEach(context.Background(), func(e event.StoredEvent) error {
		seen = append(seen, e.ID)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"evt-1", "evt-2", "evt-3", "evt-4", "evt-5"}, seen)
	require.Equal(t, 5, cursor.Offset())
	require.Len(t, reader.calls, 3)
	for _, call := range reader.calls {
		require.LessOrEqual(t, call.Limit, 2)
	}
}

func TestCursor_RespectsLimitAndOffset(t *testing.T) {
	reader := &sliceReader{events: makeEvents(10)}
	cursor := NewCursor(reader, event.Filter{}, event.ReadOptions{Offset: 3, Limit: 4, BatchSize: 3})

	batch, more, err := cursor.Next(context.Background())
	require.NoError(t, err)
	require.True(t, more)
	require.Equal(t, "evt-4", batch[0].ID)
	require.Len(t, batch, 3)

	batch, more, err = cursor.Next(context.Background())
	require.NoError(t, err)
	require.False(t, more)
	require.Len(t, batch, 1)
	require.Equal(t, "evt-7", batch[0].ID)

	batch, more, err = cursor.Next(context.Background())
	require.NoError(t, err)
	require.False(t, more)
	require.Empty(t, batch)
}

func TestCursor_PropagatesReadError(t *testing.T) {
	reader := &sliceReader{events: makeEvents(4), failAt: 2}
	cursor := NewCursor(reader, event.Filter{}, event.ReadOptions{BatchSize: 2})

	err := cursor.ForEach(context.Background(), func(event.StoredEvent) error { return nil })
	require.ErrorContains(t, err, "cursor read at offset 2")
	require.Equal(t, 2, cursor.Offset())
}

func TestConcurrencyError_MatchesSentinel(t *testing.T) {
	req := AppendRequest{TenantID: "tenant-1", AggregateType: "User", AggregateID: "user-42", ExpectedVersion: 0}
	err := fmt.Errorf("append: %w", req.NewConflict(2))

	require.ErrorIs(t, err, ErrConcurrency)

	var conflict *ConcurrencyError
	require.True(t, errors.As(err, &conflict))
	require.Equal(t, int64(0), conflict.ExpectedVersion)
	require.Equal(t, int64(2), conflict.CurrentVersion)
	require.Equal(t, "user-42", conflict.AggregateID)
}

func TestAppendRequest_Validate(t *testing.T) {
	good := event.New("UserRegistered", "user-42", nil)
	other := event.New("UserRegistered", "user-7", nil)

	tests := []struct {
		name    string
		req     AppendRequest
		wantErr error
		wantMsg string
	}{
		{
			name: "valid",
			req:  AppendRequest{TenantID: "t", AggregateType: "User", AggregateID: "user-42", Events: []event.DomainEvent{good}},
		},
		{
			name:    "no events",
			req:     AppendRequest{TenantID: "t", AggregateType: "User", AggregateID: "user-42"},
			wantErr: ErrNoEvents,
		},
		{
			name:    "negative expected version",
			req:     AppendRequest{TenantID: "t", AggregateType: "User", AggregateID: "user-42", ExpectedVersion: -1, Events: []event.DomainEvent{good}},
			wantMsg: "expected_version must be >= 0",
		},
		{
			name:    "foreign aggregate",
			req:     AppendRequest{TenantID: "t", AggregateType: "User", AggregateID: "user-42", Events: []event.DomainEvent{other}},
			wantMsg: "does not match stream",
		},
		{
			name:    "missing tenant",
			req:     AppendRequest{AggregateType: "User", AggregateID: "user-42", Events: []event.DomainEvent{good}},
			wantMsg: "tenant_id is required",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			switch {
			case tc.wantErr != nil:
				require.ErrorIs(t, err, tc.wantErr)
			case tc.wantMsg != "":
				require.ErrorContains(t, err, tc.wantMsg)
			default:
				require.NoError(t, err)
			}
		})
	}
}

func TestBuildFilterClause(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	dialect := SQLDialect{
		Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
		TimeArg:     func(t time.Time) interface{} { return t },
	}

	where, args := BuildFilterClause(event.Filter{}, dialect)
	require.Equal(t, "TRUE", where)
	require.Empty(t, args)

	where, args = BuildFilterClause(event.Filter{
		TenantID:    "tenant-1",
		EventTypes:  []string{"A", "B"},
		From:        from,
		FromVersion: 7,
	}, dialect)
	require.Equal(t, "tenant_id = $1 AND event_type IN ($2, $3) AND occurred_at >= $4 AND version > $5", where)
	require.Equal(t, []interface{}{"tenant-1", "A", "B", from, int64(7)}, args)
}

package readmodel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	httperr "github.com/aevon-lab/eventkernel/internal/core/errors"
	"github.com/aevon-lab/eventkernel/internal/core/event"
	"github.com/aevon-lab/eventkernel/internal/core/storage"
	"github.com/aevon-lab/eventkernel/internal/core/storage/memory"
	"github.com/aevon-lab/eventkernel/internal/projection"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

var orderKey = event.StreamKey{TenantID: "tenant-1", AggregateType: "Order", AggregateID: "order-7"}

func orderEvent(eventType string, version int64, at time.Time) event.StoredEvent {
	return event.StoredEvent{
		ID:            eventType,
		TenantID:      orderKey.TenantID,
		AggregateType: orderKey.AggregateType,
		Version:       version,
		DomainEvent:   event.New(eventType, orderKey.AggregateID, nil).WithOccurredAt(at),
	}
}

func activityStores(t *testing.T) map[string]ActivityStore {
	m := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return map[string]ActivityStore{
		"memory": NewMemoryActivityStore(),
		"redis":  NewRedisActivityStore(rc, ""),
	}
}

func TestActivityStores(t *testing.T) {
	placedAt := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	paidAt := placedAt.Add(time.Minute)

	for name, store := range activityStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.Get(ctx, orderKey)
			require.ErrorIs(t, err, ErrActivityNotFound)

			require.NoError(t, store.Record(ctx, orderEvent("OrderPlaced", 1, placedAt)))
			require.NoError(t, store.Record(ctx, orderEvent("OrderPaid", 2, paidAt)))
			// Redelivery of an older version is ignored.
			require.NoError(t, store.Record(ctx, orderEvent("OrderPaid", 2, paidAt)))
			require.NoError(t, store.Record(ctx, orderEvent("OrderPlaced", 1, placedAt)))

			summary, err := store.Get(ctx, orderKey)
			require.NoError(t, err)
			require.Equal(t, ActivitySummary{
				TenantID:       "tenant-1",
				AggregateType:  "Order",
				AggregateID:    "order-7",
				EventCount:     2,
				LastEventType:  "OrderPaid",
				LastVersion:    2,
				LastOccurredAt: paidAt,
			}, summary)

			require.NoError(t, store.Clear(ctx))
			_, err = store.Get(ctx, orderKey)
			require.ErrorIs(t, err, ErrActivityNotFound)
		})
	}
}

func TestActivity_RebuildThroughProjection(t *testing.T) {
	ctx := context.Background()
	source := memory.New()
	_, err := source.AppendToStream(ctx, storage.AppendRequest{
		TenantID: "tenant-1", AggregateType: "Order", AggregateID: "order-7",
		Events: []event.DomainEvent{
			event.New("OrderPlaced", "order-7", nil),
			event.New("OrderPaid", "order-7", nil),
			event.New("OrderShipped", "order-7", nil),
		},
	})
	require.NoError(t, err)

	store := NewMemoryActivityStore()
	activity := NewActivity(store, []string{"OrderPlaced", "OrderPaid"})
	p := projection.New(activity, source, projection.Options{})

	require.NoError(t, p.Rebuild(ctx))
	require.NoError(t, p.Rebuild(ctx))

	summary, err := store.Get(ctx, orderKey)
	require.NoError(t, err)
	require.Equal(t, int64(2), summary.EventCount)
	require.Equal(t, "OrderPaid", summary.LastEventType)
	require.Equal(t, int64(2), summary.LastVersion)
}

func TestActivity_HandleGet(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := NewMemoryActivityStore()
	at := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.Record(context.Background(), orderEvent("OrderPlaced", 1, at)))

	r := gin.New()
	NewActivity(store, []string{"OrderPlaced"}).RegisterRoutes(r)

	tests := []struct {
		name           string
		url            string
		expectedStatus int
	}{
		{name: "known stream", url: "/v1/activity/tenant-1/Order/order-7", expectedStatus: http.StatusOK},
		{name: "unknown stream", url: "/v1/activity/tenant-1/Order/order-8", expectedStatus: http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := httptest.NewRecorder()
			r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, tc.url, nil))
			require.Equal(t, tc.expectedStatus, resp.Code)

			if tc.expectedStatus == http.StatusOK {
				var summary ActivitySummary
				require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &summary))
				require.Equal(t, int64(1), summary.EventCount)
				require.Equal(t, at, summary.LastOccurredAt)
				return
			}
			var body httperr.ErrorResponse
			require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
			require.Equal(t, httperr.HttpStreamNotFoundError, body.ErrorType)
		})
	}
}

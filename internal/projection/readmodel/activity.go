// Package readmodel holds the read models that ship with the kernel.
package readmodel

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	httperr "github.com/aevon-lab/eventkernel/internal/core/errors"
	"github.com/aevon-lab/eventkernel/internal/core/event"
	"github.com/gin-gonic/gin"
)

const ActivityProjectionName = "activity"

// ErrActivityNotFound is returned when no event has been seen for a stream.
var ErrActivityNotFound = errors.New("no activity recorded for stream")

// ActivitySummary is the per-stream activity row.
type ActivitySummary struct {
	TenantID       string    `json:"tenant_id"`
	AggregateType  string    `json:"aggregate_type"`
	AggregateID    string    `json:"aggregate_id"`
	EventCount     int64     `json:"event_count"`
	LastEventType  string    `json:"last_event_type"`
	LastVersion    int64     `json:"last_version"`
	LastOccurredAt time.Time `json:"last_occurred_at"`
}

// ActivityStore persists activity summaries. Record must ignore events whose
// version is not newer than the stored LastVersion so retries stay idempotent.
type ActivityStore interface {
	Record(ctx context.Context, e event.StoredEvent) error
	Get(ctx context.Context, key event.StreamKey) (ActivitySummary, error)
	Clear(ctx context.Context) error
}

// Activity is a projection handler tracking per-stream activity.
type Activity struct {
	store  ActivityStore
	events []string
}

// NewActivity subscribes the read model to eventTypes.
func NewActivity(store ActivityStore, eventTypes []string) *Activity {
	events := append([]string(nil), eventTypes...)
	sort.Strings(events)
	return &Activity{store: store, events: events}
}

func (a *Activity) Name() string               { return ActivityProjectionName }
func (a *Activity) SubscribedEvents() []string { return a.events }

func (a *Activity) HandleEvent(ctx context.Context, e event.StoredEvent) error {
	return a.store.Record(ctx, e)
}

func (a *Activity) ClearReadModels(ctx context.Context) error {
	return a.store.Clear(ctx)
}

// RegisterRoutes registers the activity query route.
func (a *Activity) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/activity/:tenant_id/:aggregate_type/:aggregate_id", a.HandleGet)
}

// HandleGet handles GET /v1/activity/:tenant_id/:aggregate_type/:aggregate_id
func (a *Activity) HandleGet(c *gin.Context) {
	key := event.StreamKey{
		TenantID:      c.Param("tenant_id"),
		AggregateType: c.Param("aggregate_type"),
		AggregateID:   c.Param("aggregate_id"),
	}

	summary, err := a.store.Get(c.Request.Context(), key)
	if errors.Is(err, ErrActivityNotFound) {
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpStreamNotFoundError,
			Message:   "No activity recorded for stream",
			Details:   key.String(),
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to read activity",
			Details:   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, summary)
}

package streams

import (
	"log/slog"
	"net/http"
	"time"

	v1 "github.com/aevon-lab/eventkernel/internal/api/v1"
	httperr "github.com/aevon-lab/eventkernel/internal/core/errors"
	"github.com/aevon-lab/eventkernel/internal/core/event"
	"github.com/gin-gonic/gin"
)

type listEventsQuery struct {
	TenantID      string    `form:"tenant_id"`
	AggregateType string    `form:"aggregate_type"`
	AggregateID   string    `form:"aggregate_id"`
	EventTypes    []string  `form:"event_type"`
	From          time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To            time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	FromVersion   int64     `form:"from_version"`
	Limit         int       `form:"limit"`
	Offset        int       `form:"offset"`
	Order         string    `form:"order"`
}

func (q *listEventsQuery) normalize() *streamError {
	if q.Limit == 0 {
		q.Limit = defaultPageLimit
	}
	switch {
	case q.Limit < 0 || q.Limit > maxPageLimit:
		return invalidRequest("limit must be between 1 and 1000", nil)
	case q.Offset < 0:
		return invalidRequest("offset must be >= 0", nil)
	case q.FromVersion < 0:
		return invalidRequest("from_version must be >= 0", nil)
	case !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From):
		return invalidRequest("to must not be before from", nil)
	}
	switch q.Order {
	case "", "asc", "desc":
	default:
		return invalidRequest("order must be asc or desc", nil)
	}
	return nil
}

// ListEventsHandler handles GET /v1/events
// Query parameters: tenant_id, aggregate_type, aggregate_id, event_type (repeatable),
// from, to, from_version, limit, offset, order
func (s *Service) ListEventsHandler(c *gin.Context) {
	var q listEventsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeError(c, invalidRequest("Invalid query parameters", err.Error()))
		return
	}
	if serr := q.normalize(); serr != nil {
		writeError(c, serr)
		return
	}

	filter := event.Filter{
		TenantID:      q.TenantID,
		AggregateType: q.AggregateType,
		AggregateID:   q.AggregateID,
		EventTypes:    q.EventTypes,
		From:          q.From,
		To:            q.To,
		FromVersion:   q.FromVersion,
	}
	opts := event.ReadOptions{
		Limit:      q.Limit,
		Offset:     q.Offset,
		Descending: q.Order == "desc",
	}

	events, err := s.store.LoadAllEvents(c.Request.Context(), filter, opts)
	if err != nil {
		slog.Error("Failed to load events", "error", err)
		writeError(c, &streamError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgLoadFailed,
		})
		return
	}

	c.JSON(http.StatusOK, v1.EventsResponse{
		Events:     v1.NewEventRecords(events),
		Count:      len(events),
		NextOffset: q.Offset + len(events),
	})
}

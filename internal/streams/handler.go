package streams

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	v1 "github.com/aevon-lab/eventkernel/internal/api/v1"
	"github.com/aevon-lab/eventkernel/internal/contract"
	httperr "github.com/aevon-lab/eventkernel/internal/core/errors"
	"github.com/aevon-lab/eventkernel/internal/core/event"
	"github.com/aevon-lab/eventkernel/internal/core/storage"
	"github.com/aevon-lab/eventkernel/internal/registry"
	"github.com/gin-gonic/gin"
)

const (
	msgReadBodyFailed = "Failed to read request body"
	msgInvalidJSON    = "Invalid JSON body"
	msgAppendFailed   = "Failed to append events"
	msgLoadFailed     = "Failed to load events"
	msgConflict       = "Stream has been modified, reload and retry"
)

// streamError carries the structured HTTP error shape from a helper back to the handler.
// Helpers return this instead of writing to gin.Context directly, keeping them decoupled from HTTP.
type streamError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *streamError) Error() string {
	return e.message
}

type streamURI struct {
	TenantID      string `uri:"tenant_id" binding:"required"`
	AggregateType string `uri:"aggregate_type" binding:"required"`
	AggregateID   string `uri:"aggregate_id" binding:"required"`
}

// AppendHandler handles POST /v1/streams/:tenant_id/:aggregate_type/:aggregate_id/events
func (s *Service) AppendHandler(c *gin.Context) {
	var uri streamURI
	if err := c.ShouldBindUri(&uri); err != nil {
		writeError(c, invalidRequest("Invalid path parameters", err.Error()))
		return
	}

	req, payloadSize, serr := s.parseAppend(c)
	if serr != nil {
		writeError(c, serr)
		return
	}

	events := req.DomainEvents(uri.AggregateID, s.nowFn())
	if serr := s.validateEvents(c.Request.Context(), events); serr != nil {
		writeError(c, serr)
		return
	}

	slog.Info("Append received",
		"tenant_id", uri.TenantID,
		"aggregate_type", uri.AggregateType,
		"aggregate_id", uri.AggregateID,
		"expected_version", *req.ExpectedVersion,
		"events", len(events),
		"payload_size", payloadSize)

	res, err := s.store.AppendToStream(c.Request.Context(), storage.AppendRequest{
		TenantID:        uri.TenantID,
		AggregateType:   uri.AggregateType,
		AggregateID:     uri.AggregateID,
		ExpectedVersion: *req.ExpectedVersion,
		Events:          events,
		UserID:          req.UserID,
		RequestID:       req.RequestID,
	})
	if err != nil {
		writeError(c, appendError(err))
		return
	}

	c.JSON(http.StatusCreated, v1.AppendEventsResponse{NewVersion: res.NewVersion})
}

// parseAppend reads the raw request body and binds it into an AppendEventsRequest.
// Returns the parsed request and the raw payload size (used for structured logging upstream).
func (s *Service) parseAppend(c *gin.Context) (*v1.AppendEventsRequest, int, *streamError) {
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("Failed to read request body", "error", err)
		return nil, 0, &streamError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}

	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		return nil, len(bodyBytes), &streamError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpInvalidRequestError,
			message:    "Request body exceeds maximum allowed size",
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	var req v1.AppendEventsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Warn("Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return nil, len(bodyBytes), &streamError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}

	if err := req.Validate(); err != nil {
		return nil, len(bodyBytes), invalidRequest(err.Error(), nil)
	}
	return &req, len(bodyBytes), nil
}

// validateEvents checks every event against the registry and its payload contracts.
func (s *Service) validateEvents(ctx context.Context, events []event.DomainEvent) *streamError {
	if s.registry == nil {
		return nil
	}

	for i, e := range events {
		err := s.registry.Validate(ctx, e)
		switch {
		case err == nil:
			continue
		case errors.Is(err, registry.ErrUnknownEventType):
			if !s.contractsRequired {
				continue
			}
			slog.Warn("Unknown event type rejected", "event_type", e.EventType)
			return &streamError{
				statusCode: http.StatusBadRequest,
				errorType:  httperr.HttpUnknownEventTypeError,
				message:    err.Error(),
				details:    map[string]interface{}{"index": i, "event_type": e.EventType},
			}
		case errors.Is(err, registry.ErrUnsupportedVersion), errors.Is(err, contract.ErrNotFound):
			slog.Warn("Contract not found for event", "event_type", e.EventType, "schema_version", e.SchemaVersion)
			return &streamError{
				statusCode: http.StatusBadRequest,
				errorType:  httperr.HttpContractNotFoundError,
				message:    err.Error(),
				details:    map[string]interface{}{"index": i, "event_type": e.EventType, "schema_version": e.SchemaVersion},
			}
		case contract.IsValidationError(err):
			slog.Warn("Contract validation failed for event data",
				"event_type", e.EventType,
				"schema_version", e.SchemaVersion,
				"error", err)

			details := map[string]interface{}{
				"index":    i,
				"contract": e.EventType,
				"version":  e.SchemaVersion,
			}
			var d contract.ValidationDetailer
			if errors.As(err, &d) {
				for k, v := range d.Details() {
					details[k] = v
				}
			}
			return &streamError{
				statusCode: http.StatusBadRequest,
				errorType:  httperr.HttpContractValidationError,
				message:    err.Error(),
				details:    details,
			}
		default:
			slog.Error("Contract validation errored", "event_type", e.EventType, "error", err)
			return &streamError{
				statusCode: http.StatusInternalServerError,
				errorType:  httperr.HttpInternalError,
				message:    "Failed to validate event payload",
			}
		}
	}
	return nil
}

func appendError(err error) *streamError {
	var conflict *storage.ConcurrencyError
	if errors.As(err, &conflict) {
		slog.Info("Append rejected by concurrency check",
			"tenant_id", conflict.TenantID,
			"aggregate_type", conflict.AggregateType,
			"aggregate_id", conflict.AggregateID,
			"expected_version", conflict.ExpectedVersion,
			"current_version", conflict.CurrentVersion)
		return &streamError{
			statusCode: http.StatusConflict,
			errorType:  httperr.HttpConcurrencyError,
			message:    msgConflict,
			details: map[string]interface{}{
				"tenant_id":        conflict.TenantID,
				"aggregate_type":   conflict.AggregateType,
				"aggregate_id":     conflict.AggregateID,
				"expected_version": conflict.ExpectedVersion,
				"current_version":  conflict.CurrentVersion,
			},
		}
	}
	if errors.Is(err, storage.ErrNoEvents) {
		return invalidRequest(err.Error(), nil)
	}

	slog.Error("Failed to append events", "error", err)
	return &streamError{
		statusCode: http.StatusInternalServerError,
		errorType:  httperr.HttpInternalError,
		message:    msgAppendFailed,
	}
}

// LoadStreamHandler handles GET /v1/streams/:tenant_id/:aggregate_type/:aggregate_id
// Query parameters: from_version
func (s *Service) LoadStreamHandler(c *gin.Context) {
	var uri streamURI
	if err := c.ShouldBindUri(&uri); err != nil {
		writeError(c, invalidRequest("Invalid path parameters", err.Error()))
		return
	}
	var query struct {
		FromVersion int64 `form:"from_version"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		writeError(c, invalidRequest("Invalid query parameters", err.Error()))
		return
	}
	if query.FromVersion < 0 {
		writeError(c, invalidRequest("from_version must be >= 0", nil))
		return
	}

	stream, err := s.store.LoadStream(c.Request.Context(), storage.LoadRequest{
		TenantID:      uri.TenantID,
		AggregateType: uri.AggregateType,
		AggregateID:   uri.AggregateID,
		FromVersion:   query.FromVersion,
	})
	if err != nil {
		slog.Error("Failed to load stream", "error", err, "aggregate_id", uri.AggregateID)
		writeError(c, &streamError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgLoadFailed,
		})
		return
	}
	if stream.CurrentVersion == 0 {
		writeError(c, &streamError{
			statusCode: http.StatusNotFound,
			errorType:  httperr.HttpStreamNotFoundError,
			message:    "Stream not found",
		})
		return
	}

	c.JSON(http.StatusOK, v1.StreamResponse{
		TenantID:       uri.TenantID,
		AggregateType:  uri.AggregateType,
		AggregateID:    uri.AggregateID,
		CurrentVersion: stream.CurrentVersion,
		Events:         v1.NewEventRecords(stream.Events),
	})
}

// writeError serializes a streamError as the JSON HTTP response.
func writeError(c *gin.Context, err *streamError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}

func invalidRequest(message string, details interface{}) *streamError {
	return &streamError{
		statusCode: http.StatusBadRequest,
		errorType:  httperr.HttpInvalidRequestError,
		message:    message,
		details:    details,
	}
}

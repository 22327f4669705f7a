package projection

import (
	"context"
	"errors"
	"time"

	"github.com/aevon-lab/eventkernel/internal/core/event"
)

// Status is the lifecycle state of a projection.
type Status string

const (
	StatusNotInitialized Status = "NOT_INITIALIZED"
	StatusInitializing   Status = "INITIALIZING"
	StatusRunning        Status = "RUNNING"
	StatusPaused         Status = "PAUSED"
	StatusStopped        Status = "STOPPED"
	StatusError          Status = "ERROR"
)

var (
	// ErrProjectionNotFound is returned by orchestrator admin operations for unknown names.
	ErrProjectionNotFound = errors.New("projection not found")

	// ErrNoEventSource is returned by Rebuild when the projection has no streaming event source.
	ErrNoEventSource = errors.New("projection has no event source configured")

	// ErrProjectionFailed is returned by Handle once the projection is in ERROR.
	ErrProjectionFailed = errors.New("projection is in error state")
)

// Handler is the consumer-supplied read model logic behind a projection.
type Handler interface {
	Name() string
	SubscribedEvents() []string
	HandleEvent(ctx context.Context, e event.StoredEvent) error
	// ClearReadModels drops everything the handler has built, ahead of a rebuild.
	ClearReadModels(ctx context.Context) error
}

// Upcaster migrates stored events to the current payload schema before handling.
type Upcaster interface {
	Upcast(e event.StoredEvent) (event.StoredEvent, error)
}

// RuntimeStatus is the operational report of one projection.
type RuntimeStatus struct {
	Name                      string     `json:"name"`
	Status                    Status     `json:"status"`
	LastProcessedEventID      string     `json:"last_processed_event_id,omitempty"`
	LastProcessedEventVersion int64      `json:"last_processed_event_version"`
	LastProcessedAt           *time.Time `json:"last_processed_at,omitempty"`
	ProcessedEventCount       int64      `json:"processed_event_count"`
	ErrorCount                int64      `json:"error_count"`
	LastError                 string     `json:"last_error,omitempty"`
	LastErrorAt               *time.Time `json:"last_error_at,omitempty"`
	CreatedAt                 time.Time  `json:"created_at"`
	UpdatedAt                 time.Time  `json:"updated_at"`
}

// Options tunes a projection's retry policy and rebuild reads.
type Options struct {
	// MaxRetries is the number of handler attempts per event (minimum 1).
	MaxRetries int
	// RetryDelay is multiplied by the attempt number between attempts.
	RetryDelay time.Duration
	// RebuildBatchSize bounds each read during Rebuild.
	RebuildBatchSize int
	Upcaster         Upcaster
}

const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 100 * time.Millisecond
)

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	if o.RebuildBatchSize <= 0 {
		o.RebuildBatchSize = event.DefaultBatchSize
	}
	return o
}

// RebuildSummary reports the outcome of Orchestrator.RebuildAll.
type RebuildSummary struct {
	Rebuilt []string          `json:"rebuilt"`
	Failed  map[string]string `json:"failed"`
}

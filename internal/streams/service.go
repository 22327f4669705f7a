// Package streams is the HTTP surface over the event store: append to a
// stream, load a stream and read across streams.
package streams

import (
	"time"

	"github.com/aevon-lab/eventkernel/internal/core/storage"
	"github.com/aevon-lab/eventkernel/internal/registry"
	"github.com/gin-gonic/gin"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

type Service struct {
	store             storage.EventStore
	registry          *registry.Registry
	contractsRequired bool
	maxBodySizeBytes  int
	nowFn             func() time.Time
}

// NewService builds the stream API. reg may be nil, in which case payloads
// are not validated. With contractsRequired, appends of event types unknown
// to reg are rejected.
func NewService(store storage.EventStore, reg *registry.Registry, contractsRequired bool, maxBodySizeMB int) *Service {
	if store == nil {
		panic("streams: store must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	return &Service{
		store:             store,
		registry:          reg,
		contractsRequired: contractsRequired,
		maxBodySizeBytes:  maxBodySizeMB * 1024 * 1024,
		nowFn:             func() time.Time { return time.Now().UTC() },
	}
}

// RegisterRoutes registers the stream routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/streams/:tenant_id/:aggregate_type/:aggregate_id/events", s.AppendHandler)
	r.GET("/v1/streams/:tenant_id/:aggregate_type/:aggregate_id", s.LoadStreamHandler)
	r.GET("/v1/events", s.ListEventsHandler)
}

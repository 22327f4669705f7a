// Package redisfeed decorates an EventStore with a Redis pub/sub live feed.
package redisfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aevon-lab/eventkernel/internal/core/event"
	"github.com/aevon-lab/eventkernel/internal/core/storage"
	"github.com/aevon-lab/eventkernel/internal/registry"
	"github.com/redis/go-redis/v9"
)

const DefaultChannel = "eventkernel:events"

// Feed publishes every successfully appended event to a Redis channel and
// delivers that channel to subscribers. Reads go straight to the inner store.
type Feed struct {
	store   storage.EventStore
	rc      *redis.Client
	channel string
}

var (
	_ storage.EventStore    = (*Feed)(nil)
	_ storage.EventStreamer = (*Feed)(nil)
	_ storage.Subscriber    = (*Feed)(nil)
)

func New(store storage.EventStore, rc *redis.Client, channel string) *Feed {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Feed{store: store, rc: rc, channel: channel}
}

// message is the wire form. The payload keeps the registry codec tags so
// timestamps, bytes and decimals survive the trip.
type message struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenant_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Version       int64           `json:"version"`
	EventType     string          `json:"event_type"`
	SchemaVersion int             `json:"schema_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	InsertedAt    time.Time       `json:"inserted_at"`
	UserID        string          `json:"user_id,omitempty"`
	RequestID     string          `json:"request_id,omitempty"`
	EventData     json.RawMessage `json:"event_data"`
}

func encode(e event.StoredEvent) ([]byte, error) {
	data, err := registry.Marshal(e.EventData)
	if err != nil {
		return nil, err
	}
	return json.Marshal(message{
		ID:            e.ID,
		TenantID:      e.TenantID,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		Version:       e.Version,
		EventType:     e.EventType,
		SchemaVersion: e.SchemaVersion,
		OccurredAt:    e.OccurredAt,
		InsertedAt:    e.InsertedAt,
		UserID:        e.UserID,
		RequestID:     e.RequestID,
		EventData:     data,
	})
}

func decode(raw []byte) (event.StoredEvent, error) {
	var m message
	if err := json.Unmarshal(raw, &m); err != nil {
		return event.StoredEvent{}, err
	}
	data, err := registry.Unmarshal(m.EventData)
	if err != nil {
		return event.StoredEvent{}, err
	}
	return event.StoredEvent{
		ID:            m.ID,
		TenantID:      m.TenantID,
		AggregateType: m.AggregateType,
		Version:       m.Version,
		DomainEvent: event.DomainEvent{
			EventType:     m.EventType,
			OccurredAt:    m.OccurredAt.UTC(),
			AggregateID:   m.AggregateID,
			EventData:     data,
			SchemaVersion: m.SchemaVersion,
		},
		UserID:     m.UserID,
		RequestID:  m.RequestID,
		InsertedAt: m.InsertedAt.UTC(),
	}, nil
}

// AppendToStream appends through the inner store, then publishes the new
// events. The append is already durable at that point, so publish failures
// are logged and never returned.
func (f *Feed) AppendToStream(ctx context.Context, req storage.AppendRequest) (storage.AppendResult, error) {
	res, err := f.store.AppendToStream(ctx, req)
	if err != nil {
		return res, err
	}

	stream, err := f.store.LoadStream(ctx, storage.LoadRequest{
		TenantID:      req.TenantID,
		AggregateType: req.AggregateType,
		AggregateID:   req.AggregateID,
		FromVersion:   req.ExpectedVersion,
	})
	if err != nil {
		slog.Error("[RedisFeed] Failed to reload appended events", "stream", req.Key().String(), "error", err)
		return res, nil
	}

	for _, e := range stream.Events {
		if e.Version > res.NewVersion {
			break
		}
		f.publish(ctx, e)
	}
	return res, nil
}

func (f *Feed) publish(ctx context.Context, e event.StoredEvent) {
	raw, err := encode(e)
	if err != nil {
		slog.Error("[RedisFeed] Failed to encode event", "event_id", e.ID, "error", err)
		return
	}
	if err := f.rc.Publish(ctx, f.channel, raw).Err(); err != nil {
		slog.Error("[RedisFeed] Failed to publish event",
			"channel", f.channel,
			"event_id", e.ID,
			"version", e.Version,
			"error", err)
	}
}

func (f *Feed) LoadStream(ctx context.Context, req storage.LoadRequest) (storage.Stream, error) {
	return f.store.LoadStream(ctx, req)
}

func (f *Feed) LoadAllEvents(ctx context.Context, filter event.Filter, opts event.ReadOptions) ([]event.StoredEvent, error) {
	return f.store.LoadAllEvents(ctx, filter, opts)
}

func (f *Feed) StreamAllEvents(filter event.Filter, opts event.ReadOptions) *storage.Cursor {
	if s, ok := f.store.(storage.EventStreamer); ok {
		return s.StreamAllEvents(filter, opts)
	}
	return storage.NewCursor(f.store, filter, opts)
}

type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
	ps     *redis.PubSub
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.err = s.ps.Close()
		<-s.done
	})
	return s.err
}

// Subscribe delivers every event published on the channel to handler, one at
// a time, until the subscription is closed or ctx is cancelled.
func (f *Feed) Subscribe(ctx context.Context, handler storage.Handler) (storage.Subscription, error) {
	ps := f.rc.Subscribe(ctx, f.channel)
	// Wait for the confirmation so nothing published after return is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", f.channel, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{cancel: cancel, done: make(chan struct{}), ps: ps}

	go func() {
		defer close(sub.done)
		ch := ps.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				e, err := decode([]byte(msg.Payload))
				if err != nil {
					slog.Error("[RedisFeed] Unable to parse event", "channel", msg.Channel, "error", err)
					continue
				}
				handler(subCtx, e)
			}
		}
	}()

	slog.Info("[RedisFeed] Subscription started", "channel", f.channel)
	return sub, nil
}

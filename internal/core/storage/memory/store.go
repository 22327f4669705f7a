// Package memory is an in-process event and snapshot store. Payloads go
// through the same codec as the SQL backends so callers observe identical
// value types whichever backend is configured.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aevon-lab/eventkernel/internal/core/event"
	"github.com/aevon-lab/eventkernel/internal/core/storage"
	"github.com/aevon-lab/eventkernel/internal/registry"
	"github.com/google/uuid"
)

var nowFn = func() time.Time { return time.Now().UTC() }

type record struct {
	stored  event.StoredEvent
	payload []byte
}

// Store keeps everything in maps guarded by one lock. Subscribers are called
// synchronously after the append lock is released.
type Store struct {
	mu      sync.RWMutex
	log     []record
	streams map[string][]int

	snapMu    sync.RWMutex
	snapshots map[string][]event.Snapshot

	subMu  sync.RWMutex
	subs   map[int]storage.Handler
	nextID int
}

var (
	_ storage.EventStore    = (*Store)(nil)
	_ storage.EventStreamer = (*Store)(nil)
	_ storage.Subscriber    = (*Store)(nil)
	_ storage.SnapshotStore = (*Store)(nil)
)

func New() *Store {
	return &Store{
		streams:   make(map[string][]int),
		snapshots: make(map[string][]event.Snapshot),
		subs:      make(map[int]storage.Handler),
	}
}

func (s *Store) AppendToStream(ctx context.Context, req storage.AppendRequest) (storage.AppendResult, error) {
	if err := req.Validate(); err != nil {
		return storage.AppendResult{}, err
	}

	key := req.Key().String()
	encoded := make([][]byte, len(req.Events))
	for i, e := range req.Events {
		b, err := registry.Marshal(e.EventData)
		if err != nil {
			return storage.AppendResult{}, fmt.Errorf("event %d: %w", i, err)
		}
		encoded[i] = b
	}

	s.mu.Lock()
	current := int64(len(s.streams[key]))
	if current != req.ExpectedVersion {
		s.mu.Unlock()
		return storage.AppendResult{}, req.NewConflict(current)
	}

	now := nowFn()
	appended := make([]event.StoredEvent, 0, len(req.Events))
	for i, e := range req.Events {
		stored := event.StoredEvent{
			ID:            uuid.NewString(),
			TenantID:      req.TenantID,
			AggregateType: req.AggregateType,
			Version:       current + int64(i) + 1,
			DomainEvent:   e,
			UserID:        req.UserID,
			RequestID:     req.RequestID,
			InsertedAt:    now,
		}
		stored.EventData = nil
		s.streams[key] = append(s.streams[key], len(s.log))
		s.log = append(s.log, record{stored: stored, payload: encoded[i]})
		appended = append(appended, stored)
	}
	newVersion := current + int64(len(req.Events))
	s.mu.Unlock()

	if s.hasSubscribers() {
		for i := range appended {
			e, err := decode(record{stored: appended[i], payload: encoded[i]})
			if err != nil {
				// already committed; subscribers miss this one but the caller must see success
				slog.Error("[Memory] Failed to decode event for subscribers",
					"stream", key,
					"version", appended[i].Version,
					"error", err)
				continue
			}
			s.publish(ctx, e)
		}
	}

	return storage.AppendResult{NewVersion: newVersion}, nil
}

func (s *Store) LoadStream(_ context.Context, req storage.LoadRequest) (storage.Stream, error) {
	if err := req.Key().Validate(); err != nil {
		return storage.Stream{}, err
	}

	s.mu.RLock()
	idx := s.streams[req.Key().String()]
	records := make([]record, 0, len(idx))
	for _, i := range idx {
		if s.log[i].stored.Version > req.FromVersion {
			records = append(records, s.log[i])
		}
	}
	current := int64(len(idx))
	s.mu.RUnlock()

	events, err := decodeAll(records)
	if err != nil {
		return storage.Stream{}, err
	}
	return storage.Stream{Events: events, CurrentVersion: current}, nil
}

func (s *Store) LoadAllEvents(_ context.Context, filter event.Filter, opts event.ReadOptions) ([]event.StoredEvent, error) {
	s.mu.RLock()
	var matched []record
	for i := range s.log {
		pos := i
		if opts.Descending {
			pos = len(s.log) - 1 - i
		}
		if filter.Matches(s.log[pos].stored) {
			matched = append(matched, s.log[pos])
		}
	}
	s.mu.RUnlock()

	if opts.Offset >= len(matched) {
		return []event.StoredEvent{}, nil
	}
	matched = matched[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(matched) {
		matched = matched[:opts.Limit]
	}
	return decodeAll(matched)
}

func (s *Store) StreamAllEvents(filter event.Filter, opts event.ReadOptions) *storage.Cursor {
	return storage.NewCursor(s, filter, opts)
}

// Subscribe registers handler for every event appended from now on.
func (s *Store) Subscribe(_ context.Context, handler storage.Handler) (storage.Subscription, error) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = handler
	return &subscription{store: s, id: id}, nil
}

func (s *Store) hasSubscribers() bool {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	return len(s.subs) > 0
}

func (s *Store) publish(ctx context.Context, e event.StoredEvent) {
	s.subMu.RLock()
	handlers := make([]storage.Handler, 0, len(s.subs))
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		handlers = append(handlers, s.subs[id])
	}
	s.subMu.RUnlock()

	for _, h := range handlers {
		h(ctx, e.Clone())
	}
}

type subscription struct {
	store *Store
	id    int
	once  sync.Once
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.store.subMu.Lock()
		delete(s.store.subs, s.id)
		s.store.subMu.Unlock()
	})
	return nil
}

func (s *Store) SaveSnapshot(_ context.Context, snapshot event.Snapshot) error {
	if err := snapshot.Key().Validate(); err != nil {
		return err
	}
	if snapshot.Version <= 0 {
		return fmt.Errorf("snapshot version must be > 0, got %d", snapshot.Version)
	}
	if snapshot.ID == "" {
		snapshot.ID = uuid.NewString()
	}
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = nowFn()
	}
	snapshot.State = append([]byte(nil), snapshot.State...)
	snapshot.Metadata = event.CopyData(snapshot.Metadata)

	key := snapshot.Key().String()
	s.snapMu.Lock()
	defer s.snapMu.Unlock()

	list := s.snapshots[key]
	i := sort.Search(len(list), func(i int) bool { return list[i].Version >= snapshot.Version })
	if i < len(list) && list[i].Version == snapshot.Version {
		list[i] = snapshot
		return nil
	}
	list = append(list, event.Snapshot{})
	copy(list[i+1:], list[i:])
	list[i] = snapshot
	s.snapshots[key] = list
	return nil
}

func (s *Store) LoadLatestSnapshot(_ context.Context, key event.StreamKey) (*event.Snapshot, error) {
	return s.findSnapshot(key, -1)
}

func (s *Store) LoadSnapshotAtVersion(_ context.Context, key event.StreamKey, maxVersion int64) (*event.Snapshot, error) {
	return s.findSnapshot(key, maxVersion)
}

// findSnapshot treats a negative maxVersion as unbounded.
func (s *Store) findSnapshot(key event.StreamKey, maxVersion int64) (*event.Snapshot, error) {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()

	list := s.snapshots[key.String()]
	for i := len(list) - 1; i >= 0; i-- {
		if maxVersion >= 0 && list[i].Version > maxVersion {
			continue
		}
		snap := list[i]
		snap.State = append([]byte(nil), snap.State...)
		snap.Metadata = event.CopyData(snap.Metadata)
		return &snap, nil
	}
	return nil, storage.ErrSnapshotNotFound
}

func (s *Store) DeleteSnapshots(_ context.Context, key event.StreamKey) error {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	delete(s.snapshots, key.String())
	return nil
}

// Ping satisfies the health check used by the HTTP server.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func decode(r record) (event.StoredEvent, error) {
	data, err := registry.Unmarshal(r.payload)
	if err != nil {
		return event.StoredEvent{}, fmt.Errorf("event %s: %w", r.stored.ID, err)
	}
	e := r.stored
	e.EventData = data
	return e, nil
}

func decodeAll(records []record) ([]event.StoredEvent, error) {
	out := make([]event.StoredEvent, 0, len(records))
	for _, r := range records {
		e, err := decode(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

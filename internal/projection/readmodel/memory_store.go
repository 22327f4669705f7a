package readmodel

import (
	"context"
	"sync"

	"github.com/aevon-lab/eventkernel/internal/core/event"
)

// MemoryActivityStore keeps summaries in process memory.
type MemoryActivityStore struct {
	mu   sync.RWMutex
	rows map[event.StreamKey]ActivitySummary
}

func NewMemoryActivityStore() *MemoryActivityStore {
	return &MemoryActivityStore{rows: make(map[event.StreamKey]ActivitySummary)}
}

func (s *MemoryActivityStore) Record(_ context.Context, e event.StoredEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := e.Key()
	row, ok := s.rows[key]
	if ok && e.Version <= row.LastVersion {
		return nil
	}
	if !ok {
		row = ActivitySummary{TenantID: key.TenantID, AggregateType: key.AggregateType, AggregateID: key.AggregateID}
	}
	row.EventCount++
	row.LastEventType = e.EventType
	row.LastVersion = e.Version
	row.LastOccurredAt = e.OccurredAt.UTC()
	s.rows[key] = row
	return nil
}

func (s *MemoryActivityStore) Get(_ context.Context, key event.StreamKey) (ActivitySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[key]
	if !ok {
		return ActivitySummary{}, ErrActivityNotFound
	}
	return row, nil
}

func (s *MemoryActivityStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[event.StreamKey]ActivitySummary)
	return nil
}

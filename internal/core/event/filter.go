package event

import "time"

// DefaultBatchSize is used by streaming reads when ReadOptions.BatchSize is unset.
const DefaultBatchSize = 500

// Filter narrows bulk reads across streams. Zero values mean "no constraint".
type Filter struct {
	TenantID      string
	AggregateType string
	AggregateID   string

	// EventType and EventTypes are combined: an event matches if its type is
	// EventType or any of EventTypes.
	EventType  string
	EventTypes []string

	// From and To bound OccurredAt, inclusive.
	From time.Time
	To   time.Time

	// FromVersion keeps events with Version > FromVersion.
	FromVersion int64
}

// Types returns the union of EventType and EventTypes without duplicates.
func (f Filter) Types() []string {
	if f.EventType == "" && len(f.EventTypes) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(f.EventTypes)+1)
	var out []string
	add := func(t string) {
		if t == "" {
			return
		}
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	add(f.EventType)
	for _, t := range f.EventTypes {
		add(t)
	}
	return out
}

// Matches reports whether e satisfies the filter. Backends that cannot push
// the filter into a query use it directly.
func (f Filter) Matches(e StoredEvent) bool {
	if f.TenantID != "" && e.TenantID != f.TenantID {
		return false
	}
	if f.AggregateType != "" && e.AggregateType != f.AggregateType {
		return false
	}
	if f.AggregateID != "" && e.AggregateID != f.AggregateID {
		return false
	}
	if types := f.Types(); len(types) > 0 {
		found := false
		for _, t := range types {
			if t == e.EventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.From.IsZero() && e.OccurredAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.OccurredAt.After(f.To) {
		return false
	}
	if f.FromVersion > 0 && e.Version <= f.FromVersion {
		return false
	}
	return true
}

// ReadOptions controls paging and ordering of bulk reads.
type ReadOptions struct {
	// Limit caps the number of returned events; 0 means unbounded.
	Limit int
	// Offset skips that many matching events.
	Offset int
	// Descending flips the default ascending insertion order. Within one stream
	// insertion order is version order.
	Descending bool
	// BatchSize is the page size used by streaming reads.
	BatchSize int
}

// EffectiveBatchSize returns BatchSize or DefaultBatchSize when unset.
func (o ReadOptions) EffectiveBatchSize() int {
	if o.BatchSize > 0 {
		return o.BatchSize
	}
	return DefaultBatchSize
}

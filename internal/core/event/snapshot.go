package event

import "time"

// Snapshot is a serialized aggregate state at a known stream version.
// Snapshots are an optimization: replaying events from Version+1 onto the
// restored state must yield the same aggregate as a full replay.
type Snapshot struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenant_id"`
	AggregateType string `json:"aggregate_type"`
	AggregateID   string `json:"aggregate_id"`

	// Version is the stream version the state reflects.
	Version int64 `json:"version"`

	// State is the codec-encoded aggregate state.
	State []byte `json:"state"`

	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

func (s Snapshot) Key() StreamKey {
	return StreamKey{TenantID: s.TenantID, AggregateType: s.AggregateType, AggregateID: s.AggregateID}
}

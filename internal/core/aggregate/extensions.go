package aggregate

import (
	"time"

	"github.com/shopspring/decimal"
)

// Capability extensions are embedded next to Root by aggregates that need them.

// AnalyticsExtension accumulates named decimal metrics.
type AnalyticsExtension struct {
	metrics        map[string]decimal.Decimal
	lastAnalyzedAt time.Time
}

// Track adds delta to metric.
func (a *AnalyticsExtension) Track(metric string, delta decimal.Decimal) {
	if a.metrics == nil {
		a.metrics = make(map[string]decimal.Decimal)
	}
	a.metrics[metric] = a.metrics[metric].Add(delta)
	a.lastAnalyzedAt = nowFn()
}

// Metric returns the current value, zero if never tracked.
func (a *AnalyticsExtension) Metric(metric string) decimal.Decimal {
	return a.metrics[metric]
}

func (a *AnalyticsExtension) Metrics() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(a.metrics))
	for k, v := range a.metrics {
		out[k] = v
	}
	return out
}

func (a *AnalyticsExtension) LastAnalyzedAt() time.Time { return a.lastAnalyzedAt }

// AnalyticsState is the snapshot form of the extension.
func (a *AnalyticsExtension) AnalyticsState() map[string]interface{} {
	metrics := make(map[string]interface{}, len(a.metrics))
	for k, v := range a.metrics {
		metrics[k] = v
	}
	return map[string]interface{}{
		"metrics":          metrics,
		"last_analyzed_at": a.lastAnalyzedAt,
	}
}

func (a *AnalyticsExtension) RestoreAnalyticsState(state map[string]interface{}) {
	a.metrics = make(map[string]decimal.Decimal)
	if metrics, ok := state["metrics"].(map[string]interface{}); ok {
		for k, v := range metrics {
			if d, ok := v.(decimal.Decimal); ok {
				a.metrics[k] = d
			}
		}
	}
	a.lastAnalyzedAt, _ = state["last_analyzed_at"].(time.Time)
}

// SyncExtension tracks how far an external system has been synchronised
// with the aggregate.
type SyncExtension struct {
	syncedVersion int64
	lastSyncedAt  time.Time
	lastSyncError string
}

// MarkSynced records a successful sync of the given aggregate version.
func (s *SyncExtension) MarkSynced(version int64) {
	s.syncedVersion = version
	s.lastSyncedAt = nowFn()
	s.lastSyncError = ""
}

func (s *SyncExtension) MarkSyncFailed(err error) {
	if err == nil {
		return
	}
	s.lastSyncError = err.Error()
}

// NeedsSync reports whether the external copy is behind currentVersion.
func (s *SyncExtension) NeedsSync(currentVersion int64) bool {
	return s.syncedVersion < currentVersion
}

func (s *SyncExtension) SyncedVersion() int64    { return s.syncedVersion }
func (s *SyncExtension) LastSyncedAt() time.Time { return s.lastSyncedAt }
func (s *SyncExtension) LastSyncError() string   { return s.lastSyncError }

func (s *SyncExtension) SyncState() map[string]interface{} {
	return map[string]interface{}{
		"synced_version":  float64(s.syncedVersion),
		"last_synced_at":  s.lastSyncedAt,
		"last_sync_error": s.lastSyncError,
	}
}

func (s *SyncExtension) RestoreSyncState(state map[string]interface{}) {
	if v, ok := state["synced_version"].(float64); ok {
		s.syncedVersion = int64(v)
	}
	s.lastSyncedAt, _ = state["last_synced_at"].(time.Time)
	s.lastSyncError, _ = state["last_sync_error"].(string)
}

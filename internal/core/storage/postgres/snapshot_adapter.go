package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aevon-lab/eventkernel/internal/core/event"
	"github.com/aevon-lab/eventkernel/internal/core/storage"
	"github.com/google/uuid"
)

// SnapshotAdapter implements storage.SnapshotStore using PostgreSQL.
type SnapshotAdapter struct {
	db *sql.DB
}

var _ storage.SnapshotStore = (*SnapshotAdapter)(nil)

// NewSnapshotAdapter creates a SnapshotAdapter sharing the given connection.
func NewSnapshotAdapter(db *sql.DB) *SnapshotAdapter {
	return &SnapshotAdapter{db: db}
}

// SaveSnapshot upserts on (stream, version).
func (a *SnapshotAdapter) SaveSnapshot(ctx context.Context, snapshot event.Snapshot) error {
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

	metadata, err := marshalMetadata(snapshot.Metadata)
	if err != nil {
		return err
	}

	if _, err := a.db.ExecContext(ctx, queryUpsertSnapshot,
		snapshot.ID,
		snapshot.TenantID,
		snapshot.AggregateType,
		snapshot.AggregateID,
		snapshot.Version,
		snapshot.State,
		metadata,
		snapshot.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("save snapshot %s v%d: %w", snapshot.Key(), snapshot.Version, err)
	}

	slog.Debug("[SnapshotAdapter] Saved snapshot",
		"stream", snapshot.Key().String(),
		"version", snapshot.Version)
	return nil
}

func (a *SnapshotAdapter) LoadLatestSnapshot(ctx context.Context, key event.StreamKey) (*event.Snapshot, error) {
	row := a.db.QueryRowContext(ctx, queryLoadLatestSnapshot, key.TenantID, key.AggregateType, key.AggregateID)
	return scanSnapshot(row, key)
}

// LoadSnapshotAtVersion returns the newest snapshot with version <= maxVersion.
func (a *SnapshotAdapter) LoadSnapshotAtVersion(ctx context.Context, key event.StreamKey, maxVersion int64) (*event.Snapshot, error) {
	row := a.db.QueryRowContext(ctx, queryLoadSnapshotAtVersion, key.TenantID, key.AggregateType, key.AggregateID, maxVersion)
	return scanSnapshot(row, key)
}

func (a *SnapshotAdapter) DeleteSnapshots(ctx context.Context, key event.StreamKey) error {
	result, err := a.db.ExecContext(ctx, queryDeleteSnapshots, key.TenantID, key.AggregateType, key.AggregateID)
	if err != nil {
		return fmt.Errorf("delete snapshots %s: %w", key, err)
	}
	deleted, _ := result.RowsAffected()
	slog.Info("[SnapshotAdapter] Deleted snapshots", "stream", key.String(), "count", deleted)
	return nil
}

func scanSnapshot(row *sql.Row, key event.StreamKey) (*event.Snapshot, error) {
	snap, err := scanSnapshotRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", key, err)
	}
	return snap, nil
}

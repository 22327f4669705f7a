// Package sqlite is a single-file event and snapshot store on modernc.org/sqlite.
// All access goes through one connection, so appends are serialised by the
// connection itself and every transaction starts with BEGIN IMMEDIATE.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aevon-lab/eventkernel/internal/core/event"
	"github.com/aevon-lab/eventkernel/internal/core/storage"
	"github.com/aevon-lab/eventkernel/internal/registry"
	"github.com/google/uuid"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var nowFn = func() time.Time { return time.Now().UTC() }

var schema = []string{
	`CREATE TABLE IF NOT EXISTS event_streams (
		tenant_id       TEXT    NOT NULL,
		aggregate_type  TEXT    NOT NULL,
		aggregate_id    TEXT    NOT NULL,
		current_version INTEGER NOT NULL DEFAULT 0,
		updated_at      INTEGER NOT NULL,
		PRIMARY KEY (tenant_id, aggregate_type, aggregate_id)
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		seq            INTEGER PRIMARY KEY AUTOINCREMENT,
		id             TEXT    NOT NULL UNIQUE,
		tenant_id      TEXT    NOT NULL,
		aggregate_type TEXT    NOT NULL,
		aggregate_id   TEXT    NOT NULL,
		version        INTEGER NOT NULL CHECK (version > 0),
		event_type     TEXT    NOT NULL,
		schema_version INTEGER NOT NULL DEFAULT 1,
		occurred_at    INTEGER NOT NULL,
		inserted_at    INTEGER NOT NULL,
		event_data     TEXT    NOT NULL,
		user_id        TEXT,
		request_id     TEXT,
		UNIQUE (tenant_id, aggregate_type, aggregate_id, version)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_event_type ON events (event_type, seq)`,
	`CREATE TABLE IF NOT EXISTS aggregate_snapshots (
		id             TEXT    NOT NULL,
		tenant_id      TEXT    NOT NULL,
		aggregate_type TEXT    NOT NULL,
		aggregate_id   TEXT    NOT NULL,
		version        INTEGER NOT NULL CHECK (version > 0),
		state          BLOB    NOT NULL,
		metadata       TEXT,
		created_at     INTEGER NOT NULL,
		PRIMARY KEY (tenant_id, aggregate_type, aggregate_id, version)
	)`,
}

const (
	eventColumns = `id, tenant_id, aggregate_type, aggregate_id, version,
		event_type, schema_version, occurred_at, inserted_at, event_data, user_id, request_id`

	queryInitStreamHead = `INSERT OR IGNORE INTO event_streams
		(tenant_id, aggregate_type, aggregate_id, current_version, updated_at) VALUES (?, ?, ?, 0, ?)`

	queryStreamVersion = `SELECT COALESCE((SELECT current_version FROM event_streams
		WHERE tenant_id = ? AND aggregate_type = ? AND aggregate_id = ?), 0)`

	queryInsertEvent = `INSERT INTO events (` + eventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryUpdateStreamHead = `UPDATE event_streams SET current_version = ?, updated_at = ?
		WHERE tenant_id = ? AND aggregate_type = ? AND aggregate_id = ?`

	queryLoadStream = `SELECT ` + eventColumns + ` FROM events
		WHERE tenant_id = ? AND aggregate_type = ? AND aggregate_id = ? AND version > ? AND version <= ?
		ORDER BY version ASC`

	queryUpsertSnapshot = `INSERT INTO aggregate_snapshots
		(id, tenant_id, aggregate_type, aggregate_id, version, state, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, aggregate_type, aggregate_id, version) DO UPDATE SET
			id = excluded.id, state = excluded.state, metadata = excluded.metadata, created_at = excluded.created_at`

	querySnapshotAtVersion = `SELECT id, tenant_id, aggregate_type, aggregate_id, version, state, metadata, created_at
		FROM aggregate_snapshots
		WHERE tenant_id = ? AND aggregate_type = ? AND aggregate_id = ? AND version <= ?
		ORDER BY version DESC LIMIT 1`

	queryDeleteSnapshots = `DELETE FROM aggregate_snapshots
		WHERE tenant_id = ? AND aggregate_type = ? AND aggregate_id = ?`
)

var dialect = storage.SQLDialect{
	Placeholder: func(int) string { return "?" },
	TimeArg:     func(t time.Time) interface{} { return toMillis(t) },
}

// Store implements storage.EventStore, storage.EventStreamer and
// storage.SnapshotStore.
type Store struct {
	db *sql.DB
}

var (
	_ storage.EventStore    = (*Store)(nil)
	_ storage.EventStreamer = (*Store)(nil)
	_ storage.SnapshotStore = (*Store)(nil)
)

// Open opens (or creates) the database at path and ensures the schema.
// ":memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if path == ":memory:" {
		path = "file::memory:"
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	slog.Info("[SQLite] Store opened", "path", path)
	return &Store{db: db}, nil
}

func (s *Store) AppendToStream(ctx context.Context, req storage.AppendRequest) (storage.AppendResult, error) {
	if err := req.Validate(); err != nil {
		return storage.AppendResult{}, err
	}

	payloads := make([]string, len(req.Events))
	for i, e := range req.Events {
		b, err := registry.Marshal(e.EventData)
		if err != nil {
			return storage.AppendResult{}, fmt.Errorf("event %d: %w", i, err)
		}
		payloads[i] = string(b)
	}

	newVersion, err := s.appendTx(ctx, req, payloads)
	if err != nil && isConstraintError(err) {
		current, verr := s.streamVersion(ctx, req.Key())
		if verr != nil {
			return storage.AppendResult{}, fmt.Errorf("append: read version after conflict: %w", verr)
		}
		return storage.AppendResult{}, req.NewConflict(current)
	}
	if err != nil {
		return storage.AppendResult{}, err
	}

	slog.Debug("[SQLite] Appended events",
		"stream", req.Key().String(),
		"count", len(req.Events),
		"new_version", newVersion)
	return storage.AppendResult{NewVersion: newVersion}, nil
}

func (s *Store) appendTx(ctx context.Context, req storage.AppendRequest, payloads []string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("append: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := toMillis(nowFn())
	if _, err := tx.ExecContext(ctx, queryInitStreamHead, req.TenantID, req.AggregateType, req.AggregateID, now); err != nil {
		return 0, fmt.Errorf("append: init stream head: %w", err)
	}

	var current int64
	if err := tx.QueryRowContext(ctx, queryStreamVersion, req.TenantID, req.AggregateType, req.AggregateID).Scan(&current); err != nil {
		return 0, fmt.Errorf("append: read stream head: %w", err)
	}
	if current != req.ExpectedVersion {
		return 0, req.NewConflict(current)
	}

	for i, e := range req.Events {
		version := current + int64(i) + 1
		if _, err := tx.ExecContext(ctx, queryInsertEvent,
			uuid.NewString(),
			req.TenantID,
			req.AggregateType,
			req.AggregateID,
			version,
			e.EventType,
			e.SchemaVersion,
			toMillis(e.OccurredAt),
			now,
			payloads[i],
			nullString(req.UserID),
			nullString(req.RequestID),
		); err != nil {
			return 0, fmt.Errorf("append: insert event version %d: %w", version, err)
		}
	}

	newVersion := current + int64(len(req.Events))
	if _, err := tx.ExecContext(ctx, queryUpdateStreamHead,
		newVersion, now, req.TenantID, req.AggregateType, req.AggregateID); err != nil {
		return 0, fmt.Errorf("append: advance stream head: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("append: commit: %w", err)
	}
	return newVersion, nil
}

func (s *Store) streamVersion(ctx context.Context, key event.StreamKey) (int64, error) {
	var current int64
	if err := s.db.QueryRowContext(ctx, queryStreamVersion, key.TenantID, key.AggregateType, key.AggregateID).Scan(&current); err != nil {
		return 0, fmt.Errorf("read stream version: %w", err)
	}
	return current, nil
}

func (s *Store) LoadStream(ctx context.Context, req storage.LoadRequest) (storage.Stream, error) {
	key := req.Key()
	if err := key.Validate(); err != nil {
		return storage.Stream{}, err
	}

	current, err := s.streamVersion(ctx, key)
	if err != nil {
		return storage.Stream{}, err
	}
	if current <= req.FromVersion {
		return storage.Stream{Events: []event.StoredEvent{}, CurrentVersion: current}, nil
	}

	rows, err := s.db.QueryContext(ctx, queryLoadStream,
		key.TenantID, key.AggregateType, key.AggregateID, req.FromVersion, current)
	if err != nil {
		return storage.Stream{}, fmt.Errorf("query stream: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return storage.Stream{}, err
	}
	return storage.Stream{Events: events, CurrentVersion: current}, nil
}

func (s *Store) LoadAllEvents(ctx context.Context, filter event.Filter, opts event.ReadOptions) ([]event.StoredEvent, error) {
	where, args := storage.BuildFilterClause(filter, dialect)

	var b strings.Builder
	b.WriteString("SELECT " + eventColumns + " FROM events WHERE " + where)
	if opts.Descending {
		b.WriteString(" ORDER BY seq DESC")
	} else {
		b.WriteString(" ORDER BY seq ASC")
	}
	// SQLite only accepts OFFSET after a LIMIT; -1 means unbounded.
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		b.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *Store) StreamAllEvents(filter event.Filter, opts event.ReadOptions) *storage.Cursor {
	return storage.NewCursor(s, filter, opts)
}

func (s *Store) SaveSnapshot(ctx context.Context, snapshot event.Snapshot) error {
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

	var metadata interface{}
	if len(snapshot.Metadata) > 0 {
		b, err := registry.Marshal(snapshot.Metadata)
		if err != nil {
			return fmt.Errorf("marshal snapshot metadata: %w", err)
		}
		metadata = string(b)
	}

	if _, err := s.db.ExecContext(ctx, queryUpsertSnapshot,
		snapshot.ID, snapshot.TenantID, snapshot.AggregateType, snapshot.AggregateID,
		snapshot.Version, snapshot.State, metadata, toMillis(snapshot.CreatedAt),
	); err != nil {
		return fmt.Errorf("save snapshot %s v%d: %w", snapshot.Key(), snapshot.Version, err)
	}
	return nil
}

func (s *Store) LoadLatestSnapshot(ctx context.Context, key event.StreamKey) (*event.Snapshot, error) {
	return s.LoadSnapshotAtVersion(ctx, key, int64(^uint64(0)>>1))
}

func (s *Store) LoadSnapshotAtVersion(ctx context.Context, key event.StreamKey, maxVersion int64) (*event.Snapshot, error) {
	var (
		snap     event.Snapshot
		metadata sql.NullString
		created  int64
	)
	err := s.db.QueryRowContext(ctx, querySnapshotAtVersion,
		key.TenantID, key.AggregateType, key.AggregateID, maxVersion,
	).Scan(&snap.ID, &snap.TenantID, &snap.AggregateType, &snap.AggregateID, &snap.Version, &snap.State, &metadata, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", key, err)
	}

	if metadata.Valid {
		snap.Metadata, err = registry.Unmarshal([]byte(metadata.String))
		if err != nil {
			return nil, fmt.Errorf("load snapshot %s metadata: %w", key, err)
		}
	}
	snap.CreatedAt = fromMillis(created)
	return &snap, nil
}

func (s *Store) DeleteSnapshots(ctx context.Context, key event.StreamKey) error {
	if _, err := s.db.ExecContext(ctx, queryDeleteSnapshots, key.TenantID, key.AggregateType, key.AggregateID); err != nil {
		return fmt.Errorf("delete snapshots %s: %w", key, err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanEvents(rows *sql.Rows) ([]event.StoredEvent, error) {
	events := []event.StoredEvent{}
	for rows.Next() {
		var (
			evt                event.StoredEvent
			occurred, inserted int64
			payload            string
			userID, requestID  sql.NullString
		)
		if err := rows.Scan(
			&evt.ID, &evt.TenantID, &evt.AggregateType, &evt.AggregateID, &evt.Version,
			&evt.EventType, &evt.SchemaVersion, &occurred, &inserted, &payload, &userID, &requestID,
		); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		data, err := registry.Unmarshal([]byte(payload))
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", evt.ID, err)
		}
		evt.EventData = data
		evt.OccurredAt = fromMillis(occurred)
		evt.InsertedAt = fromMillis(inserted)
		evt.UserID = userID.String
		evt.RequestID = requestID.String
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Column timestamps are stored as unix milliseconds, so occurred_at,
// inserted_at and snapshot created_at lose sub-millisecond precision.
// Times inside the payload keep full precision through the codec.
func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

package postgres

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aevon-lab/eventkernel/internal/core/event"
	"github.com/aevon-lab/eventkernel/internal/core/storage"
	"github.com/aevon-lab/eventkernel/internal/registry"
	"github.com/lib/pq"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// dialect binds filter arguments as $n and passes times through to lib/pq.
var dialect = storage.SQLDialect{
	Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	TimeArg:     func(t time.Time) interface{} { return t.UTC() },
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// nullString maps "" to SQL NULL.
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanEventRow scans one row selected with eventColumns.
// Compatible with both sql.Row (single) and sql.Rows (multiple).
func scanEventRow(row scanner) (event.StoredEvent, error) {
	var (
		evt                event.StoredEvent
		payload            []byte
		userID, requestID  sql.NullString
		occurred, inserted time.Time
	)

	err := row.Scan(
		&evt.ID,
		&evt.TenantID,
		&evt.AggregateType,
		&evt.AggregateID,
		&evt.Version,
		&evt.EventType,
		&evt.SchemaVersion,
		&occurred,
		&inserted,
		&payload,
		&userID,
		&requestID,
	)
	if err != nil {
		return event.StoredEvent{}, fmt.Errorf("failed to scan event row: %w", err)
	}

	data, err := registry.Unmarshal(payload)
	if err != nil {
		return event.StoredEvent{}, fmt.Errorf("event %s: %w", evt.ID, err)
	}
	evt.EventData = data
	evt.OccurredAt = occurred.UTC()
	evt.InsertedAt = inserted.UTC()
	evt.UserID = userID.String
	evt.RequestID = requestID.String
	return evt, nil
}

func scanEventRows(rows *sql.Rows) ([]event.StoredEvent, error) {
	events := []event.StoredEvent{}
	for rows.Next() {
		evt, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

// marshalMetadata produces nil (SQL NULL) for empty metadata rather than "null".
func marshalMetadata(metadata map[string]interface{}) ([]byte, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return b, nil
}

func scanSnapshotRow(row scanner) (*event.Snapshot, error) {
	var (
		snap     event.Snapshot
		metadata []byte
		created  time.Time
	)
	if err := row.Scan(
		&snap.ID,
		&snap.TenantID,
		&snap.AggregateType,
		&snap.AggregateID,
		&snap.Version,
		&snap.State,
		&metadata,
		&created,
	); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &snap.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot metadata: %w", err)
		}
	}
	snap.CreatedAt = created.UTC()
	return &snap, nil
}

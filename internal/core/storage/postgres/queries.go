package postgres

// SQL for the event log. Stream heads live in event_streams so concurrent
// appenders to one stream serialise on a row lock.

const (
	// eventColumns is the projection shared by every event read.
	eventColumns = `
		id, tenant_id, aggregate_type, aggregate_id, version,
		event_type, schema_version, occurred_at, inserted_at,
		event_data, user_id, request_id`

	// queryInitStreamHead creates the head row of a new stream.
	// ON CONFLICT DO NOTHING keeps an existing head untouched.
	queryInitStreamHead = `
		INSERT INTO event_streams (tenant_id, aggregate_type, aggregate_id, current_version, updated_at)
		VALUES ($1, $2, $3, 0, $4)
		ON CONFLICT (tenant_id, aggregate_type, aggregate_id) DO NOTHING
	`

	// querySelectStreamHeadForUpdate locks the head row until commit.
	// Every appender to the stream blocks here, which makes compare-and-append atomic.
	querySelectStreamHeadForUpdate = `
		SELECT current_version
		FROM event_streams
		WHERE tenant_id = $1 AND aggregate_type = $2 AND aggregate_id = $3
		FOR UPDATE
	`

	queryInsertEvent = `
		INSERT INTO events (
			id, tenant_id, aggregate_type, aggregate_id, version,
			event_type, schema_version, occurred_at, inserted_at,
			event_data, user_id, request_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	queryUpdateStreamHead = `
		UPDATE event_streams
		SET current_version = $4, updated_at = $5
		WHERE tenant_id = $1 AND aggregate_type = $2 AND aggregate_id = $3
	`

	// queryStreamVersion returns 0 for streams that do not exist.
	queryStreamVersion = `
		SELECT COALESCE((
			SELECT current_version
			FROM event_streams
			WHERE tenant_id = $1 AND aggregate_type = $2 AND aggregate_id = $3
		), 0)
	`

	// queryLoadStream reads (fromVersion, headVersion]. Bounding by the head read
	// just before keeps the events consistent with the reported current version.
	queryLoadStream = `
		SELECT` + eventColumns + `
		FROM events
		WHERE tenant_id = $1 AND aggregate_type = $2 AND aggregate_id = $3
		  AND version > $4 AND version <= $5
		ORDER BY version ASC
	`

	// queryLoadAllEventsPrefix is completed by a filter clause, an ORDER BY on
	// seq and optional paging. seq is the global insertion order.
	queryLoadAllEventsPrefix = `SELECT` + eventColumns + ` FROM events WHERE `
)

// SQL for aggregate snapshots.

const (
	queryUpsertSnapshot = `
		INSERT INTO aggregate_snapshots (
			id, tenant_id, aggregate_type, aggregate_id, version, state, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, aggregate_type, aggregate_id, version)
		DO UPDATE SET
			id         = EXCLUDED.id,
			state      = EXCLUDED.state,
			metadata   = EXCLUDED.metadata,
			created_at = EXCLUDED.created_at
	`

	snapshotColumns = `
		id, tenant_id, aggregate_type, aggregate_id, version, state, metadata, created_at`

	queryLoadLatestSnapshot = `
		SELECT` + snapshotColumns + `
		FROM aggregate_snapshots
		WHERE tenant_id = $1 AND aggregate_type = $2 AND aggregate_id = $3
		ORDER BY version DESC
		LIMIT 1
	`

	queryLoadSnapshotAtVersion = `
		SELECT` + snapshotColumns + `
		FROM aggregate_snapshots
		WHERE tenant_id = $1 AND aggregate_type = $2 AND aggregate_id = $3
		  AND version <= $4
		ORDER BY version DESC
		LIMIT 1
	`

	queryDeleteSnapshots = `
		DELETE FROM aggregate_snapshots
		WHERE tenant_id = $1 AND aggregate_type = $2 AND aggregate_id = $3
	`
)

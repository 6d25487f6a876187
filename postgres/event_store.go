// Package postgres contains an event.Store implementation targeted to
// PostgreSQL databases, using the jackc/pgx driver.
//
// Use RunMigrations to create the tables the Event Store operates on.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/get-eventually/go-checkpoint/event"
	"github.com/get-eventually/go-checkpoint/postgres/internal"
	"github.com/get-eventually/go-checkpoint/version"
)

var _ event.Store = EventStore{}

// EventStore is an event.Store implementation targeted to PostgreSQL databases.
//
// The implementation uses "event_streams" and "events" as their
// operational tables. Updates to these tables are transactional.
type EventStore struct {
	Conn *pgxpool.Pool
}

type streamRow struct {
	lastVersion version.Version
	metadata    event.StreamMetadata
}

// lockStream makes sure the Event Stream row exists, and locks it
// until the end of the transaction.
func lockStream(ctx context.Context, tx pgx.Tx, id event.StreamID) (streamRow, error) {
	if _, err := tx.Exec(
		ctx,
		`INSERT INTO event_streams (event_stream_id) VALUES ($1)
		ON CONFLICT (event_stream_id) DO NOTHING`,
		string(id),
	); err != nil {
		return streamRow{}, fmt.Errorf("failed to create event stream, %w", err)
	}

	var (
		lastVersion int64
		rawMetadata []byte
	)

	if err := tx.QueryRow(
		ctx,
		`SELECT last_version, metadata FROM event_streams
		WHERE event_stream_id = $1
		FOR UPDATE`,
		string(id),
	).Scan(&lastVersion, &rawMetadata); err != nil {
		return streamRow{}, fmt.Errorf("failed to lock event stream, %w", err)
	}

	row := streamRow{lastVersion: version.Version(lastVersion)}

	if err := json.Unmarshal(rawMetadata, &row.metadata); err != nil {
		return streamRow{}, fmt.Errorf("failed to deserialize stream metadata, %w", err)
	}

	return row, nil
}

func truncate(
	ctx context.Context,
	tx pgx.Tx,
	id event.StreamID,
	metadata event.StreamMetadata,
	lastVersion version.Version,
) error {
	if _, err := tx.Exec(
		ctx,
		"DELETE FROM events WHERE event_stream_id = $1 AND version < $2",
		string(id), int64(metadata.RetainedFrom(lastVersion)),
	); err != nil {
		return fmt.Errorf("failed to truncate event stream, %w", err)
	}

	return nil
}

// Append implements the event.Appender interface.
func (es EventStore) Append(
	ctx context.Context,
	id event.StreamID,
	expected version.Check,
	records ...event.Record,
) (version.Version, error) {
	newVersion, err := internal.InTransaction(ctx, es.Conn, internal.StreamWrite, func(
		ctx context.Context,
		tx pgx.Tx,
	) (version.Version, error) {
		stream, err := lockStream(ctx, tx, id)
		if err != nil {
			return 0, err
		}

		if v, ok := expected.(version.CheckExact); ok && version.Version(v) != stream.lastVersion {
			return 0, fmt.Errorf("event stream version check failed, %w", version.ConflictError{
				Expected: version.Version(v),
				Actual:   stream.lastVersion,
			})
		}

		newVersion := stream.lastVersion + version.Version(len(records))

		if _, err := tx.Exec(
			ctx,
			"UPDATE event_streams SET last_version = $2 WHERE event_stream_id = $1",
			string(id), int64(newVersion),
		); err != nil {
			return 0, fmt.Errorf("failed to update event stream version, %w", err)
		}

		if err := appendRecords(ctx, tx, id, stream.lastVersion, records...); err != nil {
			return 0, err
		}

		return newVersion, truncate(ctx, tx, id, stream.metadata, newVersion)
	})
	if err != nil {
		return 0, fmt.Errorf("postgres.EventStore: failed to append records, %w", err)
	}

	return newVersion, nil
}

func appendRecords(
	ctx context.Context,
	tx pgx.Tx,
	id event.StreamID,
	previousVersion version.Version,
	records ...event.Record,
) error {
	batch := new(pgx.Batch)

	for i, record := range records {
		data := record.Data
		if data == nil {
			data = []byte{}
		}

		batch.Queue(
			`INSERT INTO events (event_stream_id, version, event_id, "type", data)
			VALUES ($1, $2, $3, $4, $5)`,
			string(id), int64(previousVersion)+int64(i)+1, record.ID, record.Type, data,
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert records, %w", err)
	}

	return nil
}

// ReadBackward implements the event.BackwardReader interface.
func (es EventStore) ReadBackward(
	ctx context.Context,
	id event.StreamID,
	selector version.Selector,
	maxCount int,
) ([]event.Persisted, error) {
	if maxCount <= 0 {
		return nil, nil
	}

	rows, err := es.Conn.Query(
		ctx,
		`SELECT version, event_id, "type", data FROM events
		WHERE event_stream_id = $1 AND version <= $2
		ORDER BY version DESC
		LIMIT $3`,
		string(id), selector.Bound(), maxCount,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres.EventStore: failed to query events table, %w", err)
	}

	defer rows.Close()

	var result []event.Persisted

	for rows.Next() {
		var (
			persisted = event.Persisted{StreamID: id}
			v         int64
		)

		if err := rows.Scan(&v, &persisted.ID, &persisted.Type, &persisted.Data); err != nil {
			return nil, fmt.Errorf("postgres.EventStore: failed to scan next row, %w", err)
		}

		persisted.Version = version.Version(v)
		result = append(result, persisted)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres.EventStore: failed to read rows, %w", err)
	}

	return result, nil
}

// SetStreamMetadata implements the event.MetadataWriter interface.
func (es EventStore) SetStreamMetadata(ctx context.Context, id event.StreamID, metadata event.StreamMetadata) error {
	rawMetadata, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("postgres.EventStore: failed to serialize stream metadata, %w", err)
	}

	_, err = internal.InTransaction(ctx, es.Conn, internal.StreamWrite, func(
		ctx context.Context,
		tx pgx.Tx,
	) (struct{}, error) {
		stream, err := lockStream(ctx, tx, id)
		if err != nil {
			return struct{}{}, err
		}

		if _, err := tx.Exec(
			ctx,
			"UPDATE event_streams SET metadata = $2 WHERE event_stream_id = $1",
			string(id), rawMetadata,
		); err != nil {
			return struct{}{}, fmt.Errorf("failed to update stream metadata, %w", err)
		}

		return struct{}{}, truncate(ctx, tx, id, metadata, stream.lastVersion)
	})
	if err != nil {
		return fmt.Errorf("postgres.EventStore: failed to set stream metadata, %w", err)
	}

	return nil
}

// StreamMetadata implements the event.MetadataReader interface.
func (es EventStore) StreamMetadata(ctx context.Context, id event.StreamID) (event.StreamMetadata, error) {
	var (
		metadata    event.StreamMetadata
		rawMetadata []byte
	)

	err := es.Conn.QueryRow(
		ctx,
		"SELECT metadata FROM event_streams WHERE event_stream_id = $1",
		string(id),
	).Scan(&rawMetadata)

	if errors.Is(err, pgx.ErrNoRows) {
		return metadata, nil
	}

	if err != nil {
		return metadata, fmt.Errorf("postgres.EventStore: failed to query event stream, %w", err)
	}

	if err := json.Unmarshal(rawMetadata, &metadata); err != nil {
		return metadata, fmt.Errorf("postgres.EventStore: failed to deserialize stream metadata, %w", err)
	}

	return metadata, nil
}

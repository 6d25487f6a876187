// Package sqlite contains an event.Store implementation using SQLite,
// through the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed" // Used to embed the database schema.
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Registers the "sqlite" database/sql driver.

	"github.com/get-eventually/go-checkpoint/event"
	"github.com/get-eventually/go-checkpoint/version"
)

//go:embed schema.sql
var schema string

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
}

var _ event.Store = EventStore{}

// EventStore is an event.Store implementation targeted to SQLite databases.
//
// The implementation uses "event_streams" and "events" as their
// operational tables. Updates to these tables are transactional.
type EventStore struct {
	DB *sql.DB
}

// Open opens the SQLite database at the specified DSN (e.g. a file path,
// or "file::memory:" for an in-memory database) and creates the
// operational tables, if missing.
//
// The connection pool is limited to a single connection, since SQLite
// serializes writes anyway.
func Open(ctx context.Context, dsn string) (EventStore, error) {
	wrapErr := func(err error, msg string) error {
		return fmt.Errorf("sqlite.Open: %s, %w", msg, err)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return EventStore{}, wrapErr(err, "failed to open database")
	}

	db.SetMaxOpenConns(1)

	for _, pragma := range append(pragmas, schema) {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return EventStore{}, wrapErr(err, "failed to initialize database")
		}
	}

	return EventStore{DB: db}, nil
}

// Close closes the underlying database.
func (es EventStore) Close() error {
	if err := es.DB.Close(); err != nil {
		return fmt.Errorf("sqlite.EventStore: failed to close database, %w", err)
	}

	return nil
}

type streamRow struct {
	lastVersion version.Version
	metadata    event.StreamMetadata
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getStream(ctx context.Context, q queryRower, id event.StreamID) (streamRow, error) {
	var (
		row         streamRow
		rawMetadata string
	)

	err := q.QueryRowContext(ctx,
		"SELECT last_version, metadata FROM event_streams WHERE event_stream_id = ?",
		string(id),
	).Scan(&row.lastVersion, &rawMetadata)

	if errors.Is(err, sql.ErrNoRows) {
		return streamRow{}, nil
	}

	if err != nil {
		return streamRow{}, fmt.Errorf("failed to query event stream, %w", err)
	}

	if err := json.Unmarshal([]byte(rawMetadata), &row.metadata); err != nil {
		return streamRow{}, fmt.Errorf("failed to deserialize stream metadata, %w", err)
	}

	return row, nil
}

func runTransaction(ctx context.Context, db *sql.DB, do func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction, %w", err)
	}

	defer func() {
		if err == nil {
			return
		}

		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			err = fmt.Errorf("failed to rollback transaction, %w (caused by: %w)", rollbackErr, err)
		}
	}()

	if err := do(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction, %w", err)
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
	var newVersion version.Version

	err := runTransaction(ctx, es.DB, func(tx *sql.Tx) error {
		stream, err := getStream(ctx, tx, id)
		if err != nil {
			return err
		}

		if v, ok := expected.(version.CheckExact); ok && version.Version(v) != stream.lastVersion {
			return version.ConflictError{
				Expected: version.Version(v),
				Actual:   stream.lastVersion,
			}
		}

		newVersion = stream.lastVersion + version.Version(len(records))

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO event_streams (event_stream_id, last_version) VALUES (?, ?)
			ON CONFLICT (event_stream_id) DO UPDATE SET last_version = excluded.last_version`,
			string(id), int64(newVersion),
		); err != nil {
			return fmt.Errorf("failed to update event stream version, %w", err)
		}

		for i, record := range records {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO events (event_stream_id, version, event_id, type, data) VALUES (?, ?, ?, ?, ?)",
				string(id), int64(stream.lastVersion)+int64(i)+1, record.ID.String(), record.Type, nonNil(record.Data),
			); err != nil {
				return fmt.Errorf("failed to insert record, %w", err)
			}
		}

		return truncate(ctx, tx, id, stream.metadata, newVersion)
	})
	if err != nil {
		return 0, fmt.Errorf("sqlite.EventStore: failed to append records, %w", err)
	}

	return newVersion, nil
}

func nonNil(data []byte) []byte {
	if data == nil {
		return []byte{}
	}

	return data
}

func truncate(
	ctx context.Context,
	tx *sql.Tx,
	id event.StreamID,
	metadata event.StreamMetadata,
	lastVersion version.Version,
) error {
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM events WHERE event_stream_id = ? AND version < ?",
		string(id), int64(metadata.RetainedFrom(lastVersion)),
	); err != nil {
		return fmt.Errorf("failed to truncate event stream, %w", err)
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

	rows, err := es.DB.QueryContext(ctx,
		`SELECT version, event_id, type, data FROM events
		WHERE event_stream_id = ? AND version <= ?
		ORDER BY version DESC
		LIMIT ?`,
		string(id), selector.Bound(), maxCount,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite.EventStore: failed to query events table, %w", err)
	}

	defer rows.Close()

	var result []event.Persisted

	for rows.Next() {
		var (
			persisted = event.Persisted{StreamID: id}
			rawID     string
		)

		if err := rows.Scan(&persisted.Version, &rawID, &persisted.Type, &persisted.Data); err != nil {
			return nil, fmt.Errorf("sqlite.EventStore: failed to scan next row, %w", err)
		}

		if persisted.ID, err = uuid.Parse(rawID); err != nil {
			return nil, fmt.Errorf("sqlite.EventStore: invalid record id, %w", err)
		}

		result = append(result, persisted)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite.EventStore: failed to read rows, %w", err)
	}

	return result, nil
}

// SetStreamMetadata implements the event.MetadataWriter interface.
func (es EventStore) SetStreamMetadata(ctx context.Context, id event.StreamID, metadata event.StreamMetadata) error {
	rawMetadata, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("sqlite.EventStore: failed to serialize stream metadata, %w", err)
	}

	err = runTransaction(ctx, es.DB, func(tx *sql.Tx) error {
		stream, err := getStream(ctx, tx, id)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO event_streams (event_stream_id, metadata) VALUES (?, ?)
			ON CONFLICT (event_stream_id) DO UPDATE SET metadata = excluded.metadata`,
			string(id), string(rawMetadata),
		); err != nil {
			return fmt.Errorf("failed to update stream metadata, %w", err)
		}

		return truncate(ctx, tx, id, metadata, stream.lastVersion)
	})
	if err != nil {
		return fmt.Errorf("sqlite.EventStore: failed to set stream metadata, %w", err)
	}

	return nil
}

// StreamMetadata implements the event.MetadataReader interface.
func (es EventStore) StreamMetadata(ctx context.Context, id event.StreamID) (event.StreamMetadata, error) {
	stream, err := getStream(ctx, es.DB, id)
	if err != nil {
		return event.StreamMetadata{}, fmt.Errorf("sqlite.EventStore: %w", err)
	}

	return stream.metadata, nil
}

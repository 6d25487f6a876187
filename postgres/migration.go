package postgres

import (
	"embed"
	"errors"
	"fmt"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	// Necessary to load the postgres driver used by migrate.
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var fs embed.FS

// MigrationsTable is the table used to keep track of the schema version
// of the event_streams and events tables.
const MigrationsTable = "checkpoint_schema_migrations"

func newMigrate(dsn string) (*migrate.Migrate, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid dsn format, %w", err)
	}

	q := u.Query()
	q.Set("x-migrations-table", MigrationsTable)
	u.RawQuery = q.Encode()

	source, err := iofs.New(fs, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations, %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, u.String())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database, %w", err)
	}

	return m, nil
}

// RunMigrations brings the schema used by EventStore to the latest version.
// Running it on an up-to-date database is a no-op.
//
// Make sure to run these in the entrypoint of your application, ideally
// before building a postgres.EventStore instance.
func RunMigrations(dsn string) error {
	m, err := newMigrate(dsn)
	if err != nil {
		return fmt.Errorf("postgres.RunMigrations: %w", err)
	}

	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("postgres.RunMigrations: failed to execute migrations, %w", err)
	}

	return nil
}

// SchemaVersion returns the schema version currently applied to the database.
// The returned bool is false if no migration has been applied yet.
func SchemaVersion(dsn string) (uint, bool, error) {
	m, err := newMigrate(dsn)
	if err != nil {
		return 0, false, fmt.Errorf("postgres.SchemaVersion: %w", err)
	}

	defer m.Close()

	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, fmt.Errorf("postgres.SchemaVersion: failed to read version, %w", err)
	}

	if dirty {
		return v, true, fmt.Errorf("postgres.SchemaVersion: migration %d did not complete", v)
	}

	return v, true, nil
}

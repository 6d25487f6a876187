package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/get-eventually/go-checkpoint/checkpoint"
	"github.com/get-eventually/go-checkpoint/event"
	"github.com/get-eventually/go-checkpoint/opentelemetry"
	"github.com/get-eventually/go-checkpoint/position"
	"github.com/get-eventually/go-checkpoint/postgres"
	"github.com/get-eventually/go-checkpoint/zaplogger"
)

var errNotPersisted = errors.New("checkpointctl: checkpoint was not persisted")

type app struct {
	config *config
	logger *zap.Logger
}

func newRootCommand(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpointctl",
		Short: "Inspect and manage checkpoint streams",
		Long: `checkpointctl reads and writes the checkpoint of a stream consumer,
persisted in a checkpoint stream of the configured backend.

The backend is configured through the environment:
  CHECKPOINT_BACKEND           memory, sqlite, postgres, mongodb or firestore
  CHECKPOINT_DSN               database file or connection string
  CHECKPOINT_MONGODB_DATABASE  database name, for mongodb
  CHECKPOINT_STREAM            checkpoint stream name
  CHECKPOINT_EVENT_TYPE        checkpoint record type
  CHECKPOINT_FLUSH_INTERVAL    flush interval used when writing
  CHECKPOINT_FIRESTORE_PROJECT Google Cloud project, for firestore`,
		SilenceUsage: true,
	}

	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.AddCommand(
		newGetCommand(app),
		newSetCommand(app),
		newResetCommand(app),
		newMetadataCommand(app),
		newMigrateCommand(app),
	)

	return cmd
}

func newGetCommand(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print the latest persisted checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			eventStore, closeFn, err := openEventStore(ctx, app.config)
			if err != nil {
				return err
			}
			defer closeFn()

			latest, found, err := event.ReadLatest(ctx, eventStore, event.StreamID(app.config.Stream))
			if err != nil {
				return fmt.Errorf("checkpointctl: failed to read checkpoint stream, %w", err)
			}

			if !found {
				fmt.Fprintln(cmd.OutOrStdout(), position.Start)
				return nil
			}

			p, err := position.JSONSerde.Deserialize(latest.Data)
			if err != nil {
				return fmt.Errorf("checkpointctl: failed to decode checkpoint, %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), p)

			return nil
		},
	}
}

func newSetCommand(app *app) *cobra.Command {
	return &cobra.Command{
		Use:     "set <position>",
		Short:   "Persist a new checkpoint",
		Example: "  checkpointctl set C:1024/P:1000",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := position.Parse(args[0])
			if err != nil {
				return fmt.Errorf("checkpointctl: invalid position, %w", err)
			}

			return app.save(cmd, p)
		},
	}
}

func newResetCommand(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Move the checkpoint back to the start of the log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.save(cmd, position.Start)
		},
	}
}

func (app *app) save(cmd *cobra.Command, p position.Position) error {
	ctx := cmd.Context()

	eventStore, closeFn, err := openEventStore(ctx, app.config)
	if err != nil {
		return err
	}
	defer closeFn()

	streamID := event.StreamID(app.config.Stream)

	observer, err := opentelemetry.NewCheckpointObserver(streamID,
		opentelemetry.WithAttributes(opentelemetry.CheckpointBackendKey.String(app.config.Backend)),
	)
	if err != nil {
		return fmt.Errorf("checkpointctl: failed to instrument checkpoint store, %w", err)
	}

	store := checkpoint.New(ctx, eventStore, streamID, app.config.EventType,
		checkpoint.WithFlushInterval(app.config.FlushInterval),
		checkpoint.WithLogger(zaplogger.Wrap(app.logger)),
		checkpoint.WithObserver(observer),
		checkpoint.WithFlushOnClose(),
	)

	store.Set(ctx, p)

	if err := store.Close(ctx); err != nil {
		return fmt.Errorf("checkpointctl: failed to save checkpoint, %w", err)
	}

	if store.Dirty() {
		return errNotPersisted
	}

	fmt.Fprintln(cmd.OutOrStdout(), p)

	return nil
}

func newMetadataCommand(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "metadata",
		Short: "Print the metadata of the checkpoint stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			eventStore, closeFn, err := openEventStore(ctx, app.config)
			if err != nil {
				return err
			}
			defer closeFn()

			metadata, err := eventStore.StreamMetadata(ctx, event.StreamID(app.config.Stream))
			if err != nil {
				return fmt.Errorf("checkpointctl: failed to read stream metadata, %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "max count: %d\n", metadata.MaxCount)

			return nil
		},
	}
}

func newMigrateCommand(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database migrations of the postgres backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if app.config.Backend != backendPostgres {
				return fmt.Errorf("checkpointctl: migrations are only needed by the %q backend", backendPostgres)
			}

			if err := postgres.RunMigrations(app.config.DSN); err != nil {
				return fmt.Errorf("checkpointctl: failed to run migrations, %w", err)
			}

			schemaVersion, _, err := postgres.SchemaVersion(app.config.DSN)
			if err != nil {
				return fmt.Errorf("checkpointctl: failed to read schema version, %w", err)
			}

			app.logger.Info("Migrations applied", zap.Uint("schema_version", schemaVersion))

			return nil
		},
	}
}

package main

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/get-eventually/go-checkpoint/event"
	checkpointfirestore "github.com/get-eventually/go-checkpoint/firestore"
	"github.com/get-eventually/go-checkpoint/mongodb"
	"github.com/get-eventually/go-checkpoint/opentelemetry"
	"github.com/get-eventually/go-checkpoint/postgres"
	"github.com/get-eventually/go-checkpoint/sqlite"
)

// openEventStore connects to the backend specified in the configuration,
// returning an instrumented event.Store and a function to release it.
func openEventStore(ctx context.Context, config *config) (event.Store, func(), error) {
	eventStore, closeFn, err := openBackend(ctx, config)
	if err != nil {
		return nil, nil, err
	}

	instrumented, err := opentelemetry.NewInstrumentedEventStore(eventStore,
		opentelemetry.WithAttributes(opentelemetry.CheckpointBackendKey.String(config.Backend)),
	)
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("checkpointctl: failed to instrument event store, %w", err)
	}

	return instrumented, closeFn, nil
}

func openBackend(ctx context.Context, config *config) (event.Store, func(), error) {
	switch config.Backend {
	case backendMemory:
		return event.NewInMemoryStore(), func() {}, nil

	case backendSQLite:
		eventStore, err := sqlite.Open(ctx, config.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("checkpointctl: failed to open sqlite backend, %w", err)
		}

		return eventStore, func() { _ = eventStore.Close() }, nil

	case backendPostgres:
		pool, err := pgxpool.New(ctx, config.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("checkpointctl: failed to connect to postgres backend, %w", err)
		}

		return postgres.EventStore{Conn: pool}, pool.Close, nil

	case backendMongoDB:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(config.DSN))
		if err != nil {
			return nil, nil, fmt.Errorf("checkpointctl: failed to connect to mongodb backend, %w", err)
		}

		disconnect := func() { _ = client.Disconnect(context.WithoutCancel(ctx)) }
		eventStore := mongodb.EventStore{Client: client, DatabaseName: config.MongoDB.Database}

		if err := eventStore.EnsureIndexes(ctx); err != nil {
			disconnect()
			return nil, nil, fmt.Errorf("checkpointctl: failed to prepare mongodb backend, %w", err)
		}

		return eventStore, disconnect, nil

	case backendFirestore:
		client, err := firestore.NewClient(ctx, config.Firestore.Project)
		if err != nil {
			return nil, nil, fmt.Errorf("checkpointctl: failed to connect to firestore backend, %w", err)
		}

		return checkpointfirestore.EventStore{Client: client}, func() { _ = client.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("checkpointctl: unsupported backend %q", config.Backend)
	}
}

// Package containers starts the backing services used by the integration
// tests of the event.Store implementations, through testcontainers.
package containers

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/gcloud"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Images used by the containers in this package.
const (
	PostgresImage          = "postgres:16-alpine"
	MongoDBImage           = "mongo:7"
	FirestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:367.0.0-emulators"
)

const startupTimeout = 30 * time.Second

// Postgres is a running PostgreSQL container.
type Postgres struct {
	testcontainers.Container

	// DSN can be used to connect to the "checkpoints" database.
	DSN string
}

// NewPostgres starts a new PostgreSQL container and waits until
// it accepts connections.
func NewPostgres(ctx context.Context) (*Postgres, error) {
	container, err := postgres.Run(ctx, PostgresImage,
		postgres.WithDatabase("checkpoints"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("notasecret"),
		testcontainers.WithWaitStrategy(
			// The server restarts once after the init scripts have run.
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(startupTimeout),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("containers.NewPostgres: failed to run container, %w", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		return nil, fmt.Errorf("containers.NewPostgres: failed to get connection string, %w", err)
	}

	return &Postgres{Container: container, DSN: dsn}, nil
}

// FirestoreEmulator is a running Firestore emulator container.
type FirestoreEmulator struct {
	*gcloud.GCloudContainer

	ProjectID string
}

// NewFirestoreEmulator starts a new Firestore emulator for the specified project.
func NewFirestoreEmulator(ctx context.Context, projectID string) (*FirestoreEmulator, error) {
	container, err := gcloud.RunFirestore(ctx, FirestoreEmulatorImage, gcloud.WithProjectID(projectID))
	if err != nil {
		return nil, fmt.Errorf("containers.NewFirestoreEmulator: failed to run container, %w", err)
	}

	return &FirestoreEmulator{GCloudContainer: container, ProjectID: projectID}, nil
}

// NewClient returns a Firestore client connected to the emulator.
func (fe *FirestoreEmulator) NewClient(ctx context.Context) (*firestore.Client, error) {
	client, err := firestore.NewClient(ctx, fe.ProjectID,
		option.WithEndpoint(fe.URI),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		return nil, fmt.Errorf("containers.FirestoreEmulator: failed to create client, %w", err)
	}

	return client, nil
}

// MongoDB is a running single-node MongoDB replica set.
type MongoDB struct {
	testcontainers.Container

	// URI can be used to connect directly to the replica set member.
	URI string
}

// NewMongoDB starts a new MongoDB container configured as a single-node
// replica set, which is required to run transactions.
func NewMongoDB(ctx context.Context) (*MongoDB, error) {
	container, err := mongodb.Run(ctx, MongoDBImage, mongodb.WithReplicaSet("rs0"))
	if err != nil {
		return nil, fmt.Errorf("containers.NewMongoDB: failed to run container, %w", err)
	}

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		return nil, fmt.Errorf("containers.NewMongoDB: failed to get connection string, %w", err)
	}

	return &MongoDB{Container: container, URI: uri}, nil
}

// NewClient returns a MongoDB client connected to the replica set member.
func (m *MongoDB) NewClient(ctx context.Context) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(m.URI).SetDirect(true))
	if err != nil {
		return nil, fmt.Errorf("containers.MongoDB: failed to connect, %w", err)
	}

	return client, nil
}

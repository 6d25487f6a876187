// Package mongodb contains an event.Store implementation using MongoDB.
//
// Writes use multi-document transactions, so the MongoDB deployment
// must be a replica set or a sharded cluster.
package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/get-eventually/go-checkpoint/event"
	"github.com/get-eventually/go-checkpoint/version"
)

// Collection names used by the EventStore.
const (
	EventsCollection       = "events"
	EventStreamsCollection = "event_streams"
)

var _ event.Store = EventStore{}

// EventStore is an event.Store implementation using a MongoDB database.
//
// Use EnsureIndexes before using the EventStore for the first time.
type EventStore struct {
	Client       *mongo.Client
	DatabaseName string
}

func (es EventStore) database() *mongo.Database {
	return es.Client.Database(es.DatabaseName, options.Database().
		SetReadConcern(readconcern.Majority()).
		SetReadPreference(readpref.Primary()))
}

func (es EventStore) eventsCollection() *mongo.Collection {
	return es.database().Collection(EventsCollection)
}

func (es EventStore) eventStreamsCollection() *mongo.Collection {
	return es.database().Collection(EventStreamsCollection)
}

// EnsureIndexes creates the indexes used to read Event Streams, if missing.
func (es EventStore) EnsureIndexes(ctx context.Context) error {
	if _, err := es.eventsCollection().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "event_stream_id", Value: 1},
			{Key: "version", Value: -1},
		},
		Options: options.Index().SetName("event_stream_id_version").SetUnique(true),
	}); err != nil {
		return fmt.Errorf("mongodb.EventStore: failed to create events index, %w", err)
	}

	return nil
}

// ensureStream creates the Event Stream document, if missing, outside
// of the write transaction: concurrent upserts on the same _id are retried
// by the server, while inserts within concurrent transactions would fail.
func (es EventStore) ensureStream(ctx context.Context, id event.StreamID) error {
	if _, err := es.eventStreamsCollection().UpdateOne(ctx,
		bson.D{{Key: "_id", Value: string(id)}},
		bson.D{{Key: "$setOnInsert", Value: bson.D{
			{Key: "last_version", Value: int64(0)},
			{Key: "max_count", Value: int64(0)},
		}}},
		options.Update().SetUpsert(true),
	); err != nil {
		return fmt.Errorf("failed to create event stream, %w", err)
	}

	return nil
}

func (es EventStore) getStream(ctx context.Context, id event.StreamID) (streamDocument, error) {
	var stream streamDocument

	err := es.eventStreamsCollection().
		FindOne(ctx, bson.D{{Key: "_id", Value: string(id)}}).
		Decode(&stream)

	if errors.Is(err, mongo.ErrNoDocuments) {
		return streamDocument{ID: string(id)}, nil
	}

	if err != nil {
		return streamDocument{}, fmt.Errorf("failed to find event stream, %w", err)
	}

	return stream, nil
}

// inTransaction runs the specified function in a majority-acknowledged
// transaction. Transient transaction errors, such as write conflicts
// between concurrent writers, are retried by the driver.
func (es EventStore) inTransaction(
	ctx context.Context,
	do func(ctx mongo.SessionContext) (interface{}, error),
) (interface{}, error) {
	sess, err := es.Client.StartSession(options.Session().
		SetDefaultReadConcern(readconcern.Majority()).
		SetDefaultReadPreference(readpref.Primary()).
		SetDefaultWriteConcern(writeconcern.Majority()))
	if err != nil {
		return nil, fmt.Errorf("failed to open a new session, %w", err)
	}

	defer sess.EndSession(ctx)

	return sess.WithTransaction(ctx, do)
}

// deleteOutOfWindow deletes the records of the Event Stream
// with a version lower than the specified one.
func (es EventStore) deleteOutOfWindow(ctx context.Context, id event.StreamID, retainedFrom version.Version) error {
	if retainedFrom <= 1 {
		return nil
	}

	if _, err := es.eventsCollection().DeleteMany(ctx, bson.D{
		{Key: "event_stream_id", Value: string(id)},
		{Key: "version", Value: bson.D{{Key: "$lt", Value: int64(retainedFrom)}}},
	}); err != nil {
		return fmt.Errorf("failed to delete records out of retention window, %w", err)
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
	if err := es.ensureStream(ctx, id); err != nil {
		return 0, fmt.Errorf("mongodb.EventStore: failed to append records, %w", err)
	}

	result, err := es.inTransaction(ctx, func(ctx mongo.SessionContext) (interface{}, error) {
		return es.append(ctx, id, expected, records...)
	})
	if err != nil {
		return 0, fmt.Errorf("mongodb.EventStore: failed to append records, %w", err)
	}

	newVersion, ok := result.(version.Version)
	if !ok {
		return 0, fmt.Errorf("mongodb.EventStore: unexpected transaction result, %T", result)
	}

	return newVersion, nil
}

func (es EventStore) append(
	ctx mongo.SessionContext,
	id event.StreamID,
	expected version.Check,
	records ...event.Record,
) (version.Version, error) {
	stream, err := es.getStream(ctx, id)
	if err != nil {
		return 0, err
	}

	lastVersion := stream.lastVersion()

	if v, ok := expected.(version.CheckExact); ok && version.Version(v) != lastVersion {
		return 0, fmt.Errorf("version check failed, %w", version.ConflictError{
			Expected: version.Version(v),
			Actual:   lastVersion,
		})
	}

	newVersion := lastVersion + version.Version(len(records))

	// Updating the stream document makes concurrent transactions
	// on the same Event Stream conflict with each other.
	if _, err := es.eventStreamsCollection().UpdateOne(ctx,
		bson.D{{Key: "_id", Value: string(id)}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "last_version", Value: int64(newVersion)}}}},
	); err != nil {
		return 0, fmt.Errorf("failed to update event stream version, %w", err)
	}

	if len(records) > 0 {
		documents := make([]interface{}, 0, len(records))
		for i, record := range records {
			documents = append(documents, newEventDocument(id, lastVersion+version.Version(i)+1, record))
		}

		if _, err := es.eventsCollection().InsertMany(ctx, documents); err != nil {
			return 0, fmt.Errorf("failed to insert records, %w", err)
		}
	}

	if err := es.deleteOutOfWindow(ctx, id, stream.metadata().RetainedFrom(newVersion)); err != nil {
		return 0, err
	}

	return newVersion, nil
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

	cursor, err := es.eventsCollection().Find(ctx,
		bson.D{
			{Key: "event_stream_id", Value: string(id)},
			{Key: "version", Value: bson.D{{Key: "$lte", Value: selector.Bound()}}},
		},
		options.Find().
			SetSort(bson.D{{Key: "version", Value: -1}}).
			SetLimit(int64(maxCount)),
	)
	if err != nil {
		return nil, fmt.Errorf("mongodb.EventStore: failed to open event stream cursor, %w", err)
	}

	var documents []eventDocument
	if err := cursor.All(ctx, &documents); err != nil {
		return nil, fmt.Errorf("mongodb.EventStore: failed while iterating the event stream cursor, %w", err)
	}

	result := make([]event.Persisted, 0, len(documents))

	for _, doc := range documents {
		persisted, err := doc.persisted()
		if err != nil {
			return nil, fmt.Errorf("mongodb.EventStore: failed to parse record, %w", err)
		}

		result = append(result, persisted)
	}

	return result, nil
}

// SetStreamMetadata implements the event.MetadataWriter interface.
func (es EventStore) SetStreamMetadata(ctx context.Context, id event.StreamID, metadata event.StreamMetadata) error {
	if err := es.ensureStream(ctx, id); err != nil {
		return fmt.Errorf("mongodb.EventStore: failed to set stream metadata, %w", err)
	}

	_, err := es.inTransaction(ctx, func(ctx mongo.SessionContext) (interface{}, error) {
		stream, err := es.getStream(ctx, id)
		if err != nil {
			return nil, err
		}

		if _, err := es.eventStreamsCollection().UpdateOne(ctx,
			bson.D{{Key: "_id", Value: string(id)}},
			bson.D{{Key: "$set", Value: bson.D{{Key: "max_count", Value: int64(metadata.MaxCount)}}}},
		); err != nil {
			return nil, fmt.Errorf("failed to update stream metadata, %w", err)
		}

		return nil, es.deleteOutOfWindow(ctx, id, metadata.RetainedFrom(stream.lastVersion()))
	})
	if err != nil {
		return fmt.Errorf("mongodb.EventStore: failed to set stream metadata, %w", err)
	}

	return nil
}

// StreamMetadata implements the event.MetadataReader interface.
func (es EventStore) StreamMetadata(ctx context.Context, id event.StreamID) (event.StreamMetadata, error) {
	stream, err := es.getStream(ctx, id)
	if err != nil {
		return event.StreamMetadata{}, fmt.Errorf("mongodb.EventStore: %w", err)
	}

	return stream.metadata(), nil
}

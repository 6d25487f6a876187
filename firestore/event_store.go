// Package checkpointfirestore contains an event.Store implementation using
// Google Cloud Firestore as storage backend.
package checkpointfirestore

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/get-eventually/go-checkpoint/event"
	"github.com/get-eventually/go-checkpoint/version"
)

// Collection names used by the EventStore.
const (
	EventsCollection       = "Events"
	EventStreamsCollection = "EventStreams"
)

// maxTransactionAttempts bounds the retries of a contended transaction.
const maxTransactionAttempts = 20

var _ event.Store = EventStore{}

// EventStore is an event.Store implementation using Firestore.
//
// Every Event Stream is a document in the EventStreams collection, holding
// its last version and metadata, while records are documents
// of the Events collection.
type EventStore struct {
	Client *firestore.Client
}

func (es EventStore) eventsCollection() *firestore.CollectionRef {
	return es.Client.Collection(EventsCollection)
}

func (es EventStore) streamsCollection() *firestore.CollectionRef {
	return es.Client.Collection(EventStreamsCollection)
}

func (es EventStore) streamRef(id event.StreamID) *firestore.DocumentRef {
	return es.streamsCollection().Doc(url.PathEscape(string(id)))
}

func (es EventStore) eventRef(id event.StreamID, v version.Version) *firestore.DocumentRef {
	return es.eventsCollection().Doc(fmt.Sprintf("%s@%d", url.PathEscape(string(id)), v))
}

type streamDoc struct {
	lastVersion version.Version
	metadata    event.StreamMetadata
}

func (es EventStore) getStream(tx *firestore.Transaction, id event.StreamID) (streamDoc, error) {
	doc, err := tx.Get(es.streamRef(id))
	if status.Code(err) == codes.NotFound {
		return streamDoc{}, nil
	}

	if err != nil {
		return streamDoc{}, fmt.Errorf("failed to get event stream, %w", err)
	}

	return parseStreamDoc(doc), nil
}

func parseStreamDoc(doc *firestore.DocumentSnapshot) streamDoc {
	var stream streamDoc

	data := doc.Data()

	if v, ok := data["last_version"].(int64); ok {
		stream.lastVersion = version.Version(v)
	}

	if v, ok := data["max_count"].(int64); ok {
		stream.metadata.MaxCount = uint64(v)
	}

	return stream
}

// deleteOutOfWindow deletes the records that fall out of the retention window
// when moving from the old window start to the new one.
func (es EventStore) deleteOutOfWindow(tx *firestore.Transaction, id event.StreamID, oldFrom, newFrom version.Version) error {
	for v := oldFrom; v < newFrom; v++ {
		if err := tx.Delete(es.eventRef(id, v)); err != nil {
			return fmt.Errorf("failed to delete record out of retention window, %w", err)
		}
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

	err := es.Client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		stream, err := es.getStream(tx, id)
		if err != nil {
			return err
		}

		if v, ok := expected.(version.CheckExact); ok && version.Version(v) != stream.lastVersion {
			return fmt.Errorf("version check failed, %w", version.ConflictError{
				Expected: version.Version(v),
				Actual:   stream.lastVersion,
			})
		}

		newVersion = stream.lastVersion + version.Version(len(records))

		if err := tx.Set(es.streamRef(id), map[string]interface{}{
			"event_stream_id": string(id),
			"last_version":    int64(newVersion),
		}, firestore.MergeAll); err != nil {
			return fmt.Errorf("failed to update event stream, %w", err)
		}

		for i, record := range records {
			v := stream.lastVersion + version.Version(i) + 1

			if err := tx.Create(es.eventRef(id, v), map[string]interface{}{
				"event_stream_id": string(id),
				"version":         int64(v),
				"event_id":        record.ID.String(),
				"type":            record.Type,
				"data":            record.Data,
			}); err != nil {
				return fmt.Errorf("failed to append record, %w", err)
			}
		}

		return es.deleteOutOfWindow(tx, id,
			stream.metadata.RetainedFrom(stream.lastVersion),
			stream.metadata.RetainedFrom(newVersion),
		)
	}, firestore.MaxAttempts(maxTransactionAttempts))
	if err != nil {
		return 0, fmt.Errorf("checkpointfirestore.EventStore: failed to append records, %w", err)
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

	iter := es.eventsCollection().
		Where("event_stream_id", "==", string(id)).
		Where("version", "<=", selector.Bound()).
		OrderBy("version", firestore.Desc).
		Limit(maxCount).
		Documents(ctx)

	defer iter.Stop()

	var result []event.Persisted

	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("checkpointfirestore.EventStore: failed while reading iterator, %w", err)
		}

		persisted, err := parseEventDoc(id, doc)
		if err != nil {
			return nil, fmt.Errorf("checkpointfirestore.EventStore: failed to parse record, %w", err)
		}

		result = append(result, persisted)
	}

	return result, nil
}

func parseEventDoc(id event.StreamID, doc *firestore.DocumentSnapshot) (event.Persisted, error) {
	data := doc.Data()

	v, ok := data["version"].(int64)
	if !ok {
		return event.Persisted{}, fmt.Errorf("unexpected version field type, %T", data["version"])
	}

	recordID, err := uuid.Parse(fmt.Sprint(data["event_id"]))
	if err != nil {
		return event.Persisted{}, fmt.Errorf("invalid record id, %w", err)
	}

	payload, _ := data["data"].([]byte)
	recordType, _ := data["type"].(string)

	return event.Persisted{
		StreamID: id,
		Version:  version.Version(v),
		Record: event.Record{
			ID:   recordID,
			Type: recordType,
			Data: payload,
		},
	}, nil
}

// SetStreamMetadata implements the event.MetadataWriter interface.
func (es EventStore) SetStreamMetadata(ctx context.Context, id event.StreamID, metadata event.StreamMetadata) error {
	err := es.Client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		stream, err := es.getStream(tx, id)
		if err != nil {
			return err
		}

		if err := tx.Set(es.streamRef(id), map[string]interface{}{
			"event_stream_id": string(id),
			"max_count":       int64(metadata.MaxCount),
		}, firestore.MergeAll); err != nil {
			return fmt.Errorf("failed to update stream metadata, %w", err)
		}

		return es.deleteOutOfWindow(tx, id,
			stream.metadata.RetainedFrom(stream.lastVersion),
			metadata.RetainedFrom(stream.lastVersion),
		)
	}, firestore.MaxAttempts(maxTransactionAttempts))
	if err != nil {
		return fmt.Errorf("checkpointfirestore.EventStore: failed to set stream metadata, %w", err)
	}

	return nil
}

// StreamMetadata implements the event.MetadataReader interface.
func (es EventStore) StreamMetadata(ctx context.Context, id event.StreamID) (event.StreamMetadata, error) {
	doc, err := es.streamRef(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return event.StreamMetadata{}, nil
	}

	if err != nil {
		return event.StreamMetadata{}, fmt.Errorf("checkpointfirestore.EventStore: failed to get event stream, %w", err)
	}

	return parseStreamDoc(doc).metadata, nil
}

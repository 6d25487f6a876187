package mongodb

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/get-eventually/go-checkpoint/event"
	"github.com/get-eventually/go-checkpoint/version"
)

// streamDocument is the document of the event_streams collection
// tracking the version and metadata of an Event Stream.
type streamDocument struct {
	ID          string `bson:"_id"`
	LastVersion int64  `bson:"last_version"`
	MaxCount    int64  `bson:"max_count"`
}

func (d streamDocument) lastVersion() version.Version {
	return version.Version(d.LastVersion)
}

func (d streamDocument) metadata() event.StreamMetadata {
	return event.StreamMetadata{MaxCount: uint64(d.MaxCount)}
}

// eventDocument is the document of the events collection holding
// a single record of an Event Stream.
type eventDocument struct {
	ID       string `bson:"_id"`
	StreamID string `bson:"event_stream_id"`
	Version  int64  `bson:"version"`
	EventID  string `bson:"event_id"`
	Type     string `bson:"type"`
	Data     []byte `bson:"data"`
}

func eventDocumentID(id event.StreamID, v version.Version) string {
	return fmt.Sprintf("%s@%d", id, v)
}

func newEventDocument(id event.StreamID, v version.Version, record event.Record) eventDocument {
	return eventDocument{
		ID:       eventDocumentID(id, v),
		StreamID: string(id),
		Version:  int64(v),
		EventID:  record.ID.String(),
		Type:     record.Type,
		Data:     record.Data,
	}
}

func (d eventDocument) persisted() (event.Persisted, error) {
	recordID, err := uuid.Parse(d.EventID)
	if err != nil {
		return event.Persisted{}, fmt.Errorf("invalid record id, %w", err)
	}

	return event.Persisted{
		StreamID: event.StreamID(d.StreamID),
		Version:  version.Version(d.Version),
		Record: event.Record{
			ID:   recordID,
			Type: d.Type,
			Data: d.Data,
		},
	}, nil
}

// Package event contains the abstractions over the append-only event log
// used to durably store checkpoints, together with an in-memory implementation.
package event

import (
	"github.com/google/uuid"

	"github.com/get-eventually/go-checkpoint/version"
)

// StreamID identifies an Event Stream, which is a slice of the Event Store
// containing records appended under the same name.
type StreamID string

// Record is an opaque payload appended to an Event Stream.
type Record struct {
	// ID uniquely identifies the record in the Event Store.
	ID uuid.UUID

	// Type is a tag used to label or route the record,
	// e.g. "$checkpoint" for checkpoint records.
	Type string

	// Data is the serialized payload of the record.
	Data []byte
}

// NewRecord creates a new Record with a random identifier.
func NewRecord(recordType string, data []byte) Record {
	return Record{
		ID:   uuid.New(),
		Type: recordType,
		Data: data,
	}
}

// Persisted represents a Record that has been persisted into the Event Store.
type Persisted struct {
	Record

	StreamID StreamID
	Version  version.Version
}

// StreamMetadata contains the settings of an Event Stream.
type StreamMetadata struct {
	// MaxCount is the maximum number of records retained by the Event Stream.
	// Only the most recent MaxCount records are returned to readers.
	//
	// Zero means no limit.
	MaxCount uint64 `json:"$maxCount,omitempty"`
}

// RetainedFrom returns the lowest version of a stream that is still visible
// to readers, given the version of its most recent record.
//
// Event Store implementations use it to apply the MaxCount setting.
func (m StreamMetadata) RetainedFrom(lastVersion version.Version) version.Version {
	if m.MaxCount == 0 || uint64(lastVersion) <= m.MaxCount {
		return 1
	}

	return lastVersion - version.Version(m.MaxCount) + 1
}

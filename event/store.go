package event

import (
	"context"

	"github.com/get-eventually/go-checkpoint/version"
)

// Appender is the Event Store trait used to append new records to an Event Stream.
type Appender interface {
	// Append inserts the specified records into the Event Stream,
	// returning the new version of the Event Stream.
	//
	// version.CheckExact can be specified to enable an Optimistic Concurrency check
	// on append, by using the expected version of the Event Stream prior
	// to appending the new records.
	//
	// Alternatively, version.Any can be used if no Optimistic Concurrency check
	// should be carried out.
	Append(ctx context.Context, id StreamID, expected version.Check, records ...Record) (version.Version, error)
}

// BackwardReader is the Event Store trait used to read an Event Stream
// from the most recent record towards the oldest one.
type BackwardReader interface {
	// ReadBackward returns at most maxCount records with a version lower or equal
	// than the one specified by the selector, newest first.
	//
	// Records that are out of the retention window specified by the stream metadata
	// are not returned. A missing Event Stream results in an empty slice.
	ReadBackward(ctx context.Context, id StreamID, selector version.Selector, maxCount int) ([]Persisted, error)
}

// MetadataWriter is the Event Store trait used to configure an Event Stream.
type MetadataWriter interface {
	// SetStreamMetadata overwrites the metadata of the Event Stream,
	// with no concurrency check. Setting the same metadata twice is a no-op.
	SetStreamMetadata(ctx context.Context, id StreamID, metadata StreamMetadata) error
}

// MetadataReader is the Event Store trait used to read the configuration
// of an Event Stream.
type MetadataReader interface {
	// StreamMetadata returns the current metadata of the Event Stream,
	// or the zero value if no metadata has been set.
	StreamMetadata(ctx context.Context, id StreamID) (StreamMetadata, error)
}

// Store represents an Event Store, used as a backing log by checkpoint.Store.
type Store interface {
	Appender
	BackwardReader
	MetadataWriter
	MetadataReader
}

// FusedStore is a convenience type to fuse
// multiple Event Store interfaces where you might need to extend
// the functionality of the Store only partially.
//
// E.g. You might want to extend the functionality of the Append() method,
// but keep the reading methods the same.
type FusedStore struct {
	Appender
	BackwardReader
	MetadataWriter
	MetadataReader
}

// ReadLatest returns the most recent record of the Event Stream, if any.
func ReadLatest(ctx context.Context, reader BackwardReader, id StreamID) (Persisted, bool, error) {
	records, err := reader.ReadBackward(ctx, id, version.SelectFromEnd, 1)
	if err != nil {
		return Persisted{}, false, err
	}

	if len(records) == 0 {
		return Persisted{}, false, nil
	}

	return records[0], true, nil
}

package event

import (
	"context"
	"fmt"
	"sync"

	"github.com/get-eventually/go-checkpoint/version"
)

// Interface implementation assertion.
var _ Store = new(InMemoryStore)

type inMemoryStream struct {
	// records holds the retained records; the first one has version offset+1.
	records  []Record
	offset   version.Version
	metadata StreamMetadata
}

func (s *inMemoryStream) lastVersion() version.Version {
	return s.offset + version.Version(len(s.records))
}

// truncate drops the records that fall out of the retention window.
func (s *inMemoryStream) truncate() {
	from := s.metadata.RetainedFrom(s.lastVersion())
	if from <= s.offset+1 {
		return
	}

	drop := int(from - s.offset - 1)
	s.records = append([]Record(nil), s.records[drop:]...)
	s.offset += version.Version(drop)
}

// InMemoryStore is a thread-safe, in-memory event.Store implementation.
type InMemoryStore struct {
	mx      sync.RWMutex
	streams map[StreamID]*inMemoryStream
}

// NewInMemoryStore creates a new event.InMemoryStore instance.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		mx:      sync.RWMutex{},
		streams: make(map[StreamID]*inMemoryStream),
	}
}

func contextErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("event.InMemoryStore: context error, %w", err)
	}

	return nil
}

func (es *InMemoryStore) stream(id StreamID) *inMemoryStream {
	s, ok := es.streams[id]
	if !ok {
		s = &inMemoryStream{}
		es.streams[id] = s
	}

	return s
}

// Append inserts the specified records into the Event Stream, returning
// the new version of the Event Stream.
//
// An instance of version.ConflictError will be returned if the optimistic locking
// version check fails against the current version of the Event Stream.
func (es *InMemoryStore) Append(
	ctx context.Context,
	id StreamID,
	expected version.Check,
	records ...Record,
) (version.Version, error) {
	if err := contextErr(ctx); err != nil {
		return 0, err
	}

	es.mx.Lock()
	defer es.mx.Unlock()

	s := es.stream(id)
	currentVersion := s.lastVersion()

	if v, ok := expected.(version.CheckExact); ok && version.Version(v) != currentVersion {
		return 0, fmt.Errorf("event.InMemoryStore: failed to append records, %w", version.ConflictError{
			Expected: version.Version(v),
			Actual:   currentVersion,
		})
	}

	s.records = append(s.records, records...)
	s.truncate()

	return s.lastVersion(), nil
}

// ReadBackward returns the most recent records in the Event Stream, newest first.
//
// This method fails only when the context is canceled.
func (es *InMemoryStore) ReadBackward(
	ctx context.Context,
	id StreamID,
	selector version.Selector,
	maxCount int,
) ([]Persisted, error) {
	if err := contextErr(ctx); err != nil {
		return nil, err
	}

	es.mx.RLock()
	defer es.mx.RUnlock()

	s, ok := es.streams[id]
	if !ok || maxCount <= 0 {
		return nil, nil
	}

	from := s.metadata.RetainedFrom(s.lastVersion())
	result := make([]Persisted, 0, min(maxCount, len(s.records)))

	for i := len(s.records) - 1; i >= 0 && len(result) < maxCount; i-- {
		v := s.offset + version.Version(i) + 1
		if v > selector.From || v < from {
			continue
		}

		result = append(result, Persisted{
			Record:   s.records[i],
			StreamID: id,
			Version:  v,
		})
	}

	return result, nil
}

// SetStreamMetadata implements the event.MetadataWriter interface.
//
// Records falling out of the new retention window are dropped immediately.
func (es *InMemoryStore) SetStreamMetadata(ctx context.Context, id StreamID, metadata StreamMetadata) error {
	if err := contextErr(ctx); err != nil {
		return err
	}

	es.mx.Lock()
	defer es.mx.Unlock()

	s := es.stream(id)
	s.metadata = metadata
	s.truncate()

	return nil
}

// StreamMetadata implements the event.MetadataReader interface.
func (es *InMemoryStore) StreamMetadata(ctx context.Context, id StreamID) (StreamMetadata, error) {
	if err := contextErr(ctx); err != nil {
		return StreamMetadata{}, err
	}

	es.mx.RLock()
	defer es.mx.RUnlock()

	if s, ok := es.streams[id]; ok {
		return s.metadata, nil
	}

	return StreamMetadata{}, nil
}

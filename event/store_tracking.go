package event

import (
	"context"
	"sync"

	"github.com/get-eventually/go-checkpoint/version"
)

var _ Store = new(TrackingEventStore)

// TrackingEventStore is an Event Store wrapper to track the records
// committed to the inner Event Store.
//
// Useful for tests assertion.
type TrackingEventStore struct {
	Store

	mx          sync.RWMutex
	recorded    []Persisted
	appendCalls int
}

// NewTrackingEventStore wraps an Event Store to capture records that get
// appended to it.
func NewTrackingEventStore(store Store) *TrackingEventStore {
	return &TrackingEventStore{Store: store}
}

// Recorded returns the list of records that have been successfully appended
// to the Event Store, in append order.
func (es *TrackingEventStore) Recorded() []Persisted {
	es.mx.RLock()
	defer es.mx.RUnlock()

	return append([]Persisted(nil), es.recorded...)
}

// AppendCalls returns the number of times Append has been called,
// including the calls that failed.
func (es *TrackingEventStore) AppendCalls() int {
	es.mx.RLock()
	defer es.mx.RUnlock()

	return es.appendCalls
}

// Append forwards the call to the wrapped Event Store instance and,
// if the operation concludes successfully, records these records internally.
//
// The recorded records can be accessed by calling Recorded().
func (es *TrackingEventStore) Append(
	ctx context.Context,
	id StreamID,
	expected version.Check,
	records ...Record,
) (version.Version, error) {
	es.mx.Lock()
	defer es.mx.Unlock()

	es.appendCalls++

	v, err := es.Store.Append(ctx, id, expected, records...)
	if err != nil {
		return v, err
	}

	previousVersion := v - version.Version(len(records))

	for i, record := range records {
		es.recorded = append(es.recorded, Persisted{
			StreamID: id,
			Version:  previousVersion + version.Version(i) + 1,
			Record:   record,
		})
	}

	return v, nil
}

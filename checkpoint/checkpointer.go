package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/get-eventually/go-checkpoint/event"
	"github.com/get-eventually/go-checkpoint/position"
)

// Checkpointer saves and retrieves the progress of named consumers,
// so that it might survive application restarts without reprocessing
// the event log from the start.
type Checkpointer interface {
	Read(ctx context.Context, name string) (position.Position, error)
	Write(ctx context.Context, name string, p position.Position) error
}

// NopCheckpointer is a Checkpointer that saves nothing, and always
// reads position.Start.
var NopCheckpointer = FixedCheckpointer{StartingFrom: position.Start}

// FixedCheckpointer is a Checkpointer that saves nothing, and always
// reads the same position.
type FixedCheckpointer struct{ StartingFrom position.Position }

// Read implements the Checkpointer interface.
func (fc FixedCheckpointer) Read(context.Context, string) (position.Position, error) {
	return fc.StartingFrom, nil
}

// Write implements the Checkpointer interface.
func (fc FixedCheckpointer) Write(context.Context, string, position.Position) error { return nil }

// ErrCheckpointerClosed is returned by a StoreCheckpointer used after Close.
var ErrCheckpointerClosed = errors.New("checkpoint.StoreCheckpointer: closed")

// StreamName returns the checkpoint Event Stream used by StoreCheckpointer
// for the specified consumer.
func StreamName(name string) event.StreamID {
	return event.StreamID("checkpoint-" + name)
}

var _ Checkpointer = &StoreCheckpointer{}

// StoreCheckpointer is a Checkpointer backed by an event.Store,
// using a separate Store, and checkpoint Event Stream, for each consumer.
//
// Stores are created on first use of a consumer name, with the options
// specified in NewStoreCheckpointer.
type StoreCheckpointer struct {
	eventStore event.Store
	eventType  string
	options    []Option

	mx     sync.Mutex
	stores map[string]*Store
	closed bool
}

// NewStoreCheckpointer returns a new StoreCheckpointer writing checkpoint
// records of the specified type to the provided event.Store.
func NewStoreCheckpointer(eventStore event.Store, eventType string, options ...Option) *StoreCheckpointer {
	return &StoreCheckpointer{
		eventStore: eventStore,
		eventType:  eventType,
		options:    options,
		stores:     make(map[string]*Store),
	}
}

func (sc *StoreCheckpointer) store(ctx context.Context, name string) (*Store, error) {
	sc.mx.Lock()
	defer sc.mx.Unlock()

	if sc.closed {
		return nil, ErrCheckpointerClosed
	}

	if s, ok := sc.stores[name]; ok {
		return s, nil
	}

	s := New(ctx, sc.eventStore, StreamName(name), sc.eventType, sc.options...)
	sc.stores[name] = s

	return s, nil
}

// Read returns the checkpoint of the named consumer.
//
// The persisted checkpoint is loaded when the consumer Store is created;
// later calls return the latest position written, even if not flushed yet.
func (sc *StoreCheckpointer) Read(ctx context.Context, name string) (position.Position, error) {
	s, err := sc.store(ctx, name)
	if err != nil {
		return position.Start, err
	}

	return s.Position(), nil
}

// Write sets the checkpoint of the named consumer, which is persisted
// according to the flush interval of the underlying Store.
func (sc *StoreCheckpointer) Write(ctx context.Context, name string, p position.Position) error {
	s, err := sc.store(ctx, name)
	if err != nil {
		return err
	}

	s.Set(ctx, p)

	return nil
}

// Close closes all the Stores created so far.
func (sc *StoreCheckpointer) Close(ctx context.Context) error {
	sc.mx.Lock()
	defer sc.mx.Unlock()

	if sc.closed {
		return nil
	}

	sc.closed = true

	var errs []error

	for name, s := range sc.stores {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("checkpoint.StoreCheckpointer: failed to close %q, %w", name, err))
		}
	}

	return errors.Join(errs...)
}

package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/get-eventually/go-checkpoint/event"
	"github.com/get-eventually/go-checkpoint/logger"
	"github.com/get-eventually/go-checkpoint/position"
	"github.com/get-eventually/go-checkpoint/serde"
	"github.com/get-eventually/go-checkpoint/version"
)

// Error kinds reported by a Store. Use errors.Is to match them.
var (
	ErrBootstrap = errors.New("checkpoint.Store: bootstrap failed")
	ErrFlush     = errors.New("checkpoint.Store: flush failed")
	ErrRead      = errors.New("checkpoint.Store: read failed")
)

// checkpointMetadata caps the checkpoint stream to its latest record.
var checkpointMetadata = event.StreamMetadata{MaxCount: 1}

// Store keeps track of the position of a consumer in an event log,
// and persists it to an Event Stream of the backing event.Store.
//
// A Store assumes to be the only writer of its Event Stream.
//
// Use New to create a new Store instance, and Close to stop it.
type Store struct {
	eventStore event.Store
	streamID   event.StreamID
	eventType  string

	flushInterval time.Duration
	serde         serde.Bytes[position.Position]
	logger        logger.Logger
	observer      Observer
	monotonic     bool
	flushOnClose  bool

	mx            sync.RWMutex
	current       position.Position
	lastPersisted position.Position

	// flushMx serializes write-backs, so that the dirty check and the append
	// it guards are never interleaved with another flush.
	flushMx sync.Mutex

	stop      chan struct{}
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New creates a new Store, persisting checkpoints in the specified Event Stream
// using records of the specified type.
//
// New bootstraps the Event Stream synchronously: the stream is capped to
// a single record, and the latest checkpoint is loaded, or the stream is
// initialized with position.Start if empty.
//
// Bootstrap failures are logged and do not prevent the Store from being used:
// later operations will keep trying to reach the Event Store.
func New(
	ctx context.Context,
	eventStore event.Store,
	streamID event.StreamID,
	eventType string,
	options ...Option,
) *Store {
	s := &Store{
		eventStore:    eventStore,
		streamID:      streamID,
		eventType:     eventType,
		flushInterval: DefaultFlushInterval,
		serde:         position.JSONSerde,
		observer:      nopObserver{},
		current:       position.Start,
		lastPersisted: position.Start,
	}

	for _, opt := range options {
		opt.apply(s)
	}

	s.logger = logger.WithFields(s.logger, logger.With("stream", streamID))

	if s.flushInterval > 0 {
		s.stop = make(chan struct{})
		s.done = make(chan struct{})

		go s.run(context.WithoutCancel(ctx))
	}

	if err := s.bootstrap(ctx); err != nil {
		logger.Error(s.logger, "Error while initializing the checkpoint stream",
			logger.Err(err),
		)
	}

	return s
}

func (s *Store) bootstrap(ctx context.Context) error {
	if err := s.eventStore.SetStreamMetadata(ctx, s.streamID, checkpointMetadata); err != nil {
		return fmt.Errorf("%w: failed to set stream metadata, %w", ErrBootstrap, err)
	}

	latest, found, err := s.read(ctx)
	if err != nil {
		return fmt.Errorf("%w, %w", ErrBootstrap, err)
	}

	if found {
		s.mx.Lock()
		defer s.mx.Unlock()

		s.current, s.lastPersisted = latest, latest

		logger.Debug(s.logger, "Checkpoint loaded",
			logger.With("position", latest),
		)

		return nil
	}

	if err := s.flush(ctx, true); err != nil {
		return fmt.Errorf("%w, %w", ErrBootstrap, err)
	}

	return nil
}

func (s *Store) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.FlushIfDirty(ctx); err != nil {
				logger.Error(s.logger, "Error while saving the checkpoint",
					logger.Err(err),
				)
			}
		}
	}
}

// Position returns the position currently held in memory,
// without reaching the Event Store.
func (s *Store) Position() position.Position {
	s.mx.RLock()
	defer s.mx.RUnlock()

	return s.current
}

// Dirty reports whether the current position has not been persisted yet.
func (s *Store) Dirty() bool {
	s.mx.RLock()
	defer s.mx.RUnlock()

	return s.current != s.lastPersisted
}

// Get reads the latest checkpoint from the Event Store, and uses it
// as the current position. With WithMonotonic, a persisted checkpoint
// older than the current position is returned but not adopted.
//
// If the checkpoint stream is empty, position.Start is returned.
// If the read fails, the failure is logged and the position currently held
// in memory is returned instead.
func (s *Store) Get(ctx context.Context) position.Position {
	p, _, err := s.read(ctx)
	if err != nil {
		p = s.Position()

		logger.Error(s.logger, "Error while reading the checkpoint",
			logger.With("fallback", p),
			logger.Err(err),
		)

		s.observer.ReadCompleted(ctx, p, err)

		return p
	}

	s.mx.Lock()
	if !s.monotonic || !p.Less(s.current) {
		s.current = p
	}
	s.mx.Unlock()

	s.observer.ReadCompleted(ctx, p, nil)

	return p
}

func (s *Store) read(ctx context.Context) (position.Position, bool, error) {
	latest, found, err := event.ReadLatest(ctx, s.eventStore, s.streamID)
	if err != nil {
		return position.Start, false, fmt.Errorf("%w: failed to read checkpoint stream, %w", ErrRead, err)
	}

	if !found {
		return position.Start, false, nil
	}

	p, err := s.serde.Deserialize(latest.Data)
	if err != nil {
		return position.Start, false, fmt.Errorf("%w: failed to deserialize checkpoint record, %w", ErrRead, err)
	}

	return p, true, nil
}

// Set updates the current position.
//
// With a positive flush interval, the position is persisted by the next
// periodic flush, and only the latest position set before it gets written.
// Otherwise, the position is persisted before returning; failures are logged.
//
// When WithMonotonic is used, positions older than the current one are ignored.
func (s *Store) Set(ctx context.Context, p position.Position) {
	s.mx.Lock()

	if s.monotonic && p.Less(s.current) {
		current := s.current
		s.mx.Unlock()

		logger.Debug(s.logger, "Ignoring checkpoint older than the current position",
			logger.With("position", p),
			logger.With("current", current),
		)

		return
	}

	s.current = p
	s.mx.Unlock()

	if s.flushInterval > 0 || s.closed.Load() {
		return
	}

	if err := s.Flush(ctx); err != nil {
		logger.Error(s.logger, "Error while saving the checkpoint",
			logger.With("position", p),
			logger.Err(err),
		)
	}
}

// Flush writes the current position to the Event Store, regardless of
// whether it has been persisted already.
//
// The returned error, if any, matches ErrFlush.
func (s *Store) Flush(ctx context.Context) error {
	return s.flush(ctx, true)
}

// FlushIfDirty writes the current position to the Event Store only if it
// differs from the last persisted one. This is what the periodic flush runs.
//
// The returned error, if any, matches ErrFlush.
func (s *Store) FlushIfDirty(ctx context.Context) error {
	return s.flush(ctx, false)
}

func (s *Store) flush(ctx context.Context, force bool) (err error) {
	s.flushMx.Lock()
	defer s.flushMx.Unlock()

	s.mx.RLock()
	p, lastPersisted := s.current, s.lastPersisted
	s.mx.RUnlock()

	if !force && p == lastPersisted {
		return nil
	}

	defer func() { s.observer.FlushCompleted(ctx, p, err) }()

	data, err := s.serde.Serialize(p)
	if err != nil {
		return fmt.Errorf("%w: failed to serialize position, %w", ErrFlush, err)
	}

	record := event.NewRecord(s.eventType, data)

	if _, err = s.eventStore.Append(ctx, s.streamID, version.Any, record); err != nil {
		return fmt.Errorf("%w: failed to append checkpoint record, %w", ErrFlush, err)
	}

	s.mx.Lock()
	s.lastPersisted = p
	s.mx.Unlock()

	logger.Debug(s.logger, "Checkpoint saved",
		logger.With("position", p),
	)

	return nil
}

// Close stops the periodic flush, waiting for an in-flight flush to complete
// for as long as the context allows. When WithFlushOnClose is used,
// the current position is persisted if dirty.
//
// Get and Set remain usable after Close, as long as the Event Store is,
// but Set no longer persists the position.
// Calling Close more than once returns the result of the first call.
func (s *Store) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		if s.stop != nil {
			close(s.stop)

			select {
			case <-s.done:
			case <-ctx.Done():
				s.closeErr = fmt.Errorf("checkpoint.Store: failed to wait for periodic flush to stop, %w", ctx.Err())
				return
			}
		}

		if s.flushOnClose {
			s.closeErr = s.FlushIfDirty(ctx)
		}
	})

	return s.closeErr
}

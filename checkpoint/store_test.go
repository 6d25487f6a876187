package checkpoint_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/get-eventually/go-checkpoint/checkpoint"
	"github.com/get-eventually/go-checkpoint/event"
	"github.com/get-eventually/go-checkpoint/logger"
	"github.com/get-eventually/go-checkpoint/position"
	"github.com/get-eventually/go-checkpoint/version"
)

const (
	streamID  = event.StreamID("$checkpoint-test")
	eventType = "$checkpoint"

	// noTick is an interval long enough for the periodic flush to never
	// trigger during a test, so that ticks can be forced with FlushIfDirty.
	noTick = time.Hour
)

var errUnavailable = errors.New("event store unavailable")

// faultyStore wraps an event.Store and fails the selected operations.
type faultyStore struct {
	event.Store

	failAppend   atomic.Bool
	failRead     atomic.Bool
	failMetadata atomic.Bool
}

func newFaultyStore() *faultyStore {
	return &faultyStore{Store: event.NewInMemoryStore()}
}

func (s *faultyStore) failAll() *faultyStore {
	s.failAppend.Store(true)
	s.failRead.Store(true)
	s.failMetadata.Store(true)

	return s
}

func (s *faultyStore) Append(
	ctx context.Context,
	id event.StreamID,
	expected version.Check,
	records ...event.Record,
) (version.Version, error) {
	if s.failAppend.Load() {
		return 0, errUnavailable
	}

	return s.Store.Append(ctx, id, expected, records...)
}

func (s *faultyStore) ReadBackward(
	ctx context.Context,
	id event.StreamID,
	selector version.Selector,
	maxCount int,
) ([]event.Persisted, error) {
	if s.failRead.Load() {
		return nil, errUnavailable
	}

	return s.Store.ReadBackward(ctx, id, selector, maxCount)
}

func (s *faultyStore) SetStreamMetadata(ctx context.Context, id event.StreamID, metadata event.StreamMetadata) error {
	if s.failMetadata.Load() {
		return errUnavailable
	}

	return s.Store.SetStreamMetadata(ctx, id, metadata)
}

func latest(t *testing.T, store event.Store) position.Position {
	t.Helper()

	record, found, err := event.ReadLatest(context.Background(), store, streamID)
	require.NoError(t, err)
	require.True(t, found, "checkpoint stream should not be empty")

	p, err := position.JSONSerde.Deserialize(record.Data)
	require.NoError(t, err)

	return p
}

func appendCheckpoint(t *testing.T, store event.Store, p position.Position) {
	t.Helper()

	data, err := position.JSONSerde.Serialize(p)
	require.NoError(t, err)

	_, err = store.Append(context.Background(), streamID, version.Any, event.NewRecord(eventType, data))
	require.NoError(t, err)
}

func TestStore_SynchronousMode(t *testing.T) {
	ctx := context.Background()
	eventStore := event.NewTrackingEventStore(event.NewInMemoryStore())

	store := checkpoint.New(ctx, eventStore, streamID, eventType,
		checkpoint.WithFlushInterval(0),
		checkpoint.WithLogger(logger.NewTest(t)),
	)
	defer func() { assert.NoError(t, store.Close(ctx)) }()

	positions := []position.Position{
		{Commit: 1, Prepare: 1},
		{Commit: 1024, Prepare: 1000},
		position.Start,
		position.End,
	}

	for _, p := range positions {
		store.Set(ctx, p)
		assert.Equal(t, p, store.Get(ctx))
		assert.False(t, store.Dirty())
	}

	// One record written by the bootstrap, then one per Set call.
	assert.Len(t, eventStore.Recorded(), len(positions)+1)
}

func TestStore_Bootstrap(t *testing.T) {
	ctx := context.Background()

	t.Run("empty stream is initialized with the start position", func(t *testing.T) {
		eventStore := event.NewTrackingEventStore(event.NewInMemoryStore())

		store := checkpoint.New(ctx, eventStore, streamID, eventType, checkpoint.WithFlushInterval(noTick))
		defer func() { assert.NoError(t, store.Close(ctx)) }()

		require.Len(t, eventStore.Recorded(), 1)
		assert.Equal(t, eventType, eventStore.Recorded()[0].Type)
		assert.Equal(t, position.Start, latest(t, eventStore))
		assert.Equal(t, position.Start, store.Get(ctx))

		metadata, err := eventStore.StreamMetadata(ctx, streamID)
		require.NoError(t, err)
		assert.Equal(t, event.StreamMetadata{MaxCount: 1}, metadata)
	})

	t.Run("existing checkpoint is loaded and not overwritten", func(t *testing.T) {
		eventStore := event.NewTrackingEventStore(event.NewInMemoryStore())
		appendCheckpoint(t, eventStore, position.Position{Commit: 42, Prepare: 42})

		store := checkpoint.New(ctx, eventStore, streamID, eventType, checkpoint.WithFlushInterval(noTick))
		defer func() { assert.NoError(t, store.Close(ctx)) }()

		assert.Equal(t, 1, eventStore.AppendCalls())
		assert.Equal(t, position.Position{Commit: 42, Prepare: 42}, store.Position())
		assert.False(t, store.Dirty())
	})

	t.Run("stream metadata is the same after multiple bootstraps", func(t *testing.T) {
		eventStore := event.NewInMemoryStore()

		for i := 0; i < 2; i++ {
			store := checkpoint.New(ctx, eventStore, streamID, eventType, checkpoint.WithFlushInterval(0))
			require.NoError(t, store.Close(ctx))

			metadata, err := eventStore.StreamMetadata(ctx, streamID)
			require.NoError(t, err)
			assert.Equal(t, event.StreamMetadata{MaxCount: 1}, metadata)
		}

		records, err := eventStore.ReadBackward(ctx, streamID, version.SelectFromEnd, 20)
		require.NoError(t, err)
		assert.Len(t, records, 1)
	})

	t.Run("failing event store does not prevent construction", func(t *testing.T) {
		eventStore := newFaultyStore().failAll()

		var store *checkpoint.Store

		require.NotPanics(t, func() {
			store = checkpoint.New(ctx, eventStore, streamID, eventType,
				checkpoint.WithFlushInterval(0),
				checkpoint.WithLogger(logger.NewTest(t)),
			)
		})

		assert.Equal(t, position.Start, store.Get(ctx))
		assert.NotPanics(t, func() { store.Set(ctx, position.Position{Commit: 10, Prepare: 10}) })
		assert.Equal(t, position.Position{Commit: 10, Prepare: 10}, store.Get(ctx))
		assert.True(t, store.Dirty())
		assert.NoError(t, store.Close(ctx))
	})

	t.Run("failing event store in periodic mode", func(t *testing.T) {
		eventStore := newFaultyStore().failAll()

		store := checkpoint.New(ctx, eventStore, streamID, eventType,
			checkpoint.WithFlushInterval(5*time.Millisecond),
			checkpoint.WithLogger(logger.NewTest(t)),
		)

		assert.Equal(t, position.Start, store.Get(ctx))
		assert.NotPanics(t, func() { store.Set(ctx, position.Position{Commit: 1}) })

		time.Sleep(20 * time.Millisecond)
		assert.True(t, store.Dirty())
		assert.NoError(t, store.Close(ctx))
	})
}

func TestStore_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("empty stream returns the start position", func(t *testing.T) {
		eventStore := newFaultyStore()
		eventStore.failAppend.Store(true)

		store := checkpoint.New(ctx, eventStore, streamID, eventType, checkpoint.WithFlushInterval(noTick))
		defer func() { assert.NoError(t, store.Close(ctx)) }()

		records, err := eventStore.ReadBackward(ctx, streamID, version.SelectFromEnd, 20)
		require.NoError(t, err)
		require.Empty(t, records)

		assert.Equal(t, position.Start, store.Get(ctx))
	})

	t.Run("read failure returns the cached position", func(t *testing.T) {
		eventStore := newFaultyStore()

		store := checkpoint.New(ctx, eventStore, streamID, eventType,
			checkpoint.WithFlushInterval(noTick),
			checkpoint.WithLogger(logger.NewTest(t)),
		)
		defer func() { assert.NoError(t, store.Close(ctx)) }()

		p := position.Position{Commit: 99, Prepare: 98}
		store.Set(ctx, p)

		eventStore.failRead.Store(true)
		assert.Equal(t, p, store.Get(ctx))
	})

	t.Run("undecodable record returns the cached position", func(t *testing.T) {
		eventStore := event.NewInMemoryStore()

		store := checkpoint.New(ctx, eventStore, streamID, eventType,
			checkpoint.WithFlushInterval(noTick),
			checkpoint.WithLogger(logger.NewTest(t)),
		)
		defer func() { assert.NoError(t, store.Close(ctx)) }()

		_, err := eventStore.Append(ctx, streamID, version.Any, event.NewRecord(eventType, []byte("garbage")))
		require.NoError(t, err)

		assert.Equal(t, position.Start, store.Get(ctx))
	})
}

func TestStore_PeriodicMode(t *testing.T) {
	ctx := context.Background()

	t.Run("positions set between ticks are coalesced", func(t *testing.T) {
		eventStore := event.NewTrackingEventStore(event.NewInMemoryStore())

		store := checkpoint.New(ctx, eventStore, streamID, eventType, checkpoint.WithFlushInterval(noTick))
		defer func() { assert.NoError(t, store.Close(ctx)) }()

		p1 := position.Position{Commit: 10, Prepare: 10}
		p2 := position.Position{Commit: 20, Prepare: 20}

		store.Set(ctx, p1)
		store.Set(ctx, p2)
		assert.True(t, store.Dirty())

		require.NoError(t, store.FlushIfDirty(ctx))

		recorded := eventStore.Recorded()
		require.Len(t, recorded, 2, "bootstrap record, then a single flush")

		p, err := position.JSONSerde.Deserialize(recorded[1].Data)
		require.NoError(t, err)
		assert.Equal(t, p2, p)

		records, err := eventStore.ReadBackward(ctx, streamID, version.SelectFromEnd, 20)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, p2, latest(t, eventStore))
	})

	t.Run("ticks with no new position do not append", func(t *testing.T) {
		eventStore := event.NewTrackingEventStore(event.NewInMemoryStore())

		store := checkpoint.New(ctx, eventStore, streamID, eventType, checkpoint.WithFlushInterval(noTick))
		defer func() { assert.NoError(t, store.Close(ctx)) }()

		appendsAfterBootstrap := eventStore.AppendCalls()

		store.Set(ctx, position.Position{Commit: 5, Prepare: 5})
		require.NoError(t, store.FlushIfDirty(ctx))
		require.NoError(t, store.FlushIfDirty(ctx))

		assert.Equal(t, appendsAfterBootstrap+1, eventStore.AppendCalls())
	})

	t.Run("timer persists the latest position", func(t *testing.T) {
		eventStore := event.NewInMemoryStore()
		appendCheckpoint(t, eventStore, position.Position{Commit: 42, Prepare: 42})

		store := checkpoint.New(ctx, eventStore, streamID, eventType,
			checkpoint.WithFlushInterval(50*time.Millisecond),
			checkpoint.WithLogger(logger.NewTest(t)),
		)
		defer func() { assert.NoError(t, store.Close(ctx)) }()

		assert.Equal(t, position.Position{Commit: 42, Prepare: 42}, store.Get(ctx))

		store.Set(ctx, position.Position{Commit: 43, Prepare: 43})
		time.Sleep(60 * time.Millisecond)
		require.NoError(t, store.FlushIfDirty(ctx))

		assert.Equal(t, position.Position{Commit: 43, Prepare: 43}, latest(t, eventStore))
		assert.Eventually(t, func() bool { return !store.Dirty() }, time.Second, 10*time.Millisecond)
	})

	t.Run("failed flushes are retried on the next tick", func(t *testing.T) {
		eventStore := newFaultyStore()

		store := checkpoint.New(ctx, eventStore, streamID, eventType, checkpoint.WithFlushInterval(noTick))
		defer func() { assert.NoError(t, store.Close(ctx)) }()

		p := position.Position{Commit: 7, Prepare: 7}
		store.Set(ctx, p)

		eventStore.failAppend.Store(true)

		err := store.FlushIfDirty(ctx)
		assert.ErrorIs(t, err, checkpoint.ErrFlush)
		assert.ErrorIs(t, err, errUnavailable)
		assert.True(t, store.Dirty())

		eventStore.failAppend.Store(false)

		require.NoError(t, store.FlushIfDirty(ctx))
		assert.False(t, store.Dirty())
		assert.Equal(t, p, latest(t, eventStore))
	})
}

func TestStore_Monotonic(t *testing.T) {
	ctx := context.Background()

	store := checkpoint.New(ctx, event.NewInMemoryStore(), streamID, eventType,
		checkpoint.WithFlushInterval(noTick),
		checkpoint.WithMonotonic(),
	)
	defer func() { assert.NoError(t, store.Close(ctx)) }()

	store.Set(ctx, position.Position{Commit: 10, Prepare: 10})
	store.Set(ctx, position.Position{Commit: 5, Prepare: 5})
	assert.Equal(t, position.Position{Commit: 10, Prepare: 10}, store.Position())

	store.Set(ctx, position.Position{Commit: 10, Prepare: 11})
	assert.Equal(t, position.Position{Commit: 10, Prepare: 11}, store.Position())

	// The persisted checkpoint is still Start: Get reports it,
	// but the current position does not move backwards.
	assert.Equal(t, position.Start, store.Get(ctx))
	assert.Equal(t, position.Position{Commit: 10, Prepare: 11}, store.Position())
	assert.True(t, store.Dirty())

	require.NoError(t, store.FlushIfDirty(ctx))
	assert.Equal(t, position.Position{Commit: 10, Prepare: 11}, store.Get(ctx))
}

func TestStore_Close(t *testing.T) {
	ctx := context.Background()

	t.Run("no flush happens after close", func(t *testing.T) {
		eventStore := event.NewTrackingEventStore(event.NewInMemoryStore())

		store := checkpoint.New(ctx, eventStore, streamID, eventType, checkpoint.WithFlushInterval(5*time.Millisecond))
		require.NoError(t, store.Close(ctx))
		require.NoError(t, store.Close(ctx))

		appends := eventStore.AppendCalls()

		store.Set(ctx, position.Position{Commit: 3, Prepare: 3})
		time.Sleep(30 * time.Millisecond)

		assert.Equal(t, appends, eventStore.AppendCalls())
		assert.Equal(t, position.Position{Commit: 3, Prepare: 3}, store.Position())
	})

	t.Run("synchronous set does not flush after close", func(t *testing.T) {
		eventStore := event.NewTrackingEventStore(event.NewInMemoryStore())

		store := checkpoint.New(ctx, eventStore, streamID, eventType, checkpoint.WithFlushInterval(0))
		require.NoError(t, store.Close(ctx))

		store.Set(ctx, position.Position{Commit: 3, Prepare: 3})
		assert.Equal(t, 1, eventStore.AppendCalls())
	})

	t.Run("flush on close persists the dirty position", func(t *testing.T) {
		eventStore := event.NewInMemoryStore()

		store := checkpoint.New(ctx, eventStore, streamID, eventType,
			checkpoint.WithFlushInterval(noTick),
			checkpoint.WithFlushOnClose(),
		)

		store.Set(ctx, position.Position{Commit: 8, Prepare: 8})
		require.NoError(t, store.Close(ctx))

		assert.Equal(t, position.Position{Commit: 8, Prepare: 8}, latest(t, eventStore))
	})
}

func TestStore_ConcurrentSet(t *testing.T) {
	ctx := context.Background()
	eventStore := event.NewInMemoryStore()

	store := checkpoint.New(ctx, eventStore, streamID, eventType, checkpoint.WithFlushInterval(time.Millisecond))

	group, groupCtx := errgroup.WithContext(ctx)

	for i := 1; i <= 8; i++ {
		group.Go(func() error {
			for j := 1; j <= 50; j++ {
				store.Set(groupCtx, position.Position{Commit: uint64(i * j), Prepare: uint64(i)})
				_ = store.Get(groupCtx)
			}

			return nil
		})
	}

	require.NoError(t, group.Wait())

	final := position.Position{Commit: 1_000_000, Prepare: 1_000_000}
	store.Set(ctx, final)
	require.NoError(t, store.Close(ctx))
	require.NoError(t, store.FlushIfDirty(ctx))

	assert.Equal(t, final, latest(t, eventStore))
}

type recordingObserver struct {
	mx      sync.Mutex
	flushes []error
	reads   []error
}

func (o *recordingObserver) FlushCompleted(_ context.Context, _ position.Position, err error) {
	o.mx.Lock()
	defer o.mx.Unlock()

	o.flushes = append(o.flushes, err)
}

func (o *recordingObserver) ReadCompleted(_ context.Context, _ position.Position, err error) {
	o.mx.Lock()
	defer o.mx.Unlock()

	o.reads = append(o.reads, err)
}

func TestStore_Observer(t *testing.T) {
	ctx := context.Background()
	eventStore := newFaultyStore()
	observer := new(recordingObserver)

	store := checkpoint.New(ctx, eventStore, streamID, eventType,
		checkpoint.WithFlushInterval(0),
		checkpoint.WithObserver(observer),
	)
	defer func() { assert.NoError(t, store.Close(ctx)) }()

	store.Set(ctx, position.Position{Commit: 1})
	_ = store.Get(ctx)

	eventStore.failAppend.Store(true)
	eventStore.failRead.Store(true)

	store.Set(ctx, position.Position{Commit: 2})
	_ = store.Get(ctx)

	observer.mx.Lock()
	defer observer.mx.Unlock()

	require.Len(t, observer.flushes, 3, "bootstrap flush, then two Set calls")
	assert.NoError(t, observer.flushes[0])
	assert.NoError(t, observer.flushes[1])
	assert.ErrorIs(t, observer.flushes[2], checkpoint.ErrFlush)

	require.Len(t, observer.reads, 2)
	assert.NoError(t, observer.reads[0])
	assert.ErrorIs(t, observer.reads[1], checkpoint.ErrRead)
}

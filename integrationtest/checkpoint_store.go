package integrationtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/get-eventually/go-checkpoint/checkpoint"
	"github.com/get-eventually/go-checkpoint/event"
	"github.com/get-eventually/go-checkpoint/logger"
	"github.com/get-eventually/go-checkpoint/position"
	"github.com/get-eventually/go-checkpoint/version"
)

const checkpointEventType = "$checkpoint"

// CheckpointStore returns an executable testing suite running a checkpoint.Store
// on top of the event.Store value provided in input.
func CheckpointStore(eventStore event.Store) func(t *testing.T) {
	return func(t *testing.T) {
		ctx := context.Background()

		t.Run("synchronous set is immediately readable", func(t *testing.T) {
			id := newStreamID("$checkpoint-sync")

			store := checkpoint.New(ctx, eventStore, id, checkpointEventType,
				checkpoint.WithFlushInterval(0),
				checkpoint.WithLogger(logger.NewTest(t)),
			)
			defer func() { assert.NoError(t, store.Close(ctx)) }()

			assert.Equal(t, position.Start, store.Get(ctx))

			for i := uint64(1); i <= 3; i++ {
				p := position.Position{Commit: i * 100, Prepare: i * 100}

				store.Set(ctx, p)
				assert.Equal(t, p, store.Get(ctx))
			}

			records, err := eventStore.ReadBackward(ctx, id, version.SelectFromEnd, 20)
			require.NoError(t, err)
			assert.Len(t, records, 1)
		})

		t.Run("restarted store resumes from the last checkpoint", func(t *testing.T) {
			id := newStreamID("$checkpoint-restart")
			p := position.Position{Commit: 4096, Prepare: 4000}

			first := checkpoint.New(ctx, eventStore, id, checkpointEventType,
				checkpoint.WithFlushInterval(time.Hour),
				checkpoint.WithFlushOnClose(),
			)

			first.Set(ctx, p)
			require.NoError(t, first.Close(ctx))

			second := checkpoint.New(ctx, eventStore, id, checkpointEventType,
				checkpoint.WithFlushInterval(time.Hour),
			)
			defer func() { assert.NoError(t, second.Close(ctx)) }()

			assert.Equal(t, p, second.Position())
			assert.Equal(t, p, second.Get(ctx))
		})

		t.Run("periodic flush writes the latest position only", func(t *testing.T) {
			id := newStreamID("$checkpoint-periodic")

			store := checkpoint.New(ctx, eventStore, id, checkpointEventType,
				checkpoint.WithFlushInterval(50*time.Millisecond),
				checkpoint.WithLogger(logger.NewTest(t)),
			)
			defer func() { assert.NoError(t, store.Close(ctx)) }()

			store.Set(ctx, position.Position{Commit: 1, Prepare: 1})
			store.Set(ctx, position.Position{Commit: 2, Prepare: 2})

			assert.Eventually(t, func() bool { return !store.Dirty() }, 5*time.Second, 10*time.Millisecond)
			assert.Equal(t, position.Position{Commit: 2, Prepare: 2}, store.Get(ctx))
		})
	}
}

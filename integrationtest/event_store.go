package integrationtest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/get-eventually/go-checkpoint/event"
	"github.com/get-eventually/go-checkpoint/version"
)

func newStreamID(prefix string) event.StreamID {
	return event.StreamID(fmt.Sprintf("%s-%s", prefix, uuid.NewString()))
}

func payload(i int) event.Record {
	return event.NewRecord("test-record", []byte(fmt.Sprintf(`{"n":%d}`, i)))
}

// EventStore returns an executable testing suite running on the event.Store
// value provided in input.
//
//nolint:funlen // A test suite is long by nature.
func EventStore(eventStore event.Store) func(t *testing.T) {
	return func(t *testing.T) {
		ctx := context.Background()

		t.Run("reading a missing stream returns no records", func(t *testing.T) {
			records, err := eventStore.ReadBackward(ctx, newStreamID("missing"), version.SelectFromEnd, 10)
			require.NoError(t, err)
			assert.Empty(t, records)

			metadata, err := eventStore.StreamMetadata(ctx, newStreamID("missing"))
			require.NoError(t, err)
			assert.Zero(t, metadata)
		})

		t.Run("selectors beyond the end version read from the newest record", func(t *testing.T) {
			id := newStreamID("beyond-end")

			_, err := eventStore.Append(ctx, id, version.Any, payload(1), payload(2))
			require.NoError(t, err)

			records, err := eventStore.ReadBackward(ctx, id, version.Selector{From: version.End + 1}, 20)
			require.NoError(t, err)
			require.Len(t, records, 2)
			assert.Equal(t, version.Version(2), records[0].Version)
		})

		t.Run("reading with a non-positive max count returns no records", func(t *testing.T) {
			id := newStreamID("no-count")

			_, err := eventStore.Append(ctx, id, version.Any, payload(1))
			require.NoError(t, err)

			for _, maxCount := range []int{0, -1} {
				records, err := eventStore.ReadBackward(ctx, id, version.SelectFromEnd, maxCount)
				require.NoError(t, err)
				assert.Empty(t, records)
			}
		})

		t.Run("append works when used with version.CheckAny", func(t *testing.T) {
			id := newStreamID("any")

			newVersion, err := eventStore.Append(ctx, id, version.Any, payload(1), payload(2))
			require.NoError(t, err)
			assert.Equal(t, version.Version(2), newVersion)

			newVersion, err = eventStore.Append(ctx, id, version.Any, payload(3))
			require.NoError(t, err)
			assert.Equal(t, version.Version(3), newVersion)
		})

		t.Run("append fails on version conflict", func(t *testing.T) {
			id := newStreamID("exact")

			_, err := eventStore.Append(ctx, id, version.CheckExact(0), payload(1))
			require.NoError(t, err)

			_, err = eventStore.Append(ctx, id, version.CheckExact(0), payload(2))

			var conflictErr version.ConflictError

			require.True(t, errors.As(err, &conflictErr), "expected a conflict error, got: %v", err)
			assert.Equal(t, version.ConflictError{Expected: 0, Actual: 1}, conflictErr)
		})

		t.Run("read backward returns newest records first", func(t *testing.T) {
			id := newStreamID("backward")
			expected := []event.Record{payload(1), payload(2), payload(3)}

			_, err := eventStore.Append(ctx, id, version.Any, expected...)
			require.NoError(t, err)

			records, err := eventStore.ReadBackward(ctx, id, version.SelectFromEnd, 2)
			require.NoError(t, err)
			require.Len(t, records, 2)

			assert.Equal(t, version.Version(3), records[0].Version)
			assert.Equal(t, expected[2], records[0].Record)
			assert.Equal(t, id, records[0].StreamID)
			assert.Equal(t, version.Version(2), records[1].Version)
			assert.Equal(t, expected[1], records[1].Record)

			records, err = eventStore.ReadBackward(ctx, id, version.Selector{From: 1}, 10)
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, expected[0], records[0].Record)
		})

		t.Run("max count metadata caps the stream", func(t *testing.T) {
			id := newStreamID("capped")
			metadata := event.StreamMetadata{MaxCount: 1}

			require.NoError(t, eventStore.SetStreamMetadata(ctx, id, metadata))
			require.NoError(t, eventStore.SetStreamMetadata(ctx, id, metadata))

			actual, err := eventStore.StreamMetadata(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, metadata, actual)

			for i := 1; i <= 3; i++ {
				newVersion, err := eventStore.Append(ctx, id, version.Any, payload(i))
				require.NoError(t, err)
				assert.Equal(t, version.Version(i), newVersion)
			}

			records, err := eventStore.ReadBackward(ctx, id, version.SelectFromEnd, 20)
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, version.Version(3), records[0].Version)
			assert.Equal(t, payload(3).Data, records[0].Data)
		})

		t.Run("max count metadata applies to already existing records", func(t *testing.T) {
			id := newStreamID("capped-later")

			_, err := eventStore.Append(ctx, id, version.Any, payload(1), payload(2), payload(3))
			require.NoError(t, err)

			require.NoError(t, eventStore.SetStreamMetadata(ctx, id, event.StreamMetadata{MaxCount: 2}))

			records, err := eventStore.ReadBackward(ctx, id, version.SelectFromEnd, 20)
			require.NoError(t, err)
			require.Len(t, records, 2)
			assert.Equal(t, version.Version(3), records[0].Version)
			assert.Equal(t, version.Version(2), records[1].Version)
		})

		t.Run("concurrent appends with version.Any are all committed", func(t *testing.T) {
			id := newStreamID("concurrent")
			group, groupCtx := errgroup.WithContext(ctx)

			const writers = 8

			for i := 0; i < writers; i++ {
				group.Go(func() error {
					_, err := eventStore.Append(groupCtx, id, version.Any, payload(i))
					return err
				})
			}

			require.NoError(t, group.Wait())

			records, err := eventStore.ReadBackward(ctx, id, version.SelectFromEnd, 2*writers)
			require.NoError(t, err)
			assert.Len(t, records, writers)
			assert.Equal(t, version.Version(writers), records[0].Version)
		})
	}
}

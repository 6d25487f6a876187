package event_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/get-eventually/go-checkpoint/event"
	"github.com/get-eventually/go-checkpoint/version"
)

func TestTrackingEventStore(t *testing.T) {
	ctx := context.Background()
	id := event.StreamID("tracked")
	store := event.NewTrackingEventStore(event.NewInMemoryStore())

	_, err := store.Append(ctx, id, version.Any, event.NewRecord("test", []byte("1")))
	require.NoError(t, err)

	_, err = store.Append(ctx, id, version.CheckExact(0), event.NewRecord("test", []byte("2")))

	var conflictErr version.ConflictError
	require.True(t, errors.As(err, &conflictErr))

	_, err = store.Append(ctx, id, version.CheckExact(1), event.NewRecord("test", []byte("2")))
	require.NoError(t, err)

	recorded := store.Recorded()
	require.Len(t, recorded, 2)
	assert.Equal(t, 3, store.AppendCalls())
	assert.Equal(t, version.Version(1), recorded[0].Version)
	assert.Equal(t, version.Version(2), recorded[1].Version)
	assert.Equal(t, []byte("2"), recorded[1].Data)
}

func TestStreamMetadataRetainedFrom(t *testing.T) {
	assert.Equal(t, version.Version(1), event.StreamMetadata{}.RetainedFrom(10))
	assert.Equal(t, version.Version(1), event.StreamMetadata{MaxCount: 5}.RetainedFrom(3))
	assert.Equal(t, version.Version(10), event.StreamMetadata{MaxCount: 1}.RetainedFrom(10))
	assert.Equal(t, version.Version(8), event.StreamMetadata{MaxCount: 3}.RetainedFrom(10))
}

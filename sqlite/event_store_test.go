package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/get-eventually/go-checkpoint/integrationtest"
	"github.com/get-eventually/go-checkpoint/sqlite"
)

func openEventStore(t *testing.T) sqlite.EventStore {
	t.Helper()

	eventStore, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)

	t.Cleanup(func() { assert.NoError(t, eventStore.Close()) })

	return eventStore
}

func TestEventStore(t *testing.T) {
	integrationtest.EventStore(openEventStore(t))(t)
}

func TestCheckpointStore(t *testing.T) {
	integrationtest.CheckpointStore(openEventStore(t))(t)
}

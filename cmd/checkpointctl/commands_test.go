package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func execute(t *testing.T, app *app, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	cmd := newRootCommand(app)
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)

	err := cmd.ExecuteContext(context.Background())

	return out.String(), err
}

func TestCommands(t *testing.T) {
	for _, flushInterval := range []time.Duration{0, time.Hour} {
		t.Run("flush interval "+flushInterval.String(), func(t *testing.T) {
			app := &app{
				logger: zaptest.NewLogger(t),
				config: &config{
					Backend:       backendSQLite,
					DSN:           filepath.Join(t.TempDir(), "checkpoints.db"),
					Stream:        "checkpointctl-test",
					EventType:     "Checkpoint",
					FlushInterval: flushInterval,
				},
			}

			out, err := execute(t, app, "get")
			require.NoError(t, err)
			assert.Equal(t, "C:0/P:0\n", out)

			out, err = execute(t, app, "set", "C:42/P:40")
			require.NoError(t, err)
			assert.Equal(t, "C:42/P:40\n", out)

			out, err = execute(t, app, "get")
			require.NoError(t, err)
			assert.Equal(t, "C:42/P:40\n", out)

			out, err = execute(t, app, "metadata")
			require.NoError(t, err)
			assert.Equal(t, "max count: 1\n", out)

			_, err = execute(t, app, "reset")
			require.NoError(t, err)

			out, err = execute(t, app, "get")
			require.NoError(t, err)
			assert.Equal(t, "C:0/P:0\n", out)
		})
	}

	t.Run("invalid positions are rejected", func(t *testing.T) {
		app := &app{
			logger: zaptest.NewLogger(t),
			config: &config{Backend: backendMemory, Stream: "checkpoint", EventType: "Checkpoint"},
		}

		_, err := execute(t, app, "set", "not-a-position")
		assert.Error(t, err)
	})

	t.Run("migrate requires the postgres backend", func(t *testing.T) {
		app := &app{
			logger: zaptest.NewLogger(t),
			config: &config{Backend: backendMemory, Stream: "checkpoint"},
		}

		_, err := execute(t, app, "migrate")
		assert.Error(t, err)
	})
}

package position_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/get-eventually/go-checkpoint/position"
)

func TestCompare(t *testing.T) {
	testCases := []struct {
		name     string
		a, b     position.Position
		expected int
	}{
		{"same position", position.Position{Commit: 10, Prepare: 8}, position.Position{Commit: 10, Prepare: 8}, 0},
		{"lower commit", position.Position{Commit: 9, Prepare: 100}, position.Position{Commit: 10, Prepare: 8}, -1},
		{"higher commit", position.Position{Commit: 11}, position.Position{Commit: 10, Prepare: 8}, 1},
		{"same commit, lower prepare", position.Position{Commit: 10, Prepare: 7}, position.Position{Commit: 10, Prepare: 8}, -1},
		{"start before end", position.Start, position.End, -1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.a.Compare(tc.b))
			assert.Equal(t, tc.expected < 0, tc.a.Less(tc.b))
		})
	}
}

func TestParse(t *testing.T) {
	p := position.Position{Commit: 1024, Prepare: 1000}

	parsed, err := position.Parse(p.String())
	require.NoError(t, err)
	assert.Equal(t, p, parsed)

	_, err = position.Parse("42")
	assert.Error(t, err)
}

func TestJSONSerde(t *testing.T) {
	p := position.Position{Commit: 42, Prepare: 40}

	data, err := position.JSONSerde.Serialize(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":1,"commit_position":42,"prepare_position":40}`, string(data))

	t.Run("legacy documents without version marker are accepted", func(t *testing.T) {
		got, err := position.JSONSerde.Deserialize([]byte(`{"commit_position":42,"prepare_position":40}`))
		require.NoError(t, err)
		assert.Equal(t, p, got)
	})

	t.Run("unknown versions are rejected", func(t *testing.T) {
		_, err := position.JSONSerde.Deserialize([]byte(`{"version":2,"commit_position":42}`))
		assert.ErrorContains(t, err, "unsupported schema version")
	})

	t.Run("garbage is rejected", func(t *testing.T) {
		_, err := position.JSONSerde.Deserialize([]byte(`not json`))
		assert.Error(t, err)
	})
}

func TestProtoSerde(t *testing.T) {
	for _, p := range []position.Position{position.Start, {Commit: 43, Prepare: 41}, position.End} {
		data, err := position.ProtoSerde.Serialize(p)
		require.NoError(t, err)

		got, err := position.ProtoSerde.Deserialize(data)
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
}

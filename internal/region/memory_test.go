package region

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocalVersion(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	t.Run("absent row returns nil, nil", func(t *testing.T) {
		v, err := m.LocalVersion(ctx, "region-1", "users", "1")
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("apply then read", func(t *testing.T) {
		require.NoError(t, m.Apply(ctx, "region-1", "users", "1", map[string]any{"name": "alice"}))

		v, err := m.LocalVersion(ctx, "region-1", "users", "1")
		require.NoError(t, err)
		require.NotNil(t, v)
		assert.Equal(t, "region-1", v.RegionID)
		assert.Equal(t, "alice", v.Data["name"])
		assert.NotEmpty(t, v.Checksum)
		assert.Equal(t, int64(1), v.VectorClock.Get("region-1"))
	})

	t.Run("second apply advances the clock", func(t *testing.T) {
		require.NoError(t, m.Apply(ctx, "region-1", "users", "1", map[string]any{"name": "bob"}))

		v, err := m.LocalVersion(ctx, "region-1", "users", "1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), v.VectorClock.Get("region-1"))
	})
}

func TestMemoryTablesAndSnapshot(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Apply(ctx, "region-1", "users", "1", map[string]any{"name": "alice"}))
	require.NoError(t, m.Apply(ctx, "region-1", "users", "2", map[string]any{"name": "bob"}))
	require.NoError(t, m.Apply(ctx, "region-1", "orders", "o-1", map[string]any{"total": 10}))

	tables, err := m.Tables(ctx, "region-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "users"}, tables, "sorted")

	snap, err := m.Snapshot(ctx, "region-1", "users")
	require.NoError(t, err)
	assert.Len(t, snap, 2)
	assert.Equal(t, "alice", snap["1"]["name"])

	empty, err := m.Snapshot(ctx, "region-2", "users")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

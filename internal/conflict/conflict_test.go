package conflict

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turbolytics/georep/internal/cdc"
	"github.com/turbolytics/georep/internal/config"
	"github.com/turbolytics/georep/internal/metrics"
	"github.com/turbolytics/georep/internal/region"
	"github.com/turbolytics/georep/internal/vclock"
)

func seedLocalVersion(adapter *region.Memory, clock vclock.Clock, ts time.Time) {
	adapter.Put("region-2", "users", "42", &region.DataVersion{
		RegionID:    "region-2",
		Timestamp:   ts,
		Data:        map[string]any{"name": "local", "age": 30},
		Checksum:    "local-checksum",
		VectorClock: clock,
	})
}

func incomingEvent(ts time.Time) cdc.Event {
	return cdc.Event{
		ID:           "evt-1",
		Timestamp:    ts,
		Type:         cdc.OpUpdate,
		SourceRegion: "region-1",
		Table:        "users",
		PrimaryKey:   "42",
		After:        map[string]any{"name": "remote", "age": 31},
	}
}

func TestIsConflicting(t *testing.T) {
	a := vclock.Clock{"region-1": 2, "region-2": 1}
	b := vclock.Clock{"region-1": 1, "region-2": 2}

	assert.True(t, IsConflicting(a, b))
	assert.True(t, IsConflicting(b, a), "symmetric")
	assert.False(t, IsConflicting(a, a.Clone()), "equal clocks")
	assert.False(t, IsConflicting(vclock.Clock{"region-1": 3, "region-2": 2}, b), "dominating clock")
}

func TestDetect(t *testing.T) {
	ctx := context.Background()

	t.Run("no local version means first write, no conflict", func(t *testing.T) {
		r := New(metrics.New())
		record, err := r.Detect(ctx, incomingEvent(time.Now()), "region-2", region.NewMemory(), vclock.Clock{"region-1": 1})
		require.NoError(t, err)
		assert.Nil(t, record)
	})

	t.Run("dominated clock is not a conflict", func(t *testing.T) {
		adapter := region.NewMemory()
		seedLocalVersion(adapter, vclock.Clock{"region-1": 1, "region-2": 1}, time.Now())

		r := New(metrics.New())
		record, err := r.Detect(ctx, incomingEvent(time.Now()), "region-2", adapter,
			vclock.Clock{"region-1": 2, "region-2": 1})
		require.NoError(t, err)
		assert.Nil(t, record)
	})

	t.Run("concurrent clocks produce a record", func(t *testing.T) {
		adapter := region.NewMemory()
		seedLocalVersion(adapter, vclock.Clock{"region-1": 2, "region-2": 1}, time.Now())

		m := metrics.New()
		r := New(m)
		record, err := r.Detect(ctx, incomingEvent(time.Now()), "region-2", adapter,
			vclock.Clock{"region-1": 1, "region-2": 2})
		require.NoError(t, err)
		require.NotNil(t, record)

		assert.Equal(t, "users", record.Table)
		assert.Equal(t, "42", record.PrimaryKey)
		assert.Equal(t, "region-2", record.Local.RegionID)
		assert.Equal(t, "region-1", record.Remote.RegionID)
		assert.Equal(t, map[string]any{"name": "remote", "age": 31}, record.Remote.Data)
		assert.NotEmpty(t, record.Remote.Checksum)
		assert.Equal(t, int64(1), m.Snapshot().ConflictsDetected)
		assert.Len(t, r.Pending(), 1)
	})
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	detect := func(t *testing.T, r *Resolver, localTS, remoteTS time.Time) *Record {
		t.Helper()
		adapter := region.NewMemory()
		seedLocalVersion(adapter, vclock.Clock{"region-1": 2, "region-2": 1}, localTS)
		record, err := r.Detect(ctx, incomingEvent(remoteTS), "region-2", adapter,
			vclock.Clock{"region-1": 1, "region-2": 2})
		require.NoError(t, err)
		require.NotNil(t, record)
		return record
	}

	t.Run("unknown id", func(t *testing.T) {
		r := New(metrics.New())
		_, err := r.Resolve("missing-id")
		require.Error(t, err)
		assert.EqualError(t, err, "conflict missing-id not found")
	})

	t.Run("last-write-wins remote newer", func(t *testing.T) {
		m := metrics.New()
		r := New(m)
		now := time.Now()
		record := detect(t, r, now.Add(-time.Second), now)

		res, err := r.Resolve(record.ID)
		require.NoError(t, err)
		assert.Equal(t, WinnerRemote, res.Winner)
		assert.Equal(t, map[string]any{"name": "remote", "age": 31}, res.MergedData)
		assert.Equal(t, int64(1), m.Snapshot().ConflictsResolved)
		assert.Empty(t, r.Pending())
		assert.Len(t, r.All(), 1, "record moved to history")
	})

	t.Run("last-write-wins local newer", func(t *testing.T) {
		r := New(metrics.New())
		now := time.Now()
		record := detect(t, r, now, now.Add(-time.Second))

		res, err := r.Resolve(record.ID)
		require.NoError(t, err)
		assert.Equal(t, WinnerLocal, res.Winner)
		assert.Equal(t, map[string]any{"name": "local", "age": 30}, res.MergedData)
	})

	t.Run("merge strategy", func(t *testing.T) {
		r := New(metrics.New(), WithStrategy(config.StrategyMerge))
		now := time.Now()
		record := detect(t, r, now, now)

		res, err := r.Resolve(record.ID)
		require.NoError(t, err)
		assert.Equal(t, WinnerMerged, res.Winner)
		assert.Equal(t, map[string]any{"name": "remote", "age": 31}, res.MergedData)
	})

	t.Run("custom strategy dispatches per table", func(t *testing.T) {
		r := New(metrics.New(), WithStrategy(config.StrategyCustom))
		r.RegisterResolver("users", func(record Record) (Resolution, error) {
			return Resolution{
				Strategy:   config.StrategyCustom,
				Winner:     WinnerLocal,
				MergedData: record.Local.Data,
				Reason:     "users always keep the local copy",
			}, nil
		})
		assert.True(t, r.HasResolver("users"))
		assert.False(t, r.HasResolver("orders"))

		now := time.Now()
		record := detect(t, r, now.Add(-time.Second), now)

		res, err := r.Resolve(record.ID)
		require.NoError(t, err)
		assert.Equal(t, config.StrategyCustom, res.Strategy)
		assert.Equal(t, WinnerLocal, res.Winner)
	})

	t.Run("custom strategy without resolver falls back to last-write-wins", func(t *testing.T) {
		r := New(metrics.New(), WithStrategy(config.StrategyCustom))
		now := time.Now()
		record := detect(t, r, now.Add(-time.Second), now)

		res, err := r.Resolve(record.ID)
		require.NoError(t, err)
		assert.Equal(t, config.StrategyLastWriteWins, res.Strategy)
		assert.Equal(t, WinnerRemote, res.Winner)
		assert.Contains(t, res.Reason, "no custom resolver registered")
	})
}

func TestResolveLastWriteWinsTieBreak(t *testing.T) {
	now := time.Now()
	record := Record{
		Local: region.DataVersion{
			RegionID:  "region-1",
			Timestamp: now,
			Data:      map[string]any{"side": "local"},
		},
		Remote: region.DataVersion{
			RegionID:  "region-2",
			Timestamp: now,
			Data:      map[string]any{"side": "remote"},
		},
	}

	res := ResolveLastWriteWins(record)
	assert.Equal(t, WinnerRemote, res.Winner, "greater region id wins ties")

	record.Local.RegionID, record.Remote.RegionID = "region-2", "region-1"
	res = ResolveLastWriteWins(record)
	assert.Equal(t, WinnerLocal, res.Winner)
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	r := New(metrics.New(), WithStrategy(config.StrategyMerge))
	r.RegisterResolver("users", func(record Record) (Resolution, error) {
		return Resolution{}, nil
	})

	adapter := region.NewMemory()
	seedLocalVersion(adapter, vclock.Clock{"region-1": 2, "region-2": 1}, time.Now())
	_, err := r.Detect(ctx, incomingEvent(time.Now()), "region-2", adapter,
		vclock.Clock{"region-1": 1, "region-2": 2})
	require.NoError(t, err)

	r.Cleanup()

	assert.Empty(t, r.Pending())
	assert.Empty(t, r.All())
	assert.False(t, r.HasResolver("users"))
}

package lag

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/turbolytics/georep/internal/config"
	"github.com/turbolytics/georep/internal/events"
	"github.com/turbolytics/georep/internal/metrics"
	"github.com/turbolytics/georep/internal/stream"
)

func monitorConfig() *config.Replication {
	return &config.Replication{
		ID:             "repl-1",
		Name:           "orders",
		LagToleranceMs: 1000,
		Alerting: config.Alerting{
			Enabled:        true,
			LagThresholdMs: 2000,
			CooldownMs:     60000,
		},
	}
}

// pinned returns a monitor whose clock is frozen at now.
func pinned(t *testing.T, now time.Time) *Monitor {
	t.Helper()
	m := New()
	m.now = func() time.Time { return now }
	m.SetConfig(monitorConfig())
	return m
}

func streamWithEventAt(source, target string, at time.Time) *stream.Stream {
	s := stream.New(source, target, zap.NewNop())
	if !at.IsZero() {
		s.Touch(at)
	}
	return s
}

func TestReplicationLagRequiresConfig(t *testing.T) {
	m := New()
	_, err := m.ReplicationLag(nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestRegionLagClassification(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		lag     time.Duration
		want    Status
		wantLag int64
	}{
		{"at zero", 0, StatusHealthy, 0},
		{"within tolerance", 500 * time.Millisecond, StatusHealthy, 500},
		{"at tolerance boundary", 1000 * time.Millisecond, StatusHealthy, 1000},
		{"between 1x and 2x", 1500 * time.Millisecond, StatusDegraded, 1500},
		{"at 2x boundary", 2000 * time.Millisecond, StatusDegraded, 2000},
		{"beyond 2x", 3000 * time.Millisecond, StatusCritical, 3000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := pinned(t, now)
			streams := []*stream.Stream{
				streamWithEventAt("region-1", "region-2", now.Add(-tt.lag)),
			}

			info := m.RegionLag("region-2", streams)
			assert.Equal(t, tt.wantLag, info.LagMs)
			assert.Equal(t, tt.want, info.Status)
		})
	}
}

func TestRegionLagNoEventsYet(t *testing.T) {
	m := pinned(t, time.Now())
	streams := []*stream.Stream{
		streamWithEventAt("region-1", "region-2", time.Time{}),
	}

	info := m.RegionLag("region-2", streams)
	assert.Equal(t, int64(0), info.LagMs)
	assert.Equal(t, StatusHealthy, info.Status)
	assert.True(t, info.LastSyncTimestamp.IsZero())
}

func TestRegionLagUsesFreshestStream(t *testing.T) {
	now := time.Now()
	m := pinned(t, now)
	streams := []*stream.Stream{
		streamWithEventAt("region-1", "region-3", now.Add(-5*time.Second)),
		streamWithEventAt("region-2", "region-3", now.Add(-1*time.Second)),
	}

	info := m.RegionLag("region-3", streams)
	assert.Equal(t, int64(1000), info.LagMs)
}

func TestReplicationLagCoversEachTargetOnce(t *testing.T) {
	now := time.Now()
	m := pinned(t, now)
	streams := []*stream.Stream{
		streamWithEventAt("region-1", "region-2", now),
		streamWithEventAt("region-2", "region-1", now),
		streamWithEventAt("region-3", "region-2", now),
	}

	infos, err := m.ReplicationLag(streams)
	require.NoError(t, err)
	assert.Len(t, infos, 2)
}

func TestCheckAlerts(t *testing.T) {
	t.Run("disabled alerting is a no-op", func(t *testing.T) {
		m := New()
		cfg := monitorConfig()
		cfg.Alerting.Enabled = false
		m.SetConfig(cfg)

		assert.False(t, m.CheckAlerts(Info{RegionID: "region-2", LagMs: 10000}))
	})

	t.Run("below threshold is suppressed", func(t *testing.T) {
		m := pinned(t, time.Now())
		assert.False(t, m.CheckAlerts(Info{RegionID: "region-2", LagMs: 1500}))
	})

	t.Run("emits at most one alert per cooldown window", func(t *testing.T) {
		now := time.Now()
		bus := events.NewBus()
		var alerts []events.Event
		bus.Subscribe(events.KindAlert, func(ev events.Event) { alerts = append(alerts, ev) })

		m := New(WithBus(bus))
		m.now = func() time.Time { return now }
		m.SetConfig(monitorConfig())

		info := Info{RegionID: "region-2", LagMs: 5000, Status: StatusCritical}
		assert.True(t, m.CheckAlerts(info))
		assert.False(t, m.CheckAlerts(info))
		assert.False(t, m.CheckAlerts(info))
		require.Len(t, alerts, 1)
		assert.Equal(t, "replication_lag", alerts[0].Fields["type"])
		assert.Equal(t, "region-2", alerts[0].Fields["region_id"])

		// cooldown elapsed, next alert flows
		m.now = func() time.Time { return now.Add(61 * time.Second) }
		assert.True(t, m.CheckAlerts(info))
		assert.Len(t, alerts, 2)
	})

	t.Run("cooldowns are per region", func(t *testing.T) {
		m := pinned(t, time.Now())
		assert.True(t, m.CheckAlerts(Info{RegionID: "region-2", LagMs: 5000}))
		assert.True(t, m.CheckAlerts(Info{RegionID: "region-3", LagMs: 5000}))
	})
}

func TestUpdateMetrics(t *testing.T) {
	now := time.Now()
	m := pinned(t, now)
	shared := metrics.New()

	streams := []*stream.Stream{
		streamWithEventAt("region-1", "region-2", now.Add(-1*time.Second)),
		streamWithEventAt("region-1", "region-3", now.Add(-3*time.Second)),
	}

	require.NoError(t, m.UpdateMetrics(shared, streams))
	assert.Equal(t, int64(2000), shared.Snapshot().AverageLagMs)
}

func TestCleanup(t *testing.T) {
	m := pinned(t, time.Now())
	assert.True(t, m.CheckAlerts(Info{RegionID: "region-2", LagMs: 5000}))

	m.Cleanup()

	_, err := m.ReplicationLag(nil)
	assert.ErrorIs(t, err, ErrNotConfigured, "config cleared")

	m.SetConfig(monitorConfig())
	assert.True(t, m.CheckAlerts(Info{RegionID: "region-2", LagMs: 5000}), "cooldown state cleared")
}

package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New()

	m.IncrEventsProcessed()
	m.IncrEventsProcessed()
	m.AddBytesReplicated(512)
	m.IncrConflictsDetected()
	m.IncrConflictsResolved()
	m.IncrErrors()
	m.SetAverageLagMs(250)

	stats := m.Snapshot()
	assert.Equal(t, int64(2), stats.TotalEventsProcessed)
	assert.Equal(t, int64(512), stats.BytesReplicated)
	assert.Equal(t, int64(1), stats.ConflictsDetected)
	assert.Equal(t, int64(1), stats.ConflictsResolved)
	assert.Equal(t, int64(1), stats.ErrorsCount)
	assert.Equal(t, int64(250), stats.AverageLagMs)
	assert.False(t, stats.LastHeartbeat.IsZero())
}

func TestReset(t *testing.T) {
	m := New()
	m.IncrEventsProcessed()
	m.IncrErrors()

	m.Reset()

	stats := m.Snapshot()
	assert.Equal(t, int64(0), stats.TotalEventsProcessed)
	assert.Equal(t, int64(0), stats.ErrorsCount)
	assert.True(t, stats.LastHeartbeat.IsZero())
}

func TestConcurrentWriters(t *testing.T) {
	m := New()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.IncrEventsProcessed()
				m.AddBytesReplicated(1)
			}
		}()
	}
	wg.Wait()

	stats := m.Snapshot()
	assert.Equal(t, int64(1000), stats.TotalEventsProcessed)
	assert.Equal(t, int64(1000), stats.BytesReplicated)
}

// Package metrics holds the shared counters record updated by the engine,
// the conflict resolver and the lag monitor. One instance per engine; all
// components write through the same handle so the counters stay
// consistent.
package metrics

import (
	"sync"
	"time"
)

// Stats is a point-in-time snapshot of the live counters.
type Stats struct {
	TotalEventsProcessed int64     `json:"total_events_processed"`
	EventsPerSecond      float64   `json:"events_per_second"`
	BytesReplicated      int64     `json:"bytes_replicated"`
	ConflictsDetected    int64     `json:"conflicts_detected"`
	ConflictsResolved    int64     `json:"conflicts_resolved"`
	ErrorsCount          int64     `json:"errors_count"`
	AverageLagMs         int64     `json:"average_lag_ms"`
	UptimeSeconds        int64     `json:"uptime_seconds"`
	LastHeartbeat        time.Time `json:"last_heartbeat"`
}

// Metrics is the mutable counters record.
type Metrics struct {
	mu sync.Mutex

	totalEventsProcessed int64
	bytesReplicated      int64
	conflictsDetected    int64
	conflictsResolved    int64
	errorsCount          int64
	averageLagMs         int64
	startedAt            time.Time
	lastHeartbeat        time.Time
}

// New returns a fresh zeroed metrics record with the uptime clock started.
func New() *Metrics {
	return &Metrics{startedAt: time.Now()}
}

func (m *Metrics) IncrEventsProcessed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalEventsProcessed++
	m.lastHeartbeat = time.Now()
}

func (m *Metrics) AddBytesReplicated(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytesReplicated += n
}

func (m *Metrics) IncrConflictsDetected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflictsDetected++
}

func (m *Metrics) IncrConflictsResolved() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflictsResolved++
}

func (m *Metrics) IncrErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorsCount++
}

func (m *Metrics) SetAverageLagMs(lagMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.averageLagMs = lagMs
}

// Snapshot returns the current counters with derived rates filled in.
func (m *Metrics) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	uptime := time.Since(m.startedAt)
	stats := Stats{
		TotalEventsProcessed: m.totalEventsProcessed,
		BytesReplicated:      m.bytesReplicated,
		ConflictsDetected:    m.conflictsDetected,
		ConflictsResolved:    m.conflictsResolved,
		ErrorsCount:          m.errorsCount,
		AverageLagMs:         m.averageLagMs,
		UptimeSeconds:        int64(uptime.Seconds()),
		LastHeartbeat:        m.lastHeartbeat,
	}
	if secs := uptime.Seconds(); secs > 0 {
		stats.EventsPerSecond = float64(m.totalEventsProcessed) / secs
	}
	return stats
}

// Reset zeroes every counter and restarts the uptime clock.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalEventsProcessed = 0
	m.bytesReplicated = 0
	m.conflictsDetected = 0
	m.conflictsResolved = 0
	m.errorsCount = 0
	m.averageLagMs = 0
	m.startedAt = time.Now()
	m.lastHeartbeat = time.Time{}
}

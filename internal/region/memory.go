package region

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/turbolytics/georep/internal/cdc"
	"github.com/turbolytics/georep/internal/vclock"
)

// Memory is an in-process Adapter holding every region's rows in nested
// maps. It backs tests and local development the way a real adapter backs
// a regional database.
type Memory struct {
	mu sync.RWMutex
	// region -> table -> primary key -> version
	rows map[string]map[string]map[string]*DataVersion
}

func NewMemory() *Memory {
	return &Memory{
		rows: make(map[string]map[string]map[string]*DataVersion),
	}
}

func (m *Memory) LocalVersion(ctx context.Context, regionID, table, primaryKey string) (*DataVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.rows[regionID][table][primaryKey]
	if !ok {
		return nil, nil
	}
	out := *v
	out.VectorClock = v.VectorClock.Clone()
	return &out, nil
}

func (m *Memory) Apply(ctx context.Context, regionID, table, primaryKey string, data map[string]any) error {
	checksum, err := cdc.Checksum(data)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rows[regionID] == nil {
		m.rows[regionID] = make(map[string]map[string]*DataVersion)
	}
	if m.rows[regionID][table] == nil {
		m.rows[regionID][table] = make(map[string]*DataVersion)
	}

	clock := vclock.New()
	if prev, ok := m.rows[regionID][table][primaryKey]; ok {
		clock = prev.VectorClock.Clone()
	}
	clock.Increment(regionID)

	m.rows[regionID][table][primaryKey] = &DataVersion{
		RegionID:    regionID,
		Timestamp:   time.Now(),
		Data:        data,
		Checksum:    checksum,
		VectorClock: clock,
	}
	return nil
}

// Put stores a version verbatim, clock included. Tests use it to seed
// causal histories that Apply would otherwise rewrite.
func (m *Memory) Put(regionID, table, primaryKey string, version *DataVersion) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rows[regionID] == nil {
		m.rows[regionID] = make(map[string]map[string]*DataVersion)
	}
	if m.rows[regionID][table] == nil {
		m.rows[regionID][table] = make(map[string]*DataVersion)
	}
	m.rows[regionID][table][primaryKey] = version
}

func (m *Memory) Checksum(data any) (string, error) {
	return cdc.Checksum(data)
}

func (m *Memory) Tables(ctx context.Context, regionID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tables := make([]string, 0, len(m.rows[regionID]))
	for table := range m.rows[regionID] {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	return tables, nil
}

func (m *Memory) Snapshot(ctx context.Context, regionID, table string) (map[string]map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]map[string]any, len(m.rows[regionID][table]))
	for pk, v := range m.rows[regionID][table] {
		out[pk] = v.Data
	}
	return out, nil
}

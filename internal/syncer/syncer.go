// Package syncer performs bulk initial synchronization and cross-region
// integrity verification. It delegates all reads and writes to the region
// adapter; it never persists data itself.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/turbolytics/georep/internal/config"
	"github.com/turbolytics/georep/internal/events"
	"github.com/turbolytics/georep/internal/region"
)

var ErrNotConfigured = errors.New("replication not configured")

// Mismatch records one table whose content diverges between regions.
type Mismatch struct {
	Table     string            `json:"table"`
	Regions   []string          `json:"regions"`
	Checksums map[string]string `json:"checksums"`
}

// Report is the outcome of one integrity verification run.
type Report struct {
	ID         string     `json:"id"`
	Timestamp  time.Time  `json:"timestamp"`
	Regions    []string   `json:"regions"`
	Passed     bool       `json:"passed"`
	Mismatches []Mismatch `json:"mismatches"`
}

// SyncResult summarizes one bulk initial sync.
type SyncResult struct {
	RowsCopied int       `json:"rows_copied"`
	Tables     int       `json:"tables"`
	StartedAt  time.Time `json:"started_at"`
	Duration   string    `json:"duration"`
}

// Syncer coordinates bulk copy and verification across regions.
type Syncer struct {
	logger  *zap.Logger
	bus     *events.Bus
	adapter region.Adapter

	mu  sync.Mutex
	cfg *config.Replication
}

type Option func(*Syncer)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Syncer) {
		s.logger = logger
	}
}

func WithBus(bus *events.Bus) Option {
	return func(s *Syncer) {
		s.bus = bus
	}
}

func WithAdapter(adapter region.Adapter) Option {
	return func(s *Syncer) {
		s.adapter = adapter
	}
}

func New(opts ...Option) *Syncer {
	s := &Syncer{
		logger: zap.NewNop(),
		bus:    events.NewBus(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetConfig installs the replication configuration.
func (s *Syncer) SetConfig(cfg *config.Replication) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

func (s *Syncer) config() *config.Replication {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// InitialSync bulk-copies every source region's tables to its topology
// targets, in batches of the configured batch size.
func (s *Syncer) InitialSync(ctx context.Context) (*SyncResult, error) {
	cfg := s.config()
	if cfg == nil {
		return nil, ErrNotConfigured
	}

	started := time.Now()
	s.logger.Info("initial sync started", zap.String("config_id", cfg.ID))
	s.bus.Emit(events.KindInitialSyncStarted, map[string]any{
		"config_id": cfg.ID,
	})

	result := &SyncResult{StartedAt: started}
	tablesSeen := make(map[string]struct{})

	for _, pair := range cfg.Pairs() {
		tables, err := s.adapter.Tables(ctx, pair.Source)
		if err != nil {
			return nil, fmt.Errorf("listing tables for region %s: %w", pair.Source, err)
		}

		for _, table := range tables {
			tablesSeen[table] = struct{}{}
			copied, err := s.copyTable(ctx, pair, table, cfg.BatchSize)
			if err != nil {
				return nil, err
			}
			result.RowsCopied += copied
		}
	}

	result.Tables = len(tablesSeen)
	result.Duration = time.Since(started).String()

	s.logger.Info("initial sync completed",
		zap.Int("rows_copied", result.RowsCopied),
		zap.Int("tables", result.Tables))
	s.bus.Emit(events.KindInitialSyncCompleted, map[string]any{
		"config_id":   cfg.ID,
		"rows_copied": result.RowsCopied,
		"tables":      result.Tables,
	})
	return result, nil
}

func (s *Syncer) copyTable(ctx context.Context, pair config.Pair, table string, batchSize int) (int, error) {
	snapshot, err := s.adapter.Snapshot(ctx, pair.Source, table)
	if err != nil {
		return 0, fmt.Errorf("snapshotting %s in region %s: %w", table, pair.Source, err)
	}

	// deterministic apply order
	keys := make([]string, 0, len(snapshot))
	for pk := range snapshot {
		keys = append(keys, pk)
	}
	sort.Strings(keys)

	copied := 0
	for i, pk := range keys {
		if err := s.adapter.Apply(ctx, pair.Target, table, pk, snapshot[pk]); err != nil {
			return copied, fmt.Errorf("applying %s/%s to region %s: %w", table, pk, pair.Target, err)
		}
		copied++

		if (i+1)%batchSize == 0 {
			s.logger.Debug("sync batch applied",
				zap.String("table", table),
				zap.String("target", pair.Target),
				zap.Int("rows", i+1))
		}
	}
	return copied, nil
}

// VerifyIntegrity compares table content across every enabled region.
// The policy is deterministic: tables are the sorted union of every
// region's table listing, and each region's per-table checksum is the
// adapter checksum over that table's snapshot. Any divergence between
// two regions' checksums for the same table is a mismatch.
func (s *Syncer) VerifyIntegrity(ctx context.Context) (*Report, error) {
	cfg := s.config()
	if cfg == nil {
		return nil, ErrNotConfigured
	}

	regions := cfg.EnabledRegions()
	regionIDs := make([]string, 0, len(regions))
	for _, r := range regions {
		regionIDs = append(regionIDs, r.ID)
	}
	sort.Strings(regionIDs)

	s.logger.Info("integrity check started", zap.Strings("regions", regionIDs))
	s.bus.Emit(events.KindIntegrityCheckStarted, map[string]any{
		"config_id": cfg.ID,
		"regions":   regionIDs,
	})

	tables, err := s.tableUnion(ctx, regionIDs)
	if err != nil {
		return nil, err
	}

	report := &Report{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Regions:   regionIDs,
		Passed:    true,
	}

	for _, table := range tables {
		checksums := make(map[string]string, len(regionIDs))
		for _, regionID := range regionIDs {
			snapshot, err := s.adapter.Snapshot(ctx, regionID, table)
			if err != nil {
				return nil, fmt.Errorf("snapshotting %s in region %s: %w", table, regionID, err)
			}
			checksum, err := s.adapter.Checksum(snapshot)
			if err != nil {
				return nil, fmt.Errorf("checksumming %s in region %s: %w", table, regionID, err)
			}
			checksums[regionID] = checksum
		}

		if divergent(checksums) {
			report.Passed = false
			report.Mismatches = append(report.Mismatches, Mismatch{
				Table:     table,
				Regions:   regionIDs,
				Checksums: checksums,
			})
		}
	}

	s.logger.Info("integrity check completed",
		zap.String("report_id", report.ID),
		zap.Bool("passed", report.Passed),
		zap.Int("mismatches", len(report.Mismatches)))
	s.bus.Emit(events.KindIntegrityCheckComplete, map[string]any{
		"report_id":  report.ID,
		"passed":     report.Passed,
		"mismatches": len(report.Mismatches),
	})
	return report, nil
}

func (s *Syncer) tableUnion(ctx context.Context, regionIDs []string) ([]string, error) {
	seen := make(map[string]struct{})
	for _, regionID := range regionIDs {
		tables, err := s.adapter.Tables(ctx, regionID)
		if err != nil {
			return nil, fmt.Errorf("listing tables for region %s: %w", regionID, err)
		}
		for _, table := range tables {
			seen[table] = struct{}{}
		}
	}

	union := make([]string, 0, len(seen))
	for table := range seen {
		union = append(union, table)
	}
	sort.Strings(union)
	return union, nil
}

func divergent(checksums map[string]string) bool {
	var first string
	var set bool
	for _, checksum := range checksums {
		if !set {
			first = checksum
			set = true
			continue
		}
		if checksum != first {
			return true
		}
	}
	return false
}

// Apply forwards a row write to the adapter and emits dataApplied for
// observability.
func (s *Syncer) Apply(ctx context.Context, regionID, table, primaryKey string, data map[string]any) error {
	if err := s.adapter.Apply(ctx, regionID, table, primaryKey, data); err != nil {
		return err
	}
	s.bus.Emit(events.KindDataApplied, map[string]any{
		"region_id":   regionID,
		"table":       table,
		"primary_key": primaryKey,
	})
	return nil
}

// LocalVersion forwards a version lookup to the adapter and emits
// localVersionRequested.
func (s *Syncer) LocalVersion(ctx context.Context, regionID, table, primaryKey string) (*region.DataVersion, error) {
	s.bus.Emit(events.KindLocalVersionRequested, map[string]any{
		"region_id":   regionID,
		"table":       table,
		"primary_key": primaryKey,
	})
	return s.adapter.LocalVersion(ctx, regionID, table, primaryKey)
}

// Cleanup drops the configuration.
func (s *Syncer) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = nil
}

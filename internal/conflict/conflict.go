// Package conflict detects causally concurrent writes between regions and
// resolves them deterministically.
package conflict

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/turbolytics/georep/internal/cdc"
	"github.com/turbolytics/georep/internal/config"
	"github.com/turbolytics/georep/internal/events"
	"github.com/turbolytics/georep/internal/metrics"
	"github.com/turbolytics/georep/internal/region"
	"github.com/turbolytics/georep/internal/vclock"
)

// Winner identifies which side a resolution kept.
type Winner string

const (
	WinnerLocal  Winner = "local"
	WinnerRemote Winner = "remote"
	WinnerMerged Winner = "merged"
)

// Record is one detected conflict between a region's local version and an
// incoming remote version. Pending until resolved, then moved to history.
type Record struct {
	ID         string             `json:"id"`
	Timestamp  time.Time          `json:"timestamp"`
	Table      string             `json:"table"`
	PrimaryKey string             `json:"primary_key"`
	Local      region.DataVersion `json:"local"`
	Remote     region.DataVersion `json:"remote"`
}

// Resolution describes how a conflict was settled.
type Resolution struct {
	Strategy   config.Strategy `json:"strategy"`
	Winner     Winner          `json:"winner"`
	MergedData map[string]any  `json:"merged_data,omitempty"`
	Reason     string          `json:"reason"`
}

// CustomResolver is a per-table resolution override.
type CustomResolver func(Record) (Resolution, error)

// Resolver detects and resolves conflicts. It shares the engine's metrics
// record so conflict counters stay consistent across components.
type Resolver struct {
	logger  *zap.Logger
	bus     *events.Bus
	metrics *metrics.Metrics

	mu       sync.Mutex
	strategy config.Strategy
	pending  map[string]*Record
	history  []*Record
	custom   map[string]CustomResolver
}

type Option func(*Resolver)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

func WithBus(bus *events.Bus) Option {
	return func(r *Resolver) {
		r.bus = bus
	}
}

func WithStrategy(strategy config.Strategy) Option {
	return func(r *Resolver) {
		r.strategy = strategy
	}
}

func New(shared *metrics.Metrics, opts ...Option) *Resolver {
	r := &Resolver{
		logger:   zap.NewNop(),
		bus:      events.NewBus(),
		metrics:  shared,
		strategy: config.StrategyLastWriteWins,
		pending:  make(map[string]*Record),
		custom:   make(map[string]CustomResolver),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetStrategy replaces the global resolution strategy.
func (r *Resolver) SetStrategy(strategy config.Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategy = strategy
}

// IsConflicting reports whether two vector clocks are causally concurrent:
// neither pointwise-dominates the other over the union of their keys.
func IsConflicting(a, b vclock.Clock) bool {
	return vclock.Concurrent(a, b)
}

// Detect checks an incoming event against the target region's current
// local version. No local version means a first write and no conflict.
// Concurrent clocks produce a pending Record whose remote side is
// assembled from the event's after image, a fresh checksum and the source
// region's clock snapshot.
func (r *Resolver) Detect(
	ctx context.Context,
	ev cdc.Event,
	targetRegion string,
	adapter region.Adapter,
	sourceClock vclock.Clock,
) (*Record, error) {
	local, err := adapter.LocalVersion(ctx, targetRegion, ev.Table, ev.PrimaryKey)
	if err != nil {
		return nil, fmt.Errorf("looking up local version (table %s, pk %s): %w", ev.Table, ev.PrimaryKey, err)
	}
	if local == nil {
		return nil, nil
	}

	if !IsConflicting(sourceClock, local.VectorClock) {
		return nil, nil
	}

	checksum, err := adapter.Checksum(ev.Image())
	if err != nil {
		return nil, fmt.Errorf("checksumming remote image (table %s, pk %s): %w", ev.Table, ev.PrimaryKey, err)
	}

	record := &Record{
		ID:         uuid.NewString(),
		Timestamp:  time.Now(),
		Table:      ev.Table,
		PrimaryKey: ev.PrimaryKey,
		Local:      *local,
		Remote: region.DataVersion{
			RegionID:    ev.SourceRegion,
			Timestamp:   ev.Timestamp,
			Data:        ev.Image(),
			Checksum:    checksum,
			VectorClock: sourceClock.Clone(),
		},
	}

	r.mu.Lock()
	r.pending[record.ID] = record
	r.mu.Unlock()

	r.metrics.IncrConflictsDetected()
	r.logger.Warn("conflict detected",
		zap.String("conflict_id", record.ID),
		zap.String("table", ev.Table),
		zap.String("primary_key", ev.PrimaryKey),
		zap.String("local_region", local.RegionID),
		zap.String("remote_region", ev.SourceRegion))
	r.bus.Emit(events.KindConflictDetected, map[string]any{
		"conflict_id": record.ID,
		"table":       ev.Table,
		"primary_key": ev.PrimaryKey,
	})

	return record, nil
}

// Resolve settles a pending conflict with the configured strategy and
// moves the record to history.
func (r *Resolver) Resolve(id string) (*Resolution, error) {
	r.mu.Lock()
	record, ok := r.pending[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("conflict %s not found", id)
	}
	strategy := r.strategy
	custom := r.custom[record.Table]
	r.mu.Unlock()

	resolution, err := r.apply(strategy, custom, *record)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	delete(r.pending, id)
	r.history = append(r.history, record)
	r.mu.Unlock()

	r.metrics.IncrConflictsResolved()
	r.logger.Info("conflict resolved",
		zap.String("conflict_id", id),
		zap.String("strategy", string(resolution.Strategy)),
		zap.String("winner", string(resolution.Winner)))
	r.bus.Emit(events.KindConflictResolved, map[string]any{
		"conflict_id": id,
		"strategy":    string(resolution.Strategy),
		"winner":      string(resolution.Winner),
	})

	return resolution, nil
}

func (r *Resolver) apply(strategy config.Strategy, custom CustomResolver, record Record) (*Resolution, error) {
	switch strategy {
	case config.StrategyMerge:
		res := ResolveMerge(record)
		return &res, nil
	case config.StrategyCustom:
		if custom != nil {
			res, err := custom(record)
			if err != nil {
				return nil, fmt.Errorf("custom resolver for table %s: %w", record.Table, err)
			}
			return &res, nil
		}
		r.logger.Warn("no custom resolver registered, falling back to last-write-wins",
			zap.String("table", record.Table))
		res := ResolveLastWriteWins(record)
		res.Reason = "no custom resolver registered for table " + record.Table + "; " + res.Reason
		return &res, nil
	default:
		res := ResolveLastWriteWins(record)
		return &res, nil
	}
}

// ResolveLastWriteWins keeps whichever side carries the later wall-clock
// timestamp. Ties break deterministically on the greater region id.
func ResolveLastWriteWins(record Record) Resolution {
	winner := WinnerLocal
	data := record.Local.Data

	remoteWins := record.Remote.Timestamp.After(record.Local.Timestamp) ||
		(record.Remote.Timestamp.Equal(record.Local.Timestamp) &&
			record.Remote.RegionID > record.Local.RegionID)
	if remoteWins {
		winner = WinnerRemote
		data = record.Remote.Data
	}

	return Resolution{
		Strategy:   config.StrategyLastWriteWins,
		Winner:     winner,
		MergedData: data,
		Reason: fmt.Sprintf("%s version has the later timestamp (%s vs %s)",
			winner,
			record.Remote.Timestamp.Format(time.RFC3339Nano),
			record.Local.Timestamp.Format(time.RFC3339Nano)),
	}
}

// ResolveMerge combines both sides field-wise, remote winning overlaps.
func ResolveMerge(record Record) Resolution {
	return Resolution{
		Strategy:   config.StrategyMerge,
		Winner:     WinnerMerged,
		MergedData: DeepMerge(record.Local.Data, record.Remote.Data),
		Reason:     "structural merge of local and remote versions",
	}
}

// RegisterResolver installs a per-table override used when the global
// strategy is custom.
func (r *Resolver) RegisterResolver(table string, fn CustomResolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.custom[table] = fn
}

// HasResolver reports whether a table has a custom resolver registered.
func (r *Resolver) HasResolver(table string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.custom[table]
	return ok
}

// Pending returns the unresolved conflict records.
func (r *Resolver) Pending() []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Record, 0, len(r.pending))
	for _, record := range r.pending {
		out = append(out, record)
	}
	return out
}

// All returns pending and resolved records together.
func (r *Resolver) All() []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Record, 0, len(r.pending)+len(r.history))
	out = append(out, r.history...)
	for _, record := range r.pending {
		out = append(out, record)
	}
	return out
}

// SetConfig resets the strategy from a replaced configuration.
func (r *Resolver) SetConfig(cfg *config.Replication) {
	r.SetStrategy(cfg.ConflictStrategy)
}

// Cleanup clears both collections and all custom resolvers, returning the
// resolver to its freshly constructed state.
func (r *Resolver) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategy = config.StrategyLastWriteWins
	r.pending = make(map[string]*Record)
	r.history = nil
	r.custom = make(map[string]CustomResolver)
}

// Package engine implements the replication coordinator: topology-aware
// stream construction, event filtering, the CDC intake pipeline, vector
// clocks and the shared metrics record. It calls into the conflict
// resolver and the encryption manager during event processing.
package engine

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/turbolytics/georep/internal/config"
	"github.com/turbolytics/georep/internal/conflict"
	"github.com/turbolytics/georep/internal/crypto"
	"github.com/turbolytics/georep/internal/events"
	"github.com/turbolytics/georep/internal/metrics"
	"github.com/turbolytics/georep/internal/region"
	"github.com/turbolytics/georep/internal/stream"
	"github.com/turbolytics/georep/internal/syncer"
	"github.com/turbolytics/georep/internal/vclock"
)

// State of the engine as a whole. Stream-level state lives on each
// stream's own FSM.
type State string

const (
	StateCreated    State = "created"
	StateConfigured State = "configured"
	StateRunning    State = "running"
	StateStopped    State = "stopped"
)

var (
	ErrNotConfigured  = errors.New("replication not configured")
	ErrStreamNotFound = errors.New("stream not found")
)

// Engine coordinates replication for one configuration.
type Engine struct {
	logger  *zap.Logger
	bus     *events.Bus
	adapter region.Adapter
	metrics *metrics.Metrics

	resolver *conflict.Resolver
	crypt    *crypto.Manager
	syncer   *syncer.Syncer

	mu      sync.Mutex
	cfg     *config.Replication
	state   State
	streams map[string]*stream.Stream
	// insertion order of streams and filters is preserved
	streamOrder []string
	filters     []config.Filter
	clocks      map[string]vclock.Clock
}

type Option func(*Engine)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithBus(bus *events.Bus) Option {
	return func(e *Engine) {
		e.bus = bus
	}
}

func WithAdapter(adapter region.Adapter) Option {
	return func(e *Engine) {
		e.adapter = adapter
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{
		logger:  zap.NewNop(),
		bus:     events.NewBus(),
		state:   StateCreated,
		streams: make(map[string]*stream.Stream),
		clocks:  make(map[string]vclock.Clock),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.adapter == nil {
		e.adapter = region.NewMemory()
	}

	e.metrics = metrics.New()
	e.resolver = conflict.New(e.metrics,
		conflict.WithLogger(e.logger.Named("conflict")),
		conflict.WithBus(e.bus),
	)
	e.crypt = crypto.New(
		crypto.WithLogger(e.logger.Named("crypto")),
		crypto.WithBus(e.bus),
	)
	e.syncer = syncer.New(
		syncer.WithLogger(e.logger.Named("syncer")),
		syncer.WithBus(e.bus),
		syncer.WithAdapter(e.adapter),
	)

	e.logger.Info("replication engine created", zap.String("state", string(e.state)))
	return e
}

// Configure validates and installs a replication configuration and
// propagates it to the resolver, syncer and encryption manager.
// Validation errors are synchronous and fatal to the call; the previous
// configuration (if any) stays in place.
func (e *Engine) Configure(cfg *config.Replication) error {
	e.bus.Emit(events.KindConfiguring, map[string]any{
		"config_id": cfg.ID,
	})

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		e.logger.Error("configuration rejected", zap.Error(err))
		return err
	}

	if err := e.crypt.Initialize(cfg.Encryption); err != nil {
		return fmt.Errorf("configuring encryption: %w", err)
	}

	e.mu.Lock()
	e.cfg = cfg
	e.state = StateConfigured
	e.filters = append([]config.Filter(nil), cfg.Filters...)
	e.mu.Unlock()

	e.resolver.SetConfig(cfg)
	e.syncer.SetConfig(cfg)

	e.logger.Info("replication configured",
		zap.String("config_id", cfg.ID),
		zap.String("mode", string(cfg.Mode)),
		zap.Int("regions", len(cfg.Regions)))
	e.bus.Emit(events.KindConfigured, map[string]any{
		"config_id": cfg.ID,
		"mode":      string(cfg.Mode),
		"regions":   len(cfg.Regions),
	})
	return nil
}

// InitializeStreams creates the directed streams the topology implies:
// every ordered pair of distinct regions for multi-master, primary to
// each secondary for master-slave.
func (e *Engine) InitializeStreams() ([]*stream.Stream, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg == nil {
		return nil, ErrNotConfigured
	}

	for _, pair := range e.cfg.Pairs() {
		id := stream.StreamID(pair.Source, pair.Target)
		if _, exists := e.streams[id]; exists {
			continue
		}
		s := stream.New(pair.Source, pair.Target, e.logger.Named("stream"))
		e.streams[id] = s
		e.streamOrder = append(e.streamOrder, id)
	}

	e.state = StateRunning
	e.logger.Info("streams initialized", zap.Int("count", len(e.streams)))
	return e.streamsLocked(), nil
}

func (e *Engine) streamsLocked() []*stream.Stream {
	out := make([]*stream.Stream, 0, len(e.streamOrder))
	for _, id := range e.streamOrder {
		out = append(out, e.streams[id])
	}
	return out
}

// Streams returns the live streams in creation order.
func (e *Engine) Streams() []*stream.Stream {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streamsLocked()
}

// Stream returns one stream by id.
func (e *Engine) Stream(id string) (*stream.Stream, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.streams[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStreamNotFound, id)
	}
	return s, nil
}

// StopStream transitions the named stream to idle. Best effort: an event
// already mid-processing finishes, but no new event flows once idle.
func (e *Engine) StopStream(id string) error {
	s, err := e.Stream(id)
	if err != nil {
		return err
	}
	if err := s.State.Transition(stream.StateIdle); err != nil {
		return fmt.Errorf("stopping stream %s: %w", id, err)
	}
	e.logger.Info("stream stopped", zap.String("stream_id", id))
	return nil
}

// UpdateVectorClock advances the self-counter of a region's own clock.
// The event id is carried for observability only. Returns a snapshot of
// the region's clock after the increment.
func (e *Engine) UpdateVectorClock(regionID, eventID string) vclock.Clock {
	e.mu.Lock()
	defer e.mu.Unlock()

	clock, ok := e.clocks[regionID]
	if !ok {
		clock = vclock.New()
		e.clocks[regionID] = clock
	}
	counter := clock.Increment(regionID)

	e.logger.Debug("vector clock advanced",
		zap.String("region_id", regionID),
		zap.String("event_id", eventID),
		zap.Int64("counter", counter))
	return clock.Clone()
}

// VectorClocks returns a deep copy of every region's clock.
func (e *Engine) VectorClocks() map[string]vclock.Clock {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]vclock.Clock, len(e.clocks))
	for id, clock := range e.clocks {
		out[id] = clock.Clone()
	}
	return out
}

// Checksum computes a content checksum via the region adapter's
// algorithm.
func (e *Engine) Checksum(v any) (string, error) {
	return e.adapter.Checksum(v)
}

// InitializeMetrics returns a fresh zeroed metrics record, independent of
// the engine's accumulating one.
func (e *Engine) InitializeMetrics() *metrics.Metrics {
	return metrics.New()
}

// Metrics returns the live, accumulating metrics record shared with the
// conflict resolver.
func (e *Engine) Metrics() *metrics.Metrics {
	return e.metrics
}

// Bus returns the engine's event bus for subscriber registration.
func (e *Engine) Bus() *events.Bus {
	return e.bus
}

// Resolver returns the conflict resolver, for custom per-table
// registrations.
func (e *Engine) Resolver() *conflict.Resolver {
	return e.resolver
}

// Crypto returns the encryption manager.
func (e *Engine) Crypto() *crypto.Manager {
	return e.crypt
}

// Syncer returns the bulk sync manager.
func (e *Engine) Syncer() *syncer.Syncer {
	return e.syncer
}

// Config returns the active configuration, nil before Configure.
func (e *Engine) Config() *config.Replication {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) SetState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
}

// Cleanup stops every stream, clears streams, filters, vector clocks and
// listeners, and resets the owned components. The engine reads as freshly
// constructed afterwards.
func (e *Engine) Cleanup() {
	e.mu.Lock()
	for _, s := range e.streams {
		s.State.Transition(stream.StateIdle)
	}
	e.streams = make(map[string]*stream.Stream)
	e.streamOrder = nil
	e.filters = nil
	e.clocks = make(map[string]vclock.Clock)
	e.cfg = nil
	e.state = StateCreated
	e.mu.Unlock()

	e.resolver.Cleanup()
	e.crypt.Cleanup()
	e.syncer.Cleanup()
	e.metrics.Reset()
	e.bus.Close()

	e.logger.Info("engine cleaned up")
}

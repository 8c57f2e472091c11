// Package events provides the synchronous publish/subscribe bus the
// replication components emit their observable lifecycle events on.
// Handlers run inline in emission order; a panicking handler is recovered
// and logged so a broken dashboard subscriber never blocks replication.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind names one observable event.
type Kind string

const (
	KindConfiguring            Kind = "configuring"
	KindConfigured             Kind = "configured"
	KindEventFiltered          Kind = "eventFiltered"
	KindEventReplicated        Kind = "eventReplicated"
	KindReplicationError       Kind = "replicationError"
	KindConflictDetected       Kind = "conflictDetected"
	KindConflictResolved       Kind = "conflictResolved"
	KindAlert                  Kind = "alert"
	KindEncryptionInitialized  Kind = "encryptionInitialized"
	KindKeyRotated             Kind = "keyRotated"
	KindInitialSyncStarted     Kind = "initialSyncStarted"
	KindInitialSyncCompleted   Kind = "initialSyncCompleted"
	KindIntegrityCheckStarted  Kind = "integrityCheckStarted"
	KindIntegrityCheckComplete Kind = "integrityCheckCompleted"
	KindDataApplied            Kind = "dataApplied"
	KindLocalVersionRequested  Kind = "localVersionRequested"
)

// Event is one emitted occurrence with its payload fields.
type Event struct {
	Kind   Kind           `json:"kind"`
	Time   time.Time      `json:"time"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Handler receives emitted events.
type Handler func(Event)

type subscription struct {
	id      int
	handler Handler
}

// Bus dispatches events to registered handlers synchronously.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[Kind][]subscription
	all    []subscription
	logger *zap.Logger
}

type BusOption func(*Bus)

func WithLogger(logger *zap.Logger) BusOption {
	return func(b *Bus) {
		b.logger = logger
	}
}

func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subs:   make(map[Kind][]subscription),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for one event kind. The returned function
// removes the subscription.
func (b *Bus) Subscribe(kind Kind, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[kind] = append(b.subs[kind], subscription{id: id, handler: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[kind]
		for i, s := range subs {
			if s.id == id {
				b.subs[kind] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// SubscribeAll registers a handler for every event kind.
func (b *Bus) SubscribeAll(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscription{id: id, handler: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.all {
			if s.id == id {
				b.all = append(b.all[:i:i], b.all[i+1:]...)
				return
			}
		}
	}
}

// Emit dispatches the event to kind subscribers then catch-all subscribers,
// in registration order.
func (b *Bus) Emit(kind Kind, fields map[string]any) {
	ev := Event{Kind: kind, Time: time.Now(), Fields: fields}

	b.mu.RLock()
	handlers := make([]subscription, 0, len(b.subs[kind])+len(b.all))
	handlers = append(handlers, b.subs[kind]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	for _, s := range handlers {
		b.dispatch(s, ev)
	}
}

func (b *Bus) dispatch(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("kind", string(ev.Kind)),
				zap.Any("panic", r))
		}
	}()
	s.handler(ev)
}

// Close drops every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[Kind][]subscription)
	b.all = nil
}

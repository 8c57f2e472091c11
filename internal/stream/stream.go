// Package stream models one directed replication flow between two
// regions.
package stream

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Stream is one source->target replication flow. Created by the engine's
// stream initialization, stopped by transitioning back to idle.
type Stream struct {
	ID           string
	SourceRegion string
	TargetRegion string
	State        *FSM

	mu          sync.Mutex
	startedAt   time.Time
	lastEventAt time.Time
	failures    int
}

// Info is the JSON snapshot the ops surface serves.
type Info struct {
	ID           string    `json:"id"`
	SourceRegion string    `json:"source_region"`
	TargetRegion string    `json:"target_region"`
	State        State     `json:"state"`
	StartedAt    time.Time `json:"started_at"`
	LastEventAt  time.Time `json:"last_event_at,omitempty"`
}

// ID of a stream between two regions.
func StreamID(source, target string) string {
	return fmt.Sprintf("%s->%s", source, target)
}

// New creates an active stream between two regions.
func New(source, target string, logger *zap.Logger) *Stream {
	s := &Stream{
		ID:           StreamID(source, target),
		SourceRegion: source,
		TargetRegion: target,
		State: NewFSM(
			FSMWithInitialState(StateIdle),
			FSMWithLogger(logger.Named("fsm")),
		),
		startedAt: time.Now(),
	}
	// freshly initialized streams start flowing immediately
	s.State.Transition(StateActive)
	return s
}

// Touch records that an event flowed through the stream at ts and resets
// the consecutive-failure count.
func (s *Stream) Touch(ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts.After(s.lastEventAt) {
		s.lastEventAt = ts
	}
	s.failures = 0
}

// LastEventAt returns when the stream last carried an event.
func (s *Stream) LastEventAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEventAt
}

// RecordFailure counts one consecutive processing failure and returns the
// running total. The engine moves the stream to the error state once the
// retry budget is spent.
func (s *Stream) RecordFailure() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	return s.failures
}

// Info returns a snapshot for the ops surface.
func (s *Stream) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:           s.ID,
		SourceRegion: s.SourceRegion,
		TargetRegion: s.TargetRegion,
		State:        s.State.Current(),
		StartedAt:    s.startedAt,
		LastEventAt:  s.lastEventAt,
	}
}

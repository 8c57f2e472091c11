package stream

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrInvalidTransition = fmt.Errorf("invalid state transition")
)

// State of one replication stream.
type State string

const (
	StateIdle   State = "idle"
	StateActive State = "active"
	StatePaused State = "paused"
	StateError  State = "error"
)

// FSM guards stream state changes with an explicit transition table.
type FSM struct {
	mu          sync.Mutex
	Transitions map[State]map[State]struct{}

	current State
	logger  *zap.Logger
}

type FSMOption func(*FSM)

func FSMWithLogger(logger *zap.Logger) FSMOption {
	return func(f *FSM) {
		f.logger = logger
	}
}

func FSMWithInitialState(state State) FSMOption {
	return func(f *FSM) {
		f.current = state
	}
}

func NewFSM(opts ...FSMOption) *FSM {
	f := &FSM{
		current: StateIdle,
		logger:  zap.NewNop(),

		Transitions: map[State]map[State]struct{}{
			StateIdle: {
				StateActive: {},
			},
			StateActive: {
				StatePaused: {},
				StateIdle:   {}, // graceful stop
				StateError:  {},
			},
			StatePaused: {
				StateActive: {}, // resume
				StateIdle:   {}, // stop while paused
			},
			StateError: {
				StateActive: {}, // operator restart
				StateIdle:   {}, // give up and stop
			},
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FSM) Current() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *FSM) canTransition(to State) bool {
	if _, ok := f.Transitions[f.current][to]; ok {
		return true
	}
	return false
}

func (f *FSM) Transition(to State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.current == to {
		return nil
	}

	if !f.canTransition(to) {
		f.logger.Error("invalid state transition",
			zap.String("from", string(f.current)),
			zap.String("to", string(to)),
		)
		return ErrInvalidTransition
	}
	previous := f.current
	f.current = to

	f.logger.Info("state transitioned",
		zap.String("state", string(f.current)),
		zap.String("from", string(previous)),
	)
	return nil
}

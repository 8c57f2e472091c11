package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestNewStream(t *testing.T) {
	s := New("region-1", "region-2", zap.NewNop())

	assert.Equal(t, "region-1->region-2", s.ID)
	assert.Equal(t, StateActive, s.State.Current())

	info := s.Info()
	assert.Equal(t, "region-1", info.SourceRegion)
	assert.Equal(t, "region-2", info.TargetRegion)
	assert.False(t, info.StartedAt.IsZero())
	assert.True(t, info.LastEventAt.IsZero())
}

func TestTouch(t *testing.T) {
	s := New("region-1", "region-2", zap.NewNop())

	now := time.Now()
	s.Touch(now)
	assert.Equal(t, now, s.LastEventAt())

	// older timestamps never move the watermark backwards
	s.Touch(now.Add(-time.Minute))
	assert.Equal(t, now, s.LastEventAt())
}

func TestRecordFailure(t *testing.T) {
	s := New("region-1", "region-2", zap.NewNop())

	assert.Equal(t, 1, s.RecordFailure())
	assert.Equal(t, 2, s.RecordFailure())

	s.Touch(time.Now())
	assert.Equal(t, 1, s.RecordFailure(), "success resets the count")
}

func TestFSMTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    State
		to      State
		wantErr bool
	}{
		{"idle to active", StateIdle, StateActive, false},
		{"active to paused", StateActive, StatePaused, false},
		{"active to idle", StateActive, StateIdle, false},
		{"active to error", StateActive, StateError, false},
		{"paused to active", StatePaused, StateActive, false},
		{"error to active", StateError, StateActive, false},
		{"idle to paused", StateIdle, StatePaused, true},
		{"idle to error", StateIdle, StateError, true},
		{"same state is a no-op", StateActive, StateActive, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsm := NewFSM(FSMWithInitialState(tt.from))
			err := fsm.Transition(tt.to)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tt.from, fsm.Current())
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.to, fsm.Current())
			}
		})
	}
}

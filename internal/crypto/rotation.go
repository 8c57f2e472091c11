package crypto

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/turbolytics/georep/internal/events"
)

// StartKeyRotation rotates the current key on the given interval. Each
// rotation generates fresh material and promotes it; previous generations
// stay registered so envelopes sealed under them remain decryptable.
// Calling it again restarts the timer with the new interval.
func (m *Manager) StartKeyRotation(interval time.Duration) error {
	if !m.Enabled() {
		return ErrNotInitialized
	}
	if interval <= 0 {
		return fmt.Errorf("rotation interval must be positive, got %s", interval)
	}

	m.StopKeyRotation()

	stop := make(chan struct{})
	done := make(chan struct{})

	m.mu.Lock()
	m.rotateStop = stop
	m.rotateDone = done
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := m.Rotate(); err != nil {
					m.logger.Error("key rotation failed", zap.Error(err))
				}
			}
		}
	}()

	m.logger.Info("key rotation started", zap.Duration("interval", interval))
	return nil
}

// Rotate performs one rotation immediately.
func (m *Manager) Rotate() error {
	material, err := randomMaterial()
	if err != nil {
		return fmt.Errorf("generating key material: %w", err)
	}

	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return ErrNotInitialized
	}
	previousID := m.currentID
	m.rotations++
	id := fmt.Sprintf("key-%d", m.rotations)
	m.keys[id] = &Key{
		ID:        id,
		Algorithm: m.algorithm,
		Material:  material,
		CreatedAt: time.Now(),
	}
	m.currentID = id
	m.mu.Unlock()

	m.logger.Info("encryption key rotated",
		zap.String("key_id", id),
		zap.String("previous_key_id", previousID))
	m.bus.Emit(events.KindKeyRotated, map[string]any{
		"key_id":          id,
		"previous_key_id": previousID,
	})
	return nil
}

// StopKeyRotation stops the rotation timer and waits for the rotation
// goroutine to exit. Safe to call when no rotation is running.
func (m *Manager) StopKeyRotation() {
	m.mu.Lock()
	stop := m.rotateStop
	done := m.rotateDone
	m.rotateStop = nil
	m.rotateDone = nil
	m.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

// Cleanup stops rotation and clears all key material. The manager is
// indistinguishable from a fresh instance afterwards.
func (m *Manager) Cleanup() {
	m.StopKeyRotation()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
	m.algorithm = ""
	m.keys = make(map[string]*Key)
	m.currentID = ""
	m.rotations = 0
}

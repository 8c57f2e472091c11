package engine

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/turbolytics/georep/internal/cdc"
	"github.com/turbolytics/georep/internal/events"
	"github.com/turbolytics/georep/internal/stream"
	"github.com/turbolytics/georep/internal/vclock"
)

// ProcessEvent runs one CDC event through the intake pipeline: filtering,
// checksum, vector clock advance, conflict handling, transit encryption
// and handoff to each target region. Hook failures are recovered locally:
// they increment the error counter and surface as replicationError events
// so one bad record never halts a stream.
func (e *Engine) ProcessEvent(ctx context.Context, ev cdc.Event) error {
	if !e.ShouldReplicate(ev) {
		e.logger.Debug("event filtered",
			zap.String("event_id", ev.ID),
			zap.String("table", ev.Table))
		e.bus.Emit(events.KindEventFiltered, map[string]any{
			"event_id": ev.ID,
			"table":    ev.Table,
			"schema":   ev.Schema,
		})
		return nil
	}

	e.metrics.IncrEventsProcessed()
	e.metrics.AddBytesReplicated(payloadBytes(ev))

	checksum, err := e.Checksum(ev.Image())
	if err != nil {
		e.recordFailure(nil, ev, "checksum", err)
		return nil
	}

	sourceClock := e.UpdateVectorClock(ev.SourceRegion, ev.ID)

	// seal the payload for transit; the envelope is opened again at the
	// target boundary since transport is owned by external adapters
	sealed, err := e.crypt.EncryptEvent(ev)
	if err != nil {
		e.recordFailure(nil, ev, "encrypt", err)
		return nil
	}

	targets := 0
	for _, s := range e.Streams() {
		if s.SourceRegion != ev.SourceRegion {
			continue
		}
		if s.State.Current() != stream.StateActive {
			continue
		}
		e.deliver(ctx, s, ev, sealed, sourceClock, checksum)
		targets++
	}

	e.logger.Debug("event processed",
		zap.String("event_id", ev.ID),
		zap.String("table", ev.Table),
		zap.String("source_region", ev.SourceRegion),
		zap.String("checksum", checksum),
		zap.Int("targets", targets))
	return nil
}

// deliver applies one event to one stream's target region, resolving a
// conflict first when the incoming write is concurrent with the target's
// local version.
func (e *Engine) deliver(
	ctx context.Context,
	s *stream.Stream,
	ev cdc.Event,
	sealed cdc.Event,
	sourceClock vclock.Clock,
	checksum string,
) {
	payload := ev.Image()

	record, err := e.resolver.Detect(ctx, ev, s.TargetRegion, e.adapter, sourceClock)
	if err != nil {
		e.recordFailure(s, ev, "conflict detection", err)
		return
	}
	if record != nil {
		resolution, err := e.resolver.Resolve(record.ID)
		if err != nil {
			e.recordFailure(s, ev, "conflict resolution", err)
			return
		}
		payload = resolution.MergedData
	}

	// the envelope is opened at the target boundary; a corrupt envelope
	// or wrong key is fatal for this record and reported with table and
	// primary key context
	opened, err := e.crypt.DecryptEvent(sealed)
	if err != nil {
		e.recordFailure(s, ev, "decrypt", err)
		return
	}
	if record == nil {
		payload = opened.Image()
	}

	if err := e.syncer.Apply(ctx, s.TargetRegion, ev.Table, ev.PrimaryKey, payload); err != nil {
		e.recordFailure(s, ev, "apply", err)
		return
	}

	s.Touch(ev.Timestamp)
	e.bus.Emit(events.KindEventReplicated, map[string]any{
		"event_id":      ev.ID,
		"stream_id":     s.ID,
		"table":         ev.Table,
		"primary_key":   ev.PrimaryKey,
		"target_region": s.TargetRegion,
		"checksum":      checksum,
	})
}

// recordFailure counts a per-event hook failure and reports it as an
// error event instead of aborting the stream. A stream that spends its
// retry budget on consecutive failures transitions to the error state.
func (e *Engine) recordFailure(s *stream.Stream, ev cdc.Event, stage string, err error) {
	e.metrics.IncrErrors()

	fields := []zap.Field{
		zap.String("stage", stage),
		zap.String("event_id", ev.ID),
		zap.String("table", ev.Table),
		zap.String("primary_key", ev.PrimaryKey),
		zap.Error(err),
	}
	payload := map[string]any{
		"stage":       stage,
		"event_id":    ev.ID,
		"table":       ev.Table,
		"primary_key": ev.PrimaryKey,
		"error":       err.Error(),
	}

	if s != nil {
		fields = append(fields, zap.String("stream_id", s.ID))
		payload["stream_id"] = s.ID

		maxAttempts := 3
		if cfg := e.Config(); cfg != nil {
			maxAttempts = cfg.Retry.MaxAttempts
		}
		if s.RecordFailure() >= maxAttempts {
			s.State.Transition(stream.StateError)
			e.logger.Error("stream exhausted its retry budget", zap.String("stream_id", s.ID))
		}
	}

	e.logger.Error("event processing failed", fields...)
	e.bus.Emit(events.KindReplicationError, payload)
}

func payloadBytes(ev cdc.Event) int64 {
	var total int64
	if ev.Before != nil {
		if bs, err := json.Marshal(ev.Before); err == nil {
			total += int64(len(bs))
		}
	}
	if ev.After != nil {
		if bs, err := json.Marshal(ev.After); err == nil {
			total += int64(len(bs))
		}
	}
	return total
}

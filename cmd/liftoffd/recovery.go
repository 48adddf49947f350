package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"LiftoffLedger/internal/core"
	"LiftoffLedger/internal/event"
	"LiftoffLedger/internal/observability"
	"LiftoffLedger/internal/persistence"
)

const replayBatchSize = 1000

// recoverCore restores the latest verified snapshot, warms the dedup cache
// and replays the log tail. Any hash mismatch aborts startup.
func recoverCore(
	ctx context.Context,
	c *core.DeterministicCore,
	snapMgr *persistence.SnapshotManager,
	keys *persistence.PostgresIdempotencyChecker,
	lruCap int,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) error {
	start := time.Now()
	from := int64(0)

	rec, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		return err
	}
	if rec != nil {
		var st core.SnapshotState
		if err := json.Unmarshal(rec.Data, &st); err != nil {
			return fmt.Errorf("decode snapshot %d: %w", rec.Sequence, err)
		}
		if err := c.RestoreFromSnapshot(&st); err != nil {
			return err
		}
		from = rec.Sequence + 1
		logger.Info().Int64("sequence", rec.Sequence).Msg("restored snapshot")
	} else {
		logger.Info().Msg("no verified snapshot, replaying from sequence 0")
	}

	recent, err := keys.RecentKeys(ctx, lruCap)
	if err != nil {
		return fmt.Errorf("load recent idempotency keys: %w", err)
	}
	warm := make([]string, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		warm = append(warm, core.CompositeKey(recent[i][0], recent[i][1]))
	}
	c.WarmLRU(warm)

	var replayed int64
	for {
		rows, err := snapMgr.LoadEventsFrom(ctx, from, replayBatchSize)
		if err != nil {
			return fmt.Errorf("load events from %d: %w", from, err)
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			if err := replayRow(c, row); err != nil {
				return err
			}
			replayed++
			if metrics != nil {
				metrics.ReplayEventsTotal.Inc()
			}
		}
		from = rows[len(rows)-1].Sequence + 1
	}

	if metrics != nil {
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
		metrics.CoreSequence.Set(float64(c.GetSequence()))
	}
	logger.Info().
		Int64("replayed", replayed).
		Int64("next_sequence", c.GetSequence()).
		Dur("took", time.Since(start)).
		Msg("recovery complete")
	return nil
}

func replayRow(c *core.DeterministicCore, row persistence.EventRow) error {
	et := event.ParseEventType(row.EventType)
	if et == event.EventTypeUnknown {
		return fmt.Errorf("replay seq %d: unknown event type %q", row.Sequence, row.EventType)
	}
	evt, err := event.Decode(et, row.Payload)
	if err != nil {
		return fmt.Errorf("replay seq %d: %w", row.Sequence, err)
	}

	logged := &event.EventEnvelope{Sequence: row.Sequence, EventType: et}
	copy(logged.StateHash[:], row.StateHash)
	copy(logged.PrevHash[:], row.PrevHash)
	return c.Replay(evt, logged)
}

// snapshotWriter serializes core snapshots and stores them unverified.
// verifySnapshots promotes them once the log has caught up.
type snapshotWriter struct {
	mgr     *persistence.SnapshotManager
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func (w *snapshotWriter) save(ctx context.Context, st *core.SnapshotState) error {
	start := time.Now()
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	err = w.mgr.SaveSnapshot(ctx, persistence.SnapshotRecord{
		Sequence:      st.Sequence,
		StateHash:     st.StateHash.Bytes(),
		FormatVersion: st.FormatVersion,
		Data:          data,
	})
	if err != nil {
		return err
	}

	if w.metrics != nil {
		w.metrics.SnapshotTaken.Inc()
		w.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		w.metrics.SnapshotSizeBytes.Set(float64(len(data)))
		w.metrics.SnapshotLastSeq.Set(float64(st.Sequence))
	}
	w.logger.Info().Int64("sequence", st.Sequence).Int("bytes", len(data)).Msg("snapshot saved")
	return nil
}

// verifySnapshots periodically checks pending snapshots against the
// persisted hash chain.
func verifySnapshots(ctx context.Context, snapMgr *persistence.SnapshotManager, logger zerolog.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, mismatched, err := snapMgr.VerifyPending(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("snapshot verification failed")
				continue
			}
			if len(mismatched) > 0 {
				logger.Error().Ints64("sequences", mismatched).Msg("snapshot hash disagrees with event log")
			}
			if n > 0 {
				logger.Debug().Int("verified", n).Msg("snapshots verified")
			}
		}
	}
}

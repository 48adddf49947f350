package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"LiftoffLedger/internal/core"
	"LiftoffLedger/internal/errs"
	"LiftoffLedger/internal/event"
	"LiftoffLedger/internal/ingestion"
	"LiftoffLedger/internal/observability"
	"LiftoffLedger/internal/persistence"
	"LiftoffLedger/internal/projection"
	"LiftoffLedger/internal/query"
)

// coreLoop is the only goroutine that touches the deterministic core.
// Commands from NATS and RPC arrive on one channel so their relative order
// is the order they are sequenced in.
type coreLoop struct {
	core             *core.DeterministicCore
	submissions      <-chan ingestion.Submission
	snapshotReqs     chan chan *core.SnapshotState
	snapshots        *snapshotWriter
	snapshotInterval int64
	queryService     *query.QueryService
	metrics          *observability.Metrics
	logger           zerolog.Logger
}

func (l *coreLoop) run(ctx context.Context) {
	lastSnapshot := l.core.GetSequence()
	for {
		select {
		case <-ctx.Done():
			return

		case reply := <-l.snapshotReqs:
			reply <- l.core.CreateSnapshotState()

		case sub := <-l.submissions:
			l.apply(sub)

			if l.snapshotInterval > 0 && l.core.GetSequence()-lastSnapshot >= l.snapshotInterval {
				lastSnapshot = l.core.GetSequence()
				st := l.core.CreateSnapshotState()
				// The state is a deep copy; writing it must not stall the core.
				go func() {
					if err := l.snapshots.save(context.Background(), st); err != nil {
						l.logger.Warn().Err(err).Int64("sequence", st.Sequence).Msg("periodic snapshot failed")
					}
				}()
			}
		}
	}
}

func (l *coreLoop) apply(sub ingestion.Submission) {
	evt := sub.Event
	res, err := ingestion.Apply(l.core, sub)
	if err != nil {
		l.logger.Warn().Err(err).
			Str("event_type", evt.EventType().String()).
			Str("idempotency_key", evt.IdempotencyKey()).
			Str("partition", core.PartitionFor(evt)).
			Msg("command refused before sequencing")
		return
	}

	if l.metrics != nil && !sub.Received.IsZero() {
		l.metrics.IngestToApply.WithLabelValues(evt.EventType().String()).Observe(time.Since(sub.Received).Seconds())
	}
	if res.Rejected != nil {
		l.logger.Debug().
			Int64("sequence", res.Sequence).
			Str("event_type", evt.EventType().String()).
			Str("code", errs.CodeOf(res.Rejected)).
			Msg("command rejected")
	}
	if evt.EventType() == event.EventTypeSettingsUpdate && res.OK() {
		l.queryService.SetInsurancePeriod(l.core.Settings().Timing.InsurancePeriod)
	}
}

// requestSnapshot captures state on the core goroutine and saves it from
// the caller's.
func (l *coreLoop) requestSnapshot(ctx context.Context) (int64, error) {
	reply := make(chan *core.SnapshotState, 1)
	select {
	case l.snapshotReqs <- reply:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	var st *core.SnapshotState
	select {
	case st = <-reply:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	if st.Sequence < 0 {
		return 0, errors.New("nothing to snapshot: event log is empty")
	}
	if err := l.snapshots.save(ctx, st); err != nil {
		return 0, err
	}
	return st.Sequence, nil
}

// forwardNATS parses raw NATS messages and submits them to the core.
// Malformed messages are terminated; processed ones are acked from the
// core goroutine once their outcome is known.
func forwardNATS(ctx context.Context, raws <-chan ingestion.RawEvent, submissions chan<- ingestion.Submission, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-raws:
			evt, err := ingestion.ParseRawEvent(raw)
			if err != nil {
				logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed command")
				raw.TermFunc()
				continue
			}

			sub := ingestion.Submission{
				Event:    evt,
				Received: raw.Timestamp,
				Done: func(_ core.Result, err error) {
					if err != nil {
						// Out of order: redeliver so a missing predecessor can land first.
						raw.NakFunc()
						return
					}
					raw.AckFunc()
				},
			}
			select {
			case submissions <- sub:
			case <-ctx.Done():
				raw.NakFunc()
				return
			}
		}
	}
}

// bridgeCoreOutputs converts core outputs into the persistence and
// projection formats, which keeps those packages free of a core import.
// It returns once both inputs are closed, closing its outputs.
func bridgeCoreOutputs(
	persistIn <-chan core.CoreOutput,
	projectionIn <-chan core.CoreOutput,
	persistOut chan<- persistence.CoreOutput,
	projectionOut chan<- projection.ProjectionOutput,
	publisher *ingestion.OutboundPublisher,
	metrics *observability.Metrics,
) {
	defer close(persistOut)
	defer close(projectionOut)

	for persistIn != nil || projectionIn != nil {
		select {
		case output, ok := <-persistIn:
			if !ok {
				persistIn = nil
				continue
			}
			row, err := persistence.NewEventRow(output.Envelope, output.StateDelta)
			if err != nil {
				// Only a Rejection that fails to marshal gets here.
				panic(fmt.Sprintf("FATAL: %v", err))
			}
			persistOut <- persistence.CoreOutput{
				EventRow:    row,
				JournalRows: persistence.NewJournalRows(output.Batch),
				EmittedAt:   time.Now(),
			}
			if publisher != nil {
				publisher.Offer(publishable(output.Envelope))
			}
			if metrics != nil {
				metrics.SetChannelMetrics("persist", len(persistOut), cap(persistOut))
			}

		case output, ok := <-projectionIn:
			if !ok {
				projectionIn = nil
				continue
			}
			pOutput := projection.ProjectionOutput{
				Sequence:  output.Envelope.Sequence,
				EventType: output.Envelope.EventType.String(),
				Sale:      output.Sale,
				Fund:      output.Fund,
			}
			if output.Batch != nil {
				for _, j := range output.Batch.Journals {
					pOutput.JournalEntries = append(pOutput.JournalEntries, projection.JournalEntry{
						DebitAccount:  j.DebitAccount.AccountPath(),
						CreditAccount: j.CreditAccount.AccountPath(),
						AssetID:       uint64(j.AssetID),
						Amount:        j.Amount.Dec(),
					})
				}
			}
			select {
			case projectionOut <- pOutput:
			default:
				if metrics != nil {
					metrics.ProjectionDrops.WithLabelValues("bridge").Inc()
				}
			}
		}
	}
}

func publishable(env *event.EventEnvelope) ingestion.PublishableEvent {
	pe := ingestion.PublishableEvent{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		SaleID:         env.SaleID,
		Status:         env.Status(),
		Payload:        json.RawMessage(env.Payload),
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		Timestamp:      env.Timestamp,
	}
	if len(env.Result) > 0 {
		pe.Result = json.RawMessage(env.Result)
	}
	if env.Rejection != nil {
		pe.RejectionCode = env.Rejection.Code
	}
	return pe
}

package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"LiftoffLedger/internal/observability"
)

const outboundStream = "LIFTOFF_LEDGER_EVENTS"

// OutboundPublisher publishes processed commands to NATS for downstream
// consumers on liftoff.ledger.events.<event_type>[.<sale_id>].
// Publication is best effort; the event log is authoritative.
type OutboundPublisher struct {
	js      jetstream.JetStream
	queue   chan PublishableEvent
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// PublishableEvent is a processed command ready for outbound publishing.
type PublishableEvent struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	SaleID         *uint64         `json:"sale_id,omitempty"`
	Status         string          `json:"status"`
	RejectionCode  string          `json:"rejection_code,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	Result         json.RawMessage `json:"result,omitempty"`
	StateHash      string          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, capacity int, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:      js,
		queue:   make(chan PublishableEvent, capacity),
		metrics: metrics,
		logger:  logger,
	}
}

// Offer queues evt without blocking. A full queue drops the event.
func (op *OutboundPublisher) Offer(evt PublishableEvent) bool {
	select {
	case op.queue <- evt:
		return true
	default:
		if op.metrics != nil {
			op.metrics.PublishDrops.Inc()
		}
		return false
	}
}

// Close stops accepting events; Run drains what is queued and returns.
func (op *OutboundPublisher) Close() {
	close(op.queue)
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.queue:
			if !ok {
				return nil
			}
			if op.metrics != nil {
				op.metrics.SetChannelMetrics("publish", len(op.queue), cap(op.queue))
			}

			if err := op.publish(ctx, evt); err != nil {
				op.logger.Warn().Err(err).Int64("sequence", evt.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

// Subject returns the outbound subject for evt.
func Subject(evt PublishableEvent) string {
	subject := "liftoff.ledger.events." + evt.EventType
	if evt.SaleID != nil {
		subject += "." + strconv.FormatUint(*evt.SaleID, 10)
	}
	return subject
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// Msg-Id lets JetStream drop a republish of the same sequence.
	_, err = op.js.Publish(ctx, Subject(evt), data, jetstream.WithMsgID(strconv.FormatInt(evt.Sequence, 10)))
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       outboundStream,
		Subjects:   []string{"liftoff.ledger.events.>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", outboundStream).Msg("ensured outbound stream")
	return nil
}

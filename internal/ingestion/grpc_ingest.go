package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"LiftoffLedger/internal/core"
	"LiftoffLedger/internal/event"
)

var (
	// ErrMalformed marks a command that could not be decoded or lacks
	// required header fields.
	ErrMalformed = errors.New("malformed command")
	// ErrOutOfOrder marks a command the core refused before sequencing it.
	ErrOutOfOrder = errors.New("command out of order")
)

// DirectSource is the source name given to RPC submissions that do not
// track their own source sequence.
const DirectSource = "rpc"

// Submission is a command on its way to the core goroutine. Done, when
// set, is called on the core goroutine with the outcome.
type Submission struct {
	Event    event.Event
	Received time.Time
	// AutoSequence stamps the partition's expected source sequence just
	// before processing, for callers with no upstream ordering.
	AutoSequence bool
	Done         func(core.Result, error)
}

// GRPCIngestService submits single commands over RPC and waits for the
// core's verdict. NATS is the bulk path; this one is for operators and
// clients that want a synchronous answer.
type GRPCIngestService struct {
	submitChan chan<- Submission
	timeout    time.Duration
}

func NewGRPCIngestService(submitChan chan<- Submission, timeout time.Duration) *GRPCIngestService {
	return &GRPCIngestService{submitChan: submitChan, timeout: timeout}
}

// Submit decodes payload as a command of eventType and applies it. A
// command without a source is auto-sequenced under DirectSource.
func (s *GRPCIngestService) Submit(ctx context.Context, eventType string, payload []byte) (core.Result, error) {
	et := event.ParseEventType(eventType)
	if et == event.EventTypeUnknown {
		return core.Result{}, fmt.Errorf("%w: unknown event type %s", ErrMalformed, eventType)
	}
	evt, err := event.Decode(et, payload)
	if err != nil {
		return core.Result{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	h := evt.Meta()
	auto := h.Source == ""
	if auto {
		h.Source = DirectSource
	}
	if err := ValidateHeader(h); err != nil {
		return core.Result{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return s.SubmitEvent(ctx, evt, auto)
}

// SubmitEvent hands evt to the core and blocks until it has been processed
// or ctx ends. The command may still be applied after a timeout.
func (s *GRPCIngestService) SubmitEvent(ctx context.Context, evt event.Event, autoSequence bool) (core.Result, error) {
	type outcome struct {
		res core.Result
		err error
	}
	reply := make(chan outcome, 1)

	sub := Submission{
		Event:        evt,
		Received:     time.Now(),
		AutoSequence: autoSequence,
		Done: func(res core.Result, err error) {
			reply <- outcome{res, err}
		},
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	select {
	case s.submitChan <- sub:
	case <-ctx.Done():
		return core.Result{}, ctx.Err()
	}

	select {
	case o := <-reply:
		if o.err != nil {
			return o.res, fmt.Errorf("%w: %v", ErrOutOfOrder, o.err)
		}
		return o.res, nil
	case <-ctx.Done():
		return core.Result{}, ctx.Err()
	}
}

// Apply runs sub through the core. It must be called from the goroutine
// that owns c.
func Apply(c *core.DeterministicCore, sub Submission) (core.Result, error) {
	if sub.AutoSequence {
		sub.Event.Meta().Sequence = c.ExpectedSourceSequence(core.PartitionFor(sub.Event))
	}
	res, err := c.ProcessEvent(sub.Event)
	if sub.Done != nil {
		sub.Done(res, err)
	}
	return res, err
}

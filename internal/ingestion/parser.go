package ingestion

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"LiftoffLedger/internal/event"
)

// ParseRawEvent converts a RawEvent into a typed command. The event type is
// the last subject token; the token before it names the source when the
// payload does not carry one:
//
//	liftoff.commands.<source>.<EventType>
//
// The payload is the command's JSON form, the same document the event log
// stores. Amounts are base-10 strings.
func ParseRawEvent(raw RawEvent) (event.Event, error) {
	source, typeName, err := splitSubject(raw.Subject)
	if err != nil {
		return nil, err
	}

	et := event.ParseEventType(typeName)
	if et == event.EventTypeUnknown {
		return nil, fmt.Errorf("unknown event type: %s", typeName)
	}

	evt, err := event.Decode(et, raw.Data)
	if err != nil {
		return nil, err
	}

	h := evt.Meta()
	if h.Source == "" {
		h.Source = source
	}
	if err := ValidateHeader(h); err != nil {
		return nil, fmt.Errorf("parse %s: %w", typeName, err)
	}
	return evt, nil
}

// ValidateHeader checks the fields the core cannot default.
func ValidateHeader(h *event.Header) error {
	if h.Key == uuid.Nil {
		return fmt.Errorf("idempotency_key is required")
	}
	if h.Sender == (common.Address{}) {
		return fmt.Errorf("sender is required")
	}
	if h.Now <= 0 {
		return fmt.Errorf("now must be a positive unix time")
	}
	if h.Sequence < 0 {
		return fmt.Errorf("source_sequence must be non-negative")
	}
	return nil
}

func splitSubject(subject string) (source, eventType string, err error) {
	parts := strings.Split(subject, ".")
	if len(parts) != 4 || parts[0] != "liftoff" || parts[1] != "commands" {
		return "", "", fmt.Errorf("unexpected subject %q", subject)
	}
	if parts[2] == "" || parts[3] == "" {
		return "", "", fmt.Errorf("empty token in subject %q", subject)
	}
	return parts[2], parts[3], nil
}

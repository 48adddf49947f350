package event

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeSaleCreated
	EventTypeContribution
	EventTypeContributionWithdrawn
	EventTypeSaleFinalize
	EventTypeRewardClaim
	EventTypeRefundClaim
	EventTypeEndTimeUpdate
	EventTypeInsuranceRegister
	EventTypeInsuranceCreate
	EventTypeInsuranceRedeem
	EventTypeInsuranceClaim
	EventTypeProjectRegistered
	EventTypeBaseDeposit
	EventTypeSettingsUpdate
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Sale context (nil for global events)
	SaleID *uint64

	// Operation time supplied with the command (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded command
	Payload []byte

	// Set when the command failed; the state is unchanged
	Rejection *Rejection

	// Result of a successful command, e.g. the id of a new sale
	Result []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Rejection records a terminated transaction.
type Rejection struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Status is "applied" or "rejected".
func (e *EventEnvelope) Status() string {
	if e.Rejection != nil {
		return "rejected"
	}
	return "applied"
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// SaleScope returns the sale context (nil for global events)
	SaleScope() *uint64

	// SourceSequence returns upstream ordering key
	SourceSequence() int64

	// SourceName identifies the upstream that assigned SourceSequence
	SourceName() string

	// Caller is the address the command is executed on behalf of
	Caller() common.Address

	// OccurredAt is the operation's "now" in unix seconds
	OccurredAt() int64

	// Meta returns the shared command header
	Meta() *Header
}

func (et EventType) String() string {
	switch et {
	case EventTypeSaleCreated:
		return "SaleCreated"
	case EventTypeContribution:
		return "Contribution"
	case EventTypeContributionWithdrawn:
		return "ContributionWithdrawn"
	case EventTypeSaleFinalize:
		return "SaleFinalize"
	case EventTypeRewardClaim:
		return "RewardClaim"
	case EventTypeRefundClaim:
		return "RefundClaim"
	case EventTypeEndTimeUpdate:
		return "EndTimeUpdate"
	case EventTypeInsuranceRegister:
		return "InsuranceRegister"
	case EventTypeInsuranceCreate:
		return "InsuranceCreate"
	case EventTypeInsuranceRedeem:
		return "InsuranceRedeem"
	case EventTypeInsuranceClaim:
		return "InsuranceClaim"
	case EventTypeProjectRegistered:
		return "ProjectRegistered"
	case EventTypeBaseDeposit:
		return "BaseDeposit"
	case EventTypeSettingsUpdate:
		return "SettingsUpdate"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of EventType.String.
func ParseEventType(s string) EventType {
	for et := EventTypeSaleCreated; et <= EventTypeSettingsUpdate; et++ {
		if et.String() == s {
			return et
		}
	}
	return EventTypeUnknown
}

package event

import (
	"encoding/json"
	"fmt"
)

// Encode serializes a command for the event log payload.
func Encode(evt Event) ([]byte, error) {
	return json.Marshal(evt)
}

// New returns an empty command of the given type.
func New(et EventType) (Event, error) {
	switch et {
	case EventTypeSaleCreated:
		return &CreateSale{}, nil
	case EventTypeContribution:
		return &Contribute{}, nil
	case EventTypeContributionWithdrawn:
		return &WithdrawContribution{}, nil
	case EventTypeSaleFinalize:
		return &Finalize{}, nil
	case EventTypeRewardClaim:
		return &ClaimReward{}, nil
	case EventTypeRefundClaim:
		return &ClaimRefund{}, nil
	case EventTypeEndTimeUpdate:
		return &UpdateEndTime{}, nil
	case EventTypeInsuranceRegister:
		return &RegisterInsurance{}, nil
	case EventTypeInsuranceCreate:
		return &CreateInsurance{}, nil
	case EventTypeInsuranceRedeem:
		return &Redeem{}, nil
	case EventTypeInsuranceClaim:
		return &ClaimInsurance{}, nil
	case EventTypeProjectRegistered:
		return &RegisterProject{}, nil
	case EventTypeBaseDeposit:
		return &BaseDeposit{}, nil
	case EventTypeSettingsUpdate:
		return &SettingsUpdate{}, nil
	default:
		return nil, fmt.Errorf("unknown event type: %d", et)
	}
}

// Decode rebuilds a command from an event log payload (used on replay).
func Decode(et EventType, payload []byte) (Event, error) {
	evt, err := New(et)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", et, err)
	}
	return evt, nil
}

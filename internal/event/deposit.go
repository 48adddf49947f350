// internal/event/deposit.go
package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BaseDeposit credits bridged base asset (XETH) to a wallet.
type BaseDeposit struct {
	Header
	Recipient common.Address `json:"recipient"`
	Amount    *uint256.Int   `json:"amount"`
}

func (e *BaseDeposit) EventType() EventType { return EventTypeBaseDeposit }
func (e *BaseDeposit) SaleScope() *uint64   { return nil }

package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ContributionForm selects how the base asset enters a sale.
type ContributionForm uint8

const (
	// Native payment: value arrives from outside the ledger and is
	// credited to the caller.
	ContributionNative ContributionForm = iota
	// Token pull: XETH is taken from the caller's wallet and credited to
	// Recipient.
	ContributionTokenPull
)

func (f ContributionForm) String() string {
	if f == ContributionTokenPull {
		return "token"
	}
	return "native"
}

// CreateSale opens a new sale. FixedRate, when non-zero, selects the
// fixed-rate variant and HardCap is ignored.
type CreateSale struct {
	Header
	StartTime   int64          `json:"start_time"`
	EndTime     int64          `json:"end_time"`
	SoftCap     *uint256.Int   `json:"soft_cap"`
	HardCap     *uint256.Int   `json:"hard_cap,omitempty"`
	FixedRate   *uint256.Int   `json:"fixed_rate,omitempty"`
	TotalSupply *uint256.Int   `json:"total_supply,omitempty"`
	Name        string         `json:"name"`
	Symbol      string         `json:"symbol"`
	DevAddress  common.Address `json:"dev_address"`
	IPFSHash    string         `json:"ipfs_hash,omitempty"`
}

func (e *CreateSale) EventType() EventType { return EventTypeSaleCreated }
func (e *CreateSale) SaleScope() *uint64   { return nil }

type Contribute struct {
	Header
	SaleID    uint64           `json:"sale_id"`
	Amount    *uint256.Int     `json:"amount"`
	Form      ContributionForm `json:"form"`
	Recipient common.Address   `json:"recipient,omitempty"`
}

func (e *Contribute) EventType() EventType { return EventTypeContribution }
func (e *Contribute) SaleScope() *uint64   { return saleScope(e.SaleID) }

// Beneficiary is the ledger entry credited by this contribution.
func (e *Contribute) Beneficiary() common.Address {
	if e.Form == ContributionTokenPull && e.Recipient != (common.Address{}) {
		return e.Recipient
	}
	return e.Sender
}

type WithdrawContribution struct {
	Header
	SaleID uint64 `json:"sale_id"`
}

func (e *WithdrawContribution) EventType() EventType { return EventTypeContributionWithdrawn }
func (e *WithdrawContribution) SaleScope() *uint64   { return saleScope(e.SaleID) }

// Finalize is the "spark" call.
type Finalize struct {
	Header
	SaleID uint64 `json:"sale_id"`
}

func (e *Finalize) EventType() EventType { return EventTypeSaleFinalize }
func (e *Finalize) SaleScope() *uint64   { return saleScope(e.SaleID) }

type ClaimReward struct {
	Header
	SaleID      uint64         `json:"sale_id"`
	Beneficiary common.Address `json:"beneficiary"`
}

func (e *ClaimReward) EventType() EventType { return EventTypeRewardClaim }
func (e *ClaimReward) SaleScope() *uint64   { return saleScope(e.SaleID) }

type ClaimRefund struct {
	Header
	SaleID      uint64         `json:"sale_id"`
	Beneficiary common.Address `json:"beneficiary"`
}

func (e *ClaimRefund) EventType() EventType { return EventTypeRefundClaim }
func (e *ClaimRefund) SaleScope() *uint64   { return saleScope(e.SaleID) }

type UpdateEndTime struct {
	Header
	SaleID uint64 `json:"sale_id"`
	NewEnd int64  `json:"new_end"`
}

func (e *UpdateEndTime) EventType() EventType { return EventTypeEndTimeUpdate }
func (e *UpdateEndTime) SaleScope() *uint64   { return saleScope(e.SaleID) }

package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	fpmath "LiftoffLedger/internal/math"
)

// FundStatus is the insurance lifecycle
type FundStatus int32

const (
	FundStatusUnregistered FundStatus = iota
	FundStatusRegistered
	FundStatusInitialized
	FundStatusCycling
	FundStatusUnwound
)

func (s FundStatus) String() string {
	switch s {
	case FundStatusUnregistered:
		return "Unregistered"
	case FundStatusRegistered:
		return "Registered"
	case FundStatusInitialized:
		return "Initialized"
	case FundStatusCycling:
		return "Cycling"
	case FundStatusUnwound:
		return "Unwound"
	default:
		return "Unknown"
	}
}

// InsuranceFund underwrites the price floor of one sparked sale.
// Base asset and token balances live in the ledger under the sale's
// system:insurance accounts; the fields here are the accounting counters.
type InsuranceFund struct {
	SaleID uint64         `json:"sale_id"`
	Token  common.Address `json:"token"`

	StartTime        int64        `json:"start_time"`
	TotalIgnited     *uint256.Int `json:"total_ignited"`
	TokensPerEthWad  *uint256.Int `json:"tokens_per_eth_wad"`
	BaseXEth         *uint256.Int `json:"base_xeth"`
	BaseFee          *uint256.Int `json:"base_fee"`
	RedeemedXEth     *uint256.Int `json:"redeemed_xeth"`
	ClaimedXEth      *uint256.Int `json:"claimed_xeth"`
	BaseTokenLidPool *uint256.Int `json:"base_token_lid_pool"`
	ClaimedTokens    *uint256.Int `json:"claimed_tokens"`

	BaseFeeClaimed bool  `json:"base_fee_claimed"`
	LastClaimCycle int64 `json:"last_claim_cycle"`

	IsUnwound     bool `json:"is_unwound"`
	IsInitialized bool `json:"is_initialized"`
	IsRegistered  bool `json:"is_registered"`
}

func newInsuranceFund(saleID uint64) *InsuranceFund {
	return &InsuranceFund{
		SaleID:           saleID,
		TotalIgnited:     fpmath.Zero(),
		TokensPerEthWad:  fpmath.Zero(),
		BaseXEth:         fpmath.Zero(),
		BaseFee:          fpmath.Zero(),
		RedeemedXEth:     fpmath.Zero(),
		ClaimedXEth:      fpmath.Zero(),
		BaseTokenLidPool: fpmath.Zero(),
		ClaimedTokens:    fpmath.Zero(),
		LastClaimCycle:   -1,
	}
}

// CanCreateInsurance is !isInitialized && isRegistered.
func (f *InsuranceFund) CanCreateInsurance() bool {
	return !f.IsInitialized && f.IsRegistered
}

// Status derives the lifecycle state at now.
func (f *InsuranceFund) Status(now, period int64) FundStatus {
	switch {
	case f.IsUnwound:
		return FundStatusUnwound
	case f.IsInitialized && fpmath.CyclesElapsed(now, f.StartTime, period) > 0:
		return FundStatusCycling
	case f.IsInitialized:
		return FundStatusInitialized
	case f.IsRegistered:
		return FundStatusRegistered
	default:
		return FundStatusUnregistered
	}
}

// Outflow returns redeemedXEth + claimedXEth.
func (f *InsuranceFund) Outflow() *uint256.Int {
	return new(uint256.Int).Add(f.RedeemedXEth, f.ClaimedXEth)
}

// Remaining returns the base asset still inside the redemption budget.
func (f *InsuranceFund) Remaining() *uint256.Int {
	return fpmath.SaturatingSub(f.BaseXEth, f.Outflow())
}

// IsExhausted applies the exhaustion test to a prospective outflow.
func (f *InsuranceFund) IsExhausted(now, period int64, xEthValue *uint256.Int) bool {
	return fpmath.InsuranceExhausted(now, f.StartTime, period, xEthValue, f.BaseXEth, f.RedeemedXEth, f.ClaimedXEth, f.IsUnwound)
}

// UnclaimedBaseFee is the base fee still owed to the treasury, capped by the budget.
func (f *InsuranceFund) UnclaimedBaseFee() *uint256.Int {
	if f.BaseFeeClaimed {
		return fpmath.Zero()
	}
	return fpmath.Min(f.BaseFee, f.Remaining())
}

// Clone returns a deep copy, used to checkpoint a fund before mutation.
func (f *InsuranceFund) Clone() *InsuranceFund {
	c := *f
	c.TotalIgnited = cloneInt(f.TotalIgnited)
	c.TokensPerEthWad = cloneInt(f.TokensPerEthWad)
	c.BaseXEth = cloneInt(f.BaseXEth)
	c.BaseFee = cloneInt(f.BaseFee)
	c.RedeemedXEth = cloneInt(f.RedeemedXEth)
	c.ClaimedXEth = cloneInt(f.ClaimedXEth)
	c.BaseTokenLidPool = cloneInt(f.BaseTokenLidPool)
	c.ClaimedTokens = cloneInt(f.ClaimedTokens)
	return &c
}

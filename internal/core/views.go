package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"LiftoffLedger/internal/config"
	"LiftoffLedger/internal/ledger"
	fpmath "LiftoffLedger/internal/math"
	"LiftoffLedger/internal/state"
)

// Read views over core state. Like ProcessEvent they must be called from
// the goroutine that owns the core.

// Sale returns a copy of the sale.
func (c *DeterministicCore) Sale(id uint64) (*state.Sale, error) {
	s, err := c.sales.Get(id)
	if err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// Fund returns a copy of the sale's insurance fund, or nil.
func (c *DeterministicCore) Fund(saleID uint64) *state.InsuranceFund {
	if f := c.funds.Get(saleID); f != nil {
		return f.Clone()
	}
	return nil
}

// Contributor returns a copy of one contributor's ledger entry.
func (c *DeterministicCore) Contributor(saleID uint64, addr common.Address) (state.ContributorEntry, error) {
	s, err := c.sales.Get(saleID)
	if err != nil {
		return state.ContributorEntry{}, err
	}
	e, ok := s.Lookup(addr)
	if !ok {
		return state.ContributorEntry{Contributed: fpmath.Zero()}, nil
	}
	return state.ContributorEntry{Contributed: e.Contributed.Clone(), ClaimedReward: e.ClaimedReward, Refunded: e.Refunded}, nil
}

// Balance returns an account balance.
func (c *DeterministicCore) Balance(key ledger.AccountKey) uint256.Int {
	return c.balanceTracker.GetBalance(key)
}

// Settings returns the current Config Provider snapshot.
func (c *DeterministicCore) Settings() config.Settings {
	return c.settings.Snapshot()
}

// ExpectedSourceSequence returns the next source sequence a partition accepts.
func (c *DeterministicCore) ExpectedSourceSequence(partition string) int64 {
	return c.sequenceValidator.GetExpectedSequence(partition)
}

// IsInsuranceExhausted applies the exhaustion test for a prospective outflow.
func (c *DeterministicCore) IsInsuranceExhausted(saleID uint64, now int64, xEthValue *uint256.Int) (bool, error) {
	f, err := c.funds.Initialized(saleID)
	if err != nil {
		return false, err
	}
	return f.IsExhausted(now, c.config.GetTiming().InsurancePeriod, xEthValue), nil
}

// GetTotalXethClaimable returns the vested, unclaimed base asset at now.
func (c *DeterministicCore) GetTotalXethClaimable(saleID uint64, now int64) (*uint256.Int, error) {
	f, err := c.funds.Initialized(saleID)
	if err != nil {
		return nil, err
	}
	cycles := fpmath.CyclesElapsed(now, f.StartTime, c.config.GetTiming().InsurancePeriod)
	return fpmath.TotalXethClaimable(f.TotalIgnited, f.RedeemedXEth, f.ClaimedXEth, cycles)
}

// GetTotalTokenClaimable returns the vested, unclaimed tokens at now.
func (c *DeterministicCore) GetTotalTokenClaimable(saleID uint64, now int64) (*uint256.Int, error) {
	f, err := c.funds.Initialized(saleID)
	if err != nil {
		return nil, err
	}
	cycles := fpmath.CyclesElapsed(now, f.StartTime, c.config.GetTiming().InsurancePeriod)
	return fpmath.TotalTokenClaimable(f.BaseTokenLidPool, cycles, f.ClaimedTokens)
}

// GetRedeemValue returns the XETH a redemption of tokenAmount pays.
func (c *DeterministicCore) GetRedeemValue(saleID uint64, tokenAmount *uint256.Int) (*uint256.Int, error) {
	f, err := c.funds.Initialized(saleID)
	if err != nil {
		return nil, err
	}
	return fpmath.RedeemValue(tokenAmount, f.TokensPerEthWad)
}

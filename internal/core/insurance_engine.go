package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"LiftoffLedger/internal/errs"
	"LiftoffLedger/internal/event"
	"LiftoffLedger/internal/ledger"
	fpmath "LiftoffLedger/internal/math"
	"LiftoffLedger/internal/state"
)

// Insurance Engine handlers.

func (c *DeterministicCore) handleRegisterInsurance(e *event.RegisterInsurance, now int64) (any, error) {
	return c.registerInsurance(e.SaleID, e.Caller())
}

func (c *DeterministicCore) registerInsurance(saleID uint64, caller common.Address) (*InsuranceRegisteredResult, error) {
	if caller != c.config.GetPeerAddresses().Engine {
		return nil, errs.ErrNotEngine.Withf("%s is not the sale engine", caller.Hex())
	}
	sale, err := c.sales.Get(saleID)
	if err != nil {
		return nil, err
	}
	if sale.FinalStatus != state.SaleStatusSparked {
		return nil, errs.ErrNotSparked.Withf("sale %d is %s", saleID, sale.FinalStatus)
	}
	if _, err := c.funds.Register(saleID); err != nil {
		return nil, err
	}
	return &InsuranceRegisteredResult{SaleID: saleID}, nil
}

func (c *DeterministicCore) handleCreateInsurance(e *event.CreateInsurance, now int64) (any, error) {
	fund := c.funds.Get(e.SaleID)
	if fund == nil || !fund.CanCreateInsurance() {
		return nil, errs.ErrCannotCreateInsurance.Withf("sale %d not registered or already initialized", e.SaleID)
	}
	sale, err := c.sales.Get(e.SaleID)
	if err != nil {
		return nil, err
	}

	bp := c.config.GetBasisPoints()
	total := sale.TotalIgnited
	baseFee, err := fpmath.ApplyBP(total, bp.BaseFeeBP)
	if err != nil {
		return nil, err
	}
	netRaise, err := fpmath.Sub(total, baseFee)
	if err != nil {
		return nil, err
	}
	tokensPerEth, err := fpmath.WadRatio(sale.RewardSupply, netRaise)
	if err != nil {
		return nil, err
	}
	if tokensPerEth.IsZero() {
		return nil, errs.ErrInvalidAllocation.Withf("sale %d: floor price rounds to zero tokens per XETH", sale.ID)
	}

	// The reserve holds exactly what Spark deposited: the raise minus the
	// buy-side liquidity share, and the insurance carve-out of tokens.
	baseXEth := c.balanceTracker.GetBalance(reserveKey(sale.ID, ledger.AssetXETH))
	lidPool := c.balanceTracker.GetBalance(reserveKey(sale.ID, ledger.TokenAsset(sale.ID)))

	fund.Token = sale.DeployedToken
	fund.StartTime = now
	fund.TotalIgnited = total.Clone()
	fund.TokensPerEthWad = tokensPerEth
	fund.BaseXEth = baseXEth.Clone()
	fund.BaseFee = baseFee
	fund.BaseTokenLidPool = lidPool.Clone()
	fund.IsInitialized = true

	return &InsuranceCreatedResult{
		SaleID:           sale.ID,
		TokensPerEthWad:  tokensPerEth.Clone(),
		BaseXEth:         baseXEth.Clone(),
		BaseTokenLidPool: lidPool.Clone(),
	}, nil
}

func (c *DeterministicCore) handleRedeem(e *event.Redeem, now int64) (any, error) {
	fund, err := c.funds.Initialized(e.SaleID)
	if err != nil {
		return nil, err
	}
	if fund.IsUnwound {
		return nil, errs.ErrInsuranceUnwound.Withf("insurance for sale %d is unwound", e.SaleID)
	}
	if e.TokenAmount == nil || e.TokenAmount.IsZero() {
		return nil, errs.ErrInvalidAmount.Withf("redeem amount must be positive")
	}

	out, err := fpmath.RedeemValue(e.TokenAmount, fund.TokensPerEthWad)
	if err != nil {
		return nil, err
	}
	if out.IsZero() {
		return nil, errs.ErrInvalidAmount.Withf("%s tokens redeem for zero XETH", e.TokenAmount.Dec())
	}

	tokenAsset := ledger.TokenAsset(fund.SaleID)
	peers := c.config.GetPeerAddresses()

	if fund.IsExhausted(now, c.config.GetTiming().InsurancePeriod, out) {
		fund.IsUnwound = true
		c.sweepUnwound(fund, peers.PoolManager, peers.Treasury)
		return &RedeemResult{SaleID: fund.SaleID, XEthOut: fpmath.Zero(), Unwound: true}, nil
	}

	outflow, err := fpmath.Add(fund.Outflow(), out)
	if err != nil {
		return nil, err
	}
	if outflow.Gt(fund.BaseXEth) {
		return nil, errs.ErrExceedsAvailableInsurance.Withf("sale %d: %s XETH requested, %s available", fund.SaleID, out.Dec(), fund.Remaining().Dec())
	}

	wallet := walletKey(e.Sender, tokenAsset)
	if err := c.balanceTracker.ValidateSufficient(wallet, e.TokenAmount); err != nil {
		return nil, errs.ErrInsufficientBalance.Withf("%v", err)
	}

	fund.RedeemedXEth = new(uint256.Int).Add(fund.RedeemedXEth, out)

	c.journalGen.Transfer(reserveKey(fund.SaleID, tokenAsset), wallet, e.TokenAmount, ledger.JournalTypeRedemption)
	c.journalGen.Transfer(walletKey(e.Sender, ledger.AssetXETH), reserveKey(fund.SaleID, ledger.AssetXETH), out, ledger.JournalTypeRedemption)

	return &RedeemResult{SaleID: fund.SaleID, XEthOut: out.Clone()}, nil
}

// sweepUnwound empties an unwound fund: its tokens go to the pool manager
// and its base asset, less the still-owed base fee, to the treasury.
func (c *DeterministicCore) sweepUnwound(fund *state.InsuranceFund, poolManager, treasury common.Address) {
	tokenAsset := ledger.TokenAsset(fund.SaleID)
	reserveTok := reserveKey(fund.SaleID, tokenAsset)
	reserveX := reserveKey(fund.SaleID, ledger.AssetXETH)

	tokens := c.balanceTracker.GetBalance(reserveTok)
	c.journalGen.Transfer(walletKey(poolManager, tokenAsset), reserveTok, &tokens, ledger.JournalTypeUnwindSweep)

	base := c.balanceTracker.GetBalance(reserveX)
	surplus := fpmath.SaturatingSub(&base, fund.UnclaimedBaseFee())
	c.journalGen.Transfer(walletKey(treasury, ledger.AssetXETH), reserveX, surplus, ledger.JournalTypeUnwindSweep)
}

// handleClaimInsurance pays the dev's vested XETH and tokens for the current
// cycle. The base fee is owed once: the first claim in any window pays all
// of it, including cycle 0 and after the fund has unwound.
func (c *DeterministicCore) handleClaimInsurance(e *event.ClaimInsurance, now int64) (any, error) {
	fund, err := c.funds.Initialized(e.SaleID)
	if err != nil {
		return nil, err
	}
	sale, err := c.sales.Get(e.SaleID)
	if err != nil {
		return nil, err
	}

	bp := c.config.GetBasisPoints()
	peers := c.config.GetPeerAddresses()
	cycles := fpmath.CyclesElapsed(now, fund.StartTime, c.config.GetTiming().InsurancePeriod)

	baseFee := fund.UnclaimedBaseFee()
	owesBaseFee := !baseFee.IsZero()
	switch {
	case fund.IsUnwound && !owesBaseFee:
		return nil, errs.ErrInsuranceUnwound.Withf("insurance for sale %d is unwound", fund.SaleID)
	case cycles == 0 && !owesBaseFee:
		return nil, errs.ErrCycleNotReached.Withf("sale %d: first cycle not elapsed", fund.SaleID)
	case cycles == fund.LastClaimCycle && !owesBaseFee:
		return nil, errs.ErrNothingToClaim.Withf("sale %d: cycle %d already claimed", fund.SaleID, cycles)
	}

	vestedX, vestedTokens := fpmath.Zero(), fpmath.Zero()
	vesting := !fund.IsUnwound && cycles > 0 && cycles != fund.LastClaimCycle
	if vesting {
		claimable, err := fpmath.TotalXethClaimable(fund.TotalIgnited, fund.RedeemedXEth, fund.ClaimedXEth, cycles)
		if err != nil {
			return nil, err
		}
		budget := fpmath.SaturatingSub(fund.Remaining(), baseFee)
		vestedX = fpmath.Min(claimable, budget)

		vestedTokens, err = fpmath.TotalTokenClaimable(fund.BaseTokenLidPool, cycles, fund.ClaimedTokens)
		if err != nil {
			return nil, err
		}
	}

	if baseFee.IsZero() && vestedX.IsZero() && vestedTokens.IsZero() {
		return nil, errs.ErrNothingToClaim.Withf("sale %d: nothing vested at cycle %d", fund.SaleID, cycles)
	}

	claimed, err := fpmath.Sum(fund.ClaimedXEth, baseFee, vestedX)
	if err != nil {
		return nil, err
	}
	fund.ClaimedXEth = claimed
	fund.ClaimedTokens = new(uint256.Int).Add(fund.ClaimedTokens, vestedTokens)
	if owesBaseFee {
		fund.BaseFeeClaimed = true
	}
	if vesting {
		fund.LastClaimCycle = cycles
	}

	reserveX := reserveKey(fund.SaleID, ledger.AssetXETH)
	c.journalGen.Transfer(walletKey(peers.Treasury, ledger.AssetXETH), reserveX, baseFee, ledger.JournalTypeBaseFeeClaim)

	shares, err := splitClaim(vestedX, bp.LockBP, bp.DevBP, bp.MainFeeBP, bp.PoolBP)
	if err != nil {
		return nil, err
	}
	recipients := []common.Address{peers.LockerToken, sale.DevAddress, peers.Treasury, peers.PoolManager}
	for i, share := range shares {
		c.journalGen.Transfer(walletKey(recipients[i], ledger.AssetXETH), reserveX, share, ledger.JournalTypeVestingClaim)
	}

	tokenAsset := ledger.TokenAsset(fund.SaleID)
	c.journalGen.Transfer(walletKey(peers.PoolManager, tokenAsset), reserveKey(fund.SaleID, tokenAsset), vestedTokens, ledger.JournalTypeVestingClaim)

	return &ClaimResult{
		SaleID:  fund.SaleID,
		Cycle:   cycles,
		XEth:    vestedX.Clone(),
		Tokens:  vestedTokens.Clone(),
		BaseFee: baseFee.Clone(),
	}, nil
}

// splitClaim divides amount by the given weights, in order: locker, dev,
// treasury, pool manager. Rounding dust goes to the treasury share, as
// does everything when all weights are zero.
func splitClaim(amount *uint256.Int, lock, dev, mainFee, pool uint32) ([4]*uint256.Int, error) {
	out := [4]*uint256.Int{fpmath.Zero(), fpmath.Zero(), amount.Clone(), fpmath.Zero()}
	weights := [4]uint32{lock, dev, mainFee, pool}
	total := uint64(lock) + uint64(dev) + uint64(mainFee) + uint64(pool)
	if total == 0 {
		return out, nil
	}

	denom := uint256.NewInt(total)
	for _, i := range []int{0, 1, 3} {
		share, err := fpmath.MulDiv(amount, uint256.NewInt(uint64(weights[i])), denom)
		if err != nil {
			return out, err
		}
		out[i] = share
		out[2].Sub(out[2], share)
	}
	return out, nil
}

package core

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"LiftoffLedger/internal/errs"
	"LiftoffLedger/internal/event"
	"LiftoffLedger/internal/ledger"
	fpmath "LiftoffLedger/internal/math"
	"LiftoffLedger/internal/state"
)

// Sale Engine handlers. Each handler validates, mutates the Sale record
// first and only then records the value movements as journal legs; the
// pipeline applies the legs after the handler returns.

func escrowKey(saleID uint64, asset ledger.AssetID) ledger.AccountKey {
	return ledger.NewSystemAccountKey(saleID, ledger.SubTypeSaleEscrow, asset)
}

func reserveKey(saleID uint64, asset ledger.AssetID) ledger.AccountKey {
	return ledger.NewSystemAccountKey(saleID, ledger.SubTypeInsuranceReserve, asset)
}

func walletKey(owner common.Address, asset ledger.AssetID) ledger.AccountKey {
	return ledger.NewUserAccountKey(owner, asset)
}

func (c *DeterministicCore) handleCreateSale(e *event.CreateSale, now int64) (any, error) {
	peers := c.config.GetPeerAddresses()
	if e.Caller() != peers.Registration {
		return nil, errs.ErrSenderNotAuthorized.Withf("createSale is restricted to the registration gate, got %s", e.Caller().Hex())
	}
	return c.createSale(state.SaleParams{
		CreatedAt:   now,
		StartTime:   e.StartTime,
		EndTime:     e.EndTime,
		SoftCap:     e.SoftCap,
		HardCap:     e.HardCap,
		FixedRate:   e.FixedRate,
		TotalSupply: e.TotalSupply,
		Name:        e.Name,
		Symbol:      e.Symbol,
		IPFSHash:    e.IPFSHash,
		DevAddress:  e.DevAddress,
	})
}

func (c *DeterministicCore) createSale(p state.SaleParams) (*SaleCreatedResult, error) {
	sale, err := c.sales.Create(p)
	if err != nil {
		return nil, err
	}
	return &SaleCreatedResult{SaleID: sale.ID}, nil
}

func (c *DeterministicCore) handleContribute(e *event.Contribute, now int64) (any, error) {
	sale, err := c.sales.Get(e.SaleID)
	if err != nil {
		return nil, err
	}
	if e.Amount == nil || e.Amount.IsZero() {
		return nil, errs.ErrInvalidAmount.Withf("contribution must be positive")
	}
	if !sale.IsIgniting(now) {
		return nil, errs.ErrNotIgniting.Withf("sale %d is %s at %d", sale.ID, sale.StatusAt(now), now)
	}

	newTotal, err := fpmath.Add(sale.TotalIgnited, e.Amount)
	if err != nil {
		return nil, err
	}
	if hardCap := sale.EffectiveHardCap(); newTotal.Gt(hardCap) {
		return nil, errs.ErrExceedsHardCap.Withf("sale %d: %s would exceed hard cap %s", sale.ID, newTotal.Dec(), hardCap.Dec())
	}

	var source ledger.AccountKey
	switch e.Form {
	case event.ContributionNative:
		source = ledger.NewExternalAccountKey(ledger.SubTypeExternalNative, ledger.AssetXETH)
	case event.ContributionTokenPull:
		source = walletKey(e.Sender, ledger.AssetXETH)
		if err := c.balanceTracker.ValidateSufficient(source, e.Amount); err != nil {
			return nil, errs.ErrInsufficientBalance.Withf("%v", err)
		}
	default:
		return nil, errs.ErrInvalidAmount.Withf("unknown contribution form %d", e.Form)
	}

	beneficiary := e.Beneficiary()
	entry := sale.Entry(beneficiary)
	entry.Contributed = new(uint256.Int).Add(entry.Contributed, e.Amount)
	sale.TotalIgnited = newTotal

	// Soft-cap fast path: pull the end in once the soft cap is met. Gate
	// sales already end at launch + SoftCapTimer, so only longer windows move.
	if timer := c.config.GetTiming().SoftCapTimer; timer > 0 && !newTotal.Lt(sale.SoftCap) {
		if deadline := now + timer; deadline < sale.EndTime {
			sale.EndTime = deadline
		}
	}

	c.journalGen.Transfer(escrowKey(sale.ID, ledger.AssetXETH), source, e.Amount, ledger.JournalTypeContribution)

	return &ContributionResult{
		SaleID:       sale.ID,
		Beneficiary:  beneficiary,
		Contributed:  entry.Contributed.Clone(),
		TotalIgnited: newTotal.Clone(),
		EndTime:      sale.EndTime,
	}, nil
}

func (c *DeterministicCore) handleWithdrawContribution(e *event.WithdrawContribution, now int64) (any, error) {
	sale, err := c.sales.Get(e.SaleID)
	if err != nil {
		return nil, err
	}
	if !sale.IsIgniting(now) {
		return nil, errs.ErrNotIgniting.Withf("sale %d is %s at %d", sale.ID, sale.StatusAt(now), now)
	}
	entry, ok := sale.Lookup(e.Sender)
	if !ok || entry.Contributed.IsZero() {
		return nil, errs.ErrNothingToClaim.Withf("%s has no contribution in sale %d", e.Sender.Hex(), sale.ID)
	}

	amount := entry.Contributed
	total, err := fpmath.Sub(sale.TotalIgnited, amount)
	if err != nil {
		return nil, err
	}
	entry.Contributed = fpmath.Zero()
	sale.TotalIgnited = total

	c.journalGen.Transfer(walletKey(e.Sender, ledger.AssetXETH), escrowKey(sale.ID, ledger.AssetXETH), amount, ledger.JournalTypeContributionWithdrawal)

	return &WithdrawResult{SaleID: sale.ID, Amount: amount.Clone(), TotalIgnited: total.Clone()}, nil
}

func (c *DeterministicCore) handleFinalize(e *event.Finalize, now int64) (any, error) {
	sale, err := c.sales.Get(e.SaleID)
	if err != nil {
		return nil, err
	}
	if !sale.IsSparkReady(now) {
		return nil, errs.ErrNotReady.Withf("sale %d is %s and cannot be finalized at %d", sale.ID, sale.StatusAt(now), now)
	}

	next := state.SaleStatusSparked
	switch {
	case sale.TotalIgnited.IsZero():
		next = state.SaleStatusRefunded
	case sale.TotalIgnited.Lt(sale.SoftCap):
		next = state.SaleStatusRefunding
	}
	if current := sale.StatusAt(now); !current.CanTransitionTo(next) {
		return nil, errs.ErrNotReady.Withf("sale %d: %s -> %s not allowed", sale.ID, current, next)
	}

	if next != state.SaleStatusSparked {
		sale.FinalStatus = next
		return &FinalizeResult{SaleID: sale.ID, Status: next.String()}, nil
	}
	return c.spark(sale)
}

// sparkAllocation is how a sparked sale's supply and raise are divided.
type sparkAllocation struct {
	supply          *uint256.Int
	rewardSupply    *uint256.Int
	airdrop         *uint256.Int
	ammTokens       *uint256.Int
	ammBase         *uint256.Int
	insuranceTokens *uint256.Int
	insuranceBase   *uint256.Int
}

func (c *DeterministicCore) computeSparkAllocation(sale *state.Sale) (*sparkAllocation, error) {
	bp := c.config.GetBasisPoints()
	total := sale.TotalIgnited

	var supply *uint256.Int
	if sale.IsFixedRate() {
		s, err := fpmath.Mul(sale.FixedRate, total)
		if err != nil {
			return nil, err
		}
		supply = s
	} else {
		supply = sale.TotalSupply.Clone()
	}

	baseFee, err := fpmath.ApplyBP(total, bp.BaseFeeBP)
	if err != nil {
		return nil, err
	}
	netRaise, err := fpmath.Sub(total, baseFee)
	if err != nil {
		return nil, err
	}

	a := &sparkAllocation{supply: supply}
	if a.rewardSupply, err = fpmath.ApplyBP(supply, bp.UserBP); err != nil {
		return nil, err
	}
	if a.airdrop, err = fpmath.ApplyBP(supply, bp.AirdropBP); err != nil {
		return nil, err
	}
	if a.ammBase, err = fpmath.ApplyBP(total, bp.BuyBP); err != nil {
		return nil, err
	}
	if a.ammTokens, err = fpmath.MulDiv(a.rewardSupply, a.ammBase, netRaise); err != nil {
		return nil, err
	}

	allocated, err := fpmath.Sum(a.rewardSupply, a.airdrop, a.ammTokens)
	if err != nil {
		return nil, err
	}
	if allocated.Gt(supply) {
		return nil, errs.ErrInvalidAllocation.Withf("sale %d: rewards, airdrop and liquidity need %s of %s tokens", sale.ID, allocated.Dec(), supply.Dec())
	}
	a.insuranceTokens = new(uint256.Int).Sub(supply, allocated)
	if a.insuranceBase, err = fpmath.Sub(total, a.ammBase); err != nil {
		return nil, errs.ErrInvalidAllocation.Withf("sale %d: liquidity needs %s of %s XETH", sale.ID, a.ammBase.Dec(), total.Dec())
	}
	return a, nil
}

// spark deploys the token, seeds liquidity, funds the insurance reserve
// and registers the sale with the Insurance Engine.
func (c *DeterministicCore) spark(sale *state.Sale) (*FinalizeResult, error) {
	peers := c.config.GetPeerAddresses()

	alloc, err := c.computeSparkAllocation(sale)
	if err != nil {
		return nil, err
	}

	token, err := c.deployer.DeployToken(peers.Engine, sale.ID, sale.Name, sale.Symbol, alloc.supply)
	if err != nil {
		return nil, fmt.Errorf("spark sale %d: %w", sale.ID, err)
	}

	var pair common.Address
	if !alloc.ammTokens.IsZero() && !alloc.ammBase.IsZero() {
		pair, err = c.router.AddLiquidity(peers.AMMRouter, token, peers.BaseAssetToken, alloc.ammTokens, alloc.ammBase)
		if err != nil {
			return nil, fmt.Errorf("spark sale %d: %w", sale.ID, err)
		}
	}

	sale.DeployedToken = token
	sale.Pair = pair
	sale.RewardSupply = alloc.rewardSupply
	sale.EffectiveSupply = alloc.supply
	sale.FinalStatus = state.SaleStatusSparked

	if _, err := c.registerInsurance(sale.ID, peers.Engine); err != nil {
		return nil, err
	}

	tokenAsset := ledger.TokenAsset(sale.ID)
	escrowTok := escrowKey(sale.ID, tokenAsset)
	escrowX := escrowKey(sale.ID, ledger.AssetXETH)

	c.journalGen.Transfer(escrowTok, ledger.NewExternalAccountKey(ledger.SubTypeExternalMint, tokenAsset), alloc.supply, ledger.JournalTypeTokenMint)
	c.journalGen.Transfer(walletKey(peers.AirdropDistributor, tokenAsset), escrowTok, alloc.airdrop, ledger.JournalTypeAirdrop)
	if pair != (common.Address{}) {
		c.journalGen.Transfer(ledger.NewPairAccountKey(pair, tokenAsset), escrowTok, alloc.ammTokens, ledger.JournalTypeLiquiditySeed)
		c.journalGen.Transfer(ledger.NewPairAccountKey(pair, ledger.AssetXETH), escrowX, alloc.ammBase, ledger.JournalTypeLiquiditySeed)
	} else {
		// Nothing seeded: the buy-side share stays with the insurance reserve.
		alloc.insuranceBase = sale.TotalIgnited.Clone()
		alloc.insuranceTokens = new(uint256.Int).Add(alloc.insuranceTokens, alloc.ammTokens)
	}
	c.journalGen.Transfer(reserveKey(sale.ID, tokenAsset), escrowTok, alloc.insuranceTokens, ledger.JournalTypeInsuranceSeed)
	c.journalGen.Transfer(reserveKey(sale.ID, ledger.AssetXETH), escrowX, alloc.insuranceBase, ledger.JournalTypeInsuranceSeed)

	return &FinalizeResult{
		SaleID:       sale.ID,
		Status:       state.SaleStatusSparked.String(),
		Token:        token,
		Pair:         pair,
		Supply:       alloc.supply.Clone(),
		RewardSupply: alloc.rewardSupply.Clone(),
	}, nil
}

func (c *DeterministicCore) handleClaimReward(e *event.ClaimReward, now int64) (any, error) {
	sale, err := c.sales.Get(e.SaleID)
	if err != nil {
		return nil, err
	}
	if sale.FinalStatus != state.SaleStatusSparked {
		return nil, errs.ErrNotSparked.Withf("sale %d is %s", sale.ID, sale.StatusAt(now))
	}

	beneficiary := e.Beneficiary
	if beneficiary == (common.Address{}) {
		beneficiary = e.Sender
	}
	entry, ok := sale.Lookup(beneficiary)
	if ok && entry.ClaimedReward {
		return nil, errs.ErrAlreadyClaimed.Withf("%s already claimed in sale %d", beneficiary.Hex(), sale.ID)
	}
	if !ok || entry.Contributed.IsZero() {
		return nil, errs.ErrNothingToClaim.Withf("%s has no contribution in sale %d", beneficiary.Hex(), sale.ID)
	}

	reward, err := fpmath.ProRata(sale.RewardSupply, entry.Contributed, sale.TotalIgnited)
	if err != nil {
		return nil, err
	}
	if reward.IsZero() {
		return nil, errs.ErrNothingToClaim.Withf("reward for %s rounds to zero", beneficiary.Hex())
	}

	entry.ClaimedReward = true
	sale.RewardsPaid = new(uint256.Int).Add(sale.RewardsPaid, reward)

	tokenAsset := ledger.TokenAsset(sale.ID)
	c.journalGen.Transfer(walletKey(beneficiary, tokenAsset), escrowKey(sale.ID, tokenAsset), reward, ledger.JournalTypeRewardClaim)

	return &RewardResult{SaleID: sale.ID, Beneficiary: beneficiary, Reward: reward}, nil
}

func (c *DeterministicCore) handleClaimRefund(e *event.ClaimRefund, now int64) (any, error) {
	sale, err := c.sales.Get(e.SaleID)
	if err != nil {
		return nil, err
	}
	if sale.FinalStatus != state.SaleStatusRefunding && sale.FinalStatus != state.SaleStatusRefunded {
		return nil, errs.ErrNotRefunding.Withf("sale %d is %s", sale.ID, sale.StatusAt(now))
	}

	beneficiary := e.Beneficiary
	if beneficiary == (common.Address{}) {
		beneficiary = e.Sender
	}
	entry, ok := sale.Lookup(beneficiary)
	if ok && entry.Refunded {
		return nil, errs.ErrAlreadyRefunded.Withf("%s already refunded in sale %d", beneficiary.Hex(), sale.ID)
	}
	if !ok || entry.Contributed.IsZero() {
		return nil, errs.ErrNothingToClaim.Withf("%s has no contribution in sale %d", beneficiary.Hex(), sale.ID)
	}

	amount := entry.Contributed.Clone()
	refunded, err := fpmath.Add(sale.RefundedTotal, amount)
	if err != nil {
		return nil, err
	}
	entry.Refunded = true
	sale.RefundedTotal = refunded
	if refunded.Eq(sale.TotalIgnited) && sale.FinalStatus.CanTransitionTo(state.SaleStatusRefunded) {
		sale.FinalStatus = state.SaleStatusRefunded
	}

	c.journalGen.Transfer(walletKey(beneficiary, ledger.AssetXETH), escrowKey(sale.ID, ledger.AssetXETH), amount, ledger.JournalTypeRefund)

	return &RefundResult{SaleID: sale.ID, Beneficiary: beneficiary, Refund: amount, Status: sale.FinalStatus.String()}, nil
}

func (c *DeterministicCore) handleUpdateEndTime(e *event.UpdateEndTime, now int64) (any, error) {
	sale, err := c.sales.Get(e.SaleID)
	if err != nil {
		return nil, err
	}
	peers := c.config.GetPeerAddresses()
	if caller := e.Caller(); caller != c.settings.Snapshot().Owner && caller != peers.Registration {
		return nil, errs.ErrSenderNotAuthorized.Withf("%s may not update end times", caller.Hex())
	}
	if sale.FinalStatus.IsFinal() {
		return nil, errs.ErrNotReady.Withf("sale %d already %s", sale.ID, sale.FinalStatus)
	}
	if e.NewEnd <= sale.StartTime {
		return nil, errs.ErrInvalidWindow.Withf("end %d must be after start %d", e.NewEnd, sale.StartTime)
	}

	sale.EndTime = e.NewEnd
	return &EndTimeResult{SaleID: sale.ID, EndTime: sale.EndTime}, nil
}

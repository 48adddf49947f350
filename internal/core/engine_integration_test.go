package core_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LiftoffLedger/internal/amm"
	"LiftoffLedger/internal/config"
	"LiftoffLedger/internal/core"
	"LiftoffLedger/internal/errs"
	"LiftoffLedger/internal/event"
	"LiftoffLedger/internal/ledger"
	"LiftoffLedger/internal/state"
)

// --- Test helpers ---

var (
	owner        = common.HexToAddress("0xa0")
	registration = common.HexToAddress("0xb2")
	engine       = common.HexToAddress("0xb3")
	baseToken    = common.HexToAddress("0xb5")
	locker       = common.HexToAddress("0xb6")
	ammRouter    = common.HexToAddress("0xb7")
	treasury     = common.HexToAddress("0xb8")
	poolManager  = common.HexToAddress("0xb9")
	airdrop      = common.HexToAddress("0xba")
	dev          = common.HexToAddress("0xd0")
	alice        = common.HexToAddress("0xa11ce")
	bob          = common.HexToAddress("0xb0b")
	carol        = common.HexToAddress("0xca201")
)

const (
	day         = int64(86_400)
	createdAt   = int64(1_000)
	saleStart   = int64(2_000)
	saleEnd     = saleStart + 3*day
	periodSecs  = 30 * day
	cycleSecs   = periodSecs / 10
	contributed = saleStart + 100
)

func eth(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1_000_000_000_000_000_000))
}

func testSettings() config.Settings {
	s := config.DefaultSettings()
	s.Owner = owner
	s.Peers = config.Peers{
		Registration:       registration,
		Engine:             engine,
		BaseAssetToken:     baseToken,
		LockerToken:        locker,
		AMMRouter:          ammRouter,
		Treasury:           treasury,
		PoolManager:        poolManager,
		AirdropDistributor: airdrop,
	}
	return s
}

type harness struct {
	t       *testing.T
	core    *core.DeterministicCore
	persist chan core.CoreOutput
	router  core.LiquidityRouter
}

// newTestCore creates a DeterministicCore with buffered channels and no DB checker.
func newTestCore(t *testing.T) *harness {
	return newTestCoreWith(t, amm.NewRouter())
}

func newTestCoreWith(t *testing.T, router core.LiquidityRouter) *harness {
	persist := make(chan core.CoreOutput, 4096)
	proj := make(chan core.CoreOutput, 4096)
	c := core.NewDeterministicCore(0, persist, proj, nil, nil, core.Dependencies{
		Settings:          testSettings(),
		Deployer:          amm.NewDeployer(),
		Router:            router,
		IdempotencyLRUCap: 1024,
	})
	return &harness{t: t, core: c, persist: persist, router: router}
}

// submit stamps the header with a fresh key and the partition's next
// source sequence, then processes the command.
func (h *harness) submit(evt event.Event, hdr *event.Header, sender common.Address, now int64) core.Result {
	h.t.Helper()
	hdr.Key = uuid.New()
	hdr.Sender = sender
	hdr.Now = now
	hdr.Sequence = h.core.ExpectedSourceSequence(core.PartitionFor(evt))
	res, err := h.core.ProcessEvent(evt)
	require.NoError(h.t, err)
	return res
}

func (h *harness) mustApply(evt event.Event, hdr *event.Header, sender common.Address, now int64) core.Result {
	h.t.Helper()
	res := h.submit(evt, hdr, sender, now)
	require.NoError(h.t, res.Rejected)
	require.True(h.t, res.OK())
	return res
}

func (h *harness) mustReject(target error, evt event.Event, hdr *event.Header, sender common.Address, now int64) core.Result {
	h.t.Helper()
	res := h.submit(evt, hdr, sender, now)
	require.Error(h.t, res.Rejected)
	assert.ErrorIs(h.t, res.Rejected, target)
	return res
}

func (h *harness) createSale(softCap, hardCap, supply *uint256.Int) uint64 {
	h.t.Helper()
	e := &event.CreateSale{
		StartTime:   saleStart,
		EndTime:     saleEnd,
		SoftCap:     softCap,
		HardCap:     hardCap,
		TotalSupply: supply,
		Name:        "Liftoff Token",
		Symbol:      "LIFT",
		DevAddress:  dev,
	}
	res := h.mustApply(e, &e.Header, registration, createdAt)
	var out core.SaleCreatedResult
	require.NoError(h.t, json.Unmarshal(res.Output, &out))
	return out.SaleID
}

func (h *harness) contribute(saleID uint64, from common.Address, amount *uint256.Int, now int64) core.Result {
	h.t.Helper()
	e := &event.Contribute{SaleID: saleID, Amount: amount, Form: event.ContributionNative}
	return h.submit(e, &e.Header, from, now)
}

func (h *harness) finalize(saleID uint64, now int64) core.Result {
	h.t.Helper()
	e := &event.Finalize{SaleID: saleID}
	return h.submit(e, &e.Header, alice, now)
}

func (h *harness) claimReward(saleID uint64, who common.Address, now int64) core.Result {
	h.t.Helper()
	e := &event.ClaimReward{SaleID: saleID}
	return h.submit(e, &e.Header, who, now)
}

func (h *harness) redeem(saleID uint64, who common.Address, tokens *uint256.Int, now int64) core.Result {
	h.t.Helper()
	e := &event.Redeem{SaleID: saleID, TokenAmount: tokens}
	return h.submit(e, &e.Header, who, now)
}

func (h *harness) claimInsurance(saleID uint64, now int64) core.Result {
	h.t.Helper()
	e := &event.ClaimInsurance{SaleID: saleID}
	return h.submit(e, &e.Header, bob, now)
}

func (h *harness) wallet(owner common.Address, asset ledger.AssetID) *uint256.Int {
	b := h.core.Balance(ledger.NewUserAccountKey(owner, asset))
	return &b
}

func (h *harness) drain() []core.CoreOutput {
	var out []core.CoreOutput
	for {
		select {
		case o := <-h.persist:
			out = append(out, o)
		default:
			return out
		}
	}
}

// fundedSale runs 300 + 200 + 500 XETH into a sale. The soft cap is met
// by the second contribution, so the timer pulls the end in to endsAt.
func fundedSale(h *harness) (saleID uint64, endsAt int64) {
	h.t.Helper()
	saleID = h.createSale(eth(500), eth(2_000), eth(1_000_000))
	require.True(h.t, h.contribute(saleID, alice, eth(300), contributed).OK())
	require.True(h.t, h.contribute(saleID, bob, eth(200), contributed+1).OK())
	require.True(h.t, h.contribute(saleID, carol, eth(500), contributed+2).OK())
	return saleID, contributed + 1 + day
}

// --- Sale Engine ---

func TestSpark_AllocatesSupplyAndSeedsInsurance(t *testing.T) {
	h := newTestCore(t)
	saleID, endsAt := fundedSale(h)

	sale, err := h.core.Sale(saleID)
	require.NoError(t, err)
	assert.Equal(t, eth(1_000), sale.TotalIgnited)
	assert.Equal(t, contributed+1+day, sale.EndTime, "soft cap timer pulls the end in")
	assert.Equal(t, endsAt, sale.EndTime)

	res := h.finalize(saleID, endsAt)
	require.True(t, res.OK())

	var out core.FinalizeResult
	require.NoError(t, json.Unmarshal(res.Output, &out))
	assert.Equal(t, "Sparked", out.Status)
	assert.Equal(t, eth(1_000_000), out.Supply)
	assert.Equal(t, eth(800_000), out.RewardSupply)
	assert.NotEqual(t, common.Address{}, out.Token)
	assert.NotEqual(t, common.Address{}, out.Pair)

	tok := ledger.TokenAsset(saleID)
	escrowTok := h.core.Balance(ledger.NewSystemAccountKey(saleID, ledger.SubTypeSaleEscrow, tok))
	escrowX := h.core.Balance(ledger.NewSystemAccountKey(saleID, ledger.SubTypeSaleEscrow, ledger.AssetXETH))
	reserveX := h.core.Balance(ledger.NewSystemAccountKey(saleID, ledger.SubTypeInsuranceReserve, ledger.AssetXETH))
	reserveTok := h.core.Balance(ledger.NewSystemAccountKey(saleID, ledger.SubTypeInsuranceReserve, tok))
	pairX := h.core.Balance(ledger.NewPairAccountKey(out.Pair, ledger.AssetXETH))
	pairTok := h.core.Balance(ledger.NewPairAccountKey(out.Pair, tok))

	assert.Equal(t, eth(800_000), &escrowTok, "escrow keeps exactly the reward supply")
	assert.True(t, escrowX.IsZero(), "escrow base asset is fully distributed")
	assert.Equal(t, eth(850), &reserveX)
	assert.Equal(t, eth(150), &pairX)
	assert.Equal(t, uint256.MustFromDecimal("121212121212121212121212"), &pairTok)
	assert.Equal(t, uint256.MustFromDecimal("68787878787878787878788"), &reserveTok)
	assert.Equal(t, eth(10_000), h.wallet(airdrop, tok))

	reserves, ok := h.router.(*amm.Router).GetReserves(out.Pair)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{reserves.Reserve0.Dec(), reserves.Reserve1.Dec()}, []string{pairX.Dec(), pairTok.Dec()})

	fund := h.core.Fund(saleID)
	require.NotNil(t, fund)
	assert.True(t, fund.IsRegistered)
	assert.False(t, fund.IsInitialized)
}

func TestClaimReward_ProRataAndOnce(t *testing.T) {
	h := newTestCore(t)
	saleID, endsAt := fundedSale(h)
	require.True(t, h.finalize(saleID, endsAt).OK())
	tok := ledger.TokenAsset(saleID)

	require.True(t, h.claimReward(saleID, alice, endsAt+1).OK())
	assert.Equal(t, eth(240_000), h.wallet(alice, tok))

	res := h.claimReward(saleID, alice, endsAt+2)
	assert.ErrorIs(t, res.Rejected, errs.ErrAlreadyClaimed)
	assert.Equal(t, eth(240_000), h.wallet(alice, tok), "second claim moves nothing")

	// A third party may claim on someone's behalf; tokens go to the beneficiary.
	e := &event.ClaimReward{SaleID: saleID, Beneficiary: carol}
	h.mustApply(e, &e.Header, bob, endsAt+3)
	assert.Equal(t, eth(400_000), h.wallet(carol, tok))

	res = h.claimReward(saleID, dev, endsAt+4)
	assert.ErrorIs(t, res.Rejected, errs.ErrNothingToClaim)

	sale, err := h.core.Sale(saleID)
	require.NoError(t, err)
	assert.Equal(t, eth(640_000), sale.RewardsPaid)
}

func TestFinalize_ExactlyAtSoftCapSparks(t *testing.T) {
	h := newTestCore(t)
	saleID := h.createSale(eth(1_000), eth(3_000), eth(1_000_000))
	require.True(t, h.contribute(saleID, alice, eth(300), contributed).OK())
	require.True(t, h.contribute(saleID, bob, eth(200), contributed+1).OK())
	require.True(t, h.contribute(saleID, carol, eth(500), contributed+2).OK())

	res := h.finalize(saleID, saleEnd)
	require.True(t, res.OK())
	var out core.FinalizeResult
	require.NoError(t, json.Unmarshal(res.Output, &out))
	assert.Equal(t, "Sparked", out.Status)

	sale, err := h.core.Sale(saleID)
	require.NoError(t, err)
	assert.Equal(t, state.SaleStatusSparked, sale.FinalStatus)
	assert.Equal(t, sale.SoftCap, sale.TotalIgnited)
}

func TestClaimReward_RoundingDustStaysInEscrow(t *testing.T) {
	h := newTestCore(t)
	saleID := h.createSale(eth(500), eth(2_000), eth(1_000_000))
	require.True(t, h.contribute(saleID, alice, eth(100), contributed).OK())
	require.True(t, h.contribute(saleID, bob, eth(300), contributed+1).OK())
	require.True(t, h.contribute(saleID, carol, eth(300), contributed+2).OK())
	require.True(t, h.finalize(saleID, saleEnd).OK())
	tok := ledger.TokenAsset(saleID)

	paid := new(uint256.Int)
	for i, who := range []common.Address{alice, bob, carol} {
		require.True(t, h.claimReward(saleID, who, saleEnd+1+int64(i)).OK())
		paid.Add(paid, h.wallet(who, tok))
	}
	assert.Equal(t, uint256.MustFromDecimal("114285714285714285714285"), h.wallet(alice, tok))
	assert.Equal(t, uint256.MustFromDecimal("342857142857142857142857"), h.wallet(bob, tok))

	sale, err := h.core.Sale(saleID)
	require.NoError(t, err)
	assert.Equal(t, paid, sale.RewardsPaid)
	assert.False(t, paid.Gt(sale.RewardSupply))
	dust := new(uint256.Int).Sub(sale.RewardSupply, paid)
	assert.Equal(t, uint256.NewInt(1), dust)

	escrowTok := h.core.Balance(ledger.NewSystemAccountKey(saleID, ledger.SubTypeSaleEscrow, tok))
	assert.Equal(t, dust, &escrowTok, "dust is not redistributed")
}

func TestRefund_BelowSoftCap(t *testing.T) {
	h := newTestCore(t)
	saleID := h.createSale(eth(500), eth(2_000), eth(1_000_000))
	require.True(t, h.contribute(saleID, alice, eth(100), contributed).OK())
	require.True(t, h.contribute(saleID, bob, eth(200), contributed+1).OK())

	res := h.finalize(saleID, saleEnd-1)
	assert.ErrorIs(t, res.Rejected, errs.ErrNotReady, "window still open below hard cap")

	res = h.finalize(saleID, saleEnd)
	require.True(t, res.OK())
	var out core.FinalizeResult
	require.NoError(t, json.Unmarshal(res.Output, &out))
	assert.Equal(t, "Refunding", out.Status)

	res = h.claimReward(saleID, alice, saleEnd+1)
	assert.ErrorIs(t, res.Rejected, errs.ErrNotSparked)

	e := &event.ClaimRefund{SaleID: saleID}
	h.mustApply(e, &e.Header, alice, saleEnd+1)
	assert.Equal(t, eth(100), h.wallet(alice, ledger.AssetXETH))

	e = &event.ClaimRefund{SaleID: saleID}
	h.mustReject(errs.ErrAlreadyRefunded, e, &e.Header, alice, saleEnd+2)

	e = &event.ClaimRefund{SaleID: saleID}
	res = h.mustApply(e, &e.Header, bob, saleEnd+2)
	var refund core.RefundResult
	require.NoError(t, json.Unmarshal(res.Output, &refund))
	assert.Equal(t, eth(200), refund.Refund)
	assert.Equal(t, "Refunded", refund.Status)

	sale, err := h.core.Sale(saleID)
	require.NoError(t, err)
	assert.Equal(t, state.SaleStatusRefunded, sale.FinalStatus)
	assert.Equal(t, eth(300), sale.RefundedTotal)
	escrow := h.core.Balance(ledger.NewSystemAccountKey(saleID, ledger.SubTypeSaleEscrow, ledger.AssetXETH))
	assert.True(t, escrow.IsZero())
}

func TestFinalize_NothingContributedIsRefunded(t *testing.T) {
	h := newTestCore(t)
	saleID := h.createSale(eth(500), eth(2_000), eth(1_000_000))

	res := h.finalize(saleID, saleEnd)
	require.True(t, res.OK())
	sale, err := h.core.Sale(saleID)
	require.NoError(t, err)
	assert.Equal(t, state.SaleStatusRefunded, sale.FinalStatus)

	res = h.finalize(saleID, saleEnd+1)
	assert.ErrorIs(t, res.Rejected, errs.ErrNotReady)
}

func TestContribute_WindowAndHardCap(t *testing.T) {
	h := newTestCore(t)
	saleID := h.createSale(eth(500), eth(1_000), eth(1_000_000))

	res := h.contribute(saleID, alice, eth(1), saleStart-1)
	assert.ErrorIs(t, res.Rejected, errs.ErrNotIgniting)

	res = h.contribute(saleID, alice, new(uint256.Int), contributed)
	assert.ErrorIs(t, res.Rejected, errs.ErrInvalidAmount)

	require.True(t, h.contribute(saleID, alice, eth(900), contributed).OK())
	res = h.contribute(saleID, bob, eth(101), contributed+1)
	assert.ErrorIs(t, res.Rejected, errs.ErrExceedsHardCap)

	require.True(t, h.contribute(saleID, bob, eth(100), contributed+2).OK())

	// At the hard cap the sale is spark-ready before its end time.
	res = h.finalize(saleID, contributed+3)
	require.True(t, res.OK())

	res = h.contribute(saleID, carol, eth(1), contributed+4)
	assert.ErrorIs(t, res.Rejected, errs.ErrNotIgniting)
}

func TestWithdrawContribution(t *testing.T) {
	h := newTestCore(t)
	saleID := h.createSale(eth(500), eth(2_000), eth(1_000_000))
	require.True(t, h.contribute(saleID, alice, eth(40), contributed).OK())
	require.True(t, h.contribute(saleID, bob, eth(60), contributed+1).OK())

	e := &event.WithdrawContribution{SaleID: saleID}
	res := h.mustApply(e, &e.Header, alice, contributed+2)
	var out core.WithdrawResult
	require.NoError(t, json.Unmarshal(res.Output, &out))
	assert.Equal(t, eth(40), out.Amount)
	assert.Equal(t, eth(60), out.TotalIgnited)
	assert.Equal(t, eth(40), h.wallet(alice, ledger.AssetXETH))

	e = &event.WithdrawContribution{SaleID: saleID}
	h.mustReject(errs.ErrNothingToClaim, e, &e.Header, alice, contributed+3)

	entry, err := h.core.Contributor(saleID, alice)
	require.NoError(t, err)
	assert.True(t, entry.Contributed.IsZero())
}

func TestContribute_TokenPullFromWallet(t *testing.T) {
	h := newTestCore(t)
	saleID := h.createSale(eth(500), eth(2_000), eth(1_000_000))

	dep := &event.BaseDeposit{Recipient: alice, Amount: eth(50)}
	h.mustReject(errs.ErrSenderNotAuthorized, dep, &dep.Header, alice, createdAt)
	dep = &event.BaseDeposit{Recipient: alice, Amount: eth(50)}
	h.mustApply(dep, &dep.Header, baseToken, createdAt)
	assert.Equal(t, eth(50), h.wallet(alice, ledger.AssetXETH))

	pull := &event.Contribute{SaleID: saleID, Amount: eth(60), Form: event.ContributionTokenPull, Recipient: bob}
	h.mustReject(errs.ErrInsufficientBalance, pull, &pull.Header, alice, contributed)

	pull = &event.Contribute{SaleID: saleID, Amount: eth(50), Form: event.ContributionTokenPull, Recipient: bob}
	h.mustApply(pull, &pull.Header, alice, contributed)

	assert.True(t, h.wallet(alice, ledger.AssetXETH).IsZero())
	entry, err := h.core.Contributor(saleID, bob)
	require.NoError(t, err)
	assert.Equal(t, eth(50), entry.Contributed, "recipient owns the contribution")
}

func TestFixedRateSale_SupplyFollowsRaise(t *testing.T) {
	h := newTestCore(t)
	e := &event.CreateSale{
		StartTime:  saleStart,
		EndTime:    saleEnd,
		SoftCap:    eth(1),
		FixedRate:  uint256.NewInt(1_000),
		Name:       "Fixed",
		Symbol:     "FIX",
		DevAddress: dev,
	}
	res := h.mustApply(e, &e.Header, registration, createdAt)
	var created core.SaleCreatedResult
	require.NoError(t, json.Unmarshal(res.Output, &created))

	require.True(t, h.contribute(created.SaleID, alice, eth(2), contributed).OK())
	require.True(t, h.finalize(created.SaleID, saleEnd).OK())

	sale, err := h.core.Sale(created.SaleID)
	require.NoError(t, err)
	assert.Equal(t, eth(2_000), sale.EffectiveSupply)
	assert.Equal(t, eth(1_600), sale.RewardSupply)
}

func TestUpdateEndTime(t *testing.T) {
	h := newTestCore(t)
	saleID := h.createSale(eth(500), eth(2_000), eth(1_000_000))

	e := &event.UpdateEndTime{SaleID: saleID, NewEnd: saleEnd + day}
	h.mustReject(errs.ErrSenderNotAuthorized, e, &e.Header, alice, createdAt)

	e = &event.UpdateEndTime{SaleID: saleID, NewEnd: saleStart}
	h.mustReject(errs.ErrInvalidWindow, e, &e.Header, owner, createdAt)

	e = &event.UpdateEndTime{SaleID: saleID, NewEnd: saleEnd + day}
	h.mustApply(e, &e.Header, owner, createdAt)

	sale, err := h.core.Sale(saleID)
	require.NoError(t, err)
	assert.Equal(t, saleEnd+day, sale.EndTime)
}

func TestCreateSale_OnlyRegistration(t *testing.T) {
	h := newTestCore(t)
	e := &event.CreateSale{
		StartTime:   saleStart,
		EndTime:     saleEnd,
		SoftCap:     eth(500),
		HardCap:     eth(2_000),
		TotalSupply: eth(1_000_000),
		Name:        "Liftoff Token",
		Symbol:      "LIFT",
		DevAddress:  dev,
	}
	h.mustReject(errs.ErrSenderNotAuthorized, e, &e.Header, alice, createdAt)

	_, err := h.core.Sale(1)
	assert.ErrorIs(t, err, errs.ErrSaleNotFound)
}

func TestCreateSale_HardCapBoundedBelowSignBit(t *testing.T) {
	h := newTestCore(t)
	e := &event.CreateSale{
		StartTime:   saleStart,
		EndTime:     saleEnd,
		SoftCap:     eth(500),
		HardCap:     new(uint256.Int).SetAllOne(),
		TotalSupply: eth(1_000_000),
		Name:        "Liftoff Token",
		Symbol:      "LIFT",
		DevAddress:  dev,
	}
	h.mustReject(errs.ErrInvalidCaps, e, &e.Header, registration, createdAt)

	// At the bound, a contribution reaching the sign bit is refused and the
	// core keeps running.
	saleID := h.createSale(eth(500), state.MaxCap.Clone(), eth(1_000_000))
	half := new(uint256.Int).Lsh(uint256.NewInt(1), 255)
	res := h.contribute(saleID, alice, half, contributed)
	assert.ErrorIs(t, res.Rejected, errs.ErrExceedsHardCap)

	require.True(t, h.contribute(saleID, alice, eth(1), contributed+1).OK())
	sale, err := h.core.Sale(saleID)
	require.NoError(t, err)
	assert.Equal(t, eth(1), sale.TotalIgnited)
}

func TestBaseDeposit_PastSignBitRejected(t *testing.T) {
	h := newTestCore(t)
	quarter := new(uint256.Int).Lsh(uint256.NewInt(1), 254)

	dep := &event.BaseDeposit{Recipient: alice, Amount: quarter}
	h.mustApply(dep, &dep.Header, baseToken, createdAt)
	dep = &event.BaseDeposit{Recipient: alice, Amount: quarter}
	h.mustReject(errs.ErrArithmetic, dep, &dep.Header, baseToken, createdAt)
	assert.Equal(t, quarter, h.wallet(alice, ledger.AssetXETH))

	dep = &event.BaseDeposit{Recipient: alice, Amount: eth(1)}
	h.mustApply(dep, &dep.Header, baseToken, createdAt)
}

func TestRegisterProject_SoftCapTimerIsTheWindow(t *testing.T) {
	h := newTestCore(t)
	launch := createdAt + day
	e := &event.RegisterProject{
		LaunchTime:  launch,
		SoftCap:     eth(500),
		HardCap:     eth(2_000),
		TotalSupply: eth(1_000_000),
		Name:        "Gate",
		Symbol:      "GATE",
	}
	res := h.mustApply(e, &e.Header, dev, createdAt)
	var created core.SaleCreatedResult
	require.NoError(t, json.Unmarshal(res.Output, &created))

	require.True(t, h.contribute(created.SaleID, alice, eth(600), launch+10).OK())
	sale, err := h.core.Sale(created.SaleID)
	require.NoError(t, err)
	assert.Equal(t, launch+day, sale.EndTime, "meeting the soft cap does not shorten a gate sale")
}

func TestRegisterProject_LaunchWindow(t *testing.T) {
	h := newTestCore(t)
	now := int64(10_000)

	project := func(launch int64) *event.RegisterProject {
		return &event.RegisterProject{
			LaunchTime:  launch,
			SoftCap:     eth(10),
			HardCap:     eth(100),
			TotalSupply: eth(1_000_000),
			Name:        "Project",
			Symbol:      "PRJ",
		}
	}

	e := project(now + day - 1)
	h.mustReject(errs.ErrLaunchTooEarly, e, &e.Header, dev, now)
	e = project(now + 7*day + 1)
	h.mustReject(errs.ErrLaunchTooLate, e, &e.Header, dev, now)

	e = project(now + 2*day)
	res := h.mustApply(e, &e.Header, dev, now)
	var out core.SaleCreatedResult
	require.NoError(t, json.Unmarshal(res.Output, &out))
	assert.Equal(t, uint64(1), out.SaleID)

	sale, err := h.core.Sale(out.SaleID)
	require.NoError(t, err)
	assert.Equal(t, dev, sale.DevAddress)
	assert.Equal(t, now+2*day, sale.StartTime)
	assert.Equal(t, now+3*day, sale.EndTime)
}

// --- Insurance Engine ---

func sparkAndInsure(h *harness) (saleID uint64, insuredAt int64) {
	h.t.Helper()
	saleID, endsAt := fundedSale(h)
	require.True(h.t, h.finalize(saleID, endsAt).OK())
	for _, who := range []common.Address{alice, bob, carol} {
		require.True(h.t, h.claimReward(saleID, who, endsAt+1).OK())
	}
	insuredAt = endsAt + 10
	e := &event.CreateInsurance{SaleID: saleID}
	h.mustApply(e, &e.Header, dev, insuredAt)
	return saleID, insuredAt
}

func TestSettingsUpdate_OwnerOnlyAndValidated(t *testing.T) {
	h := newTestCore(t)

	next := testSettings()
	next.Timing.SoftCapTimer = 0
	next.Timing.InsurancePeriod = 10 * day

	e := &event.SettingsUpdate{Settings: next}
	h.mustReject(errs.ErrSenderNotAuthorized, e, &e.Header, alice, createdAt)

	bad := next
	bad.BasisPoints.PoolBP++
	e = &event.SettingsUpdate{Settings: bad}
	h.mustReject(errs.ErrInvalidSettings, e, &e.Header, owner, createdAt)
	assert.Equal(t, periodSecs, h.core.Settings().Timing.InsurancePeriod)

	e = &event.SettingsUpdate{Settings: next}
	h.mustApply(e, &e.Header, owner, createdAt)
	assert.Equal(t, 10*day, h.core.Settings().Timing.InsurancePeriod)

	// Without the soft cap timer, meeting the soft cap leaves the end alone.
	saleID := h.createSale(eth(500), eth(2_000), eth(1_000_000))
	require.True(t, h.contribute(saleID, alice, eth(600), contributed).OK())
	sale, err := h.core.Sale(saleID)
	require.NoError(t, err)
	assert.Equal(t, saleEnd, sale.EndTime)
}

func TestRegisterInsurance_Guards(t *testing.T) {
	h := newTestCore(t)
	saleID, endsAt := fundedSale(h)

	e := &event.RegisterInsurance{SaleID: saleID}
	h.mustReject(errs.ErrNotSparked, e, &e.Header, engine, contributed+5)

	require.True(t, h.finalize(saleID, endsAt).OK())

	e = &event.RegisterInsurance{SaleID: saleID}
	h.mustReject(errs.ErrNotEngine, e, &e.Header, alice, endsAt+1)
	e = &event.RegisterInsurance{SaleID: saleID}
	h.mustReject(errs.ErrAlreadyRegistered, e, &e.Header, engine, endsAt+1)

	c := &event.CreateInsurance{SaleID: saleID}
	h.mustApply(c, &c.Header, alice, endsAt+2)
	c = &event.CreateInsurance{SaleID: saleID}
	h.mustReject(errs.ErrCannotCreateInsurance, c, &c.Header, alice, endsAt+3)

	fund := h.core.Fund(saleID)
	require.NotNil(t, fund)
	assert.Equal(t, eth(850), fund.BaseXEth)
	assert.Equal(t, eth(10), fund.BaseFee)
	assert.Equal(t, uint256.MustFromDecimal("808080808080808080808"), fund.TokensPerEthWad)
	assert.Equal(t, uint256.MustFromDecimal("68787878787878787878788"), fund.BaseTokenLidPool)
}

func TestRedeem_FloorPriceAndBudget(t *testing.T) {
	h := newTestCore(t)
	saleID, insuredAt := sparkAndInsure(h)
	tok := ledger.TokenAsset(saleID)

	quote, err := h.core.GetRedeemValue(saleID, eth(240_000))
	require.NoError(t, err)
	assert.Equal(t, eth(297), quote)

	require.True(t, h.redeem(saleID, alice, eth(240_000), insuredAt+1).OK())
	assert.Equal(t, eth(297), h.wallet(alice, ledger.AssetXETH))
	assert.True(t, h.wallet(alice, tok).IsZero())

	require.True(t, h.redeem(saleID, carol, eth(400_000), insuredAt+2).OK())
	assert.Equal(t, eth(495), h.wallet(carol, ledger.AssetXETH))

	// 792 of 850 is spent: bob's 198 does not fit inside the period.
	res := h.redeem(saleID, bob, eth(160_000), insuredAt+3)
	assert.ErrorIs(t, res.Rejected, errs.ErrExceedsAvailableInsurance)
	assert.Equal(t, eth(160_000), h.wallet(bob, tok))

	res = h.redeem(saleID, dev, eth(1), insuredAt+4)
	assert.ErrorIs(t, res.Rejected, errs.ErrInsufficientBalance)

	res = h.redeem(saleID, bob, new(uint256.Int), insuredAt+5)
	assert.ErrorIs(t, res.Rejected, errs.ErrInvalidAmount)

	fund := h.core.Fund(saleID)
	assert.Equal(t, eth(792), fund.RedeemedXEth)
}

func TestRedeem_ExactlyAtBudget(t *testing.T) {
	h := newTestCore(t)
	saleID, insuredAt := sparkAndInsure(h)

	require.True(t, h.redeem(saleID, alice, eth(240_000), insuredAt+1).OK())
	require.True(t, h.redeem(saleID, carol, eth(400_000), insuredAt+2).OK())

	// 58 XETH of 850 remain. One wei more is refused.
	fund := h.core.Fund(saleID)
	exact := new(uint256.Int).Mul(uint256.NewInt(58), fund.TokensPerEthWad)
	over := new(uint256.Int).AddUint64(exact, 809)
	quote, err := h.core.GetRedeemValue(saleID, over)
	require.NoError(t, err)
	assert.Equal(t, new(uint256.Int).AddUint64(eth(58), 1), quote)

	res := h.redeem(saleID, bob, over, insuredAt+3)
	assert.ErrorIs(t, res.Rejected, errs.ErrExceedsAvailableInsurance)

	res = h.redeem(saleID, bob, exact, insuredAt+4)
	require.True(t, res.OK())
	var out core.RedeemResult
	require.NoError(t, json.Unmarshal(res.Output, &out))
	assert.Equal(t, eth(58), out.XEthOut)
	assert.False(t, out.Unwound)

	fund = h.core.Fund(saleID)
	assert.Equal(t, fund.BaseXEth, fund.RedeemedXEth)
	assert.False(t, fund.IsUnwound)
}

func TestRedeem_UnwindsAfterPeriod(t *testing.T) {
	h := newTestCore(t)
	saleID, insuredAt := sparkAndInsure(h)
	tok := ledger.TokenAsset(saleID)

	require.True(t, h.redeem(saleID, alice, eth(240_000), insuredAt+1).OK())
	require.True(t, h.redeem(saleID, carol, eth(400_000), insuredAt+2).OK())

	after := insuredAt + periodSecs + 1
	exhausted, err := h.core.IsInsuranceExhausted(saleID, after, eth(198))
	require.NoError(t, err)
	assert.True(t, exhausted)

	reserveTok := h.core.Balance(ledger.NewSystemAccountKey(saleID, ledger.SubTypeInsuranceReserve, tok))

	res := h.redeem(saleID, bob, eth(160_000), after)
	require.True(t, res.OK())
	var out core.RedeemResult
	require.NoError(t, json.Unmarshal(res.Output, &out))
	assert.True(t, out.Unwound)
	assert.True(t, out.XEthOut.IsZero())

	assert.Equal(t, eth(160_000), h.wallet(bob, tok), "unwinding redemption moves nothing")
	assert.Equal(t, &reserveTok, h.wallet(poolManager, tok))
	assert.Equal(t, eth(48), h.wallet(treasury, ledger.AssetXETH), "surplus less the owed base fee")

	res = h.redeem(saleID, bob, eth(1), after+1)
	assert.ErrorIs(t, res.Rejected, errs.ErrInsuranceUnwound)

	// The base fee stays payable after unwind, once.
	res = h.claimInsurance(saleID, after+2)
	require.True(t, res.OK())
	assert.Equal(t, eth(58), h.wallet(treasury, ledger.AssetXETH))

	res = h.claimInsurance(saleID, after+3)
	assert.ErrorIs(t, res.Rejected, errs.ErrInsuranceUnwound)

	reserveX := h.core.Balance(ledger.NewSystemAccountKey(saleID, ledger.SubTypeInsuranceReserve, ledger.AssetXETH))
	assert.True(t, reserveX.IsZero())
}

func TestClaimInsurance_VestsPerCycle(t *testing.T) {
	h := newTestCore(t)
	saleID, insuredAt := sparkAndInsure(h)
	tok := ledger.TokenAsset(saleID)

	// Cycle 0: only the base fee is payable.
	res := h.claimInsurance(saleID, insuredAt)
	require.True(t, res.OK())
	var fee core.ClaimResult
	require.NoError(t, json.Unmarshal(res.Output, &fee))
	assert.Equal(t, eth(10), fee.BaseFee)
	assert.True(t, fee.XEth.IsZero())
	assert.Equal(t, eth(10), h.wallet(treasury, ledger.AssetXETH))

	res = h.claimInsurance(saleID, insuredAt+1)
	assert.ErrorIs(t, res.Rejected, errs.ErrCycleNotReached)

	cycle1 := insuredAt + cycleSecs
	wantX, err := h.core.GetTotalXethClaimable(saleID, cycle1)
	require.NoError(t, err)
	assert.Equal(t, eth(99), wantX, "(1000 - 10 claimed) / 10")
	wantTok, err := h.core.GetTotalTokenClaimable(saleID, cycle1)
	require.NoError(t, err)

	res = h.claimInsurance(saleID, cycle1)
	require.True(t, res.OK())
	var claim core.ClaimResult
	require.NoError(t, json.Unmarshal(res.Output, &claim))
	assert.Equal(t, int64(1), claim.Cycle)
	assert.Equal(t, wantX, claim.XEth)
	assert.Equal(t, wantTok, claim.Tokens)
	assert.True(t, claim.BaseFee.IsZero())
	assert.Equal(t, wantTok, h.wallet(poolManager, tok))

	paid := new(uint256.Int)
	for _, who := range []common.Address{locker, dev, treasury, poolManager} {
		paid.Add(paid, h.wallet(who, ledger.AssetXETH))
	}
	assert.Equal(t, eth(109), paid, "fee plus the vested share, fully split")

	res = h.claimInsurance(saleID, cycle1+1)
	assert.ErrorIs(t, res.Rejected, errs.ErrNothingToClaim)

	require.True(t, h.claimInsurance(saleID, insuredAt+2*cycleSecs).OK())
	fund := h.core.Fund(saleID)
	assert.Equal(t, int64(2), fund.LastClaimCycle)
}

// --- Pipeline ---

func TestRejectedCommand_ConsumesSequenceAndLeavesState(t *testing.T) {
	h := newTestCore(t)
	saleID := h.createSale(eth(500), eth(1_000), eth(1_000_000))
	require.True(t, h.contribute(saleID, alice, eth(100), contributed).OK())
	h.drain()

	before := h.core.GetSequence()
	res := h.contribute(saleID, bob, eth(901), contributed+1)
	require.ErrorIs(t, res.Rejected, errs.ErrExceedsHardCap)
	assert.Equal(t, before, res.Sequence)
	assert.Equal(t, before+1, h.core.GetSequence())

	outs := h.drain()
	require.Len(t, outs, 1)
	env := outs[0].Envelope
	assert.Equal(t, "rejected", env.Status())
	require.NotNil(t, env.Rejection)
	assert.Equal(t, "ExceedsHardCap", env.Rejection.Code)
	assert.Equal(t, "CapacityError", env.Rejection.Kind)
	assert.Nil(t, outs[0].Batch)
	assert.Nil(t, outs[0].Sale)

	sale, err := h.core.Sale(saleID)
	require.NoError(t, err)
	assert.Equal(t, eth(100), sale.TotalIgnited)
	entry, err := h.core.Contributor(saleID, bob)
	require.NoError(t, err)
	assert.True(t, entry.Contributed.IsZero())
}

type failingRouter struct{}

func (failingRouter) AddLiquidity(_, _, _ common.Address, _, _ *uint256.Int) (common.Address, error) {
	return common.Address{}, errors.New("pool creation reverted")
}

func TestSparkFailure_RollsBack(t *testing.T) {
	h := newTestCoreWith(t, failingRouter{})
	saleID, endsAt := fundedSale(h)

	res := h.finalize(saleID, endsAt)
	require.Error(t, res.Rejected)

	sale, err := h.core.Sale(saleID)
	require.NoError(t, err)
	assert.Equal(t, state.SaleStatusIgniting, sale.StatusAt(endsAt))
	assert.Nil(t, h.core.Fund(saleID))
	escrow := h.core.Balance(ledger.NewSystemAccountKey(saleID, ledger.SubTypeSaleEscrow, ledger.AssetXETH))
	assert.Equal(t, eth(1_000), &escrow)
}

func TestClockRegression_Rejected(t *testing.T) {
	h := newTestCore(t)
	saleID := h.createSale(eth(500), eth(2_000), eth(1_000_000))
	require.True(t, h.contribute(saleID, alice, eth(1), contributed+50).OK())

	res := h.contribute(saleID, bob, eth(1), contributed+49)
	assert.ErrorIs(t, res.Rejected, errs.ErrClockRegression)

	// A rejected command does not advance the clock.
	require.True(t, h.contribute(saleID, bob, eth(1), contributed+50).OK())
}

func TestDuplicate_NotReapplied(t *testing.T) {
	h := newTestCore(t)
	saleID := h.createSale(eth(500), eth(2_000), eth(1_000_000))

	e := &event.Contribute{SaleID: saleID, Amount: eth(5)}
	h.mustApply(e, &e.Header, alice, contributed)
	h.drain()

	res, err := h.core.ProcessEvent(e)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, int64(-1), res.Sequence)
	assert.Empty(t, h.drain(), "duplicates are not logged")

	entry, err := h.core.Contributor(saleID, alice)
	require.NoError(t, err)
	assert.Equal(t, eth(5), entry.Contributed)
}

func TestSequenceGap_Refused(t *testing.T) {
	h := newTestCore(t)
	saleID := h.createSale(eth(500), eth(2_000), eth(1_000_000))

	e := &event.Contribute{SaleID: saleID, Amount: eth(5)}
	e.Key = uuid.New()
	e.Sender = alice
	e.Now = contributed
	e.Sequence = h.core.ExpectedSourceSequence(core.PartitionFor(e)) + 1

	before := h.core.GetSequence()
	_, err := h.core.ProcessEvent(e)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sequence gap")
	assert.Equal(t, before, h.core.GetSequence())
}

func TestPartitionFor_NamespacedBySource(t *testing.T) {
	scoped := &event.Contribute{Header: event.Header{Source: "nats"}, SaleID: 7}
	assert.Equal(t, "nats/sale:7", core.PartitionFor(scoped))
	assert.Equal(t, "default/global", core.PartitionFor(&event.CreateSale{}))
}

// --- Recovery ---

func runLifecycle(h *harness) {
	h.t.Helper()
	saleID, insuredAt := sparkAndInsure(h)
	require.True(h.t, h.redeem(saleID, alice, eth(240_000), insuredAt+1).OK())
	h.redeem(saleID, bob, eth(999_999), insuredAt+2)
	require.True(h.t, h.claimInsurance(saleID, insuredAt+cycleSecs).OK())

	dep := &event.BaseDeposit{Recipient: carol, Amount: eth(3)}
	h.mustApply(dep, &dep.Header, baseToken, insuredAt+cycleSecs+1)
	h.contribute(saleID, carol, eth(3), insuredAt+cycleSecs+2)
}

func TestReplay_ReproducesHashChain(t *testing.T) {
	live := newTestCore(t)
	runLifecycle(live)
	logged := live.drain()
	require.NotEmpty(t, logged)

	replayed := newTestCore(t)
	for _, out := range logged {
		evt, err := event.Decode(out.Envelope.EventType, out.Envelope.Payload)
		require.NoError(t, err)
		require.NoError(t, replayed.core.Replay(evt, out.Envelope))
	}

	assert.Equal(t, live.core.GetSequence(), replayed.core.GetSequence())
	assert.Equal(t, live.core.GetStateHash(), replayed.core.GetStateHash())
	assert.Empty(t, replayed.drain(), "replay emits nothing")
}

func TestReplay_DetectsTamperedHash(t *testing.T) {
	live := newTestCore(t)
	live.createSale(eth(500), eth(2_000), eth(1_000_000))
	logged := live.drain()
	require.Len(t, logged, 1)

	env := *logged[0].Envelope
	env.StateHash[0] ^= 0xff
	evt, err := event.Decode(env.EventType, env.Payload)
	require.NoError(t, err)

	err = newTestCore(t).core.Replay(evt, &env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state hash mismatch")
}

func TestSnapshot_RestoreContinuesChain(t *testing.T) {
	live := newTestCore(t)
	saleID, endsAt := fundedSale(live)
	live.drain()

	snap := live.core.CreateSnapshotState()
	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var decoded core.SnapshotState
	require.NoError(t, json.Unmarshal(data, &decoded))

	restored := newTestCore(t)
	require.NoError(t, restored.core.RestoreFromSnapshot(&decoded))
	assert.Equal(t, live.core.GetSequence(), restored.core.GetSequence())
	assert.Equal(t, live.core.GetStateHash(), restored.core.GetStateHash())

	// Both cores apply the same next command and stay in lockstep.
	e := &event.Finalize{SaleID: saleID}
	e.Key = uuid.New()
	e.Sender = alice
	e.Now = endsAt
	e.Sequence = live.core.ExpectedSourceSequence(core.PartitionFor(e))

	a, err := live.core.ProcessEvent(e)
	require.NoError(t, err)
	b, err := restored.core.ProcessEvent(e)
	require.NoError(t, err)
	require.True(t, a.OK())
	require.True(t, b.OK())
	assert.Equal(t, live.core.GetStateHash(), restored.core.GetStateHash())

	sale, err := restored.core.Sale(saleID)
	require.NoError(t, err)
	assert.Equal(t, eth(1_000), sale.TotalIgnited)
	assert.Equal(t, state.SaleStatusSparked, sale.FinalStatus)

	decoded.FormatVersion = core.SnapshotFormatVersion + 1
	assert.Error(t, newTestCore(t).core.RestoreFromSnapshot(&decoded))
}

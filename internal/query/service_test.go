package query

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LiftoffLedger/internal/state"
)

func eth(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1_000_000_000_000_000_000))
}

func initializedFund() *state.InsuranceFund {
	return &state.InsuranceFund{
		SaleID:           1,
		Token:            common.HexToAddress("0xc0"),
		StartTime:        100,
		TotalIgnited:     eth(1000),
		TokensPerEthWad:  uint256.MustFromDecimal("808080808080808080808"),
		BaseXEth:         eth(850),
		BaseFee:          eth(10),
		RedeemedXEth:     new(uint256.Int),
		ClaimedXEth:      eth(10),
		BaseTokenLidPool: eth(1000),
		ClaimedTokens:    new(uint256.Int),
		BaseFeeClaimed:   true,
		LastClaimCycle:   0,
		IsRegistered:     true,
		IsInitialized:    true,
	}
}

func TestInsuranceView_VestedAmounts(t *testing.T) {
	const period = 1000

	resp, err := insuranceView(initializedFund(), 350, period)
	require.NoError(t, err)

	assert.Equal(t, int64(2), resp.CyclesElapsed)
	assert.Equal(t, "Cycling", resp.Status)
	assert.Equal(t, eth(198).Dec(), resp.TotalXethClaimable)
	assert.Equal(t, eth(200).Dec(), resp.TotalTokenClaimable)
	assert.False(t, resp.IsExhausted)
}

func TestInsuranceView_BeforeFirstCycle(t *testing.T) {
	resp, err := insuranceView(initializedFund(), 150, 1000)
	require.NoError(t, err)

	assert.Equal(t, "Initialized", resp.Status)
	assert.Equal(t, "0", resp.TotalXethClaimable)
	assert.Equal(t, "0", resp.TotalTokenClaimable)
}

func TestInsuranceView_ExhaustedAfterPeriod(t *testing.T) {
	f := initializedFund()
	f.RedeemedXEth = eth(845)

	resp, err := insuranceView(f, 1100, 1000)
	require.NoError(t, err)
	assert.False(t, resp.IsExhausted, "exhaustion only applies once the period has passed")

	resp, err = insuranceView(f, 1101, 1000)
	require.NoError(t, err)
	assert.True(t, resp.IsExhausted)
}

func TestInsuranceView_RegisteredOnly(t *testing.T) {
	f := initializedFund()
	f.IsInitialized = false

	resp, err := insuranceView(f, 5000, 1000)
	require.NoError(t, err)
	assert.Equal(t, "Registered", resp.Status)
	assert.Zero(t, resp.CyclesElapsed)
	assert.Equal(t, "0", resp.TotalXethClaimable)
}

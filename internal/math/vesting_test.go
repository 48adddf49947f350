package math

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LiftoffLedger/internal/errs"
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

// ============================================================================
// Vesting boundaries
// ============================================================================

func TestTotalTokenClaimable_Boundaries(t *testing.T) {
	base := u(1_000_000)
	tests := []struct {
		name    string
		cycles  int64
		claimed uint64
		want    uint64
	}{
		{"cycle zero", 0, 0, 0},
		{"cycle zero ignores claimed", 0, 500, 0},
		{"first cycle", 1, 0, 100_000},
		{"middle cycle minus claimed", 5, 100_000, 400_000},
		{"last partial cycle", 9, 0, 900_000},
		{"fully vested", 10, 250_000, 750_000},
		{"beyond ten cycles", 25, 0, 1_000_000},
		{"over-claimed saturates", 3, 400_000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TotalTokenClaimable(base, tt.cycles, u(tt.claimed))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Uint64())
		})
	}
}

func TestTotalXethClaimable_Boundaries(t *testing.T) {
	total := u(10_000)
	tests := []struct {
		name              string
		redeemed, claimed uint64
		cycles            int64
		want              uint64
	}{
		{"cycle zero", 0, 0, 0, 0},
		{"one cycle", 0, 0, 1, 1_000},
		{"subtracts outflows", 2_000, 1_000, 5, 3_500},
		{"ten cycles saturates at remainder", 2_000, 1_000, 10, 7_000},
		{"more than ten cycles", 0, 0, 40, 10_000},
		{"outflows exceed total", 8_000, 4_000, 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TotalXethClaimable(total, u(tt.redeemed), u(tt.claimed), tt.cycles)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Uint64())
		})
	}
}

func TestCyclesElapsed(t *testing.T) {
	const period = 1000
	assert.Equal(t, int64(0), CyclesElapsed(50, 100, period))
	assert.Equal(t, int64(0), CyclesElapsed(199, 100, period))
	assert.Equal(t, int64(1), CyclesElapsed(200, 100, period))
	assert.Equal(t, int64(9), CyclesElapsed(1099, 100, period))
	assert.Equal(t, int64(10), CyclesElapsed(1100, 100, period))
	assert.Equal(t, int64(10), CyclesElapsed(1_000_000, 100, period))
	assert.Equal(t, int64(10), CyclesElapsed(101, 100, 5))
}

// ============================================================================
// Exhaustion
// ============================================================================

func TestInsuranceExhausted_MonotonicInNow(t *testing.T) {
	const start, period = 1000, 500
	base, redeemed, claimed, value := u(1_000), u(900), u(50), u(100)

	prev := false
	for now := int64(start); now < start+period*3; now += 7 {
		got := InsuranceExhausted(now, start, period, value, base, redeemed, claimed, false)
		if prev {
			require.True(t, got, "exhaustion flipped back at now=%d", now)
		}
		prev = got
	}
	assert.True(t, prev)
}

func TestInsuranceExhausted_Conditions(t *testing.T) {
	base := u(1_000)
	// within period: never exhausted
	assert.False(t, InsuranceExhausted(1500, 1000, 500, u(2_000), base, u(0), u(0), false))
	// after period but within budget
	assert.False(t, InsuranceExhausted(1501, 1000, 500, u(50), base, u(800), u(100), false))
	// exactly at budget is not exhausted
	assert.False(t, InsuranceExhausted(1501, 1000, 500, u(100), base, u(800), u(100), false))
	// over budget after period
	assert.True(t, InsuranceExhausted(1501, 1000, 500, u(101), base, u(800), u(100), false))
	// unwound never reports exhausted
	assert.False(t, InsuranceExhausted(9999, 1000, 500, u(5_000), base, u(800), u(100), true))
}

// ============================================================================
// Checked arithmetic
// ============================================================================

func TestCheckedArithmetic_FailsClosed(t *testing.T) {
	max := new(uint256.Int).SetAllOne()

	_, err := Add(max, u(1))
	assert.ErrorIs(t, err, errs.ErrArithmetic)

	_, err = Sub(u(1), u(2))
	assert.ErrorIs(t, err, errs.ErrArithmetic)

	_, err = Mul(max, u(2))
	assert.ErrorIs(t, err, errs.ErrArithmetic)

	_, err = Div(u(1), u(0))
	assert.ErrorIs(t, err, errs.ErrArithmetic)

	_, err = MulDiv(max, max, u(1))
	assert.ErrorIs(t, err, errs.ErrArithmetic)
}

func TestMulDiv_WideIntermediate(t *testing.T) {
	// (2^255 * 4) / 8 overflows a naive 256-bit product but not the quotient.
	big := new(uint256.Int).Lsh(u(1), 255)
	got, err := MulDiv(big, u(4), u(8))
	require.NoError(t, err)
	assert.Equal(t, new(uint256.Int).Lsh(u(1), 254), got)
}

func TestRedeemValue_Floors(t *testing.T) {
	// 3 tokens per wei, 10 tokens -> 3 wei
	rate := new(uint256.Int).Mul(u(3), Wad)
	got, err := RedeemValue(u(10), rate)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), got.Uint64())
}

func TestApplyBP(t *testing.T) {
	got, err := ApplyBP(u(12_345), 1_500)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_851), got.Uint64())
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount("1000000000000000000000")
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000000", v.Dec())

	_, err = ParseAmount("-5")
	assert.ErrorIs(t, err, errs.ErrInvalidAmount)
	_, err = ParseAmount("0x10")
	assert.ErrorIs(t, err, errs.ErrInvalidAmount)
}

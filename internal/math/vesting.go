// internal/math/vesting.go
package math

import (
	"github.com/holiman/uint256"
)

// InsuranceCycles is the number of equal vesting windows in an insurance period.
const InsuranceCycles = 10

// CyclesElapsed returns min(10, floor((now-start) / (period/10))).
// A period shorter than 10 seconds has zero-length cycles and is
// treated as fully vested once now >= start.
func CyclesElapsed(now, start, period int64) int64 {
	if now <= start {
		return 0
	}
	cycleLen := period / InsuranceCycles
	if cycleLen <= 0 {
		return InsuranceCycles
	}
	c := (now - start) / cycleLen
	if c > InsuranceCycles {
		return InsuranceCycles
	}
	return c
}

// TotalXethClaimable returns the still-unclaimed vested base asset:
// 0 when cycles == 0, otherwise (totalIgnited - redeemed - claimed) *
// min(cycles, 10) / 10. The remainder saturates at zero.
func TotalXethClaimable(totalIgnited, redeemed, claimed *uint256.Int, cycles int64) (*uint256.Int, error) {
	if cycles <= 0 {
		return Zero(), nil
	}
	if cycles > InsuranceCycles {
		cycles = InsuranceCycles
	}
	spent, err := Add(redeemed, claimed)
	if err != nil {
		return nil, err
	}
	remaining := SaturatingSub(totalIgnited, spent)
	if cycles == InsuranceCycles {
		return remaining, nil
	}
	return MulDiv(remaining, uint256.NewInt(uint64(cycles)), uint256.NewInt(InsuranceCycles))
}

// TotalTokenClaimable returns the vested but unclaimed part of base:
// 0 when cycles == 0, base*cycles/10 - claimed for 1 <= cycles < 10,
// base - claimed from cycle 10 on. Never negative.
func TotalTokenClaimable(base *uint256.Int, cycles int64, claimed *uint256.Int) (*uint256.Int, error) {
	if cycles <= 0 {
		return Zero(), nil
	}
	if cycles >= InsuranceCycles {
		return SaturatingSub(base, claimed), nil
	}
	vested, err := MulDiv(base, uint256.NewInt(uint64(cycles)), uint256.NewInt(InsuranceCycles))
	if err != nil {
		return nil, err
	}
	return SaturatingSub(vested, claimed), nil
}

// RedeemValue returns floor(tokenAmount * 1e18 / tokensPerEthWad).
func RedeemValue(tokenAmount, tokensPerEthWad *uint256.Int) (*uint256.Int, error) {
	return MulDiv(tokenAmount, Wad, tokensPerEthWad)
}

// InsuranceExhausted is the single exhaustion test used for both
// redemption gating and the unwind latch:
//
//	!isUnwound && now > start+period && baseXEth < redeemed+claimed+xEthValue
func InsuranceExhausted(now, start, period int64, xEthValue, baseXEth, redeemed, claimed *uint256.Int, isUnwound bool) bool {
	if isUnwound {
		return false
	}
	if now <= start+period {
		return false
	}
	outflow, overflow := new(uint256.Int).AddOverflow(redeemed, claimed)
	if overflow {
		return true
	}
	if _, overflow = outflow.AddOverflow(outflow, xEthValue); overflow {
		return true
	}
	return baseXEth.Lt(outflow)
}

// ProRata returns floor(pool * share / total). Zero total yields zero.
func ProRata(pool, share, total *uint256.Int) (*uint256.Int, error) {
	if total.IsZero() {
		return Zero(), nil
	}
	return MulDiv(pool, share, total)
}

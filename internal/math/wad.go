// internal/math/wad.go
package math

import (
	"github.com/holiman/uint256"

	"LiftoffLedger/internal/errs"
)

// All amounts are 256-bit unsigned integers in 18-decimal "wad" units.
// Every helper here fails closed: overflow, underflow and division by
// zero return errs.ErrArithmetic instead of wrapping.

const (
	WadDecimals   = 18
	BPDenominator = 10_000
)

var (
	Wad    = uint256.NewInt(1_000_000_000_000_000_000)
	BPBase = uint256.NewInt(BPDenominator)
)

// Zero returns a fresh zero value. Callers own the returned pointer.
func Zero() *uint256.Int { return new(uint256.Int) }

func FromUint64(v uint64) *uint256.Int { return uint256.NewInt(v) }

// Add returns a + b.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, errs.ErrArithmetic.Withf("add overflow: %s + %s", a.Dec(), b.Dec())
	}
	return z, nil
}

// Sub returns a - b.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, errs.ErrArithmetic.Withf("sub underflow: %s - %s", a.Dec(), b.Dec())
	}
	return z, nil
}

// Mul returns a * b.
func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, errs.ErrArithmetic.Withf("mul overflow: %s * %s", a.Dec(), b.Dec())
	}
	return z, nil
}

// Div returns floor(a / b).
func Div(a, b *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, errs.ErrArithmetic.Withf("division by zero")
	}
	return new(uint256.Int).Div(a, b), nil
}

// MulDiv returns floor(a * b / d). The product is computed at 512 bits,
// so only a quotient that does not fit in 256 bits is an error.
func MulDiv(a, b, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, errs.ErrArithmetic.Withf("division by zero")
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, d)
	if overflow {
		return nil, errs.ErrArithmetic.Withf("muldiv overflow: %s * %s / %s", a.Dec(), b.Dec(), d.Dec())
	}
	return z, nil
}

// ApplyBP returns floor(amount * bp / 10000).
func ApplyBP(amount *uint256.Int, bp uint32) (*uint256.Int, error) {
	return MulDiv(amount, uint256.NewInt(uint64(bp)), BPBase)
}

// SaturatingSub returns max(a - b, 0).
func SaturatingSub(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return Zero()
	}
	return new(uint256.Int).Sub(a, b)
}

func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}

// WadRatio returns floor(numerator * 1e18 / denominator).
func WadRatio(numerator, denominator *uint256.Int) (*uint256.Int, error) {
	return MulDiv(numerator, Wad, denominator)
}

// ParseAmount parses a base-10 amount. Hex and signs are rejected.
func ParseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, errs.ErrInvalidAmount.Withf("parse %q: %v", s, err)
	}
	return v, nil
}

// Sum adds values left to right.
func Sum(values ...*uint256.Int) (*uint256.Int, error) {
	total := Zero()
	for _, v := range values {
		next, err := Add(total, v)
		if err != nil {
			return nil, err
		}
		total = next
	}
	return total, nil
}

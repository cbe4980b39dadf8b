package math

import (
	stdmath "math"
	"math/big"

	"github.com/holiman/uint256"
)

// PerUnitScale is the fixed-point scale of every fee-per-unit accumulator.
const PerUnitScale int64 = 1_000_000_000_000_000_000

var (
	perUnitScaleU256 = uint256.NewInt(uint64(PerUnitScale))
	perUnitScaleBig  = big.NewInt(PerUnitScale)
)

// PerUnitIncrement returns payment * PerUnitScale / denominator, truncated.
// payment must be non-negative and denominator positive.
func PerUnitIncrement(payment, denominator int64) (*uint256.Int, error) {
	if denominator <= 0 {
		return nil, ErrDivideByZero
	}
	if payment < 0 {
		return nil, ErrArithmeticOverflow
	}
	step, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(uint64(payment)), perUnitScaleU256)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return step.Div(step, uint256.NewInt(uint64(denominator))), nil
}

// PerUnitIncrementCeil is PerUnitIncrement rounded up.
func PerUnitIncrementCeil(payment, denominator int64) (*uint256.Int, error) {
	step, err := PerUnitIncrement(payment, denominator)
	if err != nil {
		return nil, err
	}
	back, overflow := new(uint256.Int).MulOverflow(step, uint256.NewInt(uint64(denominator)))
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	if back.Cmp(new(uint256.Int).Mul(uint256.NewInt(uint64(payment)), perUnitScaleU256)) < 0 {
		step.AddUint64(step, 1)
	}
	return step, nil
}

// AdvancePerUnit returns acc + step*epochs, failing instead of wrapping.
func AdvancePerUnit(acc, step *uint256.Int, epochs int64) (*uint256.Int, error) {
	if epochs < 0 {
		return nil, ErrArithmeticOverflow
	}
	scaled, overflow := new(uint256.Int).MulOverflow(step, uint256.NewInt(uint64(epochs)))
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	next, overflow := new(uint256.Int).AddOverflow(acc, scaled)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return next, nil
}

// ApplyPerUnit returns (current - checkpoint) * units / PerUnitScale.
// Margin accumulators never decrease, so a checkpoint ahead of current is corrupt state.
func ApplyPerUnit(current, checkpoint *uint256.Int, units int64) (int64, error) {
	if units < 0 {
		return 0, ErrArithmeticOverflow
	}
	delta, underflow := new(uint256.Int).SubOverflow(current, checkpoint)
	if underflow {
		return 0, ErrArithmeticOverflow
	}
	if delta.IsZero() || units == 0 {
		return 0, nil
	}
	owed, overflow := new(uint256.Int).MulOverflow(delta, uint256.NewInt(uint64(units)))
	if overflow {
		return 0, ErrArithmeticOverflow
	}
	owed.Div(owed, perUnitScaleU256)
	if !owed.IsUint64() || owed.Uint64() > stdmath.MaxInt64 {
		return 0, ErrArithmeticOverflow
	}
	return int64(owed.Uint64()), nil
}

// ApplyPerUnitCeil is ApplyPerUnit rounded up, for amounts charged against
// a holder rather than paid to one.
func ApplyPerUnitCeil(current, checkpoint *uint256.Int, units int64) (int64, error) {
	if units < 0 {
		return 0, ErrArithmeticOverflow
	}
	delta, underflow := new(uint256.Int).SubOverflow(current, checkpoint)
	if underflow {
		return 0, ErrArithmeticOverflow
	}
	if delta.IsZero() || units == 0 {
		return 0, nil
	}
	owed, overflow := new(uint256.Int).MulOverflow(delta, uint256.NewInt(uint64(units)))
	if overflow {
		return 0, ErrArithmeticOverflow
	}
	rem := new(uint256.Int)
	owed.DivMod(owed, perUnitScaleU256, rem)
	if !rem.IsZero() {
		owed.AddUint64(owed, 1)
	}
	if !owed.IsUint64() || owed.Uint64() > stdmath.MaxInt64 {
		return 0, ErrArithmeticOverflow
	}
	return int64(owed.Uint64()), nil
}

// SignedPerUnitIncrement returns numerator * PerUnitScale / denominator,
// truncated toward zero.
func SignedPerUnitIncrement(numerator, denominator int64) (*big.Int, error) {
	if denominator == 0 {
		return nil, ErrDivideByZero
	}
	step := MultiplyInt128(numerator, PerUnitScale)
	d := getInt128()
	defer putInt128(d)
	return step.Quo(step, d.SetInt64(denominator)), nil
}

// AdvanceSignedPerUnit returns acc + step*epochs.
func AdvanceSignedPerUnit(acc, step *big.Int, epochs int64) *big.Int {
	n := getInt128()
	defer putInt128(n)
	next := new(big.Int).Mul(step, n.SetInt64(epochs))
	return next.Add(next, acc)
}

// ApplySignedPerUnit returns (current - checkpoint) * units / PerUnitScale,
// truncated toward zero.
func ApplySignedPerUnit(current, checkpoint *big.Int, units int64) (int64, error) {
	delta := new(big.Int).Sub(current, checkpoint)
	if delta.Sign() == 0 || units == 0 {
		return 0, nil
	}
	u := getInt128()
	defer putInt128(u)
	delta.Mul(delta, u.SetInt64(units))
	delta.Quo(delta, perUnitScaleBig)
	if !delta.IsInt64() {
		return 0, ErrArithmeticOverflow
	}
	return delta.Int64(), nil
}

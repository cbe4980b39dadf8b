package math

import (
	"errors"
	stdmath "math"
	"math/big"
	"sync"
)

var (
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
	ErrDivideByZero       = errors.New("divide by zero")
)

// DecimalConfig defines fixed-point precision of a token amount.
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

// CollateralConfig is the default collateral token precision (0.000001 USDC).
var CollateralConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// CheckedAdd returns a + b or ErrArithmeticOverflow.
func CheckedAdd(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, ErrArithmeticOverflow
	}
	return sum, nil
}

// CheckedSub returns a - b or ErrArithmeticOverflow.
func CheckedSub(a, b int64) (int64, error) {
	diff := a - b
	if (b > 0 && diff > a) || (b < 0 && diff < a) {
		return 0, ErrArithmeticOverflow
	}
	return diff, nil
}

// Abs returns |v|. MinInt64 has no positive counterpart.
func Abs(v int64) (int64, error) {
	if v == stdmath.MinInt64 {
		return 0, ErrArithmeticOverflow
	}
	if v < 0 {
		return -v, nil
	}
	return v, nil
}

// MultiplyInt128 performs a * b without overflow. The caller owns the result.
func MultiplyInt128(a, b int64) *big.Int {
	result := new(big.Int)
	x, y := getInt128(), getInt128()
	result.Mul(x.SetInt64(a), y.SetInt64(b))
	putInt128(x)
	putInt128(y)
	return result
}

// DivideInt128 performs numerator / denominator truncated toward zero.
func DivideInt128(numerator *big.Int, denominator int64) (int64, error) {
	if denominator == 0 {
		return 0, ErrDivideByZero
	}
	denom := getInt128()
	quotient := getInt128()
	defer putInt128(denom)
	defer putInt128(quotient)

	quotient.Quo(numerator, denom.SetInt64(denominator))
	if !quotient.IsInt64() {
		return 0, ErrArithmeticOverflow
	}
	return quotient.Int64(), nil
}

// MulDiv computes a * b / denominator with a 128-bit intermediate.
func MulDiv(a, b, denominator int64) (int64, error) {
	return DivideInt128(MultiplyInt128(a, b), denominator)
}

package math_test

import (
	stdmath "math"
	"math/big"
	"testing"

	fpmath "HookLedger/internal/math"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckedAdd_Overflow(t *testing.T) {
	_, err := fpmath.CheckedAdd(stdmath.MaxInt64, 1)
	require.ErrorIs(t, err, fpmath.ErrArithmeticOverflow)

	_, err = fpmath.CheckedAdd(stdmath.MinInt64, -1)
	require.ErrorIs(t, err, fpmath.ErrArithmeticOverflow)

	sum, err := fpmath.CheckedAdd(40, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(42), sum)
}

func TestCheckedSub_Overflow(t *testing.T) {
	_, err := fpmath.CheckedSub(stdmath.MinInt64, 1)
	require.ErrorIs(t, err, fpmath.ErrArithmeticOverflow)

	diff, err := fpmath.CheckedSub(-5, -7)
	require.NoError(t, err)
	assert.Equal(t, int64(2), diff)
}

func TestAbs(t *testing.T) {
	v, err := fpmath.Abs(-20_000)
	require.NoError(t, err)
	assert.Equal(t, int64(20_000), v)

	_, err = fpmath.Abs(stdmath.MinInt64)
	require.ErrorIs(t, err, fpmath.ErrArithmeticOverflow)
}

func TestMulDiv_LargeIntermediate(t *testing.T) {
	// 4e18 * 4 overflows int64 before the division.
	got, err := fpmath.MulDiv(4_000_000_000_000_000_000, 4, 8)
	require.NoError(t, err)
	assert.Equal(t, int64(2_000_000_000_000_000_000), got)

	got, err = fpmath.MulDiv(-7, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(-3), got, "truncates toward zero")

	_, err = fpmath.MulDiv(1, 1, 0)
	require.ErrorIs(t, err, fpmath.ErrDivideByZero)
}

func TestPerUnitIncrement_EpochExample(t *testing.T) {
	step, err := fpmath.PerUnitIncrement(34, 3_000_000)
	require.NoError(t, err)
	// 34 * 1e18 / 3e6
	assert.Equal(t, "11333333333333", step.Dec())

	_, err = fpmath.PerUnitIncrement(34, 0)
	require.ErrorIs(t, err, fpmath.ErrDivideByZero)
}

func TestAdvancePerUnit_ScalesByEpochs(t *testing.T) {
	acc := uint256.NewInt(5)
	step := uint256.NewInt(10)

	next, err := fpmath.AdvancePerUnit(acc, step, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(35), next.Uint64())
	assert.Equal(t, uint64(5), acc.Uint64(), "input must not be mutated")

	max := new(uint256.Int).SetAllOne()
	_, err = fpmath.AdvancePerUnit(max, step, 1)
	require.ErrorIs(t, err, fpmath.ErrArithmeticOverflow)
}

func TestApplyPerUnit(t *testing.T) {
	step, err := fpmath.PerUnitIncrement(34, 3_000_000)
	require.NoError(t, err)

	owed, err := fpmath.ApplyPerUnit(step, uint256.NewInt(0), 3_000_000)
	require.NoError(t, err)
	// Truncation of the per-unit step loses less than one unit.
	assert.Equal(t, int64(33), owed)

	owed, err = fpmath.ApplyPerUnit(step, step, 3_000_000)
	require.NoError(t, err)
	assert.Zero(t, owed)

	_, err = fpmath.ApplyPerUnit(uint256.NewInt(0), step, 1)
	require.ErrorIs(t, err, fpmath.ErrArithmeticOverflow)
}

func TestPerUnitCeil_NeverUndercharges(t *testing.T) {
	step, err := fpmath.PerUnitIncrementCeil(34, 3_000_000)
	require.NoError(t, err)
	assert.Equal(t, "11333333333334", step.Dec())

	owed, err := fpmath.ApplyPerUnitCeil(step, uint256.NewInt(0), 3_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(35), owed)

	exact, err := fpmath.PerUnitIncrementCeil(3, 1_000)
	require.NoError(t, err)
	assert.Equal(t, "3000000000000000", exact.Dec())
	owed, err = fpmath.ApplyPerUnitCeil(exact, uint256.NewInt(0), 1_000)
	require.NoError(t, err)
	assert.Equal(t, int64(3), owed)

	owed, err = fpmath.ApplyPerUnitCeil(exact, exact, 1_000)
	require.NoError(t, err)
	assert.Zero(t, owed)

	_, err = fpmath.PerUnitIncrementCeil(1, 0)
	require.ErrorIs(t, err, fpmath.ErrDivideByZero)
}

func TestSignedPerUnit_RoundTrip(t *testing.T) {
	step, err := fpmath.SignedPerUnitIncrement(-1, 4)
	require.NoError(t, err)
	assert.Zero(t, step.Cmp(big.NewInt(-250_000_000_000_000_000)))

	acc := fpmath.AdvanceSignedPerUnit(big.NewInt(0), step, 2)

	got, err := fpmath.ApplySignedPerUnit(acc, big.NewInt(0), 1_000)
	require.NoError(t, err)
	assert.Equal(t, int64(-500), got)

	got, err = fpmath.ApplySignedPerUnit(acc, big.NewInt(0), -1_000)
	require.NoError(t, err)
	assert.Equal(t, int64(500), got)
}

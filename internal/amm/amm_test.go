package amm_test

import (
	"math/big"
	"testing"

	"HookLedger/internal/amm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPool(t *testing.T, feeBps int64) *amm.ConstantProduct {
	t.Helper()
	e := amm.NewConstantProduct(feeBps)
	require.NoError(t, e.Initialize("ETH-USDC", "USDC", "ETH", 2_000_000_000, 1_000_000))
	return e
}

func TestInitialize(t *testing.T) {
	e := amm.NewConstantProduct(0)

	require.ErrorIs(t, e.Initialize("p", "A", "A", 1, 1), amm.ErrSameToken)
	require.ErrorIs(t, e.Initialize("p", "A", "B", 0, 1), amm.ErrInvalidAmount)
	require.NoError(t, e.Initialize("p", "A", "B", 100, 400))
	require.ErrorIs(t, e.Initialize("p", "A", "B", 100, 400), amm.ErrPoolExists)

	_, err := e.Swap("missing", -1, true)
	require.ErrorIs(t, err, amm.ErrPoolNotFound)
}

func TestSwapExactInput(t *testing.T) {
	e := newPool(t, 0)

	// sell 1000 USDC (token0) for ETH
	d, err := e.Swap("ETH-USDC", -1_000_000, true)
	require.NoError(t, err)
	assert.Equal(t, int64(-1_000_000), d.Amount0)
	// 1_000_000 * 1_000_000 / (2_000_000_000 + 1_000_000) = 499
	assert.Equal(t, int64(499), d.Amount1)

	r0, r1, err := e.Reserves("ETH-USDC")
	require.NoError(t, err)
	assert.Equal(t, "2001000000", r0.String())
	assert.Equal(t, "999501", r1.String())
}

func TestSwapExactOutput(t *testing.T) {
	e := newPool(t, 0)

	// buy exactly 1000 ETH units with USDC
	d, err := e.Swap("ETH-USDC", 1_000, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), d.Amount1)
	// ceil(2e9 * 1000 / 999000) = 2002003
	assert.Equal(t, int64(-2_002_003), d.Amount0)

	_, err = e.Swap("ETH-USDC", 1_000_000, true)
	require.ErrorIs(t, err, amm.ErrInsufficientLiquidity)
}

func TestSwapFee(t *testing.T) {
	free := newPool(t, 0)
	paid := newPool(t, 30)

	d0, err := free.Swap("ETH-USDC", -10_000_000, true)
	require.NoError(t, err)
	d1, err := paid.Swap("ETH-USDC", -10_000_000, true)
	require.NoError(t, err)
	assert.Less(t, d1.Amount1, d0.Amount1)
}

func TestModifyLiquidityFullRangeOnly(t *testing.T) {
	e := newPool(t, 0)

	_, err := e.ModifyLiquidity("ETH-USDC", amm.TickRange{Lower: -60, Upper: 60}, 10)
	require.ErrorIs(t, err, amm.ErrUnsupportedRange)

	// L = sqrt(2e9 * 1e6) = 44_721_359
	add, err := e.ModifyLiquidity("ETH-USDC", amm.FullRange, 44_721_359)
	require.NoError(t, err)
	assert.Less(t, add.Amount0, int64(0))
	assert.Less(t, add.Amount1, int64(0))

	remove, err := e.ModifyLiquidity("ETH-USDC", amm.FullRange, -44_721_359)
	require.NoError(t, err)
	assert.Greater(t, remove.Amount0, int64(0))
	assert.LessOrEqual(t, remove.Amount0, -add.Amount0)
	assert.LessOrEqual(t, remove.Amount1, -add.Amount1)

	_, err = e.ModifyLiquidity("ETH-USDC", amm.FullRange, -44_721_360)
	require.ErrorIs(t, err, amm.ErrInsufficientLiquidity)
}

func TestCurrentPrice(t *testing.T) {
	e := amm.NewConstantProduct(0)
	require.NoError(t, e.Initialize("p", "A", "B", 1_000, 4_000))

	sqrtPrice, tick, err := e.CurrentPrice("p")
	require.NoError(t, err)
	// sqrt(4) * 2^96
	want := new(big.Int).Lsh(big.NewInt(2), 96)
	assert.Zero(t, want.Cmp(sqrtPrice))
	// log_1.0001(4) = 13863.6
	assert.Equal(t, int32(13863), tick)
}

func TestCheckpointRestore(t *testing.T) {
	e := newPool(t, 0)

	restore, err := e.Checkpoint("ETH-USDC")
	require.NoError(t, err)
	_, err = e.Swap("ETH-USDC", -5_000_000, true)
	require.NoError(t, err)
	restore()

	r0, r1, err := e.Reserves("ETH-USDC")
	require.NoError(t, err)
	assert.Equal(t, "2000000000", r0.String())
	assert.Equal(t, "1000000", r1.String())
}

func TestExportImport(t *testing.T) {
	e := newPool(t, 30)
	_, err := e.Swap("ETH-USDC", -5_000_000, true)
	require.NoError(t, err)

	restored := amm.NewConstantProduct(0)
	require.NoError(t, restored.Import(e.Export()))
	assert.Equal(t, e.Export(), restored.Export())

	a, err := e.Swap("ETH-USDC", -1_000_000, false)
	require.NoError(t, err)
	b, err := restored.Swap("ETH-USDC", -1_000_000, false)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

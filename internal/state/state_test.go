package state_test

import (
	"encoding/binary"
	stdmath "math"
	"math/big"
	"strings"
	"testing"

	fpmath "HookLedger/internal/math"
	"HookLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hour = int64(3_600)

func mustPool(t *testing.T, now int64) *state.PoolContext {
	t.Helper()
	p, err := state.NewPoolContext("ETH-USDC", "USDC", "ETH", "USDC", state.DefaultPoolParams(), now)
	require.NoError(t, err)
	return p
}

// ============================================================================
// Pool initialization
// ============================================================================

func TestNewPoolContext_FloorsToEpoch(t *testing.T) {
	p := mustPool(t, 10*hour+1_234)
	assert.Equal(t, 10*hour, p.LastFundingTime)
	assert.Equal(t, "ETH", p.AssetToken)
}

func TestNewPoolContext_MissingCollateralLeg(t *testing.T) {
	_, err := state.NewPoolContext("ETH-BTC", "USDC", "ETH", "BTC", state.DefaultPoolParams(), 0)
	require.ErrorIs(t, err, state.ErrMissingCollateralLeg)

	_, err = state.NewPoolContext("USDC-USDC", "USDC", "USDC", "USDC", state.DefaultPoolParams(), 0)
	require.ErrorIs(t, err, state.ErrMissingCollateralLeg)
}

// ============================================================================
// Fee accumulator
// ============================================================================

func TestAccrue_EpochExample(t *testing.T) {
	p := mustPool(t, 0)
	p.AggregateAbsExposure = 3_000_000
	p.AggregateNetExposure = 3_000_000
	p.TotalStakedLiquidity = 1_000

	acc, err := state.Accrue(p, hour)
	require.NoError(t, err)

	assert.Equal(t, int64(1), acc.Epochs)
	assert.Equal(t, int64(34), acc.MarginPayment)
	assert.False(t, acc.LPTermSkipped)

	swapperStep, err := fpmath.PerUnitIncrement(34, 3_000_000)
	require.NoError(t, err)
	assert.Equal(t, swapperStep.Dec(), p.SwapperMarginFeePerUnit.Dec())

	lpStep, err := fpmath.PerUnitIncrement(34, 1_000)
	require.NoError(t, err)
	assert.Equal(t, lpStep.Dec(), p.LPMarginFeePerUnit.Dec())
	assert.Equal(t, hour, p.LastFundingTime)
}

func TestAccrue_BeforeEpochIsNoop(t *testing.T) {
	p := mustPool(t, 0)
	p.AggregateAbsExposure = 3_000_000

	acc, err := state.Accrue(p, hour-1)
	require.NoError(t, err)
	assert.Zero(t, acc.Epochs)
	assert.True(t, p.SwapperMarginFeePerUnit.IsZero())
	assert.Zero(t, p.LastFundingTime)
}

func TestAccrue_ClosedFormMatchesIteration(t *testing.T) {
	for _, model := range []state.FundingModel{state.FundingProportional, state.FundingLegacyConstant} {
		looped := mustPool(t, 0)
		looped.Params.FundingModel = model
		looped.AggregateAbsExposure = 7_654_321
		looped.AggregateNetExposure = -1_234_567
		looped.TotalStakedLiquidity = 333

		closed := looped.Clone()

		for i := int64(1); i <= 500; i++ {
			_, err := state.Accrue(looped, i*hour)
			require.NoError(t, err)
		}

		acc, err := state.Accrue(closed, 500*hour+59)
		require.NoError(t, err)
		assert.Equal(t, int64(500), acc.Epochs)

		assert.Equal(t, looped.SwapperMarginFeePerUnit.Dec(), closed.SwapperMarginFeePerUnit.Dec(), model.String())
		assert.Equal(t, looped.LPMarginFeePerUnit.Dec(), closed.LPMarginFeePerUnit.Dec(), model.String())
		assert.Zero(t, looped.FundingFeePerUnit.Cmp(closed.FundingFeePerUnit), model.String())
		assert.Equal(t, looped.LastFundingTime, closed.LastFundingTime)
	}
}

func TestAccrue_LongDormancyIsBounded(t *testing.T) {
	p := mustPool(t, 0)
	p.AggregateAbsExposure = 1_000_000
	p.TotalStakedLiquidity = 10

	// ~114 years of hourly epochs in a single call.
	acc, err := state.Accrue(p, 1_000_000*hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), acc.Epochs)
	assert.Equal(t, 1_000_000*hour, p.LastFundingTime)
}

func TestAccrue_ElapsedOverflowFails(t *testing.T) {
	p := mustPool(t, -hour)
	p.AggregateAbsExposure = 1_000_000

	_, err := state.Accrue(p, stdmath.MaxInt64)
	require.ErrorIs(t, err, fpmath.ErrArithmeticOverflow)
	assert.Equal(t, -hour, p.LastFundingTime)
	assert.True(t, p.SwapperMarginFeePerUnit.IsZero())
}

func TestAccrue_ZeroDenominatorsSkipTerms(t *testing.T) {
	p := mustPool(t, 0)
	p.AggregateAbsExposure = 3_000_000
	p.AggregateNetExposure = 0 // balanced book

	acc, err := state.Accrue(p, hour)
	require.NoError(t, err)
	assert.True(t, acc.LPTermSkipped, "no LPs staked")
	assert.True(t, p.LPMarginFeePerUnit.IsZero())
	assert.False(t, p.SwapperMarginFeePerUnit.IsZero())
	assert.Zero(t, p.FundingFeePerUnit.Sign())

	empty := mustPool(t, 0)
	_, err = state.Accrue(empty, 10*hour)
	require.NoError(t, err)
	assert.True(t, empty.SwapperMarginFeePerUnit.IsZero())
	assert.Equal(t, 10*hour, empty.LastFundingTime)
}

func TestAccrue_FundingDirection(t *testing.T) {
	p := mustPool(t, 0)
	p.AggregateAbsExposure = 4_000_000
	p.AggregateNetExposure = 2_000_000 // net long

	_, err := state.Accrue(p, hour)
	require.NoError(t, err)
	assert.Equal(t, -1, p.FundingFeePerUnit.Sign(), "longs pay when net long")

	// Rate proportional to imbalance: net/abs = 1/2 over 17_520 epochs.
	want := new(big.Int).Quo(big.NewInt(fpmath.PerUnitScale/2), big.NewInt(17_520))
	assert.Zero(t, new(big.Int).Neg(want).Cmp(p.FundingFeePerUnit))

	legacy := mustPool(t, 0)
	legacy.Params.FundingModel = state.FundingLegacyConstant
	legacy.AggregateAbsExposure = 4_000_000
	legacy.AggregateNetExposure = -2_000_000

	_, err = state.Accrue(legacy, hour)
	require.NoError(t, err)
	assert.Equal(t, 1, legacy.FundingFeePerUnit.Sign(), "legacy counter always rises")
}

// ============================================================================
// Settlement
// ============================================================================

func TestSettleSwapper_Idempotent(t *testing.T) {
	p := mustPool(t, 0)
	pos := state.NewPosition(p, uuid.New())
	pos.Exposure = 3_000_000
	p.AggregateAbsExposure = 3_000_000
	p.AggregateNetExposure = 3_000_000

	_, err := state.Accrue(p, 2*hour)
	require.NoError(t, err)

	first, err := state.SettleSwapper(p, pos)
	require.NoError(t, err)
	assert.Positive(t, first.MarginOwed)
	assert.Negative(t, first.FundingDelta)

	second, err := state.SettleSwapper(p, pos)
	require.NoError(t, err)
	assert.Equal(t, state.SwapperSettlement{}, second)
}

func TestSettleSwapper_ShortReceivesFunding(t *testing.T) {
	p := mustPool(t, 0)
	short := state.NewPosition(p, uuid.New())
	short.Exposure = -1_000_000
	p.AggregateAbsExposure = 5_000_000
	p.AggregateNetExposure = 3_000_000

	_, err := state.Accrue(p, hour)
	require.NoError(t, err)

	s, err := state.SettleSwapper(p, short)
	require.NoError(t, err)
	assert.Positive(t, s.FundingDelta)
}

func TestSettleLP_PayoutEqualsDeltaTimesLiquidity(t *testing.T) {
	p := mustPool(t, 0)
	stake := state.NewLPStake(p, uuid.New())
	stake.Liquidity = 5_000

	delta := uint256.NewInt(uint64(3 * fpmath.PerUnitScale))
	p.LPMarginFeePerUnit = new(uint256.Int).Add(p.LPMarginFeePerUnit, delta)

	profit, err := state.SettleLP(p, stake)
	require.NoError(t, err)
	assert.Equal(t, int64(15_000), profit)
	assert.Equal(t, int64(15_000), stake.RealizedProfit)

	again, err := state.SettleLP(p, stake)
	require.NoError(t, err)
	assert.Zero(t, again)
	assert.Equal(t, int64(15_000), stake.RealizedProfit)
}

func TestSettleLP_NetsSocializedLoss(t *testing.T) {
	p := mustPool(t, 0)
	a := state.NewLPStake(p, uuid.New())
	a.Liquidity = 300
	b := state.NewLPStake(p, uuid.New())
	b.Liquidity = 700
	p.TotalStakedLiquidity = 1_000

	p.LPMarginFeePerUnit = uint256.NewInt(uint64(2 * fpmath.PerUnitScale))
	require.NoError(t, state.SocializeLoss(p, 1_001))

	netA, err := state.SettleLP(p, a)
	require.NoError(t, err)
	netB, err := state.SettleLP(p, b)
	require.NoError(t, err)

	// Losses round up: 300.3 -> 301 and 700.7 -> 701.
	assert.Equal(t, int64(600-301), netA)
	assert.Equal(t, int64(1_400-701), netB)
	assert.Equal(t, p.LPLossPerUnit.Dec(), a.LossCheckpoint.Dec())

	again, err := state.SettleLP(p, a)
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestSettleLP_LossCanExceedProfit(t *testing.T) {
	p := mustPool(t, 0)
	stake := state.NewLPStake(p, uuid.New())
	stake.Liquidity = 1_000
	p.TotalStakedLiquidity = 1_000

	require.NoError(t, state.SocializeLoss(p, 5_000))
	net, err := state.SettleLP(p, stake)
	require.NoError(t, err)
	assert.Equal(t, int64(-5_000), net)
	assert.Equal(t, int64(-5_000), stake.RealizedProfit)

	// A stake opened after the loss does not share it.
	late := state.NewLPStake(p, uuid.New())
	late.Liquidity = 1_000
	net, err = state.SettleLP(p, late)
	require.NoError(t, err)
	assert.Zero(t, net)
}

func TestSocializeLoss_NeedsStakers(t *testing.T) {
	p := mustPool(t, 0)
	require.NoError(t, state.SocializeLoss(p, 0))
	require.ErrorIs(t, state.SocializeLoss(p, 1), state.ErrNoLiquidity)
	assert.True(t, p.LPLossPerUnit.IsZero())
}

// ============================================================================
// Margin and liquidation policy
// ============================================================================

func TestCheckMargin_Boundary(t *testing.T) {
	params := state.DefaultPoolParams()

	// 1_000 * 20 / 20_000 = 1 < 2
	err := state.CheckMargin(params, 1_000, 20_000)
	require.ErrorIs(t, err, state.ErrInsufficientCollateral)

	// 1_000 * 20 / 10_000 = 2
	require.NoError(t, state.CheckMargin(params, 1_000, -10_000))

	require.NoError(t, state.CheckMargin(params, 0, 0), "flat needs no margin")
}

func TestEvaluateLiquidation_Boundary(t *testing.T) {
	params := state.DefaultPoolParams()

	_, err := state.EvaluateLiquidation(params, 20_000, 1_000)
	require.ErrorIs(t, err, state.ErrNotLiquidatable, "ratio exactly 20")

	out, err := state.EvaluateLiquidation(params, 21_000, 1_000)
	require.NoError(t, err)
	assert.Equal(t, int64(50), out.Reward, "5% of remaining")
	assert.Equal(t, int64(1_000), out.Remaining)

	out, err = state.EvaluateLiquidation(params, 21_000, -400)
	require.NoError(t, err)
	assert.Zero(t, out.Reward)
	assert.Equal(t, int64(400), out.Deficit)
}

func TestInsuranceFund_ComputeCoverage(t *testing.T) {
	f := state.NewInsuranceFund()

	covered, rest := f.ComputeCoverage(1_000, 400)
	assert.Equal(t, int64(400), covered)
	assert.Zero(t, rest)

	covered, rest = f.ComputeCoverage(100, 400)
	assert.Equal(t, int64(100), covered)
	assert.Equal(t, int64(300), rest)

	covered, rest = f.ComputeCoverage(-50, 400)
	assert.Zero(t, covered)
	assert.Equal(t, int64(400), rest)
}

// ============================================================================
// Registry and transactions
// ============================================================================

func TestTxn_AbandonLeavesRegistryUntouched(t *testing.T) {
	reg := state.NewRegistry()
	tx := reg.Begin()
	require.NoError(t, tx.CreatePool(mustPool(t, 0)))
	tx.Commit()

	acct := uuid.New()
	tx = reg.Begin()
	pool, err := tx.Pool("ETH-USDC")
	require.NoError(t, err)
	pos := tx.Position(pool, acct)
	require.NoError(t, pos.ApplyTradeDelta(10, -20_000))
	require.NoError(t, pool.ReplaceExposure(0, pos.Exposure))
	// not committed

	assert.Nil(t, reg.Position("ETH-USDC", acct))
	assert.Zero(t, reg.Pool("ETH-USDC").AggregateAbsExposure)
}

func TestTxn_CommitKeepsAggregatesConsistent(t *testing.T) {
	reg := state.NewRegistry()
	tx := reg.Begin()
	require.NoError(t, tx.CreatePool(mustPool(t, 0)))
	tx.Commit()

	deltas := []struct {
		asset, collateral int64
	}{
		{10, -20_000},
		{-4, 9_000},
		{-7, 13_000},
	}

	for _, d := range deltas {
		tx := reg.Begin()
		pool, err := tx.Pool("ETH-USDC")
		require.NoError(t, err)
		pos := tx.Position(pool, uuid.New())
		before := pos.Exposure
		require.NoError(t, pos.ApplyTradeDelta(d.asset, d.collateral))
		require.NoError(t, pool.ReplaceExposure(before, pos.Exposure))
		stake := tx.Stake(pool, uuid.New())
		stake.Liquidity = 100
		require.NoError(t, pool.AdjustStaked(100))
		ch := tx.Commit()
		assert.Len(t, ch.Positions, 1)
		assert.Len(t, ch.Stakes, 1)
	}

	require.NoError(t, reg.ValidateAggregates("ETH-USDC"))
	pool := reg.Pool("ETH-USDC")
	assert.Equal(t, int64(42_000), pool.AggregateAbsExposure)
	assert.Equal(t, int64(-2_000), pool.AggregateNetExposure)
	assert.Equal(t, int64(300), pool.TotalStakedLiquidity)
}

func TestTxn_CreatePoolTwice(t *testing.T) {
	reg := state.NewRegistry()
	tx := reg.Begin()
	require.NoError(t, tx.CreatePool(mustPool(t, 0)))
	tx.Commit()

	err := reg.Begin().CreatePool(mustPool(t, 0))
	require.ErrorIs(t, err, state.ErrPoolExists)

	_, err = reg.Begin().Pool("missing")
	require.ErrorIs(t, err, state.ErrPoolNotFound)
}

func TestRecords_RestoreCounters(t *testing.T) {
	p := mustPool(t, 0)
	p.AggregateAbsExposure = 3_000_000
	p.AggregateNetExposure = -3_000_000
	p.TotalStakedLiquidity = 7
	_, err := state.Accrue(p, 3*hour)
	require.NoError(t, err)

	require.NoError(t, state.SocializeLoss(p, 11))

	restored, err := p.Record().Pool()
	require.NoError(t, err)
	assert.Equal(t, p.CanonicalBytes(), restored.CanonicalBytes())
	assert.Equal(t, p.LPLossPerUnit.Dec(), restored.LPLossPerUnit.Dec())

	stake := state.NewLPStake(p, uuid.New())
	stake.Liquidity = 7
	stake.RealizedProfit = -4
	back, err := stake.Record().Stake()
	require.NoError(t, err)
	assert.Equal(t, stake.CanonicalBytes(), back.CanonicalBytes())
}

func TestRecords_MissingLossCounterIsZero(t *testing.T) {
	r := mustPool(t, 0).Record()
	r.LPLossPerUnit = ""
	p, err := r.Pool()
	require.NoError(t, err)
	assert.True(t, p.LPLossPerUnit.IsZero())

	s := state.NewLPStake(p, uuid.New()).Record()
	s.LossCheckpoint = ""
	stake, err := s.Stake()
	require.NoError(t, err)
	assert.True(t, stake.LossCheckpoint.IsZero())
}

func TestCanonicalBytes_LongIDsDoNotCollide(t *testing.T) {
	long := strings.Repeat("a", 300)
	p1, err := state.NewPoolContext(long, "USDC", "ETH", "USDC", state.DefaultPoolParams(), 0)
	require.NoError(t, err)
	p2, err := state.NewPoolContext(long[:44], "USDC", "ETH", "USDC", state.DefaultPoolParams(), 0)
	require.NoError(t, err)
	assert.NotEqual(t, p1.CanonicalBytes(), p2.CanonicalBytes())

	// The length prefix carries the full length, not its low byte.
	n, width := binary.Uvarint(p1.CanonicalBytes())
	require.Positive(t, width)
	assert.Equal(t, uint64(300), n)
	assert.Equal(t, long, string(p1.CanonicalBytes()[width:width+300]))

	// Field boundaries stay unambiguous when one string holds another's bytes.
	a := mustPool(t, 0)
	a.PoolID, a.CollateralToken = "AB", "C"
	b := mustPool(t, 0)
	b.PoolID, b.CollateralToken = "A", "BC"
	assert.NotEqual(t, a.CanonicalBytes(), b.CanonicalBytes())
}

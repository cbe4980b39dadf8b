package core

import (
	"errors"
	"fmt"

	"HookLedger/internal/amm"
	"HookLedger/internal/event"
	"HookLedger/internal/ledger"
	fpmath "HookLedger/internal/math"
	"HookLedger/internal/state"

	"github.com/google/uuid"
)

// executeSwap trades size units of the pool's asset against the AMM at the
// current price with no slippage bound. Staked liquidity is added around the
// swap and removed right after. Returns the trader-side deltas.
//
// Buys are exact-out of the asset; sells are exact-in.
func (c *DeterministicCore) executeSwap(op *operation, pool *state.PoolContext, size int64) (assetDelta, collateralDelta int64, err error) {
	if err := c.checkpointAMM(op, pool.PoolID); err != nil {
		return 0, 0, err
	}

	staked := pool.TotalStakedLiquidity
	if staked > 0 {
		if _, err := c.amm.ModifyLiquidity(pool.PoolID, amm.FullRange, staked); err != nil {
			return 0, 0, fmt.Errorf("add staked liquidity to %s: %w", pool.PoolID, err)
		}
	}

	// zeroForOne means token0 goes in: the collateral on a buy, the asset on
	// a sell.
	zeroForOne := pool.CollateralIsToken0
	if size < 0 {
		zeroForOne = !pool.CollateralIsToken0
	}
	delta, err := c.amm.Swap(pool.PoolID, size, zeroForOne)
	if errors.Is(err, amm.ErrInsufficientLiquidity) {
		return 0, 0, fmt.Errorf("swap %d on %s: %w: %v", size, pool.PoolID, state.ErrNoLiquidity, err)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("swap %d on %s: %w", size, pool.PoolID, err)
	}

	if staked > 0 {
		if _, err := c.amm.ModifyLiquidity(pool.PoolID, amm.FullRange, -staked); err != nil {
			return 0, 0, fmt.Errorf("remove staked liquidity from %s: %w", pool.PoolID, err)
		}
	}

	if pool.CollateralIsToken0 {
		assetDelta, collateralDelta = delta.Amount1, delta.Amount0
	} else {
		assetDelta, collateralDelta = delta.Amount0, delta.Amount1
	}
	op.result.AssetDelta = assetDelta
	op.result.CollateralDelta = collateralDelta
	return assetDelta, collateralDelta, nil
}

// handlePositionAdjusted opens, resizes or closes a position. A trade that
// leaves the position flat realizes it into collateral instead of running
// the margin check.
func (c *DeterministicCore) handlePositionAdjusted(op *operation, e *event.PositionAdjusted) error {
	pool, err := c.loadPool(op, e.Pool)
	if err != nil {
		return err
	}

	pos := op.txn.Position(pool, e.Account)
	if err := c.settleSwapper(op, pool, pos); err != nil {
		return err
	}

	exposureBefore := pos.Exposure
	assetDelta, collateralDelta, err := c.executeSwap(op, pool, e.Size)
	if err != nil {
		return err
	}
	if err := pos.ApplyTradeDelta(assetDelta, collateralDelta); err != nil {
		return err
	}

	if pos.IsFlat() {
		return c.realizeClose(op, pool, pos, exposureBefore)
	}

	if err := pool.ReplaceExposure(exposureBefore, pos.Exposure); err != nil {
		return err
	}
	collateral := op.post.Balance(ledger.CollateralKey(pool.PoolID, e.Account))
	return state.CheckMargin(pool.Params, collateral, pos.Exposure)
}

func (c *DeterministicCore) realizeClose(op *operation, pool *state.PoolContext, pos *state.Position, exposureBefore int64) error {
	pnl := -pos.Exposure
	if err := op.post.RealizeClose(pool.PoolID, pos.Account, pnl); err != nil {
		return err
	}
	if err := pool.ReplaceExposure(exposureBefore, 0); err != nil {
		return err
	}
	pos.Reset()
	op.result.Closed = true
	op.result.RealizedPnL = pnl
	return nil
}

func (c *DeterministicCore) handlePositionLiquidated(op *operation, e *event.PositionLiquidated) error {
	if err := c.liquidate(op, e.Pool, e.Liquidator, e.Target); err != nil {
		return err
	}

	r := op.result
	log := c.logger.Info()
	if r.Liquidation.Deficit > 0 {
		log = c.logger.Warn().
			Int64("deficit", r.Liquidation.Deficit).
			Int64("insurance", r.DeficitCovered).
			Int64("lp_fees", r.DeficitSocialized).
			Int64("bad_debt", r.DeficitBadDebt)
	}
	log.Str("pool", e.Pool).
		Str("target", e.Target.String()).
		Str("liquidator", e.Liquidator.String()).
		Int64("pnl", r.RealizedPnL).
		Int64("reward", r.Liquidation.Reward).
		Int64("fees_forgiven", r.FeesForgiven).
		Msg("position liquidated")
	return nil
}

// liquidate force-closes target's whole position. The close is evaluated
// after the swap; a position that does not qualify fails with
// ErrNotLiquidatable and the caller rolls the swap back.
func (c *DeterministicCore) liquidate(op *operation, poolID string, liquidator, target uuid.UUID) error {
	pool, err := c.loadPool(op, poolID)
	if err != nil {
		return err
	}

	pos := op.txn.Position(pool, target)
	if pos.IsFlat() {
		return fmt.Errorf("%s has no open position: %w", target, state.ErrNotLiquidatable)
	}
	if err := c.settleCapped(op, pool, pos); err != nil {
		return err
	}

	collateral := op.post.Balance(ledger.CollateralKey(pool.PoolID, target))
	exposureBefore := pos.Exposure

	assetDelta, collateralDelta, err := c.executeSwap(op, pool, -pos.Size)
	if err != nil {
		return err
	}
	if err := pos.ApplyTradeDelta(assetDelta, collateralDelta); err != nil {
		return err
	}

	pnl := -pos.Exposure
	remaining, err := fpmath.CheckedAdd(collateral, pnl)
	if err != nil {
		return fmt.Errorf("remaining collateral: %w", err)
	}
	valueAfter, err := fpmath.Abs(collateralDelta)
	if err != nil {
		return err
	}
	outcome, err := state.EvaluateLiquidation(pool.Params, valueAfter, remaining)
	if err != nil {
		return err
	}

	if err := pool.ReplaceExposure(exposureBefore, 0); err != nil {
		return err
	}
	pos.Reset()
	op.result.Closed = true
	op.result.RealizedPnL = pnl
	op.result.Liquidation = &outcome

	if outcome.Deficit > 0 {
		if err := op.post.RealizeClose(pool.PoolID, target, -collateral); err != nil {
			return err
		}
		return c.coverDeficit(op, pool, outcome.Deficit)
	}

	if err := op.post.RealizeClose(pool.PoolID, target, pnl); err != nil {
		return err
	}
	if err := op.post.PayLiquidator(pool.PoolID, target, outcome.Reward); err != nil {
		return err
	}
	return c.custodyOut(op, pool.CollateralToken, liquidator, outcome.Reward)
}

// coverDeficit books a liquidation shortfall against the insurance balance
// first. With liquidity staked, the rest is charged to the LP fee pool and
// spread over the stakes through the loss counter, so their claims on the
// pool shrink by what it paid. With nothing staked, only the pool's surplus
// can pay and whatever it cannot is written to bad_debt.
func (c *DeterministicCore) coverDeficit(op *operation, pool *state.PoolContext, deficit int64) error {
	insurance := op.post.Balance(ledger.NewSystemAccountKey(pool.PoolID, ledger.SubTypeSystemInsurance))
	covered, rest := c.insurance.ComputeCoverage(insurance, deficit)
	if err := op.post.CoverDeficit(pool.PoolID, ledger.SubTypeSystemInsurance, covered); err != nil {
		return err
	}
	op.result.DeficitCovered = covered

	if pool.TotalStakedLiquidity > 0 {
		if err := state.SocializeLoss(pool, rest); err != nil {
			return err
		}
		if err := op.post.CoverDeficit(pool.PoolID, ledger.SubTypeSystemLPFees, rest); err != nil {
			return err
		}
		op.result.DeficitSocialized = rest
		return nil
	}

	surplus := op.post.Balance(ledger.NewSystemAccountKey(pool.PoolID, ledger.SubTypeSystemLPFees))
	fromFees, unpaid := c.insurance.ComputeCoverage(surplus, rest)
	if err := op.post.CoverDeficit(pool.PoolID, ledger.SubTypeSystemLPFees, fromFees); err != nil {
		return err
	}
	if err := op.post.CoverDeficit(pool.PoolID, ledger.SubTypeSystemBadDebt, unpaid); err != nil {
		return err
	}
	op.result.DeficitSocialized = fromFees
	op.result.DeficitBadDebt = unpaid
	return nil
}

package state

import (
	"fmt"

	fpmath "HookLedger/internal/math"
)

// SwapperSettlement is what a trader owes or earns since the last checkpoint.
type SwapperSettlement struct {
	MarginOwed   int64 // >= 0, debited from collateral
	FundingDelta int64 // signed, credited to collateral
}

// SettleSwapper computes the fees accrued on pos since its checkpoints and
// moves the checkpoints to the pool's current counters. The caller applies
// the amounts to collateral, margin first.
func SettleSwapper(pool *PoolContext, pos *Position) (SwapperSettlement, error) {
	abs, err := fpmath.Abs(pos.Exposure)
	if err != nil {
		return SwapperSettlement{}, err
	}

	marginOwed, err := fpmath.ApplyPerUnit(pool.SwapperMarginFeePerUnit, pos.MarginCheckpoint, abs)
	if err != nil {
		return SwapperSettlement{}, fmt.Errorf("margin owed for %s: %w", pos.Account, err)
	}
	fundingDelta, err := fpmath.ApplySignedPerUnit(pool.FundingFeePerUnit, pos.FundingCheckpoint, pos.Exposure)
	if err != nil {
		return SwapperSettlement{}, fmt.Errorf("funding delta for %s: %w", pos.Account, err)
	}

	pos.Checkpoint(pool)
	return SwapperSettlement{MarginOwed: marginOwed, FundingDelta: fundingDelta}, nil
}

// SettleLP nets LP profit against socialized losses since the stake's
// checkpoints and adds the result to RealizedProfit. Losses round up, so the
// stakes together absorb at least what was socialized.
func SettleLP(pool *PoolContext, stake *LPStake) (int64, error) {
	profit, err := fpmath.ApplyPerUnit(pool.LPMarginFeePerUnit, stake.MarginCheckpoint, stake.Liquidity)
	if err != nil {
		return 0, fmt.Errorf("lp profit for %s: %w", stake.Account, err)
	}
	loss, err := fpmath.ApplyPerUnitCeil(pool.LPLossPerUnit, stake.LossCheckpoint, stake.Liquidity)
	if err != nil {
		return 0, fmt.Errorf("lp loss for %s: %w", stake.Account, err)
	}
	net := profit - loss
	realized, err := fpmath.CheckedAdd(stake.RealizedProfit, net)
	if err != nil {
		return 0, fmt.Errorf("lp realized profit for %s: %w", stake.Account, err)
	}

	stake.RealizedProfit = realized
	stake.MarginCheckpoint = pool.LPMarginFeePerUnit.Clone()
	stake.LossCheckpoint = pool.LPLossPerUnit.Clone()
	return net, nil
}

// SocializeLoss spreads loss over the staked liquidity through LPLossPerUnit.
func SocializeLoss(pool *PoolContext, loss int64) error {
	if loss == 0 {
		return nil
	}
	if pool.TotalStakedLiquidity <= 0 {
		return fmt.Errorf("pool %s: socialize %d with nothing staked: %w", pool.PoolID, loss, ErrNoLiquidity)
	}
	step, err := fpmath.PerUnitIncrementCeil(loss, pool.TotalStakedLiquidity)
	if err != nil {
		return fmt.Errorf("pool %s lp loss step: %w", pool.PoolID, err)
	}
	next, err := fpmath.AdvancePerUnit(pool.LPLossPerUnit, step, 1)
	if err != nil {
		return fmt.Errorf("pool %s lp loss counter: %w", pool.PoolID, err)
	}
	pool.LPLossPerUnit = next
	return nil
}

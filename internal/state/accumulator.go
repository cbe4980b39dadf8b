package state

import (
	"fmt"
	"math/big"

	fpmath "HookLedger/internal/math"
)

// Accrual describes one catch-up of a pool's fee counters.
type Accrual struct {
	Epochs         int64
	MarginPayment  int64 // per epoch
	FundingPayment int64 // per epoch, signed
	LPTermSkipped  bool  // margin was charged but no liquidity was staked
}

// Accrue advances the pool counters by every whole epoch elapsed since
// LastFundingTime. The aggregates cannot change between epochs without an
// action, and every action accrues first, so one scaled update equals
// iterating the epochs one by one.
func Accrue(pool *PoolContext, now int64) (Accrual, error) {
	epoch := pool.Params.EpochSeconds
	since, err := fpmath.CheckedSub(now, pool.LastFundingTime)
	if err != nil {
		return Accrual{}, fmt.Errorf("accrue pool %s at %d: %w", pool.PoolID, now, err)
	}
	if since < epoch {
		return Accrual{}, nil
	}

	acc := Accrual{Epochs: since / epoch}
	acc.MarginPayment = pool.AggregateAbsExposure / pool.Params.MarginRateScale

	if acc.MarginPayment > 0 {
		if pool.TotalStakedLiquidity > 0 {
			step, err := fpmath.PerUnitIncrement(acc.MarginPayment, pool.TotalStakedLiquidity)
			if err != nil {
				return Accrual{}, fmt.Errorf("lp margin step: %w", err)
			}
			next, err := fpmath.AdvancePerUnit(pool.LPMarginFeePerUnit, step, acc.Epochs)
			if err != nil {
				return Accrual{}, fmt.Errorf("lp margin counter: %w", err)
			}
			pool.LPMarginFeePerUnit = next
		} else {
			acc.LPTermSkipped = true
		}

		// MarginPayment > 0 implies AggregateAbsExposure > 0.
		step, err := fpmath.PerUnitIncrement(acc.MarginPayment, pool.AggregateAbsExposure)
		if err != nil {
			return Accrual{}, fmt.Errorf("swapper margin step: %w", err)
		}
		next, err := fpmath.AdvancePerUnit(pool.SwapperMarginFeePerUnit, step, acc.Epochs)
		if err != nil {
			return Accrual{}, fmt.Errorf("swapper margin counter: %w", err)
		}
		pool.SwapperMarginFeePerUnit = next
	}

	acc.FundingPayment = pool.AggregateNetExposure / pool.Params.FundingRateScale()
	if acc.FundingPayment != 0 {
		step, err := fundingStep(pool, acc.FundingPayment)
		if err != nil {
			return Accrual{}, fmt.Errorf("funding step: %w", err)
		}
		pool.FundingFeePerUnit = fpmath.AdvanceSignedPerUnit(pool.FundingFeePerUnit, step, acc.Epochs)
	}

	elapsed, err := fpmath.MulDiv(acc.Epochs, epoch, 1)
	if err != nil {
		return Accrual{}, fmt.Errorf("advance funding clock: %w", err)
	}
	if pool.LastFundingTime, err = fpmath.CheckedAdd(pool.LastFundingTime, elapsed); err != nil {
		return Accrual{}, fmt.Errorf("advance funding clock: %w", err)
	}

	return acc, nil
}

// fundingStep returns the per-epoch funding counter increment.
func fundingStep(pool *PoolContext, payment int64) (*big.Int, error) {
	if pool.Params.FundingModel == FundingLegacyConstant {
		// payment != 0 implies net != 0
		return fpmath.SignedPerUnitIncrement(payment, pool.AggregateNetExposure)
	}

	// |net| <= abs, so abs is non-zero whenever payment is. The dominant
	// side pays: a net long pool moves the counter down.
	step, err := fpmath.SignedPerUnitIncrement(pool.AggregateNetExposure, pool.AggregateAbsExposure)
	if err != nil {
		return nil, err
	}
	step.Quo(step, big.NewInt(pool.Params.FundingRateScale()))
	return step.Neg(step), nil
}

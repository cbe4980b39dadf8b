package state

import (
	"fmt"

	fpmath "HookLedger/internal/math"
)

// CheckMargin enforces collateral*LeverageConst/|exposure| >= MinMarginRatio.
// A flat exposure needs no margin.
func CheckMargin(params PoolParams, collateral, exposure int64) error {
	notional, err := fpmath.Abs(exposure)
	if err != nil {
		return err
	}
	if notional == 0 {
		return nil
	}

	ratio, err := fpmath.MulDiv(collateral, params.LeverageConst, notional)
	if err != nil {
		return fmt.Errorf("margin ratio: %w", err)
	}
	if ratio < params.MinMarginRatio {
		return fmt.Errorf("margin ratio %d below %d (collateral=%d, notional=%d): %w",
			ratio, params.MinMarginRatio, collateral, notional, ErrInsufficientCollateral)
	}
	return nil
}

// LiquidationOutcome is the result of evaluating a force-closed position.
type LiquidationOutcome struct {
	Remaining int64 // collateral after realizing the close, floored at zero
	Reward    int64 // paid to the liquidator out of Remaining
	Deficit   int64 // shortfall when the close lost more than the collateral
}

// EvaluateLiquidation decides whether a position whose close yields valueAfter
// and leaves remaining collateral may be liquidated. remaining <= 0 is always
// liquidatable; otherwise valueAfter/remaining must exceed the threshold.
func EvaluateLiquidation(params PoolParams, valueAfter, remaining int64) (LiquidationOutcome, error) {
	if remaining <= 0 {
		deficit, err := fpmath.Abs(remaining)
		if err != nil {
			return LiquidationOutcome{}, err
		}
		return LiquidationOutcome{Deficit: deficit}, nil
	}

	value, err := fpmath.Abs(valueAfter)
	if err != nil {
		return LiquidationOutcome{}, err
	}
	ratio := value / remaining
	if ratio <= params.LiquidationThreshold {
		return LiquidationOutcome{}, fmt.Errorf("ratio %d <= %d (value=%d, remaining=%d): %w",
			ratio, params.LiquidationThreshold, value, remaining, ErrNotLiquidatable)
	}

	return LiquidationOutcome{
		Remaining: remaining,
		Reward:    remaining / params.LiquidatorFeeDivisor,
	}, nil
}

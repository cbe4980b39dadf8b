package state

import "errors"

var (
	ErrInsufficientCollateral = errors.New("insufficient collateral")
	ErrPositionNotFlat        = errors.New("position not flat")
	ErrInvalidStakeAmount     = errors.New("invalid stake amount")
	ErrNotLiquidatable        = errors.New("position not liquidatable")
	ErrNoLiquidity            = errors.New("no liquidity")
	ErrMissingCollateralLeg   = errors.New("pool has no collateral leg")
	ErrPoolNotFound           = errors.New("pool not found")
	ErrPoolExists             = errors.New("pool already initialized")
	ErrInvalidAmount          = errors.New("amount must be positive")
)

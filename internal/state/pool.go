package state

import (
	"encoding/binary"
	"fmt"
	"math/big"

	fpmath "HookLedger/internal/math"

	"github.com/holiman/uint256"
)

// PoolContext is the per-pool fee accumulator and aggregate exposure state.
type PoolContext struct {
	PoolID          string
	CollateralToken string
	AssetToken      string
	Params          PoolParams

	// CollateralIsToken0 records which AMM leg is the collateral.
	CollateralIsToken0 bool

	LastFundingTime int64 // unix seconds, always on an epoch boundary

	SwapperMarginFeePerUnit *uint256.Int // scaled by math.PerUnitScale, non-decreasing
	LPMarginFeePerUnit      *uint256.Int // scaled by math.PerUnitScale, non-decreasing
	FundingFeePerUnit       *big.Int     // scaled by math.PerUnitScale, signed

	// LPLossPerUnit is socialized liquidation deficit per staked unit, netted
	// against LP profit at settlement. Scaled by math.PerUnitScale, non-decreasing.
	LPLossPerUnit *uint256.Int

	AggregateAbsExposure int64
	AggregateNetExposure int64
	TotalStakedLiquidity int64

	Version int64
}

// NewPoolContext validates the pool legs and floors the funding clock to the
// epoch boundary at or before now.
func NewPoolContext(poolID, collateralToken, token0, token1 string, params PoolParams, now int64) (*PoolContext, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("pool %s: %w", poolID, err)
	}

	var asset string
	var collateralIsToken0 bool
	switch {
	case token0 == collateralToken && token1 != collateralToken:
		asset = token1
		collateralIsToken0 = true
	case token1 == collateralToken && token0 != collateralToken:
		asset = token0
	default:
		return nil, fmt.Errorf("pool %s (%s/%s, collateral %s): %w",
			poolID, token0, token1, collateralToken, ErrMissingCollateralLeg)
	}

	floor := now - now%params.EpochSeconds
	if now < 0 && now%params.EpochSeconds != 0 {
		floor -= params.EpochSeconds
	}

	return &PoolContext{
		PoolID:                  poolID,
		CollateralToken:         collateralToken,
		AssetToken:              asset,
		Params:                  params,
		CollateralIsToken0:      collateralIsToken0,
		LastFundingTime:         floor,
		SwapperMarginFeePerUnit: new(uint256.Int),
		LPMarginFeePerUnit:      new(uint256.Int),
		FundingFeePerUnit:       new(big.Int),
		LPLossPerUnit:           new(uint256.Int),
	}, nil
}

// Clone returns a deep copy.
func (p *PoolContext) Clone() *PoolContext {
	c := *p
	c.SwapperMarginFeePerUnit = p.SwapperMarginFeePerUnit.Clone()
	c.LPMarginFeePerUnit = p.LPMarginFeePerUnit.Clone()
	c.FundingFeePerUnit = new(big.Int).Set(p.FundingFeePerUnit)
	c.LPLossPerUnit = p.LPLossPerUnit.Clone()
	return &c
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *PoolContext) CanonicalBytes() []byte {
	buf := make([]byte, 0, 160)
	buf = appendString(buf, p.PoolID)
	buf = appendString(buf, p.CollateralToken)
	buf = appendString(buf, p.AssetToken)
	buf = appendInt64LE(buf, p.LastFundingTime)
	buf = appendString(buf, p.SwapperMarginFeePerUnit.Dec())
	buf = appendString(buf, p.LPMarginFeePerUnit.Dec())
	buf = appendString(buf, p.FundingFeePerUnit.String())
	buf = appendString(buf, p.LPLossPerUnit.Dec())
	buf = appendInt64LE(buf, p.AggregateAbsExposure)
	buf = appendInt64LE(buf, p.AggregateNetExposure)
	buf = appendInt64LE(buf, p.TotalStakedLiquidity)
	return buf
}

// appendString writes a uvarint length prefix, so no two field sequences
// share an encoding.
func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// ReplaceExposure moves one account's contribution to the aggregates from
// before to after.
func (p *PoolContext) ReplaceExposure(before, after int64) error {
	absBefore, err := fpmath.Abs(before)
	if err != nil {
		return err
	}
	absAfter, err := fpmath.Abs(after)
	if err != nil {
		return err
	}

	aggAbs, err := fpmath.CheckedSub(p.AggregateAbsExposure, absBefore)
	if err == nil {
		aggAbs, err = fpmath.CheckedAdd(aggAbs, absAfter)
	}
	if err != nil {
		return fmt.Errorf("aggregate abs exposure: %w", err)
	}
	aggNet, err := fpmath.CheckedSub(p.AggregateNetExposure, before)
	if err == nil {
		aggNet, err = fpmath.CheckedAdd(aggNet, after)
	}
	if err != nil {
		return fmt.Errorf("aggregate net exposure: %w", err)
	}

	p.AggregateAbsExposure = aggAbs
	p.AggregateNetExposure = aggNet
	return nil
}

// AdjustStaked adds delta (signed) to TotalStakedLiquidity.
func (p *PoolContext) AdjustStaked(delta int64) error {
	total, err := fpmath.CheckedAdd(p.TotalStakedLiquidity, delta)
	if err != nil {
		return fmt.Errorf("total staked liquidity: %w", err)
	}
	if total < 0 {
		return fmt.Errorf("total staked liquidity %d below zero: %w", total, ErrInvalidStakeAmount)
	}
	p.TotalStakedLiquidity = total
	return nil
}

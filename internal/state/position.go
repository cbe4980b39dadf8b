package state

import (
	"fmt"
	"math/big"

	fpmath "HookLedger/internal/math"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Position is a trader's synthetic exposure in one pool.
//
// Size is the signed amount of the non-collateral asset held. Exposure is the
// signed collateral-denominated notional: the negation of the collateral leg
// paid or received by the trades that built the position.
type Position struct {
	PoolID            string
	Account           uuid.UUID
	Size              int64
	Exposure          int64
	MarginCheckpoint  *uint256.Int
	FundingCheckpoint *big.Int
	Version           int64
}

// NewPosition returns a flat position checkpointed at the pool's counters.
func NewPosition(pool *PoolContext, account uuid.UUID) *Position {
	return &Position{
		PoolID:            pool.PoolID,
		Account:           account,
		MarginCheckpoint:  pool.SwapperMarginFeePerUnit.Clone(),
		FundingCheckpoint: new(big.Int).Set(pool.FundingFeePerUnit),
	}
}

// IsFlat returns true if the position holds none of the asset
func (p *Position) IsFlat() bool {
	return p.Size == 0
}

// ApplyTradeDelta books a realized swap delta seen from the trader's side:
// assetDelta received (+) or given (-), collateralDelta likewise.
func (p *Position) ApplyTradeDelta(assetDelta, collateralDelta int64) error {
	size, err := fpmath.CheckedAdd(p.Size, assetDelta)
	if err != nil {
		return fmt.Errorf("position size: %w", err)
	}
	exposure, err := fpmath.CheckedSub(p.Exposure, collateralDelta)
	if err != nil {
		return fmt.Errorf("position exposure: %w", err)
	}
	p.Size = size
	p.Exposure = exposure
	return nil
}

// Checkpoint moves both checkpoints to the pool's current counters.
func (p *Position) Checkpoint(pool *PoolContext) {
	p.MarginCheckpoint = pool.SwapperMarginFeePerUnit.Clone()
	p.FundingCheckpoint = new(big.Int).Set(pool.FundingFeePerUnit)
}

// Reset zeroes the position after its value has been realized.
func (p *Position) Reset() {
	p.Size = 0
	p.Exposure = 0
}

func (p *Position) Clone() *Position {
	c := *p
	c.MarginCheckpoint = p.MarginCheckpoint.Clone()
	c.FundingCheckpoint = new(big.Int).Set(p.FundingCheckpoint)
	return &c
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 128)
	buf = append(buf, p.Account[:]...)
	buf = appendString(buf, p.PoolID)
	buf = appendInt64LE(buf, p.Size)
	buf = appendInt64LE(buf, p.Exposure)
	buf = appendString(buf, p.MarginCheckpoint.Dec())
	buf = appendString(buf, p.FundingCheckpoint.String())
	return buf
}

// LPStake is a liquidity provider's staked liquidity in one pool.
type LPStake struct {
	PoolID           string
	Account          uuid.UUID
	Liquidity        int64
	MarginCheckpoint *uint256.Int
	LossCheckpoint   *uint256.Int
	RealizedProfit   int64 // negative while socialized losses exceed profit
	Version          int64
}

// NewLPStake returns an empty stake checkpointed at the pool's LP counters.
func NewLPStake(pool *PoolContext, account uuid.UUID) *LPStake {
	return &LPStake{
		PoolID:           pool.PoolID,
		Account:          account,
		MarginCheckpoint: pool.LPMarginFeePerUnit.Clone(),
		LossCheckpoint:   pool.LPLossPerUnit.Clone(),
	}
}

func (s *LPStake) Clone() *LPStake {
	c := *s
	c.MarginCheckpoint = s.MarginCheckpoint.Clone()
	c.LossCheckpoint = s.LossCheckpoint.Clone()
	return &c
}

// CanonicalBytes returns deterministic serialization for hashing
func (s *LPStake) CanonicalBytes() []byte {
	buf := make([]byte, 0, 96)
	buf = append(buf, s.Account[:]...)
	buf = appendString(buf, s.PoolID)
	buf = appendInt64LE(buf, s.Liquidity)
	buf = appendString(buf, s.MarginCheckpoint.Dec())
	buf = appendString(buf, s.LossCheckpoint.Dec())
	buf = appendInt64LE(buf, s.RealizedProfit)
	return buf
}

package state

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// PoolRecord is the JSON form of a PoolContext. Counters are decimal strings.
type PoolRecord struct {
	PoolID                  string     `json:"pool_id"`
	CollateralToken         string     `json:"collateral_token"`
	AssetToken              string     `json:"asset_token"`
	Params                  PoolParams `json:"params"`
	CollateralIsToken0      bool       `json:"collateral_is_token0"`
	LastFundingTime         int64      `json:"last_funding_time"`
	SwapperMarginFeePerUnit string     `json:"swapper_margin_fee_per_unit"`
	LPMarginFeePerUnit      string     `json:"lp_margin_fee_per_unit"`
	FundingFeePerUnit       string     `json:"funding_fee_per_unit"`
	LPLossPerUnit           string     `json:"lp_loss_per_unit,omitempty"`
	AggregateAbsExposure    int64      `json:"aggregate_abs_exposure"`
	AggregateNetExposure    int64      `json:"aggregate_net_exposure"`
	TotalStakedLiquidity    int64      `json:"total_staked_liquidity"`
	Version                 int64      `json:"version"`
}

// PositionRecord is the JSON form of a Position.
type PositionRecord struct {
	PoolID            string    `json:"pool_id"`
	Account           uuid.UUID `json:"account"`
	Size              int64     `json:"size"`
	Exposure          int64     `json:"exposure"`
	MarginCheckpoint  string    `json:"margin_checkpoint"`
	FundingCheckpoint string    `json:"funding_checkpoint"`
	Version           int64     `json:"version"`
}

// StakeRecord is the JSON form of an LPStake.
type StakeRecord struct {
	PoolID           string    `json:"pool_id"`
	Account          uuid.UUID `json:"account"`
	Liquidity        int64     `json:"liquidity"`
	MarginCheckpoint string    `json:"margin_checkpoint"`
	LossCheckpoint   string    `json:"loss_checkpoint,omitempty"`
	RealizedProfit   int64     `json:"realized_profit"`
	Version          int64     `json:"version"`
}

func (p *PoolContext) Record() PoolRecord {
	return PoolRecord{
		PoolID:                  p.PoolID,
		CollateralToken:         p.CollateralToken,
		AssetToken:              p.AssetToken,
		Params:                  p.Params,
		CollateralIsToken0:      p.CollateralIsToken0,
		LastFundingTime:         p.LastFundingTime,
		SwapperMarginFeePerUnit: p.SwapperMarginFeePerUnit.Dec(),
		LPMarginFeePerUnit:      p.LPMarginFeePerUnit.Dec(),
		FundingFeePerUnit:       p.FundingFeePerUnit.String(),
		LPLossPerUnit:           p.LPLossPerUnit.Dec(),
		AggregateAbsExposure:    p.AggregateAbsExposure,
		AggregateNetExposure:    p.AggregateNetExposure,
		TotalStakedLiquidity:    p.TotalStakedLiquidity,
		Version:                 p.Version,
	}
}

func (r PoolRecord) Pool() (*PoolContext, error) {
	swapper, err := uint256.FromDecimal(r.SwapperMarginFeePerUnit)
	if err != nil {
		return nil, fmt.Errorf("pool %s swapper counter: %w", r.PoolID, err)
	}
	lp, err := uint256.FromDecimal(r.LPMarginFeePerUnit)
	if err != nil {
		return nil, fmt.Errorf("pool %s lp counter: %w", r.PoolID, err)
	}
	funding, ok := new(big.Int).SetString(r.FundingFeePerUnit, 10)
	if !ok {
		return nil, fmt.Errorf("pool %s funding counter %q: invalid", r.PoolID, r.FundingFeePerUnit)
	}
	loss, err := decimalOrZero(r.LPLossPerUnit)
	if err != nil {
		return nil, fmt.Errorf("pool %s lp loss counter: %w", r.PoolID, err)
	}
	return &PoolContext{
		PoolID:                  r.PoolID,
		CollateralToken:         r.CollateralToken,
		AssetToken:              r.AssetToken,
		Params:                  r.Params,
		CollateralIsToken0:      r.CollateralIsToken0,
		LastFundingTime:         r.LastFundingTime,
		SwapperMarginFeePerUnit: swapper,
		LPMarginFeePerUnit:      lp,
		FundingFeePerUnit:       funding,
		LPLossPerUnit:           loss,
		AggregateAbsExposure:    r.AggregateAbsExposure,
		AggregateNetExposure:    r.AggregateNetExposure,
		TotalStakedLiquidity:    r.TotalStakedLiquidity,
		Version:                 r.Version,
	}, nil
}

func (p *Position) Record() PositionRecord {
	return PositionRecord{
		PoolID:            p.PoolID,
		Account:           p.Account,
		Size:              p.Size,
		Exposure:          p.Exposure,
		MarginCheckpoint:  p.MarginCheckpoint.Dec(),
		FundingCheckpoint: p.FundingCheckpoint.String(),
		Version:           p.Version,
	}
}

func (r PositionRecord) Position() (*Position, error) {
	margin, err := uint256.FromDecimal(r.MarginCheckpoint)
	if err != nil {
		return nil, fmt.Errorf("position %s/%s margin checkpoint: %w", r.PoolID, r.Account, err)
	}
	funding, ok := new(big.Int).SetString(r.FundingCheckpoint, 10)
	if !ok {
		return nil, fmt.Errorf("position %s/%s funding checkpoint %q: invalid", r.PoolID, r.Account, r.FundingCheckpoint)
	}
	return &Position{
		PoolID:            r.PoolID,
		Account:           r.Account,
		Size:              r.Size,
		Exposure:          r.Exposure,
		MarginCheckpoint:  margin,
		FundingCheckpoint: funding,
		Version:           r.Version,
	}, nil
}

func (s *LPStake) Record() StakeRecord {
	return StakeRecord{
		PoolID:           s.PoolID,
		Account:          s.Account,
		Liquidity:        s.Liquidity,
		MarginCheckpoint: s.MarginCheckpoint.Dec(),
		LossCheckpoint:   s.LossCheckpoint.Dec(),
		RealizedProfit:   s.RealizedProfit,
		Version:          s.Version,
	}
}

func (r StakeRecord) Stake() (*LPStake, error) {
	margin, err := uint256.FromDecimal(r.MarginCheckpoint)
	if err != nil {
		return nil, fmt.Errorf("stake %s/%s margin checkpoint: %w", r.PoolID, r.Account, err)
	}
	loss, err := decimalOrZero(r.LossCheckpoint)
	if err != nil {
		return nil, fmt.Errorf("stake %s/%s loss checkpoint: %w", r.PoolID, r.Account, err)
	}
	return &LPStake{
		PoolID:           r.PoolID,
		Account:          r.Account,
		Liquidity:        r.Liquidity,
		MarginCheckpoint: margin,
		LossCheckpoint:   loss,
		RealizedProfit:   r.RealizedProfit,
		Version:          r.Version,
	}, nil
}

// decimalOrZero reads counters that older snapshots do not carry.
func decimalOrZero(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	return uint256.FromDecimal(s)
}

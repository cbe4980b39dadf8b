package state

import "fmt"

// FundingModel selects how the per-epoch funding adjustment is derived.
type FundingModel int32

const (
	// FundingProportional charges the dominant side at a rate proportional
	// to |net| / abs exposure.
	FundingProportional FundingModel = iota
	// FundingLegacyConstant advances the counter by payment/net, which is a
	// constant whenever the net exposure is non-zero.
	FundingLegacyConstant
)

func (m FundingModel) String() string {
	switch m {
	case FundingProportional:
		return "proportional"
	case FundingLegacyConstant:
		return "legacy"
	default:
		return "unknown"
	}
}

// ParseFundingModel accepts the String() forms.
func ParseFundingModel(s string) (FundingModel, error) {
	switch s {
	case "", "proportional":
		return FundingProportional, nil
	case "legacy":
		return FundingLegacyConstant, nil
	}
	return 0, fmt.Errorf("unknown funding model %q", s)
}

// PoolParams holds the fee and risk constants of one pool.
type PoolParams struct {
	EpochSeconds         int64        `json:"epoch_seconds"`        // accrual period
	MarginRateScale      int64        `json:"margin_rate_scale"`    // 10% annual over hourly epochs: 10 * 8_760
	FundingRateDivisor   int64        `json:"funding_rate_divisor"` // funding scale = MarginRateScale / FundingRateDivisor
	LeverageConst        int64        `json:"leverage_const"`
	MinMarginRatio       int64        `json:"min_margin_ratio"`       // collateral*LeverageConst/notional must be >= this
	LiquidationThreshold int64        `json:"liquidation_threshold"`  // notional/remaining must exceed this
	LiquidatorFeeDivisor int64        `json:"liquidator_fee_divisor"` // reward = remaining / LiquidatorFeeDivisor
	FundingModel         FundingModel `json:"funding_model"`
}

// DefaultPoolParams returns the reference policy constants.
func DefaultPoolParams() PoolParams {
	return PoolParams{
		EpochSeconds:         3_600,
		MarginRateScale:      87_600,
		FundingRateDivisor:   5,
		LeverageConst:        20,
		MinMarginRatio:       2,
		LiquidationThreshold: 20,
		LiquidatorFeeDivisor: 20,
		FundingModel:         FundingProportional,
	}
}

// FundingRateScale is the per-epoch divisor of the net exposure.
func (p PoolParams) FundingRateScale() int64 {
	return p.MarginRateScale / p.FundingRateDivisor
}

// Validate checks that every divisor is usable.
func (p PoolParams) Validate() error {
	if p.EpochSeconds <= 0 {
		return fmt.Errorf("epoch_seconds must be > 0, got %d", p.EpochSeconds)
	}
	if p.MarginRateScale <= 0 {
		return fmt.Errorf("margin_rate_scale must be > 0, got %d", p.MarginRateScale)
	}
	if p.FundingRateDivisor <= 0 || p.FundingRateScale() <= 0 {
		return fmt.Errorf("funding_rate_divisor must be in (0, %d], got %d", p.MarginRateScale, p.FundingRateDivisor)
	}
	if p.LeverageConst <= 0 || p.MinMarginRatio <= 0 {
		return fmt.Errorf("leverage_const and min_margin_ratio must be > 0")
	}
	if p.LiquidationThreshold <= 0 || p.LiquidatorFeeDivisor <= 0 {
		return fmt.Errorf("liquidation_threshold and liquidator_fee_divisor must be > 0")
	}
	return nil
}

package query

import "github.com/google/uuid"

// PoolResponse is the projected state of one pool. Fee counters are the
// raw 1e18-scaled per-unit accumulators.
type PoolResponse struct {
	PoolID                  string `json:"pool_id"`
	CollateralToken         string `json:"collateral_token"`
	AssetToken              string `json:"asset_token"`
	FundingModel            string `json:"funding_model"`
	LastFundingTime         int64  `json:"last_funding_time"`
	AggregateAbsExposure    Amount `json:"aggregate_abs_exposure"`
	AggregateNetExposure    Amount `json:"aggregate_net_exposure"`
	TotalStakedLiquidity    int64  `json:"total_staked_liquidity"`
	SwapperMarginFeePerUnit string `json:"swapper_margin_fee_per_unit"`
	LPMarginFeePerUnit      string `json:"lp_margin_fee_per_unit"`
	FundingFeePerUnit       string `json:"funding_fee_per_unit"`
	LPLossPerUnit           string `json:"lp_loss_per_unit"`
	Version                 int64  `json:"version"`
	AsOfSequence            int64  `json:"as_of_sequence"`
}

// PositionResponse is a swapper's projected position.
type PositionResponse struct {
	PoolID       string    `json:"pool_id"`
	Account      uuid.UUID `json:"account"`
	Size         int64     `json:"size"`     // asset base units
	Exposure     Amount    `json:"exposure"` // collateral-denominated notional
	Version      int64     `json:"version"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// StakeResponse is an LP's projected stake.
type StakeResponse struct {
	PoolID         string    `json:"pool_id"`
	Account        uuid.UUID `json:"account"`
	Liquidity      int64     `json:"liquidity"`
	RealizedProfit Amount    `json:"realized_profit"`
	Version        int64     `json:"version"`
	AsOfSequence   int64     `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Amount        Amount `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool             `json:"is_healthy"`
	HashChainBreaks []int64          `json:"hash_chain_breaks,omitempty"`
	UnbalancedPools []UnbalancedPool `json:"unbalanced_pools,omitempty"`
	AsOfSequence    int64            `json:"as_of_sequence"`
}

// UnbalancedPool is a pool whose projected balances do not sum to zero.
type UnbalancedPool struct {
	PoolID    string `json:"pool_id"`
	Imbalance int64  `json:"imbalance"`
}

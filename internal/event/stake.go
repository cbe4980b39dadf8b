package event

import "github.com/google/uuid"

// LiquidityStaked stakes LP liquidity that backs trades.
type LiquidityStaked struct {
	Header
	Account uuid.UUID `json:"account"`
	Amount  int64     `json:"amount"` // liquidity units
}

func (s *LiquidityStaked) EventType() EventType {
	return EventTypeLiquidityStaked
}

// Validate checks the envelope only. Stake amounts are a ledger rule,
// rejected and logged as state.ErrInvalidStakeAmount when applied.
func (s *LiquidityStaked) Validate() error {
	return validateAccount(s.Header, s.Account)
}

// LiquidityUnstaked withdraws staked liquidity and pays out realized profit.
type LiquidityUnstaked struct {
	Header
	Account uuid.UUID `json:"account"`
	Amount  int64     `json:"amount"`
}

func (u *LiquidityUnstaked) EventType() EventType {
	return EventTypeLiquidityUnstaked
}

func (u *LiquidityUnstaked) Validate() error {
	return validateAccount(u.Header, u.Account)
}

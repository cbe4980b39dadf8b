package event

import (
	"fmt"

	"HookLedger/internal/state"
)

// PoolInitialized is the host's pool-initialize hook. The pool must have the
// collateral token as exactly one of its legs. An empty CollateralToken
// selects the ledger's configured collateral.
type PoolInitialized struct {
	Header
	CollateralToken string            `json:"collateral_token,omitempty"`
	Token0          string            `json:"token0"`
	Token1          string            `json:"token1"`
	Reserve0        int64             `json:"reserve0"`
	Reserve1        int64             `json:"reserve1"`
	Params          *state.PoolParams `json:"params,omitempty"` // nil selects the defaults
}

func (p *PoolInitialized) EventType() EventType {
	return EventTypePoolInitialized
}

func (p *PoolInitialized) Validate() error {
	if err := p.Header.validate(); err != nil {
		return err
	}
	if p.Token0 == "" || p.Token1 == "" {
		return fmt.Errorf("token0 and token1 are required: %w", ErrMalformed)
	}
	if p.Reserve0 <= 0 || p.Reserve1 <= 0 {
		return fmt.Errorf("reserves must be positive: %w", ErrMalformed)
	}
	return nil
}

// PoolParamsOrDefault returns the requested params or the default policy.
func (p *PoolInitialized) PoolParamsOrDefault() state.PoolParams {
	if p.Params == nil {
		return state.DefaultPoolParams()
	}
	return *p.Params
}

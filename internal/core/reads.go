package core

import (
	"fmt"

	"HookLedger/internal/ledger"
	"HookLedger/internal/state"

	"github.com/google/uuid"
)

// PendingFees is what an account would settle at a given time.
type PendingFees struct {
	MarginOwed   int64 `json:"margin_owed"`
	FundingDelta int64 `json:"funding_delta"`
	LPProfit     int64 `json:"lp_profit"` // realized plus unsettled
}

// Reads never mutate state. Like ProcessEvent they must run on the core
// goroutine (see Runner.Read).

func (c *DeterministicCore) Pool(poolID string) (state.PoolRecord, error) {
	pool := c.registry.Pool(poolID)
	if pool == nil {
		return state.PoolRecord{}, fmt.Errorf("%s: %w", poolID, state.ErrPoolNotFound)
	}
	return pool.Record(), nil
}

// Pools returns every pool sorted by ID.
func (c *DeterministicCore) Pools() []state.PoolRecord {
	ids := c.registry.PoolIDs()
	out := make([]state.PoolRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.registry.Pool(id).Record())
	}
	return out
}

// Position returns the account's position, flat if it never traded.
func (c *DeterministicCore) Position(poolID string, account uuid.UUID) (state.PositionRecord, error) {
	pool := c.registry.Pool(poolID)
	if pool == nil {
		return state.PositionRecord{}, fmt.Errorf("%s: %w", poolID, state.ErrPoolNotFound)
	}
	if pos := c.registry.Position(poolID, account); pos != nil {
		return pos.Record(), nil
	}
	return state.NewPosition(pool, account).Record(), nil
}

func (c *DeterministicCore) Stake(poolID string, account uuid.UUID) (state.StakeRecord, error) {
	pool := c.registry.Pool(poolID)
	if pool == nil {
		return state.StakeRecord{}, fmt.Errorf("%s: %w", poolID, state.ErrPoolNotFound)
	}
	if s := c.registry.Stake(poolID, account); s != nil {
		return s.Record(), nil
	}
	return state.NewLPStake(pool, account).Record(), nil
}

func (c *DeterministicCore) Collateral(poolID string, account uuid.UUID) int64 {
	return c.balanceTracker.GetCollateral(poolID, account)
}

func (c *DeterministicCore) Balance(key ledger.AccountKey) int64 {
	return c.balanceTracker.GetBalance(key)
}

// PendingFees accrues copies of the pool and the account's records up to now
// and settles them.
func (c *DeterministicCore) PendingFees(poolID string, account uuid.UUID, now int64) (PendingFees, error) {
	stored := c.registry.Pool(poolID)
	if stored == nil {
		return PendingFees{}, fmt.Errorf("%s: %w", poolID, state.ErrPoolNotFound)
	}
	pool := stored.Clone()
	if _, err := state.Accrue(pool, now); err != nil {
		return PendingFees{}, err
	}

	var out PendingFees
	if pos := c.registry.Position(poolID, account); pos != nil {
		s, err := state.SettleSwapper(pool, pos.Clone())
		if err != nil {
			return PendingFees{}, err
		}
		out.MarginOwed = s.MarginOwed
		out.FundingDelta = s.FundingDelta
	}
	if stake := c.registry.Stake(poolID, account); stake != nil {
		s := stake.Clone()
		if _, err := state.SettleLP(pool, s); err != nil {
			return PendingFees{}, err
		}
		out.LPProfit = s.RealizedProfit
	}
	return out, nil
}

// CheckLiquidation runs the liquidation of target at now against the live
// pool and always rolls it back. A nil error means the position is
// liquidatable with the returned outcome.
func (c *DeterministicCore) CheckLiquidation(poolID string, target uuid.UUID, now int64) (state.LiquidationOutcome, error) {
	op := c.beginAt("dry-run", now, nil)
	defer op.rollback()

	if err := c.liquidate(op, poolID, uuid.Nil, target); err != nil {
		return state.LiquidationOutcome{}, err
	}
	return *op.result.Liquidation, nil
}

// Records returns copies of every pool, position and stake, for seeding
// projections.
func (c *DeterministicCore) Records() state.Changes {
	var out state.Changes
	for _, poolID := range c.registry.PoolIDs() {
		out.Pools = append(out.Pools, c.registry.Pool(poolID).Clone())
		for _, pos := range c.registry.Positions(poolID) {
			out.Positions = append(out.Positions, pos.Clone())
		}
		for _, s := range c.registry.Stakes(poolID) {
			out.Stakes = append(out.Stakes, s.Clone())
		}
	}
	return out
}

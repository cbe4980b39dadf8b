package core

import (
	"fmt"

	"HookLedger/internal/custody"
	"HookLedger/internal/event"
	"HookLedger/internal/ledger"
	fpmath "HookLedger/internal/math"
	"HookLedger/internal/state"

	"github.com/google/uuid"
)

// operation stages every effect of one event. Registry records and ledger
// journals are staged and only written by commit; the AMM and custody are
// mutated in place and undone through their checkpoints on rollback.
type operation struct {
	evt  event.Event
	now  int64
	txn  *state.Txn
	post *ledger.Posting

	undo       []func()
	ammSaved   map[string]bool
	custodySet bool

	transfers []custody.Transfer
	result    Result
}

func (c *DeterministicCore) begin(evt event.Event) *operation {
	return c.beginAt(evt.IdempotencyKey(), evt.Time(), evt)
}

func (c *DeterministicCore) beginAt(ref string, now int64, evt event.Event) *operation {
	return &operation{
		evt:      evt,
		now:      now,
		txn:      c.registry.Begin(),
		post:     c.balanceTracker.Begin(ref, c.sequence, now),
		ammSaved: make(map[string]bool),
	}
}

// rollback undoes collaborator effects in reverse order. The staged txn and
// posting are simply dropped.
func (op *operation) rollback() {
	for i := len(op.undo) - 1; i >= 0; i-- {
		op.undo[i]()
	}
	op.undo = nil
}

func (c *DeterministicCore) checkpointAMM(op *operation, poolID string) error {
	if op.ammSaved[poolID] {
		return nil
	}
	restore, err := c.amm.Checkpoint(poolID)
	if err != nil {
		return fmt.Errorf("checkpoint amm pool %s: %w", poolID, err)
	}
	op.undo = append(op.undo, restore)
	op.ammSaved[poolID] = true
	return nil
}

func (c *DeterministicCore) checkpointCustody(op *operation) {
	if op.custodySet {
		return
	}
	op.undo = append(op.undo, c.custody.Checkpoint())
	op.custodySet = true
}

func (c *DeterministicCore) custodyIn(op *operation, token string, from uuid.UUID, amount int64) error {
	c.checkpointCustody(op)
	if err := c.custody.TransferIn(token, from, amount); err != nil {
		return fmt.Errorf("transfer in %d %s: %w", amount, token, err)
	}
	op.transfers = append(op.transfers, custody.Transfer{Token: token, Account: from, Amount: amount})
	return nil
}

func (c *DeterministicCore) custodyOut(op *operation, token string, to uuid.UUID, amount int64) error {
	if amount == 0 {
		return nil
	}
	c.checkpointCustody(op)
	if err := c.custody.TransferOut(token, to, amount); err != nil {
		return fmt.Errorf("transfer out %d %s: %w", amount, token, err)
	}
	op.transfers = append(op.transfers, custody.Transfer{Token: token, Account: to, Amount: -amount})
	return nil
}

// loadPool stages the pool and catches its fee counters up to the
// operation's timestamp. Every handler goes through here first.
func (c *DeterministicCore) loadPool(op *operation, poolID string) (*state.PoolContext, error) {
	pool, err := op.txn.Pool(poolID)
	if err != nil {
		return nil, err
	}
	acc, err := state.Accrue(pool, op.now)
	if err != nil {
		return nil, fmt.Errorf("accrue %s: %w", poolID, err)
	}
	op.result.Accrual = acc
	return pool, nil
}

// settleSwapper books the fees accrued on pos since its checkpoints, margin
// first. Either debit fails with ErrInsufficientCollateral when the
// collateral cannot cover it.
func (c *DeterministicCore) settleSwapper(op *operation, pool *state.PoolContext, pos *state.Position) error {
	s, err := state.SettleSwapper(pool, pos)
	if err != nil {
		return err
	}
	op.result.Settlement = s

	if err := op.post.ChargeMarginFee(pool.PoolID, pos.Account, s.MarginOwed); err != nil {
		return err
	}
	op.result.MarginCharged = s.MarginOwed
	return op.post.ApplyFunding(pool.PoolID, pos.Account, s.FundingDelta)
}

// settleCapped is settleSwapper for a position being liquidated: funding
// credit is applied first, then the debits are capped at the collateral
// left. What cannot be paid is forgiven.
func (c *DeterministicCore) settleCapped(op *operation, pool *state.PoolContext, pos *state.Position) error {
	s, err := state.SettleSwapper(pool, pos)
	if err != nil {
		return err
	}
	op.result.Settlement = s

	if s.FundingDelta > 0 {
		if err := op.post.ApplyFunding(pool.PoolID, pos.Account, s.FundingDelta); err != nil {
			return err
		}
	}

	available := op.post.Balance(ledger.CollateralKey(pool.PoolID, pos.Account))
	margin := min(s.MarginOwed, available)
	if err := op.post.ChargeMarginFee(pool.PoolID, pos.Account, margin); err != nil {
		return err
	}
	available -= margin
	forgiven := s.MarginOwed - margin

	if s.FundingDelta < 0 {
		owed, err := fpmath.Abs(s.FundingDelta)
		if err != nil {
			return err
		}
		paid := min(owed, available)
		if err := op.post.ApplyFunding(pool.PoolID, pos.Account, -paid); err != nil {
			return err
		}
		forgiven += owed - paid
	}

	op.result.MarginCharged = margin
	op.result.FeesForgiven = forgiven
	return nil
}

func (c *DeterministicCore) handlePoolInitialized(op *operation, e *event.PoolInitialized) error {
	collateral := e.CollateralToken
	if collateral == "" {
		collateral = c.collateralToken
	}
	if collateral == "" || (c.collateralToken != "" && collateral != c.collateralToken) {
		return fmt.Errorf("pool %s collateral %q, ledger collateral %q: %w",
			e.Pool, collateral, c.collateralToken, state.ErrMissingCollateralLeg)
	}

	pool, err := state.NewPoolContext(e.Pool, collateral, e.Token0, e.Token1, e.PoolParamsOrDefault(), op.now)
	if err != nil {
		return err
	}
	if err := op.txn.CreatePool(pool); err != nil {
		return err
	}

	if err := c.checkpointAMM(op, e.Pool); err != nil {
		return err
	}
	if err := c.amm.Initialize(e.Pool, e.Token0, e.Token1, e.Reserve0, e.Reserve1); err != nil {
		return fmt.Errorf("initialize amm pool %s: %w", e.Pool, err)
	}

	c.logger.Info().
		Str("pool", e.Pool).
		Str("collateral", collateral).
		Str("asset", pool.AssetToken).
		Str("funding_model", pool.Params.FundingModel.String()).
		Int64("last_funding_time", pool.LastFundingTime).
		Msg("pool initialized")
	return nil
}

// handleCollateralDeposited credits the deposit before settling so an
// account that owes fees can still top up.
func (c *DeterministicCore) handleCollateralDeposited(op *operation, e *event.CollateralDeposited) error {
	pool, err := c.loadPool(op, e.Pool)
	if err != nil {
		return err
	}
	if err := c.custodyIn(op, pool.CollateralToken, e.Account, e.Amount); err != nil {
		return err
	}
	if err := op.post.Deposit(pool.PoolID, e.Account, e.Amount); err != nil {
		return err
	}
	return c.settleSwapper(op, pool, op.txn.Position(pool, e.Account))
}

func (c *DeterministicCore) handleCollateralWithdrawn(op *operation, e *event.CollateralWithdrawn) error {
	pool, err := c.loadPool(op, e.Pool)
	if err != nil {
		return err
	}
	pos := op.txn.Position(pool, e.Account)
	if !pos.IsFlat() {
		return fmt.Errorf("%s holds %d: %w", e.Account, pos.Size, state.ErrPositionNotFlat)
	}
	if err := c.settleSwapper(op, pool, pos); err != nil {
		return err
	}
	if err := op.post.Withdraw(pool.PoolID, e.Account, e.Amount); err != nil {
		return err
	}
	return c.custodyOut(op, pool.CollateralToken, e.Account, e.Amount)
}

func (c *DeterministicCore) handleInsuranceFunded(op *operation, e *event.InsuranceFunded) error {
	pool, err := c.loadPool(op, e.Pool)
	if err != nil {
		return err
	}
	if err := c.custodyIn(op, pool.CollateralToken, e.Funder, e.Amount); err != nil {
		return err
	}
	return op.post.FundInsurance(pool.PoolID, e.Amount)
}

func (c *DeterministicCore) handleLiquidityStaked(op *operation, e *event.LiquidityStaked) error {
	if e.Amount <= 0 {
		return fmt.Errorf("stake %d: %w", e.Amount, state.ErrInvalidStakeAmount)
	}
	pool, err := c.loadPool(op, e.Pool)
	if err != nil {
		return err
	}
	if err := c.custodyIn(op, custody.LPToken(pool.PoolID), e.Account, e.Amount); err != nil {
		return err
	}

	stake := op.txn.Stake(pool, e.Account)
	if _, err := state.SettleLP(pool, stake); err != nil {
		return err
	}
	liquidity, err := fpmath.CheckedAdd(stake.Liquidity, e.Amount)
	if err != nil {
		return fmt.Errorf("stake liquidity: %w", err)
	}
	if err := pool.AdjustStaked(e.Amount); err != nil {
		return err
	}
	stake.Liquidity = liquidity
	return nil
}

// handleLiquidityUnstaked burns liquidity and pays out everything the stake
// has realized so far. A stake still short after absorbing socialized losses
// keeps the debt until it fully exits, when the rest is written off.
func (c *DeterministicCore) handleLiquidityUnstaked(op *operation, e *event.LiquidityUnstaked) error {
	pool, err := c.loadPool(op, e.Pool)
	if err != nil {
		return err
	}

	stake := op.txn.Stake(pool, e.Account)
	if e.Amount <= 0 || e.Amount > stake.Liquidity {
		return fmt.Errorf("unstake %d of %d: %w", e.Amount, stake.Liquidity, state.ErrInvalidStakeAmount)
	}
	if _, err := state.SettleLP(pool, stake); err != nil {
		return err
	}
	if err := pool.AdjustStaked(-e.Amount); err != nil {
		return err
	}
	stake.Liquidity -= e.Amount

	if err := c.custodyOut(op, custody.LPToken(pool.PoolID), e.Account, e.Amount); err != nil {
		return err
	}

	switch realized := stake.RealizedProfit; {
	case realized > 0:
		if err := op.post.PayLPProfit(pool.PoolID, realized); err != nil {
			return err
		}
		if err := c.custodyOut(op, pool.CollateralToken, e.Account, realized); err != nil {
			return err
		}
		stake.RealizedProfit = 0
		op.result.LPProfitPaid = realized
	case realized < 0 && stake.Liquidity == 0:
		if err := op.post.WriteOffLPDebt(pool.PoolID, -realized); err != nil {
			return err
		}
		stake.RealizedProfit = 0
		op.result.LPDebtWrittenOff = -realized
		c.logger.Warn().
			Str("pool", pool.PoolID).
			Str("account", e.Account.String()).
			Int64("written_off", -realized).
			Msg("lp stake exited short of socialized losses")
	}
	return nil
}

package ledger

import (
	"fmt"

	fpmath "HookLedger/internal/math"
	"HookLedger/internal/state"

	"github.com/google/uuid"
)

// Posting stages journal entries for one operation against a BalanceTracker.
// Every transfer is checked against the staged balances; nothing reaches the
// tracker until Commit.
type Posting struct {
	tracker *BalanceTracker
	overlay map[AccountKey]int64
	batch   *Batch
}

// Begin starts a Posting for the operation identified by eventRef.
func (bt *BalanceTracker) Begin(eventRef string, sequence, timestamp int64) *Posting {
	return &Posting{
		tracker: bt,
		overlay: make(map[AccountKey]int64),
		batch: &Batch{
			BatchID:   uuid.New(),
			EventRef:  eventRef,
			Sequence:  sequence,
			Timestamp: timestamp,
		},
	}
}

// Balance returns the staged balance of key.
func (p *Posting) Balance(key AccountKey) int64 {
	if v, ok := p.overlay[key]; ok {
		return v
	}
	return p.tracker.GetBalance(key)
}

// Transfer moves amount from credit to debit. A zero amount is a no-op.
// Debiting user collateral below zero fails with ErrInsufficientCollateral.
func (p *Posting) Transfer(debit, credit AccountKey, amount int64, jt JournalType) error {
	if amount == 0 {
		return nil
	}
	if amount < 0 {
		return fmt.Errorf("%s of %d: %w", jt, amount, state.ErrInvalidAmount)
	}

	creditBal := p.Balance(credit)
	if credit.IsUserCollateral() && creditBal < amount {
		return fmt.Errorf("%s: %s has %d, needs %d: %w",
			jt, credit.AccountPath(), creditBal, amount, state.ErrInsufficientCollateral)
	}
	newCredit, err := fpmath.CheckedSub(creditBal, amount)
	if err != nil {
		return fmt.Errorf("%s: %s: %w", jt, credit.AccountPath(), err)
	}
	newDebit, err := fpmath.CheckedAdd(p.Balance(debit), amount)
	if err != nil {
		return fmt.Errorf("%s: %s: %w", jt, debit.AccountPath(), err)
	}

	p.overlay[credit] = newCredit
	p.overlay[debit] = newDebit
	p.batch.Journals = append(p.batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       p.batch.BatchID,
		EventRef:      p.batch.EventRef,
		Sequence:      p.batch.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     p.batch.Timestamp,
	})
	return nil
}

// Commit applies the staged journals to the tracker and returns the batch.
func (p *Posting) Commit() (*Batch, error) {
	if err := p.tracker.ApplyBatch(p.batch); err != nil {
		return nil, err
	}
	return p.batch, nil
}

// === Collateral movements ===

// Deposit: external:deposits -> user:collateral
func (p *Posting) Deposit(poolID string, account uuid.UUID, amount int64) error {
	return p.Transfer(
		CollateralKey(poolID, account),
		NewExternalAccountKey(poolID, SubTypeExternalDeposits),
		amount, JournalTypeDeposit)
}

// Withdraw: user:collateral -> external:withdrawals
func (p *Posting) Withdraw(poolID string, account uuid.UUID, amount int64) error {
	return p.Transfer(
		NewExternalAccountKey(poolID, SubTypeExternalWithdrawals),
		CollateralKey(poolID, account),
		amount, JournalTypeWithdrawal)
}

// ChargeMarginFee: user:collateral -> system:lp_fees
func (p *Posting) ChargeMarginFee(poolID string, account uuid.UUID, amount int64) error {
	return p.Transfer(
		NewSystemAccountKey(poolID, SubTypeSystemLPFees),
		CollateralKey(poolID, account),
		amount, JournalTypeMarginFee)
}

// ApplyFunding credits (delta > 0) or debits (delta < 0) collateral against
// the pool's funding account.
func (p *Posting) ApplyFunding(poolID string, account uuid.UUID, delta int64) error {
	fundingPool := NewSystemAccountKey(poolID, SubTypeSystemFundingPool)
	if delta >= 0 {
		return p.Transfer(CollateralKey(poolID, account), fundingPool, delta, JournalTypeFundingReceipt)
	}
	amount, err := fpmath.Abs(delta)
	if err != nil {
		return err
	}
	return p.Transfer(fundingPool, CollateralKey(poolID, account), amount, JournalTypeFundingPayment)
}

// RealizeClose books the collateral leg of a closed position: profit from
// system:counterparty, loss to it.
func (p *Posting) RealizeClose(poolID string, account uuid.UUID, pnl int64) error {
	counterparty := NewSystemAccountKey(poolID, SubTypeSystemCounterparty)
	if pnl >= 0 {
		return p.Transfer(CollateralKey(poolID, account), counterparty, pnl, JournalTypeCloseRealization)
	}
	amount, err := fpmath.Abs(pnl)
	if err != nil {
		return err
	}
	return p.Transfer(counterparty, CollateralKey(poolID, account), amount, JournalTypeCloseRealization)
}

// PayLiquidator: user:collateral -> external:withdrawals
func (p *Posting) PayLiquidator(poolID string, target uuid.UUID, amount int64) error {
	return p.Transfer(
		NewExternalAccountKey(poolID, SubTypeExternalWithdrawals),
		CollateralKey(poolID, target),
		amount, JournalTypeLiquidatorReward)
}

// PayLPProfit: system:lp_fees -> external:withdrawals
func (p *Posting) PayLPProfit(poolID string, amount int64) error {
	return p.Transfer(
		NewExternalAccountKey(poolID, SubTypeExternalWithdrawals),
		NewSystemAccountKey(poolID, SubTypeSystemLPFees),
		amount, JournalTypeLPPayout)
}

// CoverDeficit moves a liquidation shortfall onto the counterparty from the
// given system account: insurance, lp_fees, or bad_debt for what nobody
// holds.
func (p *Posting) CoverDeficit(poolID string, from AccountSubType, amount int64) error {
	return p.Transfer(
		NewSystemAccountKey(poolID, SubTypeSystemCounterparty),
		NewSystemAccountKey(poolID, from),
		amount, JournalTypeBadDebt)
}

// WriteOffLPDebt: bad_debt -> system:lp_fees. An exiting stake whose share
// of socialized losses exceeded its profit leaves the rest unpaid.
func (p *Posting) WriteOffLPDebt(poolID string, amount int64) error {
	return p.Transfer(
		NewSystemAccountKey(poolID, SubTypeSystemLPFees),
		NewSystemAccountKey(poolID, SubTypeSystemBadDebt),
		amount, JournalTypeBadDebt)
}

// FundInsurance: external:deposits -> system:insurance
func (p *Posting) FundInsurance(poolID string, amount int64) error {
	return p.Transfer(
		NewSystemAccountKey(poolID, SubTypeSystemInsurance),
		NewExternalAccountKey(poolID, SubTypeExternalDeposits),
		amount, JournalTypeInsuranceFunding)
}

package ledger_test

import (
	"testing"

	"HookLedger/internal/ledger"
	"HookLedger/internal/state"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pool = "ETH-USDC"

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_Paths(t *testing.T) {
	acct := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")

	assert.Equal(t, "user:ETH-USDC:550e8400-e29b-41d4-a716-446655440000:collateral",
		ledger.CollateralKey(pool, acct).AccountPath())
	assert.Equal(t, "system:ETH-USDC:insurance",
		ledger.NewSystemAccountKey(pool, ledger.SubTypeSystemInsurance).AccountPath())
	assert.Equal(t, "external:ETH-USDC:deposits",
		ledger.NewExternalAccountKey(pool, ledger.SubTypeExternalDeposits).AccountPath())
}

func TestAccountKey_PoolsAreDistinct(t *testing.T) {
	acct := uuid.New()
	assert.NotEqual(t, ledger.CollateralKey("A", acct), ledger.CollateralKey("B", acct))
}

// ============================================================================
// Test: Batch validation
// ============================================================================

func TestBatch_RejectsNonPositiveAmount(t *testing.T) {
	batchID := uuid.New()
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  ledger.CollateralKey(pool, uuid.New()),
			CreditAccount: ledger.NewExternalAccountKey(pool, ledger.SubTypeExternalDeposits),
			Amount:        0,
		}},
	}
	require.Error(t, batch.Validate())
}

func TestBatch_RejectsCrossPoolTransfer(t *testing.T) {
	batchID := uuid.New()
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  ledger.CollateralKey("A", uuid.New()),
			CreditAccount: ledger.NewExternalAccountKey("B", ledger.SubTypeExternalDeposits),
			Amount:        10,
		}},
	}
	require.Error(t, batch.Validate())
}

// ============================================================================
// Test: Posting
// ============================================================================

func TestPosting_DepositWithdrawRoundTrip(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	acct := uuid.New()

	p := bt.Begin("dep-1", 1, 0)
	require.NoError(t, p.Deposit(pool, acct, 5_000))
	_, err := p.Commit()
	require.NoError(t, err)
	assert.Equal(t, int64(5_000), bt.GetCollateral(pool, acct))

	p = bt.Begin("wd-1", 2, 0)
	require.NoError(t, p.Withdraw(pool, acct, 5_000))
	_, err = p.Commit()
	require.NoError(t, err)

	assert.Zero(t, bt.GetCollateral(pool, acct))
	require.NoError(t, ledger.NewInvariantValidator(bt).ValidateGlobalBalance())
}

func TestPosting_CheckedDebit(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	acct := uuid.New()

	p := bt.Begin("dep-1", 1, 0)
	require.NoError(t, p.Deposit(pool, acct, 100))
	_, err := p.Commit()
	require.NoError(t, err)

	p = bt.Begin("fee-1", 2, 0)
	require.NoError(t, p.ChargeMarginFee(pool, acct, 60))
	err = p.ChargeMarginFee(pool, acct, 41)
	require.ErrorIs(t, err, state.ErrInsufficientCollateral)

	// Abandoned posting leaves the tracker untouched.
	assert.Equal(t, int64(100), bt.GetCollateral(pool, acct))
	assert.Equal(t, int64(40), p.Balance(ledger.CollateralKey(pool, acct)))
}

func TestPosting_SystemAccountsMayGoNegative(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	acct := uuid.New()

	p := bt.Begin("close-1", 1, 0)
	require.NoError(t, p.RealizeClose(pool, acct, 700))
	require.NoError(t, p.ApplyFunding(pool, acct, 25))
	batch, err := p.Commit()
	require.NoError(t, err)
	require.Len(t, batch.Journals, 2)

	assert.Equal(t, int64(725), bt.GetCollateral(pool, acct))
	assert.Equal(t, int64(-700), bt.GetBalance(ledger.NewSystemAccountKey(pool, ledger.SubTypeSystemCounterparty)))
	assert.Equal(t, ledger.JournalTypeCloseRealization, batch.Journals[0].JournalType)
	assert.Equal(t, ledger.JournalTypeFundingReceipt, batch.Journals[1].JournalType)
}

func TestPosting_NegativeFundingAndLoss(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	acct := uuid.New()

	p := bt.Begin("seed", 1, 0)
	require.NoError(t, p.Deposit(pool, acct, 1_000))
	require.NoError(t, p.ApplyFunding(pool, acct, -100))
	require.NoError(t, p.RealizeClose(pool, acct, -850))
	err := p.RealizeClose(pool, acct, -51)
	require.ErrorIs(t, err, state.ErrInsufficientCollateral)

	_, err = p.Commit()
	require.NoError(t, err)
	assert.Equal(t, int64(50), bt.GetCollateral(pool, acct))
	require.NoError(t, ledger.NewInvariantValidator(bt).ValidateGlobalBalance())
}

func TestPosting_BadDebtAndWriteOff(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	lpFees := ledger.NewSystemAccountKey(pool, ledger.SubTypeSystemLPFees)
	badDebt := ledger.NewSystemAccountKey(pool, ledger.SubTypeSystemBadDebt)
	counterparty := ledger.NewSystemAccountKey(pool, ledger.SubTypeSystemCounterparty)

	p := bt.Begin("liq-1", 1, 0)
	require.NoError(t, p.CoverDeficit(pool, ledger.SubTypeSystemBadDebt, 300))
	require.NoError(t, p.CoverDeficit(pool, ledger.SubTypeSystemLPFees, 200))
	require.NoError(t, p.WriteOffLPDebt(pool, 150))
	batch, err := p.Commit()
	require.NoError(t, err)
	require.Len(t, batch.Journals, 3)
	assert.Equal(t, ledger.JournalTypeBadDebt, batch.Journals[2].JournalType)

	assert.Equal(t, int64(500), bt.GetBalance(counterparty))
	assert.Equal(t, int64(-50), bt.GetBalance(lpFees))
	assert.Equal(t, int64(-450), bt.GetBalance(badDebt))
	require.NoError(t, ledger.NewInvariantValidator(bt).ValidateGlobalBalance())
}

func TestPosting_ZeroAmountIsNoop(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	p := bt.Begin("noop", 1, 0)
	require.NoError(t, p.ChargeMarginFee(pool, uuid.New(), 0))

	batch, err := p.Commit()
	require.NoError(t, err)
	assert.Empty(t, batch.Journals)
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestValidator_TouchedCollateral(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	acct := uuid.New()
	key := ledger.CollateralKey(pool, acct)
	bt.SetBalance(key, -1)

	batchID := uuid.New()
	batch := &ledger.Batch{BatchID: batchID, Journals: []ledger.Journal{{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		DebitAccount:  ledger.NewSystemAccountKey(pool, ledger.SubTypeSystemLPFees),
		CreditAccount: key,
		Amount:        1,
	}}}

	require.Error(t, ledger.NewInvariantValidator(bt).ValidateTouchedCollateral(batch))
}

func TestParseAccountPath(t *testing.T) {
	acct := uuid.New()
	keys := []ledger.AccountKey{
		ledger.CollateralKey("ETH-USDC", acct),
		ledger.CollateralKey("v4:0xabc:3000", acct),
		ledger.NewSystemAccountKey("v4:0xabc:3000", ledger.SubTypeSystemInsurance),
		ledger.NewSystemAccountKey("ETH-USDC", ledger.SubTypeSystemBadDebt),
		ledger.NewExternalAccountKey("ETH-USDC", ledger.SubTypeExternalWithdrawals),
	}
	for _, key := range keys {
		parsed, err := ledger.ParseAccountPath(key.AccountPath())
		require.NoError(t, err)
		assert.Equal(t, key, parsed)
	}

	for _, bad := range []string{"", "user:p:collateral", "system:p:bogus", "vault:p:insurance", "user:p:not-a-uuid:collateral"} {
		_, err := ledger.ParseAccountPath(bad)
		assert.Error(t, err, bad)
	}
}

package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeWithdrawal
	JournalTypeMarginFee
	JournalTypeFundingPayment
	JournalTypeFundingReceipt
	JournalTypeCloseRealization
	JournalTypeLiquidatorReward
	JournalTypeLPPayout
	JournalTypeBadDebt
	JournalTypeInsuranceFunding
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeWithdrawal:
		return "withdrawal"
	case JournalTypeMarginFee:
		return "margin_fee"
	case JournalTypeFundingPayment:
		return "funding_payment"
	case JournalTypeFundingReceipt:
		return "funding_receipt"
	case JournalTypeCloseRealization:
		return "close_realization"
	case JournalTypeLiquidatorReward:
		return "liquidator_reward"
	case JournalTypeLPPayout:
		return "lp_payout"
	case JournalTypeBadDebt:
		return "bad_debt"
	case JournalTypeInsuranceFunding:
		return "insurance_funding"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Idempotency key of source operation
	Sequence      int64       // Global operation sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	Amount        int64       // Collateral base units (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Versioned input timestamp (unix seconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Each journal moves one positive amount from credit to debit account, so
// every entry is balanced on its own.
func (b *Batch) Validate() error {
	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
		if j.DebitAccount.PoolID != j.CreditAccount.PoolID {
			return fmt.Errorf("journal %s crosses pools %s -> %s", j.JournalID, j.CreditAccount.PoolID, j.DebitAccount.PoolID)
		}
	}
	return nil
}

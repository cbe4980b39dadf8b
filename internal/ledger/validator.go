package ledger

import (
	"fmt"
	"sort"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is well-formed
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateTouchedCollateral checks every user collateral account the batch
// touched is non-negative.
func (v *InvariantValidator) ValidateTouchedCollateral(batch *Batch) error {
	for _, j := range batch.Journals {
		for _, key := range []AccountKey{j.DebitAccount, j.CreditAccount} {
			if !key.IsUserCollateral() {
				continue
			}
			if err := v.tracker.ValidateNonNegative(key); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidateGlobalBalance verifies every pool is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	pools := make([]string, 0, len(totals))
	for poolID := range totals {
		pools = append(pools, poolID)
	}
	sort.Strings(pools)

	for _, poolID := range pools {
		if totals[poolID] != 0 {
			return fmt.Errorf("global balance for pool %s is non-zero: %d", poolID, totals[poolID])
		}
	}

	return nil
}

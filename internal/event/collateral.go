package event

import (
	"fmt"

	"github.com/google/uuid"
)

// CollateralDeposited moves collateral tokens from the account into custody.
type CollateralDeposited struct {
	Header
	Account uuid.UUID `json:"account"`
	Amount  int64     `json:"amount"` // collateral base units
}

func (d *CollateralDeposited) EventType() EventType {
	return EventTypeCollateralDeposited
}

func (d *CollateralDeposited) Validate() error {
	return validateTransfer(d.Header, d.Account, d.Amount)
}

// CollateralWithdrawn returns collateral to a flat account.
type CollateralWithdrawn struct {
	Header
	Account uuid.UUID `json:"account"`
	Amount  int64     `json:"amount"`
}

func (w *CollateralWithdrawn) EventType() EventType {
	return EventTypeCollateralWithdrawn
}

func (w *CollateralWithdrawn) Validate() error {
	return validateTransfer(w.Header, w.Account, w.Amount)
}

// InsuranceFunded tops up the pool's insurance balance.
type InsuranceFunded struct {
	Header
	Funder uuid.UUID `json:"funder"`
	Amount int64     `json:"amount"`
}

func (f *InsuranceFunded) EventType() EventType {
	return EventTypeInsuranceFunded
}

func (f *InsuranceFunded) Validate() error {
	return validateTransfer(f.Header, f.Funder, f.Amount)
}

func validateTransfer(h Header, account uuid.UUID, amount int64) error {
	if err := validateAccount(h, account); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("amount must be positive, got %d: %w", amount, ErrMalformed)
	}
	return nil
}

func validateAccount(h Header, account uuid.UUID) error {
	if err := h.validate(); err != nil {
		return err
	}
	if account == uuid.Nil {
		return fmt.Errorf("account is required: %w", ErrMalformed)
	}
	return nil
}

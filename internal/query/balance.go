package query

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Amount is a ledger amount in base units plus its display form in whole
// tokens.
type Amount struct {
	Raw     int64  `json:"raw"`
	Display string `json:"display"`
}

// BalanceResponse is an account's collateral in one pool.
type BalanceResponse struct {
	PoolID       string    `json:"pool_id"`
	Account      uuid.UUID `json:"account"`
	AccountPath  string    `json:"account_path"`
	Token        string    `json:"token"`
	Balance      Amount    `json:"balance"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// Formatter renders base-unit amounts using each token's decimals.
type Formatter struct {
	decimals map[string]int32
	fallback int32
}

// NewFormatter creates a formatter. Tokens missing from decimals use
// fallback.
func NewFormatter(decimals map[string]int32, fallback int32) *Formatter {
	d := make(map[string]int32, len(decimals))
	for k, v := range decimals {
		d[k] = v
	}
	return &Formatter{decimals: d, fallback: fallback}
}

func (f *Formatter) Decimals(token string) int32 {
	if d, ok := f.decimals[token]; ok {
		return d
	}
	return f.fallback
}

// Amount formats raw base units of token, e.g. 1500000 USDC (6 decimals)
// as "1.500000".
func (f *Formatter) Amount(token string, raw int64) Amount {
	d := f.Decimals(token)
	return Amount{Raw: raw, Display: decimal.New(raw, -d).StringFixed(d)}
}

// ParseAmount is the inverse of Amount: a display string in whole tokens to
// base units. Fractions finer than the token's decimals are rejected.
func (f *Formatter) ParseAmount(token, display string) (int64, error) {
	v, err := decimal.NewFromString(display)
	if err != nil {
		return 0, err
	}
	d := f.Decimals(token)
	scaled := v.Shift(d)
	if !scaled.IsInteger() {
		return 0, &PrecisionError{Token: token, Decimals: d, Value: display}
	}
	if !scaled.BigInt().IsInt64() {
		return 0, &PrecisionError{Token: token, Decimals: d, Value: display}
	}
	return scaled.IntPart(), nil
}

// PrecisionError reports an amount that does not fit the token's base units.
type PrecisionError struct {
	Token    string
	Decimals int32
	Value    string
}

func (e *PrecisionError) Error() string {
	return "amount " + e.Value + " does not fit " + e.Token + " base units"
}

package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeCollateral AccountSubType = iota

	// System sub-types (one per pool)
	SubTypeSystemLPFees
	SubTypeSystemFundingPool
	SubTypeSystemCounterparty
	SubTypeSystemInsurance
	SubTypeSystemBadDebt

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalWithdrawals
)

// AccountKey is the in-memory key for balance tracking. Every account is
// scoped to one pool and denominated in that pool's collateral token.
type AccountKey struct {
	Scope    AccountScope
	PoolID   string
	EntityID uuid.UUID // zero for system and external accounts
	SubType  AccountSubType
}

// NewUserAccountKey creates a key for user accounts
func NewUserAccountKey(poolID string, account uuid.UUID, subType AccountSubType) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		PoolID:   poolID,
		EntityID: account,
		SubType:  subType,
	}
}

// CollateralKey is the user collateral account of (pool, account).
func CollateralKey(poolID string, account uuid.UUID) AccountKey {
	return NewUserAccountKey(poolID, account, SubTypeCollateral)
}

// NewSystemAccountKey creates a key for a pool's system accounts
func NewSystemAccountKey(poolID string, subType AccountSubType) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		PoolID:  poolID,
		SubType: subType,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(poolID string, subType AccountSubType) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		PoolID:  poolID,
		SubType: subType,
	}
}

// IsUserCollateral reports whether the account must never go negative.
func (k AccountKey) IsUserCollateral() bool {
	return k.Scope == AccountScopeUser && k.SubType == SubTypeCollateral
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s:%s", k.PoolID, k.EntityID.String(), k.subTypeName())
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.PoolID, k.subTypeName())
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.PoolID, k.subTypeName())
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeCollateral:
		return "collateral"
	case SubTypeSystemLPFees:
		return "lp_fees"
	case SubTypeSystemFundingPool:
		return "funding_pool"
	case SubTypeSystemCounterparty:
		return "counterparty"
	case SubTypeSystemInsurance:
		return "insurance"
	case SubTypeSystemBadDebt:
		return "bad_debt"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalWithdrawals:
		return "withdrawals"
	default:
		return "unknown"
	}
}

var subTypesByName = map[string]AccountSubType{
	"collateral":   SubTypeCollateral,
	"lp_fees":      SubTypeSystemLPFees,
	"funding_pool": SubTypeSystemFundingPool,
	"counterparty": SubTypeSystemCounterparty,
	"insurance":    SubTypeSystemInsurance,
	"bad_debt":     SubTypeSystemBadDebt,
	"deposits":     SubTypeExternalDeposits,
	"withdrawals":  SubTypeExternalWithdrawals,
}

// ParseAccountPath is the inverse of AccountPath. Pool IDs may themselves
// contain colons, so the path is split from both ends.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	if len(parts) < 3 {
		return AccountKey{}, fmt.Errorf("account path %q: too few segments", path)
	}

	subType, ok := subTypesByName[parts[len(parts)-1]]
	if !ok {
		return AccountKey{}, fmt.Errorf("account path %q: unknown sub-type", path)
	}

	switch parts[0] {
	case "user":
		if len(parts) < 4 {
			return AccountKey{}, fmt.Errorf("account path %q: too few segments", path)
		}
		id, err := uuid.Parse(parts[len(parts)-2])
		if err != nil {
			return AccountKey{}, fmt.Errorf("account path %q: %w", path, err)
		}
		return NewUserAccountKey(strings.Join(parts[1:len(parts)-2], ":"), id, subType), nil
	case "system":
		return NewSystemAccountKey(strings.Join(parts[1:len(parts)-1], ":"), subType), nil
	case "external":
		return NewExternalAccountKey(strings.Join(parts[1:len(parts)-1], ":"), subType), nil
	}
	return AccountKey{}, fmt.Errorf("account path %q: unknown scope", path)
}

// Package custody holds the tokens the ledger has taken in from accounts.
package custody

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrInsufficientFunds = errors.New("insufficient custody funds")
	ErrInvalidAmount     = errors.New("invalid transfer amount")
)

// Custodian moves tokens between accounts and the ledger's holdings.
type Custodian interface {
	TransferIn(token string, from uuid.UUID, amount int64) error
	TransferOut(token string, to uuid.UUID, amount int64) error

	// Checkpoint captures holdings so a failed operation can undo its
	// transfers.
	Checkpoint() (restore func())
}

// Snapshotter is implemented by custodians whose holdings live in this
// process.
type Snapshotter interface {
	Export() Holdings
	Import(h Holdings)
}

// Transfer is one custody movement.
type Transfer struct {
	Token   string    `json:"token"`
	Account uuid.UUID `json:"account"`
	Amount  int64     `json:"amount"` // positive in, negative out
}

// Vault is an in-memory Custodian. It refuses to send out more of a token
// than it holds.
type Vault struct {
	mu       sync.RWMutex
	holdings map[string]int64
}

func NewVault() *Vault {
	return &Vault{holdings: make(map[string]int64)}
}

func (v *Vault) TransferIn(token string, from uuid.UUID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("transfer in %d %s: %w", amount, token, ErrInvalidAmount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	held := v.holdings[token]
	if held > held+amount {
		return fmt.Errorf("transfer in %d %s: holdings overflow", amount, token)
	}
	v.holdings[token] = held + amount
	return nil
}

func (v *Vault) TransferOut(token string, to uuid.UUID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("transfer out %d %s: %w", amount, token, ErrInvalidAmount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	held := v.holdings[token]
	if held < amount {
		return fmt.Errorf("transfer out %d %s, holding %d: %w", amount, token, held, ErrInsufficientFunds)
	}
	v.holdings[token] = held - amount
	return nil
}

func (v *Vault) Checkpoint() func() {
	v.mu.RLock()
	saved := make(map[string]int64, len(v.holdings))
	for k, b := range v.holdings {
		saved[k] = b
	}
	v.mu.RUnlock()

	return func() {
		v.mu.Lock()
		v.holdings = saved
		v.mu.Unlock()
	}
}

// Holding returns the amount of token held.
func (v *Vault) Holding(token string) int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.holdings[token]
}

// Holdings is the exported form of the vault, for snapshots.
type Holdings map[string]int64

func (v *Vault) Export() Holdings {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(Holdings, len(v.holdings))
	for k, b := range v.holdings {
		out[k] = b
	}
	return out
}

func (v *Vault) Import(h Holdings) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.holdings = make(map[string]int64, len(h))
	for k, b := range h {
		v.holdings[k] = b
	}
}

// Tokens lists the held tokens in order.
func (h Holdings) Tokens() []string {
	out := make([]string, 0, len(h))
	for k := range h {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// LPToken names the claim token minted for liquidity staked in a pool.
func LPToken(poolID string) string {
	return poolID + ":lp"
}

package state

import (
	"fmt"

	"github.com/google/uuid"
)

type accountKey struct {
	PoolID  string
	Account uuid.UUID
}

// Txn stages changes against a Registry. Records are cloned on first access
// and only written back by Commit, so an abandoned Txn leaves no trace.
type Txn struct {
	reg       *Registry
	pools     map[string]*PoolContext
	positions map[accountKey]*Position
	stakes    map[accountKey]*LPStake
}

// Changes lists the records a committed Txn wrote, in deterministic order.
type Changes struct {
	Pools     []*PoolContext
	Positions []*Position
	Stakes    []*LPStake
}

func (r *Registry) Begin() *Txn {
	return &Txn{
		reg:       r,
		pools:     make(map[string]*PoolContext),
		positions: make(map[accountKey]*Position),
		stakes:    make(map[accountKey]*LPStake),
	}
}

// CreatePool stages a new pool.
func (tx *Txn) CreatePool(p *PoolContext) error {
	if tx.reg.Pool(p.PoolID) != nil || tx.pools[p.PoolID] != nil {
		return fmt.Errorf("%s: %w", p.PoolID, ErrPoolExists)
	}
	tx.pools[p.PoolID] = p
	return nil
}

// Pool returns the staged copy of a pool.
func (tx *Txn) Pool(poolID string) (*PoolContext, error) {
	if p, ok := tx.pools[poolID]; ok {
		return p, nil
	}
	p := tx.reg.Pool(poolID)
	if p == nil {
		return nil, fmt.Errorf("%s: %w", poolID, ErrPoolNotFound)
	}
	c := p.Clone()
	tx.pools[poolID] = c
	return c, nil
}

// Position returns the staged position, creating a flat one if absent.
func (tx *Txn) Position(pool *PoolContext, account uuid.UUID) *Position {
	key := accountKey{PoolID: pool.PoolID, Account: account}
	if p, ok := tx.positions[key]; ok {
		return p
	}
	var p *Position
	if existing := tx.reg.Position(pool.PoolID, account); existing != nil {
		p = existing.Clone()
	} else {
		p = NewPosition(pool, account)
	}
	tx.positions[key] = p
	return p
}

// Stake returns the staged stake, creating an empty one if absent.
func (tx *Txn) Stake(pool *PoolContext, account uuid.UUID) *LPStake {
	key := accountKey{PoolID: pool.PoolID, Account: account}
	if s, ok := tx.stakes[key]; ok {
		return s
	}
	var s *LPStake
	if existing := tx.reg.Stake(pool.PoolID, account); existing != nil {
		s = existing.Clone()
	} else {
		s = NewLPStake(pool, account)
	}
	tx.stakes[key] = s
	return s
}

// Commit writes every staged record back to the registry.
func (tx *Txn) Commit() Changes {
	var ch Changes
	for _, id := range sortedPoolIDs(tx.pools) {
		p := tx.pools[id]
		p.Version++
		tx.reg.SetPool(p)
		ch.Pools = append(ch.Pools, p)
	}
	for _, key := range sortedKeys(tx.positions) {
		p := tx.positions[key]
		p.Version++
		tx.reg.SetPosition(p)
		ch.Positions = append(ch.Positions, p)
	}
	for _, key := range sortedKeys(tx.stakes) {
		s := tx.stakes[key]
		s.Version++
		tx.reg.SetStake(s)
		ch.Stakes = append(ch.Stakes, s)
	}
	return ch
}

package state

import (
	"bytes"
	"fmt"
	"sort"

	fpmath "HookLedger/internal/math"

	"github.com/google/uuid"
)

// Registry holds every pool's context, positions and stakes, keyed
// pool -> account. Not thread-safe; owned by the single-threaded core.
type Registry struct {
	pools     map[string]*PoolContext
	positions map[string]map[uuid.UUID]*Position
	stakes    map[string]map[uuid.UUID]*LPStake
}

func NewRegistry() *Registry {
	return &Registry{
		pools:     make(map[string]*PoolContext),
		positions: make(map[string]map[uuid.UUID]*Position),
		stakes:    make(map[string]map[uuid.UUID]*LPStake),
	}
}

// Pool returns the pool context or nil.
func (r *Registry) Pool(poolID string) *PoolContext {
	return r.pools[poolID]
}

// Position returns the position or nil.
func (r *Registry) Position(poolID string, account uuid.UUID) *Position {
	return r.positions[poolID][account]
}

// Stake returns the LP stake or nil.
func (r *Registry) Stake(poolID string, account uuid.UUID) *LPStake {
	return r.stakes[poolID][account]
}

// SetPool installs a pool context (commit and snapshot restore).
func (r *Registry) SetPool(p *PoolContext) {
	r.pools[p.PoolID] = p
	if r.positions[p.PoolID] == nil {
		r.positions[p.PoolID] = make(map[uuid.UUID]*Position)
	}
	if r.stakes[p.PoolID] == nil {
		r.stakes[p.PoolID] = make(map[uuid.UUID]*LPStake)
	}
}

// SetPosition installs a position; its pool must exist.
func (r *Registry) SetPosition(pos *Position) {
	r.positions[pos.PoolID][pos.Account] = pos
}

// SetStake installs a stake; its pool must exist.
func (r *Registry) SetStake(s *LPStake) {
	r.stakes[s.PoolID][s.Account] = s
}

// PoolIDs returns all pool IDs sorted.
func (r *Registry) PoolIDs() []string {
	return sortedPoolIDs(r.pools)
}

// Positions returns the pool's positions sorted by account.
func (r *Registry) Positions(poolID string) []*Position {
	out := make([]*Position, 0, len(r.positions[poolID]))
	for _, p := range r.positions[poolID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Account[:], out[j].Account[:]) < 0
	})
	return out
}

// Stakes returns the pool's stakes sorted by account.
func (r *Registry) Stakes(poolID string) []*LPStake {
	out := make([]*LPStake, 0, len(r.stakes[poolID]))
	for _, s := range r.stakes[poolID] {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Account[:], out[j].Account[:]) < 0
	})
	return out
}

// ValidateAggregates recomputes the pool aggregates from its records.
// O(accounts); run as a periodic post-check, not per operation.
func (r *Registry) ValidateAggregates(poolID string) error {
	pool := r.pools[poolID]
	if pool == nil {
		return fmt.Errorf("%s: %w", poolID, ErrPoolNotFound)
	}

	var abs, net, staked int64
	for _, pos := range r.positions[poolID] {
		a, err := fpmath.Abs(pos.Exposure)
		if err != nil {
			return err
		}
		abs += a
		net += pos.Exposure
	}
	for _, s := range r.stakes[poolID] {
		staked += s.Liquidity
	}

	if abs != pool.AggregateAbsExposure {
		return fmt.Errorf("pool %s: aggregate abs exposure %d != sum %d", poolID, pool.AggregateAbsExposure, abs)
	}
	if net != pool.AggregateNetExposure {
		return fmt.Errorf("pool %s: aggregate net exposure %d != sum %d", poolID, pool.AggregateNetExposure, net)
	}
	if staked != pool.TotalStakedLiquidity {
		return fmt.Errorf("pool %s: total staked %d != sum %d", poolID, pool.TotalStakedLiquidity, staked)
	}
	return nil
}

func sortedPoolIDs[V any](m map[string]V) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedKeys[V any](m map[accountKey]V) []accountKey {
	keys := make([]accountKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].PoolID != keys[j].PoolID {
			return keys[i].PoolID < keys[j].PoolID
		}
		return bytes.Compare(keys[i].Account[:], keys[j].Account[:]) < 0
	})
	return keys
}

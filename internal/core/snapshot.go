package core

import (
	"errors"
	"fmt"

	"HookLedger/internal/amm"
	"HookLedger/internal/custody"
	"HookLedger/internal/event"
	"HookLedger/internal/ledger"
	"HookLedger/internal/state"
)

// SnapshotState holds the serializable in-memory state for restore.
// AMM and custody state are only captured when those collaborators live in
// this process.
type SnapshotState struct {
	Sequence        int64 // last processed sequence
	StateHash       [32]byte
	Balances        map[ledger.AccountKey]int64
	Pools           []state.PoolRecord
	Positions       []state.PositionRecord
	Stakes          []state.StakeRecord
	AMMPools        []amm.PoolState
	Custody         custody.Holdings
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	snap := &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.hasher.GetPrevHash(),
		Balances:        c.balanceTracker.Snapshot(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}

	for _, poolID := range c.registry.PoolIDs() {
		snap.Pools = append(snap.Pools, c.registry.Pool(poolID).Record())
		for _, pos := range c.registry.Positions(poolID) {
			snap.Positions = append(snap.Positions, pos.Record())
		}
		for _, s := range c.registry.Stakes(poolID) {
			snap.Stakes = append(snap.Stakes, s.Record())
		}
	}

	if s, ok := c.amm.(amm.Snapshotter); ok {
		snap.AMMPools = s.Export()
	}
	if s, ok := c.custody.(custody.Snapshotter); ok {
		snap.Custody = s.Export()
	}
	return snap
}

// RestoreFromSnapshot restores the core's in-memory state from a snapshot.
// On warm restart: load the latest snapshot, then replay events after it.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) error {
	for _, r := range snap.Pools {
		pool, err := r.Pool()
		if err != nil {
			return err
		}
		c.registry.SetPool(pool)
	}
	for _, r := range snap.Positions {
		pos, err := r.Position()
		if err != nil {
			return err
		}
		if c.registry.Pool(pos.PoolID) == nil {
			return fmt.Errorf("position %s/%s: %w", pos.PoolID, pos.Account, state.ErrPoolNotFound)
		}
		c.registry.SetPosition(pos)
	}
	for _, r := range snap.Stakes {
		s, err := r.Stake()
		if err != nil {
			return err
		}
		if c.registry.Pool(s.PoolID) == nil {
			return fmt.Errorf("stake %s/%s: %w", s.PoolID, s.Account, state.ErrPoolNotFound)
		}
		c.registry.SetStake(s)
	}

	if len(snap.AMMPools) > 0 {
		s, ok := c.amm.(amm.Snapshotter)
		if !ok {
			return fmt.Errorf("snapshot carries amm state but the engine cannot import it")
		}
		if err := s.Import(snap.AMMPools); err != nil {
			return fmt.Errorf("restore amm: %w", err)
		}
	}
	if len(snap.Custody) > 0 {
		s, ok := c.custody.(custody.Snapshotter)
		if !ok {
			return fmt.Errorf("snapshot carries custody state but the custodian cannot import it")
		}
		s.Import(snap.Custody)
	}

	for key, balance := range snap.Balances {
		c.balanceTracker.SetBalance(key, balance)
	}
	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, nextSeq)
	}

	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(snap.StateHash)
	c.WarmLRU(snap.IdempotencyKeys)

	for _, poolID := range c.registry.PoolIDs() {
		if err := c.registry.ValidateAggregates(poolID); err != nil {
			return fmt.Errorf("restored state: %w", err)
		}
	}
	if err := c.validator.ValidateGlobalBalance(); err != nil {
		return fmt.Errorf("restored state: %w", err)
	}
	return nil
}

// WarmLRU loads recent idempotency keys into the LRU cache, oldest first.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// ErrHashMismatch means a replayed operation did not reproduce its logged
// state hash.
var ErrHashMismatch = errors.New("replayed state hash mismatch")

// Replay re-applies a logged operation during recovery. Nothing is emitted
// and the Postgres idempotency tier is bypassed since the log is the source.
// Rejected operations replay as rejections.
func (c *DeterministicCore) Replay(evt event.Event, loggedHash [32]byte) error {
	persist, projection, db := c.persistChan, c.projectionChan, c.idempotency.dbChecker
	c.persistChan, c.projectionChan, c.idempotency.dbChecker = nil, nil, nil
	defer func() {
		c.persistChan, c.projectionChan, c.idempotency.dbChecker = persist, projection, db
	}()

	output, err := c.ProcessEvent(evt)
	if output == nil {
		if err != nil {
			return err
		}
		return fmt.Errorf("%s %s: already applied", evt.EventType(), evt.IdempotencyKey())
	}
	if output.Envelope.StateHash != loggedHash {
		return fmt.Errorf("seq %d (%s): got %x, logged %x: %w",
			output.Envelope.Sequence, evt.IdempotencyKey(), output.Envelope.StateHash, loggedHash, ErrHashMismatch)
	}
	return nil
}

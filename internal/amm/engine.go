// Package amm is the pool engine the ledger trades against. The ledger only
// needs exact settlement deltas and the current price; curve math stays here.
package amm

import (
	"errors"
	"math/big"
)

var (
	ErrPoolNotFound          = errors.New("amm pool not found")
	ErrPoolExists            = errors.New("amm pool already exists")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrSameToken             = errors.New("cannot create pool with same token")
	ErrUnsupportedRange      = errors.New("only full-range liquidity is supported")
)

const (
	MinTick int32 = -887272
	MaxTick int32 = 887272
)

// TickRange bounds a liquidity position.
type TickRange struct {
	Lower int32
	Upper int32
}

// FullRange covers every price.
var FullRange = TickRange{Lower: MinTick, Upper: MaxTick}

// Delta is a balance change seen from the caller: positive amounts are owed
// to the caller, negative amounts are owed by it.
type Delta struct {
	Amount0 int64
	Amount1 int64
}

// Engine executes swaps and liquidity changes for the ledger.
//
// Swap follows the exact-in/exact-out sign convention: a negative
// amountSpecified is an exact input, a positive one an exact output.
// zeroForOne selects token0 as the input token. No price limit is applied.
type Engine interface {
	Initialize(poolID, token0, token1 string, reserve0, reserve1 int64) error
	Swap(poolID string, amountSpecified int64, zeroForOne bool) (Delta, error)
	ModifyLiquidity(poolID string, r TickRange, liquidityDelta int64) (Delta, error)
	CurrentPrice(poolID string) (sqrtPriceX96 *big.Int, tick int32, err error)

	// Checkpoint captures the pool so the caller can undo everything done to
	// it by an operation that later fails.
	Checkpoint(poolID string) (restore func(), err error)
}

// PoolState is the exported form of one pool, for snapshots.
type PoolState struct {
	PoolID    string `json:"pool_id"`
	Token0    string `json:"token0"`
	Token1    string `json:"token1"`
	Reserve0  string `json:"reserve0"`
	Reserve1  string `json:"reserve1"`
	Liquidity string `json:"liquidity"`
	FeeBps    int64  `json:"fee_bps"`
}

// Snapshotter is implemented by engines whose state lives in this process.
type Snapshotter interface {
	Export() []PoolState
	Import(states []PoolState) error
}

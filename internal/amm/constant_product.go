package amm

import (
	"fmt"
	stdmath "math"
	"math/big"
	"sort"
	"sync"
)

const bpsDenominator = 10_000

type cpPool struct {
	token0, token1     string
	reserve0, reserve1 *big.Int
	liquidity          *big.Int
	feeBps             int64
}

func (p *cpPool) clone() *cpPool {
	return &cpPool{
		token0:    p.token0,
		token1:    p.token1,
		reserve0:  new(big.Int).Set(p.reserve0),
		reserve1:  new(big.Int).Set(p.reserve1),
		liquidity: new(big.Int).Set(p.liquidity),
		feeBps:    p.feeBps,
	}
}

// ConstantProduct is an in-memory x*y=k engine with full-range liquidity.
type ConstantProduct struct {
	mu     sync.RWMutex
	pools  map[string]*cpPool
	feeBps int64
}

// NewConstantProduct creates an engine whose pools charge feeBps on input.
func NewConstantProduct(feeBps int64) *ConstantProduct {
	return &ConstantProduct{
		pools:  make(map[string]*cpPool),
		feeBps: feeBps,
	}
}

func (m *ConstantProduct) Initialize(poolID, token0, token1 string, reserve0, reserve1 int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token0 == token1 {
		return ErrSameToken
	}
	if _, exists := m.pools[poolID]; exists {
		return fmt.Errorf("%s: %w", poolID, ErrPoolExists)
	}
	if reserve0 <= 0 || reserve1 <= 0 {
		return ErrInvalidAmount
	}

	r0, r1 := big.NewInt(reserve0), big.NewInt(reserve1)
	liquidity := new(big.Int).Sqrt(new(big.Int).Mul(r0, r1))
	if liquidity.Sign() <= 0 {
		return ErrInsufficientLiquidity
	}

	m.pools[poolID] = &cpPool{
		token0:    token0,
		token1:    token1,
		reserve0:  r0,
		reserve1:  r1,
		liquidity: liquidity,
		feeBps:    m.feeBps,
	}
	return nil
}

func (m *ConstantProduct) Swap(poolID string, amountSpecified int64, zeroForOne bool) (Delta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pool, ok := m.pools[poolID]
	if !ok {
		return Delta{}, fmt.Errorf("%s: %w", poolID, ErrPoolNotFound)
	}
	if amountSpecified == 0 || amountSpecified == stdmath.MinInt64 {
		return Delta{}, ErrInvalidAmount
	}

	reserveIn, reserveOut := pool.reserve0, pool.reserve1
	if !zeroForOne {
		reserveIn, reserveOut = pool.reserve1, pool.reserve0
	}

	var amountIn, amountOut *big.Int
	if amountSpecified < 0 {
		amountIn = big.NewInt(-amountSpecified)
		amountOut = quoteExactIn(reserveIn, reserveOut, amountIn, pool.feeBps)
	} else {
		amountOut = big.NewInt(amountSpecified)
		if amountOut.Cmp(reserveOut) >= 0 {
			return Delta{}, ErrInsufficientLiquidity
		}
		amountIn = quoteExactOut(reserveIn, reserveOut, amountOut, pool.feeBps)
	}
	if amountOut.Sign() <= 0 || amountOut.Cmp(reserveOut) >= 0 {
		return Delta{}, ErrInsufficientLiquidity
	}
	if !amountIn.IsInt64() || !amountOut.IsInt64() {
		return Delta{}, ErrInvalidAmount
	}

	reserveIn.Add(reserveIn, amountIn)
	reserveOut.Sub(reserveOut, amountOut)

	if zeroForOne {
		return Delta{Amount0: -amountIn.Int64(), Amount1: amountOut.Int64()}, nil
	}
	return Delta{Amount0: amountOut.Int64(), Amount1: -amountIn.Int64()}, nil
}

// quoteExactIn: out = reserveOut * inWithFee / (reserveIn*10000 + inWithFee)
func quoteExactIn(reserveIn, reserveOut, amountIn *big.Int, feeBps int64) *big.Int {
	inWithFee := new(big.Int).Mul(amountIn, big.NewInt(bpsDenominator-feeBps))
	numerator := new(big.Int).Mul(reserveOut, inWithFee)
	denominator := new(big.Int).Mul(reserveIn, big.NewInt(bpsDenominator))
	denominator.Add(denominator, inWithFee)
	return numerator.Div(numerator, denominator)
}

// quoteExactOut: in = ceil(reserveIn * out * 10000 / ((reserveOut - out) * (10000 - fee)))
func quoteExactOut(reserveIn, reserveOut, amountOut *big.Int, feeBps int64) *big.Int {
	numerator := new(big.Int).Mul(reserveIn, amountOut)
	numerator.Mul(numerator, big.NewInt(bpsDenominator))
	denominator := new(big.Int).Sub(reserveOut, amountOut)
	denominator.Mul(denominator, big.NewInt(bpsDenominator-feeBps))
	return ceilDiv(numerator, denominator)
}

func ceilDiv(n, d *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(n, d, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

func (m *ConstantProduct) ModifyLiquidity(poolID string, r TickRange, liquidityDelta int64) (Delta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pool, ok := m.pools[poolID]
	if !ok {
		return Delta{}, fmt.Errorf("%s: %w", poolID, ErrPoolNotFound)
	}
	if r != FullRange {
		return Delta{}, ErrUnsupportedRange
	}
	if liquidityDelta == 0 || liquidityDelta == stdmath.MinInt64 {
		return Delta{}, ErrInvalidAmount
	}

	if liquidityDelta > 0 {
		dl := big.NewInt(liquidityDelta)
		amount0 := ceilDiv(new(big.Int).Mul(pool.reserve0, dl), pool.liquidity)
		amount1 := ceilDiv(new(big.Int).Mul(pool.reserve1, dl), pool.liquidity)
		if !amount0.IsInt64() || !amount1.IsInt64() {
			return Delta{}, ErrInvalidAmount
		}
		pool.reserve0.Add(pool.reserve0, amount0)
		pool.reserve1.Add(pool.reserve1, amount1)
		pool.liquidity.Add(pool.liquidity, dl)
		return Delta{Amount0: -amount0.Int64(), Amount1: -amount1.Int64()}, nil
	}

	dl := big.NewInt(-liquidityDelta)
	if dl.Cmp(pool.liquidity) >= 0 {
		return Delta{}, ErrInsufficientLiquidity
	}
	amount0 := new(big.Int).Mul(pool.reserve0, dl)
	amount0.Div(amount0, pool.liquidity)
	amount1 := new(big.Int).Mul(pool.reserve1, dl)
	amount1.Div(amount1, pool.liquidity)
	pool.reserve0.Sub(pool.reserve0, amount0)
	pool.reserve1.Sub(pool.reserve1, amount1)
	pool.liquidity.Sub(pool.liquidity, dl)
	return Delta{Amount0: amount0.Int64(), Amount1: amount1.Int64()}, nil
}

// CurrentPrice returns sqrt(reserve1/reserve0) in Q64.96 and the tick
// floor(log_1.0001(reserve1/reserve0)).
func (m *ConstantProduct) CurrentPrice(poolID string) (*big.Int, int32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pool, ok := m.pools[poolID]
	if !ok {
		return nil, 0, fmt.Errorf("%s: %w", poolID, ErrPoolNotFound)
	}

	ratioX192 := new(big.Int).Lsh(pool.reserve1, 192)
	ratioX192.Div(ratioX192, pool.reserve0)
	sqrtPriceX96 := new(big.Int).Sqrt(ratioX192)

	price, _ := new(big.Float).Quo(new(big.Float).SetInt(pool.reserve1), new(big.Float).SetInt(pool.reserve0)).Float64()
	tick := int32(stdmath.Floor(stdmath.Log(price) / stdmath.Log(1.0001)))
	return sqrtPriceX96, tick, nil
}

func (m *ConstantProduct) Checkpoint(poolID string) (func(), error) {
	m.mu.RLock()
	pool, ok := m.pools[poolID]
	m.mu.RUnlock()
	if !ok {
		return func() {
			m.mu.Lock()
			delete(m.pools, poolID)
			m.mu.Unlock()
		}, nil
	}

	saved := pool.clone()
	return func() {
		m.mu.Lock()
		m.pools[poolID] = saved
		m.mu.Unlock()
	}, nil
}

// Reserves returns the pool reserves.
func (m *ConstantProduct) Reserves(poolID string) (reserve0, reserve1 *big.Int, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pool, ok := m.pools[poolID]
	if !ok {
		return nil, nil, fmt.Errorf("%s: %w", poolID, ErrPoolNotFound)
	}
	return new(big.Int).Set(pool.reserve0), new(big.Int).Set(pool.reserve1), nil
}

func (m *ConstantProduct) Export() []PoolState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]PoolState, 0, len(m.pools))
	for id, p := range m.pools {
		out = append(out, PoolState{
			PoolID:    id,
			Token0:    p.token0,
			Token1:    p.token1,
			Reserve0:  p.reserve0.String(),
			Reserve1:  p.reserve1.String(),
			Liquidity: p.liquidity.String(),
			FeeBps:    p.feeBps,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PoolID < out[j].PoolID })
	return out
}

func (m *ConstantProduct) Import(states []PoolState) error {
	pools := make(map[string]*cpPool, len(states))
	for _, s := range states {
		r0, ok0 := new(big.Int).SetString(s.Reserve0, 10)
		r1, ok1 := new(big.Int).SetString(s.Reserve1, 10)
		l, okL := new(big.Int).SetString(s.Liquidity, 10)
		if !ok0 || !ok1 || !okL {
			return fmt.Errorf("amm pool %s: malformed state", s.PoolID)
		}
		pools[s.PoolID] = &cpPool{
			token0: s.Token0, token1: s.Token1,
			reserve0: r0, reserve1: r1, liquidity: l,
			feeBps: s.FeeBps,
		}
	}

	m.mu.Lock()
	m.pools = pools
	m.mu.Unlock()
	return nil
}

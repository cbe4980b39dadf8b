package projection_test

import (
	"context"
	"testing"
	"time"

	"HookLedger/internal/projection"
	"HookLedger/internal/state"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T) (*projection.ViewCache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return projection.NewViewCache(rdb, time.Minute), s
}

func TestViewCache_PutGet(t *testing.T) {
	cache, _ := newCache(t)
	ctx := context.Background()

	acct := uuid.New()
	want := state.PositionRecord{PoolID: "p", Account: acct, Size: 3, Exposure: -600, Version: 2}
	key := projection.PositionKey("p", acct)
	require.NoError(t, cache.Put(ctx, key, want))

	var got state.PositionRecord
	hit, err := cache.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, want, got)
}

func TestViewCache_MissAndInvalidate(t *testing.T) {
	cache, _ := newCache(t)
	ctx := context.Background()

	var v map[string]int
	hit, err := cache.Get(ctx, projection.PoolKey("none"), &v)
	require.NoError(t, err)
	assert.False(t, hit)

	key := projection.BalanceKey("system:p:lp_fees")
	require.NoError(t, cache.Put(ctx, key, map[string]int{"balance": 7}))
	require.NoError(t, cache.Invalidate(ctx, key))
	require.NoError(t, cache.Invalidate(ctx))

	hit, err = cache.Get(ctx, key, &v)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestViewCache_TTLAndCorruptEntries(t *testing.T) {
	cache, s := newCache(t)
	ctx := context.Background()

	key := projection.StakeKey("p", uuid.New())
	require.NoError(t, cache.Put(ctx, key, state.StakeRecord{Liquidity: 1}))
	s.FastForward(2 * time.Minute)

	var rec state.StakeRecord
	hit, err := cache.Get(ctx, key, &rec)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, s.Set(key, "not json"))
	hit, err = cache.Get(ctx, key, &rec)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.False(t, s.Exists(key))
}

func TestViewCache_Keys(t *testing.T) {
	acct := uuid.MustParse("00000000-0000-0000-0000-0000000000aa")
	assert.Equal(t, "hook:pool:USDC-ETH", projection.PoolKey("USDC-ETH"))
	assert.Equal(t, "hook:position:USDC-ETH:00000000-0000-0000-0000-0000000000aa", projection.PositionKey("USDC-ETH", acct))
	assert.Equal(t, "hook:stake:USDC-ETH:00000000-0000-0000-0000-0000000000aa", projection.StakeKey("USDC-ETH", acct))
	assert.Equal(t, "hook:balance:system:USDC-ETH:insurance", projection.BalanceKey("system:USDC-ETH:insurance"))
}

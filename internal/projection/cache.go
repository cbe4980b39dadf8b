package projection

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ViewCache holds JSON read views in Redis. The projection worker writes
// record views after each commit and drops balance views it has changed;
// the query service reads through it.
type ViewCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewViewCache(rdb *redis.Client, ttl time.Duration) *ViewCache {
	return &ViewCache{rdb: rdb, ttl: ttl}
}

func PoolKey(poolID string) string {
	return "hook:pool:" + poolID
}

func PositionKey(poolID string, account uuid.UUID) string {
	return "hook:position:" + poolID + ":" + account.String()
}

func StakeKey(poolID string, account uuid.UUID) string {
	return "hook:stake:" + poolID + ":" + account.String()
}

func BalanceKey(accountPath string) string {
	return "hook:balance:" + accountPath
}

// Put stores v as JSON under key.
func (c *ViewCache) Put(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, data, c.ttl).Err()
}

// Get decodes the cached view into v. A miss returns (false, nil).
func (c *ViewCache) Get(ctx context.Context, key string, v any) (bool, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		// A view we cannot decode is as good as a miss.
		c.rdb.Del(ctx, key)
		return false, nil
	}
	return true, nil
}

// Invalidate removes views; the next read repopulates them.
func (c *ViewCache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

package core

import (
	"container/list"
)

// DBIdempotencyChecker looks an operation up in the durable event log.
type DBIdempotencyChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

// Dedup tiers, used as the metric label.
const (
	tierLRU      = "lru"
	tierPostgres = "postgres"
)

// IdempotencyChecker answers "was this operation already logged?" from a
// bounded window of recent operation keys, falling back to the event log.
type IdempotencyChecker struct {
	lru       *IdempotencyLRU
	dbChecker DBIdempotencyChecker
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
	}
}

// IsDuplicate reports whether the operation was seen and which tier saw it.
// A failed event log lookup returns the error with dup false; the log's
// unique key still refuses the second insert.
func (ic *IdempotencyChecker) IsDuplicate(eventType, idempotencyKey string) (dup bool, tier string, err error) {
	key := operationKey(eventType, idempotencyKey)
	if ic.lru.Contains(key) {
		return true, tierLRU, nil
	}
	if ic.dbChecker == nil {
		return false, "", nil
	}

	found, err := ic.dbChecker.IsDuplicate(eventType, idempotencyKey)
	if err != nil {
		return false, "", err
	}
	if !found {
		return false, "", nil
	}
	ic.lru.Add(key)
	return true, tierPostgres, nil
}

// MarkProcessed records a logged operation, applied or rejected.
func (ic *IdempotencyChecker) MarkProcessed(eventType, idempotencyKey string) {
	ic.lru.Add(operationKey(eventType, idempotencyKey))
}

// operationKey is the form keys take in the window and in snapshots.
func operationKey(eventType, idempotencyKey string) string {
	return eventType + ":" + idempotencyKey
}

// IdempotencyLRU keeps the most recent operation keys, evicting the least
// recently seen. Owned by the core goroutine.
type IdempotencyLRU struct {
	capacity int
	index    map[string]*list.Element
	order    *list.List // front is most recent; values are keys
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	return &IdempotencyLRU{
		capacity: capacity,
		index:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Contains reports membership and refreshes the key.
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, ok := lru.index[key]
	if ok {
		lru.order.MoveToFront(elem)
	}
	return ok
}

func (lru *IdempotencyLRU) Add(key string) {
	if elem, ok := lru.index[key]; ok {
		lru.order.MoveToFront(elem)
		return
	}
	lru.index[key] = lru.order.PushFront(key)
	for lru.order.Len() > lru.capacity {
		oldest := lru.order.Back()
		lru.order.Remove(oldest)
		delete(lru.index, oldest.Value.(string))
	}
}

// WarmFromKeys adds keys oldest first, so the last key ends up most recent.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		lru.Add(key)
	}
}

// GetAllKeys lists keys oldest first, the order WarmFromKeys takes.
func (lru *IdempotencyLRU) GetAllKeys() []string {
	keys := make([]string, 0, lru.order.Len())
	for elem := lru.order.Back(); elem != nil; elem = elem.Prev() {
		keys = append(keys, elem.Value.(string))
	}
	return keys
}

func (lru *IdempotencyLRU) Size() int {
	return lru.order.Len()
}

// Package cache provides eventstore.CacheStore implementations. Unlike
// snapshots and idempotency records, an aggregate cache is inherently
// local to the process serving a given aggregate instance, so this
// package only offers an in-process, size-bounded implementation rather
// than a postgres-backed one — a remote cache round-trip would usually
// cost more than just replaying from the event store.
package cache

import (
	"container/list"
	"context"
	"sync"

	"github.com/serbia-gov/eventflow"
	"github.com/serbia-gov/eventflow/eventstore"
)

// LRU is a size-bounded, in-process eventstore.CacheStore.
type LRU struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List
}

type entry struct {
	key   string
	value *eventstore.CacheEntry
}

// NewLRU builds an LRU cache holding at most capacity entries.
func NewLRU(capacity int) *LRU {
	if capacity <= 0 {
		capacity = 1024
	}
	return &LRU{capacity: capacity, items: make(map[string]*list.Element), order: list.New()}
}

func (c *LRU) key(aggregateType string, id eventflow.ID) string {
	return eventstore.StreamID(aggregateType, id)
}

func (c *LRU) Get(ctx context.Context, aggregateType string, aggregateID eventflow.ID) (*eventstore.CacheEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[c.key(aggregateType, aggregateID)]
	if !ok {
		return nil, false, nil
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry).value, true, nil
}

func (c *LRU) Put(ctx context.Context, aggregateType string, cacheEntry *eventstore.CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := c.key(aggregateType, cacheEntry.AggregateID)
	if el, ok := c.items[k]; ok {
		el.Value.(*entry).value = cacheEntry
		c.order.MoveToFront(el)
		return nil
	}
	el := c.order.PushFront(&entry{key: k, value: cacheEntry})
	c.items[k] = el
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*entry).key)
		}
	}
	return nil
}

func (c *LRU) Invalidate(ctx context.Context, aggregateType string, aggregateID eventflow.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := c.key(aggregateType, aggregateID)
	if el, ok := c.items[k]; ok {
		c.order.Remove(el)
		delete(c.items, k)
	}
	return nil
}

var _ eventstore.CacheStore = (*LRU)(nil)

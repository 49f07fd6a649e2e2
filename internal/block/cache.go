package block

import (
	"container/list"
	"fmt"
	"sort"
	"sync"
)

// Cache is an LRU shadow cache of decoded nodes sitting in front of a
// Store. In write-through mode a dirty Put is flushed to the store
// immediately; in write-back mode dirty entries accumulate until Flush
// (or eviction) forces them out. Capacity 0 means unbounded.
type Cache struct {
	store     *Store
	writeBack bool
	capacity  int

	mu      sync.Mutex
	entries map[int64]*cacheEntry
	order   *list.List
}

type cacheEntry struct {
	rec   NodeRecord
	dirty bool
	elem  *list.Element
}

// NewCache wraps store with a shadow cache of the given capacity (0 for
// unbounded) and write policy.
func NewCache(store *Store, capacity int, writeBack bool) *Cache {
	return &Cache{
		store:     store,
		writeBack: writeBack,
		capacity:  capacity,
		entries:   make(map[int64]*cacheEntry),
		order:     list.New(),
	}
}

// Get returns the shadow copy of blockNo, if present, without touching the
// underlying store.
func (c *Cache) Get(blockNo int64) (NodeRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[blockNo]
	if !ok {
		return NodeRecord{}, false
	}
	c.order.MoveToFront(e.elem)
	return e.rec, true
}

// Put installs rec as the shadow copy of its block. If dirty and the
// cache is write-through, rec is flushed to the store before Put returns.
// If capacity is exceeded, the least-recently-used entry is evicted,
// flushing it first if it was itself dirty.
func (c *Cache) Put(rec NodeRecord, dirty bool) error {
	var evicted *NodeRecord

	c.mu.Lock()
	if e, ok := c.entries[rec.BlockNo]; ok {
		e.rec = rec
		e.dirty = e.dirty || dirty
		c.order.MoveToFront(e.elem)
	} else {
		if c.capacity > 0 && c.order.Len() >= c.capacity {
			if back := c.order.Back(); back != nil {
				bn := back.Value.(int64)
				if be := c.entries[bn]; be != nil && be.dirty {
					r := be.rec
					evicted = &r
				}
				c.order.Remove(back)
				delete(c.entries, bn)
			}
		}
		elem := c.order.PushFront(rec.BlockNo)
		c.entries[rec.BlockNo] = &cacheEntry{rec: rec, dirty: dirty, elem: elem}
	}
	c.mu.Unlock()

	if evicted != nil {
		if err := c.store.WriteBlock(evicted.BlockNo, *evicted); err != nil {
			return fmt.Errorf("block: flushing evicted block %d: %w", evicted.BlockNo, err)
		}
	}
	if dirty && !c.writeBack {
		return c.flushOne(rec.BlockNo)
	}
	return nil
}

func (c *Cache) flushOne(blockNo int64) error {
	c.mu.Lock()
	e, ok := c.entries[blockNo]
	var rec NodeRecord
	if ok {
		rec = e.rec
		e.dirty = false
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return c.store.WriteBlock(blockNo, rec)
}

// Flush writes every dirty shadow entry through to the store, lowest
// block number first, then empties the cache. Ascending order matters in
// write-back mode: freshly split nodes occupy consecutive block numbers
// past the store's current end, and the store only accepts writes that
// extend it by one block at a time. Dropping the clean entries too is
// what lets a long rebuild call Flush periodically to bound its memory.
func (c *Cache) Flush() error {
	c.mu.Lock()
	var dirty []NodeRecord
	for _, e := range c.entries {
		if e.dirty {
			dirty = append(dirty, e.rec)
		}
	}
	c.entries = make(map[int64]*cacheEntry)
	c.order.Init()
	c.mu.Unlock()

	sort.Slice(dirty, func(i, j int) bool { return dirty[i].BlockNo < dirty[j].BlockNo })
	for _, rec := range dirty {
		if err := c.store.WriteBlock(rec.BlockNo, rec); err != nil {
			return fmt.Errorf("block: flush block %d: %w", rec.BlockNo, err)
		}
	}
	return nil
}

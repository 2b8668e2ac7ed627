package feed

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Record is a row that can live in a Cache.
type Record interface {
	RecordID() string
	RecordVersion() int64
}

type cacheEntry[T Record] struct {
	value   T
	version int64
	deleted bool
}

// Cache is an event-sourced local list of rows from one table. Events and
// seeded rows are applied only when newer than what is held, so redelivery
// and late replays are no-ops and deletes are never resurrected.
type Cache[T Record] struct {
	mu      sync.RWMutex
	table   string
	entries map[string]cacheEntry[T]
	before  func(a, b T) bool
	keep    func(T) bool
}

// NewCache creates a cache for table. before orders List output and should
// put the most recent row first. keep, if non-nil, drops rows that do not
// belong in this view.
func NewCache[T Record](table string, before func(a, b T) bool, keep func(T) bool) *Cache[T] {
	return &Cache[T]{
		table:   table,
		entries: make(map[string]cacheEntry[T]),
		before:  before,
		keep:    keep,
	}
}

// Table returns the table this cache follows.
func (c *Cache[T]) Table() string { return c.table }

// Seed loads rows from an initial fetch using the same newer-wins rule.
func (c *Cache[T]) Seed(rows []T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range rows {
		if c.keep != nil && !c.keep(r) {
			continue
		}
		c.putLocked(r.RecordID(), cacheEntry[T]{value: r, version: r.RecordVersion()})
	}
}

// Apply folds a change event into the cache and reports whether visible
// state changed.
func (c *Cache[T]) Apply(ev Event) (bool, error) {
	if ev.Table != c.table {
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ev.Type == Delete {
		return c.putLocked(ev.RowID, cacheEntry[T]{version: ev.Version, deleted: true}), nil
	}

	var row T
	if err := json.Unmarshal(ev.New, &row); err != nil {
		return false, fmt.Errorf("decode %s row %s: %w", c.table, ev.RowID, err)
	}
	if c.keep != nil && !c.keep(row) {
		return false, nil
	}
	return c.putLocked(ev.RowID, cacheEntry[T]{value: row, version: ev.Version}), nil
}

func (c *Cache[T]) putLocked(id string, e cacheEntry[T]) bool {
	if cur, ok := c.entries[id]; ok && cur.version >= e.version {
		return false
	}
	c.entries[id] = e
	return true
}

// Get returns the live row with id.
func (c *Cache[T]) Get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok || e.deleted {
		var zero T
		return zero, false
	}
	return e.value, true
}

// List returns live rows, most recent first.
func (c *Cache[T]) List() []T {
	c.mu.RLock()
	out := make([]T, 0, len(c.entries))
	for _, e := range c.entries {
		if !e.deleted {
			out = append(out, e.value)
		}
	}
	c.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if c.before(out[i], out[j]) {
			return true
		}
		if c.before(out[j], out[i]) {
			return false
		}
		return out[i].RecordID() < out[j].RecordID()
	})
	return out
}

// Len returns the number of live rows.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, e := range c.entries {
		if !e.deleted {
			n++
		}
	}
	return n
}

package engine

import (
	"sort"
	"sync"
)

// LockTable provides per-SKU mutual exclusion. Entries are created lazily
// on first use and evicted once their reference count returns to zero, so
// the table does not grow with the catalog over the process lifetime.
//
// Every code path that writes a SKU's quantity (batch dispatch, webhook
// decrement) must hold that SKU's lock for the whole read-modify-write.
type LockTable struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewLockTable creates an empty table.
func NewLockTable() *LockTable {
	return &LockTable{entries: make(map[string]*lockEntry)}
}

// Acquire blocks until the SKU's lock is held and returns the release
// function. Release must be called exactly once.
func (t *LockTable) Acquire(sku string) (release func()) {
	t.mu.Lock()
	e, ok := t.entries[sku]
	if !ok {
		e = &lockEntry{}
		t.entries[sku] = e
	}
	e.refs++
	t.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			t.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(t.entries, sku)
			}
			t.mu.Unlock()
		})
	}
}

// AcquireAll locks several SKUs in ascending lexical order, which keeps
// two multi-SKU operations from deadlocking against each other.
func (t *LockTable) AcquireAll(skus []string) (release func()) {
	sorted := append([]string(nil), skus...)
	sort.Strings(sorted)
	releases := make([]func(), 0, len(sorted))
	for _, sku := range sorted {
		releases = append(releases, t.Acquire(sku))
	}
	return func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
}

// Len reports how many SKUs currently have live lock entries.
func (t *LockTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

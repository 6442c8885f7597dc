package mount

import (
	"container/list"
	"sync"
	"time"
)

// contentCache is the bounded, read-through file body cache: an LRU keyed
// by remote ID, evicted both by item count (cacheMaxItems) and by per-entry
// age (cacheMaxSeconds). Dirty entries
// (local writes not yet flushed) are never evicted by either bound - losing
// unflushed data to a cache policy would be a correctness bug, not a
// performance trade-off.
type contentCache struct {
	mu       sync.Mutex
	maxItems int
	maxAge   time.Duration

	ll    *list.List // front = most recently used
	items map[string]*list.Element

	now func() time.Time // overridable for tests
}

type cacheEntry struct {
	id         string
	body       []byte
	dirty      bool
	insertedAt time.Time
}

func newContentCache(maxItems int, maxAge time.Duration) *contentCache {
	return &contentCache{
		maxItems: maxItems,
		maxAge:   maxAge,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

// Get returns the cached body for id if present and within TTL, touching
// LRU order. A dirty entry is always considered fresh regardless of age -
// it reflects local state the server hasn't seen yet.
func (c *contentCache) Get(id string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[id]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if !entry.dirty && c.maxAge > 0 && c.now().Sub(entry.insertedAt) > c.maxAge {
		c.ll.Remove(el)
		delete(c.items, id)
		return nil, false
	}
	c.ll.MoveToFront(el)
	return append([]byte(nil), entry.body...), true
}

// Install inserts a freshly-downloaded body as a clean (non-dirty) entry,
// resetting its age, and evicts as needed.
func (c *contentCache) Install(id string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(id, body, false)
	c.evictLocked()
}

// Write installs or overwrites the body for id as a dirty entry - the
// result of a local write or truncate.
func (c *contentCache) Write(id string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(id, body, true)
	c.evictLocked()
}

func (c *contentCache) set(id string, body []byte, dirty bool) {
	stored := append([]byte(nil), body...)
	if el, ok := c.items[id]; ok {
		entry := el.Value.(*cacheEntry)
		entry.body = stored
		entry.dirty = dirty
		entry.insertedAt = c.now()
		c.ll.MoveToFront(el)
		return
	}
	entry := &cacheEntry{id: id, body: stored, dirty: dirty, insertedAt: c.now()}
	c.items[id] = c.ll.PushFront(entry)
}

// IsDirty reports whether id has unflushed local changes.
func (c *contentCache) IsDirty(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[id]
	if !ok {
		return false
	}
	return el.Value.(*cacheEntry).dirty
}

// ClearDirty marks id as clean, e.g. after a successful flush. It becomes
// eligible for TTL/LRU eviction again.
func (c *contentCache) ClearDirty(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[id]; ok {
		el.Value.(*cacheEntry).dirty = false
	}
}

// Evict unconditionally removes id, e.g. because the underlying entity was
// deleted or because a sync tick determined the remote content changed.
func (c *contentCache) Evict(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[id]; ok {
		c.ll.Remove(el)
		delete(c.items, id)
	}
}

// evictLocked enforces both bounds, skipping any dirty entry it encounters
// (it keeps walking past dirty entries rather than stopping at the first
// one, so one stuck dirty file at the back of the LRU doesn't pin the whole
// cache over its budget).
func (c *contentCache) evictLocked() {
	if c.maxItems <= 0 {
		return
	}
	for c.ll.Len() > c.maxItems {
		if !c.evictOneLocked() {
			break
		}
	}
}

func (c *contentCache) evictOneLocked() bool {
	for el := c.ll.Back(); el != nil; el = el.Prev() {
		entry := el.Value.(*cacheEntry)
		if entry.dirty {
			continue
		}
		c.ll.Remove(el)
		delete(c.items, entry.id)
		return true
	}
	return false
}

// Len reports the number of cached entries, used by tests.
func (c *contentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

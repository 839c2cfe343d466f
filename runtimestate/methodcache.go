package runtimestate

import (
	"sync"

	"github.com/adpena/molt-sub005/heap"
	"github.com/adpena/molt-sub005/value"
)

// methodCacheKey is the (type_id, name_bits) pair spec §3.4 describes.
type methodCacheKey struct {
	typeID heap.TypeID
	nameID uint64
}

// MethodCache maps (type_id, name_bits) to a resolved attribute value,
// invalidated whenever a type's MRO changes. Grounded on
// original_source/.../state/runtime_state.rs's method_cache field, which
// is an ordinary process-wide HashMap guarded by the interpreter lock in
// the original; here it carries its own RWMutex since nothing about
// lookup requires the GIL specifically (only attribute-resolution call
// sites that also mutate object state need it).
type MethodCache struct {
	mu      sync.RWMutex
	entries map[methodCacheKey]value.V
	// generation is bumped on every InvalidateType/InvalidateAll so a
	// lookup taken just before an invalidation is never mistaken for one
	// taken just after; not currently read, but kept so a future
	// versioned-cache-entry scheme (the std Rust map is unversioned) has
	// somewhere to start.
	generation uint64
}

// NewMethodCache constructs an empty cache.
func NewMethodCache() *MethodCache {
	return &MethodCache{entries: make(map[methodCacheKey]value.V)}
}

// Get returns the cached attribute value for (typeID, nameID), if present.
func (c *MethodCache) Get(typeID heap.TypeID, nameID uint64) (value.V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[methodCacheKey{typeID, nameID}]
	return v, ok
}

// Set records the resolved attribute value for (typeID, nameID).
func (c *MethodCache) Set(typeID heap.TypeID, nameID uint64, v value.V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[methodCacheKey{typeID, nameID}] = v
}

// InvalidateType drops every cached entry for typeID. Called whenever
// typeID's MRO changes (a base class's attribute is reassigned, a method
// is monkey-patched onto a class) since every cached resolution for that
// type may now be stale.
func (c *MethodCache) InvalidateType(typeID heap.TypeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.typeID == typeID {
			delete(c.entries, k)
		}
	}
	c.generation++
}

// InvalidateAll drops every cached entry, for a full class-hierarchy
// rebuild.
func (c *MethodCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[methodCacheKey]value.V)
	c.generation++
}

package heap

import (
	"sync"
	"unsafe"

	"github.com/adpena/molt-sub005/value"
)

// Allocator produces heap Objects, satisfying allocations from a
// per-type-id free list (a sync.Pool) before falling back to a fresh Go
// allocation, and registers every returned pointer in a value.Registry so
// it can be boxed as a pointer V.
//
// This is the idiomatic-Go counterpart to the original allocator's
// alloc_zeroed_with_pool,
// bucketed-by-size-class free list: Go's GC already manages raw memory, so
// the free list here is keyed by TypeID (the dimension that actually
// varies object layout) rather than a raw byte-size class, and recycles
// *Object values to cut allocator pressure on hot paths (dict/list/tuple
// churn) the same way the reference runtime's object_pool does.
type Allocator struct {
	reg   *value.Registry
	pools [TypeHandle + 1]sync.Pool
}

// NewAllocator constructs an Allocator bound to reg. Every Object it
// produces is registered in reg and must be released via DecRef, never
// freed directly.
func NewAllocator(reg *value.Registry) *Allocator {
	a := &Allocator{reg: reg}
	for t := range a.pools {
		t := TypeID(t)
		a.pools[t].New = func() any { return &Object{Header: Header{typeID: t}} }
	}
	return a
}

// Alloc produces a zeroed-and-reinitialized Object of typeID wrapping
// payload, sets ref_count=1, registers the pointer, and returns the
// resulting pointer V.
func (a *Allocator) Alloc(typeID TypeID, payload any) value.V {
	o := a.pools[typeID].Get().(*Object)
	o.typeID = typeID
	o.flags = 0
	o.refCount.Store(1)
	o.Payload = payload
	return a.reg.FromPtr(unsafe.Pointer(o))
}

// Recycle returns o to its type's free list for reuse by a future Alloc.
// Called by DecRefPooled once an object's destructor has released its
// owned sub-objects; o must not be touched by any other goroutine
// afterward.
func (a *Allocator) Recycle(o *Object) {
	o.Payload = nil
	a.pools[o.typeID].Put(o)
}

// DecRefPooled is DecRef generalized to return the freed Object to this
// Allocator's free list instead of abandoning it to the Go GC, for
// allocation-heavy call sites (dict/list churn) that want the pooling
// benefit. Most call sites should just use the package-level DecRef.
func (a *Allocator) DecRefPooled(o *Object) {
	if o == nil {
		return
	}
	if o.refCount.Add(^uint64(0)) != 0 {
		return
	}
	if d := destructors[o.typeID]; d != nil {
		d(o)
	}
	a.reg.Release(unsafe.Pointer(o))
	a.Recycle(o)
}

// Registry returns the Registry this Allocator registers pointers into.
func (a *Allocator) Registry() *value.Registry { return a.reg }

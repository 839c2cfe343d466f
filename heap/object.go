// Package heap implements Molt's reference-counted heap object model: a
// common header (type id, flags, ref count) in front of a type-specific
// payload, a pooled allocator, and type_id jump-table dispatch in place
// of per-object vtables.
//
// Objects are only ever mutated while the caller holds the interpreter
// lock (gil.Token); lock-free reads of an already-allocated object's
// type id and payload are permitted, matching the allocator's
// lock-free-read contract.
package heap

import (
	"sync/atomic"
	"unsafe"

	"github.com/adpena/molt-sub005/excstack"
	"github.com/adpena/molt-sub005/value"
)

// TypeID is the closed set of heap object kinds.
type TypeID uint32

const (
	TypeDict TypeID = iota
	TypeList
	TypeTuple
	TypeStr
	TypeBytes
	TypeFunc
	TypeBoundMethod
	TypeType
	TypeModule
	TypeDataclass
	TypeBuffer2D
	TypeHandle // opaque catch-all for native-owned handles
)

func (t TypeID) String() string {
	switch t {
	case TypeDict:
		return "dict"
	case TypeList:
		return "list"
	case TypeTuple:
		return "tuple"
	case TypeStr:
		return "str"
	case TypeBytes:
		return "bytes"
	case TypeFunc:
		return "function"
	case TypeBoundMethod:
		return "bound_method"
	case TypeType:
		return "type"
	case TypeModule:
		return "module"
	case TypeDataclass:
		return "dataclass"
	case TypeBuffer2D:
		return "buffer2d"
	case TypeHandle:
		return "handle"
	default:
		return "unknown"
	}
}

// Flag bits, stored in Header.Flags.
const (
	FlagMarked      uint32 = 1 << iota // cycle-collector mark bit (external collector; unused by this core)
	FlagImmutable                      // strings, tuples, frozen dataclasses
)

// Header is the common prefix of every heap object.
type Header struct {
	typeID   TypeID
	flags    uint32
	refCount atomic.Uint64
}

// TypeID returns the object's type.
func (h *Header) TypeID() TypeID { return h.typeID }

// Flags returns the object's flag bits.
func (h *Header) Flags() uint32 { return atomic.LoadUint32(&h.flags) }

// SetFlag sets bit in the flags word. Requires the interpreter lock.
func (h *Header) SetFlag(bit uint32) { atomic.StoreUint32(&h.flags, h.flags|bit) }

// ClearFlag clears bit in the flags word. Requires the interpreter lock.
func (h *Header) ClearFlag(bit uint32) { atomic.StoreUint32(&h.flags, h.flags&^bit) }

// RefCount returns the current strong reference count. Lock-free read.
func (h *Header) RefCount() uint64 { return h.refCount.Load() }

// Object is a heap-allocated record: the common Header plus a
// type-specific Payload. Payload is one of *Dict, *List, *Str, *Bytes,
// *Func, *BoundMethod, *Type, *Module, *Dataclass, *Buffer2D, or an opaque
// *Handle, selected by Header.typeID.
type Object struct {
	Header
	Payload any
}

// Destructor is called when an object's ref count transitions to zero. It
// is responsible for releasing any owned sub-object pointers (by calling
// DecRef on them).
type Destructor func(o *Object)

var destructors [TypeHandle + 1]Destructor

// RegisterDestructor installs the destructor for typeID. Called from each
// payload's init() so that registration order doesn't matter.
func RegisterDestructor(typeID TypeID, d Destructor) {
	destructors[typeID] = d
}

// IncRef increments o's strong reference count.
func IncRef(o *Object) {
	o.refCount.Add(1)
}

// DecRef decrements o's strong reference count. If it transitions to
// zero, the type-specific destructor runs, then o is released from the
// registry and its pointer becomes eligible for garbage collection by the
// Go runtime (there is no explicit free: ownership of the *Object value
// itself reverts to the Go GC once the registry no longer references it).
//
// Must be called while holding the interpreter lock.
func DecRef(reg *value.Registry, o *Object) {
	if o == nil {
		return
	}
	if o.refCount.Add(^uint64(0)) != 0 { // decrement; check post-decrement == 0
		return
	}
	if d := destructors[o.typeID]; d != nil {
		d(o)
	}
	reg.Release(unsafe.Pointer(o))
}

// asObject resolves v through reg and type-asserts the result to *Object.
// Returns (nil, false) if v is not a live pointer V.
func asObject(reg *value.Registry, v value.V) (*Object, bool) {
	p, ok := reg.AsPtr(v)
	if !ok {
		return nil, false
	}
	return (*Object)(p), true
}

// Resolve is the exported form of asObject, used by callers outside the
// package (scheduler, intrinsics) that need to inspect a pointer V's
// object without incurring a dependency cycle back into heap's internals.
func Resolve(reg *value.Registry, v value.V) (*Object, error) {
	o, ok := asObject(reg, v)
	if !ok {
		return nil, excstack.NewRuntimeError("heap: value is not a live pointer")
	}
	return o, nil
}

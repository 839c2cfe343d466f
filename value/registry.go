package value

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/joeycumines/go-catrate"

	"github.com/adpena/molt-sub005/rtlog"
)

// shardCount is the number of shards in the pointer registry. A small
// power of two, matching the original runtime's PTR_REGISTRY_SHARDS.
const shardCount = 64

// shard holds one partition of the registry's address space, guarded by
// its own reader-writer lock so that concurrent resolves on unrelated
// shards never contend.
type shard struct {
	mu   sync.RWMutex
	data map[uint64]entry
}

type entry struct {
	ptr unsafe.Pointer
	// generation disambiguates a released-then-reused address from its
	// prior occupant: every Register that inserts or replaces an entry
	// draws a fresh value from Registry.nextGen. It is not part of
	// the 48-bit V payload; it exists purely for internal diagnostics and
	// test assertions.
	generation uint64
}

// Registry is the sharded address->pointer table backing every pointer V.
// Reads (Resolve) only ever take a shard's read lock and are safe to call
// without holding the interpreter lock; writes (Register/Release) take the
// shard's write lock.
type Registry struct {
	shards [shardCount]shard
	count  atomic.Uint64
	nextGen atomic.Uint64

	traceOnce   sync.Once
	traceMu     sync.Mutex
	traceLimit  *catrate.Limiter
	nextBacktr  atomic.Bool
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].data = make(map[uint64]entry)
	}
	return r
}

// shardFor mixes addr's bits with a fixed avalanche hash (Murmur3's
// finalizer) and takes the result modulo shardCount.
func shardFor(addr uint64) int {
	x := addr
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return int(x % shardCount)
}

// Register records p under its address and returns the address, or 0 if p
// is nil. If the owning shard already maps addr(p) to p, the fast path
// returns under a read lock; otherwise a write lock inserts the entry.
func (r *Registry) Register(p unsafe.Pointer) uint64 {
	if p == nil {
		return 0
	}
	addr := uint64(uintptr(p))
	s := &r.shards[shardFor(addr)]

	s.mu.RLock()
	if e, ok := s.data[addr]; ok && e.ptr == p {
		s.mu.RUnlock()
		return addr
	}
	s.mu.RUnlock()

	s.mu.Lock()
	e, existed := s.data[addr]
	if !existed {
		e = entry{}
	}
	e.ptr = p
	e.generation = r.nextGen.Add(1)
	s.data[addr] = e
	s.mu.Unlock()

	n := r.count.Add(1)
	r.traceRegistration(n)
	return addr
}

// Resolve returns the pointer mapped to addr, or (nil, false) if absent.
// Safe to call without the interpreter lock held.
func (r *Registry) Resolve(addr uint64) (unsafe.Pointer, bool) {
	s := &r.shards[shardFor(addr)]
	s.mu.RLock()
	e, ok := s.data[addr]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return e.ptr, true
}

// Release removes the entry for p and returns its prior address, or
// (0, false) if it was not registered.
func (r *Registry) Release(p unsafe.Pointer) (uint64, bool) {
	if p == nil {
		return 0, false
	}
	addr := uint64(uintptr(p))
	s := &r.shards[shardFor(addr)]

	s.mu.Lock()
	_, ok := s.data[addr]
	if ok {
		delete(s.data, addr)
	}
	s.mu.Unlock()

	if !ok {
		return 0, false
	}
	r.count.Add(^uint64(0)) // decrement
	return addr, true
}

// FromPtr registers p and encodes its address as a pointer V.
func (r *Registry) FromPtr(p unsafe.Pointer) V {
	addr := r.Register(p)
	return V(qnanBase | tagPtr | maskAddr(addr))
}

// AsPtr re-resolves v's pointer payload through the registry. It returns
// (nil, false) if v is not a pointer V, or if the address has since been
// released.
func (r *Registry) AsPtr(v V) (unsafe.Pointer, bool) {
	if !v.IsPtr() {
		return nil, false
	}
	masked := uint64(v) & payload48
	addr := canonicalAddr(masked)
	return r.Resolve(addr)
}

// ReleasePtr releases v's pointer payload, if any, from the registry.
func (r *Registry) ReleasePtr(v V) {
	p, ok := r.AsPtr(v)
	if !ok {
		return
	}
	r.Release(p)
}

// Reset clears every shard. Used by tests.
func (r *Registry) Reset() {
	for i := range r.shards {
		r.shards[i].mu.Lock()
		r.shards[i].data = make(map[uint64]entry)
		r.shards[i].mu.Unlock()
	}
	r.count.Store(0)
}

// Count returns the number of currently-registered addresses.
func (r *Registry) Count() uint64 {
	return r.count.Load()
}

// debugGeneration reports the current generation counter for addr, for
// tests asserting a released-then-reused address isn't confused with its
// prior occupant.
func (r *Registry) debugGeneration(addr uint64) (uint64, bool) {
	s := &r.shards[shardFor(addr)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[addr]
	return e.generation, ok
}

// traceRegistration implements the MOLT_TRACE_PTR_REGISTRY diagnostics:
// it logs once per decimal order of magnitude crossed, and attaches a
// goroutine stack the first time the live count crosses one million. The
// catrate limiter keeps a pathologically allocation-heavy workload from
// flooding the log with backtraces.
func (r *Registry) traceRegistration(count uint64) {
	if os.Getenv("MOLT_TRACE_PTR_REGISTRY") != "1" {
		return
	}
	r.traceOnce.Do(func() {
		r.traceLimit = catrate.NewLimiter(map[time.Duration]int{time.Second: 5})
	})
	if !isPowerOfTenBoundary(count) {
		return
	}
	if _, ok := r.traceLimit.Allow("ptr_registry_trace"); !ok {
		return
	}
	fields := map[string]any{"count": count}
	if count >= 1_000_000 && r.nextBacktr.CompareAndSwap(false, true) {
		buf := make([]byte, 1<<16)
		n := runtime.Stack(buf, false)
		fields["stack"] = string(buf[:n])
	}
	rtlog.Info("registry", fmt.Sprintf("pointer registry live count reached %d", count), fields)
}

func isPowerOfTenBoundary(n uint64) bool {
	if n < 100_000 {
		return false
	}
	for n%10 == 0 {
		n /= 10
	}
	return n == 1
}

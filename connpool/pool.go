// Package connpool implements the generic connection-pool contract used
// by external collaborators (database connectors, HTTP client pools)
// layered on top of the core runtime:
// acquire(timeout) -> pooled | none, acquire_with_cancel(timeout,
// cancel_check) -> result<pooled, {timeout, cancelled}>, and pooled
// handles that return their slot to the pool on release.
//
// Grounded on original_source/runtime/molt-db/src/pool.rs's Pool<T>: a
// mutex-guarded idle list plus a condition variable, with an atomic
// in-flight counter, rather than a channel-as-semaphore — the same
// tradeoff the reference event loop's own comments favor when FIFO/
// broadcast wakeup semantics matter more than lock-free throughput.
package connpool

import (
	"sync"
	"sync/atomic"
	"time"
)

// Factory constructs a new pooled value of T.
type Factory[T any] func() (T, error)

// Pool is a fixed-capacity pool of reusable values of T.
type Pool[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	idle    []T
	maxSize int
	factory Factory[T]

	inFlight atomic.Int64
}

// New constructs a Pool with the given maximum number of simultaneously
// in-flight (acquired-but-not-released) values.
func New[T any](maxSize int, factory Factory[T]) *Pool[T] {
	p := &Pool[T]{maxSize: maxSize, factory: factory}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Pooled is a handle to one acquired value, returned to the pool on
// Release or permanently dropped on Discard. Go has no destructors, so
// unlike the original's Drop-based Pooled<T>, callers must explicitly
// call one of Release/Discard — typically via `defer`.
type Pooled[T any] struct {
	pool  *Pool[T]
	value T
	done  bool
}

// Value returns the pooled value.
func (h *Pooled[T]) Value() T { return h.value }

// Release returns the value to the idle list and wakes one waiter. Safe
// to call multiple times; only the first call has an effect.
func (h *Pooled[T]) Release() {
	if h.done {
		return
	}
	h.done = true
	p := h.pool
	p.mu.Lock()
	p.idle = append(p.idle, h.value)
	p.mu.Unlock()
	p.inFlight.Add(-1)
	p.cond.Signal()
}

// Discard drops the value without returning it to the idle list (e.g.
// because it failed health checks), but still decrements in-flight and
// wakes one waiter so a fresh value can be created.
func (h *Pooled[T]) Discard() {
	if h.done {
		return
	}
	h.done = true
	p := h.pool
	p.inFlight.Add(-1)
	p.cond.Signal()
}

// ErrTimeout is returned by AcquireWithCancel when the deadline elapses
// before a slot becomes available.
type ErrTimeout struct{}

func (ErrTimeout) Error() string { return "connpool: acquire timed out" }

// ErrCancelled is returned by AcquireWithCancel when cancelCheck reports
// true before a slot becomes available.
type ErrCancelled struct{}

func (ErrCancelled) Error() string { return "connpool: acquire cancelled" }

// Acquire blocks until a value is available or timeout elapses, returning
// (nil, false) on timeout. A zero timeout means "try once, don't wait."
func (p *Pool[T]) Acquire(timeout time.Duration) (*Pooled[T], bool) {
	pooled, err := p.AcquireWithCancel(timeout, nil)
	if err != nil {
		return nil, false
	}
	return pooled, true
}

// AcquireWithCancel blocks until a value is available, cancelCheck
// reports true, or timeout elapses (whichever comes first), polling
// cancelCheck every 5ms the way the reference pool does, since a
// condition variable alone cannot wait on three distinct wake sources
// (slot freed, cancellation, deadline) without an auxiliary poll.
// cancelCheck may be nil to disable cancellation.
func (p *Pool[T]) AcquireWithCancel(timeout time.Duration, cancelCheck func() bool) (*Pooled[T], error) {
	deadline := time.Now().Add(timeout)
	const pollInterval = 5 * time.Millisecond

	for {
		p.mu.Lock()
		if len(p.idle) > 0 {
			v := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]
			p.mu.Unlock()
			p.inFlight.Add(1)
			return &Pooled[T]{pool: p, value: v}, nil
		}
		if int(p.inFlight.Load())+len(p.idle) < p.maxSize {
			p.mu.Unlock()
			v, err := p.factory()
			if err != nil {
				return nil, err
			}
			p.inFlight.Add(1)
			return &Pooled[T]{pool: p, value: v}, nil
		}
		p.mu.Unlock()

		if cancelCheck != nil && cancelCheck() {
			return nil, ErrCancelled{}
		}
		if timeout <= 0 || time.Now().After(deadline) {
			return nil, ErrTimeout{}
		}
		// Wait for Release/Discard to signal, or for the next poll tick.
		p.mu.Lock()
		tick := time.AfterFunc(pollInterval, func() {
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		})
		p.cond.Wait()
		p.mu.Unlock()
		tick.Stop()
	}
}

// InFlight returns the number of currently-acquired-but-not-released
// values.
func (p *Pool[T]) InFlight() int { return int(p.inFlight.Load()) }

// Idle returns the number of values currently sitting in the idle list.
func (p *Pool[T]) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

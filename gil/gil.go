// Package gil implements Molt's global interpreter lock: a process-wide
// mutex with a reentrant, per-goroutine depth counter, and a zero-sized
// Token threaded through every API that mutates runtime state so that a
// call site cannot forget to acquire the lock first.
//
// Goroutines, unlike OS threads, have no native thread-local storage, so
// reentrancy is tracked in a map keyed by goroutine id (see
// internal/goroutineid), the same technique the reference event loop uses
// to recognize its own driving goroutine (Loop.isLoopThread).
//
// New takes a variadic Option set (WithContentionLogging,
// WithSlowAcquireThreshold), the same functional-options shape as
// scheduler.SchedulerOption and runtimestate.Option.
package gil

import (
	"sync"
	"time"

	"github.com/adpena/molt-sub005/internal/goroutineid"
	"github.com/adpena/molt-sub005/rtlog"
)

// Token is a zero-sized witness that the GIL is held. APIs that mutate
// runtime state take a Token by value, and Guard.Token is how this package
// hands one out. The type carries no state, so it does not by itself stop
// a gil.Token{} literal elsewhere; runtimestate.Current additionally
// checks Held.
type Token struct {
	_ [0]func() // make Token incomparable and prevent accidental reuse tricks
}

// Lock is the process-wide interpreter lock. There is exactly one live
// Lock per runtime instance (see runtimestate), mirroring the spec's
// single process-wide state object.
type Lock struct {
	mu sync.Mutex

	depthMu sync.Mutex
	depth   map[uint64]int

	contentionLogging    bool
	slowAcquireThreshold time.Duration
}

// New constructs an unheld Lock.
func New(opts ...Option) *Lock {
	cfg := resolveLockOptions(opts)
	return &Lock{
		depth:                make(map[uint64]int),
		contentionLogging:    cfg.contentionLogging,
		slowAcquireThreshold: cfg.slowAcquireThreshold,
	}
}

// Guard represents one balanced Acquire; Release must be called exactly
// once per Guard.
type Guard struct {
	l  *Lock
	gr uint64
}

// Acquire increments the calling goroutine's reentrancy depth. If the
// depth was zero, this blocks on the process-wide mutex. Returns a Guard
// whose Release inverts the operation.
func (l *Lock) Acquire() Guard {
	gr := goroutineid.Get()

	l.depthMu.Lock()
	d := l.depth[gr]
	l.depthMu.Unlock()

	if d == 0 {
		if l.contentionLogging {
			start := time.Now()
			l.mu.Lock()
			if wait := time.Since(start); wait > 0 {
				l.logAcquireWait(wait)
			}
		} else {
			l.mu.Lock()
		}
	}

	l.depthMu.Lock()
	l.depth[gr] = d + 1
	l.depthMu.Unlock()

	return Guard{l: l, gr: gr}
}

// Release decrements the depth counter for the goroutine that produced g.
// When the depth reaches zero, the underlying mutex is unlocked.
func (g Guard) Release() {
	l := g.l
	l.depthMu.Lock()
	d := l.depth[g.gr]
	if d <= 1 {
		delete(l.depth, g.gr)
	} else {
		l.depth[g.gr] = d - 1
	}
	l.depthMu.Unlock()

	if d <= 1 {
		l.mu.Unlock()
	}
}

// Token materializes the phantom witness for the scope of a Guard. Callers
// typically do: guard := lock.Acquire(); defer guard.Release(); tok :=
// guard.Token().
func (g Guard) Token() Token { return Token{} }

// logAcquireWait reports a blocking Acquire's wait duration through rtlog,
// at Warn once it crosses slowAcquireThreshold and at Debug otherwise.
func (l *Lock) logAcquireWait(wait time.Duration) {
	fields := map[string]any{"waitMicros": wait.Microseconds()}
	if wait > l.slowAcquireThreshold {
		rtlog.Warn("gil", "acquire blocked past slow-acquire threshold", fields)
	} else {
		rtlog.Debug("gil", "acquire blocked on process-wide mutex", fields)
	}
}

// Held reports whether the calling goroutine currently holds the lock
// (depth > 0). Equivalent to the spec's gil_held().
func (l *Lock) Held() bool {
	gr := goroutineid.Get()
	l.depthMu.Lock()
	defer l.depthMu.Unlock()
	return l.depth[gr] > 0
}

// Depth returns the calling goroutine's current reentrancy depth.
func (l *Lock) Depth() int {
	gr := goroutineid.Get()
	l.depthMu.Lock()
	defer l.depthMu.Unlock()
	return l.depth[gr]
}

// Release is the inverse acquisition: it drops the calling goroutine's
// depth to zero regardless of its current value (releasing the underlying
// mutex exactly once, since acquisition only ever locks it once per
// goroutine), for bracketing a long-running native call that must not
// hold up other goroutines. It returns a Reacquire function that restores
// the prior depth; Reacquire must be called before the goroutine touches
// any GIL-protected state again.
//
// This mirrors the reference event loop's runtime.LockOSThread /
// UnlockOSThread bracketing of a scarce per-OS-thread resource around a
// blocking region (Loop.run), generalized from an OS thread to the GIL.
func (l *Lock) Release() (reacquire func()) {
	gr := goroutineid.Get()

	l.depthMu.Lock()
	prior := l.depth[gr]
	delete(l.depth, gr)
	l.depthMu.Unlock()

	if prior == 0 {
		return func() {}
	}

	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		l.depthMu.Lock()
		l.depth[gr] = prior
		l.depthMu.Unlock()
	}
}

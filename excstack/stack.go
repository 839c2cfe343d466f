// Package excstack implements Molt's per-goroutine exception stack: the
// handler-frame stack H, the active-exception stack A, the context
// fallback chain F, and the nesting depth counter d, plus the shadow
// save/restore protocol the scheduler uses to
// swap a task's saved exception state in and out at exactly the poll
// boundary.
//
// Go has no OS-level thread-local storage and goroutines are not threads,
// so state here is keyed by goroutine id (internal/goroutineid), exactly
// as gil keys its reentrancy counter — the two packages intentionally
// share that affinity model.
package excstack

import (
	"sync"

	"github.com/adpena/molt-sub005/internal/goroutineid"
	"github.com/adpena/molt-sub005/value"
)

// HandlerFrame is a compact record describing one active try-block.
type HandlerFrame struct {
	// ID identifies the frame for BeginHandler/EndHandler pairing.
	ID uint64
	// ContextBefore is the exception active (if any) when this frame was
	// entered, used to restore F on EndHandler.
	ContextBefore value.V
}

// Stack is one goroutine's exception state.
type Stack struct {
	H []HandlerFrame
	A []value.V
	F value.V // fallback context chain head; value.None if empty
	d int
}

var (
	stacksMu sync.Mutex
	stacks   = make(map[uint64]*Stack)
)

// Current returns the calling goroutine's Stack, creating it on first use.
func Current() *Stack {
	gr := goroutineid.Get()

	stacksMu.Lock()
	s, ok := stacks[gr]
	if !ok {
		s = &Stack{F: value.None}
		stacks[gr] = s
	}
	stacksMu.Unlock()
	return s
}

// forget drops the Stack of goroutine gr entirely. Forget calls it for the
// calling goroutine when a worker goroutine (timer, I/O poller, thread-pool worker) that only ever
// borrows a Stack transiently is about to exit, so the map doesn't grow
// without bound across the process lifetime.
func forget(gr uint64) {
	stacksMu.Lock()
	delete(stacks, gr)
	stacksMu.Unlock()
}

// Forget drops the calling goroutine's exception state. Safe to call from
// a goroutine that is about to terminate.
func Forget() { forget(goroutineid.Get()) }

// Raise pushes exc onto the active-exception stack and updates the
// fallback context chain so that a subsequent implicit raise (one with no
// explicit cause) chains to it.
func (s *Stack) Raise(exc value.V) {
	s.A = append(s.A, exc)
	s.F = exc
}

// BeginHandler pushes a new handler frame, recording the context in effect
// at entry so EndHandler can restore it.
func (s *Stack) BeginHandler(id uint64) {
	s.H = append(s.H, HandlerFrame{ID: id, ContextBefore: s.F})
	s.d = len(s.H)
}

// EndHandler pops the most recent handler frame (which must match id) and
// restores the fallback context chain to what it was at entry, and pops
// any exception the handler consumed off the active stack.
func (s *Stack) EndHandler(id uint64) bool {
	if len(s.H) == 0 {
		return false
	}
	top := s.H[len(s.H)-1]
	if top.ID != id {
		return false
	}
	s.H = s.H[:len(s.H)-1]
	s.F = top.ContextBefore
	if len(s.A) > 0 {
		s.A = s.A[:len(s.A)-1]
	}
	s.d = len(s.H)
	return true
}

// SetContext overrides the fallback chain explicitly (used when a raise
// carries an explicit `from` cause rather than chaining implicitly).
func (s *Stack) SetContext(ctx value.V) { s.F = ctx }

// AlignDepth re-synchronizes d with the current top of H; used after bulk
// mutation of H outside the normal Begin/EndHandler pairing (e.g. during
// shadow restore).
func (s *Stack) AlignDepth() { s.d = len(s.H) }

// Depth returns d.
func (s *Stack) Depth() int { return s.d }

// Pending reports whether an exception is currently active (A is
// non-empty), mirroring the ABI's "pending flag" contract.
func (s *Stack) Pending() bool { return len(s.A) > 0 }

// Top returns the most recently raised, still-active exception, or
// (value.None, false) if A is empty.
func (s *Stack) Top() (value.V, bool) {
	if len(s.A) == 0 {
		return value.None, false
	}
	return s.A[len(s.A)-1], true
}

// Shadow is a task's saved copy of H, A, F, and d, captured/restored
// across suspension. The zero Shadow represents a fresh task with no
// exception state.
type Shadow struct {
	H []HandlerFrame
	A []value.V
	F value.V
	d int
}

// Save captures s into a Shadow, taking ownership of independent copies of
// H and A (the caller's stack continues mutating its own live slices
// after this call).
func (s *Stack) Save() Shadow {
	sh := Shadow{F: s.F, d: s.d}
	if len(s.H) > 0 {
		sh.H = append([]HandlerFrame(nil), s.H...)
	}
	if len(s.A) > 0 {
		sh.A = append([]value.V(nil), s.A...)
	}
	return sh
}

// Restore overwrites s's live state with sh's captured state.
func (s *Stack) Restore(sh Shadow) {
	s.H = sh.H
	s.A = sh.A
	s.F = sh.F
	s.d = sh.d
}

// reset clears s to the empty state, used when installing a brand-new
// task's never-yet-saved shadow.
func (s *Stack) reset() {
	s.H = nil
	s.A = nil
	s.F = value.None
	s.d = 0
}

// SwapIn installs taskShadow onto the calling goroutine's Stack, having
// first captured and returned the caller's own prior state as a Shadow.
// This is the first half of the poll-boundary protocol:
// the scheduler calls SwapIn before invoking a task's poll
// function, then SwapOut after it returns, ensuring the caller's handler
// stack, active stack, and depth are byte-for-byte restored regardless of
// what the task's poll function did to its own shadow.
//
// Grounded on the original runtime's poll_future_with_task_stack, which
// takes the caller's EXCEPTION_STACK/ACTIVE_EXCEPTION_STACK/depth via a
// thread-local CURRENT_TASK cell, swaps in the task's saved shadow, and
// restores the caller's afterward.
func SwapIn(taskShadow Shadow) (caller Shadow) {
	s := Current()
	caller = s.Save()
	if taskShadow.H == nil && taskShadow.A == nil && taskShadow.F == 0 && taskShadow.d == 0 {
		s.reset()
	} else {
		s.Restore(taskShadow)
	}
	return caller
}

// SwapOut captures the calling goroutine's current state (the task's new
// shadow, to be stored back onto the task object) and restores caller,
// the Shadow returned by the matching SwapIn.
func SwapOut(caller Shadow) (taskShadow Shadow) {
	s := Current()
	taskShadow = s.Save()
	s.Restore(caller)
	return taskShadow
}

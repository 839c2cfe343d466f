// Package runtimestate implements Molt's single process-wide state object
// and its runtime_init/runtime_shutdown lifecycle.
//
// Grounded on original_source/runtime/molt-runtime/src/state/runtime_state.rs's
// RuntimeState: a single boxed struct behind an atomic pointer, constructed
// by molt_runtime_init and torn down by molt_runtime_shutdown, both
// idempotent and guarded by a process-wide lock distinct from the GIL
// itself (acquiring the GIL requires the state to already exist). This
// package reshapes that struct's field list — interned names, method
// cache, module table, scheduler, argv — onto the Go side's equivalents
// (gil.Lock, value.Registry, heap.Allocator, scheduler.Scheduler). State
// carries no special-value cache and no hash secret, and drops fields that belong to
// external collaborators out of scope for this module (the thread pool,
// process pool, and async-generator bookkeeping live with their owning
// packages, not here).
//
// Current(tok gil.Token) is the only accessor a mutating call site uses;
// it requires a Token and panics when a State exists but the calling
// goroutine does not hold its GIL — the same "Shared resources"
// rule excstack and scheduler already rely on. Background workers (the
// scheduler's sleep-queue timer, its I/O poller threads) never call
// Current; they only ever push onto the scheduler's ready queue or wake a
// waiter.
package runtimestate

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrGoexit settles a task when its goroutine exits via runtime.Goexit().
	ErrGoexit = errors.New("task: goroutine exited via runtime.Goexit")

	// ErrPanic is returned when a blocking task's function panics.
	ErrPanic = errors.New("task: goroutine panicked")
)

// PanicError wraps a panic value recovered from a [Scheduler.RunBlocking] goroutine.
type PanicError struct {
	// Value is the recovered panic value (may be any type, including error).
	Value any
}

// Error implements the error interface.
func (e PanicError) Error() string {
	return fmt.Sprintf("task: goroutine panicked: %v", e.Value)
}

// RunBlocking executes the given function in a new goroutine and returns a
// TaskHandle representing its outcome. It is the escape hatch for native
// intrinsics that must block a real OS thread (disk I/O, cgo, a blocking
// driver call) without stalling the scheduler thread.
//
// This is the context-aware version that accepts a context and passes it to
// the function. The function can use ctx.Done() to detect cancellation.
//
// It ensures:
//   - Goexit handling: even if runtime.Goexit() is called, the task is
//     raised rather than hanging indefinitely.
//   - Context propagation: the context is passed to the user function.
//   - Single-owner settlement: settlement goes through SubmitInternal so it
//     happens on the scheduler thread.
//   - Fallback: direct settlement if SubmitInternal fails (e.g., during
//     shutdown) so the task always settles.
//   - Shutdown tracking: uses blockingWg to track in-flight goroutines so
//     shutdown can wait for them.
//   - Atomic check: checks scheduler state before adding to blockingWg to
//     prevent a race with shutdown.
func (l *Scheduler) RunBlocking(ctx context.Context, fn func(ctx context.Context) (any, error)) TaskHandle {
	// Lock blockingMu to atomically check state and add to blockingWg.
	// This prevents a race with shutdown, which also holds blockingMu.
	l.blockingMu.Lock()
	currentState := l.state.Load()
	if currentState == StateTerminating || currentState == StateTerminated {
		l.blockingMu.Unlock()
		_, p := l.registry.NewTask()
		p.raise(ErrSchedulerTerminated)
		return p
	}

	_, p := l.registry.NewTask()

	l.blockingWg.Add(1)
	l.blockingMu.Unlock()

	go func() {
		defer l.blockingWg.Done()

		// Completion flag to distinguish normal return from Goexit.
		completed := false

		select {
		case <-ctx.Done():
			completed = true
			if err := l.SubmitInternal(Task{Runnable: func() {
				p.raise(ctx.Err())
			}}); err != nil {
				p.raise(ctx.Err()) // Fallback: direct settlement
			}
			return
		default:
		}

		defer func() {
			r := recover()
			if r != nil {
				panicErr := PanicError{Value: r}
				if err := l.SubmitInternal(Task{Runnable: func() {
					p.raise(panicErr)
				}}); err != nil {
					p.raise(panicErr) // Fallback: direct settlement
				}
			} else if !completed {
				// Function ended but not via normal return -> Goexit (or panic(nil)).
				if err := l.SubmitInternal(Task{Runnable: func() {
					p.raise(ErrGoexit)
				}}); err != nil {
					p.raise(ErrGoexit) // Fallback: direct settlement
				}
			}
		}()

		res, err := fn(ctx)

		// Settlement goes through SubmitInternal to ensure single-owner.
		if err != nil {
			if submitErr := l.SubmitInternal(Task{Runnable: func() {
				p.raise(err)
			}}); submitErr != nil {
				p.raise(err) // Fallback: direct settlement
			}
		} else {
			if submitErr := l.SubmitInternal(Task{Runnable: func() {
				p.complete(res)
			}}); submitErr != nil {
				// Scheduler terminated but operation succeeded.
				p.complete(res) // Fallback: direct settlement
			}
		}
		completed = true
	}()

	return p
}

// RunBlockingWithTimeout executes a function in a goroutine with a timeout.
//
// This is a convenience wrapper that combines context.WithTimeout with
// RunBlocking. The task is raised with context.DeadlineExceeded if the
// function does not complete within the specified timeout.
//
// Parameters:
//   - parent: Parent context. Can be context.Background() if no parent cancellation needed.
//   - timeout: Maximum duration to wait for the function to complete.
//   - fn: The function to execute. Receives a context that will be cancelled on timeout.
//
// Returns:
//   - A TaskHandle that completes with the function's result, or is raised with:
//   - context.DeadlineExceeded if the timeout is reached
//   - context.Canceled if the parent context is cancelled
//   - The function's error if it returns one
//   - PanicError if the function panics
//   - ErrGoexit if the function calls runtime.Goexit()
//
// Example:
//
//	handle := sched.RunBlockingWithTimeout(ctx, 5*time.Second, func(ctx context.Context) (any, error) {
//	    // This context will be cancelled after 5 seconds
//	    return fetchDataFromRemote(ctx)
//	})
//
// Thread Safety:
// The returned TaskHandle is safe for concurrent access. The function fn is
// executed in a separate goroutine.
func (l *Scheduler) RunBlockingWithTimeout(parent context.Context, timeout time.Duration, fn func(ctx context.Context) (any, error)) TaskHandle {
	ctx, cancel := context.WithTimeout(parent, timeout)

	wrappedFn := func(ctx context.Context) (any, error) {
		defer cancel()
		return fn(ctx)
	}

	return l.RunBlocking(ctx, wrappedFn)
}

// RunBlockingWithDeadline executes a function in a goroutine with a deadline.
//
// This is a convenience wrapper that combines context.WithDeadline with
// RunBlocking. The task is raised with context.DeadlineExceeded if the
// function does not complete before the specified deadline.
//
// Parameters:
//   - parent: Parent context. Can be context.Background() if no parent cancellation needed.
//   - deadline: Absolute time by which the function must complete.
//   - fn: The function to execute. Receives a context that will be cancelled at the deadline.
//
// Returns:
//   - A TaskHandle that completes with the function's result, or is raised with:
//   - context.DeadlineExceeded if the deadline is reached
//   - context.Canceled if the parent context is cancelled
//   - The function's error if it returns one
//   - PanicError if the function panics
//   - ErrGoexit if the function calls runtime.Goexit()
//
// Example:
//
//	deadline := time.Now().Add(10 * time.Second)
//	handle := sched.RunBlockingWithDeadline(ctx, deadline, func(ctx context.Context) (any, error) {
//	    // This context will be cancelled at the deadline
//	    return processLargeDataset(ctx)
//	})
//
// Thread Safety:
// The returned TaskHandle is safe for concurrent access. The function fn is
// executed in a separate goroutine.
func (l *Scheduler) RunBlockingWithDeadline(parent context.Context, deadline time.Time, fn func(ctx context.Context) (any, error)) TaskHandle {
	ctx, cancel := context.WithDeadline(parent, deadline)

	wrappedFn := func(ctx context.Context) (any, error) {
		defer cancel()
		return fn(ctx)
	}

	return l.RunBlocking(ctx, wrappedFn)
}

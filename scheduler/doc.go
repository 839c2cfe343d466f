// Package scheduler implements the runtime's cooperative task scheduler:
// a single-threaded tick loop with a timer heap, a chunked ready queue, a
// microtask ring, cross-platform I/O polling, and per-task cancellation
// tokens.
//
// # Architecture
//
// The scheduler is built around a [Scheduler] core that manages task
// scheduling, timer processing, and I/O readiness notification. Work is
// submitted as a [Task] — either a plain Runnable callback, or a poll-step
// address paired with task-local storage, dispatched through a
// [PollDispatch] to either a native Go function or a WebAssembly table
// index. A submitted task settles into a [TaskHandle], observed via
// [TaskHandle.State], [TaskHandle.Outcome], or [TaskHandle.ToChannel].
//
// # Platform Support
//
// I/O polling is implemented using platform-native mechanisms:
//   - macOS: kqueue
//   - Linux: epoll
//   - Windows: IOCP (I/O Completion Ports)
//
// File descriptor operations ([Scheduler.RegisterFD], [Scheduler.UnregisterFD],
// [Scheduler.ModifyFD]) provide cross-platform I/O readiness notification.
//
// # Thread Safety
//
// The scheduler is designed for concurrent access:
//   - [Scheduler.Submit] and [Scheduler.SubmitInternal] are safe to call from any goroutine
//   - [Scheduler.ScheduleMicrotask] is lock-free (MPSC ring buffer)
//   - Timer and FD registration methods are thread-safe
//   - Task settlement must occur on the scheduler goroutine (enforced automatically)
//
// # Execution Model
//
// The scheduler supports a dual-path execution model:
//   - Fast path (~50ns/task): channel-based scheduling for low-latency scenarios
//   - I/O path (~8-15us): poll-based scheduling when I/O FDs are registered
//
// Task priority ordering within each tick:
//  1. Timer callbacks (earliest deadline first)
//  2. Internal queue tasks ([Scheduler.SubmitInternal])
//  3. External queue tasks ([Scheduler.Submit])
//  4. Microtasks (drained after each macrotask when strict ordering is enabled)
//
// # Usage
//
//	sched, err := scheduler.New(
//	    scheduler.WithStrictMicrotaskOrdering(true),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sched.Close()
//
//	sched.Submit(scheduler.Task{Runnable: func() {
//	    sched.ScheduleTimer(100*time.Millisecond, func() {
//	        fmt.Println("Hello after 100ms")
//	        sched.Shutdown(context.Background())
//	    })
//	}})
//
//	if err := sched.Run(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//
// # Error Types
//
// The package provides the runtime's cross-cutting error types:
//   - [AggregateError]: for combinator-style failures over multiple results
//   - [CancelledError]: for cancellations delivered via [CancelToken]
//   - [TypeError], [RangeError]: for argument validation
//   - [TimeoutError]: for task timeouts
//   - [PanicError]: wraps recovered panics from [Scheduler.RunBlocking]
//
// All error types implement the standard [error] interface and an Unwrap
// method for use with [errors.Is] and [errors.As]. [AggregateError] and
// [CancelledError] also define Is() for type-based matching.
package scheduler

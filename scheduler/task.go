package scheduler

import (
	"sync"

	"github.com/adpena/molt-sub005/rtlog"
)

// TaskOutcome is the settled value of a task: a successful poll result or an
// error/exception reason. Dynamically typed like the rest of the runtime's
// boxed values, since a task may settle with a value.V, a Go error, or an
// *excstack.Exception depending on who observes it.
type TaskOutcome = any

// TaskState is the lifecycle state of a [TaskHandle]. A task starts in
// [TaskPending] and transitions
// exactly once, to one of [TaskCompleted], [TaskRaised], or [TaskCancelled].
type TaskState int

const (
	// TaskPending means the task has not yet settled; its poll function has
	// not returned a terminal PollResult.
	TaskPending TaskState = iota

	// TaskCompleted means the task's poll function returned a final value.
	TaskCompleted

	// TaskRaised means the task's poll function raised an exception onto
	// the exception stack instead of returning a value.
	TaskRaised

	// TaskCancelled means the task's CancelToken fired before it settled.
	TaskCancelled
)

// TaskHandle is a read-only view of a scheduled unit of cooperative work. Unlike
// the reference event loop's thenable Promise, a TaskHandle does not chain
// handlers — callers observe completion via ToChannel or by polling State,
// matching this runtime's poll-based async protocol
// (no microtask-driven .then graph exists in this runtime).
type TaskHandle interface {
	// State returns the current TaskState.
	State() TaskState

	// Outcome returns the settled value or reason, or nil if still pending.
	Outcome() TaskOutcome

	// ToChannel returns a buffered, single-send channel that receives the
	// outcome once the task settles.
	ToChannel() <-chan TaskOutcome
}

// task is the concrete TaskHandle implementation, grounded on the reference
// event loop's unchained promise type but renamed to this runtime's task
// vocabulary (no Then/Catch/Finally — nothing here awaits a handler graph).
type task struct {
	outcome     TaskOutcome
	subscribers []chan TaskOutcome
	state       TaskState
	mu          sync.Mutex
}

var _ TaskHandle = (*task)(nil)

func (t *task) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *task) Outcome() TaskOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcome
}

func (t *task) ToChannel() <-chan TaskOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != TaskPending {
		ch := make(chan TaskOutcome, 1)
		ch <- t.outcome
		close(ch)
		return ch
	}

	ch := make(chan TaskOutcome, 1)
	t.subscribers = append(t.subscribers, ch)
	return ch
}

// complete settles the task as TaskCompleted with val, a no-op if already
// settled.
func (t *task) complete(val TaskOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TaskPending {
		return
	}
	t.state = TaskCompleted
	t.outcome = val
	t.fanOut()
}

// raise settles the task as TaskRaised with reason, a no-op if already
// settled.
func (t *task) raise(reason TaskOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TaskPending {
		return
	}
	t.state = TaskRaised
	t.outcome = reason
	t.fanOut()
}

// cancel settles the task as TaskCancelled, a no-op if already settled.
func (t *task) cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TaskPending {
		return
	}
	t.state = TaskCancelled
	t.fanOut()
}

// fanOut notifies all subscribers of the outcome and closes their channels.
// Must be called with t.mu held.
func (t *task) fanOut() {
	for _, ch := range t.subscribers {
		select {
		case ch <- t.outcome:
		default:
			rtlog.Warn("scheduler", "dropped task outcome, channel full", nil)
		}
		close(ch)
	}
	t.subscribers = nil
}

package scheduler

import "sync"

// WaitAll returns a TaskHandle that settles once every handle in handles has
// settled. If all of them complete, the returned task completes with a
// []TaskOutcome in the same order as handles. If any of them raise or are
// cancelled, the returned task raises an *AggregateError collecting every
// non-completion outcome, in the order those tasks settled.
//
// An empty handles slice completes immediately with an empty slice.
func (l *Scheduler) WaitAll(handles []TaskHandle) TaskHandle {
	_, result := l.registry.NewTask()

	if len(handles) == 0 {
		result.complete([]TaskOutcome{})
		return result
	}

	var (
		mu        sync.Mutex
		remaining = len(handles)
		values    = make([]TaskOutcome, len(handles))
		failures  []error
	)

	settle := func(i int, state TaskState, outcome TaskOutcome) {
		mu.Lock()
		switch state {
		case TaskCompleted:
			values[i] = outcome
		case TaskRaised:
			if err, ok := outcome.(error); ok {
				failures = append(failures, err)
			} else {
				failures = append(failures, &TypeError{Message: "task raised a non-error value"})
			}
		case TaskCancelled:
			failures = append(failures, &CancelledError{})
		}
		remaining--
		done := remaining == 0
		mu.Unlock()

		if !done {
			return
		}
		if len(failures) > 0 {
			result.raise(&AggregateError{
				Message: "one or more tasks failed",
				Errors:  failures,
			})
			return
		}
		result.complete(values)
	}

	for i, h := range handles {
		i, h := i, h
		go func() {
			outcome := <-h.ToChannel()
			settle(i, h.State(), outcome)
		}()
	}

	return result
}

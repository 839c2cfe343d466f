// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux || darwin

package scheduler

import (
	"sync"
	"time"
)

// CancelState is the atomic three-state lifecycle of a [CancelToken]: a
// request to cancel and its delivery to the task are distinct moments.
type CancelState int

const (
	// CancelNone means no cancellation has been requested.
	CancelNone CancelState = iota

	// CancelRequested means Canceller.Cancel has been called, but the owning
	// task has not yet inspected its token at a poll entry.
	CancelRequested

	// CancelFired means the task observed the request at a poll entry and a
	// CancelledError was delivered onto its exception stack.
	CancelFired
)

// CancelToken lets a task observe a cancellation request made by its
// Canceller. A request transitions the token from [CancelNone] to
// [CancelRequested] immediately; it only becomes [CancelFired] once the
// owning task inspects the token at its next poll entry, matching this
// runtime's poll-based delivery model: no implicit suspension, no asynchronous
// delivery mid-poll.
//
// Thread Safety:
// CancelToken is safe for concurrent access from multiple goroutines.
// All state mutations are protected by an internal mutex.
//
// Usage:
//
//	controller := scheduler.NewCanceller()
//	token := controller.Signal()
//
//	// Check if a cancellation is outstanding
//	if token.Cancelled() {
//	    // Handle requested-or-fired state
//	}
//
//	// Register a handler, invoked when the request is made
//	token.OnCancel(func(reason any) {
//	    fmt.Println("cancel requested:", reason)
//	})
//
//	// Request cancellation
//	controller.Cancel("shutting down")
type CancelToken struct { //nolint:govet // betteralign:ignore
	handlers []func(reason any)
	reason   any
	mu       sync.RWMutex
	state    CancelState
}

// newCancelToken creates a new CancelToken.
// This is an internal function; tokens are created via Canceller.
func newCancelToken() *CancelToken {
	return &CancelToken{
		handlers: make([]func(reason any), 0),
	}
}

// Cancelled returns true if a cancellation has been requested, whether or
// not it has yet been delivered to the task ([CancelRequested] or
// [CancelFired]).
//
// Thread Safety: Safe to call concurrently.
func (s *CancelToken) Cancelled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state != CancelNone
}

// State returns the token's current [CancelState].
//
// Thread Safety: Safe to call concurrently.
func (s *CancelToken) State() CancelState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Reason returns the cancel reason, or nil if no cancellation has been
// requested or no reason was provided.
//
// Thread Safety: Safe to call concurrently.
func (s *CancelToken) Reason() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reason
}

// OnCancel registers a callback function to be invoked when cancellation is
// requested.
//
// If a cancellation has already been requested at the time of registration,
// the callback is invoked immediately with the current cancel reason.
//
// Multiple callbacks can be registered and will be called in registration
// order.
//
// Thread Safety: Safe to call concurrently.
func (s *CancelToken) OnCancel(handler func(reason any)) {
	if handler == nil {
		return
	}

	s.mu.Lock()
	if s.state != CancelNone {
		reason := s.reason
		s.mu.Unlock()
		handler(reason)
		return
	}

	s.handlers = append(s.handlers, handler)
	s.mu.Unlock()
}

// AddEventListener is an alias for OnCancel.
//
// The eventType parameter is accepted for call-site symmetry with OnCancel
// but is ignored; only cancellation notifications are supported.
//
// Thread Safety: Safe to call concurrently.
func (s *CancelToken) AddEventListener(eventType string, handler func(reason any)) {
	s.OnCancel(handler)
}

// RemoveEventListener is provided for API symmetry but does not remove
// handlers. Go function values cannot be reliably compared. Use a derived
// CancelToken or context-based cancellation instead.
//
// Thread Safety: Safe to call concurrently (no-op).
func (s *CancelToken) RemoveEventListener(eventType string, handler func(reason any)) {
	// Not implemented - see doc comment.
}

// ThrowIfCancelled checks the token at a poll entry: if a cancellation is
// outstanding, it marks the token [CancelFired] and returns a
// *CancelledError carrying the request's reason. This is the poll-entry
// check every poll function is expected to make — a task calls it at the top of its poll function,
// and the returned error is pushed onto the task's active exception stack by
// the caller. Returns nil if no cancellation has been requested.
//
// Thread Safety: Safe to call concurrently.
func (s *CancelToken) ThrowIfCancelled() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == CancelNone {
		return nil
	}
	s.state = CancelFired
	return &CancelledError{Reason: s.reason}
}

// cancel is called by Canceller to request cancellation of the token.
// This is an internal method.
func (s *CancelToken) cancel(reason any) {
	s.mu.Lock()

	if s.state != CancelNone {
		s.mu.Unlock()
		return
	}

	s.state = CancelRequested
	s.reason = reason

	handlers := make([]func(reason any), len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	for _, handler := range handlers {
		handler(reason)
	}
}

// Canceller represents a controller object that allows requesting
// cancellation of one or more cooperative tasks through its associated
// CancelToken.
//
// Thread Safety:
// Canceller is safe for concurrent access from multiple goroutines.
// The Cancel() method can be called from any goroutine.
//
// Usage:
//
//	controller := scheduler.NewCanceller()
//	token := controller.Signal()
//
//	go func() {
//	    // Check periodically
//	    if token.Cancelled() {
//	        return // cancellation requested
//	    }
//	    // Continue work...
//	}()
//
//	// Later, request cancellation
//	controller.Cancel("operation timed out")
type Canceller struct {
	signal *CancelToken
}

// NewCanceller creates a new Canceller with a fresh CancelToken.
//
// The returned controller can be used to cancel operations that accept its
// associated Signal().
func NewCanceller() *Canceller {
	return &Canceller{
		signal: newCancelToken(),
	}
}

// Signal returns the CancelToken associated with this controller.
//
// The returned token can be passed to cooperative operations to allow them
// to observe cancellation requested via Cancel() on the controller.
//
// Thread Safety: Safe to call concurrently. Always returns the same token.
func (c *Canceller) Signal() *CancelToken {
	return c.signal
}

// Cancel requests cancellation of the controller's token with the given
// reason.
//
// If reason is nil, a default CancelledError is used as the reason.
//
// Once requested, the token's Cancelled() method returns true, its Reason()
// method returns the cancel reason, and all registered OnCancel handlers
// are invoked. The token does not transition to CancelFired until the owning
// task checks it via ThrowIfCancelled at a poll entry.
//
// Calling Cancel() multiple times has no additional effect; the token
// remains in its requested (or fired) state with the original reason.
//
// Thread Safety: Safe to call concurrently from any goroutine.
func (c *Canceller) Cancel(reason any) {
	if reason == nil {
		reason = &CancelledError{Reason: "cancelled"}
	}
	c.signal.cancel(reason)
}

// CancelledError represents an error delivered to a task when its
// CancelToken's cancellation request is observed at a poll entry.
type CancelledError struct {
	// Reason contains the cancel reason provided to Canceller.Cancel().
	Reason any
}

// Error implements the error interface.
func (e *CancelledError) Error() string {
	if e.Reason == nil {
		return "CancelledError: the operation was cancelled"
	}
	if s, ok := e.Reason.(string); ok {
		return "CancelledError: " + s
	}
	if err, ok := e.Reason.(error); ok {
		return "CancelledError: " + err.Error()
	}
	return "CancelledError: the operation was cancelled"
}

// Is implements errors.Is support for CancelledError.
func (e *CancelledError) Is(target error) bool {
	_, ok := target.(*CancelledError)
	return ok
}

// Unwrap returns the underlying error if Reason is an error type, enabling
// use with [errors.Is] and [errors.As] through the cause chain.
//
// If Reason is not an error, returns nil.
func (e *CancelledError) Unwrap() error {
	if err, ok := e.Reason.(error); ok {
		return err
	}
	return nil
}

// CancelAfter creates a Canceller that will automatically request
// cancellation after the specified duration.
//
// Parameters:
//   - sched: The scheduler to schedule the timeout on
//   - delayMs: Timeout duration in milliseconds
//
// Returns:
//   - The Canceller (for manual early-cancel if needed)
//   - Error if scheduling the timer fails
//
// Example:
//
//	controller, err := scheduler.CancelAfter(sched, 5000) // 5 second timeout
//	if err != nil {
//	    return err
//	}
//	token := controller.Signal()
//	// Pass token to a cooperative task
func CancelAfter(sched *Scheduler, delayMs int) (*Canceller, error) {
	controller := NewCanceller()

	_, err := sched.ScheduleTimer(time.Duration(delayMs)*time.Millisecond, func() {
		controller.Cancel(&CancelledError{Reason: "TimeoutError: the operation timed out"})
	})
	if err != nil {
		return nil, err
	}

	return controller, nil
}

// CancelOnAny creates a composite CancelToken that requests cancellation
// when ANY of the input tokens do.
//
// The returned token's reason will be the reason from the first token to
// request cancellation.
//
// If any input token has already requested cancellation, the returned token
// will be immediately requested with that token's reason.
//
// Parameters:
//   - signals: A slice of CancelToken pointers to monitor
//
// Returns:
//   - A new CancelToken that cancels when any input token cancels
//   - Returns an already-requested token if any input is already requested
//   - Returns a never-cancelled token if the input slice is empty
//
// Thread Safety:
// CancelOnAny is safe to call from any goroutine. The returned token is safe
// for concurrent access.
//
// Example:
//
//	controller1 := scheduler.NewCanceller()
//	controller2 := scheduler.NewCanceller()
//
//	combined := scheduler.CancelOnAny([]*scheduler.CancelToken{
//	    controller1.Signal(),
//	    controller2.Signal(),
//	})
//
//	// combined.Cancelled() becomes true when EITHER controller cancels
//	controller1.Cancel("reason 1") // combined now requested with "reason 1"
func CancelOnAny(signals []*CancelToken) *CancelToken {
	composite := newCancelToken()

	if len(signals) == 0 {
		return composite
	}

	var cancelOnce sync.Once

	for _, sig := range signals {
		if sig == nil {
			continue
		}
		if sig.Cancelled() {
			composite.cancel(sig.Reason())
			return composite
		}
	}

	for _, sig := range signals {
		if sig == nil {
			continue
		}

		s := sig
		s.OnCancel(func(reason any) {
			cancelOnce.Do(func() {
				composite.cancel(reason)
			})
		})
	}

	return composite
}

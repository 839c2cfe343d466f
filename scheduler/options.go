// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package scheduler

// schedulerOptions holds configuration options for Scheduler creation.
type schedulerOptions struct {
	strictMicrotaskOrdering bool
	metricsEnabled          bool
}

// --- Scheduler Options ---

// SchedulerOption configures a Scheduler instance.
type SchedulerOption interface {
	apply(*schedulerOptions) error
}

// schedulerOptionFunc implements SchedulerOption.
type schedulerOptionFunc struct {
	fn func(*schedulerOptions) error
}

func (o *schedulerOptionFunc) apply(opts *schedulerOptions) error {
	return o.fn(opts)
}

// WithStrictMicrotaskOrdering sets whether microtasks should be drained
// after each task execution for strict ordering.
// When enabled, microtasks are guaranteed to run after every task.
// When disabled (default), microtasks are drained in batches for better performance.
func WithStrictMicrotaskOrdering(enabled bool) SchedulerOption {
	return &schedulerOptionFunc{func(opts *schedulerOptions) error {
		opts.strictMicrotaskOrdering = enabled
		return nil
	}}
}

// WithMetrics enables runtime metrics collection on the Scheduler.
// When enabled, metrics can be accessed via Scheduler.Metrics().
// This adds minimal overhead (recording latency after each task, updating
// queue depths once per tick). For zero-allocation hot paths, disable
// metrics in production.
func WithMetrics(enabled bool) SchedulerOption {
	return &schedulerOptionFunc{func(opts *schedulerOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// resolveSchedulerOptions applies SchedulerOption instances to schedulerOptions.
func resolveSchedulerOptions(opts []SchedulerOption) (*schedulerOptions, error) {
	cfg := &schedulerOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

package gil

import "time"

// lockOptions holds configuration resolved before New constructs a Lock.
type lockOptions struct {
	contentionLogging    bool
	slowAcquireThreshold time.Duration
}

// Option configures a Lock constructed by New.
type Option interface {
	apply(*lockOptions)
}

type optionFunc struct {
	fn func(*lockOptions)
}

func (o *optionFunc) apply(opts *lockOptions) { o.fn(opts) }

// WithContentionLogging enables logging of blocking Acquire calls through
// rtlog: every Acquire that actually has to wait on the process-wide
// mutex (depth was zero) logs its wait duration, at Warn severity once it
// crosses the slow-acquire threshold (see WithSlowAcquireThreshold) and at
// Debug otherwise. Mirrors the diagnostic value.Registry already provides
// for pointer-registry contention (MOLT_TRACE_PTR_REGISTRY), applied to
// the other shared, potentially-contended resource in this module.
func WithContentionLogging(enabled bool) Option {
	return &optionFunc{func(o *lockOptions) {
		o.contentionLogging = enabled
	}}
}

// WithSlowAcquireThreshold sets the wait duration above which a blocking
// Acquire (with WithContentionLogging enabled) is logged at Warn instead
// of Debug. Defaults to 10ms.
func WithSlowAcquireThreshold(d time.Duration) Option {
	return &optionFunc{func(o *lockOptions) {
		o.slowAcquireThreshold = d
	}}
}

func resolveLockOptions(opts []Option) *lockOptions {
	cfg := &lockOptions{slowAcquireThreshold: 10 * time.Millisecond}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.apply(cfg)
	}
	return cfg
}

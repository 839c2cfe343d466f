package runtimestate

import (
	"github.com/adpena/molt-sub005/gil"
	"github.com/adpena/molt-sub005/scheduler"
)

// stateOptions holds configuration resolved before Init constructs the
// process-wide State.
type stateOptions struct {
	schedulerOptions []scheduler.SchedulerOption
	gilOptions       []gil.Option
	argv             []string
}

// Option configures the State Init constructs.
type Option interface {
	apply(*stateOptions)
}

type optionFunc struct {
	fn func(*stateOptions)
}

func (o *optionFunc) apply(opts *stateOptions) { o.fn(opts) }

// WithSchedulerOptions forwards opts to scheduler.New when Init
// constructs the process-wide Scheduler.
func WithSchedulerOptions(opts ...scheduler.SchedulerOption) Option {
	return &optionFunc{func(o *stateOptions) {
		o.schedulerOptions = append(o.schedulerOptions, opts...)
	}}
}

// WithGILOptions forwards opts to gil.New when Init constructs the
// process-wide Lock.
func WithGILOptions(opts ...gil.Option) Option {
	return &optionFunc{func(o *stateOptions) {
		o.gilOptions = append(o.gilOptions, opts...)
	}}
}

// WithArgv records the process argument vector on the State, mirroring
// the original runtime's argv field (populated from the embedding's own
// command-line parsing, not os.Args, since a Go embedder may not be a
// standalone CLI).
func WithArgv(argv []string) Option {
	return &optionFunc{func(o *stateOptions) {
		o.argv = append([]string(nil), argv...)
	}}
}

func resolveStateOptions(opts []Option) *stateOptions {
	cfg := &stateOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.apply(cfg)
	}
	return cfg
}

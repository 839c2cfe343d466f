package runtimestate

import (
	"os"
	"sync"
	"time"

	"github.com/adpena/molt-sub005/gil"
	"github.com/adpena/molt-sub005/heap"
	"github.com/adpena/molt-sub005/scheduler"
	"github.com/adpena/molt-sub005/value"
)

// State is the single process-wide runtime instance: the GIL, the pointer
// registry and allocator it protects, the interned-name table, method
// cache, module table, and a lazily-started Scheduler. Grounded on
// original_source/.../state/runtime_state.rs's RuntimeState, reshaped onto
// this module's Go types; fields belonging to external collaborators
// (thread pool, process pool, async-generator hook tables) are left to
// those collaborators' own packages rather than duplicated here.
type State struct {
	GIL      *gil.Lock
	Registry *value.Registry
	Heap     *heap.Allocator
	Interned *InternedNames
	Methods  *MethodCache
	Modules  *ModuleTable

	// Builtins is the root builtins dict value.V that intrinsics.Install
	// populates; left value.None until a caller allocates and installs it
	// (this package does not itself know the intrinsic table — that is
	// assembled by native-builtin packages calling intrinsics.Register at
	// init time).
	Builtins value.V

	// ProfileEnabled mirrors the original runtime's profile_enabled
	// OnceLock, set once from MOLT_PROFILE at Init and read thereafter
	// without synchronization (Init happens-before every other access).
	ProfileEnabled bool

	// Argv is the process argument vector, set via WithArgv.
	Argv []string

	// StartTime records when Init constructed this State, for uptime
	// reporting.
	StartTime time.Time

	schedOnce sync.Once
	sched     *scheduler.Scheduler
	schedErr  error
	schedOpts []scheduler.SchedulerOption
}

var (
	instanceMu sync.Mutex
	instance   *State
)

// Init constructs the process-wide State if it does not already exist,
// returning the (possibly pre-existing) instance. Idempotent, mirroring
// molt_runtime_init's "if ptr is non-null, return 1" fast path: a second
// Init call is a no-op that returns the first instance, not an error.
func Init(opts ...Option) *State {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance != nil {
		return instance
	}

	cfg := resolveStateOptions(opts)
	reg := value.NewRegistry()

	s := &State{
		GIL:            gil.New(cfg.gilOptions...),
		Registry:       reg,
		Heap:           heap.NewAllocator(reg),
		Interned:       NewInternedNames(),
		Methods:        NewMethodCache(),
		Modules:        NewModuleTable(),
		Builtins:       value.None,
		ProfileEnabled: profileEnabled(os.Getenv("MOLT_PROFILE")),
		Argv:           cfg.argv,
		StartTime:      startTime(),
		schedOpts:      cfg.schedulerOptions,
	}
	instance = s
	return s
}

// profileEnabled reports whether a MOLT_PROFILE value turns profiling on:
// any non-empty value other than "0".
func profileEnabled(v string) bool { return v != "" && v != "0" }

// Shutdown tears down the process-wide State, returning true if a State
// existed to tear down. Idempotent, mirroring molt_runtime_shutdown's
// "if ptr is null, return 0" fast path. After Shutdown, a subsequent Init
// constructs an entirely fresh State (no field carries over), matching the
// original's free-then-reallocate behavior.
func Shutdown() bool {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance == nil {
		return false
	}
	instance.Registry.Reset()
	instance = nil
	return true
}

// Current returns the process-wide State. tok proves the caller holds the
// GIL, matching the original's runtime_state(_py: &PyToken) signature;
// mutating code paths have no other way to reach shared interpreter state.
// Current does not itself call Init — a caller that has acquired the GIL
// without the state having been initialized first is a programming error
// in the embedding, not a condition this accessor papers over. If a State
// exists and the calling goroutine does not hold its GIL, Current panics.
func Current(_ gil.Token) *State {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance != nil && !instance.GIL.Held() {
		panic("runtimestate: Current called without holding the GIL")
	}
	return instance
}

// Scheduler returns the process-wide Scheduler, constructing it on first
// call with the SchedulerOptions supplied to Init (mirroring the
// original's scheduler_started/scheduler OnceLock pair — background
// workers that only ever push onto the scheduler's queues, never call
// Current, reach it through this accessor instead).
func (s *State) Scheduler() (*scheduler.Scheduler, error) {
	s.schedOnce.Do(func() {
		s.sched, s.schedErr = scheduler.New(s.schedOpts...)
	})
	return s.sched, s.schedErr
}

func startTime() time.Time {
	return time.Now()
}

package runtimestate

import (
	"testing"

	"github.com/adpena/molt-sub005/gil"
	"github.com/adpena/molt-sub005/heap"
	"github.com/adpena/molt-sub005/scheduler"
	"github.com/adpena/molt-sub005/value"
	"github.com/stretchr/testify/require"
)

func resetGlobalState() {
	instanceMu.Lock()
	instance = nil
	instanceMu.Unlock()
}

func TestInitIsIdempotent(t *testing.T) {
	resetGlobalState()
	defer resetGlobalState()

	s1 := Init()
	s2 := Init()
	require.Same(t, s1, s2, "a second Init must return the first instance, not construct a new one")
}

func TestShutdownThenInitConstructsFreshState(t *testing.T) {
	resetGlobalState()
	defer resetGlobalState()

	s1 := Init()
	s1.Interned.Intern("foo")

	require.True(t, Shutdown())
	require.False(t, Shutdown(), "a second Shutdown with nothing to tear down returns false")

	s2 := Init()
	require.NotSame(t, s1, s2)
	require.Zero(t, s2.Interned.Count(), "a fresh State carries no interned names from the torn-down one")
}

func TestCurrentRequiresToken(t *testing.T) {
	resetGlobalState()
	defer resetGlobalState()

	s := Init()
	guard := s.GIL.Acquire()
	defer guard.Release()

	got := Current(guard.Token())
	require.Same(t, s, got)
}

func TestCurrentWithoutInitReturnsNil(t *testing.T) {
	resetGlobalState()
	defer resetGlobalState()

	require.Nil(t, Current(gil.Token{}))
}

func TestProfileEnabledReadsEnv(t *testing.T) {
	resetGlobalState()
	defer resetGlobalState()

	t.Setenv("MOLT_PROFILE", "1")
	s := Init()
	require.True(t, s.ProfileEnabled)
}

func TestSchedulerIsLazyAndCached(t *testing.T) {
	resetGlobalState()
	defer resetGlobalState()

	s := Init(WithSchedulerOptions(scheduler.WithMetrics(true)))

	sched1, err := s.Scheduler()
	require.NoError(t, err)
	require.NotNil(t, sched1)
	require.True(t, sched1.MetricsEnabled())

	sched2, err := s.Scheduler()
	require.NoError(t, err)
	require.Same(t, sched1, sched2, "Scheduler must construct the scheduler exactly once")
}

func TestWithArgvCopiesSlice(t *testing.T) {
	resetGlobalState()
	defer resetGlobalState()

	argv := []string{"molt", "--flag"}
	s := Init(WithArgv(argv))
	argv[0] = "mutated"

	require.Equal(t, "molt", s.Argv[0], "Init must not alias the caller's argv slice")
}

func TestInternedNamesAssignsStableIDs(t *testing.T) {
	names := NewInternedNames()

	id1 := names.Intern("foo")
	id2 := names.Intern("bar")
	id3 := names.Intern("foo")

	require.Equal(t, id1, id3, "re-interning the same name returns the same id")
	require.NotEqual(t, id1, id2)

	got, ok := names.Lookup(id1)
	require.True(t, ok)
	require.Equal(t, "foo", got)

	_, ok = names.Lookup(0)
	require.False(t, ok, "id 0 is never assigned")

	require.Equal(t, 2, names.Count())
}

func TestMethodCacheGetSetInvalidate(t *testing.T) {
	cache := NewMethodCache()
	names := NewInternedNames()
	nameID := names.Intern("__init__")

	_, ok := cache.Get(heap.TypeDataclass, nameID)
	require.False(t, ok)

	cache.Set(heap.TypeDataclass, nameID, value.FromInt(42))
	v, ok := cache.Get(heap.TypeDataclass, nameID)
	require.True(t, ok)
	got, _ := v.AsInt()
	require.EqualValues(t, 42, got)

	cache.InvalidateType(heap.TypeDataclass)
	_, ok = cache.Get(heap.TypeDataclass, nameID)
	require.False(t, ok, "InvalidateType must drop every entry for that type")
}

func TestMethodCacheInvalidateAll(t *testing.T) {
	cache := NewMethodCache()
	cache.Set(heap.TypeDict, 1, value.FromInt(1))
	cache.Set(heap.TypeList, 2, value.FromInt(2))

	cache.InvalidateAll()

	_, ok := cache.Get(heap.TypeDict, 1)
	require.False(t, ok)
	_, ok = cache.Get(heap.TypeList, 2)
	require.False(t, ok)
}

func TestModuleTableSetGetDelete(t *testing.T) {
	table := NewModuleTable()

	_, ok := table.Get("os")
	require.False(t, ok)

	table.Set("os", value.FromInt(7))
	v, ok := table.Get("os")
	require.True(t, ok)
	got, _ := v.AsInt()
	require.EqualValues(t, 7, got)

	require.ElementsMatch(t, []string{"os"}, table.Names())

	table.Delete("os")
	_, ok = table.Get("os")
	require.False(t, ok)
}

package connpool

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("connpool: factory boom")

func TestPoolReuseAndExhaustion(t *testing.T) {
	pool := New(2, func() (int, error) { return 7, nil })

	p1, ok := pool.Acquire(0)
	require.True(t, ok)
	require.Equal(t, 7, p1.Value())

	p2, ok := pool.Acquire(0)
	require.True(t, ok)
	require.Equal(t, 7, p2.Value())

	require.Equal(t, 2, pool.InFlight())
	require.Equal(t, 0, pool.Idle())

	p1.Release()
	p2.Release()

	require.Equal(t, 0, pool.InFlight())
	require.Equal(t, 2, pool.Idle())

	exhausted := New(1, func() (int, error) { return 7, nil })
	held, ok := exhausted.Acquire(0)
	require.True(t, ok)
	defer held.Release()

	_, ok = exhausted.Acquire(10 * time.Millisecond)
	require.False(t, ok, "acquiring from an exhausted pool must time out and report absent, not block forever")
}

func TestAcquireWithCancelReturnsCancelledWhenAllSlotsInUse(t *testing.T) {
	pool := New(1, func() (int, error) { return 1, nil })

	held, ok := pool.Acquire(0)
	require.True(t, ok)
	defer held.Release()

	var cancelled atomic.Bool
	cancelled.Store(true)

	_, err := pool.AcquireWithCancel(time.Second, func() bool { return cancelled.Load() })
	require.ErrorIs(t, err, ErrCancelled{})
}

func TestDiscardFreesASlotWithoutReturningToIdle(t *testing.T) {
	pool := New(1, func() (int, error) { return 3, nil })

	held, ok := pool.Acquire(0)
	require.True(t, ok)
	held.Discard()

	require.Equal(t, 0, pool.InFlight())
	require.Equal(t, 0, pool.Idle(), "Discard must not return the value to the idle list")

	next, ok := pool.Acquire(0)
	require.True(t, ok)
	require.Equal(t, 3, next.Value())
}

func TestReleaseIsIdempotent(t *testing.T) {
	pool := New(1, func() (int, error) { return 1, nil })

	held, ok := pool.Acquire(0)
	require.True(t, ok)

	held.Release()
	held.Release()

	require.Equal(t, 0, pool.InFlight())
	require.Equal(t, 1, pool.Idle(), "a second Release must be a no-op, not double-return the value")
}

func TestFactoryErrorPropagates(t *testing.T) {
	boom := require.New(t)
	pool := New(1, func() (int, error) { return 0, errBoom })

	_, err := pool.AcquireWithCancel(0, nil)
	boom.ErrorIs(err, errBoom)
}

package gil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReentrantAcquireTracksDepth(t *testing.T) {
	l := New()

	g1 := l.Acquire()
	require.Equal(t, 1, l.Depth())
	require.True(t, l.Held())

	g2 := l.Acquire()
	require.Equal(t, 2, l.Depth(), "a second Acquire from the same goroutine must increment depth, not block")

	g2.Release()
	require.Equal(t, 1, l.Depth())
	require.True(t, l.Held(), "the lock must still be held after releasing only one of two nested Acquires")

	g1.Release()
	require.Equal(t, 0, l.Depth())
	require.False(t, l.Held())
}

func TestAcquireBlocksAcrossGoroutines(t *testing.T) {
	l := New()
	g := l.Acquire()

	acquired := make(chan struct{})
	go func() {
		other := l.Acquire()
		close(acquired)
		other.Release()
	}()

	select {
	case <-acquired:
		t.Fatal("a second goroutine's Acquire must block while the first holds the lock")
	case <-time.After(20 * time.Millisecond):
	}

	g.Release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("Acquire must unblock once the holder releases")
	}
}

func TestTokenOnlyObtainableThroughGuard(t *testing.T) {
	l := New()
	g := l.Acquire()
	defer g.Release()

	tok1 := g.Token()
	tok2 := g.Token()
	require.Equal(t, tok1, tok2)
}

func TestReleaseAndReacquireBracketsGILAcrossBlockingCall(t *testing.T) {
	l := New()
	g := l.Acquire()

	reacquire := l.Release()
	require.False(t, l.Held(), "Release must drop the depth to zero for the calling goroutine")

	acquiredElsewhere := make(chan struct{})
	go func() {
		other := l.Acquire()
		other.Release()
		close(acquiredElsewhere)
	}()
	select {
	case <-acquiredElsewhere:
	case <-time.After(time.Second):
		t.Fatal("another goroutine must be able to acquire the lock while it is released")
	}

	reacquire()
	require.True(t, l.Held(), "Reacquire must restore the prior depth")
	g.Release()
}

func TestContentionLoggingDoesNotChangeAcquireSemantics(t *testing.T) {
	l := New(WithContentionLogging(true), WithSlowAcquireThreshold(time.Millisecond))

	g := l.Acquire()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(5 * time.Millisecond)
		other := l.Acquire()
		other.Release()
	}()
	g.Release()
	wg.Wait()

	require.False(t, l.Held())
}

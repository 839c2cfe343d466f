// Package goroutineid extracts the current goroutine's runtime-assigned id.
//
// Go has no native thread-local storage, so packages that need per-thread
// affinity (the GIL reentrancy counter, the exception stack, the scheduler's
// single-owner checks) key their state off this id instead.
package goroutineid

import "runtime"

// Get returns the current goroutine's id, parsed out of the stack trace
// header ("goroutine 123 [running]: ..."). This is the same technique used
// throughout the reference event loop to distinguish its own thread from
// caller goroutines; it is not a public Go API but the prefix format has
// been stable for a very long time.
func Get() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}

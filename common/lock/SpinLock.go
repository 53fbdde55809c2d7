// Package lock provides a tiny CAS+backoff spinlock for the short,
// non-blocking critical sections the planner's hot paths use (trapezoid
// profile commits), where a sync.Mutex's goroutine-parking overhead isn't
// worth paying.
package lock

import (
	"runtime"
	"sync/atomic"
)

// SpinLock is a zero-value-ready, uint32-backed mutual exclusion lock.
type SpinLock uint32

const maxBackoff = 32

// Lock spins with exponential Gosched backoff until the lock is acquired.
func (sl *SpinLock) Lock() {
	backoff := 1
	for !atomic.CompareAndSwapUint32((*uint32)(sl), 0, 1) {
		for i := 0; i < backoff; i++ {
			runtime.Gosched()
		}
		if backoff < maxBackoff {
			backoff <<= 1
		}
	}
}

// Unlock releases the lock. Unlocking an already-unlocked SpinLock is a no-op.
func (sl *SpinLock) Unlock() {
	atomic.CompareAndSwapUint32((*uint32)(sl), 1, 0)
}

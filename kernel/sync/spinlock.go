// Package sync provides the spinlock that serializes access to kernel-wide
// singletons such as the physical frame allocator.
package sync

import "sync/atomic"

var (
	// yieldFn is invoked by Acquire after spinning for a while. It stays nil
	// until the kernel has something to yield to; tests substitute
	// runtime.Gosched.
	yieldFn func()
)

// attemptsBeforeYielding is the number of failed acquire attempts before
// Acquire invokes yieldFn.
const attemptsBeforeYielding = 1024

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	for attempt := uint32(1); !atomic.CompareAndSwapUint32(&l.state, 0, 1); attempt++ {
		if attempt%attemptsBeforeYielding == 0 && yieldFn != nil {
			yieldFn()
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

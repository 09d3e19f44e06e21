// Package sync provides the synchronization primitives used by the memory
// subsystem: a spinlock and a lock-protected, initialize-once global slot.
package sync

import "sync/atomic"

// attemptsBeforeYielding is the number of acquisition attempts made before
// Acquire hands the CPU to yieldFn.
const attemptsBeforeYielding = 64

var (
	// yieldFn is invoked by Acquire after attemptsBeforeYielding failed
	// attempts. It stays nil until a scheduler exists; tests replace it
	// with runtime.Gosched.
	yieldFn func()
)

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	acquireSpinlock(&l.state, attemptsBeforeYielding)
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

func acquireSpinlock(state *uint32, attempts uint32) {
	for {
		for i := uint32(0); i < attempts; i++ {
			if atomic.LoadUint32(state) == 0 && atomic.CompareAndSwapUint32(state, 0, 1) {
				return
			}
		}

		if yieldFn != nil {
			yieldFn()
		}
	}
}

package pgconn

import (
	"sync"
)

// resourceLock serializes all frontend-message-writing / backend-message-
// reading operations on one connection, per spec.md §5: the engine presents
// a synchronous, serial contract to one logical caller, and the lock plus
// its condition variable is the only internal synchronization needed. A
// waker (cancel, timeout) interrupts a blocked holder by moving the
// transport's read deadline into the past; the condition variable lets a
// waiter learn when the holder has actually returned control.
type resourceLock struct {
	mu   sync.Mutex
	cond *sync.Cond

	held bool
	// generation increments every time the lock changes hands, so a waker
	// can tell whether the operation it interrupted is still in progress.
	generation uint64
}

func newResourceLock() *resourceLock {
	l := &resourceLock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Acquire blocks until the lock is free, then takes it, returning the
// generation at acquisition time. Release takes no generation and does not
// check one; the returned value lets a caller or waker compare it with
// Generation() to tell whether the lock has changed hands since.
func (l *resourceLock) Acquire() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	for l.held {
		l.cond.Wait()
	}
	l.held = true
	l.generation++
	return l.generation
}

func (l *resourceLock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.held = false
	l.cond.Broadcast()
}

// Generation returns the current generation without acquiring the lock,
// used by a waker to decide whether the operation it's about to interrupt
// is the same one it observed starting.
func (l *resourceLock) Generation() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.generation
}

// IsHeld reports whether the lock is currently held by some caller.
func (l *resourceLock) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

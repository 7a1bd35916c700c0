package corestate

import "time"

// guarded is a single-slot mutual-exclusion box with a bounded-timeout
// accessor: every Get/Set/Update call acquires a binary semaphore with a
// timeout instead of blocking indefinitely, and reports ok=false (never
// panics) on contention (spec.md §5: "timeout returns a safe default and
// logs a possible deadlock error; it must never panic").
type guarded[T any] struct {
	sem chan struct{}
	val T
}

func newGuarded[T any](initial T) *guarded[T] {
	g := &guarded[T]{sem: make(chan struct{}, 1)}
	g.sem <- struct{}{}
	g.val = initial
	return g
}

// Get returns a snapshot of the current value. ok is false if the lock
// could not be acquired within timeout, in which case the returned value
// is the zero value of T.
func (g *guarded[T]) Get(timeout time.Duration) (value T, ok bool) {
	select {
	case <-g.sem:
		v := g.val
		g.sem <- struct{}{}
		return v, true
	case <-time.After(timeout):
		var zero T
		return zero, false
	}
}

// Set replaces the current value. ok is false if the lock could not be
// acquired within timeout, in which case the value is left unchanged.
func (g *guarded[T]) Set(timeout time.Duration, v T) (ok bool) {
	select {
	case <-g.sem:
		g.val = v
		g.sem <- struct{}{}
		return true
	case <-time.After(timeout):
		return false
	}
}

// Update replaces the current value with fn applied to it, atomically with
// respect to other Get/Set/Update callers. ok is false if the lock could
// not be acquired within timeout.
func (g *guarded[T]) Update(timeout time.Duration, fn func(T) T) (ok bool) {
	select {
	case <-g.sem:
		g.val = fn(g.val)
		g.sem <- struct{}{}
		return true
	case <-time.After(timeout):
		return false
	}
}

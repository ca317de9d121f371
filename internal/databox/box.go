// Package databox provides a lock-guarded single-value container used to pass
// commands, responses and flags between the sequence goroutine and its
// controllers.
package databox

import (
	"sync"
	"time"
)

// pollSlice is the granularity of the bounded-wait variants.
const pollSlice = time.Millisecond

// Box holds one value of type T behind a reader/writer lock. The zero Box is
// empty and ready to use. A Box must not be copied after first use.
type Box[T any] struct {
	mu      sync.RWMutex
	value   T
	present bool
}

// New returns a Box already holding v.
func New[T any](v T) *Box[T] {
	return &Box[T]{value: v, present: true}
}

// Set stores v, blocking until the write lock is available.
func (b *Box[T]) Set(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.value = v
	b.present = true
}

// Get returns the stored value, blocking until the read lock is available.
// An empty box yields the zero value.
func (b *Box[T]) Get() T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.value
}

// Update replaces the stored value with fn(current) under a single write lock
// and returns the new value.
func (b *Box[T]) Update(fn func(T) T) T {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.value = fn(b.value)
	b.present = true
	return b.value
}

// Clear empties the box.
func (b *Box[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	var zero T
	b.value = zero
	b.present = false
}

// TrySet stores v if the write lock can be taken within timeout. It reports
// whether the value was stored.
func (b *Box[T]) TrySet(v T, timeout time.Duration) bool {
	if !acquire(b.mu.TryLock, timeout) {
		return false
	}
	defer b.mu.Unlock()
	b.value = v
	b.present = true
	return true
}

// TryGet waits up to timeout for the box to hold a value and returns it.
// The boolean is false when the lock was contended or the box stayed empty for
// the whole timeout; callers treat that as "keep polling", not as an error.
func (b *Box[T]) TryGet(timeout time.Duration) (T, bool) {
	var out T
	found := b.poll(timeout, func() bool {
		if !b.present {
			return false
		}
		out = b.value
		return true
	}, false)
	return out, found
}

// TryTake is like TryGet but also empties the box when a value is found.
func (b *Box[T]) TryTake(timeout time.Duration) (T, bool) {
	var out T
	found := b.poll(timeout, func() bool {
		if !b.present {
			return false
		}
		out = b.value
		var zero T
		b.value = zero
		b.present = false
		return true
	}, true)
	return out, found
}

// poll repeatedly takes the lock (read or write) and runs check until it
// returns true or the deadline passes.
func (b *Box[T]) poll(timeout time.Duration, check func() bool, write bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		var ok bool
		if write {
			if b.mu.TryLock() {
				ok = check()
				b.mu.Unlock()
			}
		} else if b.mu.TryRLock() {
			ok = check()
			b.mu.RUnlock()
		}
		if ok {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(pollSlice)
	}
}

func acquire(try func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if try() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(pollSlice)
	}
}

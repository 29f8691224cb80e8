// Package watch provides hot, replay-latest values for publishing state
// between goroutines.
//
// A Value always holds a current value. Readers either poll it with Get or
// subscribe and receive the current value followed by every later change.
// Slow subscribers are never queued behind: they skip intermediate values
// and receive only the latest.
package watch

import (
	"context"
	"sync"
)

// Value is a concurrency-safe observable holding the latest T.
type Value[T any] struct {
	mu      sync.Mutex
	val     T
	version uint64
	equal   func(a, b T) bool
	changed chan struct{}
}

// NewValue creates a Value starting at initial. When equal is non-nil, Set
// ignores values equal to the current one.
func NewValue[T any](initial T, equal func(a, b T) bool) *Value[T] {
	return &Value[T]{
		val:     initial,
		equal:   equal,
		changed: make(chan struct{}),
	}
}

// Set publishes v and reports whether it replaced the current value.
func (w *Value[T]) Set(v T) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.setLocked(v)
}

// Update applies fn to the current value under the lock and publishes the result.
func (w *Value[T]) Update(fn func(T) T) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.setLocked(fn(w.val))
}

func (w *Value[T]) setLocked(v T) bool {
	if w.equal != nil && w.equal(w.val, v) {
		return false
	}
	w.val = v
	w.version++
	close(w.changed)
	w.changed = make(chan struct{})
	return true
}

// Get returns the current value without blocking.
func (w *Value[T]) Get() T {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.val
}

// Version returns the number of accepted Set calls.
func (w *Value[T]) Version() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.version
}

func (w *Value[T]) snapshot() (T, uint64, <-chan struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.val, w.version, w.changed
}

// WaitFor blocks until the current value satisfies ok or ctx is done.
//
// Interactive paths should use Get; WaitFor is for cold start and tests.
func (w *Value[T]) WaitFor(ctx context.Context, ok func(T) bool) (T, error) {
	for {
		v, _, changed := w.snapshot()
		if ok(v) {
			return v, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Changed blocks until a value newer than version is published and returns it.
func (w *Value[T]) Changed(ctx context.Context, version uint64) (T, uint64, error) {
	for {
		v, cur, changed := w.snapshot()
		if cur != version {
			return v, cur, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			var zero T
			return zero, cur, ctx.Err()
		}
	}
}

// Subscribe streams the current value and then every later one until ctx is
// done, at which point the channel is closed. Values published while the
// receiver is busy are conflated to the latest.
func (w *Value[T]) Subscribe(ctx context.Context) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		v, version, _ := w.snapshot()
		for {
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
			var err error
			v, version, err = w.Changed(ctx, version)
			if err != nil {
				return
			}
		}
	}()
	return out
}

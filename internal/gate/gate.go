// Package gate serializes access to a single shared value.
//
// The bridge wraps its one backend process in a Gate so that concurrent HTTP
// callers apply their exchanges one at a time and never interleave bytes on
// the backend's pipes.
package gate

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Gate grants exclusive access to a value of type T.
//
// Waiters are served in the order they arrive.
type Gate[T any] struct {
	sem     *semaphore.Weighted
	value   T
	waiting atomic.Int64
}

// New creates a Gate guarding v. Nothing else should keep a reference to v.
func New[T any](v T) *Gate[T] {
	return &Gate[T]{
		sem:   semaphore.NewWeighted(1),
		value: v,
	}
}

// Do blocks until no other caller holds the gate, runs fn with exclusive access
// to the guarded value, and releases the gate when fn returns or panics.
//
// If ctx is done while the caller is still waiting, Do returns ctx.Err() without
// running fn. Once fn has started it is not interrupted by ctx.
func (g *Gate[T]) Do(ctx context.Context, fn func(T) error) error {
	g.waiting.Add(1)
	err := g.sem.Acquire(ctx, 1)
	g.waiting.Add(-1)

	if err != nil {
		return err
	}

	defer g.sem.Release(1)

	return fn(g.value)
}

// Waiting returns the number of callers currently queued for the gate.
func (g *Gate[T]) Waiting() int64 {
	return g.waiting.Load()
}

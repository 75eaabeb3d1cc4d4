package dispatch

import (
	"context"
	"sync"
)

// ResultFuture is a single-shot completion handle: it is set at most once,
// late sets are silently dropped, and any number of callers may Wait on it.
// Modeled as a buffered channel of capacity one guarded by a sync.Once,
// following the teacher's habit of wrapping a raw channel in a small owning
// type (orchestrator/queue, orchestrator/messagequeue) rather than exposing
// the channel directly.
type ResultFuture struct {
	once sync.Once
	done chan Result
}

// NewResultFuture creates an unset future.
func NewResultFuture() *ResultFuture {
	return &ResultFuture{done: make(chan Result, 1)}
}

// Set completes the future with r. Only the first call has any effect;
// subsequent calls are no-ops, matching the single-shot invariant in §8.
func (f *ResultFuture) Set(r Result) {
	f.once.Do(func() {
		f.done <- r
	})
}

// Wait blocks until the future is set or ctx is done, whichever comes
// first. The returned bool is false if ctx fired before Set (timeout).
func (f *ResultFuture) Wait(ctx context.Context) (Result, bool) {
	select {
	case r := <-f.done:
		return r, true
	case <-ctx.Done():
		return Result{}, false
	}
}

package interceptor

import (
	"context"
	"sync"
)

// Future is the handle of a result that may not be resolved yet.
// It resolves exactly once; continuations registered with Then run on the goroutine
// that resolves it (or inline, when it is already resolved), before Done is closed.
type Future struct {
	mu       sync.Mutex
	resolved bool
	done     chan struct{}
	val      any
	err      error
	cbs      []func(any, error)
}

func NewFuture() *Future { return &Future{done: make(chan struct{})} }

// Completed returns an already resolved future.
func Completed(v any, err error) *Future {
	f := NewFuture()
	f.Complete(v, err)
	return f
}

// Go runs fn on its own goroutine and returns the future of its result.
func Go(fn func() (any, error)) *Future {
	f := NewFuture()
	go func() { f.Complete(fn()) }()
	return f
}

// Complete resolves f. Only the first call has an effect; it reports whether it won.
func (f *Future) Complete(v any, err error) bool {
	f.mu.Lock()
	if f.resolved {
		f.mu.Unlock()
		return false
	}
	f.resolved = true
	f.val, f.err = v, err
	cbs := f.cbs
	f.cbs = nil
	f.mu.Unlock()

	for _, cb := range cbs {
		cb(v, err)
	}
	close(f.done)
	return true
}

// Done is closed once f resolves.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until f resolves.
func (f *Future) Wait() (any, error) {
	<-f.done
	return f.val, f.err
}

// Await is Wait bounded by ctx. Giving up does not cancel the underlying work.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Then returns a future resolved with fn applied to f's outcome.
func (f *Future) Then(fn func(any, error) (any, error)) *Future {
	next := NewFuture()
	f.whenDone(func(v any, err error) { next.Complete(fn(v, err)) })
	return next
}

func (f *Future) whenDone(cb func(any, error)) {
	f.mu.Lock()
	if f.resolved {
		v, err := f.val, f.err
		f.mu.Unlock()
		cb(v, err)
		return
	}
	f.cbs = append(f.cbs, cb)
	f.mu.Unlock()
}

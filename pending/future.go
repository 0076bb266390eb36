// Package pending tracks mapping requests that have not been accepted yet.
package pending

import (
	"context"
	"sync"
)

// Future is completed exactly once, either with the accepted class name or
// with an error. Any number of goroutines may wait on it.
type Future struct {
	once sync.Once
	done chan struct{}
	name string
	err  error
}

func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Completed returns a Future already resolved to name.
func Completed(name string) *Future {
	f := NewFuture()
	f.Complete(name)
	return f
}

// Complete resolves f with name. Calls after the first are ignored.
func (f *Future) Complete(name string) bool {
	return f.finish(name, nil)
}

// Fail resolves f with err. Calls after the first are ignored.
func (f *Future) Fail(err error) bool {
	return f.finish("", err)
}

func (f *Future) finish(name string, err error) bool {
	ok := false
	f.once.Do(func() {
		f.name, f.err = name, err
		close(f.done)
		ok = true
	})
	return ok
}

func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result returns the outcome without blocking. done is false while f is
// unresolved.
func (f *Future) Result() (name string, done bool, err error) {
	select {
	case <-f.done:
		return f.name, true, f.err
	default:
		return "", false, nil
	}
}

// Wait blocks until f is resolved or ctx ends.
func (f *Future) Wait(ctx context.Context) (string, error) {
	select {
	case <-f.done:
		return f.name, f.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

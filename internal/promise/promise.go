// Package promise provides a cancellable one-shot deferred value.
//
// A Promise runs its producer on a dedicated goroutine. Consumers may poll it
// without blocking, wait for it, or cancel it. Once resolved the value and
// error never change.
package promise

import (
	"context"
	"errors"
	"sync"
)

// ErrCanceled is returned by Err and Wait when the promise was canceled
// before its producer finished.
var ErrCanceled = errors.New("promise: canceled")

// Func produces the promised value. It should return promptly once ctx is done.
type Func[T any] func(ctx context.Context) (T, error)

// Promise is a value that becomes available once, in the future.
type Promise[T any] struct {
	done   chan struct{}
	cancel context.CancelFunc

	once  sync.Once
	value T
	err   error
}

// Go starts fn on a new goroutine and returns a promise for its result.
// The producer's context is derived from ctx.
func Go[T any](ctx context.Context, fn Func[T]) *Promise[T] {
	ctx, cancel := context.WithCancel(ctx)
	p := &Promise[T]{
		done:   make(chan struct{}),
		cancel: cancel,
	}

	go func() {
		defer cancel()
		v, err := fn(ctx)
		if err == nil && ctx.Err() != nil {
			err = ErrCanceled
		}
		p.resolve(v, err)
	}()

	return p
}

// Resolved returns an already completed promise.
func Resolved[T any](v T) *Promise[T] {
	p := &Promise[T]{
		done:   make(chan struct{}),
		cancel: func() {},
	}
	p.resolve(v, nil)
	return p
}

func (p *Promise[T]) resolve(v T, err error) {
	p.once.Do(func() {
		p.value = v
		p.err = err
		close(p.done)
	})
}

// Done returns a channel closed once the promise is resolved.
func (p *Promise[T]) Done() <-chan struct{} {
	return p.done
}

// Poll reports whether the promise is resolved and, if so, whether it
// resolved successfully. It never blocks.
func (p *Promise[T]) Poll() (T, bool) {
	select {
	case <-p.done:
		if p.err != nil {
			var zero T
			return zero, false
		}
		return p.value, true
	default:
		var zero T
		return zero, false
	}
}

// Err returns the resolution error, or nil while pending or on success.
func (p *Promise[T]) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Wait blocks until the promise resolves or ctx is done.
func (p *Promise[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Cancel requests the producer to stop. A pending promise resolves with
// ErrCanceled; a resolved one is unaffected.
func (p *Promise[T]) Cancel() {
	p.cancel()
	var zero T
	p.resolve(zero, ErrCanceled)
}

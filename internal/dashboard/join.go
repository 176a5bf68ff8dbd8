package dashboard

import (
	"context"
	"errors"
)

// future is the result of a fetch running on its own goroutine.
type future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// async starts fn and returns a future for its result.
func async[T any](ctx context.Context, fn func(context.Context) (T, error)) *future[T] {
	f := &future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.val, f.err = fn(ctx)
	}()
	return f
}

// await blocks until the future resolves or ctx is done.
func (f *future[T]) await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// join2 waits for both futures. It always waits for both, so a failure of
// the first never leaves the second unobserved; errors are joined.
func join2[A, B any](ctx context.Context, fa *future[A], fb *future[B]) (A, B, error) {
	a, errA := fa.await(ctx)
	b, errB := fb.await(ctx)
	if err := errors.Join(errA, errB); err != nil {
		var za A
		var zb B
		return za, zb, err
	}
	return a, b, nil
}

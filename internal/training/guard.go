package training

import (
	"context"
	"time"
)

// DefaultProviderTimeout bounds the wall-clock duration of one provider call.
const DefaultProviderTimeout = 2 * time.Minute

// runWithDeadline executes fn and waits at most timeout for its result.
//
// On deadline the call is abandoned, not killed: third-party network calls
// cannot be reliably terminated mid-flight, so fn keeps running in its
// goroutine and its eventual result lands in a buffered channel nobody reads.
// The late result therefore has no observable effect here; callers applying
// side effects from a returned result must additionally gate them on the
// job's persisted status (see [JobStore.Complete]).
//
// Returns [ErrProviderTimeout] when the deadline elapses first, or ctx.Err()
// when the surrounding context is cancelled.
func runWithDeadline[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}

	type outcome struct {
		val T
		err error
	}
	// Buffered so an abandoned fn can deliver and exit instead of leaking.
	done := make(chan outcome, 1)

	go func() {
		v, err := fn(ctx)
		done <- outcome{val: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var zero T
	select {
	case out := <-done:
		return out.val, out.err
	case <-timer.C:
		return zero, ErrProviderTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned by WithTimeout when the timer fires first.
var ErrTimeout = errors.New("operation timed out")

// WithTimeout races op against a timer. When the timer wins, op's context is
// cancelled and an error wrapping ErrTimeout that names label is returned
// without waiting for op to notice. A non-positive d disables the timer.
func WithTimeout(ctx context.Context, d time.Duration, label string, op func(context.Context) error) error {
	_, err := WithTimeoutValue(ctx, d, label, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// WithTimeoutValue is WithTimeout for operations that return a value.
func WithTimeoutValue[T any](ctx context.Context, d time.Duration, label string, op func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return op(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := op(ctx)
		done <- result{v, err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	var zero T
	select {
	case r := <-done:
		return r.v, r.err
	case <-timer.C:
		return zero, fmt.Errorf("%w: %s did not finish within %s", ErrTimeout, label, d)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

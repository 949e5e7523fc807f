package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultTimeout bounds a single upstream call.
const DefaultTimeout = 10 * time.Second

// Call runs fn with its own timeout derived from ctx. Expiry of that timeout
// is reported as KindTimeout. Cancellation of ctx itself is KindCanceled.
func Call[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := fn(callCtx)
	if err == nil {
		return v, nil
	}

	var zero T
	if ctx.Err() != nil {
		return zero, &Error{Kind: KindCanceled, Err: ctx.Err()}
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return zero, &Error{Kind: KindTimeout, Err: fmt.Errorf("timed out after %s: %w", timeout, err)}
	}
	return zero, err
}

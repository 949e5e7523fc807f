package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"treasury-lens/internal/observability"
)

// Default retry configuration.
const (
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultRewardDelay = 100 * time.Millisecond
)

// Backoff returns the delay to wait after the failed attempt with the given index.
type Backoff func(attempt int) time.Duration

// LinearBackoff waits base*(attempt+1).
func LinearBackoff(base time.Duration) Backoff {
	return func(attempt int) time.Duration {
		return base * time.Duration(attempt+1)
	}
}

// ConstantBackoff always waits d.
func ConstantBackoff(d time.Duration) Backoff {
	return func(int) time.Duration {
		return d
	}
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Coordinator runs an operation against the endpoints of a pool in order,
// moving to the next endpoint on transient failure.
type Coordinator struct {
	backoff  Backoff
	timeout  time.Duration
	attempts int
	sleep    Sleeper
	logger   zerolog.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithBackoff sets the delay policy between attempts.
func WithBackoff(b Backoff) CoordinatorOption {
	return func(c *Coordinator) {
		c.backoff = b
	}
}

// WithCallTimeout sets the per-attempt timeout.
func WithCallTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.timeout = d
	}
}

// WithAttempts sets the total number of attempts. Zero means one per endpoint.
func WithAttempts(n int) CoordinatorOption {
	return func(c *Coordinator) {
		c.attempts = n
	}
}

// WithSleeper replaces the wait function used between attempts.
func WithSleeper(s Sleeper) CoordinatorOption {
	return func(c *Coordinator) {
		c.sleep = s
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// NewCoordinator creates a coordinator with linear backoff and the default call timeout.
func NewCoordinator(opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		backoff: LinearBackoff(DefaultBaseDelay),
		timeout: DefaultTimeout,
		sleep:   sleepContext,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// With returns a copy of c with the options applied.
func (c *Coordinator) With(opts ...CoordinatorOption) *Coordinator {
	cp := *c
	for _, opt := range opts {
		opt(&cp)
	}
	return &cp
}

// Timeout returns the per-attempt timeout.
func (c *Coordinator) Timeout() time.Duration {
	return c.timeout
}

// Attempt records one failed endpoint attempt.
type Attempt struct {
	Endpoint Endpoint
	Err      error
}

// ExhaustedError is returned when every attempt failed transiently.
type ExhaustedError struct {
	Op       string
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: all %d attempts failed", e.Op, len(e.Attempts))
	for i, a := range e.Attempts {
		fmt.Fprintf(&b, "\n[%d] %s: %v", i, a.Endpoint.Name, a.Err)
	}
	return b.String()
}

// Unwrap exposes the per-attempt errors to errors.Is and errors.As.
func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a.Err
	}
	return errs
}

// Kind is KindRateLimited if any attempt was throttled, otherwise the kind of
// the last attempt.
func (e *ExhaustedError) Kind() Kind {
	if len(e.Attempts) == 0 {
		return KindUnavailable
	}
	for _, a := range e.Attempts {
		if KindOf(a.Err) == KindRateLimited {
			return KindRateLimited
		}
	}
	return KindOf(e.Attempts[len(e.Attempts)-1].Err)
}

// Do runs fn against the endpoints of pool starting at index 0. A terminal
// failure is returned immediately. Transient failures wait for the backoff
// and advance to the next endpoint. When all attempts fail the result is an
// *ExhaustedError listing each of them.
func Do[T any](ctx context.Context, c *Coordinator, pool *Pool, op string, fn func(ctx context.Context, ep Endpoint) (T, error)) (T, error) {
	var zero T
	cur := pool.Cursor(c.attempts)
	var failed []Attempt

	for {
		ep, ok := cur.Next()
		if !ok {
			break
		}

		if n := len(failed); n > 0 {
			delay := c.backoff(n - 1)
			if err := c.sleep(ctx, delay); err != nil {
				return zero, &Error{Kind: KindCanceled, Op: op, Err: err}
			}
		}

		start := time.Now()
		v, err := Call(ctx, c.timeout, func(ctx context.Context) (T, error) {
			return fn(ctx, ep)
		})
		elapsed := time.Since(start).Seconds()

		if err == nil {
			observability.RecordUpstreamAttempt(pool.Name(), "success", elapsed)
			return v, nil
		}

		kind := KindOf(err)
		if kind.Terminal() {
			observability.RecordUpstreamAttempt(pool.Name(), "terminal", elapsed)
			c.logger.Debug().
				Str("op", op).
				Str("endpoint", ep.Name).
				Str("kind", kind.String()).
				Err(err).
				Msg("terminal upstream failure")
			var tagged *Error
			if errors.As(err, &tagged) && tagged.Endpoint != "" {
				return zero, err
			}
			return zero, &Error{Kind: kind, Op: op, Endpoint: ep.Name, Err: err}
		}

		observability.RecordUpstreamAttempt(pool.Name(), "retry", elapsed)
		c.logger.Warn().
			Str("op", op).
			Str("endpoint", ep.Name).
			Int("attempt", cur.Taken()-1).
			Str("kind", kind.String()).
			Err(err).
			Msg("upstream attempt failed")
		failed = append(failed, Attempt{Endpoint: ep, Err: err})
	}

	observability.RecordUpstreamExhausted(pool.Name())
	return zero, &ExhaustedError{Op: op, Attempts: failed}
}

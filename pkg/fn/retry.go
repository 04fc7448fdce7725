package fn

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryOpts configures retry behavior. MaxAttempts below 1 means a single
// attempt. A nil Retryable retries every error except context cancellation.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool
	Retryable   func(error) bool
}

// DefaultRetry is three attempts with jittered exponential backoff from one second.
var DefaultRetry = RetryOpts{
	MaxAttempts: 3,
	InitialWait: time.Second,
	MaxWait:     30 * time.Second,
	Jitter:      true,
}

func (o RetryOpts) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return o.Retryable == nil || o.Retryable(err)
}

// backoff returns the wait before attempt n+1 (n counts from 0).
func (o RetryOpts) backoff(n int) time.Duration {
	d := o.InitialWait << min(n, 30)
	if o.MaxWait > 0 && d > o.MaxWait {
		d = o.MaxWait
	}
	if o.Jitter {
		d = time.Duration(float64(d) * (0.5 + rand.Float64()))
		if o.MaxWait > 0 && d > o.MaxWait {
			d = o.MaxWait
		}
	}
	return d
}

// Retry calls f until it succeeds, returns a non-retryable error, or
// MaxAttempts is reached. The last error is annotated with the attempt count
// when more than one attempt was made.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	attempts := max(opts.MaxAttempts, 1)
	for n := 0; ; n++ {
		r := f(ctx)
		if r.IsOk() {
			return r
		}
		if !opts.retryable(r.err) {
			return r
		}
		if n == attempts-1 {
			if n == 0 {
				return r
			}
			return Err[T](fmt.Errorf("%w (after %d attempts)", r.err, attempts))
		}

		t := time.NewTimer(opts.backoff(n))
		select {
		case <-ctx.Done():
			t.Stop()
			return Err[T](ctx.Err())
		case <-t.C:
		}
	}
}

// RetryStage wraps a Stage with retry logic.
func RetryStage[In, Out any](opts RetryOpts, stage Stage[In, Out]) Stage[In, Out] {
	return func(ctx context.Context, in In) Result[Out] {
		return Retry(ctx, opts, func(ctx context.Context) Result[Out] {
			return stage(ctx, in)
		})
	}
}

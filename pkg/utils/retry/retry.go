package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRetry marks an attempt as retryable regardless of the policy predicate.
var ErrRetry = errors.New("retry")

// Backoff is a (blocking) function returns when to retry.
//
// If context is canceled, Backoff should return ctx.Err().
type Backoff func(context.Context) error

// StaticBackoff returns a Backoff function that waits for a fixed interval.
func StaticBackoff(interval time.Duration) Backoff {
	return ExponentialBackoff(interval, 1)
}

// ExponentialBackoff returns a Backoff function that waits with exponential backoff.
//
// For N-th call, it waits for `initialInterval * r^N` or context to be done.
func ExponentialBackoff(initialInterval time.Duration, r float64) Backoff {
	interval := initialInterval
	return func(ctx context.Context) error {
		if interval <= 0 {
			return ctx.Err()
		}
		timer := time.NewTimer(interval)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			interval = time.Duration(int64(float64(interval) * r))
			return nil
		}
	}
}

// Policy is a bounded retry policy for a single outbound call site.
type Policy struct {
	// MaxAttempts is the number of calls made at most, including the first one.
	// Values less than 1 are treated as 1.
	MaxAttempts int

	// Delay between attempts.
	Delay time.Duration

	// Retryable decides whether an error from an attempt is worth another try.
	//
	// When nil, only errors wrapping ErrRetry are retried.
	Retryable func(error) bool
}

// Once is a policy which never retries.
//
// Compensations use this: they are attempted once and escalated on failure.
var Once = Policy{MaxAttempts: 1}

type onceKey struct{}

// OnlyOnce returns a context under which Do makes a single attempt, whatever the policy says.
func OnlyOnce(ctx context.Context) context.Context {
	return context.WithValue(ctx, onceKey{}, true)
}

func onlyOnce(ctx context.Context) bool {
	once, _ := ctx.Value(onceKey{}).(bool)
	return once
}

// ErrExhausted is wrapped by the error returned from Do when all attempts failed with retryable errors.
var ErrExhausted = errors.New("retry attempts exhausted")

func (p Policy) retryable(err error) bool {
	if errors.Is(err, ErrRetry) {
		return true
	}
	if p.Retryable == nil {
		return false
	}
	return p.Retryable(err)
}

// Do calls f until it succeeds, returns a non-retryable error, or the attempts run out.
//
// Under a context from OnlyOnce, f is called once.
//
// # Returns
//
// - T: last return value of f
//
// - error: nil on success. The last error of f otherwise;
// when attempts run out it also wraps ErrExhausted.
func Do[T any](ctx context.Context, p Policy, f func(context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 || onlyOnce(ctx) {
		attempts = 1
	}
	backoff := StaticBackoff(p.Delay)

	var last T
	var err error
	for n := 1; ; n++ {
		last, err = f(ctx)
		if err == nil {
			return last, nil
		}
		if !p.retryable(err) {
			return last, err
		}
		if n >= attempts {
			if attempts == 1 {
				return last, err
			}
			return last, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, n, err)
		}
		if berr := backoff(ctx); berr != nil {
			return last, errors.Join(err, berr)
		}
	}
}

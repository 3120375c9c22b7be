// Package retry provides a bounded retry policy for calls to external models
// and hosting providers.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Policy configures exponential backoff retry behavior
type Policy struct {
	MaxAttempts    int           // total attempts including the first, minimum 1
	BaseDelay      time.Duration // delay before the second attempt
	MaxDelay       time.Duration // cap on the delay between attempts
	Multiplier     float64       // backoff growth factor
	Jitter         bool          // randomize each delay within [delay/2, delay]
	AttemptTimeout time.Duration // per-attempt deadline, 0 = none
}

// DefaultPolicy returns defaults suited to embedding and generation APIs
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       8 * time.Second,
		Multiplier:     2.0,
		Jitter:         true,
		AttemptTimeout: 60 * time.Second,
	}
}

// permanentError marks an error that retrying cannot fix
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do calls fn until it succeeds, returns a permanent error, the attempt
// budget is spent, or ctx is done. It returns the number of attempts made.
// Permanent markers are stripped from the returned error.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, int, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, attempt - 1, lastErr
			}
			return zero, attempt - 1, err
		}

		result, err := call(ctx, p.AttemptTimeout, fn)
		if err == nil {
			return result, attempt, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, attempt, perm.err
		}
		lastErr = err

		// Parent cancellation is not a transient failure
		if ctx.Err() != nil {
			return zero, attempt, lastErr
		}

		if attempt == attempts {
			break
		}

		wait := delay
		if p.Jitter && wait > 0 {
			wait = wait/2 + time.Duration(rand.Int64N(int64(wait/2)+1))
		}
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, attempt, lastErr
			case <-timer.C:
			}
		}

		if p.Multiplier > 0 {
			delay = time.Duration(float64(delay) * p.Multiplier)
		}
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return zero, attempts, lastErr
}

func call[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

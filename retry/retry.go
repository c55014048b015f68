// Package retry provides bounded exponential backoff for transient
// store and queue failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Config configures retry behavior. The zero value is usable: zero fields
// fall back to the defaults below.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first
	// (default: 5). Values below 1 are treated as 1.
	MaxAttempts int

	// InitialDelay is the delay before the second attempt (default: 100ms).
	InitialDelay time.Duration

	// MaxDelay caps the delay between attempts (default: 30s).
	MaxDelay time.Duration

	// Factor multiplies the delay after each attempt (default: 2.0).
	Factor float64

	// Jitter adds randomness to each delay, 0..1 meaning +/- that fraction
	// (default: 0.1).
	Jitter float64

	// IsRetryable determines whether an error should be retried.
	// If nil, every error is retried until attempts are exhausted.
	IsRetryable func(error) bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Factor:       2.0,
		Jitter:       0.1,
	}
}

// Sentinel errors.
var (
	// ErrExhausted is returned when all attempts are used up.
	ErrExhausted = errors.New("retry: attempts exhausted")

	// ErrNotRetryable marks errors that stop the retry loop early.
	ErrNotRetryable = errors.New("retry: error is not retryable")

	// ErrCanceled wraps context cancellation during a retry loop.
	ErrCanceled = errors.New("retry: context canceled")
)

// Do executes fn, retrying transient failures per cfg.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	cfg = applyDefaults(cfg)

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return &Error{Cause: lastErr, Attempts: attempt - 1, Err: ErrCanceled}
			}
			return ctx.Err()
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if cfg.IsRetryable != nil && !cfg.IsRetryable(err) {
			return &Error{Cause: err, Attempts: attempt, Err: ErrNotRetryable}
		}

		if attempt < cfg.MaxAttempts {
			select {
			case <-ctx.Done():
				return &Error{Cause: lastErr, Attempts: attempt, Err: ErrCanceled}
			case <-time.After(delayFor(cfg, attempt)):
			}
		}
	}

	return &Error{Cause: lastErr, Attempts: cfg.MaxAttempts, Err: ErrExhausted}
}

// DoWithResult executes fn with retries and returns its result value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func(ctx context.Context) error {
		var fnErr error
		result, fnErr = fn(ctx)
		return fnErr
	})
	return result, err
}

// Error reports the outcome of a failed retry loop.
type Error struct {
	// Cause is the last error returned by the function.
	Cause error

	// Attempts is the number of attempts made.
	Attempts int

	// Err is the sentinel (ErrExhausted, ErrNotRetryable, or ErrCanceled).
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("retry failed after %d attempts (%s): %s", e.Attempts, e.Err, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target) || errors.Is(e.Cause, target)
}

// delayFor computes the backoff before attempt+1. attempt is 1-based.
func delayFor(cfg Config, attempt int) time.Duration {
	d := float64(cfg.InitialDelay) * math.Pow(cfg.Factor, float64(attempt-1))
	if d > float64(cfg.MaxDelay) {
		d = float64(cfg.MaxDelay)
	}
	if cfg.Jitter > 0 {
		spread := d * cfg.Jitter
		d = d - spread + rand.Float64()*2*spread
	}
	return time.Duration(d)
}

// applyDefaults fills in zero values with defaults.
func applyDefaults(cfg Config) Config {
	if cfg.MaxAttempts < 1 {
		if cfg.MaxAttempts == 0 {
			cfg.MaxAttempts = 5
		} else {
			cfg.MaxAttempts = 1
		}
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.Factor <= 0 {
		cfg.Factor = 2.0
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if cfg.Jitter > 1 {
		cfg.Jitter = 1
	}
	return cfg
}

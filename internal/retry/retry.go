// Package retry runs an operation with exponential backoff.
//
//	err := retry.Do(ctx, retry.Config{MaxRetries: 3, InitialBackoff: 100 * time.Millisecond},
//	    func() error { return notify() }, nil)
//
// The backoff before attempt n (n ≥ 1) is InitialBackoff * 2^(n-1), capped by
// MaxBackoff, plus an optional jitter that grows with the attempt number.
// Errors wrapped with Permanent stop the loop immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Config defines the retry behavior for exponential backoff operations.
//
// The zero value is not usable; MaxRetries and InitialBackoff must be set.
type Config struct {
	// MaxRetries is the maximum number of attempts. Must be greater than 0.
	MaxRetries int

	// InitialBackoff is the base backoff duration. Must be greater than 0.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff duration. Zero means no cap.
	MaxBackoff time.Duration

	// Jitter adds randomness to backoff (0.0 to 1.0):
	//   jitter_amount = backoff * Jitter * attempt / MaxRetries
	Jitter float64
}

// ShouldRetryFunc determines if an error should trigger a retry.
// If nil, every error that is not Permanent is retried.
type ShouldRetryFunc func(error) bool

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do executes fn with exponential backoff retry.
//
// It returns nil as soon as fn succeeds, the error unchanged when it is
// Permanent or shouldRetry rejects it, the context error when ctx ends during
// a backoff, and otherwise the last error wrapped with the attempt count.
func Do(ctx context.Context, cfg Config, fn func() error, shouldRetry ShouldRetryFunc) error {
	var lastErr error

	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		// Apply backoff before retry (but not on first attempt).
		if attempt > 0 {
			timer := time.NewTimer(calculateBackoff(cfg, attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}

		lastErr = err
	}

	return fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

// calculateBackoff computes the backoff duration for a given attempt.
//
// For example, with InitialBackoff=100ms, MaxBackoff=1s, Jitter=0.5, MaxRetries=5:
//   - Attempt 1: 100ms base + 10ms jitter = 110ms
//   - Attempt 2: 200ms base + 40ms jitter = 240ms
//   - Attempt 3: 400ms base + 120ms jitter = 520ms
//   - Attempt 4: 800ms base + 320ms jitter = 1s (capped)
func calculateBackoff(cfg Config, attempt int) time.Duration {
	multiplier := math.Pow(2, float64(attempt-1))
	backoff := time.Duration(multiplier * float64(cfg.InitialBackoff))

	if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
		backoff = cfg.MaxBackoff
	}

	if cfg.Jitter > 0 {
		jitterAmount := float64(backoff) * cfg.Jitter * float64(attempt) / float64(cfg.MaxRetries)
		backoff += time.Duration(jitterAmount)
	}

	return backoff
}

package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"
)

// Backoff is an exponential retry policy. Delay is a pure function of the
// attempt number so the schedule can be checked without waiting.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	Factor      float64
	MaxAttempts int
}

// DefaultBackoff retries three times: 1s, 2s, 4s
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Max: 30 * time.Second, Factor: 2, MaxAttempts: 4}
}

// Delay returns how long to wait after the given failed attempt (1-based)
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}

	d := float64(b.Base) * math.Pow(factor, float64(attempt-1))
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}

// retryable is implemented by errors that know whether a retry can help
type retryable interface {
	Retryable() bool
}

// IsRetryable reports whether err, or anything it wraps, asks to be retried
func IsRetryable(err error) bool {
	var r retryable
	return errors.As(err, &r) && r.Retryable()
}

// retry runs fn until it succeeds, returns a non-retryable error, or the
// policy runs out of attempts. Waits go through clock.
func retry(ctx context.Context, policy Backoff, clock Clock, logger *slog.Logger, op string, fn func(context.Context) error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) || attempt >= attempts {
			return err
		}

		delay := policy.Delay(attempt)
		logger.Warn("Retrying after conflict",
			"op", op,
			"attempt", attempt,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(delay):
		}
	}
}

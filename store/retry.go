package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"modernc.org/sqlite"
)

// SQLite primary result codes signalling transient contention.
const (
	codeBusy   = 5
	codeLocked = 6
)

// RetryPolicy configures the bounded retry behavior of gateway operations.
type RetryPolicy struct {
	// MaxRetries is the maximum number of retry attempts (not counting the
	// initial call).
	MaxRetries int

	// BaseDelay is the backoff before the first retry; it doubles on every
	// subsequent attempt.
	BaseDelay time.Duration

	// OnRetry is an optional callback invoked before each retry attempt with
	// the error that triggered it, the attempt number (0-indexed) and the
	// delay that will be applied.
	OnRetry func(err error, attempt int, delay time.Duration)

	// sleep is injectable for tests; nil means a real timer.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns the standard gateway policy: 5 retries starting
// at 100ms doubling backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 5, BaseDelay: 100 * time.Millisecond}
}

// Delay computes the backoff for a given retry attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return p.BaseDelay << attempt
}

func (p RetryPolicy) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retry executes fn, retrying transient busy/locked failures per the policy.
// Any other error, or exhausted retries, returns the last error unmodified.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) || attempt >= policy.MaxRetries {
			return lastErr
		}
		delay := policy.Delay(attempt)
		if policy.OnRetry != nil {
			policy.OnRetry(lastErr, attempt, delay)
		}
		if err := policy.wait(ctx, delay); err != nil {
			return lastErr
		}
	}
}

// isTransient reports whether err is a retryable busy/locked condition.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		code := serr.Code() & 0xff
		return code == codeBusy || code == codeLocked
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}

// Package retry runs an operation a bounded number of times, waiting out
// rate limits and backing off linearly between transient failures.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/naka-gawa/contrib-counter/internal/apperr"
)

// Policy controls how Do retries an operation.
type Policy struct {
	// Attempts is the total number of calls, including the first one.
	Attempts int
	// Backoff is multiplied by the attempt number between transient failures.
	Backoff time.Duration
	// ResetMargin is added to the advertised rate-limit reset time.
	ResetMargin time.Duration
	// MaxWait caps a single rate-limit wait. Longer waits fail immediately.
	MaxWait time.Duration

	// Now and Sleep are replaced in tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Default returns 3 attempts, 2s linear backoff and a 1s margin on rate-limit resets.
func Default() Policy {
	return Policy{
		Attempts:    3,
		Backoff:     2 * time.Second,
		ResetMargin: time.Second,
		MaxWait:     time.Hour,
		Now:         time.Now,
		Sleep:       SleepContext,
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempts are used up. Rate-limit errors wait until the advertised reset.
// Exhausting all attempts returns a RETRIES_EXHAUSTED error wrapping the last cause.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := max(p.Attempts, 1)
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		wait, ok := p.delay(err, attempt)
		if !ok {
			return err
		}
		if attempt == attempts {
			break
		}
		if err := p.sleep(ctx, wait); err != nil {
			return err
		}
	}
	return apperr.Wrap(apperr.CodeRetriesExhausted, lastErr, "gave up after %d attempts", attempts)
}

// delay returns how long to wait before the next attempt, or false if err
// must not be retried.
func (p Policy) delay(err error, attempt int) (time.Duration, bool) {
	var e *apperr.Error
	if !errors.As(err, &e) {
		return 0, false
	}
	if e.Code == apperr.CodeRateLimited {
		wait := p.ResetMargin
		if !e.ResetAt.IsZero() {
			wait += max(e.ResetAt.Sub(p.now()), 0)
		}
		if p.MaxWait > 0 && wait > p.MaxWait {
			return 0, false
		}
		return wait, true
	}
	if e.Retryable {
		return p.Backoff * time.Duration(attempt), true
	}
	return 0, false
}

func (p Policy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

// SleepContext blocks for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
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

// Package retry runs an operation under a bounded exponential backoff policy.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy bounds how often and how patiently an operation is retried.
type Policy struct {
	// MaxAttempts counts the first call. Values below 1 mean a single attempt.
	MaxAttempts int
	// BaseDelay is the wait after the first failure; it doubles after each
	// subsequent one.
	BaseDelay time.Duration
	// MaxDelay caps a single wait. Zero means no cap.
	MaxDelay time.Duration
	// Wait replaces the timer, for tests.
	Wait func(ctx context.Context, d time.Duration) error
}

// Permanent marks an error that must not be retried.
type Permanent struct {
	Err error
}

func (e *Permanent) Error() string { return e.Err.Error() }
func (e *Permanent) Unwrap() error { return e.Err }

func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &Permanent{Err: err}
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay is the wait before attempt n+1 after attempt n (1-based) failed.
func (p Policy) Delay(attempt int) time.Duration {
	delay := p.BaseDelay
	if delay <= 0 {
		return 0
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Do calls fn until it succeeds, returns a Permanent error, or the attempts
// run out. The last error is returned. A cancelled ctx ends the wait early.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	wait := p.Wait
	if wait == nil {
		wait = waitWithContext
	}

	var err error
	limit := p.attempts()
	for attempt := 1; attempt <= limit; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		var perm *Permanent
		if errors.As(err, &perm) {
			return perm.Err
		}
		if attempt == limit {
			break
		}
		if waitErr := wait(ctx, p.Delay(attempt)); waitErr != nil {
			return errors.Join(err, waitErr)
		}
	}
	return err
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

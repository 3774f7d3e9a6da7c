// Package retry wraps fallible calls with exponential backoff and, for calls
// to the payment gateway, a serialising queue guarded by a circuit breaker.
package retry

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/wichananm65/storefront-backend/internal/apperr"
)

// Policy controls how often and how long a failed call is retried.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Sleep waits for d or until ctx is done. Nil uses a real timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
}

// Delay returns the wait before retry number attempt+1.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retryable reports whether err is worth another attempt. Client errors and
// context cancellation are final.
func Retryable(err error) bool {
	if err == nil || apperr.IsClient(err) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Backoff calls fn until it succeeds, returns a non-retryable error, or
// p.MaxRetries retries have been spent. The last error is returned.
func Backoff(ctx context.Context, p Policy, log logrus.FieldLogger, fn func(context.Context) error) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return backoff(ctx, p, log, fn, nil)
}

// backoff runs the retry loop. hooks.before is consulted ahead of each attempt
// and may abort the loop; hooks.after sees every attempt's result.
func backoff(ctx context.Context, p Policy, log logrus.FieldLogger, fn func(context.Context) error, hooks *attemptHooks) error {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if hooks != nil && hooks.before != nil {
			if err := hooks.before(); err != nil {
				return err
			}
		}
		err := fn(ctx)
		if hooks != nil && hooks.after != nil {
			hooks.after(err)
		}
		if err == nil {
			return nil
		}
		lastErr = err
		if !Retryable(err) || attempt == p.MaxRetries {
			break
		}
		delay := p.Delay(attempt)
		log.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"delay":   delay.String(),
		}).WithError(err).Warn("call failed, retrying")
		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

type attemptHooks struct {
	before func() error
	after  func(err error)
}

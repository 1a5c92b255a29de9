package collab

import (
	"context"
	"errors"
	"time"

	"github.com/lumenlab/scholar/internal/errs"
	"go.uber.org/zap"
)

// RetryPolicy bounds the exponential backoff applied to collaborator calls.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy mirrors the engine defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: time.Minute}
}

// Caller wraps collaborator invocations in retry-with-backoff plus a shared
// circuit breaker. Retries are invisible to callers except as latency.
type Caller struct {
	policy  RetryPolicy
	breaker *Breaker
	logger  *zap.Logger
}

// NewCaller creates a caller with the given policy and breaker.
func NewCaller(policy RetryPolicy, breaker *Breaker, logger *zap.Logger) *Caller {
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = time.Minute
	}
	return &Caller{policy: policy, breaker: breaker, logger: logger}
}

// Do runs fn under the retry and breaker policy. A breaker-open rejection
// is returned immediately with no attempt; context cancellation stops the
// backoff loop.
func (c *Caller) Do(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := c.breaker.Allow(); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= c.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt)
			c.logger.Warn("collaborator retry",
				zap.String("call", name),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				c.breaker.Failure()
				return errs.Timeout(name+" cancelled during backoff", ctx.Err())
			case <-time.After(delay):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			c.breaker.Success()
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			break
		}
	}

	c.breaker.Failure()
	return errs.Query(name+" failed after retries", lastErr)
}

// backoff returns the capped exponential delay before the given attempt.
func (c *Caller) backoff(attempt int) time.Duration {
	delay := c.policy.BaseDelay << (attempt - 1)
	if delay > c.policy.MaxDelay || delay <= 0 {
		delay = c.policy.MaxDelay
	}
	return delay
}

package apierr

import (
	"context"
	"time"
)

// RetryPolicy is the engine-wide policy for transient downstream failures:
// exponential backoff, base 100ms, factor 2, cap 5s, max 5 attempts.
type RetryPolicy struct {
	Base        time.Duration
	Factor      float64
	Cap         time.Duration
	MaxAttempts int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Base:        100 * time.Millisecond,
		Factor:      2,
		Cap:         5 * time.Second,
		MaxAttempts: 5,
	}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.Base
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Factor)
		if d >= p.Cap {
			return p.Cap
		}
	}
	return d
}

// Do runs fn up to MaxAttempts times, sleeping between attempts. Only
// transient errors are retried; validation, conflict, not-found and integrity
// errors surface immediately. After the budget is exhausted the last transient
// error is re-kinded as unavailable.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return New(KindTransient, "context_cancelled", err)
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return New(KindTransient, "context_cancelled", ctx.Err())
		case <-time.After(p.backoff(attempt)):
		}
	}
	return New(KindUnavailable, "retry_budget_exhausted", lastErr)
}

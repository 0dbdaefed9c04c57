// Package infra provides shared infrastructure for the fetch pipeline:
// the process-wide request rate budget and the retry/backoff discipline.
package infra

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is the process-wide request budget shared by all concurrent
// fetches. It wraps a token bucket; a single Limiter instance must be shared
// across workers — per-worker limiters would collectively overshoot the
// external API's quota.
type Limiter struct {
	bucket *rate.Limiter
}

// NewLimiter creates a limiter allowing perSecond requests per second with
// the given burst size.
func NewLimiter(perSecond float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{bucket: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Wait blocks until a request slot is available or the context is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.bucket.Wait(ctx)
}

// RetryPolicy bounds retries of transient failures with exponential backoff.
type RetryPolicy struct {
	MaxRetries int           // additional attempts after the first
	BaseDelay  time.Duration // delay before the first retry; doubles each retry
}

// Retry runs fn up to MaxRetries+1 times. A retry is attempted only when
// retryable reports the error as transient; permanent errors propagate
// immediately. The backoff sleep is context-aware.
func (p RetryPolicy) Retry(ctx context.Context, fn func() error, retryable func(error) bool) error {
	var lastErr error
	delay := p.BaseDelay
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) {
			return err
		}
	}
	return lastErr
}

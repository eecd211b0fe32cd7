package subprocess

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/antigravity-dev/sfbench/internal/config"
)

// RetryPolicy controls exponential backoff for a retryable operation.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
}

// FromConfig adapts a config.RetryPolicy into a subprocess.RetryPolicy.
func FromConfig(p config.RetryPolicy) RetryPolicy {
	return RetryPolicy{
		MaxRetries:    p.MaxRetries,
		InitialDelay:  p.InitialDelay.Duration,
		BackoffFactor: p.BackoffFactor,
		MaxDelay:      p.MaxDelay.Duration,
	}
}

// Delay returns the backoff duration before retry attempt number `attempt`
// (1-indexed), with up to 10% jitter, capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 0 || p.InitialDelay <= 0 {
		return 0
	}
	factor := p.BackoffFactor
	if factor < 1.0 {
		factor = 1.0
	}

	backoff := float64(p.InitialDelay) * math.Pow(factor, float64(attempt-1))
	if math.IsNaN(backoff) || math.IsInf(backoff, 0) {
		backoff = float64(p.MaxDelay)
	}
	if p.MaxDelay > 0 && backoff > float64(p.MaxDelay) {
		backoff = float64(p.MaxDelay)
	}

	jitter := 1.0 + rand.Float64()*0.1
	return time.Duration(backoff * jitter)
}

// Do runs fn up to MaxRetries+1 times, sleeping Delay(attempt) between
// attempts, stopping early when shouldRetry(err) is false or the context is
// cancelled. It never retries a nil error.
func Do(ctx context.Context, policy RetryPolicy, shouldRetry func(err error) bool, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := policy.Delay(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

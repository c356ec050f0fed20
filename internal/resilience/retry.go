// Package resilience provides generic retry and circuit-breaking
// primitives shared by the executor's task dispatch path and the sample
// HTTP task plugin. It has no rate limiter.
package resilience

import (
	"context"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
)

// FullJitter returns a random duration in [0, d), the same full-jitter
// strategy Retry applies internally, exposed for callers (the executor's
// retry-policy backoff) that compute their own delay but still want
// jitter smoothing across concurrently retrying tasks.
func FullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d)))
}

// Retry executes fn with exponential backoff and full jitter. delay is the
// initial backoff; it doubles each attempt until attempts are exhausted.
func Retry[T any](ctx context.Context, attempts int, delay time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	if attempts <= 0 {
		return zero, nil
	}
	cur := delay
	var lastErr error
	meter := otel.Meter("fluxion")
	attemptCounter, _ := meter.Int64Counter("fluxion_resilience_retry_attempts_total")
	successCounter, _ := meter.Int64Counter("fluxion_resilience_retry_success_total")
	failCounter, _ := meter.Int64Counter("fluxion_resilience_retry_fail_total")
	for i := 0; i < attempts; i++ {
		v, err := fn()
		attemptCounter.Add(ctx, 1)
		if err == nil {
			successCounter.Add(ctx, 1)
			return v, nil
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		if cur > 60*time.Second {
			cur = 60 * time.Second
		}
		sleep := time.Duration(rand.Int63n(int64(cur) + 1))
		select {
		case <-ctx.Done():
			failCounter.Add(ctx, 1)
			return zero, ctx.Err()
		case <-time.After(sleep):
		}
		cur *= 2
	}
	failCounter.Add(ctx, 1)
	return zero, lastErr
}

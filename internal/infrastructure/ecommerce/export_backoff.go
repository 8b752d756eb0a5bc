package ecommerce

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	// BaseRetryDelay is the delay before the first retry, doubled per attempt
	BaseRetryDelay = time.Second
	// MaxRetryJitter is the exclusive upper bound of the random jitter added to a retry delay
	MaxRetryJitter = 100 * time.Millisecond

	// maxBackoffExponent keeps 2^(attempt-1) seconds well inside time.Duration
	maxBackoffExponent = 30
)

// RetryDelay returns 2^(attempt-1) seconds plus a uniform jitter in [0, MaxRetryJitter).
// Attempts below 1 are treated as 1. No cap is applied.
// The jitter comes from the math/rand/v2 top-level source, which is safe for
// concurrent use without a shared lock.
func RetryDelay(attempt int) time.Duration {
	return retryDelay(attempt, rand.N(MaxRetryJitter))
}

func retryDelay(attempt int, jitter time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := attempt - 1
	if exp > maxBackoffExponent {
		exp = maxBackoffExponent
	}
	return BaseRetryDelay*time.Duration(1<<exp) + jitter
}

// nextPollDelay doubles the current poll delay, capped at maxDelay
func nextPollDelay(current, maxDelay time.Duration) time.Duration {
	if current <= 0 {
		return maxDelay
	}
	next := current * 2
	if next > maxDelay || next < current {
		return maxDelay
	}
	return next
}

// sleepContext waits for d or until ctx is done, whichever comes first
func sleepContext(ctx context.Context, d time.Duration) error {
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

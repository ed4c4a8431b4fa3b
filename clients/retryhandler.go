package clients

import (
	"math/rand"
	"time"
)

// RetryInfo represents the retry configuration for a client.
type RetryInfo struct {
	MaxRetries int // Maximum number of retries allowed.
	Wait       int // Wait time in milliseconds between retries (base wait when Exponential is set).

	// Exponential enables exponential backoff: wait = Wait * Multiplier^retryCount.
	// When false, WaitTime always returns Wait regardless of retryCount.
	Exponential bool
	// Multiplier is the exponential growth factor. Defaults to 2 when <= 0.
	Multiplier float64
	// MaxWait caps the computed exponential wait, in milliseconds. Ignored
	// when Exponential is false or MaxWait <= 0.
	MaxWait int
	// Jitter adds a random [0, backoff) amount to the computed backoff,
	// spreading out retries from concurrent callers.
	Jitter bool
}

// WaitTime returns how long to wait before the retry attempt numbered
// retryCount (0-based). With Exponential unset it is the fixed Wait
// duration; with Exponential set it grows by Multiplier per attempt,
// capped at MaxWait when positive, then has Jitter applied if enabled.
func (r *RetryInfo) WaitTime(retryCount int) time.Duration {
	if r.Wait <= 0 {
		return 0
	}

	waitMs := float64(r.Wait)
	if r.Exponential {
		multiplier := r.Multiplier
		if multiplier <= 0 {
			multiplier = 2
		}
		for i := 0; i < retryCount; i++ {
			waitMs *= multiplier
		}
		if r.MaxWait > 0 && waitMs > float64(r.MaxWait) {
			waitMs = float64(r.MaxWait)
		}
	}

	backoff := time.Duration(waitMs) * time.Millisecond
	if r.Jitter && backoff > 0 {
		backoff += time.Duration(rand.Int63n(int64(backoff)))
	}
	return backoff
}

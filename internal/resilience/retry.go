// Package resilience implements the retry policy used for transient I/O
// failures during file opens and region reads.
package resilience

import (
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/LavishGent/tilecache/internal/config"
	"github.com/LavishGent/tilecache/internal/types"
)

// RetryPolicy retries retryable failures with exponential backoff. The
// attempt budget is supplied per call because the cache's failure_retries
// attribute can change at runtime.
type RetryPolicy struct {
	initialBackoff time.Duration
	maxBackoff     time.Duration
	multiplier     float64
	jitter         bool

	totalRetries atomic.Int64
	totalSuccess atomic.Int64
	totalFailure atomic.Int64
}

// NewRetryPolicy creates a retry policy with the given backoff configuration.
func NewRetryPolicy(cfg config.RetryConfig) *RetryPolicy {
	rp := &RetryPolicy{
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		multiplier:     cfg.Multiplier,
		jitter:         cfg.Jitter,
	}

	if rp.initialBackoff <= 0 {
		rp.initialBackoff = 100 * time.Millisecond
	}
	if rp.maxBackoff <= 0 {
		rp.maxBackoff = 2 * time.Second
	}
	if rp.multiplier <= 0 {
		rp.multiplier = 2.0
	}

	return rp
}

// Execute runs fn, retrying up to retries extra times while fn keeps failing
// with a retryable error. Non-retryable errors surface immediately.
func (rp *RetryPolicy) Execute(retries int, fn func() error) error {
	if retries < 0 {
		retries = 0
	}

	var lastErr error
	for attempt := 1; attempt <= retries+1; attempt++ {
		err := fn()
		if err == nil {
			rp.totalSuccess.Add(1)
			return nil
		}

		lastErr = err

		if !types.IsRetryable(err) {
			rp.totalFailure.Add(1)
			return err
		}

		if attempt == retries+1 {
			break
		}

		rp.totalRetries.Add(1)
		time.Sleep(rp.calculateBackoff(attempt))
	}

	rp.totalFailure.Add(1)
	return lastErr
}

// calculateBackoff calculates the backoff duration for an attempt.
func (rp *RetryPolicy) calculateBackoff(attempt int) time.Duration {
	// Exponential backoff
	backoff := float64(rp.initialBackoff) * math.Pow(rp.multiplier, float64(attempt-1))

	// Cap at max backoff
	if backoff > float64(rp.maxBackoff) {
		backoff = float64(rp.maxBackoff)
	}

	// Add jitter (±25%)
	if rp.jitter {
		jitterRange := backoff * 0.25
		jitter := (rand.Float64() * 2 * jitterRange) - jitterRange
		backoff += jitter
	}

	return time.Duration(backoff)
}

// Stats returns retry statistics.
func (rp *RetryPolicy) Stats() (retries, success, failure int64) {
	return rp.totalRetries.Load(), rp.totalSuccess.Load(), rp.totalFailure.Load()
}

// Reset resets the statistics.
func (rp *RetryPolicy) Reset() {
	rp.totalRetries.Store(0)
	rp.totalSuccess.Store(0)
	rp.totalFailure.Store(0)
}

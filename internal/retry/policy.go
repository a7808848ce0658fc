// Package retry centralizes the backoff policy shared by every network
// operation, replacing per-call-site retry loops.
package retry

import (
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes a bounded exponential backoff with jitter. The zero value
// is not useful; construct with NewPolicy.
type Policy struct {
	// MaxRetries bounds retries after the first attempt, so an operation is
	// attempted at most 1+MaxRetries times
	MaxRetries int
	// BaseDelay is the initial backoff interval
	BaseDelay time.Duration
	// MaxDelay caps the backoff interval
	MaxDelay time.Duration
}

// NewPolicy creates a retry policy, applying defaults for zero fields
func NewPolicy(maxRetries int, baseDelay, maxDelay time.Duration) Policy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 10 * time.Second
	}
	return Policy{
		MaxRetries: maxRetries,
		BaseDelay:  baseDelay,
		MaxDelay:   maxDelay,
	}
}

// Do runs op with exponential backoff plus jitter until it succeeds, returns
// a permanent error, exhausts the retry bound, or the context is canceled.
// Returns the number of attempts actually made.
func (p Policy) Do(ctx context.Context, op func() error) (int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.5 // Jitter to spread retries out
	b.MaxElapsedTime = 0       // Bounded by attempt count, not wall clock

	attempts := 0
	counted := func() error {
		attempts++
		return op()
	}

	err := backoff.Retry(counted,
		backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxRetries)), ctx))
	return attempts, err
}

// Permanent marks err as non-retryable, stopping the backoff loop
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// RetryableStatus reports whether an HTTP status warrants a retry:
// 429 and all 5xx. Other 4xx are permanent failures.
func RetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

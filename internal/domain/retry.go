package domain

import "time"

// RetryPolicy bounds retries around provider and tool calls. The delay is
// linear in the attempt count: retry n sleeps n * Backoff.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

// DefaultRetryPolicy returns the stock provider retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, Backoff: 500 * time.Millisecond}
}

// Delay returns the sleep before retry n (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(attempt) * p.Backoff
}

// ShouldRetry reports whether a call that has failed `attempt` times so far
// may go again. Non-retriable errors bypass the budget entirely.
func (p RetryPolicy) ShouldRetry(attempt int, err error) bool {
	if attempt > p.MaxRetries {
		return false
	}
	return IsRetriable(err)
}

package provider

import (
	"context"
	"errors"
	"log/slog"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/trustbench/trustbench/internal/adapter/observability"
	"github.com/trustbench/trustbench/internal/domain"
)

// linearBackOff implements backoff.BackOff with the harness retry policy:
// retry n sleeps n * base, stopping after the retry budget is spent.
type linearBackOff struct {
	policy  domain.RetryPolicy
	attempt int
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.attempt++
	if l.attempt > l.policy.MaxRetries {
		return backoff.Stop
	}
	return l.policy.Delay(l.attempt)
}

func (l *linearBackOff) Reset() { l.attempt = 0 }

// guard wraps one outbound provider call with the shared semaphore, a
// per-call timeout, and retries. Non-retriable errors short-circuit via
// backoff.Permanent; a drained retry budget surfaces the last error as-is.
func guard(ctx context.Context, pool *Pool, policy domain.RetryPolicy, timeout time.Duration, name, operation string, fn func(context.Context) error) error {
	if err := pool.Acquire(ctx); err != nil {
		return err
	}
	defer pool.Release()

	attempts := 0
	op := func() error {
		callCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		attempts++
		start := time.Now()
		err := fn(callCtx)
		observability.ProviderRequestsTotal.WithLabelValues(name, operation).Inc()
		observability.ProviderRequestDuration.WithLabelValues(name, operation).Observe(time.Since(start).Seconds())
		if err == nil {
			return nil
		}

		// A deadline expiring on the per-call context is a retriable
		// timeout; the parent context ending means the run is over.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = domain.ErrTimeout
		}
		if ctx.Err() != nil {
			return backoff.Permanent(domain.ErrCancelled)
		}
		if !domain.IsRetriable(err) {
			return backoff.Permanent(err)
		}
		observability.ProviderRetriesTotal.WithLabelValues(name).Inc()
		slog.Warn("provider call retrying",
			slog.String("provider", name),
			slog.String("operation", operation),
			slog.Int("attempt", attempts),
			slog.Any("error", err))
		return err
	}

	bo := backoff.WithContext(&linearBackOff{policy: policy}, ctx)
	return backoff.Retry(op, bo)
}

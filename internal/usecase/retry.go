package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws/retry"
)

const (
	defaultAdapterTimeout = 30 * time.Second
	defaultMaxAttempts    = 3
	defaultMaxBackoff     = 4 * time.Second
)

// retryPolicy bounds every adapter attempt with a timeout and retries
// transient failures with exponential jitter backoff.
type retryPolicy struct {
	timeout     time.Duration
	maxAttempts int
	backoff     *retry.ExponentialJitterBackoff
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *slog.Logger
}

func newRetryPolicy(timeout time.Duration, maxAttempts int, logger *slog.Logger) retryPolicy {
	if timeout <= 0 {
		timeout = defaultAdapterTimeout
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return retryPolicy{
		timeout:     timeout,
		maxAttempts: maxAttempts,
		backoff:     retry.NewExponentialJitterBackoff(defaultMaxBackoff),
		sleep:       sleepContext,
		logger:      logger,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// callWithRetry runs fn until it succeeds, fails permanently, or attempts run
// out. Errors come back as *Error tagged with op.
func callWithRetry[T any](ctx context.Context, p retryPolicy, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		out, err := attemptOnce(ctx, p.timeout, fn)
		if err == nil {
			return out, nil
		}

		mapped := toError(op, err)
		if ctx.Err() != nil || !mapped.Retryable() || attempt >= p.maxAttempts {
			return zero, mapped
		}

		delay, berr := p.backoff.BackoffDelay(attempt, err)
		if berr != nil {
			return zero, mapped
		}
		p.logger.WarnContext(ctx, "adapter call failed, retrying",
			"op", op, "attempt", attempt, "code", mapped.Code, "delay", delay, "err", err)
		if serr := p.sleep(ctx, delay); serr != nil {
			return zero, mapped
		}
	}
}

func attemptOnce[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := fn(actx)
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		var zero T
		return zero, newError(ErrorTimeout, "attempt_timeout", err)
	}
	return out, err
}

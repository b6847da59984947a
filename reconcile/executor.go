package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/voicebridge/discordapi"
	"github.com/onnwee/voicebridge/telemetry"
)

// RetryPolicy governs the executor: per-call timeout, bounded attempts, and a
// linearly growing delay between attempts (BaseDelay * attempt number).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	CallTimeout time.Duration
}

// DefaultRetryPolicy matches the configured defaults: 3 attempts, 1s base delay,
// 10s per-call timeout.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 1 * time.Second, CallTimeout: 10 * time.Second}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 1 * time.Second
	}
	if p.CallTimeout <= 0 {
		p.CallTimeout = 10 * time.Second
	}
	return p
}

// Executor runs single remote operations under a retry policy. Operations must be
// idempotent or safe to repeat. Callers always receive a classified error or a
// success value; the executor never panics past its boundary.
type Executor struct {
	Policy RetryPolicy
}

// Execute runs fn with a per-call timeout, retrying retryable failures with
// non-decreasing backoff up to the attempt bound. Fatal failures abort
// immediately without consuming retry budget.
func Execute[T any](ctx context.Context, e *Executor, operation string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	policy := e.Policy.normalized()

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := policy.BaseDelay * time.Duration(attempt-1)
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
			if telemetry.RemoteRetries != nil {
				telemetry.RemoteRetries.Inc()
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, policy.CallTimeout)
		start := time.Now()
		out, err := fn(callCtx)
		cancel()
		elapsed := time.Since(start)

		if err == nil {
			telemetry.ObserveRemoteCall(operation, "success", elapsed)
			return out, nil
		}

		class := discordapi.ClassifyError(err)
		telemetry.ObserveRemoteCall(operation, class.String()+"_error", elapsed)
		if class == discordapi.ErrorClassFatal {
			slog.Warn("remote call failed fatally",
				slog.String("operation", operation),
				slog.Int("attempt", attempt),
				slog.Any("err", err))
			return zero, err
		}

		lastErr = err
		slog.Warn("remote call attempt failed",
			slog.String("operation", operation),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", policy.MaxAttempts),
			slog.Any("err", err))
	}

	slog.Error("remote call exhausted retries",
		slog.String("operation", operation),
		slog.Int("attempts", policy.MaxAttempts),
		slog.Any("err", lastErr))
	return zero, fmt.Errorf("%s: exhausted %d attempts: %w", operation, policy.MaxAttempts, lastErr)
}

// Do is Execute for operations that return only an error.
func (e *Executor) Do(ctx context.Context, operation string, fn func(context.Context) error) error {
	_, err := Execute(ctx, e, operation, func(callCtx context.Context) (struct{}, error) {
		return struct{}{}, fn(callCtx)
	})
	return err
}

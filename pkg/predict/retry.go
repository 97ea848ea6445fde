package predict

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type retryConfig struct {
	baseDelay time.Duration
	sleep     SleepFunc
	logger    *zap.Logger
}

type RetryOption func(*retryConfig)

func WithBaseDelay(d time.Duration) RetryOption {
	return func(c *retryConfig) { c.baseDelay = d }
}

// WithSleep replaces the real timer, mostly for tests.
func WithSleep(fn SleepFunc) RetryOption {
	return func(c *retryConfig) { c.sleep = fn }
}

func WithRetryLogger(l *zap.Logger) RetryOption {
	return func(c *retryConfig) { c.logger = l }
}

// BackoffDelay is the wait after the given zero-based failed attempt:
// base, 2*base, 4*base, ...
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	return base << attempt
}

// UploadWithRetry runs upload up to maxAttempts times (DefaultMaxAttempts
// when maxAttempts <= 0), sleeping BackoffDelay between attempts. The last
// error is returned once attempts are exhausted. Context cancellation stops
// the loop immediately.
func UploadWithRetry[T any](ctx context.Context, maxAttempts int, upload func(ctx context.Context) (T, error), opts ...RetryOption) (T, error) {
	cfg := retryConfig{
		baseDelay: DefaultBaseDelay,
		sleep:     sleepContext,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		result, err := upload(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		if attempt == maxAttempts-1 {
			break
		}

		delay := BackoffDelay(cfg.baseDelay, attempt)
		cfg.logger.Warn("upload attempt failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := cfg.sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("upload retry aborted: %w", err)
		}
	}
	return zero, fmt.Errorf("upload failed after %d attempts: %w", maxAttempts, lastErr)
}

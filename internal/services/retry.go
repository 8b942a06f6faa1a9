// internal/services/retry.go
package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Corphon/ChronoAtlas/internal/config"
	"github.com/Corphon/ChronoAtlas/internal/llm"
	"github.com/Corphon/ChronoAtlas/internal/utils"
)

// callWithRetry 按重试策略调用 fn；离线、不支持的操作以及上下文取消不会重试
func callWithRetry[T any](ctx context.Context, policy config.RetryPolicy, op string, fn func(context.Context) (T, error)) (T, error) {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var (
		result T
		err    error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if waitErr := sleepContext(ctx, policy.Delay(attempt-1)); waitErr != nil {
				return result, waitErr
			}
		}

		result, err = fn(ctx)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if !isRetryable(err) {
			return result, err
		}

		if attempt < attempts {
			utils.GetLogger().Debug("provider call failed, retrying",
				zap.String("operation", op),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
	}
	return result, err
}

func isRetryable(err error) bool {
	switch {
	case errors.Is(err, llm.ErrOffline),
		errors.Is(err, llm.ErrUnsupported),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}

	// 4xx 中只有 429 值得重试
	var providerErr *llm.ProviderError
	if errors.As(err, &providerErr) {
		status := providerErr.StatusCode()
		if status >= 400 && status < 500 && status != 429 {
			return false
		}
	}
	return true
}

// sleepContext 等待 d 或直到 ctx 结束
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

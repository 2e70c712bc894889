package handles

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/pii-mask/internal/logging"
)

type retryPolicy struct {
	attempts       int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

var defaultRetry = retryPolicy{attempts: 3, initialBackoff: 50 * time.Millisecond, maxBackoff: time.Second}

// do runs fn until it succeeds, fails with a non-transient error, or attempts run out.
// Backoff doubles up to maxBackoff. Errors come back as *logging.OperationError.
func (p retryPolicy) do(ctx context.Context, logger *zap.Logger, operation, key string, fn func() error) error {
	if p.attempts <= 1 {
		return logging.Wrap(operation, key, fn())
	}

	backoff := p.initialBackoff
	var err error
	for attempt := 0; attempt < p.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.Wrap(operation, key, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= p.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				logger.Info("store operation succeeded after retry",
					zap.String("operation", operation), zap.String("handle", key), zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if !isTransient(err) || attempt == p.attempts-1 {
			break
		}
		logger.Warn("transient store error",
			zap.String("operation", operation), zap.String("handle", key), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return logging.Wrap(operation, key, err)
}

func isTransient(err error) bool {
	if err == nil || errors.Is(err, ErrNotFound) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}
	var temporary interface{ Temporary() bool }
	return errors.As(err, &temporary) && temporary.Temporary()
}

package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// callPolicy bounds each remote attempt by timeout and retries failed attempts
// retries times, interval apart.
type callPolicy struct {
	timeout  time.Duration
	retries  int
	interval time.Duration
}

func (p callPolicy) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		err := fn(attemptCtx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrInvalidKeyHash) || errors.Is(err, ErrNoTransactor) || errors.Is(err, ErrReceiptNotFound) {
			return backoff.Permanent(err)
		}
		zap.L().Warn("ledger call failed",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.retries+1),
			zap.Error(err),
		)
		return err
	}

	var b backoff.BackOff = backoff.NewConstantBackOff(p.interval)
	b = backoff.WithMaxRetries(b, uint64(p.retries))
	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

// internal/conn/retry.go

package conn

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"fleetcfg/internal/apperr"
)

const idempotentAttempts = 3

// RetryIdempotent runs op with bounded exponential backoff, retrying
// only transport-level failures. It must be used exclusively for
// idempotent operations (read, stat, list, exists); mutating operations
// are never auto-retried — their caller decides.
func RetryIdempotent(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(newRetryBackOff(), idempotentAttempts-1), ctx)

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if apperr.Retryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

func newRetryBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 15 * time.Second
	return b
}

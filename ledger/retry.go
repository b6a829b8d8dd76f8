package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds how often a conflicting transaction is re-run.
type RetryPolicy struct {
	MaxAttempts uint64
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy retries a conflicted transaction up to 5 times in total.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    250 * time.Millisecond,
	}
}

func (p RetryPolicy) backoff() retry.Backoff {
	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}
	b := retry.NewExponential(base)
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	b = retry.WithJitterPercent(20, b)
	return retry.WithMaxRetries(attempts-1, b)
}

// Transact runs fn in a transaction, re-running the whole transaction when
// the store reports ErrConcurrentModification. Once the attempts are spent
// the conflict surfaces as ErrInternal. Any other error is returned as is.
//
// onRetry, when non-nil, is called before each re-run.
func Transact(ctx context.Context, s TxStore, p RetryPolicy, fn func(Tx) error, onRetry func(attempt int, err error)) error {
	attempt := 0
	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempt++
		if attempt > 1 && onRetry != nil {
			onRetry(attempt, ErrConcurrentModification)
		}
		err := s.WithTx(ctx, fn)
		if IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if IsRetryable(err) {
		return fmt.Errorf("%w: transaction still conflicting after %d attempts: %v", ErrInternal, attempt, err)
	}
	return err
}

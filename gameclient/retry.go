package gameclient

import (
	"context"
	"time"
)

// RetryPolicy retries an operation with capped doubling backoff. Errors
// rejected by Retryable fail immediately; everything else is retried until
// MaxAttempts is exhausted or the context expires.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Retryable      func(error) bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    4,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Retryable:      func(error) bool { return true },
	}
}

func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	backoff := p.InitialBackoff
	var err error

	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt >= p.MaxAttempts {
			return err
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff *= 2
		if backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
	}
}

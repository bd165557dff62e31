package calendar

import (
	"context"
	"log"
	"time"
)

// DefaultBackoff is the wait before each retry; its length bounds the number of retries.
var DefaultBackoff = []time.Duration{700 * time.Millisecond, 1500 * time.Millisecond, 3 * time.Second}

// WithRetry runs fn and repeats it while the failure is retryable and backoff steps remain.
// Non-retryable errors are returned immediately.
func WithRetry(ctx context.Context, op string, backoff []time.Duration, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil || !isRetryable(err) || attempt >= len(backoff) {
			return err
		}
		log.Printf("[Calendar] retrying op=%s attempt=%d wait=%s err=%v", op, attempt+1, backoff[attempt], err)
		t := time.NewTimer(backoff[attempt])
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

package transport

import (
	"context"
	"math/rand"
	"time"
)

const maxBackoff = 2 * time.Second

// Backoff doubles base for every previous attempt, adds up to 25% jitter and
// caps the result at two seconds.
func Backoff(base time.Duration, attempt int) time.Duration {
	delay := base * time.Duration(1<<attempt)
	if quarter := int64(delay / 4); quarter > 0 {
		delay += time.Duration(rand.Int63n(quarter))
	}
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

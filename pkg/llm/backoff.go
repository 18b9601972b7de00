package llm

import (
	"context"
	"math/rand"
	"time"
)

// backoffDelay computes the exponential delay for a retry attempt
// (0-indexed): base × 2^attempt, capped at max, with up to 25% jitter so
// concurrent retries do not synchronize.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	if max <= 0 {
		max = 5 * time.Second
	}
	d := base << uint(attempt)
	if d > max || d <= 0 {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}

// sleep waits for d or until ctx is done, reporting whether the wait
// completed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

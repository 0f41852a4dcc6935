package estimate

import (
	"context"
	"time"
)

// Retry is a bounded retry policy for backend calls inside a tier. The zero
// value makes a single attempt.
type Retry struct {
	Attempts  int              // Total tries, the first included.
	Backoff   time.Duration    // Delay before the second try; doubles after each.
	Retryable func(error) bool // Reports whether an error is worth another try.
}

// do calls f until it succeeds, fails permanently, runs out of attempts or
// ctx ends. The last error is returned.
func (r Retry) do(ctx context.Context, f func(context.Context) error) error {
	attempts := max(r.Attempts, 1)
	delay := r.Backoff

	var err error
	for i := range attempts {
		if i > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return err
			case <-timer.C:
			}
			delay *= 2
		}

		err = f(ctx)
		if err == nil || r.Retryable == nil || !r.Retryable(err) {
			return err
		}
	}
	return err
}

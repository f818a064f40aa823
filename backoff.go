package taskrouter

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// SleepFunc waits for the given duration or until ctx is done. Injected so
// the retry schedule is testable without real delays.
type SleepFunc func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// newAttemptBackOff builds the retry schedule used against one candidate
// model: exponential growth with jitter, capped at MaxBackoff. The
// randomization keeps concurrent callers that failed together from retrying
// in lockstep.
func newAttemptBackOff(rc RetryConfig) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = rc.InitialBackoff.Std()
	b.MaxInterval = rc.MaxBackoff.Std()
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0 // attempts are bounded by count, not elapsed time
	b.Reset()
	return b
}

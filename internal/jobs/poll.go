package jobs

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// PollPolicy is the backoff shape for provider status checks. MaxAttempts
// bounds the loop; there is no wall-clock deadline on top of it.
type PollPolicy struct {
	Initial     time.Duration
	Multiplier  float64
	Max         time.Duration
	MaxAttempts int
}

// DefaultPollPolicy waits 5s, 6.5s, 8.45s ... capped at 20s, for about four
// minutes in the worst case.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{Initial: 5 * time.Second, Multiplier: 1.3, Max: 20 * time.Second, MaxAttempts: 15}
}

func (p PollPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.Max
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// Intervals lists the waits the policy produces, in order.
func (p PollPolicy) Intervals() []time.Duration {
	b := p.newBackOff()
	out := make([]time.Duration, 0, p.MaxAttempts)
	for i := 0; i < p.MaxAttempts; i++ {
		out = append(out, b.NextBackOff())
	}
	return out
}

// Sleeper suspends the caller for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Package retry runs operations under a bounded retry budget with full-jitter
// exponential backoff. Policies are plain values and safe for concurrent use.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy bounds how often and for how long an operation is retried.
//
// Sleep, Now and Jitter default to a context-aware timer, time.Now and
// math/rand/v2. Tests replace them to avoid real waits.
type Policy struct {
	MaxAttempts int
	MaxElapsed  time.Duration
	MinBackoff  time.Duration
	MaxBackoff  time.Duration

	// Retryable classifies errors. A nil predicate retries nothing.
	Retryable func(error) bool

	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)

	Sleep  SleepFunc
	Now    func() time.Time
	Jitter func() float64
}

// ExtractionPolicy is the default budget for extraction attempts:
// 3 attempts within 60s, backoff window 1s..10s.
func ExtractionPolicy(retryable func(error) bool) Policy {
	return Policy{
		MaxAttempts: 3,
		MaxElapsed:  60 * time.Second,
		MinBackoff:  time.Second,
		MaxBackoff:  10 * time.Second,
		Retryable:   retryable,
	}
}

// DeliveryPolicy is the default budget for callback delivery:
// 3 attempts within 30s, backoff window 1s..10s.
func DeliveryPolicy(retryable func(error) bool) Policy {
	return Policy{
		MaxAttempts: 3,
		MaxElapsed:  30 * time.Second,
		MinBackoff:  time.Second,
		MaxBackoff:  10 * time.Second,
		Retryable:   retryable,
	}
}

// Run calls op until it succeeds, fails with a non-retryable error, or the
// attempt/elapsed budget is spent. The error returned is always the one op
// returned last, never a wrapper.
func (p Policy) Run(ctx context.Context, op func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	start := now()
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return err
		}
		if attempt >= maxAttempts {
			return err
		}
		if p.MaxElapsed > 0 && now().Sub(start) >= p.MaxElapsed {
			return err
		}

		delay := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return err
		}
	}
}

// Do is Run for operations that produce a value.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Run(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Backoff returns the delay after the given failed attempt (1-indexed):
// uniform in [MinBackoff, min(MaxBackoff, MinBackoff*2^attempt)].
func (p Policy) Backoff(attempt int) time.Duration {
	if p.MinBackoff <= 0 {
		return 0
	}
	upper := float64(p.MinBackoff) * math.Pow(2, float64(attempt))
	if p.MaxBackoff > 0 && upper > float64(p.MaxBackoff) {
		upper = float64(p.MaxBackoff)
	}
	lower := float64(p.MinBackoff)
	if upper < lower {
		upper = lower
	}
	jitter := p.Jitter
	if jitter == nil {
		jitter = rand.Float64
	}
	return time.Duration(lower + jitter()*(upper-lower))
}

// Sleep waits for d, returning early with ctx.Err() if ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package longpoll

import (
	"context"
	"time"
)

// Defaults for the wait loop. MaxWait stays under serverless per-request
// duration ceilings; Interval is the probe cadence, so "found within N
// seconds" is accurate to one interval.
const (
	DefaultTimeout  = 8 * time.Second
	DefaultMaxWait  = 25 * time.Second
	DefaultInterval = 2 * time.Second
)

// Lookup is a single-shot probe. It returns the value and true when a
// satisfying result exists, or false to keep polling. Errors abort the
// wait immediately.
type Lookup[T any] func(ctx context.Context) (T, bool, error)

// Config bounds one wait.
type Config struct {
	// Timeout is the caller-requested wait, clamped to MaxWait.
	// Zero or negative means DefaultTimeout.
	Timeout time.Duration

	// MaxWait caps Timeout. Zero means DefaultMaxWait.
	MaxWait time.Duration

	// Interval is the fixed sleep between probes. Zero means
	// DefaultInterval.
	Interval time.Duration

	// nowFunc and sleep are injectable for tests.
	nowFunc func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// normalize fills defaults and clamps the timeout.
func (c Config) normalize() Config {
	if c.MaxWait <= 0 {
		c.MaxWait = DefaultMaxWait
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Timeout > c.MaxWait {
		c.Timeout = c.MaxWait
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.nowFunc == nil {
		c.nowFunc = time.Now
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	return c
}

// sleepContext sleeps for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Wait repeatedly invokes fn until it yields a result or the deadline
// elapses. It returns the value with retry=false on success, or the zero
// value with retry=true when the deadline passed with no match; the
// caller should immediately reconnect rather than treat absence as final.
//
// Each iteration is a complete unit of work: no state is held between
// probes, so an abandoned wait needs no server-side cancellation. The loop
// never sleeps past the deadline; if one more interval would cross it, the
// wait ends without sleeping.
func Wait[T any](ctx context.Context, cfg Config, fn Lookup[T]) (value T, retry bool, err error) {
	cfg = cfg.normalize()
	deadline := cfg.nowFunc().Add(cfg.Timeout)

	for {
		value, ok, err := fn(ctx)
		if err != nil {
			var zero T
			return zero, false, err
		}
		if ok {
			return value, false, nil
		}

		// Bail before a sleep that would cross the deadline.
		if cfg.nowFunc().Add(cfg.Interval).After(deadline) {
			break
		}

		if err := cfg.sleep(ctx, cfg.Interval); err != nil {
			var zero T
			return zero, false, err
		}
	}

	var zero T
	return zero, true, nil
}

// Package retry implements the single retry-policy abstraction called for
// in spec §9 ("a single 'retry policy' abstraction parameterised by max
// attempts and exponential schedule, applied at each outbound call
// site"), grounded on
// r3e-network-service_layer/infrastructure/resilience/retry.go.
//
// Per spec §9, the Placement Driver's KV assignment writes (recording a
// successful placement, and relocating an offering during
// redistribution) go through Do with the default Policy. It distinguishes
// the two error classes of §7: transient remote errors are retried per
// the policy; permanent remote errors (wrapped in Permanent) are never
// retried, surfaced to the caller on the first attempt.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Policy configures exponential backoff with jitter.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // 0-1, adds randomness
}

// Default returns the policy used throughout the Coordinator unless a
// call site overrides it: 3 attempts, doubling delay starting at 100ms,
// capped at 10s, with 10% jitter. This mirrors the original's
// offering_processor.py `_update_offering_assignment` retry loop (3
// attempts, exponential backoff) which grounds the Placement Driver's use
// of this package (§12).
func Default() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// permanentError wraps an error that Do must not retry, per the
// permanent-remote class of §7 (4xx other than 429 — logged and recorded,
// not retried).
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as non-retryable. Call sites that classify an
// outbound HTTP response as permanent-remote (4xx other than 429) should
// return Permanent(err) from the function passed to Do so that Do stops
// after the first attempt instead of burning through its schedule.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or anything it wraps) was marked via
// Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do executes fn with exponential backoff per cfg. It stops retrying as
// soon as fn returns nil, a Permanent-wrapped error, or ctx is cancelled,
// whichever comes first. The last error encountered is returned when
// attempts are exhausted; a Permanent error is unwrapped before being
// returned so callers see the original error.
func Do(ctx context.Context, cfg Policy, fn func() error) error {
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err

		if attempt < cfg.MaxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(addJitter(delay, cfg.Jitter)):
			}
			delay = nextDelay(delay, cfg)
		}
	}
	return lastErr
}

func nextDelay(current time.Duration, cfg Policy) time.Duration {
	next := time.Duration(float64(current) * cfg.Multiplier)
	if next > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return next
}

func addJitter(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	delta := float64(d) * jitter
	return d + time.Duration(rand.Float64()*delta*2-delta)
}

// Package retry wraps transient provider calls with capped exponential
// backoff. A per-attempt deadline is the caller's job; this package only
// schedules attempts.
package retry

import (
	"context"
	"log/slog"
	"time"
)

// Policy controls attempt count and spacing.
type Policy struct {
	// Attempts is the total number of tries, including the first.
	// Values below 1 behave as 1.
	Attempts int
	// Backoff is the wait before the second attempt; it doubles per attempt
	// up to Cap.
	Backoff time.Duration
	// Cap bounds the per-attempt wait. Zero means no cap.
	Cap time.Duration
	// Permanent classifies errors that must not be retried. Nil retries
	// every error.
	Permanent func(error) bool
}

// Do runs fn until it succeeds, the attempts are exhausted, the error is
// permanent, or ctx is done. The last error is returned.
func Do(ctx context.Context, p Policy, fn func() error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Backoff <= 0 {
		p.Backoff = 250 * time.Millisecond
	}

	wait := p.Backoff
	var err error
	for attempt := 1; ; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			if err != nil {
				return err
			}
			return cerr
		}

		if err = fn(); err == nil {
			return nil
		}
		if p.Permanent != nil && p.Permanent(err) {
			return err
		}
		if attempt >= p.Attempts {
			return err
		}

		slog.Debug("retrying after failure",
			"attempt", attempt, "attempts", p.Attempts, "wait", wait, "err", err)

		select {
		case <-ctx.Done():
			return err
		case <-time.After(wait):
		}
		wait *= 2
		if p.Cap > 0 && wait > p.Cap {
			wait = p.Cap
		}
	}
}

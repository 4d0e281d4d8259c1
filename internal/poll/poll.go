// Package poll implements the readiness polls used while waiting on
// eventually consistent cloud resources.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultInterval = 10 * time.Second
	DefaultTimeout  = 30 * time.Minute

	// foreverWait stands in for "no limit" where the SDK waiters insist on a
	// positive maximum duration.
	foreverWait = 100 * 365 * 24 * time.Hour
)

// ErrTimeout is returned when a bounded poll gives up.
var ErrTimeout = errors.New("poll: timed out")

// Policy bounds a readiness poll. Polling only runs without limit when
// Forever is set explicitly.
type Policy struct {
	Interval time.Duration
	Timeout  time.Duration
	Forever  bool
}

func DefaultPolicy() Policy {
	return Policy{
		Interval: DefaultInterval,
		Timeout:  DefaultTimeout,
	}
}

// Delay returns the pause between two queries.
func (p Policy) Delay() time.Duration {
	if p.Interval <= 0 {
		return DefaultInterval
	}
	return p.Interval
}

// MaxWait returns the total wait budget handed to SDK waiters.
func (p Policy) MaxWait() time.Duration {
	if p.Forever {
		return foreverWait
	}
	if p.Timeout <= 0 {
		return DefaultTimeout
	}
	return p.Timeout
}

func (p Policy) String() string {
	if p.Forever {
		return fmt.Sprintf("every %s, no limit", p.Delay())
	}
	return fmt.Sprintf("every %s, up to %s", p.Delay(), p.MaxWait())
}

// Condition reports whether the awaited state has been reached.
type Condition func(ctx context.Context) (bool, error)

// Until queries cond, then sleeps and queries again until it reports done.
// Errors from cond end the poll immediately.
func Until(ctx context.Context, p Policy, what string, cond Condition) error {
	delay := p.Delay()
	deadline := time.Now().Add(p.MaxWait())

	for attempt := 1; ; attempt++ {
		done, err := cond(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if !p.Forever && time.Now().Add(delay).After(deadline) {
			return fmt.Errorf("%w: %s after %d attempts", ErrTimeout, what, attempt)
		}

		if err := Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Package deadline holds the attempt timing rules: deriving the fixed
// submission deadline from an attempt's original start time and turning that
// deadline into a live countdown with an exactly-once expiry signal.
package deadline

import (
	"context"
	"sync"
	"time"
)

// WarningThreshold is the remaining-time window in which clients should
// render a low-time warning.
const WarningThreshold = 5 * time.Minute

// Compute derives the submission deadline from the attempt's original start
// time. Callers must pass the stored start time, never "now": recomputing
// from the current clock on resume would silently extend the allotted time.
func Compute(startedAt time.Time, durationMinutes int) time.Time {
	return startedAt.Add(time.Duration(durationMinutes) * time.Minute)
}

// Remaining returns the time left until the deadline, clamped at zero.
func Remaining(deadlineAt, now time.Time) time.Duration {
	remaining := deadlineAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RemainingSeconds returns whole seconds left until the deadline, clamped at zero.
func RemainingSeconds(deadlineAt, now time.Time) int {
	return int(Remaining(deadlineAt, now) / time.Second)
}

// InWarningWindow reports whether the remaining time is at or below the
// low-time warning threshold but not yet expired.
func InWarningWindow(deadlineAt, now time.Time) bool {
	remaining := Remaining(deadlineAt, now)
	return remaining > 0 && remaining <= WarningThreshold
}

// Countdown ticks toward a fixed deadline and fires an expiry callback
// exactly once, even if Start races with Stop or the deadline is already in
// the past when the countdown begins.
type Countdown struct {
	deadline time.Time
	interval time.Duration
	onTick   func(remaining time.Duration)
	onExpire func()

	now func() time.Time

	expireOnce sync.Once
	stopOnce   sync.Once
	stopped    chan struct{}
}

// CountdownOption customizes a Countdown.
type CountdownOption func(*Countdown)

// WithTickInterval overrides the default one-second tick.
func WithTickInterval(d time.Duration) CountdownOption {
	return func(c *Countdown) { c.interval = d }
}

// WithOnTick registers a per-tick observer of the remaining time.
func WithOnTick(fn func(remaining time.Duration)) CountdownOption {
	return func(c *Countdown) { c.onTick = fn }
}

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) CountdownOption {
	return func(c *Countdown) { c.now = now }
}

// NewCountdown builds a countdown toward the given deadline. onExpire is
// invoked at most once, from the countdown's own goroutine.
func NewCountdown(deadlineAt time.Time, onExpire func(), opts ...CountdownOption) *Countdown {
	c := &Countdown{
		deadline: deadlineAt,
		interval: time.Second,
		onExpire: onExpire,
		now:      time.Now,
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start runs the countdown until expiry, Stop, or context cancellation.
// A deadline already in the past expires immediately rather than going
// negative.
func (c *Countdown) Start(ctx context.Context) {
	if c.Remaining() == 0 {
		c.expire()
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopped:
			return
		case <-ticker.C:
			remaining := c.Remaining()
			if c.onTick != nil {
				c.onTick(remaining)
			}
			if remaining == 0 {
				c.expire()
				return
			}
		}
	}
}

// Stop halts the countdown without firing expiry. Safe to call repeatedly
// and concurrently with expiry; whichever wins, the callback still fires at
// most once.
func (c *Countdown) Stop() {
	c.stopOnce.Do(func() { close(c.stopped) })
}

// Remaining returns the clamped time left on this countdown.
func (c *Countdown) Remaining() time.Duration {
	return Remaining(c.deadline, c.now())
}

// Expired reports whether the deadline has passed.
func (c *Countdown) Expired() bool {
	return c.Remaining() == 0
}

// Expire forces the expiry callback, used when an authority other than the
// ticker (a database sweep) detects the deadline passed. Still at most once.
func (c *Countdown) Expire() {
	c.expire()
}

func (c *Countdown) expire() {
	c.expireOnce.Do(func() {
		if c.onExpire != nil {
			c.onExpire()
		}
	})
}

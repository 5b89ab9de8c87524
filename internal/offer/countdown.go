package offer

import (
	"context"
	"fmt"
	"time"
)

// Countdown tracks the time left on a presented offer.
type Countdown struct {
	deadline time.Time
	now      func() time.Time
}

// NewCountdown starts a countdown of d. A zero d never expires.
func NewCountdown(d time.Duration, now func() time.Time) *Countdown {
	if now == nil {
		now = time.Now
	}
	c := &Countdown{now: now}
	if d > 0 {
		c.deadline = now().Add(d)
	}
	return c
}

// Remaining returns the time left, never negative. It is zero for a
// countdown without deadline.
func (c *Countdown) Remaining() time.Duration {
	if c.deadline.IsZero() {
		return 0
	}
	if r := c.deadline.Sub(c.now()); r > 0 {
		return r
	}
	return 0
}

// Expired reports whether the deadline has passed.
func (c *Countdown) Expired() bool {
	return !c.deadline.IsZero() && !c.now().Before(c.deadline)
}

// Run calls onTick with the remaining time once per interval until the
// countdown expires or ctx is cancelled.
func (c *Countdown) Run(ctx context.Context, interval time.Duration, onTick func(time.Duration)) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if onTick != nil {
				onTick(c.Remaining())
			}
			if c.Expired() {
				return
			}
		}
	}
}

// FormatClock renders d as MM:SS, or HH:MM:SS from one hour up.
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	h, m, sec := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%02d:%02d", m, sec)
}

package world

import "time"

// tickClock tracks firing times of the fixed-rate loop so the manager can
// measure elapsed time against the target interval.
type tickClock struct {
	interval time.Duration
	last     time.Time
}

// observe records a firing and returns the elapsed time since the previous
// one. The first firing reports exactly one interval.
func (c *tickClock) observe(now time.Time) time.Duration {
	if c.last.IsZero() {
		c.last = now
		return c.interval
	}
	elapsed := now.Sub(c.last)
	c.last = now
	return elapsed
}

// nextTickDelay compensates the wait before the next firing for both the
// cost of the tick just executed and any accumulated positive drift, keeping
// the long-run average period close to the target interval. The result is
// floored at 1ms so the loop always yields.
func nextTickDelay(interval, tickDuration, drift time.Duration) time.Duration {
	d := interval - tickDuration
	if drift > 0 {
		d -= drift
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

// Package debounce classifies the raw transitions of one pin into edges,
// settled levels and bounced edges.
package debounce

import (
	"time"

	"github.com/sweeney/pin-monitor/internal/pin"
)

// DefaultWindow is the quiet time required before a level counts as settled.
const DefaultWindow = 10 * time.Millisecond

// Debouncer is the per-pin state machine. The zero value is not usable; call New.
type Debouncer struct {
	window   time.Duration
	deadline time.Time // time of the most recent transition while running
	running  bool
	expected bool
	lastRaw  bool
}

// New creates a debouncer for a pin currently at level.
func New(window time.Duration, level bool) Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	return Debouncer{window: window, lastRaw: level}
}

// Update runs one evaluation. count is the number of raw transitions since the
// previous call, last is the level after the most recent one, and at is when
// it happened. At most one non-None state is returned.
func (d *Debouncer) Update(last bool, count uint32, at, now time.Time) pin.State {
	if count > 0 {
		d.deadline = at
		if !d.running {
			d.running = true
			// The pin was settled at lastRaw, so the first transition flips it.
			d.expected = !d.lastRaw
			d.lastRaw = last
			if d.expected {
				return pin.IsRising
			}
			return pin.IsFalling
		}
		d.lastRaw = last
		return pin.None
	}

	if d.running && now.Sub(d.deadline) >= d.window {
		d.running = false
		if d.lastRaw != d.expected {
			if d.expected {
				return pin.RisingBounced
			}
			return pin.FallingBounced
		}
		if d.expected {
			return pin.IsHigh
		}
		return pin.IsLow
	}

	return pin.None
}

// Running reports whether a debounce window is open.
func (d *Debouncer) Running() bool {
	return d.running
}

// Level returns the last raw level seen.
func (d *Debouncer) Level() bool {
	return d.lastRaw
}

// Window returns the configured debounce window.
func (d *Debouncer) Window() time.Duration {
	return d.window
}

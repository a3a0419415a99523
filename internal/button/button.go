// Package button turns debounced down/up transitions of one logical input
// into click, long-click, repeat and multi-click events.
package button

import (
	"time"

	"github.com/sweeney/pin-monitor/internal/logger"
	"github.com/sweeney/pin-monitor/internal/pin"
)

// EventType is a classified button event.
type EventType uint8

const (
	Down EventType = iota + 1
	Up
	Click
	LongClick
	Repeat
	SingleClick
	DoubleClick
	RepeatedClick
)

func (e EventType) String() string {
	switch e {
	case Down:
		return "DOWN"
	case Up:
		return "UP"
	case Click:
		return "CLICK"
	case LongClick:
		return "LONG_CLICK"
	case Repeat:
		return "REPEAT"
	case SingleClick:
		return "SINGLE_CLICK"
	case DoubleClick:
		return "DOUBLE_CLICK"
	case RepeatedClick:
		return "REPEATED_CLICK"
	default:
		return "UNKNOWN"
	}
}

// Event is emitted by a Button.
type Event struct {
	Type EventType
	Time time.Time
	// Duration is the press length for Up, Click and LongClick.
	Duration time.Duration
	// Count is the repeat number for Repeat, the repeats already fired for
	// LongClick, and the number of grouped clicks for the multi-click events.
	Count uint16
}

// Config holds the per-listener timing thresholds.
type Config struct {
	ClickTime       time.Duration // a press shorter than this is a click
	LongPressTime   time.Duration // repeats start after this
	RepeatTime      time.Duration // interval between repeats
	ClickRepeatTime time.Duration // quiet time that closes a click group
}

// DefaultConfig returns 250ms click, 600ms long press, 100ms repeat, and a
// click grouping window equal to the click time.
func DefaultConfig() Config {
	return Config{
		ClickTime:       250 * time.Millisecond,
		LongPressTime:   600 * time.Millisecond,
		RepeatTime:      100 * time.Millisecond,
		ClickRepeatTime: 250 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ClickTime <= 0 {
		c.ClickTime = d.ClickTime
	}
	if c.LongPressTime <= 0 {
		c.LongPressTime = d.LongPressTime
	}
	if c.RepeatTime <= 0 {
		c.RepeatTime = d.RepeatTime
	}
	if c.ClickRepeatTime <= 0 {
		c.ClickRepeatTime = c.ClickTime
	}
	return c
}

// Button is the classifier state. It is driven from loop context only.
type Button struct {
	cfg  Config
	emit func(Event)
	log  *logger.Logger

	downSince           time.Time
	downActive          bool
	lastReleaseDuration time.Duration
	clickRepeatTimer    time.Time
	clickRepeatActive   bool
	clickRepeatCount    uint16
	repeatCount         uint16
}

// New creates a Button that reports through emit. Zero thresholds in cfg
// take their defaults.
func New(cfg Config, emit func(Event), log *logger.Logger) Button {
	return Button{cfg: cfg.withDefaults(), emit: emit, log: log}
}

// Event consumes a logical (polarity corrected) state from the debouncer.
func (b *Button) Event(s pin.State, now time.Time) {
	switch {
	case s.Has(pin.IsRising):
		b.down(now)
	case s.Has(pin.IsFalling):
		b.up(now)
	case s.Has(pin.RisingBounced):
		// The press never settled. UP pairs the DOWN already reported but
		// carries no duration and never counts as a click.
		if b.downActive {
			b.log.Debugf("press bounced after %v, cancelled", now.Sub(b.downSince))
			b.downActive = false
			b.repeatCount = 0
			b.emit(Event{Type: Up, Time: now})
		}
	case s.Has(pin.FallingBounced):
		// The release never settled; the button is still held.
		if !b.downActive {
			b.down(now)
		}
	}
}

func (b *Button) down(now time.Time) {
	b.downSince = now
	b.downActive = true
	b.repeatCount = 0
	b.emit(Event{Type: Down, Time: now})
}

func (b *Button) up(now time.Time) {
	if !b.downActive {
		b.log.Debugf("release without press ignored")
		return
	}
	b.downActive = false
	duration := now.Sub(b.downSince)
	b.lastReleaseDuration = duration

	b.emit(Event{Type: Up, Time: now, Duration: duration})
	if duration < b.cfg.ClickTime {
		b.emit(Event{Type: Click, Time: now, Duration: duration})
		b.clickRepeatTimer = now
		b.clickRepeatActive = true
		if b.clickRepeatCount < ^uint16(0) {
			b.clickRepeatCount++
		}
		return
	}
	b.emit(Event{Type: LongClick, Time: now, Duration: duration, Count: b.repeatCount})
}

// Loop advances the time driven part of the state machine. It is called once
// per tick whether or not the pin changed.
func (b *Button) Loop(now time.Time) {
	if b.downActive {
		elapsed := now.Sub(b.downSince)
		if elapsed < b.cfg.LongPressTime {
			return
		}
		n := 1 + (elapsed-b.cfg.LongPressTime)/b.cfg.RepeatTime
		count := uint16(^uint16(0))
		if n < time.Duration(count) {
			count = uint16(n)
		}
		if count != b.repeatCount {
			b.repeatCount = count
			b.emit(Event{Type: Repeat, Time: now, Count: count})
		}
		return
	}

	if b.clickRepeatActive && now.Sub(b.clickRepeatTimer) >= b.cfg.ClickRepeatTime {
		n := b.clickRepeatCount
		b.clickRepeatActive = false
		b.clickRepeatCount = 0
		switch n {
		case 0:
			return
		case 1:
			b.emit(Event{Type: SingleClick, Time: now, Count: n})
		case 2:
			b.emit(Event{Type: DoubleClick, Time: now, Count: n})
		default:
			b.emit(Event{Type: RepeatedClick, Time: now, Count: n})
		}
	}
}

// Pressed reports whether the button is currently held.
func (b *Button) Pressed() bool {
	return b.downActive
}

// LastReleaseDuration returns the length of the most recent press.
func (b *Button) LastReleaseDuration() time.Duration {
	return b.lastReleaseDuration
}

// Config returns the effective thresholds.
func (b *Button) Config() Config {
	return b.cfg
}

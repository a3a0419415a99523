// Package pin defines pin identity, polarity and the classified state bitmask
// shared by the capture, debounce and listener layers.
package pin

import (
	"fmt"
	"strings"
)

// MaxPins is the width of the GPIO level register.
const MaxPins = 32

// ID is a GPIO line number (BCM numbering on the Pi).
type ID uint8

// Valid reports whether id fits in the level register.
func (id ID) Valid() bool {
	return int(id) < MaxPins
}

// Mask returns the register bit for id.
func (id ID) Mask() uint32 {
	return 1 << id
}

// Polarity maps electrical levels to logical active/inactive.
type Polarity uint8

const (
	ActiveHigh Polarity = iota
	ActiveLow
)

// Active converts a raw level to the logical state.
func (p Polarity) Active(level bool) bool {
	if p == ActiveLow {
		return !level
	}
	return level
}

func (p Polarity) String() string {
	if p == ActiveLow {
		return "low"
	}
	return "high"
}

// ParsePolarity accepts "high"/"low" (and the active_ prefixed forms).
func ParsePolarity(s string) (Polarity, error) {
	switch strings.TrimPrefix(strings.ToLower(s), "active_") {
	case "high", "":
		return ActiveHigh, nil
	case "low":
		return ActiveLow, nil
	default:
		return ActiveHigh, fmt.Errorf("invalid polarity %q (must be high or low)", s)
	}
}

// Pull selects the line bias applied when a pin is configured as input.
type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

func (p Pull) String() string {
	switch p {
	case PullUp:
		return "up"
	case PullDown:
		return "down"
	default:
		return "none"
	}
}

// ParsePull accepts "up", "down" or "none".
func ParsePull(s string) (Pull, error) {
	switch strings.ToLower(s) {
	case "up", "pullup":
		return PullUp, nil
	case "down", "pulldown":
		return PullDown, nil
	case "none", "":
		return PullNone, nil
	default:
		return PullNone, fmt.Errorf("invalid pull %q (must be up, down or none)", s)
	}
}

package pin

import (
	"fmt"
	"strings"
)

// State is a combinable set of classified transitions. A debounce cycle
// produces at most one non-None flag per evaluation; listeners subscribe with
// a mask of several.
type State uint8

// None means nothing happened this tick.
const None State = 0

const (
	IsRising State = 1 << iota
	IsFalling
	IsHigh
	IsLow
	RisingBounced
	FallingBounced
)

// All subscribes to every state.
const All = IsRising | IsFalling | IsHigh | IsLow | RisingBounced | FallingBounced

var stateNames = []struct {
	s    State
	name string
}{
	{IsRising, "rising"},
	{IsFalling, "falling"},
	{IsHigh, "high"},
	{IsLow, "low"},
	{RisingBounced, "rising_bounced"},
	{FallingBounced, "falling_bounced"},
}

// Has reports whether s and mask share any flag.
func (s State) Has(mask State) bool {
	return s&mask != 0
}

// Invert maps a state observed on the electrical level to the logical view
// of an active-low listener.
func (s State) Invert() State {
	var out State
	if s&IsRising != 0 {
		out |= IsFalling
	}
	if s&IsFalling != 0 {
		out |= IsRising
	}
	if s&IsHigh != 0 {
		out |= IsLow
	}
	if s&IsLow != 0 {
		out |= IsHigh
	}
	if s&RisingBounced != 0 {
		out |= FallingBounced
	}
	if s&FallingBounced != 0 {
		out |= RisingBounced
	}
	return out
}

// For returns s as seen by a listener with polarity p.
func (s State) For(p Polarity) State {
	if p == ActiveLow {
		return s.Invert()
	}
	return s
}

func (s State) String() string {
	if s == None {
		return "none"
	}
	var parts []string
	for _, n := range stateNames {
		if s&n.s != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseStates builds a mask from names such as "rising", "falling", "all".
func ParseStates(names []string) (State, error) {
	var out State
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "all" {
			out |= All
			continue
		}
		found := false
		for _, n := range stateNames {
			if n.name == name {
				out |= n.s
				found = true
				break
			}
		}
		if !found {
			return None, fmt.Errorf("unknown state %q", raw)
		}
	}
	return out, nil
}

// Package rotary decodes a quadrature encoder pair into detent steps using a
// full-step transition table. Intermediate states absorb contact bounce, so
// the pins are not debounced separately.
package rotary

import (
	"github.com/sweeney/pin-monitor/internal/pin"
)

// Direction of a completed detent.
type Direction uint8

const (
	None             Direction = 0
	Clockwise        Direction = 0x40
	CounterClockwise Direction = 0x80
)

func (d Direction) String() string {
	switch d {
	case Clockwise:
		return "CLOCKWISE"
	case CounterClockwise:
		return "COUNTER_CLOCKWISE"
	default:
		return "NONE"
	}
}

// Decoder states. The register holds 0..6; the two high bits of a table
// entry carry the emitted direction.
const (
	stateStart uint8 = iota
	stateCWFinal
	stateCWBegin
	stateCWNext
	stateCCWBegin
	stateCCWFinal
	stateCCWNext
)

const (
	dirMask   = uint8(Clockwise | CounterClockwise)
	stateMask = 0x07
)

// transitions is indexed by [state][a<<1|b] with both pins inactive = 00 at
// rest. A clockwise detent is 00 -> 10 -> 11 -> 01 -> 00.
var transitions = [7][4]uint8{
	stateStart:    {stateStart, stateCCWBegin, stateCWBegin, stateStart},
	stateCWFinal:  {stateStart | uint8(Clockwise), stateCWFinal, stateStart, stateCWNext},
	stateCWBegin:  {stateStart, stateStart, stateCWBegin, stateCWNext},
	stateCWNext:   {stateStart, stateCWFinal, stateCWBegin, stateCWNext},
	stateCCWBegin: {stateStart, stateCCWBegin, stateStart, stateCCWNext},
	stateCCWFinal: {stateStart | uint8(CounterClockwise), stateStart, stateCCWFinal, stateCCWNext},
	stateCCWNext:  {stateStart, stateCCWBegin, stateCCWFinal, stateCCWNext},
}

// Decoder tracks one encoder. It is driven from loop context only.
type Decoder struct {
	polarity pin.Polarity
	maskA    uint16
	maskB    uint16
	state    uint8
}

// New creates a decoder for pins a and b, which must be 0..15 because
// samples come from the low half of the level register.
func New(a, b pin.ID, polarity pin.Polarity) Decoder {
	return Decoder{
		polarity: polarity,
		maskA:    1 << a,
		maskB:    1 << b,
		state:    stateStart,
	}
}

// Sample extracts the logical two-bit value a<<1|b from a register snapshot.
func (d *Decoder) Sample(levels uint16) uint8 {
	var s uint8
	if levels&d.maskA != 0 {
		s |= 2
	}
	if levels&d.maskB != 0 {
		s |= 1
	}
	if d.polarity == pin.ActiveLow {
		s ^= 3
	}
	return s
}

// Feed advances the state machine with a register snapshot and returns the
// direction of a detent completed by it, if any.
func (d *Decoder) Feed(levels uint16) Direction {
	return d.Step(d.Sample(levels))
}

// Step advances the state machine with a logical two-bit sample.
func (d *Decoder) Step(sample uint8) Direction {
	next := transitions[d.state&stateMask][sample&3]
	d.state = next & stateMask
	return Direction(next & dirMask)
}

// State returns the current state register, 0 meaning at rest.
func (d *Decoder) State() uint8 {
	return d.state
}

// AtRest reports whether the decoder is in the start state.
func (d *Decoder) AtRest() bool {
	return d.state == stateStart
}

// Reset returns the decoder to the start state.
func (d *Decoder) Reset() {
	d.state = stateStart
}

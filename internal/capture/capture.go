// Package capture is the only code that runs in interrupt context. It turns a
// snapshot of the GPIO level register into per-pin transition cells, simple
// level bits, or ring buffer records, and never calls listener code.
package capture

import (
	"github.com/sweeney/pin-monitor/internal/pin"
)

// Kind selects how capture records changes on a pin.
type Kind uint8

const (
	KindNone Kind = iota
	KindSimple
	KindDebounced
	KindRotary
)

func (k Kind) String() string {
	switch k {
	case KindSimple:
		return "simple"
	case KindDebounced:
		return "debounced"
	case KindRotary:
		return "rotary"
	default:
		return "none"
	}
}

// DefaultBudget is the interrupt time budget in microseconds.
const DefaultBudget = 200

// Levels reads the whole GPIO level register in one operation.
type Levels interface {
	ReadLevels() uint32
}

// Micros is the capture-context time source.
type Micros interface {
	Micros() uint32
}

// Cell accumulates transitions of one debounced pin between two ticks.
type Cell struct {
	Timestamp uint32 // time of the most recent transition, µs
	Count     uint32 // transitions since last read
	Last      bool   // level after the most recent transition
}

// Capture holds all state written from interrupt context. Everything except
// Interrupt must be called with delivery masked.
type Capture struct {
	levels Levels
	clock  Micros
	budget uint32

	kinds    [pin.MaxPins]Kind
	cells    [pin.MaxPins]Cell
	watched  uint32 // pins with a registered kind
	baseline uint32 // register snapshot at the previous interrupt
	simple   uint32 // last observed level of simple pins
	ring     *Ring
	aborted  uint32
	frames   uint32
}

// New creates a capture layer with a rotary ring of ringCapacity records.
// budget is in microseconds; 0 selects DefaultBudget.
func New(levels Levels, clock Micros, ringCapacity int, budget uint32) *Capture {
	if budget == 0 {
		budget = DefaultBudget
	}
	return &Capture{
		levels: levels,
		clock:  clock,
		budget: budget,
		ring:   NewRing(ringCapacity),
	}
}

// Interrupt is the interrupt service routine.
func (c *Capture) Interrupt() {
	start := c.clock.Micros()
	now := c.levels.ReadLevels()
	c.frames++

	changed := (now ^ c.baseline) & c.watched
	var done uint32
	for id := uint8(0); changed != 0; id++ {
		bit := uint32(1) << id
		if changed&bit == 0 {
			continue
		}
		changed &^= bit
		level := now&bit != 0

		switch c.kinds[id] {
		case KindDebounced:
			cell := &c.cells[id]
			cell.Timestamp = start
			cell.Count++
			cell.Last = level
		case KindSimple:
			if level {
				c.simple |= bit
			} else {
				c.simple &^= bit
			}
		case KindRotary:
			c.ring.Push(Event{Time: start, Pin: id, Levels: uint16(now)})
		}
		done |= bit

		if changed != 0 && c.clock.Micros()-start > c.budget {
			c.aborted++
			break
		}
	}

	// Only processed pins advance; the rest are seen again next interrupt.
	c.baseline = (c.baseline &^ done) | (now & done)
}

// Register sets the kind of id and seeds the baseline with its current level.
func (c *Capture) Register(id pin.ID, kind Kind, level bool) {
	bit := id.Mask()
	c.kinds[id] = kind
	c.cells[id] = Cell{Last: level}
	if kind == KindNone {
		c.watched &^= bit
	} else {
		c.watched |= bit
	}
	if level {
		c.baseline |= bit
		c.simple |= bit
	} else {
		c.baseline &^= bit
		c.simple &^= bit
	}
}

// Unregister stops recording id and discards its buffered rotary events.
func (c *Capture) Unregister(id pin.ID) {
	if c.kinds[id] == KindRotary {
		c.ring.Discard(uint8(id))
	}
	c.Register(id, KindNone, false)
}

// Kind returns the registered kind of id.
func (c *Capture) Kind(id pin.ID) Kind {
	return c.kinds[id]
}

// TakeCell returns and clears the transition count of a debounced pin. The
// timestamp and last level are kept for the next read.
func (c *Capture) TakeCell(id pin.ID) Cell {
	cell := c.cells[id]
	c.cells[id].Count = 0
	return cell
}

// SimpleLevels returns the last observed level bits of simple pins.
func (c *Capture) SimpleLevels() uint32 {
	return c.simple
}

// Ring exposes the rotary event ring.
func (c *Capture) Ring() *Ring {
	return c.ring
}

// Aborted returns the number of interrupts cut short by the time budget.
func (c *Capture) Aborted() uint32 {
	return c.aborted
}

// Frames returns the number of interrupts handled.
func (c *Capture) Frames() uint32 {
	return c.frames
}

// Baseline returns the register snapshot from the previous interrupt.
func (c *Capture) Baseline() uint32 {
	return c.baseline
}

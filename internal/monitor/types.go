package monitor

import (
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/pin-monitor/internal/button"
	"github.com/sweeney/pin-monitor/internal/pin"
	"github.com/sweeney/pin-monitor/internal/rotary"
)

// Configuration errors returned by the attach operations.
var (
	ErrInvalidPin          = errors.New("invalid pin")
	ErrKindConflict        = errors.New("pin already registered with a different kind")
	ErrNotInterruptCapable = errors.New("pin cannot deliver edge interrupts")
	ErrNoCapacity          = errors.New("no free listener slot")
)

// Handle identifies an attached listener. A handle stays invalid after its
// listener is detached, even if the slot is reused.
type Handle struct {
	index uint16
	gen   uint16
}

// Valid reports whether h was returned by a successful attach.
func (h Handle) Valid() bool {
	return h.gen != 0
}

func (h Handle) String() string {
	return fmt.Sprintf("%d.%d", h.index, h.gen)
}

// EventKind tells which fields of an Event are set.
type EventKind uint8

const (
	// StateEvent carries a debounced pin state.
	StateEvent EventKind = iota + 1
	// ButtonEvent carries a push-button classification.
	ButtonEvent
	// RotaryEvent carries one encoder detent.
	RotaryEvent
)

func (k EventKind) String() string {
	switch k {
	case StateEvent:
		return "state"
	case ButtonEvent:
		return "button"
	case RotaryEvent:
		return "rotary"
	default:
		return "unknown"
	}
}

// Event is delivered to a listener's Handler from Tick.
type Event struct {
	Handle Handle
	Name   string
	Pin    pin.ID
	Time   time.Time
	Kind   EventKind

	// State is the logical state after polarity; Raw is the electrical one.
	State pin.State
	Raw   pin.State

	Button   button.EventType
	Duration time.Duration
	Count    uint16

	Direction rotary.Direction
}

// Type returns the event name used on the wire: a state name such as
// "rising", a button event such as "LONG_CLICK", or a rotary direction.
func (e Event) Type() string {
	switch e.Kind {
	case StateEvent:
		return e.State.String()
	case ButtonEvent:
		return e.Button.String()
	case RotaryEvent:
		return e.Direction.String()
	default:
		return "unknown"
	}
}

// Handler receives listener events. It runs on the tick goroutine and may
// attach or detach listeners, but must not call Tick.
type Handler func(Event)

// ButtonOptions configures a push-button listener.
type ButtonOptions struct {
	Name   string
	Pin    pin.ID
	Active pin.Polarity
	Pull   pin.Pull

	// Debounce is the settle window. Zero attaches the pin as a simple
	// threshold input that reports edges only.
	Debounce time.Duration

	// States is the subscription mask; zero means pin.All. States outside
	// it are neither reported nor fed to the classifier.
	States pin.State

	Timing button.Config

	// Arg is an opaque comparable value for DetachArg.
	Arg any

	Handler Handler
}

// RotaryOptions configures a quadrature encoder listener. Both pins must be
// interrupt capable and in 0..15.
type RotaryOptions struct {
	Name   string
	A, B   pin.ID
	Active pin.Polarity
	Pull   pin.Pull

	Arg any

	Handler Handler
}

// Info describes an attached listener.
type Info struct {
	Handle  Handle
	Name    string
	Kind    string
	Pins    []pin.ID
	Active  pin.Polarity
	States  pin.State
	Enabled bool
	Arg     any
}

// PinInfo describes one registry entry.
type PinInfo struct {
	ID         pin.ID
	Kind       string
	Listeners  int
	Level      bool
	Polled     bool
	Debouncing bool
}

// Stats are the monitor's diagnostic counters.
type Stats struct {
	Ticks         uint64
	Listeners     int
	Pins          int
	Polled        int
	TickInstalled bool

	// Frames is the number of capture interrupts handled.
	Frames uint32
	// Aborted counts interrupts cut short by the time budget.
	Aborted uint32
	// Dropped counts rotary records overwritten in the ring.
	Dropped uint32
	// Bounced counts debounce windows that closed on the wrong level.
	Bounced uint32

	LastTick time.Duration
	MaxTick  time.Duration
}

package gpio

import (
	"errors"
	"sync"

	"github.com/sweeney/pin-monitor/internal/pin"
)

// FakePlatform is a test double with a settable level register. Edges on
// pins with interrupts enabled call the handler synchronously.
type FakePlatform struct {
	mu sync.Mutex

	levels  uint32
	handler func()

	// Configured holds the bias of every pin configured as input.
	Configured map[pin.ID]pin.Pull

	// Interrupts holds pins with edge delivery enabled.
	Interrupts map[pin.ID]bool

	// Released lists pins passed to Release, in order.
	Released []pin.ID

	// PollOnly marks pins that are not interrupt capable.
	PollOnly map[pin.ID]bool

	// ConfigureError, if set, will be returned by ConfigureInput.
	ConfigureError error

	// Reads counts ReadLevels calls.
	Reads int

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakePlatform creates a FakePlatform with all pins low.
func NewFakePlatform() *FakePlatform {
	return &FakePlatform{
		Configured: make(map[pin.ID]pin.Pull),
		Interrupts: make(map[pin.ID]bool),
		PollOnly:   make(map[pin.ID]bool),
	}
}

func (f *FakePlatform) ConfigureInput(id pin.ID, pull pin.Pull) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ConfigureError != nil {
		return f.ConfigureError
	}
	f.Configured[id] = pull
	return nil
}

func (f *FakePlatform) Release(id pin.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Configured, id)
	f.Released = append(f.Released, id)
	return nil
}

func (f *FakePlatform) InterruptCapable(id pin.ID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.PollOnly[id]
}

func (f *FakePlatform) EnableInterrupt(id pin.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PollOnly[id] {
		return errors.New("fake: pin has no edge interrupt")
	}
	f.Interrupts[id] = true
	return nil
}

func (f *FakePlatform) DisableInterrupt(id pin.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Interrupts, id)
	return nil
}

func (f *FakePlatform) ReadLevels() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reads++
	return f.levels
}

func (f *FakePlatform) SetHandler(fn func()) {
	f.mu.Lock()
	f.handler = fn
	f.mu.Unlock()
}

// SetLevel drives a pin. The handler runs if the level changed and the pin
// has interrupts enabled.
func (f *FakePlatform) SetLevel(id pin.ID, level bool) {
	f.mu.Lock()
	old := f.levels
	if level {
		f.levels |= id.Mask()
	} else {
		f.levels &^= id.Mask()
	}
	fire := old != f.levels && f.Interrupts[id]
	fn := f.handler
	f.mu.Unlock()

	if fire && fn != nil {
		fn()
	}
}

// SetLevels replaces the whole register without raising an interrupt, as if
// the change happened while nobody was listening.
func (f *FakePlatform) SetLevels(levels uint32) {
	f.mu.Lock()
	f.levels = levels
	f.mu.Unlock()
}

// Level returns the current level of a pin.
func (f *FakePlatform) Level(id pin.ID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.levels&id.Mask() != 0
}

// InterruptEnabled reports whether edge delivery is on for id.
func (f *FakePlatform) InterruptEnabled(id pin.ID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Interrupts[id]
}

// Close marks the platform as closed.
func (f *FakePlatform) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

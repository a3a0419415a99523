//go:build linux

package gpio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/stianeikeland/go-rpio/v4"

	"github.com/sweeney/pin-monitor/internal/pin"
)

// ErrNoInterrupts is returned by platforms that can only be polled.
var ErrNoInterrupts = errors.New("gpio: edge interrupts not supported, use polling")

// RpioPlatform reads GPIO through /dev/gpiomem. It has no edge delivery; the
// monitor drives capture from the polling timer instead.
type RpioPlatform struct {
	mu         sync.Mutex
	configured uint32
}

// NewRpioPlatform maps GPIO memory.
func NewRpioPlatform() (*RpioPlatform, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("open gpio memory: %w", err)
	}
	return &RpioPlatform{}, nil
}

func (p *RpioPlatform) ConfigureInput(id pin.ID, pull pin.Pull) error {
	if !id.Valid() {
		return fmt.Errorf("pin %d out of range", id)
	}
	rp := rpio.Pin(id)
	rp.Input()
	switch pull {
	case pin.PullUp:
		rp.PullUp()
	case pin.PullDown:
		rp.PullDown()
	default:
		rp.PullOff()
	}

	p.mu.Lock()
	p.configured |= id.Mask()
	p.mu.Unlock()
	return nil
}

// Release returns the pin to input with pull-down.
func (p *RpioPlatform) Release(id pin.ID) error {
	rp := rpio.Pin(id)
	rp.Input()
	rp.PullDown()

	p.mu.Lock()
	p.configured &^= id.Mask()
	p.mu.Unlock()
	return nil
}

func (p *RpioPlatform) InterruptCapable(pin.ID) bool {
	return false
}

func (p *RpioPlatform) EnableInterrupt(pin.ID) error {
	return ErrNoInterrupts
}

func (p *RpioPlatform) DisableInterrupt(pin.ID) error {
	return nil
}

// ReadLevels samples every configured pin.
func (p *RpioPlatform) ReadLevels() uint32 {
	p.mu.Lock()
	configured := p.configured
	p.mu.Unlock()

	var v uint32
	for id := 0; configured != 0; id++ {
		bit := uint32(1) << id
		if configured&bit == 0 {
			continue
		}
		configured &^= bit
		if rpio.ReadPin(rpio.Pin(id)) == rpio.High {
			v |= bit
		}
	}
	return v
}

// SetHandler is a no-op: nothing on this platform raises edges.
func (p *RpioPlatform) SetHandler(func()) {}

// Close unmaps GPIO memory.
func (p *RpioPlatform) Close() error {
	return rpio.Close()
}

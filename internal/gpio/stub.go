//go:build !linux

package gpio

import (
	"errors"

	"github.com/sweeney/pin-monitor/internal/pin"
)

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// ErrNoInterrupts is returned by platforms that can only be polled.
var ErrNoInterrupts = errors.New("gpio: edge interrupts not supported, use polling")

// CdevPlatform is not available on non-Linux platforms.
type CdevPlatform struct{}

// NewCdevPlatform returns an error on non-Linux platforms.
func NewCdevPlatform(string) (*CdevPlatform, error) {
	return nil, errUnsupported
}

func (p *CdevPlatform) ConfigureInput(pin.ID, pin.Pull) error { return errUnsupported }
func (p *CdevPlatform) Release(pin.ID) error                   { return nil }
func (p *CdevPlatform) InterruptCapable(pin.ID) bool           { return false }
func (p *CdevPlatform) EnableInterrupt(pin.ID) error           { return errUnsupported }
func (p *CdevPlatform) DisableInterrupt(pin.ID) error          { return nil }
func (p *CdevPlatform) ReadLevels() uint32                     { return 0 }
func (p *CdevPlatform) SetHandler(func())                      {}
func (p *CdevPlatform) Close() error                           { return nil }

// RpioPlatform is not available on non-Linux platforms.
type RpioPlatform struct{}

// NewRpioPlatform returns an error on non-Linux platforms.
func NewRpioPlatform() (*RpioPlatform, error) {
	return nil, errUnsupported
}

func (p *RpioPlatform) ConfigureInput(pin.ID, pin.Pull) error { return errUnsupported }
func (p *RpioPlatform) Release(pin.ID) error                   { return nil }
func (p *RpioPlatform) InterruptCapable(pin.ID) bool           { return false }
func (p *RpioPlatform) EnableInterrupt(pin.ID) error           { return ErrNoInterrupts }
func (p *RpioPlatform) DisableInterrupt(pin.ID) error          { return nil }
func (p *RpioPlatform) ReadLevels() uint32                     { return 0 }
func (p *RpioPlatform) SetHandler(func())                      {}
func (p *RpioPlatform) Close() error                           { return nil }

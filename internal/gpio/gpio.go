// Package gpio provides GPIO input access with hardware abstraction.
// The cdev implementation uses the Linux GPIO character device and delivers
// edge events; the rpio implementation maps GPIO memory and must be polled.
// The fake implementation allows testing without hardware.
package gpio

import (
	"time"

	"github.com/sweeney/pin-monitor/internal/pin"
)

// Platform is the set of GPIO primitives the monitor depends on.
type Platform interface {
	// ConfigureInput sets the pin as an input with the given bias.
	ConfigureInput(id pin.ID, pull pin.Pull) error

	// Release restores the pin to the default input mode (pull-down, no edges).
	Release(id pin.ID) error

	// InterruptCapable reports whether EnableInterrupt can be used for id.
	InterruptCapable(id pin.ID) bool

	// EnableInterrupt starts delivering both-edge changes of id to the handler.
	EnableInterrupt(id pin.ID) error

	// DisableInterrupt stops edge delivery for id. No handler call for id
	// starts after it returns.
	DisableInterrupt(id pin.ID) error

	// ReadLevels returns the whole level register, bit n = pin n.
	ReadLevels() uint32

	// SetHandler installs the function called on every edge.
	SetHandler(fn func())

	// Close releases all GPIO resources.
	Close() error
}

// DefaultPollInterval is the period of the polling timer used for pins
// without edge interrupts.
const DefaultPollInterval = 5 * time.Millisecond

// DefaultChip is the GPIO character device used on the Pi.
const DefaultChip = "gpiochip0"

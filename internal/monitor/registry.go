package monitor

import (
	"fmt"
	"time"

	"github.com/sweeney/pin-monitor/internal/capture"
	"github.com/sweeney/pin-monitor/internal/clock"
	"github.com/sweeney/pin-monitor/internal/debounce"
	"github.com/sweeney/pin-monitor/internal/pin"
)

// rotaryPins is the number of pins whose level fits in a capture record.
const rotaryPins = 16

// noOwner marks a rotary slot without an encoder.
const noOwner = ^uint16(0)

// pinSlot is one hardware pin entry. Slots live in a fixed array indexed by
// pin id and are in use while count > 0.
type pinSlot struct {
	count  uint8
	kind   capture.Kind
	polled bool

	deb   debounce.Debouncer
	level bool // last simple level seen by Tick
	owner uint16

	// state is the classification from the current tick.
	state pin.State
}

// acquire adds a reference to pin id, configuring it on first use. Must be
// called with m.mu held.
func (m *Monitor) acquire(id pin.ID, kind capture.Kind, pull pin.Pull, window time.Duration) error {
	slot := &m.pins[id]
	if slot.count > 0 {
		if slot.kind != kind {
			return fmt.Errorf("pin %d is %s, want %s: %w", id, slot.kind, kind, ErrKindConflict)
		}
		if kind == capture.KindRotary {
			return fmt.Errorf("pin %d already belongs to an encoder: %w", id, ErrKindConflict)
		}
		if slot.count == ^uint8(0) {
			return fmt.Errorf("pin %d: %w", id, ErrNoCapacity)
		}
		if kind == capture.KindDebounced && slot.deb.Window() != window {
			m.log.Debugf("pin %d keeps debounce window %v, ignoring %v", id, slot.deb.Window(), window)
		}
		slot.count++
		return nil
	}

	interrupt := m.platform.InterruptCapable(id)
	if err := m.platform.ConfigureInput(id, pull); err != nil {
		return fmt.Errorf("configure pin %d: %w", id, err)
	}
	level := m.platform.ReadLevels()&id.Mask() != 0

	guard := m.irq.Lock()
	m.capture.Register(id, kind, level)
	guard.Release()

	*slot = pinSlot{
		count:  1,
		kind:   kind,
		polled: !interrupt,
		level:  level,
		owner:  noOwner,
	}
	if kind == capture.KindDebounced {
		slot.deb = debounce.New(window, level)
	}

	if interrupt {
		if err := m.platform.EnableInterrupt(id); err != nil {
			guard := m.irq.Lock()
			m.capture.Unregister(id)
			guard.Release()
			m.platform.Release(id)
			*slot = pinSlot{}
			return fmt.Errorf("enable interrupt on pin %d: %w", id, err)
		}
	} else {
		if m.polled == 0 {
			m.poller.Start(m.pollPeriod, m.isr)
		}
		m.polled |= id.Mask()
	}
	m.used |= id.Mask()
	if level {
		m.lastLevels |= id.Mask()
	} else {
		m.lastLevels &^= id.Mask()
	}

	m.log.Debugf("pin %d registered as %s (level %v, polled %v)", id, kind, level, !interrupt)
	return nil
}

// release drops a reference to pin id. The last reference stops capture
// delivery before any state is torn down. Must be called with m.mu held.
func (m *Monitor) release(id pin.ID) {
	slot := &m.pins[id]
	if slot.count == 0 {
		return
	}
	slot.count--
	if slot.count > 0 {
		return
	}

	if slot.polled {
		m.polled &^= id.Mask()
		if m.polled == 0 {
			m.poller.Stop()
		}
	} else if err := m.platform.DisableInterrupt(id); err != nil {
		m.log.Warnf("disable interrupt on pin %d: %v", id, err)
	}

	guard := m.irq.Lock()
	m.capture.Unregister(id)
	guard.Release()

	if err := m.platform.Release(id); err != nil {
		m.log.Warnf("release pin %d: %v", id, err)
	}
	m.used &^= id.Mask()
	*slot = pinSlot{}

	m.log.Debugf("pin %d released", id)
}

// classify runs the debounce engine or simple threshold read for every
// registered pin. Must be called with m.mu held.
func (m *Monitor) classify(now time.Time, nowMicros uint32) {
	for id := pin.ID(0); int(id) < pin.MaxPins; id++ {
		slot := &m.pins[id]
		slot.state = pin.None
		if m.used&id.Mask() == 0 {
			continue
		}

		switch slot.kind {
		case capture.KindDebounced:
			cell := m.cells[id]
			at := now
			if cell.Count > 0 {
				at = clock.Since(now, nowMicros, cell.Timestamp)
			}
			s := slot.deb.Update(cell.Last, cell.Count, at, now)
			if s.Has(pin.RisingBounced | pin.FallingBounced) {
				m.stats.Bounced++
				m.log.Debugf("pin %d: %s", id, s)
			}
			slot.state = s

		case capture.KindSimple:
			level := m.simple&id.Mask() != 0
			if level != slot.level {
				slot.level = level
				if level {
					slot.state = pin.IsRising
				} else {
					slot.state = pin.IsFalling
				}
			}
		}
	}
}

func (m *Monitor) pinInfo(id pin.ID) PinInfo {
	slot := &m.pins[id]
	info := PinInfo{
		ID:        id,
		Kind:      slot.kind.String(),
		Listeners: int(slot.count),
		Polled:    slot.polled,
	}
	switch slot.kind {
	case capture.KindDebounced:
		info.Level = slot.deb.Level()
		info.Debouncing = slot.deb.Running()
	case capture.KindSimple:
		info.Level = slot.level
	case capture.KindRotary:
		info.Level = m.lastLevels&id.Mask() != 0
	}
	return info
}

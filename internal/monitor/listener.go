package monitor

import (
	"time"

	"github.com/sweeney/pin-monitor/internal/button"
	"github.com/sweeney/pin-monitor/internal/capture"
	"github.com/sweeney/pin-monitor/internal/clock"
	"github.com/sweeney/pin-monitor/internal/pin"
	"github.com/sweeney/pin-monitor/internal/rotary"
)

type listenerKind uint8

const (
	kindFree listenerKind = iota
	kindButton
	kindRotary
)

func (k listenerKind) String() string {
	switch k {
	case kindButton:
		return "button"
	case kindRotary:
		return "rotary"
	default:
		return "free"
	}
}

// listener is one arena slot. gen survives reuse so stale handles never
// match a new occupant.
type listener struct {
	gen  uint16
	kind listenerKind

	name    string
	pins    [2]pin.ID
	npins   uint8
	active  pin.Polarity
	mask    pin.State
	enabled bool
	arg     any
	handler Handler

	button  button.Button
	decoder rotary.Decoder
	pending []capture.Event
}

// alloc returns a free arena index.
func (m *Monitor) alloc() (int, error) {
	for i := range m.listeners {
		if m.listeners[i].kind == kindFree {
			return i, nil
		}
	}
	return 0, ErrNoCapacity
}

// claim bumps the slot generation and returns the handle for it.
func (m *Monitor) claim(idx int) Handle {
	l := &m.listeners[idx]
	l.gen++
	if l.gen == 0 {
		l.gen = 1
	}
	return Handle{index: uint16(idx), gen: l.gen}
}

func (m *Monitor) handle(idx uint16) Handle {
	return Handle{index: idx, gen: m.listeners[idx].gen}
}

// find resolves h to a live arena index.
func (m *Monitor) find(h Handle) (uint16, bool) {
	if !h.Valid() || int(h.index) >= len(m.listeners) {
		return 0, false
	}
	l := &m.listeners[h.index]
	if l.kind == kindFree || l.gen != h.gen {
		return 0, false
	}
	return h.index, true
}

// handlerFor returns the handler of a live, enabled listener.
func (m *Monitor) handlerFor(h Handle) Handler {
	idx, ok := m.find(h)
	if !ok {
		return nil
	}
	l := &m.listeners[idx]
	if !l.enabled {
		return nil
	}
	return l.handler
}

// attached appends idx to the tick order, installing the tick source for
// the first listener.
func (m *Monitor) attached(idx int) {
	m.order = append(m.order, uint16(idx))
	if !m.ticks.Installed() {
		m.ticks.Install()
		m.log.Debugf("tick source installed")
	}
}

// remove detaches the listener at idx. Must be called with m.mu held.
func (m *Monitor) remove(idx uint16) {
	l := &m.listeners[idx]
	for i := 0; i < int(l.npins); i++ {
		m.release(l.pins[i])
	}

	for pos, o := range m.order {
		if o == idx {
			m.order = append(m.order[:pos], m.order[pos+1:]...)
			break
		}
	}

	m.log.Infof("detached %s %q", l.kind, l.name)
	*l = listener{gen: l.gen}

	if len(m.order) == 0 && m.ticks.Installed() {
		m.ticks.Uninstall()
		m.log.Debugf("tick source uninstalled")
	}
}

func (m *Monitor) info(idx uint16) Info {
	l := &m.listeners[idx]
	pins := make([]pin.ID, l.npins)
	copy(pins, l.pins[:l.npins])
	return Info{
		Handle:  m.handle(idx),
		Name:    l.name,
		Kind:    l.kind.String(),
		Pins:    pins,
		Active:  l.active,
		States:  l.mask,
		Enabled: l.enabled,
		Arg:     l.arg,
	}
}

// tickButton feeds this tick's pin state and the loop call to a button.
func (m *Monitor) tickButton(idx uint16, l *listener, now time.Time) {
	if !l.enabled {
		return
	}
	if raw := m.pins[l.pins[0]].state; raw != pin.None {
		s := raw.For(l.active)
		if s.Has(l.mask) {
			m.out = append(m.out, Event{
				Handle: m.handle(idx),
				Name:   l.name,
				Pin:    l.pins[0],
				Time:   now,
				Kind:   StateEvent,
				State:  s,
				Raw:    raw,
			})
			l.button.Event(s, now)
		}
	}
	l.button.Loop(now)
}

// tickRotary decodes every sample routed to the encoder this tick. A
// disabled encoder keeps tracking so it resumes in step.
func (m *Monitor) tickRotary(idx uint16, l *listener, now time.Time, nowMicros uint32) {
	for _, ev := range l.pending {
		dir := l.decoder.Feed(ev.Levels)
		if dir == rotary.None || !l.enabled {
			continue
		}
		m.out = append(m.out, Event{
			Handle:    m.handle(idx),
			Name:      l.name,
			Pin:       l.pins[0],
			Time:      clock.Since(now, nowMicros, ev.Time),
			Kind:      RotaryEvent,
			Direction: dir,
		})
	}
	l.pending = l.pending[:0]
}

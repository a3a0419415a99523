// Package monitor owns the hardware pin registry and the listeners attached
// to it, and drives every state machine from a single tick.
//
// Capture runs on whichever goroutine delivers GPIO edges (or the polling
// timer). Everything else runs from Tick, which reads capture state under
// the irq guard, classifies it, and then calls listener handlers. Handlers
// are never called from capture context.
package monitor

import (
	"context"
	"fmt"
	"io"
	"math/bits"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/sweeney/pin-monitor/internal/button"
	"github.com/sweeney/pin-monitor/internal/capture"
	"github.com/sweeney/pin-monitor/internal/clock"
	"github.com/sweeney/pin-monitor/internal/gpio"
	"github.com/sweeney/pin-monitor/internal/irq"
	"github.com/sweeney/pin-monitor/internal/logger"
	"github.com/sweeney/pin-monitor/internal/pin"
	"github.com/sweeney/pin-monitor/internal/rotary"
)

const (
	// DefaultRingCapacity is the number of rotary records buffered between
	// two ticks.
	DefaultRingCapacity = 64

	// DefaultListeners is the size of the listener arena.
	DefaultListeners = 32

	maxListeners = int(noOwner)
)

// Options configures a Monitor. Zero values select defaults.
type Options struct {
	Clock      clock.Clock
	Ticks      TickSource
	Poller     gpio.Timer
	TickPeriod time.Duration
	PollPeriod time.Duration

	RingCapacity int
	// Budget is the capture time budget in microseconds.
	Budget    uint32
	Listeners int

	Logger *logger.Logger
}

// Monitor is the process-wide registry of pins and listeners.
type Monitor struct {
	// tickMu serialises Tick. mu guards everything below and is released
	// while handlers run, so handlers may attach and detach.
	tickMu sync.Mutex
	mu     sync.Mutex

	platform   gpio.Platform
	clk        clock.Clock
	irq        irq.Controller
	capture    *capture.Capture
	isr        func()
	ticks      TickSource
	poller     gpio.Timer
	pollPeriod time.Duration
	log        *logger.Logger

	pins       [pin.MaxPins]pinSlot
	used       uint32
	polled     uint32
	cells      [pin.MaxPins]capture.Cell
	simple     uint32
	lastLevels uint32
	rotaryBuf  []capture.Event

	listeners []listener
	order     []uint16

	out   []Event
	stats Stats
}

// New creates a Monitor on platform and installs the capture handler.
func New(platform gpio.Platform, opts Options) *Monitor {
	if opts.Clock == nil {
		opts.Clock = clock.NewReal()
	}
	if opts.Ticks == nil {
		opts.Ticks = NewTicker(opts.TickPeriod)
	}
	if opts.Poller == nil {
		opts.Poller = gpio.NewTimer()
	}
	if opts.PollPeriod <= 0 || opts.PollPeriod > gpio.DefaultPollInterval {
		opts.PollPeriod = gpio.DefaultPollInterval
	}
	if opts.RingCapacity <= 0 {
		opts.RingCapacity = DefaultRingCapacity
	}
	if opts.Listeners <= 0 {
		opts.Listeners = DefaultListeners
	}
	if opts.Listeners > maxListeners {
		opts.Listeners = maxListeners
	}

	m := &Monitor{
		platform:   platform,
		clk:        opts.Clock,
		capture:    capture.New(platform, opts.Clock, opts.RingCapacity, opts.Budget),
		ticks:      opts.Ticks,
		poller:     opts.Poller,
		pollPeriod: opts.PollPeriod,
		log:        opts.Logger.WithTag("monitor"),
		rotaryBuf:  make([]capture.Event, 0, opts.RingCapacity),
		listeners:  make([]listener, opts.Listeners),
		order:      make([]uint16, 0, opts.Listeners),
		out:        make([]Event, 0, 2*opts.Listeners),
	}
	m.isr = m.interrupt
	platform.SetHandler(m.isr)
	return m
}

// interrupt is called by the platform on every edge and by the polling
// timer.
func (m *Monitor) interrupt() {
	m.irq.Deliver(m.capture.Interrupt)
}

// AttachButton attaches a push-button listener.
func (m *Monitor) AttachButton(opts ButtonOptions) (Handle, error) {
	if opts.Name == "" {
		opts.Name = fmt.Sprintf("pin%d", opts.Pin)
	}
	if !opts.Pin.Valid() {
		return Handle{}, fmt.Errorf("button %q: pin %d: %w", opts.Name, opts.Pin, ErrInvalidPin)
	}
	kind := capture.KindDebounced
	if opts.Debounce <= 0 {
		kind = capture.KindSimple
	}
	if opts.States == pin.None {
		opts.States = pin.All
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.alloc()
	if err != nil {
		return Handle{}, fmt.Errorf("button %q: %w", opts.Name, err)
	}
	if err := m.acquire(opts.Pin, kind, opts.Pull, opts.Debounce); err != nil {
		return Handle{}, fmt.Errorf("button %q: %w", opts.Name, err)
	}

	h := m.claim(idx)
	l := &m.listeners[idx]
	l.kind = kindButton
	l.name = opts.Name
	l.pins[0] = opts.Pin
	l.npins = 1
	l.active = opts.Active
	l.mask = opts.States
	l.enabled = true
	l.arg = opts.Arg
	l.handler = opts.Handler

	name, id := opts.Name, opts.Pin
	l.button = button.New(opts.Timing, func(e button.Event) {
		m.out = append(m.out, Event{
			Handle:   h,
			Name:     name,
			Pin:      id,
			Time:     e.Time,
			Kind:     ButtonEvent,
			Button:   e.Type,
			Duration: e.Duration,
			Count:    e.Count,
		})
	}, m.log.WithTag(name))

	m.attached(idx)
	m.log.Infof("attached button %q on pin %d (%s, active %s, debounce %v)", name, id, kind, opts.Active, opts.Debounce)
	return h, nil
}

// AttachRotary attaches a quadrature encoder listener on pins A and B.
func (m *Monitor) AttachRotary(opts RotaryOptions) (Handle, error) {
	if opts.Name == "" {
		opts.Name = fmt.Sprintf("encoder%d_%d", opts.A, opts.B)
	}
	for _, id := range []pin.ID{opts.A, opts.B} {
		if !id.Valid() || id >= rotaryPins {
			return Handle{}, fmt.Errorf("encoder %q: pin %d: %w", opts.Name, id, ErrInvalidPin)
		}
	}
	if opts.A == opts.B {
		return Handle{}, fmt.Errorf("encoder %q: pins must differ: %w", opts.Name, ErrInvalidPin)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range []pin.ID{opts.A, opts.B} {
		if !m.platform.InterruptCapable(id) {
			return Handle{}, fmt.Errorf("encoder %q: pin %d: %w", opts.Name, id, ErrNotInterruptCapable)
		}
	}

	idx, err := m.alloc()
	if err != nil {
		return Handle{}, fmt.Errorf("encoder %q: %w", opts.Name, err)
	}
	if err := m.acquire(opts.A, capture.KindRotary, opts.Pull, 0); err != nil {
		return Handle{}, fmt.Errorf("encoder %q: %w", opts.Name, err)
	}
	if err := m.acquire(opts.B, capture.KindRotary, opts.Pull, 0); err != nil {
		m.release(opts.A)
		return Handle{}, fmt.Errorf("encoder %q: %w", opts.Name, err)
	}

	h := m.claim(idx)
	l := &m.listeners[idx]
	l.kind = kindRotary
	l.name = opts.Name
	l.pins = [2]pin.ID{opts.A, opts.B}
	l.npins = 2
	l.active = opts.Active
	l.enabled = true
	l.arg = opts.Arg
	l.handler = opts.Handler
	l.decoder = rotary.New(opts.A, opts.B, opts.Active)
	l.pending = make([]capture.Event, 0, cap(m.rotaryBuf))

	m.pins[opts.A].owner = uint16(idx)
	m.pins[opts.B].owner = uint16(idx)

	m.attached(idx)
	m.log.Infof("attached encoder %q on pins %d/%d (active %s)", opts.Name, opts.A, opts.B, opts.Active)
	return h, nil
}

// Detach removes the listener identified by h. It reports false if h is
// stale. When the last listener of a pin goes, capture for that pin stops
// before Detach returns.
func (m *Monitor) Detach(h Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.find(h)
	if !ok {
		return false
	}
	m.remove(idx)
	return true
}

// DetachFunc removes every listener for which match returns true and
// returns how many were removed. match runs with the monitor locked and
// must not call back into it.
func (m *Monitor) DetachFunc(match func(Info) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for i := 0; i < len(m.order); {
		idx := m.order[i]
		if match(m.info(idx)) {
			m.remove(idx)
			n++
			continue
		}
		i++
	}
	return n
}

// DetachArg removes every listener attached with the given Arg. A nil arg
// matches nothing.
func (m *Monitor) DetachArg(arg any) int {
	if arg == nil {
		return 0
	}
	return m.DetachFunc(func(i Info) bool {
		return i.Arg == arg
	})
}

// DetachAll removes every listener.
func (m *Monitor) DetachAll() int {
	return m.DetachFunc(func(Info) bool { return true })
}

// SetEnabled turns event delivery for a listener on or off. A disabled
// listener keeps its pin registered.
func (m *Monitor) SetEnabled(h Handle, enabled bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.find(h)
	if !ok {
		return false
	}
	m.listeners[idx].enabled = enabled
	return true
}

// Tick runs one evaluation pass and delivers the resulting events. It must
// be called at least once per millisecond while listeners are attached.
func (m *Monitor) Tick() {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	m.collect()
	m.dispatch()
}

// collect gathers capture state and runs every state machine, queueing
// events in m.out.
func (m *Monitor) collect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Read the clock with capture masked so no captured edge is newer than
	// nowMicros.
	guard := m.irq.Lock()
	now := m.clk.Now()
	nowMicros := m.clk.Micros()
	for id := pin.ID(0); int(id) < pin.MaxPins; id++ {
		if m.used&id.Mask() != 0 && m.pins[id].kind == capture.KindDebounced {
			m.cells[id] = m.capture.TakeCell(id)
		}
	}
	m.simple = m.capture.SimpleLevels()
	ring := m.capture.Ring()
	m.rotaryBuf = ring.DrainInto(m.rotaryBuf[:0])
	frames, aborted, dropped := m.capture.Frames(), m.capture.Aborted(), ring.Dropped()
	guard.Release()

	m.noteOverruns(frames, aborted, dropped)
	m.route()
	m.classify(now, nowMicros)

	for _, idx := range m.order {
		l := &m.listeners[idx]
		switch l.kind {
		case kindButton:
			m.tickButton(idx, l, now)
		case kindRotary:
			m.tickRotary(idx, l, now, nowMicros)
		}
	}

	m.stats.Ticks++
	m.stats.LastTick = m.clk.Now().Sub(now)
	if m.stats.LastTick > m.stats.MaxTick {
		m.stats.MaxTick = m.stats.LastTick
	}
}

// route hands drained rotary records to their encoders in arrival order.
func (m *Monitor) route() {
	for _, ev := range m.rotaryBuf {
		m.lastLevels = m.lastLevels&^0xffff | uint32(ev.Levels)
		slot := &m.pins[ev.Pin]
		if slot.kind != capture.KindRotary || slot.owner == noOwner {
			continue
		}
		l := &m.listeners[slot.owner]
		l.pending = append(l.pending, ev)
	}
}

func (m *Monitor) noteOverruns(frames, aborted, dropped uint32) {
	if dropped != m.stats.Dropped {
		m.log.Warnf("rotary ring overflow: %d records dropped", dropped-m.stats.Dropped)
	}
	if aborted != m.stats.Aborted {
		m.log.Warnf("capture over budget: %d interrupts aborted", aborted-m.stats.Aborted)
	}
	m.stats.Frames = frames
	m.stats.Aborted = aborted
	m.stats.Dropped = dropped
}

// dispatch calls handlers for the queued events. A listener detached or
// disabled by an earlier handler receives nothing further.
func (m *Monitor) dispatch() {
	for i := range m.out {
		ev := &m.out[i]
		m.mu.Lock()
		fn := m.handlerFor(ev.Handle)
		m.mu.Unlock()
		if fn != nil {
			fn(*ev)
		}
	}
	m.out = m.out[:0]
}

// Run drives Tick from the tick source until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	return m.ticks.Run(ctx, m.Tick)
}

// Stats returns a snapshot of the diagnostic counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.stats
	s.Listeners = len(m.order)
	s.Pins = bits.OnesCount32(m.used)
	s.Polled = bits.OnesCount32(m.polled)
	s.TickInstalled = m.ticks.Installed()
	return s
}

// Listeners describes the attached listeners in attachment order.
func (m *Monitor) Listeners() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Info, 0, len(m.order))
	for _, idx := range m.order {
		out = append(out, m.info(idx))
	}
	return out
}

// Pins describes the registered pins in id order.
func (m *Monitor) Pins() []PinInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []PinInfo
	for id := pin.ID(0); int(id) < pin.MaxPins; id++ {
		if m.used&id.Mask() != 0 {
			out = append(out, m.pinInfo(id))
		}
	}
	return out
}

// WriteStatus writes a human readable dump of the registry, the listeners
// and the counters.
func (m *Monitor) WriteStatus(w io.Writer) error {
	pins := m.Pins()
	listeners := m.Listeners()
	s := m.Stats()

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PIN\tKIND\tLISTENERS\tLEVEL\tSOURCE\tDEBOUNCE")
	for _, p := range pins {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\n",
			p.ID, p.Kind, p.Listeners, levelName(p.Level), sourceName(p.Polled), debounceName(p.Debouncing))
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "LISTENER\tKIND\tPINS\tACTIVE\tSTATES\tENABLED")
	for _, l := range listeners {
		fmt.Fprintf(tw, "%s\t%s\t%v\t%s\t%s\t%v\n",
			l.Name, l.Kind, l.Pins, l.Active, l.States, l.Enabled)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\nticks=%d frames=%d aborted=%d dropped=%d bounced=%d last_tick=%v max_tick=%v tick_installed=%v\n",
		s.Ticks, s.Frames, s.Aborted, s.Dropped, s.Bounced, s.LastTick, s.MaxTick, s.TickInstalled)
	return err
}

func levelName(high bool) string {
	if high {
		return "high"
	}
	return "low"
}

func sourceName(polled bool) string {
	if polled {
		return "poll"
	}
	return "irq"
}

func debounceName(running bool) string {
	if running {
		return "running"
	}
	return "idle"
}

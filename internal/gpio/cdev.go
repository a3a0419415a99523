//go:build linux

package gpio

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/pin-monitor/internal/pin"
)

// CdevPlatform drives pins through the Linux GPIO character device. Every
// configured pin is requested with an event handler; edge detection is
// switched on and off by reconfiguring the line. The kernel timestamps and
// queues edges, and the handler keeps a shadow copy of the level register so
// ReadLevels is a single load.
type CdevPlatform struct {
	mu       sync.Mutex
	chip     *gpiocdev.Chip
	lines    map[pin.ID]*gpiocdev.Line
	numLines int

	levels  atomic.Uint32
	handler atomic.Pointer[func()]
}

// NewCdevPlatform opens the named GPIO chip (e.g. "gpiochip0").
func NewCdevPlatform(chipName string) (*CdevPlatform, error) {
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer("pin-monitor"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	return &CdevPlatform{
		chip:     chip,
		lines:    make(map[pin.ID]*gpiocdev.Line),
		numLines: chip.Lines(),
	}, nil
}

func biasOption(pull pin.Pull) gpiocdev.LineReqOption {
	switch pull {
	case pin.PullUp:
		return gpiocdev.WithPullUp
	case pin.PullDown:
		return gpiocdev.WithPullDown
	default:
		return gpiocdev.WithBiasDisabled
	}
}

// ConfigureInput requests the line as an input with the given bias.
func (p *CdevPlatform) ConfigureInput(id pin.ID, pull pin.Pull) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if int(id) >= p.numLines {
		return fmt.Errorf("pin %d: chip has %d lines", id, p.numLines)
	}
	if l, ok := p.lines[id]; ok {
		if err := l.Reconfigure(gpiocdev.AsInput); err != nil {
			return fmt.Errorf("reconfigure pin %d: %w", id, err)
		}
		return nil
	}

	line, err := p.chip.RequestLine(int(id),
		gpiocdev.AsInput,
		biasOption(pull),
		gpiocdev.WithEventHandler(p.onEvent))
	if err != nil {
		return fmt.Errorf("request pin %d: %w", id, err)
	}
	p.lines[id] = line

	v, err := line.Value()
	if err != nil {
		return fmt.Errorf("read pin %d: %w", id, err)
	}
	p.setLevel(id, v != 0)
	return nil
}

// Release reconfigures the pin to input with pull-down (the Pi boot
// default) before closing it, so external hardware sees a clean state.
func (p *CdevPlatform) Release(id pin.ID) error {
	p.mu.Lock()
	line, ok := p.lines[id]
	delete(p.lines, id)
	p.mu.Unlock()

	if !ok {
		return nil
	}
	var errs []error
	if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown, gpiocdev.WithoutEdges); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", id, err))
	}
	if err := line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pin %d: %w", id, err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("release errors: %v", errs)
	}
	return nil
}

// InterruptCapable is true for every line of the chip.
func (p *CdevPlatform) InterruptCapable(id pin.ID) bool {
	return int(id) < p.numLines
}

func (p *CdevPlatform) EnableInterrupt(id pin.ID) error {
	line, err := p.line(id)
	if err != nil {
		return err
	}
	// Resync the shadow bit; edges before this point were not reported.
	if v, err := line.Value(); err == nil {
		p.setLevel(id, v != 0)
	}
	if err := line.Reconfigure(gpiocdev.WithBothEdges); err != nil {
		return fmt.Errorf("enable edges on pin %d: %w", id, err)
	}
	return nil
}

func (p *CdevPlatform) DisableInterrupt(id pin.ID) error {
	line, err := p.line(id)
	if err != nil {
		return err
	}
	if err := line.Reconfigure(gpiocdev.WithoutEdges); err != nil {
		return fmt.Errorf("disable edges on pin %d: %w", id, err)
	}
	return nil
}

func (p *CdevPlatform) line(id pin.ID) (*gpiocdev.Line, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	line, ok := p.lines[id]
	if !ok {
		return nil, fmt.Errorf("pin %d not configured", id)
	}
	return line, nil
}

// ReadLevels returns the shadow register maintained from edge events.
func (p *CdevPlatform) ReadLevels() uint32 {
	return p.levels.Load()
}

func (p *CdevPlatform) SetHandler(fn func()) {
	p.handler.Store(&fn)
}

func (p *CdevPlatform) setLevel(id pin.ID, high bool) {
	bit := id.Mask()
	for {
		old := p.levels.Load()
		v := old &^ bit
		if high {
			v |= bit
		}
		if p.levels.CompareAndSwap(old, v) {
			return
		}
	}
}

// onEvent runs on the gpiocdev watcher goroutine.
func (p *CdevPlatform) onEvent(evt gpiocdev.LineEvent) {
	p.setLevel(pin.ID(evt.Offset), evt.Type == gpiocdev.LineEventRisingEdge)
	if fn := p.handler.Load(); fn != nil && *fn != nil {
		(*fn)()
	}
}

// Close releases every requested line and the chip.
func (p *CdevPlatform) Close() error {
	p.mu.Lock()
	ids := make([]pin.ID, 0, len(p.lines))
	for id := range p.lines {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := p.Release(id); err != nil {
			errs = append(errs, err)
		}
	}
	if p.chip != nil {
		if err := p.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

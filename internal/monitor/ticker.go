package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTickPeriod is the rate at which the tick source drives Tick.
const DefaultTickPeriod = time.Millisecond

// TickSource drives Monitor.Tick. The monitor installs it when the first
// listener attaches and uninstalls it when the last one detaches. Install
// and Uninstall never block, so they are safe from inside a Tick.
type TickSource interface {
	Install()
	Uninstall()
	Installed() bool
	// Run calls tick while installed until ctx is done.
	Run(ctx context.Context, tick func()) error
}

// Ticker is the real TickSource: a time.Ticker that only runs while
// installed.
type Ticker struct {
	period    time.Duration
	installed atomic.Bool
	wake      chan struct{}
}

// NewTicker creates an uninstalled Ticker. period <= 0 selects
// DefaultTickPeriod.
func NewTicker(period time.Duration) *Ticker {
	if period <= 0 {
		period = DefaultTickPeriod
	}
	return &Ticker{period: period, wake: make(chan struct{}, 1)}
}

func (t *Ticker) Install() {
	if !t.installed.Swap(true) {
		select {
		case t.wake <- struct{}{}:
		default:
		}
	}
}

func (t *Ticker) Uninstall() {
	t.installed.Store(false)
}

func (t *Ticker) Installed() bool {
	return t.installed.Load()
}

// Run blocks until ctx is done. While uninstalled it sleeps on the wake
// channel instead of ticking.
func (t *Ticker) Run(ctx context.Context, tick func()) error {
	for {
		if !t.installed.Load() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.wake:
			}
			continue
		}

		ticker := time.NewTicker(t.period)
		for t.installed.Load() {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return ctx.Err()
			case <-ticker.C:
				tick()
			}
		}
		ticker.Stop()
	}
}

// FakeTickSource records installs for tests; tests call Monitor.Tick
// directly.
type FakeTickSource struct {
	mu         sync.Mutex
	installed  bool
	Installs   int
	Uninstalls int
}

func (f *FakeTickSource) Install() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.installed {
		f.Installs++
	}
	f.installed = true
}

func (f *FakeTickSource) Uninstall() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.installed {
		f.Uninstalls++
	}
	f.installed = false
}

func (f *FakeTickSource) Installed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.installed
}

// Run blocks until ctx is done without ticking.
func (f *FakeTickSource) Run(ctx context.Context, _ func()) error {
	<-ctx.Done()
	return ctx.Err()
}

package gpio

import (
	"sync"
	"time"
)

// Timer calls a function at a fixed period. It stands in for edge interrupts
// on pins that cannot deliver them.
type Timer interface {
	Start(period time.Duration, fn func())
	Stop()
}

// TickerTimer is a Timer driven by time.Ticker on its own goroutine.
type TickerTimer struct {
	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewTimer returns a stopped TickerTimer.
func NewTimer() *TickerTimer {
	return &TickerTimer{}
}

// Start begins calling fn every period. Starting a running timer restarts it.
func (t *TickerTimer) Start(period time.Duration, fn func()) {
	t.Stop()

	t.mu.Lock()
	defer t.mu.Unlock()
	stop := make(chan struct{})
	done := make(chan struct{})
	t.stop, t.done = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

// Stop halts the timer and waits for an in-flight call to return.
func (t *TickerTimer) Stop() {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// FakeTimer records Start/Stop calls; tests invoke Fire to simulate a period.
type FakeTimer struct {
	Running bool
	Period  time.Duration
	Starts  int
	Stops   int
	fn      func()
}

func (f *FakeTimer) Start(period time.Duration, fn func()) {
	f.Running = true
	f.Period = period
	f.Starts++
	f.fn = fn
}

func (f *FakeTimer) Stop() {
	if f.Running {
		f.Stops++
	}
	f.Running = false
}

// Fire calls the timer function once if the timer is running.
func (f *FakeTimer) Fire() {
	if f.Running && f.fn != nil {
		f.fn()
	}
}

// Package clock provides the monotonic counters used by the capture layer and
// the monitor tick.
package clock

import (
	"sync"
	"time"
)

// Clock supplies both time views. Micros wraps every ~71 minutes; callers only
// ever use differences between two readings.
type Clock interface {
	// Now is read from loop context.
	Now() time.Time
	// Micros is read from capture context.
	Micros() uint32
}

// Real is a Clock backed by the runtime monotonic clock.
type Real struct {
	start time.Time
}

// NewReal creates a clock whose microsecond counter starts at zero now.
func NewReal() *Real {
	return &Real{start: time.Now()}
}

func (r *Real) Now() time.Time {
	return time.Now()
}

func (r *Real) Micros() uint32 {
	return uint32(time.Since(r.start) / time.Microsecond)
}

// Fake is a manually advanced Clock for tests. Step, if non-zero, is added
// after every Micros call to simulate time spent inside a handler.
type Fake struct {
	mu   sync.Mutex
	base time.Time
	now  time.Time
	Step time.Duration
}

// NewFake returns a fake clock positioned at start.
func NewFake(start time.Time) *Fake {
	return &Fake{base: start, now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Micros() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	us := uint32(f.now.Sub(f.base) / time.Microsecond)
	f.now = f.now.Add(f.Step)
	return us
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Set positions the clock at start+d.
func (f *Fake) Set(d time.Duration) {
	f.mu.Lock()
	f.now = f.base.Add(d)
	f.mu.Unlock()
}

// Since converts a microsecond reading taken earlier into wall time relative
// to now. The uint32 subtraction handles counter wrap; a reading newer than
// nowMicros maps to now.
func Since(now time.Time, nowMicros, then uint32) time.Time {
	d := int32(nowMicros - then)
	if d < 0 {
		return now
	}
	return now.Add(-time.Duration(d) * time.Microsecond)
}

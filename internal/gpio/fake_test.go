package gpio

import (
	"errors"
	"testing"
	"time"

	"github.com/sweeney/pin-monitor/internal/pin"
)

func TestFakePlatformLevels(t *testing.T) {
	f := NewFakePlatform()

	f.SetLevel(3, true)
	f.SetLevel(7, true)
	if got := f.ReadLevels(); got != 1<<3|1<<7 {
		t.Errorf("levels: got %#x, want %#x", got, 1<<3|1<<7)
	}

	f.SetLevel(3, false)
	if f.Level(3) {
		t.Error("pin 3 should be low")
	}
	if f.Reads != 1 {
		t.Errorf("reads: got %d, want 1", f.Reads)
	}
}

func TestFakePlatformInterruptDelivery(t *testing.T) {
	f := NewFakePlatform()
	calls := 0
	f.SetHandler(func() { calls++ })

	// No interrupt enabled yet.
	f.SetLevel(4, true)
	if calls != 0 {
		t.Errorf("handler called without interrupt enabled")
	}

	if err := f.EnableInterrupt(4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.SetLevel(4, false)
	if calls != 1 {
		t.Errorf("calls: got %d, want 1", calls)
	}

	// Same level again is not an edge.
	f.SetLevel(4, false)
	if calls != 1 {
		t.Errorf("calls after no-op: got %d, want 1", calls)
	}

	f.DisableInterrupt(4)
	f.SetLevel(4, true)
	if calls != 1 {
		t.Errorf("handler called after disable")
	}
}

func TestFakePlatformPollOnly(t *testing.T) {
	f := NewFakePlatform()
	f.PollOnly[16] = true

	if f.InterruptCapable(16) {
		t.Error("pin 16 should not be interrupt capable")
	}
	if err := f.EnableInterrupt(16); err == nil {
		t.Error("expected error enabling interrupt on poll-only pin")
	}
}

func TestFakePlatformConfigure(t *testing.T) {
	f := NewFakePlatform()

	if err := f.ConfigureInput(4, pin.PullUp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Configured[4] != pin.PullUp {
		t.Errorf("pull: got %v", f.Configured[4])
	}

	f.Release(4)
	if _, ok := f.Configured[4]; ok {
		t.Error("pin should be unconfigured after release")
	}
	if len(f.Released) != 1 || f.Released[0] != 4 {
		t.Errorf("released: got %v", f.Released)
	}

	f.ConfigureError = errors.New("simulated error")
	if err := f.ConfigureInput(5, pin.PullNone); err == nil {
		t.Error("expected configured error")
	}
}

func TestFakePlatformClose(t *testing.T) {
	f := NewFakePlatform()

	if f.Closed {
		t.Error("should not be closed initially")
	}
	if err := f.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !f.Closed {
		t.Error("should be closed after Close()")
	}
}

func TestFakeTimer(t *testing.T) {
	var ft FakeTimer
	fired := 0

	ft.Fire()
	ft.Start(DefaultPollInterval, func() { fired++ })
	ft.Fire()
	ft.Fire()
	ft.Stop()
	ft.Fire()

	if fired != 2 {
		t.Errorf("fired: got %d, want 2", fired)
	}
	if ft.Starts != 1 || ft.Stops != 1 {
		t.Errorf("starts/stops: got %d/%d", ft.Starts, ft.Stops)
	}
	if ft.Period != DefaultPollInterval {
		t.Errorf("period: got %v", ft.Period)
	}
}

func TestTickerTimer(t *testing.T) {
	tm := NewTimer()
	calls := make(chan struct{}, 16)

	tm.Start(time.Millisecond, func() {
		select {
		case calls <- struct{}{}:
		default:
		}
	})

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}

	tm.Stop()
	// Drain anything in flight, then make sure nothing more arrives.
	for len(calls) > 0 {
		<-calls
	}
	select {
	case <-calls:
		t.Error("timer fired after Stop")
	case <-time.After(20 * time.Millisecond):
	}

	// Stopping twice is fine.
	tm.Stop()
}

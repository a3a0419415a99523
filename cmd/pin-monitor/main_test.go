package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/pin-monitor/internal/button"
	"github.com/sweeney/pin-monitor/internal/clock"
	"github.com/sweeney/pin-monitor/internal/config"
	"github.com/sweeney/pin-monitor/internal/gpio"
	"github.com/sweeney/pin-monitor/internal/monitor"
	"github.com/sweeney/pin-monitor/internal/mqtt"
	"github.com/sweeney/pin-monitor/internal/pin"
	"github.com/sweeney/pin-monitor/internal/rotary"
	"github.com/sweeney/pin-monitor/internal/status"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env. If pi-helper changes its var names, this test fails
// and we update the constants, not the other way around.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func TestReadNetworkInfoAllSet(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "MyNetwork")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}

	want := status.NetworkInfo{
		Type:       "wifi",
		IP:         "192.168.1.100",
		Status:     "connected",
		Gateway:    "192.168.1.1",
		WifiStatus: "connected",
		SSID:       "MyNetwork",
	}
	if *info != want {
		t.Errorf("got %+v, want %+v", *info, want)
	}
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	t.Setenv(envNetworkStatus, "")
	if info := readNetworkInfo(); info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}
}

func TestReadNetworkInfoPartial(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkIP, "")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo when NETWORK_STATUS is set")
	}
	if info.Status != "connected" {
		t.Errorf("Status: got %q, want %q", info.Status, "connected")
	}
	if info.IP != "" {
		t.Errorf("IP: got %q, want empty", info.IP)
	}
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	if _, err := newLogger("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
	if l, err := newLogger("debug"); err != nil || l == nil {
		t.Errorf("newLogger(debug): %v", err)
	}
}

func intp(v int) *int { return &v }

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Buttons = []config.ButtonConfig{
		{Name: "door", Pin: 4, Active: "low", Pull: "up"},
		{Name: "bell", Pin: 5, DebounceMS: intp(0)},
	}
	cfg.Encoders = []config.EncoderConfig{
		{Name: "knob", PinA: 6, PinB: 7, Active: "low", Pull: "up"},
	}
	return cfg
}

func TestPrintState(t *testing.T) {
	plat := gpio.NewFakePlatform()
	plat.SetLevels(pin.ID(4).Mask() | pin.ID(5).Mask())

	var buf bytes.Buffer
	if err := printState(plat, testConfig(), &buf); err != nil {
		t.Fatalf("printState: %v", err)
	}

	if len(plat.Configured) != 0 {
		t.Errorf("pins left configured: %v", plat.Configured)
	}
	released := fmt.Sprint(plat.Released)
	if released != "[4 5 6 7]" {
		t.Errorf("released: got %s, want [4 5 6 7]", released)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	want := [][]string{
		{"NAME", "PIN", "LEVEL", "STATE"},
		{"door", "4", "high", "inactive"},
		{"bell", "5", "high", "active"},
		{"knob.a", "6", "low", "active"},
		{"knob.b", "7", "low", "active"},
	}
	for i, w := range want {
		if got := strings.Fields(lines[i]); strings.Join(got, " ") != strings.Join(w, " ") {
			t.Errorf("line %d: got %v, want %v", i, got, w)
		}
	}
}

func TestPrintStateConfigureError(t *testing.T) {
	plat := gpio.NewFakePlatform()
	plat.ConfigureError = errors.New("busy")

	if err := printState(plat, testConfig(), &bytes.Buffer{}); err == nil {
		t.Error("expected error")
	}
}

func newTestMonitor(plat *gpio.FakePlatform, clk clock.Clock) *monitor.Monitor {
	return monitor.New(plat, monitor.Options{
		Clock:  clk,
		Ticks:  &monitor.FakeTickSource{},
		Poller: &gpio.FakeTimer{},
	})
}

func TestAttachInputs(t *testing.T) {
	plat := gpio.NewFakePlatform()
	m := newTestMonitor(plat, clock.NewFake(time.Unix(0, 0)))

	if err := attachInputs(m, testConfig(), func(monitor.Event) {}); err != nil {
		t.Fatalf("attachInputs: %v", err)
	}

	infos := m.Listeners()
	if len(infos) != 3 {
		t.Fatalf("listeners: got %d, want 3", len(infos))
	}
	if infos[0].Name != "door" || infos[2].Kind != "rotary" {
		t.Errorf("listeners: %+v", infos)
	}
	for _, id := range []pin.ID{4, 5, 6, 7} {
		if !plat.InterruptEnabled(id) {
			t.Errorf("pin %d: interrupt not enabled", id)
		}
	}

	// Config names are the DetachArg keys.
	if n := m.DetachArg("knob"); n != 1 {
		t.Errorf("DetachArg(knob): got %d, want 1", n)
	}
}

func TestAttachInputsError(t *testing.T) {
	plat := gpio.NewFakePlatform()
	plat.PollOnly[6] = true
	m := newTestMonitor(plat, clock.NewFake(time.Unix(0, 0)))

	err := attachInputs(m, testConfig(), func(monitor.Event) {})
	if !errors.Is(err, monitor.ErrNotInterruptCapable) {
		t.Errorf("got %v, want ErrNotInterruptCapable", err)
	}
}

func TestQueueHandlerDropsWhenFull(t *testing.T) {
	events := make(chan monitor.Event, 1)
	var dropped atomic.Uint64
	h := queueHandler(events, &dropped)

	h(monitor.Event{Name: "a"})
	h(monitor.Event{Name: "b"})
	h(monitor.Event{Name: "c"})

	if dropped.Load() != 2 {
		t.Errorf("dropped: got %d, want 2", dropped.Load())
	}
	if e := <-events; e.Name != "a" {
		t.Errorf("queued: got %q, want a", e.Name)
	}
}

// --- runLoop tests ---

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

type fakeView struct {
	stats monitor.Stats
}

func (v *fakeView) Stats() monitor.Stats      { return v.stats }
func (v *fakeView) Pins() []monitor.PinInfo  { return []monitor.PinInfo{{ID: 4, Kind: "debounced", Listeners: 1}} }
func (v *fakeView) Listeners() []monitor.Info { return []monitor.Info{{Name: "door", Kind: "button"}} }

type loopHarness struct {
	pub     *mqtt.FakePublisher
	tracker *status.Tracker
	events  chan monitor.Event
	refresh chan time.Time
	sig     chan os.Signal
	dropped atomic.Uint64
	done    chan error
}

func startLoop(t *testing.T, heartbeat time.Duration, now func() time.Time) *loopHarness {
	t.Helper()
	h := &loopHarness{
		pub:     mqtt.NewFakePublisher(),
		tracker: status.NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), status.Config{}),
		events:  make(chan monitor.Event),
		refresh: make(chan time.Time),
		sig:     make(chan os.Signal),
		done:    make(chan error, 1),
	}
	h.pub.Connected = true
	lp := loop{
		monitor:   &fakeView{stats: monitor.Stats{Ticks: 7, TickInstalled: true}},
		events:    h.events,
		dropped:   &h.dropped,
		publisher: h.pub,
		status:    h.pub,
		tracker:   h.tracker,
		heartbeat: heartbeat,
		now:       now,
		refresh:   h.refresh,
		sig:       h.sig,
	}
	go func() { h.done <- runLoop(lp) }()
	return h
}

func (h *loopHarness) stop(t *testing.T, s os.Signal) {
	t.Helper()
	h.sig <- s
	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("runLoop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runLoop did not return")
	}
}

func TestRunLoopPublishesEvents(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := startLoop(t, 0, fakeClock(start, time.Second))

	h.events <- monitor.Event{Name: "door", Kind: monitor.ButtonEvent, Button: button.Down}
	h.events <- monitor.Event{Name: "door", Kind: monitor.ButtonEvent, Button: button.Up}
	h.events <- monitor.Event{Name: "knob", Kind: monitor.RotaryEvent, Direction: rotary.Clockwise}
	h.stop(t, syscall.SIGTERM)

	got := strings.Join(h.pub.EventTypes(), ",")
	if got != "DOWN,UP,CLOCKWISE" {
		t.Errorf("events: got %s", got)
	}

	snap := h.tracker.Snapshot()
	if snap.Counts["DOWN"] != 1 || snap.Counts["CLOCKWISE"] != 1 {
		t.Errorf("counts: %v", snap.Counts)
	}
	if snap.Last == nil || snap.Last.Listener != "knob" {
		t.Errorf("last: %+v", snap.Last)
	}
}

func TestRunLoopShutdownEvent(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := startLoop(t, 0, fakeClock(start, time.Second))
	h.stop(t, syscall.SIGINT)

	if names := h.pub.SystemEventNames(); len(names) != 1 || names[0] != "SHUTDOWN" {
		t.Fatalf("system events: %v", names)
	}
	ev := h.pub.SystemEvents[0]
	if !ev.Retained || ev.Reason != "SIGINT" {
		t.Errorf("shutdown event: %+v", ev)
	}

	var parsed status.StatusJSON
	if err := json.Unmarshal(h.pub.SystemPayloads[0], &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Event != "SHUTDOWN" || parsed.Status.Reason != "SIGINT" {
		t.Errorf("payload: %+v", parsed.Status)
	}
	if !parsed.Status.MQTT.Connected || parsed.Status.Monitor.Ticks != 7 {
		t.Errorf("tracker not refreshed before shutdown: %+v", parsed.Status)
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := startLoop(t, 15*time.Minute, fakeClock(start, 10*time.Minute))

	h.refresh <- start // +10m: too early
	if n := len(h.pub.SystemEventNames()); n != 0 {
		t.Fatalf("heartbeat too early: %d system events", n)
	}
	h.refresh <- start // +20m: due
	h.refresh <- start // +30m: 10m since last, not due
	h.stop(t, syscall.SIGTERM)

	names := h.pub.SystemEventNames()
	if len(names) != 2 || names[0] != "HEARTBEAT" || names[1] != "SHUTDOWN" {
		t.Fatalf("system events: %v", names)
	}
	if h.pub.SystemEvents[0].Retained {
		t.Error("heartbeat should not be retained")
	}
	var parsed status.StatusJSON
	if err := json.Unmarshal(h.pub.SystemPayloads[0], &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Event != "HEARTBEAT" || len(parsed.Status.Pins) != 1 {
		t.Errorf("heartbeat payload: %+v", parsed.Status)
	}
}

func TestRunLoopHeartbeatDisabled(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := startLoop(t, 0, fakeClock(start, time.Hour))

	for i := 0; i < 5; i++ {
		h.refresh <- start
	}
	h.stop(t, syscall.SIGTERM)

	if names := h.pub.SystemEventNames(); len(names) != 1 {
		t.Errorf("system events: %v", names)
	}
}

func TestRunLoopContinuesAfterPublishError(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := startLoop(t, 0, fakeClock(start, time.Second))

	h.pub.PublishError = errors.New("broker down")
	h.events <- monitor.Event{Name: "door", Kind: monitor.ButtonEvent, Button: button.Down}
	h.refresh <- start
	h.events <- monitor.Event{Name: "door", Kind: monitor.ButtonEvent, Button: button.Up}
	h.stop(t, syscall.SIGTERM)

	// Counted even though publishing failed.
	if n := h.tracker.Snapshot().Counts["UP"]; n != 1 {
		t.Errorf("UP count: got %d, want 1", n)
	}
	if names := h.pub.SystemEventNames(); len(names) != 1 || names[0] != "SHUTDOWN" {
		t.Errorf("system events: %v", names)
	}
}

// TestDaemonEndToEnd drives a real monitor from a fake platform through the
// queue handler and the loop into a fake publisher.
func TestDaemonEndToEnd(t *testing.T) {
	plat := gpio.NewFakePlatform()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	m := newTestMonitor(plat, clk)

	cfg := config.Default()
	cfg.Buttons = []config.ButtonConfig{{Name: "door", Pin: 4}}
	cfg.Buttons[0].States = []string{"rising", "falling"}

	events := make(chan monitor.Event, eventQueue)
	var dropped atomic.Uint64
	if err := attachInputs(m, cfg, queueHandler(events, &dropped)); err != nil {
		t.Fatalf("attachInputs: %v", err)
	}

	// 150ms press, then idle long enough for the click group to close.
	for ms := 0; ms <= 500; ms++ {
		clk.Set(time.Duration(ms) * time.Millisecond)
		switch ms {
		case 1:
			plat.SetLevel(4, true)
		case 151:
			plat.SetLevel(4, false)
		}
		m.Tick()
	}

	pub := mqtt.NewFakePublisher()
	tracker := status.NewTracker(clk.Now(), status.Config{})
	sig := make(chan os.Signal, 1)
	sig <- syscall.SIGTERM
	err := runLoop(loop{
		monitor:   m,
		events:    events,
		dropped:   &dropped,
		publisher: pub,
		tracker:   tracker,
		now:       clk.Now,
		sig:       sig,
	})
	if err != nil {
		t.Fatalf("runLoop: %v", err)
	}

	got := strings.Join(pub.EventTypes(), ",")
	want := "rising,DOWN,falling,UP,CLICK,SINGLE_CLICK"
	if got != want {
		t.Errorf("events:\n got %s\nwant %s", got, want)
	}
	if dropped.Load() != 0 {
		t.Errorf("dropped: %d", dropped.Load())
	}
}

package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/pin-monitor/internal/button"
	"github.com/sweeney/pin-monitor/internal/monitor"
	"github.com/sweeney/pin-monitor/internal/pin"
)

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestNewTracker(t *testing.T) {
	cfg := Config{PollMs: 5, TickMs: 1, Broker: "tcp://localhost:1883", HTTPAddr: ":80"}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.PollMs != 5 {
		t.Errorf("Config.PollMs: got %d, want 5", snap.Config.PollMs)
	}
	if snap.Config.HTTPAddr != ":80" {
		t.Errorf("Config.HTTPAddr: got %q, want %q", snap.Config.HTTPAddr, ":80")
	}
	if snap.Ready() {
		t.Error("expected Ready=false initially")
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
	if snap.Last != nil {
		t.Error("expected no last event initially")
	}
}

func TestUpdateAndSnapshot(t *testing.T) {
	tr := NewTracker(start, Config{})

	tr.Update(
		monitor.Stats{Ticks: 42, Dropped: 3, TickInstalled: true},
		[]monitor.PinInfo{{ID: 17, Kind: "debounced", Listeners: 2}},
		[]monitor.Info{{Name: "door", Kind: "button", Pins: []pin.ID{17}, Enabled: true}},
	)

	snap := tr.Snapshot()
	if !snap.Ready() {
		t.Error("expected Ready=true")
	}
	if snap.Stats.Ticks != 42 || snap.Stats.Dropped != 3 {
		t.Errorf("Stats: got %+v", snap.Stats)
	}
	if len(snap.Pins) != 1 || snap.Pins[0].Listeners != 2 {
		t.Errorf("Pins: got %+v", snap.Pins)
	}
	if len(snap.Listeners) != 1 || snap.Listeners[0].Name != "door" {
		t.Errorf("Listeners: got %+v", snap.Listeners)
	}
}

func TestRecordEvent(t *testing.T) {
	tr := NewTracker(start, Config{})
	at := start.Add(time.Minute)

	tr.RecordEvent(monitor.Event{Name: "door", Kind: monitor.ButtonEvent, Button: button.Click, Time: at})
	tr.RecordEvent(monitor.Event{Name: "door", Kind: monitor.ButtonEvent, Button: button.Click, Time: at})
	tr.RecordEvent(monitor.Event{Name: "door", Kind: monitor.StateEvent, State: pin.IsLow, Time: at.Add(time.Second)})

	snap := tr.Snapshot()
	if snap.Counts["CLICK"] != 2 {
		t.Errorf("CLICK count: got %d, want 2", snap.Counts["CLICK"])
	}
	if snap.Counts["low"] != 1 {
		t.Errorf("low count: got %d, want 1", snap.Counts["low"])
	}
	if snap.Last == nil || snap.Last.Event != "low" || snap.Last.Listener != "door" {
		t.Fatalf("Last: got %+v", snap.Last)
	}
	if !snap.Last.Time.Equal(at.Add(time.Second)) {
		t.Errorf("Last.Time: got %v", snap.Last.Time)
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSetNetwork(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	if tr.Snapshot().Network != nil {
		t.Error("expected nil Network initially")
	}

	tr.SetNetwork(&NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected"})

	snap := tr.Snapshot()
	if snap.Network == nil {
		t.Fatal("expected non-nil Network")
	}
	if snap.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want %q", snap.Network.IP, "192.168.1.42")
	}
}

func TestSnapshotUptime(t *testing.T) {
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
	}

	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotNowIsSet(t *testing.T) {
	tr := NewTracker(start, Config{})

	before := time.Now()
	snap := tr.Snapshot()
	after := time.Now()

	if snap.Now.Before(before) || snap.Now.After(after) {
		t.Errorf("Now (%v) not between %v and %v", snap.Now, before, after)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.RecordEvent(monitor.Event{Name: "a", Kind: monitor.ButtonEvent, Button: button.Down})

	snap1 := tr.Snapshot()

	tr.RecordEvent(monitor.Event{Name: "b", Kind: monitor.ButtonEvent, Button: button.Down})

	if snap1.Counts["DOWN"] != 1 {
		t.Errorf("snapshot should be a copy; DOWN count is %d", snap1.Counts["DOWN"])
	}
	if snap1.Last.Listener != "a" {
		t.Errorf("snapshot should be a copy; last listener is %q", snap1.Last.Listener)
	}
}

func fullSnapshot() Snapshot {
	return Snapshot{
		Stats: monitor.Stats{
			Ticks: 900000, Frames: 12, Aborted: 1, Dropped: 2, Bounced: 3,
			TickInstalled: true, LastTick: 40 * time.Microsecond, MaxTick: 250 * time.Microsecond,
		},
		Pins: []monitor.PinInfo{
			{ID: 4, Kind: "debounced", Listeners: 1, Level: true, Debouncing: true},
			{ID: 5, Kind: "rotary", Listeners: 1},
		},
		Listeners: []monitor.Info{
			{Name: "door", Kind: "button", Pins: []pin.ID{4}, Active: pin.ActiveLow, States: pin.IsRising | pin.IsFalling, Enabled: true},
		},
		Counts:        map[string]int{"CLICK": 5, "DOWN": 6},
		Last:          &LastEvent{Listener: "door", Event: "CLICK", Time: start.Add(time.Minute)},
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{Backend: "gpiocdev", TickMs: 1, PollMs: 5, HeartbeatMs: 900000, Broker: "tcp://localhost:1883", HTTPAddr: ":80"},
	}
}

func TestFormatJSON(t *testing.T) {
	data := FormatJSON(fullSnapshot())

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	s := parsed.Status
	if !s.Ready {
		t.Error("expected Ready=true")
	}
	if s.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", s.UptimeSeconds)
	}
	if !s.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if s.Monitor.Dropped != 2 || s.Monitor.Bounced != 3 || s.Monitor.MaxTickUs != 250 {
		t.Errorf("Monitor: got %+v", s.Monitor)
	}
	if len(s.Pins) != 2 || s.Pins[0].Pin != 4 || !s.Pins[0].Debouncing || s.Pins[1].Kind != "rotary" {
		t.Errorf("Pins: got %+v", s.Pins)
	}
	if len(s.Listeners) != 1 {
		t.Fatalf("Listeners: got %+v", s.Listeners)
	}
	l := s.Listeners[0]
	if l.Active != "low" || l.States != "rising|falling" || len(l.Pins) != 1 || l.Pins[0] != 4 {
		t.Errorf("Listener: got %+v", l)
	}
	if s.Counts["CLICK"] != 5 {
		t.Errorf("Counts.CLICK: got %d, want 5", s.Counts["CLICK"])
	}
	if s.LastEvent == nil || s.LastEvent.Timestamp != "2026-01-01T00:01:00Z" {
		t.Errorf("LastEvent: got %+v", s.LastEvent)
	}
	if s.Config.Backend != "gpiocdev" || s.Config.PollMs != 5 {
		t.Errorf("Config: got %+v", s.Config)
	}
	// Event and Reason should be omitted
	if s.Event != "" {
		t.Errorf("expected empty Event for web format, got %q", s.Event)
	}
	if s.Reason != "" {
		t.Errorf("expected empty Reason for web format, got %q", s.Reason)
	}
}

func TestFormatJSONEmptySnapshot(t *testing.T) {
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(time.Second),
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(FormatJSON(snap), &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	status := raw["status"].(map[string]interface{})

	// Empty collections render as [] and {}, not null.
	if _, ok := status["pins"].([]interface{}); !ok {
		t.Errorf("pins: got %v", status["pins"])
	}
	if _, ok := status["listeners"].([]interface{}); !ok {
		t.Errorf("listeners: got %v", status["listeners"])
	}
	if _, ok := status["event_counts"].(map[string]interface{}); !ok {
		t.Errorf("event_counts: got %v", status["event_counts"])
	}
	if _, exists := status["last_event"]; exists {
		t.Error("last_event should be omitted")
	}
}

func TestFormatStatusEvent(t *testing.T) {
	data := FormatStatusEvent(fullSnapshot(), "HEARTBEAT", "")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Event != "HEARTBEAT" {
		t.Errorf("Event: got %q, want HEARTBEAT", parsed.Status.Event)
	}
	if parsed.Status.Reason != "" {
		t.Errorf("Reason: got %q, want empty", parsed.Status.Reason)
	}
	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
}

func TestFormatStatusEventShutdown(t *testing.T) {
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(30 * time.Minute),
		Config:    Config{Broker: "tcp://localhost:1883"},
	}

	data := FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Event != "SHUTDOWN" {
		t.Errorf("Event: got %q, want SHUTDOWN", parsed.Status.Event)
	}
	if parsed.Status.Reason != "SIGTERM" {
		t.Errorf("Reason: got %q, want SIGTERM", parsed.Status.Reason)
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(time.Second),
	}

	data := FormatStatusEvent(snap, "STARTUP", "")

	var raw map[string]interface{}
	json.Unmarshal(data, &raw)
	status := raw["status"].(map[string]interface{})
	if _, exists := status["reason"]; exists {
		t.Error("reason should be omitted when empty")
	}
	if status["event"] != "STARTUP" {
		t.Errorf("event: got %v, want STARTUP", status["event"])
	}
}

func TestFormatJSONWithNetwork(t *testing.T) {
	snap := fullSnapshot()
	snap.Network = &NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected", SSID: "MyNet"}

	var parsed StatusJSON
	json.Unmarshal(FormatJSON(snap), &parsed)

	if parsed.Status.Network == nil {
		t.Fatal("expected Network in JSON")
	}
	if parsed.Status.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want 192.168.1.42", parsed.Status.Network.IP)
	}
	if parsed.Status.Network.SSID != "MyNet" {
		t.Errorf("Network.SSID: got %q, want MyNet", parsed.Status.Network.SSID)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	// Writer
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.Update(monitor.Stats{Ticks: uint64(i)}, nil, nil)
			tr.RecordEvent(monitor.Event{Name: "door", Kind: monitor.ButtonEvent, Button: button.Down})
			tr.SetMQTTConnected(i%2 == 0)
			tr.SetNetwork(&NetworkInfo{IP: "1.2.3.4"})
		}
	}()

	// Reader
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = snap.Uptime()
			_ = FormatJSON(snap)
		}
	}()

	wg.Wait()
}

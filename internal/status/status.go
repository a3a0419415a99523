// Package status provides a thread-safe status tracker for the pin-monitor daemon.
// It is read by the HTTP handlers and the MQTT heartbeat.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/pin-monitor/internal/monitor"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Backend     string
	TickMs      int64
	PollMs      int64
	HeartbeatMs int64
	Broker      string
	Topic       string
	HTTPAddr    string
}

// LastEvent is the most recent listener event seen by the daemon.
type LastEvent struct {
	Listener string
	Event    string
	Time     time.Time
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Stats     monitor.Stats
	Pins      []monitor.PinInfo
	Listeners []monitor.Info

	// Counts is keyed by event type, e.g. "CLICK" or "rising".
	Counts map[string]int
	Last   *LastEvent

	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Ready reports whether the monitor is ticking.
func (s Snapshot) Ready() bool {
	return s.Stats.TickInstalled
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
			Counts:    make(map[string]int),
		},
	}
}

// Update replaces the monitor view. The slices must not be modified by the
// caller afterwards.
func (t *Tracker) Update(stats monitor.Stats, pins []monitor.PinInfo, listeners []monitor.Info) {
	t.mu.Lock()
	t.snap.Stats = stats
	t.snap.Pins = pins
	t.snap.Listeners = listeners
	t.mu.Unlock()
}

// RecordEvent counts a delivered listener event.
func (t *Tracker) RecordEvent(e monitor.Event) {
	typ := e.Type()
	t.mu.Lock()
	t.snap.Counts[typ]++
	t.snap.Last = &LastEvent{Listener: e.Name, Event: typ, Time: e.Time}
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Counts = make(map[string]int, len(t.snap.Counts))
	for k, v := range t.snap.Counts {
		s.Counts[k] = v
	}
	if t.snap.Last != nil {
		last := *t.snap.Last
		s.Last = &last
	}
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}

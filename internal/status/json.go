package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string         `json:"event,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Ready         bool           `json:"ready"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartTime     string         `json:"start_time"`
	Timestamp     string         `json:"timestamp"`
	MQTT          MQTTStatus     `json:"mqtt"`
	Monitor       MonitorJSON    `json:"monitor"`
	Pins          []PinJSON      `json:"pins"`
	Listeners     []ListenerJSON `json:"listeners"`
	Counts        map[string]int `json:"event_counts"`
	LastEvent     *LastEventJSON `json:"last_event,omitempty"`
	Network       *NetworkJSON   `json:"network,omitempty"`
	Config        ConfigJSON     `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// MonitorJSON carries the monitor counters.
type MonitorJSON struct {
	Ticks         uint64 `json:"ticks"`
	Frames        uint32 `json:"frames"`
	Aborted       uint32 `json:"aborted"`
	Dropped       uint32 `json:"dropped"`
	Bounced       uint32 `json:"bounced"`
	Polled        int    `json:"polled"`
	TickInstalled bool   `json:"tick_installed"`
	LastTickUs    int64  `json:"last_tick_us"`
	MaxTickUs     int64  `json:"max_tick_us"`
}

// PinJSON is one registry entry.
type PinJSON struct {
	Pin        int    `json:"pin"`
	Kind       string `json:"kind"`
	Listeners  int    `json:"listeners"`
	Level      bool   `json:"level"`
	Polled     bool   `json:"polled"`
	Debouncing bool   `json:"debouncing"`
}

// ListenerJSON is one attached listener.
type ListenerJSON struct {
	Handle  string `json:"handle"`
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Pins    []int  `json:"pins"`
	Active  string `json:"active"`
	States  string `json:"states"`
	Enabled bool   `json:"enabled"`
}

// LastEventJSON is the most recent listener event.
type LastEventJSON struct {
	Listener  string `json:"listener"`
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Backend     string `json:"backend"`
	TickMs      int64  `json:"tick_ms"`
	PollMs      int64  `json:"poll_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	Topic       string `json:"topic"`
	HTTPAddr    string `json:"http"`
}

func buildInner(snap Snapshot) StatusInner {
	counts := snap.Counts
	if counts == nil {
		counts = map[string]int{}
	}

	inner := StatusInner{
		Ready:         snap.Ready(),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Monitor: MonitorJSON{
			Ticks:         snap.Stats.Ticks,
			Frames:        snap.Stats.Frames,
			Aborted:       snap.Stats.Aborted,
			Dropped:       snap.Stats.Dropped,
			Bounced:       snap.Stats.Bounced,
			Polled:        snap.Stats.Polled,
			TickInstalled: snap.Stats.TickInstalled,
			LastTickUs:    snap.Stats.LastTick.Microseconds(),
			MaxTickUs:     snap.Stats.MaxTick.Microseconds(),
		},
		Pins:      make([]PinJSON, 0, len(snap.Pins)),
		Listeners: make([]ListenerJSON, 0, len(snap.Listeners)),
		Counts:    counts,
		Config: ConfigJSON{
			Backend:     snap.Config.Backend,
			TickMs:      snap.Config.TickMs,
			PollMs:      snap.Config.PollMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			Topic:       snap.Config.Topic,
			HTTPAddr:    snap.Config.HTTPAddr,
		},
	}

	for _, p := range snap.Pins {
		inner.Pins = append(inner.Pins, PinJSON{
			Pin:        int(p.ID),
			Kind:       p.Kind,
			Listeners:  p.Listeners,
			Level:      p.Level,
			Polled:     p.Polled,
			Debouncing: p.Debouncing,
		})
	}
	for _, l := range snap.Listeners {
		pins := make([]int, len(l.Pins))
		for i, id := range l.Pins {
			pins[i] = int(id)
		}
		inner.Listeners = append(inner.Listeners, ListenerJSON{
			Handle:  l.Handle.String(),
			Name:    l.Name,
			Kind:    l.Kind,
			Pins:    pins,
			Active:  l.Active.String(),
			States:  l.States.String(),
			Enabled: l.Enabled,
		})
	}
	if snap.Last != nil {
		inner.LastEvent = &LastEventJSON{
			Listener:  snap.Last.Listener,
			Event:     snap.Last.Event,
			Timestamp: snap.Last.Time.UTC().Format(time.RFC3339),
		}
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

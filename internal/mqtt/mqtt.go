// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/pin-monitor/internal/button"
	"github.com/sweeney/pin-monitor/internal/monitor"
)

// DefaultTopic is the base topic. Listener events go to <base>/<listener>,
// lifecycle events to <base>/system.
const DefaultTopic = "energy/pin-monitor"

// EventTopic returns the topic for a listener's events.
func EventTopic(base, listener string) string {
	return base + "/" + listener
}

// SystemTopic returns the topic for lifecycle events.
func SystemTopic(base string) string {
	return base + "/system"
}

// timeFormat keeps milliseconds; button timing is meaningless at second
// resolution.
const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a listener event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event monitor.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload for a listener event.
type Payload struct {
	Input InputPayload `json:"input"`
}

// InputPayload contains the listener event details.
type InputPayload struct {
	Timestamp  string `json:"timestamp"`
	Listener   string `json:"listener"`
	Pin        int    `json:"pin"`
	Kind       string `json:"kind"`
	Event      string `json:"event"`
	Raw        string `json:"raw,omitempty"`
	DurationMs *int64 `json:"duration_ms,omitempty"`
	Count      *int   `json:"count,omitempty"`
}

// FormatPayload creates the JSON payload for a listener event.
func FormatPayload(event monitor.Event) ([]byte, error) {
	in := InputPayload{
		Timestamp: event.Time.UTC().Format(timeFormat),
		Listener:  event.Name,
		Pin:       int(event.Pin),
		Kind:      event.Kind.String(),
		Event:     event.Type(),
	}

	switch event.Kind {
	case monitor.StateEvent:
		if event.Raw != event.State {
			in.Raw = event.Raw.String()
		}
	case monitor.ButtonEvent:
		switch event.Button {
		case button.Up, button.Click, button.LongClick:
			ms := event.Duration.Milliseconds()
			in.DurationMs = &ms
		}
		switch event.Button {
		case button.Repeat, button.LongClick, button.SingleClick, button.DoubleClick, button.RepeatedClick:
			n := int(event.Count)
			in.Count = &n
		}
	}

	return json.Marshal(Payload{Input: in})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

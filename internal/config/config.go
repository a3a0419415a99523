// Package config loads the pin-monitor YAML configuration.
//
// Defaults and validation live here so the rest of the daemon can assume a
// well-formed config.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/pin-monitor/internal/button"
	"github.com/sweeney/pin-monitor/internal/gpio"
	"github.com/sweeney/pin-monitor/internal/logger"
	"github.com/sweeney/pin-monitor/internal/monitor"
	"github.com/sweeney/pin-monitor/internal/pin"
)

// Config is the top-level YAML configuration.
type Config struct {
	Backend string `yaml:"backend"` // gpiocdev or rpio
	Chip    string `yaml:"chip"`

	TickMS       int `yaml:"tick_ms"`
	PollMS       int `yaml:"poll_ms"`
	RingCapacity int `yaml:"ring_capacity"`
	ISRBudgetUS  int `yaml:"isr_budget_us"`

	LogLevel string `yaml:"log_level"`
	HTTP     string `yaml:"http"`

	HeartbeatMS int `yaml:"heartbeat_ms"`

	MQTT MQTTConfig `yaml:"mqtt"`

	Buttons  []ButtonConfig  `yaml:"buttons"`
	Encoders []EncoderConfig `yaml:"encoders"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"` // empty disables publishing
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	Buffer   int    `yaml:"buffer"` // events held while disconnected
}

type ButtonConfig struct {
	Name   string `yaml:"name"`
	Pin    int    `yaml:"pin"`
	Active string `yaml:"active"`
	Pull   string `yaml:"pull"`

	// DebounceMS 0 makes the pin a simple threshold input.
	DebounceMS    *int `yaml:"debounce_ms,omitempty"`
	ClickMS       int  `yaml:"click_ms,omitempty"`
	LongPressMS   int  `yaml:"longpress_ms,omitempty"`
	RepeatMS      int  `yaml:"repeat_ms,omitempty"`
	ClickRepeatMS int  `yaml:"click_repeat_ms,omitempty"`

	States []string `yaml:"states,omitempty"`
}

type EncoderConfig struct {
	Name   string `yaml:"name"`
	PinA   int    `yaml:"pin_a"`
	PinB   int    `yaml:"pin_b"`
	Active string `yaml:"active"`
	Pull   string `yaml:"pull"`
}

// Default returns a fully populated Config without any inputs.
func Default() Config {
	return Config{
		Backend:      gpio.BackendCdev,
		Chip:         gpio.DefaultChip,
		TickMS:       1,
		PollMS:       int(gpio.DefaultPollInterval / time.Millisecond),
		RingCapacity: monitor.DefaultRingCapacity,
		ISRBudgetUS:  200,
		LogLevel:     "info",
		HTTP:         ":80",
		HeartbeatMS:  int((15 * time.Minute) / time.Millisecond),
		MQTT: MQTTConfig{
			Broker:   "tcp://192.168.1.200:1883",
			ClientID: "pin-monitor",
			Topic:    "energy/pin-monitor",
			Buffer:   1000,
		},
	}
}

// DefaultDebounceMS applies to buttons that omit debounce_ms.
const DefaultDebounceMS = 10

// Load reads path and decodes it over Default. Unknown fields are rejected.
func Load(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML over Default and validates the result.
func Parse(b []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, errors.New("decode config yaml: unexpected trailing document")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and names. It does not touch hardware; pin
// capability errors surface at attach time.
func (c Config) Validate() error {
	var errs []error

	switch c.Backend {
	case gpio.BackendCdev, gpio.BackendRpio:
	default:
		errs = append(errs, fmt.Errorf("backend %q must be %s or %s", c.Backend, gpio.BackendCdev, gpio.BackendRpio))
	}
	if c.TickMS < 1 {
		errs = append(errs, fmt.Errorf("tick_ms %d must be >= 1", c.TickMS))
	}
	if c.PollMS < 1 || c.PollMS > 5 {
		errs = append(errs, fmt.Errorf("poll_ms %d must be 1..5", c.PollMS))
	}
	if c.RingCapacity < 1 {
		errs = append(errs, fmt.Errorf("ring_capacity %d must be >= 1", c.RingCapacity))
	}
	if c.ISRBudgetUS < 1 {
		errs = append(errs, fmt.Errorf("isr_budget_us %d must be >= 1", c.ISRBudgetUS))
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.HeartbeatMS < 0 {
		errs = append(errs, fmt.Errorf("heartbeat_ms %d must be >= 0", c.HeartbeatMS))
	}
	if c.MQTT.Broker != "" && c.MQTT.Topic == "" {
		errs = append(errs, errors.New("mqtt.topic is required when mqtt.broker is set"))
	}
	if c.MQTT.Buffer < 0 {
		errs = append(errs, fmt.Errorf("mqtt.buffer %d must be >= 0", c.MQTT.Buffer))
	}

	names := make(map[string]bool)
	for i, b := range c.Buttons {
		if _, err := b.Options(); err != nil {
			errs = append(errs, fmt.Errorf("buttons[%d]: %w", i, err))
		}
		if names[b.Name] {
			errs = append(errs, fmt.Errorf("buttons[%d]: duplicate name %q", i, b.Name))
		}
		names[b.Name] = true
	}
	for i, e := range c.Encoders {
		if _, err := e.Options(); err != nil {
			errs = append(errs, fmt.Errorf("encoders[%d]: %w", i, err))
		}
		if names[e.Name] {
			errs = append(errs, fmt.Errorf("encoders[%d]: duplicate name %q", i, e.Name))
		}
		names[e.Name] = true
	}

	return errors.Join(errs...)
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func checkPin(field string, v int) error {
	if v < 0 || v >= pin.MaxPins {
		return fmt.Errorf("%s %d out of range 0..%d", field, v, pin.MaxPins-1)
	}
	return nil
}

// Options converts the button entry to monitor options without a handler.
func (b ButtonConfig) Options() (monitor.ButtonOptions, error) {
	if b.Name == "" {
		return monitor.ButtonOptions{}, errors.New("name is required")
	}
	if err := checkPin("pin", b.Pin); err != nil {
		return monitor.ButtonOptions{}, err
	}
	active, err := pin.ParsePolarity(b.Active)
	if err != nil {
		return monitor.ButtonOptions{}, err
	}
	pull, err := pin.ParsePull(b.Pull)
	if err != nil {
		return monitor.ButtonOptions{}, err
	}
	states, err := pin.ParseStates(b.States)
	if err != nil {
		return monitor.ButtonOptions{}, err
	}

	debounce := DefaultDebounceMS
	if b.DebounceMS != nil {
		debounce = *b.DebounceMS
	}
	for field, v := range map[string]int{
		"debounce_ms":     debounce,
		"click_ms":        b.ClickMS,
		"longpress_ms":    b.LongPressMS,
		"repeat_ms":       b.RepeatMS,
		"click_repeat_ms": b.ClickRepeatMS,
	} {
		if v < 0 {
			return monitor.ButtonOptions{}, fmt.Errorf("%s %d must be >= 0", field, v)
		}
	}

	return monitor.ButtonOptions{
		Name:     b.Name,
		Pin:      pin.ID(b.Pin),
		Active:   active,
		Pull:     pull,
		Debounce: ms(debounce),
		States:   states,
		Timing: button.Config{
			ClickTime:       ms(b.ClickMS),
			LongPressTime:   ms(b.LongPressMS),
			RepeatTime:      ms(b.RepeatMS),
			ClickRepeatTime: ms(b.ClickRepeatMS),
		},
		Arg: b.Name,
	}, nil
}

// Options converts the encoder entry to monitor options without a handler.
func (e EncoderConfig) Options() (monitor.RotaryOptions, error) {
	if e.Name == "" {
		return monitor.RotaryOptions{}, errors.New("name is required")
	}
	if err := checkPin("pin_a", e.PinA); err != nil {
		return monitor.RotaryOptions{}, err
	}
	if err := checkPin("pin_b", e.PinB); err != nil {
		return monitor.RotaryOptions{}, err
	}
	if e.PinA == e.PinB {
		return monitor.RotaryOptions{}, fmt.Errorf("pin_a and pin_b must differ (both %d)", e.PinA)
	}
	active, err := pin.ParsePolarity(e.Active)
	if err != nil {
		return monitor.RotaryOptions{}, err
	}
	pull, err := pin.ParsePull(e.Pull)
	if err != nil {
		return monitor.RotaryOptions{}, err
	}
	return monitor.RotaryOptions{
		Name:   e.Name,
		A:      pin.ID(e.PinA),
		B:      pin.ID(e.PinB),
		Active: active,
		Pull:   pull,
		Arg:    e.Name,
	}, nil
}

// Pins returns every configured pin in declaration order, encoders last.
func (c Config) Pins() []pin.ID {
	var out []pin.ID
	for _, b := range c.Buttons {
		out = append(out, pin.ID(b.Pin))
	}
	for _, e := range c.Encoders {
		out = append(out, pin.ID(e.PinA), pin.ID(e.PinB))
	}
	return out
}

// TickPeriod, PollPeriod and Heartbeat convert the millisecond fields.

func (c Config) TickPeriod() time.Duration { return ms(c.TickMS) }
func (c Config) PollPeriod() time.Duration { return ms(c.PollMS) }
func (c Config) Heartbeat() time.Duration  { return ms(c.HeartbeatMS) }

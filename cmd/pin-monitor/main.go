// Command pin-monitor watches GPIO buttons and rotary encoders and publishes
// their classified events to MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync/atomic"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/sweeney/pin-monitor/internal/config"
	"github.com/sweeney/pin-monitor/internal/gpio"
	"github.com/sweeney/pin-monitor/internal/logger"
	"github.com/sweeney/pin-monitor/internal/monitor"
	"github.com/sweeney/pin-monitor/internal/mqtt"
	"github.com/sweeney/pin-monitor/internal/pin"
	"github.com/sweeney/pin-monitor/internal/status"
	"github.com/sweeney/pin-monitor/internal/web"
)

const defaultConfigFile = "/etc/pin-monitor.yaml"

// eventQueue is the number of listener events buffered between the tick
// goroutine and the publisher.
const eventQueue = 256

func main() {
	exitCode := 1
	defer func() {
		os.Exit(exitCode)
	}()

	app := &cli.App{
		Name:  "pin-monitor",
		Usage: "publish GPIO button and rotary encoder events to MQTT",
		UsageText: "pin-monitor [--config FILE] [--log LEVEL] [run|print-state]" +
			"\n\nEXAMPLE:" +
			"\n\tpin-monitor --config /etc/pin-monitor.yaml run",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: defaultConfigFile, Usage: "load configuration from `FILE`"},
			&cli.StringFlag{Name: "log", Aliases: []string{"l"}, Usage: "`LEVEL` overrides log_level (none|error|warn|info|debug)"},
			&cli.StringFlag{Name: "backend", Usage: "GPIO `BACKEND` (gpiocdev|rpio)"},
			&cli.StringFlag{Name: "broker", Usage: "MQTT broker `URL` (empty disables publishing)"},
			&cli.StringFlag{Name: "http", Usage: "HTTP status `ADDR` (empty to disable)"},
			&cli.DurationFlag{Name: "heartbeat", Usage: "heartbeat `INTERVAL` (0 to disable)"},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "attach the configured inputs and publish events",
				Action: runAction,
			},
			{
				Name:   "print-state",
				Usage:  "print the current level of every configured pin and exit",
				Action: printStateAction,
			},
		},
		Action: runAction,
	}

	sort.Sort(cli.FlagsByName(app.Flags))

	if err := app.Run(os.Args); err != nil {
		log.Printf("fatal: %v", err)
		return
	}
	exitCode = 0
}

// loadConfig reads the config file and applies command line overrides. A
// missing file is only an error when --config was given explicitly.
func loadConfig(c *cli.Context) (config.Config, error) {
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		if c.IsSet("config") || !errors.Is(err, os.ErrNotExist) {
			return config.Config{}, err
		}
		cfg = config.Default()
	}

	if c.IsSet("log") {
		cfg.LogLevel = c.String("log")
	}
	if c.IsSet("backend") {
		cfg.Backend = c.String("backend")
	}
	if c.IsSet("broker") {
		cfg.MQTT.Broker = c.String("broker")
	}
	if c.IsSet("http") {
		cfg.HTTP = c.String("http")
	}
	if c.IsSet("heartbeat") {
		cfg.HeartbeatMS = int(c.Duration("heartbeat").Milliseconds())
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// newLogger writes to stdout. Under systemd the journal adds timestamps, so
// the minimal format is used.
func newLogger(level string) (*logger.Logger, error) {
	lvl, err := logger.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	flags := log.LstdFlags | log.Lmicroseconds
	if os.Getenv("INVOCATION_ID") != "" {
		flags = 0
	}
	return logger.NewLogger(log.New(os.Stdout, "", flags), lvl), nil
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	l, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	return run(cfg, l)
}

func printStateAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	platform, err := gpio.Open(cfg.Backend, cfg.Chip)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer platform.Close()
	return printState(platform, cfg, os.Stdout)
}

// printState configures every input named in cfg, prints its level and
// releases the pins again.
func printState(platform gpio.Platform, cfg config.Config, w io.Writer) error {
	defer func() {
		for _, id := range cfg.Pins() {
			platform.Release(id)
		}
	}()

	type row struct {
		name   string
		id     pin.ID
		active pin.Polarity
	}
	var rows []row
	for _, b := range cfg.Buttons {
		opts, err := b.Options()
		if err != nil {
			return err
		}
		if err := platform.ConfigureInput(opts.Pin, opts.Pull); err != nil {
			return fmt.Errorf("configure %s: %w", opts.Name, err)
		}
		rows = append(rows, row{opts.Name, opts.Pin, opts.Active})
	}
	for _, e := range cfg.Encoders {
		opts, err := e.Options()
		if err != nil {
			return err
		}
		for _, id := range []pin.ID{opts.A, opts.B} {
			if err := platform.ConfigureInput(id, opts.Pull); err != nil {
				return fmt.Errorf("configure %s: %w", opts.Name, err)
			}
		}
		rows = append(rows, row{opts.Name + ".a", opts.A, opts.Active}, row{opts.Name + ".b", opts.B, opts.Active})
	}

	levels := platform.ReadLevels()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPIN\tLEVEL\tSTATE")
	for _, r := range rows {
		high := levels&r.id.Mask() != 0
		level, state := "low", "inactive"
		if high {
			level = "high"
		}
		if r.active.Active(high) {
			state = "active"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", r.name, r.id, level, state)
	}
	return tw.Flush()
}

// attachInputs attaches every configured button and encoder with handler.
func attachInputs(m *monitor.Monitor, cfg config.Config, handler monitor.Handler) error {
	for _, b := range cfg.Buttons {
		opts, err := b.Options()
		if err != nil {
			return err
		}
		opts.Handler = handler
		if _, err := m.AttachButton(opts); err != nil {
			return err
		}
	}
	for _, e := range cfg.Encoders {
		opts, err := e.Options()
		if err != nil {
			return err
		}
		opts.Handler = handler
		if _, err := m.AttachRotary(opts); err != nil {
			return err
		}
	}
	return nil
}

// queueHandler returns a Handler that hands events to the publisher
// goroutine without blocking the tick. Events that do not fit are counted
// in dropped.
func queueHandler(events chan<- monitor.Event, dropped *atomic.Uint64) monitor.Handler {
	return func(e monitor.Event) {
		select {
		case events <- e:
		default:
			dropped.Add(1)
		}
	}
}

// nopPublisher is used when no broker is configured.
type nopPublisher struct{}

func (nopPublisher) Publish(monitor.Event) error          { return nil }
func (nopPublisher) PublishSystem(mqtt.SystemEvent) error { return nil }
func (nopPublisher) Close() error                         { return nil }
func (nopPublisher) IsConnected() bool                    { return false }

type publisher interface {
	mqtt.Publisher
	mqtt.ConnectionStatus
}

func run(cfg config.Config, l *logger.Logger) error {
	platform, err := gpio.Open(cfg.Backend, cfg.Chip)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer platform.Close()

	var pub publisher = nopPublisher{}
	if cfg.MQTT.Broker != "" {
		rp, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
			Buffer:   cfg.MQTT.Buffer,
			Logger:   l,
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		pub = rp
	} else {
		l.Warnf("no mqtt broker configured, events are not published")
	}
	defer pub.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		Backend:     cfg.Backend,
		TickMs:      int64(cfg.TickMS),
		PollMs:      int64(cfg.PollMS),
		HeartbeatMs: int64(cfg.HeartbeatMS),
		Broker:      cfg.MQTT.Broker,
		Topic:       cfg.MQTT.Topic,
		HTTPAddr:    cfg.HTTP,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	mon := monitor.New(platform, monitor.Options{
		TickPeriod:   cfg.TickPeriod(),
		PollPeriod:   cfg.PollPeriod(),
		RingCapacity: cfg.RingCapacity,
		Budget:       uint32(cfg.ISRBudgetUS),
		Logger:       l,
	})

	events := make(chan monitor.Event, eventQueue)
	var dropped atomic.Uint64
	if err := attachInputs(mon, cfg, queueHandler(events, &dropped)); err != nil {
		mon.DetachAll()
		return fmt.Errorf("attach inputs: %w", err)
	}
	defer mon.DetachAll()
	tracker.Update(mon.Stats(), mon.Pins(), mon.Listeners())

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	if err := pub.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}); err != nil {
		l.Warnf("failed to publish startup event: %v", err)
	} else {
		l.Infof("published startup event")
	}

	if cfg.HTTP != "" {
		srv := web.New(cfg.HTTP, tracker, mon)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				l.Errorf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		l.Infof("http status server listening on %s", cfg.HTTP)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mon.Run(ctx)

	l.Infof("started: backend=%s buttons=%d encoders=%d tick=%v poll=%v heartbeat=%v",
		cfg.Backend, len(cfg.Buttons), len(cfg.Encoders), cfg.TickPeriod(), cfg.PollPeriod(), cfg.Heartbeat())

	refresh := time.NewTicker(time.Second)
	defer refresh.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	return runLoop(loop{
		monitor:   mon,
		events:    events,
		dropped:   &dropped,
		publisher: pub,
		status:    pub,
		tracker:   tracker,
		heartbeat: cfg.Heartbeat(),
		now:       time.Now,
		refresh:   refresh.C,
		sig:       sigCh,
		log:       l.WithTag("main"),
	})
}

// monitorView is the read side of the monitor used by the loop.
type monitorView interface {
	Stats() monitor.Stats
	Pins() []monitor.PinInfo
	Listeners() []monitor.Info
}

type loop struct {
	monitor   monitorView
	events    <-chan monitor.Event
	dropped   *atomic.Uint64
	publisher mqtt.Publisher
	status    mqtt.ConnectionStatus
	tracker   *status.Tracker
	heartbeat time.Duration
	now       func() time.Time
	refresh   <-chan time.Time
	sig       <-chan os.Signal
	log       *logger.Logger
}

// runLoop publishes listener events, refreshes the status tracker and sends
// heartbeats until a signal arrives.
func runLoop(lp loop) error {
	lastHeartbeat := lp.now()
	var reportedDrops uint64

	for {
		select {
		case s := <-lp.sig:
			lp.log.Infof("received %v, shutting down", s)
			lp.drain()
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			lp.updateTracker()
			snap := lp.tracker.Snapshot()
			event := mqtt.SystemEvent{
				Timestamp:  lp.now(),
				Event:      "SHUTDOWN",
				Reason:     signalName,
				Retained:   true,
				RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", signalName),
			}
			if err := lp.publisher.PublishSystem(event); err != nil {
				lp.log.Warnf("failed to publish shutdown event: %v", err)
			} else {
				lp.log.Infof("published shutdown event")
			}
			return nil

		case e := <-lp.events:
			lp.publish(e)

		case <-lp.refresh:
			t := lp.now()
			lp.updateTracker()

			if n := lp.dropped.Load(); n != reportedDrops {
				lp.log.Warnf("event queue full, %d events dropped", n-reportedDrops)
				reportedDrops = n
			}

			if lp.heartbeat <= 0 || t.Sub(lastHeartbeat) < lp.heartbeat {
				continue
			}
			lastHeartbeat = t

			// Refresh network info for heartbeat
			if net := readNetworkInfo(); net != nil {
				lp.tracker.SetNetwork(net)
			}
			snap := lp.tracker.Snapshot()
			lp.log.Infof("heartbeat: uptime=%v ticks=%d dropped=%d aborted=%d",
				t.Sub(snap.StartTime).Truncate(time.Second), snap.Stats.Ticks, snap.Stats.Dropped, snap.Stats.Aborted)
			if err := lp.publisher.PublishSystem(mqtt.SystemEvent{
				Timestamp:  t,
				Event:      "HEARTBEAT",
				RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
			}); err != nil {
				lp.log.Warnf("heartbeat publish error: %v", err)
			}
		}
	}
}

func (lp *loop) publish(e monitor.Event) {
	lp.log.Debugf("event: %s %s pin=%d", e.Name, e.Type(), e.Pin)
	lp.tracker.RecordEvent(e)
	if err := lp.publisher.Publish(e); err != nil {
		// Don't crash on publish failure
		lp.log.Warnf("publish error: %v", err)
	}
}

// drain publishes events already queued.
func (lp *loop) drain() {
	for {
		select {
		case e := <-lp.events:
			lp.publish(e)
		default:
			return
		}
	}
}

func (lp *loop) updateTracker() {
	lp.tracker.Update(lp.monitor.Stats(), lp.monitor.Pins(), lp.monitor.Listeners())
	if lp.status != nil {
		lp.tracker.SetMQTTConnected(lp.status.IsConnected())
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

// Command bike-computer runs the bike computer task set under one of three
// scheduling designs and serves its state over HTTP and MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/bike-computer/internal/bike"
	"github.com/sweeney/bike-computer/internal/device"
	"github.com/sweeney/bike-computer/internal/gpio"
	"github.com/sweeney/bike-computer/internal/mqtt"
	"github.com/sweeney/bike-computer/internal/sensor"
	"github.com/sweeney/bike-computer/internal/status"
	"github.com/sweeney/bike-computer/internal/tasklog"
	"github.com/sweeney/bike-computer/internal/web"
)

type options struct {
	mode      string
	httpAddr  string
	broker    string
	telemetry time.Duration
	heartbeat time.Duration

	hardware bool
	gpioChip string
	pins     gpio.Pins
	debounce time.Duration
	i2cBus   int
	drdyPin  int
	probe    bool

	logTiming bool
	report    bool
	tolerance time.Duration
	runFor    time.Duration
}

func main() {
	var opts options
	defaults := gpio.DefaultPins()
	opts.pins = gpio.Pins{}

	flag.StringVar(&opts.mode, "mode", string(bike.ModeStatic), "Scheduling mode: static, static-event or multitasking")
	flag.StringVar(&opts.httpAddr, "http", ":8080", "HTTP status address (empty to disable)")
	flag.StringVar(&opts.broker, "broker", "", "MQTT broker address (empty to disable)")
	flag.DurationVar(&opts.telemetry, "telemetry", mqtt.DefaultTelemetryInterval, "State telemetry interval")
	flag.DurationVar(&opts.heartbeat, "heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	flag.BoolVar(&opts.hardware, "hw", false, "Use GPIO buttons and the HDC1000 sensor instead of simulation")
	flag.StringVar(&opts.gpioChip, "gpio-chip", "gpiochip0", "GPIO character device")
	pinGearUp := flag.Int("pin-gear-up", defaults[gpio.ButtonGearUp], "BCM pin for gear up")
	pinGearDown := flag.Int("pin-gear-down", defaults[gpio.ButtonGearDown], "BCM pin for gear down")
	pinFaster := flag.Int("pin-faster", defaults[gpio.ButtonFaster], "BCM pin for pedal faster")
	pinSlower := flag.Int("pin-slower", defaults[gpio.ButtonSlower], "BCM pin for pedal slower")
	pinReset := flag.Int("pin-reset", defaults[gpio.ButtonReset], "BCM pin for reset")
	flag.DurationVar(&opts.debounce, "debounce", gpio.DefaultDebounce, "Button debounce period")
	flag.IntVar(&opts.i2cBus, "i2c-bus", 1, "I2C bus of the HDC1000")
	flag.IntVar(&opts.drdyPin, "drdy-pin", 17, "BCM pin for the HDC1000 data-ready line (-1 to poll)")
	flag.BoolVar(&opts.probe, "probe", false, "Read the temperature sensor once and exit")
	flag.BoolVar(&opts.logTiming, "log-timing", false, "Log period and execution time of every task run")
	flag.BoolVar(&opts.report, "report", false, "Print a timing conformance report on shutdown")
	flag.DurationVar(&opts.tolerance, "tolerance", time.Millisecond, "Timing tolerance for the report")
	flag.DurationVar(&opts.runFor, "run-for", 0, "Stop after this long (0 runs until signalled)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logPretty := flag.Bool("log-pretty", false, "Human-readable console logs")

	flag.Parse()

	opts.pins[gpio.ButtonGearUp] = *pinGearUp
	opts.pins[gpio.ButtonGearDown] = *pinGearDown
	opts.pins[gpio.ButtonFaster] = *pinFaster
	opts.pins[gpio.ButtonSlower] = *pinSlower
	opts.pins[gpio.ButtonReset] = *pinReset

	if err := setupLogging(*logLevel, *logPretty, os.Stderr); err != nil {
		log.Fatal().Err(err).Msg("invalid flags")
	}
	if err := run(opts); err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}

func setupLogging(level string, pretty bool, w io.Writer) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	zerolog.SetGlobalLevel(lvl)
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	return nil
}

func run(opts options) error {
	mode, err := bike.ParseMode(opts.mode)
	if err != nil {
		return err
	}

	cfg := bike.DefaultConfig()
	cfg.Mode = mode
	cfg.LogTiming = opts.logTiming
	cfg.Log = log.Logger

	// Initialize the temperature sensor
	if opts.hardware {
		dev, err := sensor.Open(opts.i2cBus, opts.gpioChip, opts.drdyPin, sensor.DefaultConfig(), log.Logger)
		if err != nil {
			return fmt.Errorf("init sensor: %w", err)
		}
		defer dev.Close()
		cfg.Thermometer = dev
	}

	if opts.probe {
		return probe(cfg.Thermometer, os.Stdout)
	}

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		Mode:         string(mode),
		MajorCycleMs: cfg.Table.MajorCycle.Milliseconds(),
		MinorFrameMs: cfg.Table.MinorFrame.Milliseconds(),
		TelemetryMs:  telemetryMs(opts),
		Broker:       opts.broker,
		HTTPAddr:     opts.httpAddr,
		Hardware:     opts.hardware,
	})
	cfg.Display = device.MultiDisplay{tracker, device.NewLogDisplay(log.Logger)}
	cfg.Sink = tracker

	// Initialize MQTT
	var (
		publisher  mqtt.Publisher
		mqttStatus mqtt.ConnectionStatus
		telemetry  *mqtt.Telemetry
	)
	if opts.broker != "" {
		rp := mqtt.NewRealPublisher(mqtt.Options{Broker: opts.broker}, log.Logger)
		defer rp.Close()
		publisher, mqttStatus = rp, rp
		telemetry = mqtt.NewTelemetry(rp, func() []byte {
			tracker.SetMQTTConnected(rp.IsConnected())
			return status.FormatStatusEvent(tracker.Snapshot(), "", "")
		}, opts.telemetry, log.Logger)
		cfg.OnReset = func(time.Duration) { telemetry.Notify() }
	}

	sys, err := bike.New(cfg)
	if err != nil {
		return err
	}

	// Initialize GPIO buttons
	if opts.hardware {
		if err := opts.pins.Validate(); err != nil {
			return err
		}
		input, err := gpio.NewRealInput(opts.gpioChip, opts.pins, opts.debounce,
			gpio.Bind(sys.Gear(), sys.Pedal(), sys.ResetButton()), log.Logger)
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		defer input.Close()
	}

	// Publish startup event with full status snapshot
	if publisher != nil {
		snap := tracker.Snapshot()
		startupEvent := mqtt.SystemEvent{
			Timestamp:  snap.Now,
			Event:      "STARTUP",
			Retained:   true,
			RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
		}
		if err := publisher.PublishSystem(startupEvent); err != nil {
			log.Warn().Err(err).Msg("failed to publish startup event")
		} else {
			log.Info().Msg("published startup event")
		}
	}

	// Start HTTP status server
	if opts.httpAddr != "" {
		srv := web.New(opts.httpAddr, tracker, log.Logger)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("http server error")
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info().Str("addr", opts.httpAddr).Msg("http status server listening")
	}

	log.Info().
		Str("mode", string(mode)).
		Bool("hardware", opts.hardware).
		Str("broker", opts.broker).
		Dur("run_for", opts.runFor).
		Msg("started")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	done := make(chan error, 1)
	g.Go(func() error {
		err := sys.Run(gctx)
		done <- err
		return err
	})
	if telemetry != nil {
		g.Go(func() error {
			if err := telemetry.Run(gctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	var heartbeat <-chan time.Time
	if opts.heartbeat > 0 {
		ticker := time.NewTicker(opts.heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}
	var deadline <-chan time.Time
	if opts.runFor > 0 {
		deadline = time.After(opts.runFor)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	loopErr := runLoop(sys, done, publisher, mqttStatus, tracker, time.Now, heartbeat, deadline, sigCh)
	cancel()
	if err := g.Wait(); err != nil && loopErr == nil {
		loopErr = err
	}

	if opts.report {
		if err := tasklog.WriteReport(os.Stdout, sys.Conformance(opts.tolerance)); err != nil {
			log.Warn().Err(err).Msg("failed to write report")
		}
	}
	return loopErr
}

// stopper is the part of bike.System the run loop drives.
type stopper interface {
	Stop()
}

// runLoop waits for a shutdown trigger, publishing heartbeats meanwhile.
// done receives the result of the system's Run.
func runLoop(sys stopper, done <-chan error, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, now func() time.Time, heartbeat, deadline <-chan time.Time, sig <-chan os.Signal) error {
	for {
		var reason string
		select {
		case s := <-sig:
			log.Info().Str("signal", s.String()).Msg("shutting down")
			reason = signalName(s)

		case <-deadline:
			log.Info().Msg("run time elapsed, shutting down")
			reason = "RUN_FOR"

		case err := <-done:
			// The system stopped on its own.
			if err != nil {
				log.Error().Err(err).Msg("bike system stopped")
			} else {
				log.Info().Msg("bike system stopped")
			}
			publishSystem(publisher, mqttStatus, tracker, now, "SHUTDOWN", "ERROR")
			return err

		case <-heartbeat:
			publishSystem(publisher, mqttStatus, tracker, now, "HEARTBEAT", "")
			continue
		}

		sys.Stop()
		err := <-done
		publishSystem(publisher, mqttStatus, tracker, now, "SHUTDOWN", reason)
		return err
	}
}

func publishSystem(publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, now func() time.Time, event, reason string) {
	if publisher == nil {
		return
	}
	ev := mqtt.SystemEvent{
		Timestamp: now(),
		Event:     event,
		Reason:    reason,
		Retained:  event == "SHUTDOWN",
	}
	if tracker != nil {
		if mqttStatus != nil {
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
		}
		ev.RawPayload = status.FormatStatusEvent(tracker.Snapshot(), event, reason)
	}
	if err := publisher.PublishSystem(ev); err != nil {
		log.Warn().Err(err).Str("event", event).Msg("failed to publish system event")
	} else {
		log.Info().Str("event", event).Msg("published system event")
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}

func telemetryMs(opts options) int64 {
	if opts.broker == "" {
		return 0
	}
	return opts.telemetry.Milliseconds()
}

// probe reads the sensor once, like a print-state check.
func probe(thermo device.TemperatureSource, w io.Writer) error {
	if thermo == nil {
		return errors.New("probe needs -hw")
	}
	if !thermo.Init() {
		return device.ErrDeviceAbsent
	}
	v, err := thermo.ReadTemperature()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "temperature: %.2f C\n", v)
	return nil
}

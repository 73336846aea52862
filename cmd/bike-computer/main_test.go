package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sweeney/bike-computer/internal/device"
	"github.com/sweeney/bike-computer/internal/mqtt"
	"github.com/sweeney/bike-computer/internal/status"
)

// fakeSystem completes Run with result when stopped.
type fakeSystem struct {
	done    chan error
	result  error
	stopped int
}

func newFakeSystem() *fakeSystem {
	return &fakeSystem{done: make(chan error, 1)}
}

func (f *fakeSystem) Stop() {
	f.stopped++
	f.done <- f.result
}

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

func newTracker() *status.Tracker {
	return status.NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), status.Config{Mode: "static"})
}

func decodeStatus(t *testing.T, payload []byte) status.StatusInner {
	t.Helper()
	var sj status.StatusJSON
	if err := json.Unmarshal(payload, &sj); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	return sj.Status
}

func TestRunLoopShutdownSIGINT(t *testing.T) {
	sys := newFakeSystem()
	pub := mqtt.NewFakePublisher()
	sig := make(chan os.Signal, 1)
	sig <- syscall.SIGINT

	err := runLoop(sys, sys.done, pub, pub, newTracker(), fakeClock(time.Now(), time.Second), nil, nil, sig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sys.stopped != 1 {
		t.Errorf("expected Stop once, got %d", sys.stopped)
	}
	if len(pub.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(pub.SystemEvents))
	}
	ev := pub.SystemEvents[0]
	if ev.Event != "SHUTDOWN" || ev.Reason != "SIGINT" || !ev.Retained {
		t.Errorf("unexpected shutdown event: %+v", ev)
	}
	inner := decodeStatus(t, pub.SystemPayloads[0])
	if inner.Event != "SHUTDOWN" || inner.Reason != "SIGINT" {
		t.Errorf("unexpected payload: %+v", inner)
	}
}

func TestRunLoopShutdownSIGTERM(t *testing.T) {
	sys := newFakeSystem()
	pub := mqtt.NewFakePublisher()
	pub.Connected = true
	tracker := newTracker()
	sig := make(chan os.Signal, 1)
	sig <- syscall.SIGTERM

	if err := runLoop(sys, sys.done, pub, pub, tracker, time.Now, nil, nil, sig); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pub.SystemEvents[0].Reason != "SIGTERM" {
		t.Errorf("expected SIGTERM, got %s", pub.SystemEvents[0].Reason)
	}
	if !tracker.Snapshot().MQTTConnected {
		t.Error("expected MQTT status refreshed before shutdown")
	}
}

func TestRunLoopRunFor(t *testing.T) {
	sys := newFakeSystem()
	pub := mqtt.NewFakePublisher()
	deadline := make(chan time.Time, 1)
	deadline <- time.Now()

	if err := runLoop(sys, sys.done, pub, nil, newTracker(), time.Now, nil, deadline, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pub.SystemEvents[0].Reason != "RUN_FOR" {
		t.Errorf("expected RUN_FOR, got %s", pub.SystemEvents[0].Reason)
	}
}

func TestRunLoopReturnsSystemError(t *testing.T) {
	sys := newFakeSystem()
	sys.result = errors.New("scheduler failed")
	pub := mqtt.NewFakePublisher()
	deadline := make(chan time.Time, 1)
	deadline <- time.Now()

	err := runLoop(sys, sys.done, pub, nil, newTracker(), time.Now, nil, deadline, nil)
	if err == nil || err.Error() != "scheduler failed" {
		t.Errorf("expected scheduler error, got %v", err)
	}
}

func TestRunLoopSystemStopsOnItsOwn(t *testing.T) {
	sys := newFakeSystem()
	pub := mqtt.NewFakePublisher()
	failure := errors.New("boom")
	sys.done <- failure

	err := runLoop(sys, sys.done, pub, nil, newTracker(), time.Now, nil, nil, nil)
	if !errors.Is(err, failure) {
		t.Errorf("expected %v, got %v", failure, err)
	}
	if sys.stopped != 0 {
		t.Error("Stop must not be called on a system that already stopped")
	}
	if len(pub.SystemEvents) != 1 || pub.SystemEvents[0].Reason != "ERROR" {
		t.Errorf("expected SHUTDOWN/ERROR, got %+v", pub.SystemEvents)
	}
}

func TestRunLoopCleanStopLogsInfo(t *testing.T) {
	prev, prevLevel := log.Logger, zerolog.GlobalLevel()
	defer func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	}()
	var buf bytes.Buffer
	log.Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(zerolog.TraceLevel)

	sys := newFakeSystem()
	sys.done <- nil
	if err := runLoop(sys, sys.done, nil, nil, newTracker(), time.Now, nil, nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, `"level":"error"`) {
		t.Errorf("clean stop logged an error: %s", out)
	}
	if !strings.Contains(out, `"level":"info"`) || !strings.Contains(out, "bike system stopped") {
		t.Errorf("expected an info line for the stop, got %s", out)
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	sys := newFakeSystem()
	pub := mqtt.NewFakePublisher()
	tracker := newTracker()
	tracker.DisplayGear(3)

	heartbeat := make(chan time.Time, 2)
	heartbeat <- time.Now()
	heartbeat <- time.Now()
	sig := make(chan os.Signal)
	go func() {
		// Unbuffered: delivered only once the heartbeats are drained.
		for len(heartbeat) > 0 {
			time.Sleep(time.Millisecond)
		}
		sig <- syscall.SIGINT
	}()

	if err := runLoop(sys, sys.done, pub, pub, tracker, time.Now, heartbeat, nil, sig); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var heartbeats int
	for i, ev := range pub.SystemEvents {
		if ev.Event != "HEARTBEAT" {
			continue
		}
		heartbeats++
		if ev.Retained {
			t.Error("heartbeat must not be retained")
		}
		inner := decodeStatus(t, pub.SystemPayloads[i])
		if inner.Bike.Gear != 3 {
			t.Errorf("heartbeat gear: got %d, want 3", inner.Bike.Gear)
		}
	}
	if heartbeats != 2 {
		t.Errorf("expected 2 heartbeats, got %d", heartbeats)
	}
	if last := pub.SystemEvents[len(pub.SystemEvents)-1]; last.Event != "SHUTDOWN" {
		t.Errorf("expected SHUTDOWN last, got %s", last.Event)
	}
}

func TestRunLoopWithoutPublisher(t *testing.T) {
	sys := newFakeSystem()
	sig := make(chan os.Signal, 1)
	sig <- syscall.SIGINT

	if err := runLoop(sys, sys.done, nil, nil, nil, time.Now, nil, nil, sig); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sys.stopped != 1 {
		t.Errorf("expected Stop once, got %d", sys.stopped)
	}
}

func TestRunLoopPublishError(t *testing.T) {
	sys := newFakeSystem()
	pub := mqtt.NewFakePublisher()
	pub.PublishSystemError = errors.New("broker down")
	sig := make(chan os.Signal, 1)
	sig <- syscall.SIGTERM

	// Publish failures never fail the shutdown.
	if err := runLoop(sys, sys.done, pub, pub, newTracker(), time.Now, nil, nil, sig); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSignalName(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := signalName(tt.sig); got != tt.want {
			t.Errorf("signalName(%v): got %s, want %s", tt.sig, got, tt.want)
		}
	}
}

func TestSetupLogging(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	if err := setupLogging("warn", false, &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Errorf("expected warn level, got %v", zerolog.GlobalLevel())
	}
	if err := setupLogging("loud", false, &buf); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestTelemetryMs(t *testing.T) {
	if got := telemetryMs(options{telemetry: 5 * time.Second}); got != 0 {
		t.Errorf("expected 0 without a broker, got %d", got)
	}
	if got := telemetryMs(options{broker: "tcp://b:1883", telemetry: 5 * time.Second}); got != 5000 {
		t.Errorf("expected 5000, got %d", got)
	}
}

func TestProbe(t *testing.T) {
	var out bytes.Buffer
	if err := probe(device.NewFakeThermometer(21.375), &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "21.38") {
		t.Errorf("unexpected output: %q", out.String())
	}

	absent := device.NewFakeThermometer(20)
	absent.Absent = true
	if err := probe(absent, &out); !errors.Is(err, device.ErrDeviceAbsent) {
		t.Errorf("expected ErrDeviceAbsent, got %v", err)
	}
	if err := probe(nil, &out); err == nil {
		t.Error("expected error without a sensor")
	}
}

func TestRunRejectsUnknownMode(t *testing.T) {
	if err := run(options{mode: "round-robin"}); err == nil {
		t.Error("expected error for unknown mode")
	}
}

// Package status provides a thread-safe snapshot of the bike computer.
// The tracker is a DisplayTarget fed by the display tasks and is read by the
// HTTP dashboard and the telemetry publisher.
package status

import (
	"sync"
	"time"
)

// Config contains daemon configuration for display.
type Config struct {
	Mode         string
	MajorCycleMs int64
	MinorFrameMs int64
	TelemetryMs  int64
	Broker       string
	HTTPAddr     string
	Hardware     bool
}

// TaskTiming is the measured and configured timing of one task.
type TaskTiming struct {
	Task           string
	Period         time.Duration
	Execution      time.Duration
	ExpectedPeriod time.Duration
	Budget         time.Duration
	Count          uint64
}

// ResetStats summarises reset response times.
type ResetStats struct {
	Count uint64
	Last  time.Duration
	Max   time.Duration
}

// Counters are the non-fatal error counters.
type Counters struct {
	Cycles            uint64
	Overruns          uint64
	BudgetOverruns    uint64
	SkippedReleases   uint64
	DroppedEvents     uint64
	DroppedSamples    uint64
	TemperatureErrors uint64
}

// Runtime is the scheduler-side state pushed by the bike system.
type Runtime struct {
	State        string
	AverageSpeed float64
	Rotations    uint64
	Tasks        []TaskTiming
	Counters     Counters
	Resets       ResetStats
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type: safe to use after the lock is released.
type Snapshot struct {
	Gear             uint8
	Speed            float64
	Distance         float64
	Temperature      float64
	TemperatureValid bool

	Runtime Runtime

	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
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
		},
	}
}

// DisplayGear records the displayed gear.
func (t *Tracker) DisplayGear(gear uint8) {
	t.mu.Lock()
	t.snap.Gear = gear
	t.mu.Unlock()
}

// DisplaySpeed records the displayed speed in km/h.
func (t *Tracker) DisplaySpeed(kmh float64) {
	t.mu.Lock()
	t.snap.Speed = kmh
	t.mu.Unlock()
}

// DisplayDistance records the displayed distance in km.
func (t *Tracker) DisplayDistance(km float64) {
	t.mu.Lock()
	t.snap.Distance = km
	t.mu.Unlock()
}

// DisplayTemperature records the displayed temperature in °C.
func (t *Tracker) DisplayTemperature(celsius float64) {
	t.mu.Lock()
	t.snap.Temperature = celsius
	t.snap.TemperatureValid = true
	t.mu.Unlock()
}

// SetRuntime replaces the scheduler-side state.
func (t *Tracker) SetRuntime(rt Runtime) {
	t.mu.Lock()
	t.snap.Runtime = rt
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Runtime.Tasks = append([]TaskTiming(nil), t.snap.Runtime.Tasks...)
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}

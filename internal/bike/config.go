package bike

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/bike-computer/internal/clock"
	"github.com/sweeney/bike-computer/internal/deferred"
	"github.com/sweeney/bike-computer/internal/device"
	"github.com/sweeney/bike-computer/internal/processing"
	"github.com/sweeney/bike-computer/internal/scheduler"
	"github.com/sweeney/bike-computer/internal/speedometer"
	"github.com/sweeney/bike-computer/internal/status"
	"github.com/sweeney/bike-computer/internal/tasklog"
)

// Mode selects the scheduling design.
type Mode string

const (
	// ModeStatic runs the cyclic executive and polls every input.
	ModeStatic Mode = "static"
	// ModeStaticEvent runs the cyclic executive; input edges post deferred
	// events which the gear and reset slots drain.
	ModeStaticEvent Mode = "static-event"
	// ModeMultitasking runs periodic tasks on an event loop next to an
	// interrupt dispatch loop and the processing goroutine.
	ModeMultitasking Mode = "multitasking"
)

// Modes lists the supported modes.
var Modes = []Mode{ModeStatic, ModeStaticEvent, ModeMultitasking}

// ParseMode converts a flag value into a Mode.
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown mode %q (want static, static-event or multitasking)", s)
}

// Schedule geometry of the default task set.
const (
	MajorCycle = 1600 * time.Millisecond
	MinorFrame = 100 * time.Millisecond
)

// DefaultTiming returns the configured period and computation time of the
// six bike tasks. Their budgets fill the major cycle exactly.
func DefaultTiming() []tasklog.Expected {
	const ms = time.Millisecond
	return []tasklog.Expected{
		{Task: tasklog.TaskGear, Period: 800 * ms, Budget: 100 * ms},
		{Task: tasklog.TaskSpeed, Period: 400 * ms, Budget: 200 * ms},
		{Task: tasklog.TaskTemperature, Period: 1600 * ms, Budget: 100 * ms},
		{Task: tasklog.TaskReset, Period: 800 * ms, Budget: 100 * ms},
		{Task: tasklog.TaskDisplay, Period: 1600 * ms, Budget: 200 * ms},
		{Task: tasklog.TaskDisplayExtra, Period: 1600 * ms, Budget: 100 * ms},
	}
}

// DefaultTable places the default task set in sixteen 100 ms frames.
//
//	frame  0  1  2  3  4  5  6  7  8  9 10 11 12 13 14 15
//	       S  S  G  R  S  S  T  X  S  S  G  R  S  S  D  D
func DefaultTable() scheduler.Table {
	const ms = time.Millisecond
	return scheduler.Table{
		MajorCycle: MajorCycle,
		MinorFrame: MinorFrame,
		Slots: []scheduler.Slot{
			{Task: tasklog.TaskSpeed, Offset: 0},
			{Task: tasklog.TaskGear, Offset: 200 * ms},
			{Task: tasklog.TaskReset, Offset: 300 * ms},
			{Task: tasklog.TaskSpeed, Offset: 400 * ms},
			{Task: tasklog.TaskTemperature, Offset: 600 * ms},
			{Task: tasklog.TaskDisplayExtra, Offset: 700 * ms},
			{Task: tasklog.TaskSpeed, Offset: 800 * ms},
			{Task: tasklog.TaskGear, Offset: 1000 * ms},
			{Task: tasklog.TaskReset, Offset: 1100 * ms},
			{Task: tasklog.TaskSpeed, Offset: 1200 * ms},
			{Task: tasklog.TaskDisplay, Offset: 1400 * ms},
		},
	}
}

// RuntimeSink receives runtime statistics from the task goroutine.
// *status.Tracker satisfies it.
type RuntimeSink interface {
	SetRuntime(status.Runtime)
}

// Config configures a System. Zero values select defaults.
type Config struct {
	Mode     Mode
	Limits   device.Limits
	Geometry speedometer.Config

	// Timing and Table describe the task set. Multitasking mode uses the
	// first table offset of each task as its initial delay.
	Timing []tasklog.Expected
	Table  scheduler.Table

	// PadToBudget stretches task bodies to their computation time.
	PadToBudget bool
	Tolerance   time.Duration
	// LogTiming enables per-task timing debug logs.
	LogTiming bool

	AverageWindow int
	EventCapacity int

	Clock       clock.Clock
	Thermometer device.TemperatureSource
	Display     device.DisplayTarget
	Sink        RuntimeSink

	// OnReset, if set, runs on the task goroutine after every reset. It
	// must not block.
	OnReset func(latency time.Duration)

	Log zerolog.Logger
}

// DefaultConfig returns the reference bike in static mode.
func DefaultConfig() Config {
	return Config{
		Mode:          ModeStatic,
		Limits:        device.DefaultLimits(),
		Geometry:      speedometer.DefaultConfig(),
		Timing:        DefaultTiming(),
		Table:         DefaultTable(),
		PadToBudget:   true,
		Tolerance:     time.Millisecond,
		AverageWindow: processing.DefaultWindow,
		EventCapacity: deferred.DefaultCapacity,
		Log:           zerolog.Nop(),
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Mode == "" {
		c.Mode = def.Mode
	}
	if c.Limits == (device.Limits{}) {
		c.Limits = def.Limits
	}
	if c.Geometry == (speedometer.Config{}) {
		c.Geometry = def.Geometry
	}
	if len(c.Timing) == 0 {
		c.Timing = def.Timing
	}
	if c.Table.MajorCycle == 0 {
		c.Table = def.Table
	}
	if c.Tolerance <= 0 {
		c.Tolerance = def.Tolerance
	}
	if c.AverageWindow <= 0 {
		c.AverageWindow = def.AverageWindow
	}
	if c.EventCapacity <= 0 {
		c.EventCapacity = def.EventCapacity
	}
	if c.Clock == nil {
		c.Clock = clock.NewMonotonic()
	}
	if c.Thermometer == nil {
		c.Thermometer = device.NewSimThermometer(c.Clock)
	}
	if c.Display == nil {
		c.Display = device.NewLogDisplay(c.Log)
	}
}

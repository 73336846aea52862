// Package bike wires the bike computer together: input devices, the
// speedometer, the six periodic tasks and the scheduler that runs them.
//
// All composite state (speedometer, temperature, task log) is owned by the
// goroutine that runs tasks. Edge handlers and the interrupt dispatch loop
// only touch atomics or post events.
package bike

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/bike-computer/internal/clock"
	"github.com/sweeney/bike-computer/internal/deferred"
	"github.com/sweeney/bike-computer/internal/device"
	"github.com/sweeney/bike-computer/internal/processing"
	"github.com/sweeney/bike-computer/internal/scheduler"
	"github.com/sweeney/bike-computer/internal/speedometer"
	"github.com/sweeney/bike-computer/internal/status"
	"github.com/sweeney/bike-computer/internal/tasklog"
)

// System is one bike computer.
type System struct {
	cfg Config
	clk clock.Clock
	log zerolog.Logger

	logger *tasklog.Logger
	tasks  []scheduler.Task
	exec   *scheduler.Executive
	loop   *scheduler.EventLoop

	gear      *device.GearDevice
	pedal     *device.PedalDevice
	reset     *device.ResetDevice
	ticker    *device.WheelTicker
	isr       *deferred.Channel
	processor *processing.Processor

	// Shared with edge context.
	currentGear atomic.Uint32
	rotations   atomic.Uint64
	resetQueued atomic.Bool

	// Reset statistics, readable from any goroutine.
	resetCount   atomic.Uint64
	resetLast    atomic.Int64
	resetMax     atomic.Int64
	tempErrCount atomic.Uint64

	// Owned by the task goroutine.
	speedo      *speedometer.Speedometer
	thermoOK    bool
	temperature float64
	tempValid   bool
	tempFailing bool
}

// New builds a System. The scheduler is constructed and validated here; an
// infeasible table is returned as an error wrapping scheduler.ErrInfeasible.
func New(cfg Config) (*System, error) {
	cfg.applyDefaults()
	if _, err := ParseMode(string(cfg.Mode)); err != nil {
		return nil, err
	}
	if err := cfg.Limits.Validate(); err != nil {
		return nil, err
	}

	s := &System{
		cfg:    cfg,
		clk:    cfg.Clock,
		log:    cfg.Log.With().Str("component", "bike").Str("mode", string(cfg.Mode)).Logger(),
		logger: tasklog.New(cfg.Log),
		pedal:  device.NewPedalDevice(cfg.Limits),
	}
	s.logger.Enable(cfg.LogTiming)
	s.currentGear.Store(uint32(cfg.Limits.MinGear))
	s.isr = deferred.New("isr", cfg.EventCapacity, cfg.Log)
	s.processor = processing.New(cfg.AverageWindow, processing.DefaultMailboxSize, nil, cfg.Log)

	if cfg.Mode == ModeStatic {
		s.gear = device.NewGearDevice(cfg.Limits, nil)
		s.reset = device.NewResetDevice(s.clk, nil)
	} else {
		s.gear = device.NewGearDevice(cfg.Limits, s.onGearEdge)
		s.reset = device.NewResetDevice(s.clk, s.onResetEdge)
	}
	s.ticker = device.NewWheelTicker(s.clk, s.pedal, s.onWheelTick)

	s.speedo = speedometer.New(cfg.Geometry, s.clk.Elapsed())
	s.speedo.SetGearSize(cfg.Limits.GearSize(cfg.Limits.MinGear))
	s.thermoOK = cfg.Thermometer.Init()
	if !s.thermoOK {
		s.log.Warn().Err(device.ErrDeviceAbsent).Msg("temperature sensor not found, will retry")
	}

	bodies := map[tasklog.TaskID]func(){
		tasklog.TaskGear:         s.gearTask,
		tasklog.TaskSpeed:        s.speedTask,
		tasklog.TaskTemperature:  s.temperatureTask,
		tasklog.TaskReset:        s.resetTask,
		tasklog.TaskDisplay:      s.displayTask,
		tasklog.TaskDisplayExtra: s.displayExtraTask,
	}
	for _, e := range cfg.Timing {
		body, ok := bodies[e.Task]
		if !ok {
			return nil, fmt.Errorf("bike: no body for task %v", e.Task)
		}
		s.tasks = append(s.tasks, scheduler.Task{ID: e.Task, Period: e.Period, Budget: e.Budget, Run: body})
	}

	var err error
	if cfg.Mode == ModeMultitasking {
		err = s.buildLoop()
	} else {
		s.exec, err = scheduler.NewExecutive(scheduler.ExecutiveConfig{
			Clock:       s.clk,
			Logger:      s.logger,
			Tasks:       s.tasks,
			Table:       cfg.Table,
			PadToBudget: cfg.PadToBudget,
			Tolerance:   cfg.Tolerance,
			Log:         cfg.Log,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("bike: %w", err)
	}
	return s, nil
}

func (s *System) buildLoop() error {
	loop, err := scheduler.NewEventLoop(scheduler.LoopConfig{
		Clock:       s.clk,
		Logger:      s.logger,
		PadToBudget: s.cfg.PadToBudget,
		Tolerance:   s.cfg.Tolerance,
		Log:         s.cfg.Log,
	})
	if err != nil {
		return err
	}
	first := make(map[tasklog.TaskID]time.Duration)
	for _, slot := range s.cfg.Table.Sorted() {
		if _, ok := first[slot.Task]; !ok {
			first[slot.Task] = slot.Offset
		}
	}
	for _, t := range s.tasks {
		if err := loop.Every(t, first[t.ID]); err != nil {
			return err
		}
	}
	s.loop = loop
	return nil
}

// Run starts the scheduler and its helper goroutines and blocks until Stop
// is called or ctx is done. Cancellation is a normal shutdown and returns
// nil.
func (s *System) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.log.Info().
		Dur("major_cycle", s.cfg.Table.MajorCycle).
		Int("tasks", len(s.tasks)).
		Msg("starting bike system")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if s.loop != nil {
			err = s.loop.Start(gctx)
		} else {
			err = s.exec.Start(gctx)
		}
		if err == nil {
			// Stopped: the helpers follow the scheduler down.
			cancel()
		}
		return err
	})
	g.Go(func() error { return s.ticker.Run(gctx) })
	g.Go(func() error { return s.processor.Run(gctx) })
	if s.cfg.Mode == ModeMultitasking {
		g.Go(func() error { return s.isr.DispatchForever(gctx, s.handleISR) })
	}

	err := g.Wait()
	s.isr.Close()
	s.publishRuntime()

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	s.log.Info().Uint64("resets", s.resetCount.Load()).Msg("bike system stopped")
	return err
}

// Stop asks the scheduler to stop. The request is honoured within one major
// cycle in static modes and after the running task in multitasking mode.
func (s *System) Stop() {
	if s.loop != nil {
		s.loop.Stop()
		return
	}
	s.exec.Stop()
}

// State returns the scheduler lifecycle state.
func (s *System) State() scheduler.State {
	if s.loop != nil {
		return s.loop.State()
	}
	return s.exec.State()
}

// Mode returns the scheduling mode.
func (s *System) Mode() Mode { return s.cfg.Mode }

// Gear returns the gear input device, for wiring edge sources.
func (s *System) Gear() *device.GearDevice { return s.gear }

// Pedal returns the pedal input device.
func (s *System) Pedal() *device.PedalDevice { return s.pedal }

// ResetButton returns the reset input device.
func (s *System) ResetButton() *device.ResetDevice { return s.reset }

// TaskLogger returns the task timing log. Read it only after Run returned.
func (s *System) TaskLogger() *tasklog.Logger { return s.logger }

// Timing returns the configured task timing.
func (s *System) Timing() []tasklog.Expected {
	return scheduler.Expectations(s.tasks)
}

// Conformance compares measured against configured timing. Call it only
// after Run returned.
func (s *System) Conformance(tolerance time.Duration) []tasklog.Conformance {
	return tasklog.Check(s.logger.Snapshot(), scheduler.Expectations(s.tasks), tolerance)
}

// Rotations returns the wheel rotations counted since the last reset.
func (s *System) Rotations() uint64 { return s.rotations.Load() }

// AverageSpeed returns the moving average of recent speed samples in km/h.
func (s *System) AverageSpeed() float64 { return s.processor.Latest().AverageSpeed }

// ResetStats returns reset response time statistics.
func (s *System) ResetStats() status.ResetStats {
	return status.ResetStats{
		Count: s.resetCount.Load(),
		Last:  time.Duration(s.resetLast.Load()),
		Max:   time.Duration(s.resetMax.Load()),
	}
}

func (s *System) counters() status.Counters {
	c := status.Counters{
		DroppedEvents:     s.isr.Dropped(),
		DroppedSamples:    s.processor.Dropped(),
		TemperatureErrors: s.tempErrCount.Load(),
	}
	if s.loop != nil {
		// One DisplayExtra run per major cycle.
		c.Cycles = s.logger.Record(tasklog.TaskDisplayExtra).Count
		c.Overruns = s.loop.Overruns()
		c.BudgetOverruns = s.loop.BudgetOverruns()
		c.SkippedReleases = s.loop.Skipped()
		c.DroppedEvents += s.loop.Inbox().Dropped()
	} else {
		c.Cycles = s.exec.Cycles()
		c.Overruns = s.exec.Overruns()
		c.BudgetOverruns = s.exec.BudgetOverruns()
	}
	return c
}

// runtime must be called from the task goroutine or after Run returned.
func (s *System) runtime() status.Runtime {
	records := s.logger.Snapshot()
	tasks := make([]status.TaskTiming, 0, len(s.cfg.Timing))
	for _, e := range s.cfg.Timing {
		r := records[e.Task]
		tasks = append(tasks, status.TaskTiming{
			Task:           e.Task.String(),
			Period:         r.Period,
			Execution:      r.Execution,
			ExpectedPeriod: e.Period,
			Budget:         e.Budget,
			Count:          r.Count,
		})
	}
	return status.Runtime{
		State:        s.State().String(),
		AverageSpeed: s.AverageSpeed(),
		Rotations:    s.rotations.Load(),
		Tasks:        tasks,
		Counters:     s.counters(),
		Resets:       s.ResetStats(),
	}
}

func (s *System) publishRuntime() {
	if s.cfg.Sink != nil {
		s.cfg.Sink.SetRuntime(s.runtime())
	}
}

package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/bike-computer/internal/clock"
	"github.com/sweeney/bike-computer/internal/tasklog"
)

// CycleStats describes one completed major cycle.
type CycleStats struct {
	Cycle    uint64
	Start    time.Duration
	Duration time.Duration
	Overran  bool
}

// ExecutiveConfig configures a cyclic Executive.
type ExecutiveConfig struct {
	Clock  clock.Clock
	Logger *tasklog.Logger
	Tasks  []Task
	Table  Table

	// PadToBudget stretches every task body to its budget.
	PadToBudget bool

	// Tolerance is how late a slot may start before it counts as an overrun.
	// Zero means one millisecond.
	Tolerance time.Duration

	// OnCycle, if set, runs on the executive goroutine after every cycle.
	OnCycle func(CycleStats)

	Log zerolog.Logger
}

// Executive is a static cyclic executive. It runs the table's slots at
// their offsets from the cycle start and sleeps out the rest of the cycle.
type Executive struct {
	clk       clock.Clock
	runner    *Runner
	tasks     map[tasklog.TaskID]Task
	table     Table
	slots     []Slot
	tolerance time.Duration
	onCycle   func(CycleStats)
	log       zerolog.Logger

	life lifecycle

	started    bool
	cycleStart time.Duration
	cycles     atomic.Uint64
	overruns   atomic.Uint64
}

// NewExecutive validates the table against the tasks and builds an
// executive in the idle state.
func NewExecutive(cfg ExecutiveConfig) (*Executive, error) {
	if cfg.Clock == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("executive: clock and logger are required")
	}
	if err := cfg.Table.Validate(cfg.Tasks); err != nil {
		return nil, fmt.Errorf("executive: %w", err)
	}

	tasks := make(map[tasklog.TaskID]Task, len(cfg.Tasks))
	for _, t := range cfg.Tasks {
		if t.Run == nil {
			return nil, fmt.Errorf("executive: task %v has no body", t.ID)
		}
		tasks[t.ID] = t
	}

	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = time.Millisecond
	}
	log := cfg.Log.With().Str("component", "executive").Logger()

	e := &Executive{
		clk:       cfg.Clock,
		runner:    NewRunner(cfg.Clock, cfg.Logger, cfg.PadToBudget, log),
		tasks:     tasks,
		table:     cfg.Table,
		slots:     cfg.Table.Sorted(),
		tolerance: tolerance,
		onCycle:   cfg.OnCycle,
		log:       log,
	}
	e.life.init()
	return e, nil
}

// Start runs cycles until Stop is called or ctx is done. The stop request
// is honoured at the next cycle boundary. Start returns nil after Stop and
// ctx.Err() after cancellation.
func (e *Executive) Start(ctx context.Context) error {
	if err := e.life.begin(); err != nil {
		return err
	}
	defer e.life.finish()

	e.log.Info().
		Dur("major_cycle", e.table.MajorCycle).
		Dur("minor_frame", e.table.MinorFrame).
		Int("slots", len(e.slots)).
		Msg("starting cyclic executive")

	for !e.life.stopRequested() {
		if err := e.RunCycle(ctx); err != nil {
			return err
		}
	}
	e.log.Info().Uint64("cycles", e.cycles.Load()).Msg("cyclic executive stopped")
	return nil
}

// RunCycle runs one major cycle. Start calls it in a loop; tests may call
// it directly to step the schedule.
func (e *Executive) RunCycle(ctx context.Context) error {
	if !e.started {
		e.cycleStart = e.clk.Elapsed()
		e.started = true
	}
	start := e.cycleStart
	overran := false

	for _, s := range e.slots {
		deadline := start + s.Offset
		if late := e.clk.Elapsed() - deadline; late > e.tolerance {
			overran = true
			e.overruns.Add(1)
			e.log.Warn().Err(ErrScheduleOverrun).
				Str("task", s.Task.String()).
				Dur("late", late).
				Msg("slot started late")
		} else if err := e.clk.SleepUntil(ctx, deadline); err != nil {
			return err
		}
		e.runner.Run(e.tasks[s.Task])
	}

	end := start + e.table.MajorCycle
	if late := e.clk.Elapsed() - end; late > e.tolerance {
		overran = true
		e.overruns.Add(1)
		e.log.Warn().Err(ErrScheduleOverrun).Dur("late", late).Msg("major cycle overran")
		// Resynchronise instead of trying to catch up.
		e.cycleStart = e.clk.Elapsed()
	} else {
		if err := e.clk.SleepUntil(ctx, end); err != nil {
			return err
		}
		e.cycleStart = end
	}

	stats := CycleStats{
		Cycle:    e.cycles.Add(1),
		Start:    start,
		Duration: e.clk.Elapsed() - start,
		Overran:  overran,
	}
	e.log.Debug().
		Uint64("cycle", stats.Cycle).
		Int64("cycle_ms", stats.Duration.Milliseconds()).
		Msg("repeating cycle time")
	if e.onCycle != nil {
		e.onCycle(stats)
	}
	return nil
}

// Stop asks the executive to stop at the end of the current cycle.
func (e *Executive) Stop() {
	e.life.requestStop()
}

// Done is closed once Start has returned.
func (e *Executive) Done() <-chan struct{} {
	return e.life.done
}

// State returns the lifecycle state.
func (e *Executive) State() State {
	return e.life.current()
}

// Cycles returns the number of completed major cycles.
func (e *Executive) Cycles() uint64 {
	return e.cycles.Load()
}

// Overruns returns how many late slots and overrunning cycles were seen.
func (e *Executive) Overruns() uint64 {
	return e.overruns.Load()
}

// BudgetOverruns returns how many task runs exceeded their budget.
func (e *Executive) BudgetOverruns() uint64 {
	return e.runner.BudgetOverruns()
}

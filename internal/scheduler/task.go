// Package scheduler dispatches the fixed bike task set with bounded jitter.
//
// Two policies share the same Task and tasklog contracts: Executive runs a
// static cyclic schedule described by a Table, and EventLoop runs
// recurring and one-shot timed events against absolute deadlines.
package scheduler

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/bike-computer/internal/clock"
	"github.com/sweeney/bike-computer/internal/tasklog"
)

var (
	// ErrScheduleOverrun is logged when a task or cycle misses its slot.
	ErrScheduleOverrun = errors.New("schedule overrun")

	// ErrInfeasible is returned for a schedule table that cannot be met.
	ErrInfeasible = errors.New("infeasible schedule")

	// ErrNotIdle is returned by Start on a scheduler that already ran.
	ErrNotIdle = errors.New("scheduler not idle")
)

// Task is one entry of the fixed task set.
type Task struct {
	ID tasklog.TaskID
	// Period is how often the task must run.
	Period time.Duration
	// Budget is the task's computation time. When padding is on, the body
	// is stretched to exactly this long.
	Budget time.Duration
	// Run is the task body. It must not block unboundedly.
	Run func()
}

// Expected returns the task's configured timing.
func (t Task) Expected() tasklog.Expected {
	return tasklog.Expected{Task: t.ID, Period: t.Period, Budget: t.Budget}
}

// Expectations returns the configured timing of every task.
func Expectations(tasks []Task) []tasklog.Expected {
	out := make([]tasklog.Expected, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Expected())
	}
	return out
}

// Runner runs task bodies and records their timing. It belongs to the
// goroutine that dispatches tasks.
type Runner struct {
	clk         clock.Clock
	logger      *tasklog.Logger
	padToBudget bool

	budgetOverruns atomic.Uint64
	log            zerolog.Logger
}

// NewRunner creates a Runner. With padToBudget set, a body that finishes
// early is stretched to its budget.
func NewRunner(clk clock.Clock, logger *tasklog.Logger, padToBudget bool, log zerolog.Logger) *Runner {
	return &Runner{clk: clk, logger: logger, padToBudget: padToBudget, log: log}
}

// Run executes t and logs its period and execution time.
func (r *Runner) Run(t Task) tasklog.Record {
	start := r.clk.Elapsed()
	t.Run()

	if t.Budget > 0 {
		used := r.clk.Elapsed() - start
		switch {
		case used > t.Budget:
			r.budgetOverruns.Add(1)
			r.log.Warn().
				Str("task", t.ID.String()).
				Dur("used", used).
				Dur("budget", t.Budget).
				Msg("task exceeded its budget")
		case r.padToBudget:
			r.clk.SpinUntil(start + t.Budget)
		}
	}
	return r.logger.LogPeriodAndExecutionTime(r.clk, t.ID, start)
}

// BudgetOverruns returns how many task runs exceeded their budget.
func (r *Runner) BudgetOverruns() uint64 {
	return r.budgetOverruns.Load()
}

// State is the scheduler lifecycle.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// lifecycle is the state machine shared by both policies.
type lifecycle struct {
	state atomic.Int32
	stop  atomic.Bool
	done  chan struct{}
}

func (l *lifecycle) init() {
	l.done = make(chan struct{})
}

func (l *lifecycle) begin() error {
	if !l.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrNotIdle
	}
	return nil
}

func (l *lifecycle) requestStop() {
	l.stop.Store(true)
	l.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
}

func (l *lifecycle) stopRequested() bool {
	return l.stop.Load()
}

func (l *lifecycle) finish() {
	l.state.Store(int32(StateStopped))
	close(l.done)
}

func (l *lifecycle) current() State {
	return State(l.state.Load())
}

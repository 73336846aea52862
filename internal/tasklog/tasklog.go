// Package tasklog records per-task start times and reports the measured
// period and execution time of every task invocation.
//
// The Logger has a single writer: the goroutine that runs the tasks.
// Readers on other goroutines must only read after that goroutine has
// stopped, or go through status snapshots pushed by the writer.
package tasklog

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/bike-computer/internal/clock"
)

// TaskID identifies a task slot. The set is fixed at compile time.
type TaskID int

const (
	TaskGear TaskID = iota
	TaskSpeed
	TaskTemperature
	TaskReset
	TaskDisplay
	TaskDisplayExtra

	// NumTasks is the number of task slots.
	NumTasks
)

var taskNames = [NumTasks]string{
	TaskGear:         "Gear",
	TaskSpeed:        "Speed",
	TaskTemperature:  "Temperature",
	TaskReset:        "Reset",
	TaskDisplay:      "Display",
	TaskDisplayExtra: "DisplayExtra",
}

func (id TaskID) String() string {
	if !id.Valid() {
		return fmt.Sprintf("TaskID(%d)", int(id))
	}
	return taskNames[id]
}

// Valid reports whether id names a task slot.
func (id TaskID) Valid() bool {
	return id >= 0 && id < NumTasks
}

// Record is the timing state kept for one task slot.
type Record struct {
	Task      TaskID
	LastStart time.Duration
	// Period is the distance between the last two starts.
	// Zero until the task has run twice.
	Period    time.Duration
	Execution time.Duration
	Count     uint64
}

// Logger keeps one Record per task slot.
type Logger struct {
	enabled atomic.Bool
	records [NumTasks]Record
	log     zerolog.Logger
}

// New creates a Logger with diagnostics disabled.
func New(logger zerolog.Logger) *Logger {
	l := &Logger{log: logger.With().Str("component", "tasklog").Logger()}
	for i := range l.records {
		l.records[i].Task = TaskID(i)
	}
	return l
}

// Enable toggles period/execution diagnostics. Bookkeeping always happens,
// so enabling mid-run does not disturb period computation.
func (l *Logger) Enable(enable bool) {
	l.enabled.Store(enable)
}

// Enabled reports whether diagnostics are emitted.
func (l *Logger) Enabled() bool {
	return l.enabled.Load()
}

// LogPeriodAndExecutionTime records that task id started at start and has
// just finished. It panics if id is out of range.
func (l *Logger) LogPeriodAndExecutionTime(clk clock.Clock, id TaskID, start time.Duration) Record {
	r := l.record(id)

	first := r.Count == 0
	if first {
		r.Period = 0
	} else {
		r.Period = start - r.LastStart
	}
	r.LastStart = start
	r.Execution = clk.Elapsed() - start
	r.Count++

	if l.enabled.Load() {
		l.log.Debug().
			Str("task", id.String()).
			Int64("period_us", r.Period.Microseconds()).
			Int64("exec_us", r.Execution.Microseconds()).
			Int64("start_us", start.Microseconds()).
			Bool("first", first).
			Msg("task timing")
	}
	return *r
}

// Period returns the last measured period of task id.
func (l *Logger) Period(id TaskID) time.Duration {
	return l.record(id).Period
}

// ComputationTime returns the last measured execution time of task id.
func (l *Logger) ComputationTime(id TaskID) time.Duration {
	return l.record(id).Execution
}

// Record returns a copy of the record for task id.
func (l *Logger) Record(id TaskID) Record {
	return *l.record(id)
}

// Snapshot returns copies of all records, indexed by TaskID.
func (l *Logger) Snapshot() []Record {
	out := make([]Record, NumTasks)
	copy(out, l.records[:])
	return out
}

func (l *Logger) record(id TaskID) *Record {
	if !id.Valid() {
		panic(fmt.Sprintf("tasklog: invalid task index %d", int(id)))
	}
	return &l.records[id]
}

package scheduler

import (
	"fmt"
	"slices"
	"time"

	"github.com/sweeney/bike-computer/internal/tasklog"
)

// Slot places one invocation of a task at an offset in the major cycle.
type Slot struct {
	Task   tasklog.TaskID
	Offset time.Duration
}

// Table is a static cyclic schedule: a major cycle divided into minor
// frames, with task invocations placed at frame-aligned offsets.
type Table struct {
	MajorCycle time.Duration
	MinorFrame time.Duration
	Slots      []Slot
}

// Sorted returns the slots ordered by offset.
func (tb Table) Sorted() []Slot {
	out := slices.Clone(tb.Slots)
	slices.SortStableFunc(out, func(a, b Slot) int {
		switch {
		case a.Offset < b.Offset:
			return -1
		case a.Offset > b.Offset:
			return 1
		}
		return 0
	})
	return out
}

// Frames returns the number of minor frames in the major cycle.
func (tb Table) Frames() int {
	if tb.MinorFrame <= 0 {
		return 0
	}
	return int(tb.MajorCycle / tb.MinorFrame)
}

// FrameLoad returns, per minor frame, the sum of task budgets that fall
// into it. A budget longer than a frame spills into the following frames.
func (tb Table) FrameLoad(tasks []Task) []time.Duration {
	budgets := budgetsByID(tasks)
	load := make([]time.Duration, tb.Frames())
	if len(load) == 0 {
		return load
	}
	for _, s := range tb.Slots {
		start, end := s.Offset, s.Offset+budgets[s.Task]
		for f := int(start / tb.MinorFrame); f < len(load) && time.Duration(f)*tb.MinorFrame < end; f++ {
			frameStart := time.Duration(f) * tb.MinorFrame
			frameEnd := frameStart + tb.MinorFrame
			load[f] += min(end, frameEnd) - max(start, frameStart)
		}
	}
	return load
}

// Validate checks the table against the task set: slots are frame aligned
// and inside the cycle, no frame carries more budget than its length,
// slot budgets do not overlap, and every task appears evenly spaced at
// exactly its period.
func (tb Table) Validate(tasks []Task) error {
	if tb.MajorCycle <= 0 || tb.MinorFrame <= 0 {
		return fmt.Errorf("%w: major cycle and minor frame must be positive", ErrInfeasible)
	}
	if tb.MajorCycle%tb.MinorFrame != 0 {
		return fmt.Errorf("%w: minor frame %v does not divide major cycle %v", ErrInfeasible, tb.MinorFrame, tb.MajorCycle)
	}

	budgets := budgetsByID(tasks)
	for _, s := range tb.Slots {
		if _, ok := budgets[s.Task]; !ok {
			return fmt.Errorf("%w: slot at %v names unknown task %v", ErrInfeasible, s.Offset, s.Task)
		}
		if s.Offset < 0 || s.Offset >= tb.MajorCycle {
			return fmt.Errorf("%w: %v slot at %v outside major cycle", ErrInfeasible, s.Task, s.Offset)
		}
		if s.Offset%tb.MinorFrame != 0 {
			return fmt.Errorf("%w: %v slot at %v not aligned to %v frames", ErrInfeasible, s.Task, s.Offset, tb.MinorFrame)
		}
	}

	for f, load := range tb.FrameLoad(tasks) {
		if load > tb.MinorFrame {
			return fmt.Errorf("%w: frame %d carries %v of budget in %v", ErrInfeasible, f, load, tb.MinorFrame)
		}
	}

	sorted := tb.Sorted()
	for i, s := range sorted {
		end := s.Offset + budgets[s.Task]
		if end > tb.MajorCycle {
			return fmt.Errorf("%w: %v at %v runs past the major cycle", ErrInfeasible, s.Task, s.Offset)
		}
		if i+1 < len(sorted) && end > sorted[i+1].Offset {
			next := sorted[i+1]
			return fmt.Errorf("%w: %v at %v overlaps %v at %v", ErrInfeasible, s.Task, s.Offset, next.Task, next.Offset)
		}
	}

	for _, t := range tasks {
		if err := tb.checkSpacing(t, sorted); err != nil {
			return err
		}
	}
	return nil
}

func (tb Table) checkSpacing(t Task, sorted []Slot) error {
	var offsets []time.Duration
	for _, s := range sorted {
		if s.Task == t.ID {
			offsets = append(offsets, s.Offset)
		}
	}
	if len(offsets) == 0 {
		return fmt.Errorf("%w: task %v has no slot", ErrInfeasible, t.ID)
	}
	if t.Period <= 0 || time.Duration(len(offsets))*t.Period != tb.MajorCycle {
		return fmt.Errorf("%w: task %v has %d slots, period %v needs %d", ErrInfeasible,
			t.ID, len(offsets), t.Period, invocations(tb.MajorCycle, t.Period))
	}
	for i, off := range offsets {
		next := tb.MajorCycle + offsets[0]
		if i+1 < len(offsets) {
			next = offsets[i+1]
		}
		if gap := next - off; gap != t.Period {
			return fmt.Errorf("%w: task %v slots at %v are %v apart, want %v", ErrInfeasible, t.ID, off, gap, t.Period)
		}
	}
	return nil
}

func invocations(major, period time.Duration) int64 {
	if period <= 0 {
		return 0
	}
	return int64(major / period)
}

func budgetsByID(tasks []Task) map[tasklog.TaskID]time.Duration {
	m := make(map[tasklog.TaskID]time.Duration, len(tasks))
	for _, t := range tasks {
		m[t.ID] = t.Budget
	}
	return m
}

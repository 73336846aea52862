package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/bike-computer/internal/clock"
	"github.com/sweeney/bike-computer/internal/deferred"
	"github.com/sweeney/bike-computer/internal/tasklog"
)

// timedEvent is a task due at an absolute deadline. Period zero means
// one-shot.
type timedEvent struct {
	task     Task
	deadline time.Duration
	period   time.Duration
	seq      uint64
}

// eventHeap orders events by deadline, then by registration order.
type eventHeap []*timedEvent

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].deadline != h[j].deadline {
		return h[i].deadline < h[j].deadline
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)   { *h = append(*h, x.(*timedEvent)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return ev
}

// LoopConfig configures an EventLoop.
type LoopConfig struct {
	Clock  clock.Clock
	Logger *tasklog.Logger

	// Inbox carries work posted by other goroutines to run on the loop.
	// One is created when nil.
	Inbox *deferred.Channel

	PadToBudget bool

	// Tolerance is how late an event may start before it counts as an
	// overrun. Zero means one millisecond.
	Tolerance time.Duration

	Log zerolog.Logger
}

// EventLoop runs periodic and one-shot timed events on one goroutine.
// Periodic events are rescheduled from their previous deadline, not from
// when they ran, so jitter never accumulates. Between events the loop
// serves its inbox.
type EventLoop struct {
	clk       clock.Clock
	runner    *Runner
	inbox     *deferred.Channel
	tolerance time.Duration
	log       zerolog.Logger

	life lifecycle

	pending []*timedEvent
	events  eventHeap
	seq     uint64
	base    time.Duration

	overruns atomic.Uint64
	skipped  atomic.Uint64
}

// NewEventLoop creates an idle loop.
func NewEventLoop(cfg LoopConfig) (*EventLoop, error) {
	if cfg.Clock == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("event loop: clock and logger are required")
	}
	log := cfg.Log.With().Str("component", "event-loop").Logger()
	inbox := cfg.Inbox
	if inbox == nil {
		inbox = deferred.New("loop-inbox", deferred.DefaultCapacity, cfg.Log)
	}
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = time.Millisecond
	}

	l := &EventLoop{
		clk:       cfg.Clock,
		runner:    NewRunner(cfg.Clock, cfg.Logger, cfg.PadToBudget, log),
		inbox:     inbox,
		tolerance: tolerance,
		log:       log,
	}
	l.life.init()
	return l, nil
}

// Every registers t to run every t.Period, first after initialDelay from
// Start. The task set is fixed: Every fails once the loop has started.
func (l *EventLoop) Every(t Task, initialDelay time.Duration) error {
	if t.Period <= 0 {
		return fmt.Errorf("event loop: task %v needs a positive period", t.ID)
	}
	return l.register(t, initialDelay, t.Period)
}

// After registers t to run once, delay after Start.
func (l *EventLoop) After(t Task, delay time.Duration) error {
	return l.register(t, delay, 0)
}

func (l *EventLoop) register(t Task, delay, period time.Duration) error {
	if l.life.current() != StateIdle {
		return ErrNotIdle
	}
	if t.Run == nil {
		return fmt.Errorf("event loop: task %v has no body", t.ID)
	}
	l.seq++
	l.pending = append(l.pending, &timedEvent{task: t, deadline: delay, period: period, seq: l.seq})
	return nil
}

// Inbox returns the channel whose Call events run on the loop goroutine.
func (l *EventLoop) Inbox() *deferred.Channel {
	return l.inbox
}

// Start runs the loop until Stop or ctx is done.
func (l *EventLoop) Start(ctx context.Context) error {
	if err := l.life.begin(); err != nil {
		return err
	}
	defer l.life.finish()

	l.base = l.clk.Elapsed()
	for _, ev := range l.pending {
		ev.deadline += l.base
		heap.Push(&l.events, ev)
	}
	l.pending = nil

	l.log.Info().Int("events", l.events.Len()).Msg("starting event loop")

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for !l.life.stopRequested() {
		if l.events.Len() == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev := <-l.inbox.Events():
				l.inbox.Dispatch(ev, nil)
			}
			continue
		}

		next := l.events[0]
		if wait := next.deadline - l.clk.Elapsed() - clock.SpinMargin; wait > 0 {
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev := <-l.inbox.Events():
				timer.Stop()
				l.inbox.Dispatch(ev, nil)
				continue
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		l.clk.SpinUntil(next.deadline)
		l.fire()
	}
	l.log.Info().Msg("event loop stopped")
	return nil
}

// fire runs the earliest event and reschedules it if periodic.
func (l *EventLoop) fire() {
	ev := heap.Pop(&l.events).(*timedEvent)

	if late := l.clk.Elapsed() - ev.deadline; late > l.tolerance {
		l.overruns.Add(1)
		l.log.Warn().Err(ErrScheduleOverrun).
			Str("task", ev.task.ID.String()).
			Dur("late", late).
			Msg("event started late")
	}
	l.runner.Run(ev.task)

	if ev.period == 0 {
		return
	}
	ev.deadline += ev.period
	// Drop releases that were missed entirely rather than running them
	// back to back.
	for now := l.clk.Elapsed(); ev.deadline+l.tolerance < now; ev.deadline += ev.period {
		l.skipped.Add(1)
	}
	heap.Push(&l.events, ev)
}

// Stop asks the loop to stop after the event in progress.
func (l *EventLoop) Stop() {
	l.life.requestStop()
	// Wake the loop if it is waiting.
	_ = l.inbox.Call(func() {})
}

// Done is closed once Start has returned.
func (l *EventLoop) Done() <-chan struct{} {
	return l.life.done
}

// State returns the lifecycle state.
func (l *EventLoop) State() State {
	return l.life.current()
}

// Overruns returns how many events started late.
func (l *EventLoop) Overruns() uint64 {
	return l.overruns.Load()
}

// Skipped returns how many periodic releases were dropped after falling
// behind.
func (l *EventLoop) Skipped() uint64 {
	return l.skipped.Load()
}

// BudgetOverruns returns how many task runs exceeded their budget.
func (l *EventLoop) BudgetOverruns() uint64 {
	return l.runner.BudgetOverruns()
}

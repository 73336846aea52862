// Package clock provides the elapsed-time source shared by the scheduler,
// the task logger and the devices. Times are durations since system start.
package clock

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// Clock is a monotonic elapsed-time source. All methods are safe to call
// from any goroutine, including input edge handlers.
type Clock interface {
	// Elapsed returns the time since the clock was started.
	Elapsed() time.Duration

	// SleepUntil blocks until Elapsed() >= deadline or ctx is done.
	SleepUntil(ctx context.Context, deadline time.Duration) error

	// SpinUntil busy-waits until Elapsed() >= deadline.
	// Used to burn a task's computation budget.
	SpinUntil(deadline time.Duration)
}

// SpinMargin is how early the timer-based sleep wakes before a deadline.
// The rest is spent spinning so deadlines are met well under a millisecond.
const SpinMargin = 2 * time.Millisecond

// Monotonic wraps the runtime monotonic clock.
type Monotonic struct {
	start time.Time
}

// NewMonotonic starts a clock at zero.
func NewMonotonic() *Monotonic {
	return &Monotonic{start: time.Now()}
}

// Elapsed returns the time since NewMonotonic.
func (m *Monotonic) Elapsed() time.Duration {
	return time.Since(m.start)
}

// SleepUntil sleeps on a timer until shortly before the deadline and spins
// for the remainder.
func (m *Monotonic) SleepUntil(ctx context.Context, deadline time.Duration) error {
	if remaining := deadline - m.Elapsed() - SpinMargin; remaining > 0 {
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.SpinUntil(deadline)
	return nil
}

// SpinUntil busy-waits until the deadline, yielding the processor between polls.
func (m *Monotonic) SpinUntil(deadline time.Duration) {
	for m.Elapsed() < deadline {
		runtime.Gosched()
	}
}

// Fake is a virtual clock for deterministic tests. Sleeping and spinning
// advance virtual time instantly.
type Fake struct {
	mu  sync.Mutex
	now time.Duration
}

// NewFake returns a fake clock at zero.
func NewFake() *Fake {
	return &Fake{}
}

// Elapsed returns the current virtual time.
func (f *Fake) Elapsed() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves virtual time forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now += d
	f.mu.Unlock()
}

// Set moves virtual time to t if t is later than now.
func (f *Fake) Set(t time.Duration) {
	f.mu.Lock()
	if t > f.now {
		f.now = t
	}
	f.mu.Unlock()
}

// SleepUntil jumps to the deadline unless ctx is already done.
func (f *Fake) SleepUntil(ctx context.Context, deadline time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.Set(deadline)
	return nil
}

// SpinUntil jumps to the deadline.
func (f *Fake) SpinUntil(deadline time.Duration) {
	f.Set(deadline)
}

package bike

import (
	"time"

	"github.com/sweeney/bike-computer/internal/deferred"
)

// CurrentGear returns the gear last seen by the tasks.
func (s *System) CurrentGear() uint8 {
	return uint8(s.currentGear.Load())
}

// onGearEdge runs in edge context. The event carries no gear: the consumer
// reads the device when it is served, so events applied out of order still
// leave the latest gear behind.
func (s *System) onGearEdge(uint8) {
	_ = s.isr.Post(deferred.Event{Kind: deferred.KindGearChanged, Time: s.clk.Elapsed()})
}

// onResetEdge runs in edge context, after the reset device latched the press.
func (s *System) onResetEdge(at time.Duration) {
	_ = s.isr.Post(deferred.Event{Kind: deferred.KindReset, Time: at})
}

// onWheelTick runs on the ticker goroutine.
func (s *System) onWheelTick(at time.Duration) {
	if s.cfg.Mode == ModeStatic {
		s.rotations.Add(1)
		return
	}
	_ = s.isr.Post(deferred.Event{Kind: deferred.KindRotationTick, Time: at})
}

// applyEvent handles the events that only touch atomics.
func (s *System) applyEvent(ev deferred.Event) {
	switch ev.Kind {
	case deferred.KindGearChanged:
		s.currentGear.Store(uint32(s.gear.CurrentGear()))
	case deferred.KindRotationTick:
		s.rotations.Add(1)
	}
}

// drainEvents runs every queued event on the task goroutine. Several resets
// in one drain collapse into one carrying the last press time. A reset event
// whose press was already served through the latch is ignored.
func (s *System) drainEvents() {
	var (
		resetAt time.Duration
		reset   bool
	)
	s.isr.DispatchPending(func(ev deferred.Event) {
		if ev.Kind == deferred.KindReset {
			resetAt, reset = ev.Time, true
			return
		}
		s.applyEvent(ev)
	})
	if reset && s.reset.CheckReset() {
		s.performReset(resetAt)
	}
}

// serveLatch performs a reset still held by the reset device. It catches
// presses whose event was dropped on a full channel.
func (s *System) serveLatch() {
	if s.reset.CheckReset() {
		s.performReset(s.reset.PressTime())
	}
}

// handleISR runs on the interrupt dispatch goroutine in multitasking mode.
// A reset is handed to the task goroutine; presses arriving before it is
// served collapse into it.
func (s *System) handleISR(ev deferred.Event) {
	if ev.Kind != deferred.KindReset {
		s.applyEvent(ev)
		return
	}
	if !s.resetQueued.CompareAndSwap(false, true) {
		return
	}
	if err := s.loop.Inbox().Call(s.serviceReset); err != nil {
		s.log.Warn().Err(err).Msg("reset left to the reset task")
	}
}

// serviceReset runs on the task goroutine.
func (s *System) serviceReset() {
	s.resetQueued.Store(false)
	s.serveLatch()
}

// performReset zeroes distance and rotation bookkeeping and records the
// response time from the press at pressedAt.
func (s *System) performReset(pressedAt time.Duration) {
	now := s.clk.Elapsed()
	latency := now - pressedAt

	s.speedo.Reset(now)
	s.rotations.Store(0)

	s.resetCount.Add(1)
	s.resetLast.Store(int64(latency))
	for {
		prev := s.resetMax.Load()
		if int64(latency) <= prev || s.resetMax.CompareAndSwap(prev, int64(latency)) {
			break
		}
	}

	s.log.Info().Int64("response_us", latency.Microseconds()).Msg("reset task: response time")
	if s.cfg.OnReset != nil {
		s.cfg.OnReset(latency)
	}
}

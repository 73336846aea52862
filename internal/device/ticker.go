package device

import (
	"context"
	"time"

	"github.com/sweeney/bike-computer/internal/clock"
)

// WheelTicker simulates the wheel sensor: it fires once per pedal
// rotation, re-reading the cadence after every tick.
type WheelTicker struct {
	clk   clock.Clock
	pedal PedalSource
	tick  func(at time.Duration)
}

// NewWheelTicker creates a ticker. tick runs on the ticker goroutine, which
// plays the part of interrupt context, and must only post work.
func NewWheelTicker(clk clock.Clock, pedal PedalSource, tick func(at time.Duration)) *WheelTicker {
	return &WheelTicker{clk: clk, pedal: pedal, tick: tick}
}

// Run fires ticks until ctx is done.
func (w *WheelTicker) Run(ctx context.Context) error {
	timer := time.NewTimer(w.pedal.CurrentRotationTime())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			w.tick(w.clk.Elapsed())
			timer.Reset(w.pedal.CurrentRotationTime())
		}
	}
}

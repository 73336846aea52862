package device

import (
	"sync/atomic"
	"time"

	"github.com/sweeney/bike-computer/internal/clock"
)

// GearDevice holds the current gear. Up and Down may be called from edge
// handlers on any goroutine; the gear never leaves [MinGear, MaxGear].
type GearDevice struct {
	limits   Limits
	gear     atomic.Uint32
	onChange func(gear uint8)
}

// NewGearDevice starts at MinGear. onChange, if non-nil, runs in the
// caller's context after every effective change and must only post work.
func NewGearDevice(limits Limits, onChange func(gear uint8)) *GearDevice {
	g := &GearDevice{limits: limits, onChange: onChange}
	g.gear.Store(uint32(limits.MinGear))
	return g
}

// Up shifts one gear up.
func (g *GearDevice) Up() { g.shift(1) }

// Down shifts one gear down.
func (g *GearDevice) Down() { g.shift(-1) }

func (g *GearDevice) shift(delta int) {
	for {
		cur := g.gear.Load()
		next := int(cur) + delta
		if next < int(g.limits.MinGear) || next > int(g.limits.MaxGear) {
			return
		}
		if g.gear.CompareAndSwap(cur, uint32(next)) {
			if g.onChange != nil {
				g.onChange(uint8(next))
			}
			return
		}
	}
}

// CurrentGear returns the current gear.
func (g *GearDevice) CurrentGear() uint8 {
	return uint8(g.gear.Load())
}

// CurrentGearSize returns the rear gear size for the current gear.
func (g *GearDevice) CurrentGearSize() uint8 {
	return g.limits.GearSize(g.CurrentGear())
}

// PedalDevice holds the pedal rotation time, changed in discrete steps.
type PedalDevice struct {
	limits       Limits
	rotationTime atomic.Int64
}

// NewPedalDevice starts at the initial rotation time.
func NewPedalDevice(limits Limits) *PedalDevice {
	p := &PedalDevice{limits: limits}
	p.rotationTime.Store(int64(limits.InitialRotationTime))
	return p
}

// Faster shortens the rotation time by one step, down to the minimum.
func (p *PedalDevice) Faster() {
	p.step(-p.limits.DeltaRotationTime)
}

// Slower lengthens the rotation time by one step, up to the maximum.
func (p *PedalDevice) Slower() {
	p.step(p.limits.DeltaRotationTime)
}

func (p *PedalDevice) step(delta time.Duration) {
	for {
		cur := p.rotationTime.Load()
		next := time.Duration(cur) + delta
		if next < p.limits.MinRotationTime || next > p.limits.MaxRotationTime {
			return
		}
		if p.rotationTime.CompareAndSwap(cur, int64(next)) {
			return
		}
	}
}

// CurrentRotationTime returns the time of one pedal rotation.
func (p *PedalDevice) CurrentRotationTime() time.Duration {
	return time.Duration(p.rotationTime.Load())
}

// ResetDevice latches reset button presses. Press runs in edge context and
// only records the time; several presses before the next CheckReset
// collapse into one reset carrying the last press time.
type ResetDevice struct {
	clk       clock.Clock
	pending   atomic.Bool
	pressTime atomic.Int64
	onReset   func(at time.Duration)
}

// NewResetDevice creates a reset latch. onReset, if non-nil, is called in
// edge context after each press and must only post work.
func NewResetDevice(clk clock.Clock, onReset func(at time.Duration)) *ResetDevice {
	return &ResetDevice{clk: clk, onReset: onReset}
}

// Press handles a button edge.
func (r *ResetDevice) Press() {
	at := r.clk.Elapsed()
	r.pressTime.Store(int64(at))
	r.pending.Store(true)
	if r.onReset != nil {
		r.onReset(at)
	}
}

// CheckReset reports and clears a pending press.
func (r *ResetDevice) CheckReset() bool {
	return r.pending.Swap(false)
}

// PressTime returns the time of the most recent press.
func (r *ResetDevice) PressTime() time.Duration {
	return time.Duration(r.pressTime.Load())
}

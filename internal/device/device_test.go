package device

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sweeney/bike-computer/internal/clock"
)

func TestDefaultLimitsValid(t *testing.T) {
	if err := DefaultLimits().Validate(); err != nil {
		t.Fatalf("default limits invalid: %v", err)
	}
}

func TestLimitsValidate(t *testing.T) {
	l := DefaultLimits()
	l.MinGear = 10
	if l.Validate() == nil {
		t.Error("expected error for min gear above max gear")
	}

	l = DefaultLimits()
	l.MaxGearSize = 9
	if l.Validate() == nil {
		t.Error("expected error for max gear size not above max gear")
	}

	l = DefaultLimits()
	l.InitialRotationTime = time.Hour
	if l.Validate() == nil {
		t.Error("expected error for initial rotation time out of range")
	}
}

func TestGearSize(t *testing.T) {
	l := DefaultLimits()
	if got := l.GearSize(6); got != 15 {
		t.Errorf("gear 6: expected size 15, got %d", got)
	}
	if got := l.GearSize(30); got != 1 {
		t.Errorf("gear beyond cassette: expected size 1, got %d", got)
	}
}

func TestGearDeviceBounded(t *testing.T) {
	l := DefaultLimits()
	var changes []uint8
	g := NewGearDevice(l, func(gear uint8) { changes = append(changes, gear) })

	if g.CurrentGear() != l.MinGear {
		t.Fatalf("expected start at min gear, got %d", g.CurrentGear())
	}

	g.Down()
	if g.CurrentGear() != l.MinGear {
		t.Errorf("gear went below min: %d", g.CurrentGear())
	}
	if len(changes) != 0 {
		t.Errorf("no change expected at min gear, got %v", changes)
	}

	for i := 0; i < 20; i++ {
		g.Up()
	}
	if g.CurrentGear() != l.MaxGear {
		t.Errorf("expected max gear %d, got %d", l.MaxGear, g.CurrentGear())
	}
	if len(changes) != int(l.MaxGear-l.MinGear) {
		t.Errorf("expected %d change callbacks, got %d", l.MaxGear-l.MinGear, len(changes))
	}
	if g.CurrentGearSize() != l.MaxGearSize-l.MaxGear {
		t.Errorf("unexpected gear size %d", g.CurrentGearSize())
	}
}

func TestGearDeviceConcurrentBurst(t *testing.T) {
	l := DefaultLimits()
	g := NewGearDevice(l, nil)

	var wg sync.WaitGroup
	var violations atomic.Int32
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(up bool) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				if up {
					g.Up()
				} else {
					g.Down()
				}
				if cur := g.CurrentGear(); cur < l.MinGear || cur > l.MaxGear {
					violations.Add(1)
				}
			}
		}(w%2 == 0)
	}
	wg.Wait()

	if violations.Load() != 0 {
		t.Errorf("gear left bounds %d times", violations.Load())
	}
}

func TestPedalDeviceBounded(t *testing.T) {
	l := DefaultLimits()
	p := NewPedalDevice(l)
	if p.CurrentRotationTime() != 750*time.Millisecond {
		t.Fatalf("expected initial 750ms, got %v", p.CurrentRotationTime())
	}

	p.Faster()
	if p.CurrentRotationTime() != 725*time.Millisecond {
		t.Errorf("expected 725ms after one step, got %v", p.CurrentRotationTime())
	}

	for i := 0; i < 100; i++ {
		p.Faster()
	}
	if p.CurrentRotationTime() != l.MinRotationTime {
		t.Errorf("expected min rotation time, got %v", p.CurrentRotationTime())
	}

	for i := 0; i < 1000; i++ {
		p.Slower()
	}
	if p.CurrentRotationTime() != l.MaxRotationTime {
		t.Errorf("expected max rotation time, got %v", p.CurrentRotationTime())
	}
}

func TestResetDeviceCollapsesPresses(t *testing.T) {
	clk := clock.NewFake()
	var callbacks []time.Duration
	r := NewResetDevice(clk, func(at time.Duration) { callbacks = append(callbacks, at) })

	if r.CheckReset() {
		t.Fatal("no reset expected before a press")
	}

	clk.Advance(10 * time.Millisecond)
	r.Press()
	clk.Advance(20 * time.Millisecond)
	r.Press()
	clk.Advance(30 * time.Millisecond)
	r.Press()

	if !r.CheckReset() {
		t.Fatal("expected a pending reset")
	}
	if r.CheckReset() {
		t.Error("three presses should collapse into a single reset")
	}
	if r.PressTime() != 60*time.Millisecond {
		t.Errorf("expected last press time 60ms, got %v", r.PressTime())
	}
	if len(callbacks) != 3 {
		t.Errorf("expected 3 edge callbacks, got %d", len(callbacks))
	}
}

func TestWheelTickerFollowsCadence(t *testing.T) {
	l := DefaultLimits()
	l.MinRotationTime = time.Millisecond
	l.InitialRotationTime = 5 * time.Millisecond
	p := NewPedalDevice(l)

	var ticks atomic.Int32
	w := NewWheelTicker(clock.NewMonotonic(), p, func(time.Duration) { ticks.Add(1) })

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	err := w.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if n := ticks.Load(); n < 5 || n > 12 {
		t.Errorf("expected about 12 ticks at 5ms cadence, got %d", n)
	}
}

func TestSimThermometer(t *testing.T) {
	clk := clock.NewFake()
	s := NewSimThermometer(clk)
	if !s.Init() {
		t.Fatal("simulated sensor should be present")
	}
	for i := 0; i < 20; i++ {
		v, err := s.ReadTemperature()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v < s.Base-s.Swing-1e-9 || v > s.Base+s.Swing+1e-9 {
			t.Errorf("temperature %f outside drift band", v)
		}
		clk.Advance(time.Minute)
	}
}

func TestFakeThermometer(t *testing.T) {
	f := NewFakeThermometer(20, 21)
	v, _ := f.ReadTemperature()
	if v != 20 {
		t.Errorf("expected 20, got %f", v)
	}
	v, _ = f.ReadTemperature()
	v2, _ := f.ReadTemperature()
	if v != 21 || v2 != 21 {
		t.Errorf("expected last value to repeat, got %f then %f", v, v2)
	}

	f.SetReadError(ErrReadFailure)
	if _, err := f.ReadTemperature(); !errors.Is(err, ErrReadFailure) {
		t.Errorf("expected ErrReadFailure, got %v", err)
	}
	if f.Reads != 4 {
		t.Errorf("expected 4 reads, got %d", f.Reads)
	}
}

func TestMultiDisplayFansOut(t *testing.T) {
	a, b := NewFakeDisplay(), NewFakeDisplay()
	m := MultiDisplay{a, b}
	m.DisplayGear(3)
	m.DisplaySpeed(30.5)
	m.DisplayDistance(1.25)
	m.DisplayTemperature(19)

	for i, d := range []*FakeDisplay{a, b} {
		s := d.Snapshot()
		if s.Gear != 3 || s.Speed != 30.5 || s.Distance != 1.25 || s.Temperature != 19 {
			t.Errorf("display %d: unexpected state %+v", i, s)
		}
		if s.Calls["gear"] != 1 {
			t.Errorf("display %d: expected one gear call, got %d", i, s.Calls["gear"])
		}
	}
}

// Package device defines the input and output capabilities the bike tasks
// use, with in-process implementations driven by edge handlers and fakes
// for tests. Hardware back-ends live in the gpio and sensor packages.
package device

import (
	"errors"
	"time"
)

var (
	// ErrDeviceAbsent means the device did not answer its probe.
	ErrDeviceAbsent = errors.New("device absent")

	// ErrReadFailure means a read from a present device failed.
	ErrReadFailure = errors.New("device read failure")
)

// GearSource reports the selected gear.
type GearSource interface {
	// CurrentGear returns a gear in [MinGear, MaxGear].
	CurrentGear() uint8
	// CurrentGearSize returns the rear gear size for the current gear.
	CurrentGearSize() uint8
}

// PedalSource reports the pedalling cadence.
type PedalSource interface {
	// CurrentRotationTime returns the time for one full pedal rotation.
	CurrentRotationTime() time.Duration
}

// ResetSource reports reset button presses.
type ResetSource interface {
	// CheckReset reports whether the button was pressed since the last call.
	CheckReset() bool
	// PressTime returns the clock reading of the most recent press.
	PressTime() time.Duration
}

// TemperatureSource reads the ambient temperature.
type TemperatureSource interface {
	// Init probes the sensor and reports whether it is present.
	Init() bool
	// ReadTemperature returns degrees Celsius.
	ReadTemperature() (float64, error)
}

// DisplayTarget shows bike values. Each call is fire-and-forget and bounded.
type DisplayTarget interface {
	DisplayGear(gear uint8)
	DisplaySpeed(kmh float64)
	DisplayDistance(km float64)
	DisplayTemperature(celsius float64)
}

// Limits are the bike input bounds. Firmware revisions
// disagree on some of them, so they are configuration.
type Limits struct {
	MinGear     uint8
	MaxGear     uint8
	MaxGearSize uint8

	MinRotationTime     time.Duration
	MaxRotationTime     time.Duration
	DeltaRotationTime   time.Duration
	InitialRotationTime time.Duration
}

// DefaultLimits returns gears 1..9 on a 21-size cassette and pedal rotation
// times between 375 ms and 6 s in 25 ms steps, starting at 750 ms.
func DefaultLimits() Limits {
	return Limits{
		MinGear:             1,
		MaxGear:             9,
		MaxGearSize:         21,
		MinRotationTime:     375 * time.Millisecond,
		MaxRotationTime:     6000 * time.Millisecond,
		DeltaRotationTime:   25 * time.Millisecond,
		InitialRotationTime: 750 * time.Millisecond,
	}
}

// GearSize converts a gear into a rear gear size, never below 1.
func (l Limits) GearSize(gear uint8) uint8 {
	if gear >= l.MaxGearSize {
		return 1
	}
	return l.MaxGearSize - gear
}

// Validate checks that the limits are internally consistent.
func (l Limits) Validate() error {
	switch {
	case l.MinGear > l.MaxGear:
		return errors.New("limits: min gear above max gear")
	case l.MaxGear >= l.MaxGearSize:
		return errors.New("limits: max gear must be below max gear size")
	case l.MinRotationTime <= 0 || l.MinRotationTime > l.MaxRotationTime:
		return errors.New("limits: invalid rotation time range")
	case l.DeltaRotationTime <= 0:
		return errors.New("limits: rotation time step must be positive")
	case l.InitialRotationTime < l.MinRotationTime || l.InitialRotationTime > l.MaxRotationTime:
		return errors.New("limits: initial rotation time out of range")
	}
	return nil
}

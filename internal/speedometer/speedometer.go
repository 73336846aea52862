// Package speedometer converts pedal cadence and gear ratio into speed and
// distance. It has no I/O and never sleeps; time is always passed in as the
// elapsed time since system start.
package speedometer

import "time"

// Config holds the bike geometry.
type Config struct {
	// TraySize is the number of teeth on the front tray.
	TraySize uint8
	// WheelCircumference is in metres.
	WheelCircumference float64
}

// DefaultConfig returns a 50-tooth tray on a 2.1 m wheel.
func DefaultConfig() Config {
	return Config{TraySize: 50, WheelCircumference: 2.1}
}

// Speedometer integrates distance between samples. Not safe for concurrent
// use: a single task goroutine owns it.
type Speedometer struct {
	cfg Config

	gearSize     uint8
	rotationTime time.Duration

	speed      float64 // km/h
	distance   float64 // m
	rotations  float64
	lastSample time.Duration
}

// New creates a speedometer whose first sample interval starts at now.
func New(cfg Config, now time.Duration) *Speedometer {
	return &Speedometer{
		cfg:        cfg,
		gearSize:   1,
		lastSample: now,
	}
}

// SetGearSize sets the rear gear size. Zero is clamped to 1.
func (s *Speedometer) SetGearSize(size uint8) {
	if size == 0 {
		size = 1
	}
	s.gearSize = size
}

// SetCurrentRotationTime sets the time of one full pedal rotation.
func (s *Speedometer) SetCurrentRotationTime(d time.Duration) {
	s.rotationTime = d
}

// GearSize returns the current rear gear size.
func (s *Speedometer) GearSize() uint8 { return s.gearSize }

// RotationTime returns the current pedal rotation time.
func (s *Speedometer) RotationTime() time.Duration { return s.rotationTime }

// DistancePerRotation returns the metres covered by one pedal rotation.
func (s *Speedometer) DistancePerRotation() float64 {
	return float64(s.cfg.TraySize) / float64(s.gearSize) * s.cfg.WheelCircumference
}

// Update samples the model at now. Rotations since the last sample are
// derived from the pedal rotation time; a zero-length interval changes
// nothing.
func (s *Speedometer) Update(now time.Duration) {
	elapsed := now - s.lastSample
	if elapsed <= 0 {
		return
	}
	s.lastSample = now
	if s.rotationTime <= 0 {
		s.speed = 0
		return
	}

	rotations := float64(elapsed) / float64(s.rotationTime)
	increment := s.DistancePerRotation() * rotations
	s.rotations += rotations
	s.distance += increment

	// m per ms to km/h
	elapsedMs := float64(elapsed) / float64(time.Millisecond)
	s.speed = increment * 3600 / elapsedMs
}

// CurrentSpeed returns the speed in km/h computed at the last sample.
func (s *Speedometer) CurrentSpeed() float64 { return s.speed }

// Distance returns the distance in km since the last reset.
func (s *Speedometer) Distance() float64 { return s.distance / 1000 }

// Rotations returns the pedal rotations since the last reset.
func (s *Speedometer) Rotations() float64 { return s.rotations }

// LastSample returns the time of the last sample or reset.
func (s *Speedometer) LastSample() time.Duration { return s.lastSample }

// Reset clears distance and rotation bookkeeping and restarts the sample
// interval at now.
func (s *Speedometer) Reset(now time.Duration) {
	s.distance = 0
	s.rotations = 0
	s.speed = 0
	s.lastSample = now
}

package device

import (
	"math"
	"time"

	"github.com/sweeney/bike-computer/internal/clock"
)

// SimThermometer produces a slowly drifting temperature when no sensor is
// attached.
type SimThermometer struct {
	clk  clock.Clock
	Base float64
	// Swing is the amplitude of the drift in degrees.
	Swing float64
	// Cycle is the drift period.
	Cycle time.Duration
}

// NewSimThermometer drifts ±0.5 °C around 21 °C over ten minutes.
func NewSimThermometer(clk clock.Clock) *SimThermometer {
	return &SimThermometer{clk: clk, Base: 21, Swing: 0.5, Cycle: 10 * time.Minute}
}

// Init always reports the simulated sensor as present.
func (s *SimThermometer) Init() bool { return true }

// ReadTemperature returns the simulated temperature.
func (s *SimThermometer) ReadTemperature() (float64, error) {
	if s.Cycle <= 0 {
		return s.Base, nil
	}
	phase := 2 * math.Pi * float64(s.clk.Elapsed()) / float64(s.Cycle)
	return s.Base + s.Swing*math.Sin(phase), nil
}

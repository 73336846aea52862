package device

import (
	"errors"
	"sync"
)

// FakeThermometer is a test double that returns scripted temperatures.
type FakeThermometer struct {
	mu sync.Mutex

	// Values are returned in order; the last one repeats.
	Values []float64
	index  int

	// Absent makes Init report the sensor as missing.
	Absent bool

	// ReadError, if set, is returned by ReadTemperature.
	ReadError error

	// Reads counts ReadTemperature calls.
	Reads int
}

// NewFakeThermometer creates a FakeThermometer with the given values.
func NewFakeThermometer(values ...float64) *FakeThermometer {
	return &FakeThermometer{Values: values}
}

// Init reports whether the fake sensor is present.
func (f *FakeThermometer) Init() bool {
	return !f.Absent
}

// ReadTemperature returns the next scripted value.
func (f *FakeThermometer) ReadTemperature() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reads++

	if f.ReadError != nil {
		return 0, f.ReadError
	}
	if len(f.Values) == 0 {
		return 0, errors.New("no values configured")
	}
	v := f.Values[f.index]
	if f.index < len(f.Values)-1 {
		f.index++
	}
	return v, nil
}

// SetReadError changes the scripted error.
func (f *FakeThermometer) SetReadError(err error) {
	f.mu.Lock()
	f.ReadError = err
	f.mu.Unlock()
}

// DisplayState is what a FakeDisplay has shown.
type DisplayState struct {
	Gear        uint8
	Speed       float64
	Distance    float64
	Temperature float64

	// Calls counts calls per value name.
	Calls map[string]int
}

// FakeDisplay records displayed values. Safe for concurrent use.
type FakeDisplay struct {
	mu    sync.Mutex
	state DisplayState
}

// NewFakeDisplay creates an empty FakeDisplay.
func NewFakeDisplay() *FakeDisplay {
	return &FakeDisplay{state: DisplayState{Calls: make(map[string]int)}}
}

func (f *FakeDisplay) DisplayGear(gear uint8) {
	f.mu.Lock()
	f.state.Gear = gear
	f.state.Calls["gear"]++
	f.mu.Unlock()
}

func (f *FakeDisplay) DisplaySpeed(kmh float64) {
	f.mu.Lock()
	f.state.Speed = kmh
	f.state.Calls["speed"]++
	f.mu.Unlock()
}

func (f *FakeDisplay) DisplayDistance(km float64) {
	f.mu.Lock()
	f.state.Distance = km
	f.state.Calls["distance"]++
	f.mu.Unlock()
}

func (f *FakeDisplay) DisplayTemperature(celsius float64) {
	f.mu.Lock()
	f.state.Temperature = celsius
	f.state.Calls["temperature"]++
	f.mu.Unlock()
}

// Snapshot returns a copy of what has been shown so far.
func (f *FakeDisplay) Snapshot() DisplayState {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.state
	s.Calls = make(map[string]int, len(f.state.Calls))
	for k, v := range f.state.Calls {
		s.Calls[k] = v
	}
	return s
}

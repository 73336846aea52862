package bike

import (
	"github.com/sweeney/bike-computer/internal/processing"
)

// gearTask reads the gear and applies its size to the speedometer.
func (s *System) gearTask() {
	switch s.cfg.Mode {
	case ModeStatic:
		s.currentGear.Store(uint32(s.gear.CurrentGear()))
	case ModeStaticEvent:
		s.drainEvents()
	}
	s.speedo.SetGearSize(s.cfg.Limits.GearSize(s.CurrentGear()))
}

// speedTask samples the speedometer and hands the speed to processing.
func (s *System) speedTask() {
	now := s.clk.Elapsed()
	s.speedo.SetCurrentRotationTime(s.pedal.CurrentRotationTime())
	s.speedo.Update(now)
	// A full mailbox is counted by the processor.
	_ = s.processor.Submit(processing.Sample{At: now, Speed: s.speedo.CurrentSpeed()})
}

// temperatureTask reads the sensor. Failures keep the last good value and
// are logged once per failure streak.
func (s *System) temperatureTask() {
	if !s.thermoOK {
		if !s.cfg.Thermometer.Init() {
			return
		}
		s.thermoOK = true
		s.log.Info().Msg("temperature sensor found")
	}

	v, err := s.cfg.Thermometer.ReadTemperature()
	if err != nil {
		s.tempErrCount.Add(1)
		if !s.tempFailing {
			s.tempFailing = true
			s.log.Warn().Err(err).Float64("last_c", s.temperature).Msg("temperature read failed, keeping last value")
		}
		return
	}
	if s.tempFailing {
		s.tempFailing = false
		s.log.Info().Float64("temperature_c", v).Msg("temperature read recovered")
	}
	s.temperature = v
	s.tempValid = true
}

// resetTask performs a pending reset. In the event modes the latch is
// checked as well, so a press whose event or inbox call was dropped is
// served here.
func (s *System) resetTask() {
	switch s.cfg.Mode {
	case ModeStatic:
		s.serveLatch()
	case ModeStaticEvent:
		s.drainEvents()
		s.serveLatch()
	case ModeMultitasking:
		s.serviceReset()
	}
}

// displayTask shows gear, speed and distance.
func (s *System) displayTask() {
	s.cfg.Display.DisplayGear(s.CurrentGear())
	s.cfg.Display.DisplaySpeed(s.speedo.CurrentSpeed())
	s.cfg.Display.DisplayDistance(s.speedo.Distance())
}

// displayExtraTask shows the temperature and publishes runtime statistics.
func (s *System) displayExtraTask() {
	if s.tempValid {
		s.cfg.Display.DisplayTemperature(s.temperature)
	}
	s.publishRuntime()
}

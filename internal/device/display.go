package device

import "github.com/rs/zerolog"

// MultiDisplay fans every call out to several targets.
type MultiDisplay []DisplayTarget

func (m MultiDisplay) DisplayGear(gear uint8) {
	for _, d := range m {
		d.DisplayGear(gear)
	}
}

func (m MultiDisplay) DisplaySpeed(kmh float64) {
	for _, d := range m {
		d.DisplaySpeed(kmh)
	}
}

func (m MultiDisplay) DisplayDistance(km float64) {
	for _, d := range m {
		d.DisplayDistance(km)
	}
}

func (m MultiDisplay) DisplayTemperature(celsius float64) {
	for _, d := range m {
		d.DisplayTemperature(celsius)
	}
}

// LogDisplay writes displayed values as debug log lines.
type LogDisplay struct {
	log zerolog.Logger
}

// NewLogDisplay creates a display backed by logger.
func NewLogDisplay(logger zerolog.Logger) *LogDisplay {
	return &LogDisplay{log: logger.With().Str("component", "display").Logger()}
}

func (l *LogDisplay) DisplayGear(gear uint8) {
	l.log.Debug().Uint8("gear", gear).Msg("display")
}

func (l *LogDisplay) DisplaySpeed(kmh float64) {
	l.log.Debug().Float64("speed_kmh", kmh).Msg("display")
}

func (l *LogDisplay) DisplayDistance(km float64) {
	l.log.Debug().Float64("distance_km", km).Msg("display")
}

func (l *LogDisplay) DisplayTemperature(celsius float64) {
	l.log.Debug().Float64("temperature_c", celsius).Msg("display")
}

//go:build !linux

package sensor

import (
	"errors"

	"github.com/rs/zerolog"
)

// Device is not available on non-Linux platforms.
type Device struct {
	*HDC1000
}

// Open returns an error on non-Linux platforms.
func Open(bus int, gpioChip string, drdyPin int, cfg Config, log zerolog.Logger) (*Device, error) {
	return nil, errors.New("sensor: not supported on this platform (requires Linux)")
}

// Close is a no-op on non-Linux platforms.
func (d *Device) Close() error {
	return nil
}

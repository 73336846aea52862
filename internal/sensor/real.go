//go:build linux

package sensor

import (
	"fmt"

	"github.com/d2r2/go-i2c"
	"github.com/d2r2/go-logger"
	"github.com/rs/zerolog"
	"github.com/warthog618/go-gpiocdev"
)

// Device is an HDC1000 on real hardware together with its data-ready line.
type Device struct {
	*HDC1000
	line *gpiocdev.Line
}

// Open connects to the sensor on the given I2C bus. drdyPin < 0 runs without
// a data-ready line.
func Open(bus int, gpioChip string, drdyPin int, cfg Config, log zerolog.Logger) (*Device, error) {
	// go-i2c logs every transfer at debug level by default.
	_ = logger.ChangePackageLogLevel("i2c", logger.InfoLevel)

	conn, err := i2c.NewI2C(Address, bus)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %d: %w", bus, err)
	}

	d := &Device{}
	var ready ReadyPin
	if drdyPin >= 0 {
		line, err := gpiocdev.RequestLine(gpioChip, drdyPin, gpiocdev.AsInput, gpiocdev.WithPullUp)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("request data-ready pin %d: %w", drdyPin, err)
		}
		d.line = line
		ready = line
	}
	d.HDC1000 = NewHDC1000(conn, ready, cfg, log)
	return d, nil
}

// Close releases the data-ready line and the bus.
func (d *Device) Close() error {
	var errs []error
	if d.line != nil {
		if err := d.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close data-ready pin: %w", err))
		}
	}
	if err := d.HDC1000.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close i2c: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

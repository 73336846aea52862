// Package sensor reads the HDC1000 temperature sensor over I2C.
//
// A measurement is started by writing the register pointer; the sensor pulls
// its data-ready line low once the conversion is done. Waiting for that line
// is a bounded poll so a missing sensor can never stall the caller.
package sensor

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/bike-computer/internal/device"
)

// Register map and identification values.
const (
	Address = 0x40

	RegTemperature    = 0x00
	RegHumidity       = 0x01
	RegManufacturerID = 0xFE
	RegDeviceID       = 0xFF

	ManufacturerTI = 0x5449
	DeviceHDC1000  = 0x1000
	DeviceHDC1080  = 0x1050
)

// Bus is the subset of an I2C connection the driver needs.
// *i2c.I2C from github.com/d2r2/go-i2c satisfies it.
type Bus interface {
	WriteBytes(buf []byte) (int, error)
	ReadBytes(buf []byte) (int, error)
	ReadRegU16BE(reg byte) (uint16, error)
	Close() error
}

// ReadyPin is the data-ready input. *gpiocdev.Line satisfies it.
type ReadyPin interface {
	Value() (int, error)
}

// Config bounds the data-ready poll.
type Config struct {
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultConfig keeps a worst-case read well inside the temperature task's
// 100 ms budget. A 14-bit conversion takes about 6.5 ms.
func DefaultConfig() Config {
	return Config{MaxRetries: 20, RetryDelay: 2 * time.Millisecond}
}

// HDC1000 implements device.TemperatureSource.
type HDC1000 struct {
	bus  Bus
	drdy ReadyPin
	cfg  Config
	log  zerolog.Logger
}

var _ device.TemperatureSource = (*HDC1000)(nil)

// NewHDC1000 creates a driver. drdy may be nil, in which case the driver
// waits the full poll window before reading.
func NewHDC1000(bus Bus, drdy ReadyPin, cfg Config, logger zerolog.Logger) *HDC1000 {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	return &HDC1000{
		bus:  bus,
		drdy: drdy,
		cfg:  cfg,
		log:  logger.With().Str("component", "hdc1000").Logger(),
	}
}

// Init probes the identification registers and reports whether an HDC1000
// family sensor answered. A failed probe is only logged at debug level:
// callers re-probe periodically and report absence themselves.
func (h *HDC1000) Init() bool {
	mfr, err := h.bus.ReadRegU16BE(RegManufacturerID)
	if err != nil {
		h.log.Debug().Err(err).Msg("probe failed")
		return false
	}
	id, err := h.bus.ReadRegU16BE(RegDeviceID)
	if err != nil {
		h.log.Debug().Err(err).Msg("probe failed")
		return false
	}
	if mfr != ManufacturerTI || (id != DeviceHDC1000 && id != DeviceHDC1080) {
		h.log.Debug().
			Uint16("manufacturer", mfr).
			Uint16("device", id).
			Msg("unexpected sensor identification")
		return false
	}
	h.log.Info().Uint16("device", id).Msg("sensor present")
	return true
}

// ReadTemperature triggers a conversion and returns degrees Celsius.
func (h *HDC1000) ReadTemperature() (float64, error) {
	raw, err := h.readRaw(RegTemperature)
	if err != nil {
		return 0, err
	}
	return ConvertTemperature(raw), nil
}

// ReadHumidity triggers a conversion and returns relative humidity in percent.
func (h *HDC1000) ReadHumidity() (float64, error) {
	raw, err := h.readRaw(RegHumidity)
	if err != nil {
		return 0, err
	}
	return ConvertHumidity(raw), nil
}

func (h *HDC1000) readRaw(reg byte) (uint16, error) {
	if _, err := h.bus.WriteBytes([]byte{reg}); err != nil {
		return 0, fmt.Errorf("%w: select register 0x%02x: %v", device.ErrReadFailure, reg, err)
	}
	if err := h.waitReady(); err != nil {
		return 0, err
	}

	buf := make([]byte, 2)
	n, err := h.bus.ReadBytes(buf)
	if err != nil {
		return 0, fmt.Errorf("%w: read register 0x%02x: %v", device.ErrReadFailure, reg, err)
	}
	if n < len(buf) {
		return 0, fmt.Errorf("%w: short read of %d bytes", device.ErrReadFailure, n)
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}

// waitReady polls the active-low data-ready line at most MaxRetries times.
func (h *HDC1000) waitReady() error {
	if h.drdy == nil {
		time.Sleep(time.Duration(h.cfg.MaxRetries) * h.cfg.RetryDelay)
		return nil
	}
	for i := 0; i < h.cfg.MaxRetries; i++ {
		v, err := h.drdy.Value()
		if err != nil {
			return fmt.Errorf("%w: data-ready line: %v", device.ErrReadFailure, err)
		}
		if v == 0 {
			return nil
		}
		time.Sleep(h.cfg.RetryDelay)
	}
	return fmt.Errorf("%w: data not ready after %d polls", device.ErrReadFailure, h.cfg.MaxRetries)
}

// Close releases the bus.
func (h *HDC1000) Close() error {
	return h.bus.Close()
}

// ConvertTemperature converts a raw temperature register value to °C.
func ConvertTemperature(raw uint16) float64 {
	return float64(raw)/65536.0*165.0 - 40.0
}

// ConvertHumidity converts a raw humidity register value to %RH.
func ConvertHumidity(raw uint16) float64 {
	return float64(raw) / 65536.0 * 100.0
}

package sensor

import (
	"bytes"
	"errors"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/bike-computer/internal/device"
)

var nopLog = zerolog.New(io.Discard)

var fastPoll = Config{MaxRetries: 5, RetryDelay: time.Microsecond}

func TestConvertTemperature(t *testing.T) {
	tests := []struct {
		raw  uint16
		want float64
	}{
		{0x0000, -40},
		{0x8000, 42.5},
		{0xFFFF, 125 - 165.0/65536},
		{0x6000, 21.875},
	}
	for _, tt := range tests {
		if got := ConvertTemperature(tt.raw); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("ConvertTemperature(0x%04x) = %v, want %v", tt.raw, got, tt.want)
		}
	}
	if got := ConvertHumidity(0x8000); got != 50 {
		t.Errorf("ConvertHumidity(0x8000) = %v, want 50", got)
	}
}

func TestInitProbe(t *testing.T) {
	bus := NewFakeBus()
	if !NewHDC1000(bus, nil, fastPoll, nopLog).Init() {
		t.Error("expected HDC1000 to be detected")
	}

	bus.Registers[RegDeviceID] = DeviceHDC1080
	if !NewHDC1000(bus, nil, fastPoll, nopLog).Init() {
		t.Error("expected HDC1080 to be detected")
	}

	bus.Registers[RegManufacturerID] = 0x1234
	if NewHDC1000(bus, nil, fastPoll, nopLog).Init() {
		t.Error("expected foreign manufacturer to be rejected")
	}

	absent := NewFakeBus()
	absent.ReadErr = errors.New("no ack")
	if NewHDC1000(absent, nil, fastPoll, nopLog).Init() {
		t.Error("expected absent sensor to fail Init")
	}
}

func TestInitFailureLogsAtDebug(t *testing.T) {
	var buf bytes.Buffer
	absent := NewFakeBus()
	absent.ReadErr = errors.New("no ack")
	h := NewHDC1000(absent, nil, fastPoll, zerolog.New(&buf).Level(zerolog.InfoLevel))
	for i := 0; i < 5; i++ {
		if h.Init() {
			t.Fatal("expected absent sensor to fail Init")
		}
	}
	if buf.Len() != 0 {
		t.Errorf("expected no output above debug, got %q", buf.String())
	}

	foreign := NewFakeBus()
	foreign.Registers[RegDeviceID] = 0xbeef
	if NewHDC1000(foreign, nil, fastPoll, zerolog.New(&buf).Level(zerolog.InfoLevel)).Init() {
		t.Fatal("expected unknown device id to be rejected")
	}
	if strings.Contains(buf.String(), "unexpected sensor identification") {
		t.Error("expected identification mismatch to log at debug only")
	}
}

func TestReadTemperature(t *testing.T) {
	bus := NewFakeBus()
	bus.Data = []byte{0x60, 0x00}
	pin := &FakeReadyPin{ReadyAfter: 2}

	h := NewHDC1000(bus, pin, fastPoll, nopLog)
	got, err := h.ReadTemperature()
	if err != nil {
		t.Fatalf("ReadTemperature: %v", err)
	}
	if math.Abs(got-21.875) > 1e-9 {
		t.Errorf("expected 21.875, got %v", got)
	}
	if len(bus.Writes) != 1 || bus.Writes[0][0] != RegTemperature {
		t.Errorf("expected one pointer write to the temperature register, got %v", bus.Writes)
	}
	if pin.Polls != 3 {
		t.Errorf("expected 3 polls, got %d", pin.Polls)
	}
}

func TestReadTemperatureBoundedWait(t *testing.T) {
	bus := NewFakeBus()
	bus.Data = []byte{0x60, 0x00}
	pin := &FakeReadyPin{Never: true}

	_, err := NewHDC1000(bus, pin, fastPoll, nopLog).ReadTemperature()
	if !errors.Is(err, device.ErrReadFailure) {
		t.Errorf("expected ErrReadFailure, got %v", err)
	}
	if pin.Polls != fastPoll.MaxRetries {
		t.Errorf("expected %d polls, got %d", fastPoll.MaxRetries, pin.Polls)
	}
}

func TestReadTemperatureFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*FakeBus, *FakeReadyPin)
	}{
		{"write error", func(b *FakeBus, _ *FakeReadyPin) { b.WriteErr = errors.New("nack") }},
		{"read error", func(b *FakeBus, _ *FakeReadyPin) { b.ReadErr = errors.New("nack") }},
		{"short read", func(b *FakeBus, _ *FakeReadyPin) { b.ShortRead = true }},
		{"pin error", func(_ *FakeBus, p *FakeReadyPin) { p.Err = errors.New("gpio gone") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := NewFakeBus()
			bus.Data = []byte{0x60, 0x00}
			pin := &FakeReadyPin{}
			tt.setup(bus, pin)

			_, err := NewHDC1000(bus, pin, fastPoll, nopLog).ReadTemperature()
			if !errors.Is(err, device.ErrReadFailure) {
				t.Errorf("expected ErrReadFailure, got %v", err)
			}
		})
	}
}

func TestReadHumidityWithoutReadyPin(t *testing.T) {
	bus := NewFakeBus()
	bus.Data = []byte{0x40, 0x00}

	got, err := NewHDC1000(bus, nil, fastPoll, nopLog).ReadHumidity()
	if err != nil {
		t.Fatalf("ReadHumidity: %v", err)
	}
	if got != 25 {
		t.Errorf("expected 25%%, got %v", got)
	}
}

package sensor

import "errors"

// FakeBus is a scripted I2C bus for tests.
type FakeBus struct {
	Registers map[byte]uint16
	// Data is returned by the next ReadBytes.
	Data []byte

	WriteErr  error
	ReadErr   error
	ShortRead bool

	Writes [][]byte
	Closed bool
}

// NewFakeBus returns a bus answering the identification registers like a
// real HDC1000.
func NewFakeBus() *FakeBus {
	return &FakeBus{
		Registers: map[byte]uint16{
			RegManufacturerID: ManufacturerTI,
			RegDeviceID:       DeviceHDC1000,
		},
	}
}

func (b *FakeBus) WriteBytes(buf []byte) (int, error) {
	if b.WriteErr != nil {
		return 0, b.WriteErr
	}
	b.Writes = append(b.Writes, append([]byte(nil), buf...))
	return len(buf), nil
}

func (b *FakeBus) ReadBytes(buf []byte) (int, error) {
	if b.ReadErr != nil {
		return 0, b.ReadErr
	}
	n := copy(buf, b.Data)
	if b.ShortRead && n > 0 {
		n--
	}
	return n, nil
}

func (b *FakeBus) ReadRegU16BE(reg byte) (uint16, error) {
	if b.ReadErr != nil {
		return 0, b.ReadErr
	}
	v, ok := b.Registers[reg]
	if !ok {
		return 0, errors.New("no such register")
	}
	return v, nil
}

func (b *FakeBus) Close() error {
	b.Closed = true
	return nil
}

// FakeReadyPin reports not-ready (1) for ReadyAfter polls, then ready (0).
type FakeReadyPin struct {
	ReadyAfter int
	Never      bool
	Err        error
	Polls      int
}

func (p *FakeReadyPin) Value() (int, error) {
	if p.Err != nil {
		return 0, p.Err
	}
	p.Polls++
	if p.Never || p.Polls <= p.ReadyAfter {
		return 1, nil
	}
	return 0, nil
}

// Package gpio turns push buttons into edge events.
// The real implementation uses the Linux GPIO character device; edge
// handlers run on the gpiocdev event goroutine, which plays the role of
// interrupt context, so handlers must only touch atomics or post events.
package gpio

import (
	"fmt"

	"github.com/sweeney/bike-computer/internal/device"
)

// Button identifies one input.
type Button int

const (
	ButtonGearUp Button = iota
	ButtonGearDown
	ButtonFaster
	ButtonSlower
	ButtonReset
)

// Buttons lists every button.
var Buttons = []Button{ButtonGearUp, ButtonGearDown, ButtonFaster, ButtonSlower, ButtonReset}

func (b Button) String() string {
	switch b {
	case ButtonGearUp:
		return "gear-up"
	case ButtonGearDown:
		return "gear-down"
	case ButtonFaster:
		return "faster"
	case ButtonSlower:
		return "slower"
	case ButtonReset:
		return "reset"
	default:
		return fmt.Sprintf("Button(%d)", int(b))
	}
}

// Handler is called once per button press, in edge context.
type Handler func(Button)

// Input delivers button presses to a Handler until closed.
type Input interface {
	Close() error
}

// Pins maps buttons to line offsets (BCM numbering).
type Pins map[Button]int

// DefaultPins returns the wiring used on the reference board.
func DefaultPins() Pins {
	return Pins{
		ButtonGearUp:   5,
		ButtonGearDown: 6,
		ButtonFaster:   13,
		ButtonSlower:   19,
		ButtonReset:    26,
	}
}

// Validate checks that every button has a distinct, non-negative pin.
func (p Pins) Validate() error {
	seen := make(map[int]Button, len(p))
	for _, b := range Buttons {
		pin, ok := p[b]
		if !ok {
			return fmt.Errorf("gpio: no pin for %v", b)
		}
		if pin < 0 {
			return fmt.Errorf("gpio: invalid pin %d for %v", pin, b)
		}
		if other, dup := seen[pin]; dup {
			return fmt.Errorf("gpio: pin %d used by %v and %v", pin, other, b)
		}
		seen[pin] = b
	}
	return nil
}

// Bind returns a Handler that drives the bike input devices.
func Bind(gear *device.GearDevice, pedal *device.PedalDevice, reset *device.ResetDevice) Handler {
	return func(b Button) {
		switch b {
		case ButtonGearUp:
			gear.Up()
		case ButtonGearDown:
			gear.Down()
		case ButtonFaster:
			pedal.Faster()
		case ButtonSlower:
			pedal.Slower()
		case ButtonReset:
			reset.Press()
		}
	}
}

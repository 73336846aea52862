//go:build linux

package gpio

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/warthog618/go-gpiocdev"
)

// DefaultDebounce filters contact bounce on the buttons.
const DefaultDebounce = 10 * time.Millisecond

// RealInput watches button lines on actual hardware.
type RealInput struct {
	chip  *gpiocdev.Chip
	lines []*gpiocdev.Line
}

// NewRealInput requests every button line as a pulled-up input that reports
// falling edges (button pressed to ground) to h.
func NewRealInput(chipName string, pins Pins, debounce time.Duration, h Handler, log zerolog.Logger) (*RealInput, error) {
	if err := pins.Validate(); err != nil {
		return nil, err
	}
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	log = log.With().Str("component", "gpio").Logger()

	r := &RealInput{chip: chip}
	for _, b := range Buttons {
		pin := pins[b]
		line, err := chip.RequestLine(pin,
			gpiocdev.AsInput,
			gpiocdev.WithPullUp,
			gpiocdev.WithFallingEdge,
			gpiocdev.WithDebounce(debounce),
			gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
				h(b)
			}))
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("request %v pin %d: %w", b, pin, err)
		}
		r.lines = append(r.lines, line)
		log.Debug().Str("button", b.String()).Int("pin", pin).Msg("button line requested")
	}
	return r, nil
}

// Close releases the lines and the chip.
func (r *RealInput) Close() error {
	var errs []error
	for _, line := range r.lines {
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line: %w", err))
		}
	}
	r.lines = nil
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		r.chip = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

//go:build !linux

package gpio

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// DefaultDebounce filters contact bounce on the buttons.
const DefaultDebounce = 10 * time.Millisecond

// RealInput is not available on non-Linux platforms.
type RealInput struct{}

// NewRealInput returns an error on non-Linux platforms.
func NewRealInput(chipName string, pins Pins, debounce time.Duration, h Handler, log zerolog.Logger) (*RealInput, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Close is not implemented on non-Linux platforms.
func (r *RealInput) Close() error {
	return nil
}

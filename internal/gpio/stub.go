//go:build !linux

package gpio

import "errors"

// Real is not available on non-Linux platforms.
type Real struct{}

// NewReal returns an error on non-Linux platforms.
func NewReal(chipName string, pins Pins, h Handlers) (*Real, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// SetHV is not implemented on non-Linux platforms.
func (r *Real) SetHV(on bool) error {
	return errors.New("gpio: not supported")
}

// SetBeeper is not implemented on non-Linux platforms.
func (r *Real) SetBeeper(on bool) error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (r *Real) Close() error {
	return nil
}

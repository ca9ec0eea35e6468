//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// Real drives the detector board through the Linux GPIO character device.
type Real struct {
	chip     *gpiocdev.Chip
	pulse    *gpiocdev.Line
	hvGate   *gpiocdev.Line
	hvEnable *gpiocdev.Line
	beeper   *gpiocdev.Line
}

// NewReal requests the board lines on chipName. The HV supply and beeper
// start switched off. Edge delivery to h starts immediately.
func NewReal(chipName string, pins Pins, h Handlers) (*Real, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	r := &Real{chip: chip}

	r.hvEnable, err = chip.RequestLine(pins.HVEnable, gpiocdev.AsOutput(0))
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("request HV enable pin %d: %w", pins.HVEnable, err)
	}

	if pins.Beeper >= 0 {
		r.beeper, err = chip.RequestLine(pins.Beeper, gpiocdev.AsOutput(0))
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("request beeper pin %d: %w", pins.Beeper, err)
		}
	}

	r.hvGate, err = chip.RequestLine(pins.HVGate,
		gpiocdev.AsInput,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) { h.HVEdge() }))
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("request HV gate pin %d: %w", pins.HVGate, err)
	}

	// The pulse amplifier pulls the line low for each count.
	r.pulse, err = chip.RequestLine(pins.Pulse,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithFallingEdge,
		gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) { h.Pulse() }))
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("request pulse pin %d: %w", pins.Pulse, err)
	}

	return r, nil
}

// SetHV switches the high voltage supply.
func (r *Real) SetHV(on bool) error {
	if err := r.hvEnable.SetValue(boolToValue(on)); err != nil {
		return fmt.Errorf("set HV enable: %w", err)
	}
	return nil
}

// SetBeeper switches the beeper. It is a no-op when no beeper is wired.
func (r *Real) SetBeeper(on bool) error {
	if r.beeper == nil {
		return nil
	}
	if err := r.beeper.SetValue(boolToValue(on)); err != nil {
		return fmt.Errorf("set beeper: %w", err)
	}
	return nil
}

// Close switches the outputs off and returns every line to an input with
// pull-down, matching the Pi boot defaults, before releasing it.
func (r *Real) Close() error {
	var errs []error

	if r.hvEnable != nil {
		if err := r.hvEnable.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("switch HV off: %w", err))
		}
	}
	if r.beeper != nil {
		if err := r.beeper.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("switch beeper off: %w", err))
		}
	}

	for _, l := range []struct {
		name string
		line *gpiocdev.Line
	}{
		{"pulse", r.pulse},
		{"HV gate", r.hvGate},
		{"HV enable", r.hvEnable},
		{"beeper", r.beeper},
	} {
		if l.line == nil {
			continue
		}
		if err := l.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure %s pin: %w", l.name, err))
		}
		if err := l.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s pin: %w", l.name, err))
		}
	}

	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

func boolToValue(on bool) int {
	if on {
		return 1
	}
	return 0
}

// Package gpio connects the detector board to the acquisition core.
// The real implementation uses the Linux GPIO character device and delivers
// edges from its event goroutine. The fake implementation lets tests inject
// edges directly.
package gpio

// Handlers receive hardware edges. They run in the line event goroutine and
// must only touch atomics.
type Handlers struct {
	Pulse  func() // GM tube pulse, falling edge of the amplifier output
	HVEdge func() // HV boost converter gate, both edges
}

// Hardware is the detector board outputs plus the lifetime of the edge
// handlers.
type Hardware interface {
	// SetHV switches the high voltage supply.
	SetHV(on bool) error

	// SetBeeper switches the piezo beeper.
	SetBeeper(on bool) error

	// Close stops edge delivery and releases the lines.
	Close() error
}

// Pins holds line offsets on the GPIO chip. A negative Beeper disables it.
type Pins struct {
	Pulse    int
	HVGate   int
	HVEnable int
	Beeper   int
}

// Default line offsets (BCM numbering).
const (
	DefaultPinPulse    = 17
	DefaultPinHVGate   = 27
	DefaultPinHVEnable = 22
	DefaultPinBeeper   = 23
)

// DefaultPins returns the default wiring.
func DefaultPins() Pins {
	return Pins{
		Pulse:    DefaultPinPulse,
		HVGate:   DefaultPinHVGate,
		HVEnable: DefaultPinHVEnable,
		Beeper:   DefaultPinBeeper,
	}
}

package store

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"periph.io/x/conn/v3/driver/driverreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
)

// DefaultEEPROMAddr is the usual address of a 24Cxx EEPROM with A0..A2 low.
const DefaultEEPROMAddr = 0x50

// writeCycle is the worst case internal write time of 24Cxx parts. The chip
// does not acknowledge its address until the cycle completes.
const writeCycle = 5 * time.Millisecond

// EEPROMStore keeps the dose as a little-endian float32 in a 24Cxx I2C
// EEPROM. Writes only happen when the stored value differs.
type EEPROMStore struct {
	dev       *i2c.Dev
	offset    uint16
	wide      bool // 16-bit word address (24C32 and larger)
	closer    io.Closer
	now       func() time.Time
	lastWrite time.Time
}

// OpenEEPROM opens the named I2C bus ("" for the first one) and returns a
// store for the EEPROM at addr. offset must be 4-byte aligned so the value
// never straddles a page.
func OpenEEPROM(busName string, addr, offset uint16, wide bool) (*EEPROMStore, error) {
	if _, err := driverreg.Init(); err != nil {
		return nil, fmt.Errorf("init i2c drivers: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", busName, err)
	}
	if err := bus.SetSpeed(400 * physic.KiloHertz); err != nil {
		bus.Close()
		return nil, fmt.Errorf("set i2c speed: %w", err)
	}
	e, err := NewEEPROM(bus, addr, offset, wide)
	if err != nil {
		bus.Close()
		return nil, err
	}
	e.closer = bus
	return e, nil
}

// NewEEPROM returns a store on an already open bus.
func NewEEPROM(bus i2c.Bus, addr, offset uint16, wide bool) (*EEPROMStore, error) {
	if offset%4 != 0 {
		return nil, fmt.Errorf("eeprom offset %d is not 4-byte aligned", offset)
	}
	if !wide && offset > 0xFC {
		return nil, fmt.Errorf("eeprom offset %d out of range for 8-bit addressing", offset)
	}
	return &EEPROMStore{
		dev:    &i2c.Dev{Bus: bus, Addr: addr},
		offset: offset,
		wide:   wide,
		now:    time.Now,
	}, nil
}

func (e *EEPROMStore) wordAddr() []byte {
	if e.wide {
		return []byte{byte(e.offset >> 8), byte(e.offset)}
	}
	return []byte{byte(e.offset)}
}

func (e *EEPROMStore) busy() bool {
	return !e.lastWrite.IsZero() && e.now().Sub(e.lastWrite) < writeCycle
}

func (e *EEPROMStore) read() (float32, error) {
	buf := make([]byte, 4)
	if err := e.dev.Tx(e.wordAddr(), buf); err != nil {
		return 0, fmt.Errorf("eeprom read: %w", err)
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(buf)), nil
}

// LoadDose reads the stored dose. An erased cell (all ones) decodes as NaN
// and is returned as is; the caller decides how to treat it.
func (e *EEPROMStore) LoadDose() (float32, error) {
	if e.busy() {
		return 0, ErrBusy
	}
	return e.read()
}

// StoreDose writes the dose if it differs from the stored value.
func (e *EEPROMStore) StoreDose(dose float32) error {
	if e.busy() {
		return ErrBusy
	}
	cur, err := e.read()
	if err != nil {
		return err
	}
	if math.Float32bits(cur) == math.Float32bits(dose) {
		return nil
	}
	w := e.wordAddr()
	w = binary.LittleEndian.AppendUint32(w, math.Float32bits(dose))
	if err := e.dev.Tx(w, nil); err != nil {
		return fmt.Errorf("eeprom write: %w", err)
	}
	e.lastWrite = e.now()
	return nil
}

// Close releases the bus if the store opened it.
func (e *EEPROMStore) Close() error {
	if e.closer == nil {
		return nil
	}
	return e.closer.Close()
}

package store

// FakeStore is an in-memory Store for tests.
type FakeStore struct {
	// Dose is the stored value.
	Dose float32

	// Busy is the number of upcoming calls that return ErrBusy.
	Busy int

	// Stored records every successful StoreDose.
	Stored []float32

	// LoadError and StoreError, if set, are returned by the matching call.
	LoadError  error
	StoreError error

	// Calls counts LoadDose and StoreDose calls, busy ones included.
	Calls int

	Closed bool
}

// NewFakeStore returns a FakeStore holding dose.
func NewFakeStore(dose float32) *FakeStore {
	return &FakeStore{Dose: dose}
}

func (f *FakeStore) takeBusy() bool {
	f.Calls++
	if f.Busy > 0 {
		f.Busy--
		return true
	}
	return false
}

// LoadDose returns Dose.
func (f *FakeStore) LoadDose() (float32, error) {
	if f.takeBusy() {
		return 0, ErrBusy
	}
	if f.LoadError != nil {
		return 0, f.LoadError
	}
	return f.Dose, nil
}

// StoreDose records dose.
func (f *FakeStore) StoreDose(dose float32) error {
	if f.takeBusy() {
		return ErrBusy
	}
	if f.StoreError != nil {
		return f.StoreError
	}
	f.Dose = dose
	f.Stored = append(f.Stored, dose)
	return nil
}

// Close marks the store closed.
func (f *FakeStore) Close() error {
	f.Closed = true
	return nil
}

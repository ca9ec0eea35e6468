// Package store persists the accumulated dose across restarts.
// The dose is kept as a single float32 in uSv; backends may report ErrBusy
// while a previous write is still completing, and callers retry with bounded
// patience.
package store

import "errors"

// ErrBusy is returned when the backend cannot accept a request yet.
var ErrBusy = errors.New("store: busy")

// Store loads and stores the accumulated dose.
type Store interface {
	// LoadDose returns the stored dose in uSv. A store that was never
	// written returns 0.
	LoadDose() (float32, error)

	// StoreDose writes the dose in uSv. It returns ErrBusy if the backend
	// is momentarily unavailable.
	StoreDose(dose float32) error

	// Close releases backend resources.
	Close() error
}

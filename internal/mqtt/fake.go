package mqtt

// FakePublisher records published messages for test assertions.
type FakePublisher struct {
	// Readings contains all readings that were published.
	Readings []Reading

	// ReadingPayloads contains the JSON payloads of the readings.
	ReadingPayloads [][]byte

	// Events contains all instrument events that were published.
	Events []Event

	// EventPayloads contains the JSON payloads of the events.
	EventPayloads [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, is returned by PublishReading and PublishEvent.
	PublishError error

	// PublishSystemError, if set, is returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishReading records the reading.
func (f *FakePublisher) PublishReading(r Reading) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatReading(r)
	if err != nil {
		return err
	}
	f.Readings = append(f.Readings, r)
	f.ReadingPayloads = append(f.ReadingPayloads, payload)
	return nil
}

// PublishEvent records the event.
func (f *FakePublisher) PublishEvent(e Event) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatEvent(e)
	if err != nil {
		return err
	}
	f.Events = append(f.Events, e)
	f.EventPayloads = append(f.EventPayloads, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(e SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}
	payload, err := FormatSystemPayload(e)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, e)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	return f.Connected
}

// EventTypes returns the types of the recorded events in order.
func (f *FakePublisher) EventTypes() []EventType {
	out := make([]EventType, len(f.Events))
	for i, e := range f.Events {
		out[i] = e.Type
	}
	return out
}

// Reset clears recorded messages and injected errors.
func (f *FakePublisher) Reset() {
	*f = FakePublisher{}
}

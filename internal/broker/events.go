package broker

// Event represents a broker lifecycle event.
// Minimal and stable: name + request id and optional fields via key/values.
type Event struct {
	Name      string
	RequestID string
	Fields    map[string]any
}

// EventPublisher receives events from the broker. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

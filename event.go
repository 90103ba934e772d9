package agentzero

// Event is the immutable pub/sub value produced by the receive side:
// the topic the message arrived on and its deserialized payload.
// Events are created only by RecvEventSafe and Subscribe and never
// mutated afterwards.
type Event struct {
	topic string
	data  any
}

// NewEvent builds an event. Exposed for adapters that feed events into
// code written against this package.
func NewEvent(topic string, data any) Event {
	return Event{topic: topic, data: data}
}

// Topic returns the topic the event was published under. It is empty
// when the publisher supplied no topic.
func (e Event) Topic() string { return e.topic }

// Data returns the deserialized payload.
func (e Event) Data() any { return e.data }

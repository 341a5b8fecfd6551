package events

// EventSink represents a destination for chat events. Implementations can
// publish events to different backends like watermill, logging systems, or
// test recorders.
type EventSink interface {
	// PublishEvent publishes an event to the sink.
	PublishEvent(event Event) error
}

// NullSink discards all events.
type NullSink struct{}

func (NullSink) PublishEvent(Event) error {
	return nil
}

var _ EventSink = NullSink{}

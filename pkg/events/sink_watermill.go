package events

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
)

// WatermillSink publishes events to a watermill Publisher, which distributes
// them through the message bus to all subscribers of the topic.
type WatermillSink struct {
	publisher message.Publisher
	topic     string
}

func NewWatermillSink(publisher message.Publisher, topic string) *WatermillSink {
	return &WatermillSink{
		publisher: publisher,
		topic:     topic,
	}
}

// PublishEvent serializes the event to JSON and sends it as a watermill
// message.
func (w *WatermillSink) PublishEvent(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal event to JSON")
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)

	err = w.publisher.Publish(w.topic, msg)
	if err != nil {
		log.Error().Err(err).Str("topic", w.topic).Msg("Failed to publish event to watermill")
		return err
	}

	log.Trace().Str("topic", w.topic).Str("event_type", string(event.Type())).Msg("Published event to watermill")
	return nil
}

var _ EventSink = (*WatermillSink)(nil)

package events

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type EventType string

const (
	// EventTypeStart to EventTypeFinal cover one streamed completion.
	EventTypeStart             EventType = "start"
	EventTypePartialCompletion EventType = "partial"
	EventTypeFinal             EventType = "final"

	EventTypeError     EventType = "error"
	EventTypeInterrupt EventType = "interrupt"
)

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

// Usage carries the token counts reported by the model for one completion.
type Usage struct {
	InputTokens  int `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens int `json:"output_tokens" yaml:"output_tokens"`
}

// EventMetadata is passed along with every event of one streamed completion.
type EventMetadata struct {
	ID        uuid.UUID `json:"message_id" yaml:"message_id"`
	SessionID string    `json:"session_id,omitempty" yaml:"session_id,omitempty"`

	Model      string  `json:"model,omitempty" yaml:"model,omitempty"`
	Usage      *Usage  `json:"usage,omitempty" yaml:"usage,omitempty"`
	StopReason *string `json:"stop_reason,omitempty" yaml:"stop_reason,omitempty"`
	DurationMs *int64  `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("message_id", em.ID.String())
	if em.SessionID != "" {
		e.Str("session_id", em.SessionID)
	}
	if em.Model != "" {
		e.Str("model", em.Model)
	}
	if em.Usage != nil {
		e.Int("input_tokens", em.Usage.InputTokens)
		e.Int("output_tokens", em.Usage.OutputTokens)
	}
	if em.StopReason != nil && *em.StopReason != "" {
		e.Str("stop_reason", *em.StopReason)
	}
	if em.DurationMs != nil {
		e.Int64("duration_ms", *em.DurationMs)
	}
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta,omitempty"`

	// raw JSON payload when the event was deserialized (see NewEventFromJson)
	payload []byte
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

var _ Event = &EventImpl{}

type EventPartialCompletionStart struct {
	EventImpl
}

func NewStartEvent(metadata EventMetadata) *EventPartialCompletionStart {
	return &EventPartialCompletionStart{
		EventImpl: EventImpl{
			Type_:     EventTypeStart,
			Metadata_: metadata,
		},
	}
}

var _ Event = &EventPartialCompletionStart{}

// EventPartialCompletion is the event type for one textual fragment.
type EventPartialCompletion struct {
	EventImpl
	Delta string `json:"delta"`
	// Completion is the complete completion string so far.
	Completion string `json:"completion"`
}

func NewPartialCompletionEvent(metadata EventMetadata, delta string, completion string) *EventPartialCompletion {
	return &EventPartialCompletion{
		EventImpl: EventImpl{
			Type_:     EventTypePartialCompletion,
			Metadata_: metadata,
		},
		Delta:      delta,
		Completion: completion,
	}
}

var _ Event = &EventPartialCompletion{}

type EventFinal struct {
	EventImpl
	Text string `json:"text"`
}

func NewFinalEvent(metadata EventMetadata, text string) *EventFinal {
	return &EventFinal{
		EventImpl: EventImpl{
			Type_:     EventTypeFinal,
			Metadata_: metadata,
		},
		Text: text,
	}
}

var _ Event = &EventFinal{}

type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
}

func NewErrorEvent(metadata EventMetadata, err error) *EventError {
	return &EventError{
		EventImpl: EventImpl{
			Type_:     EventTypeError,
			Metadata_: metadata,
		},
		ErrorString: err.Error(),
	}
}

var _ Event = &EventError{}

type EventInterrupt struct {
	EventImpl
	Text string `json:"text"`
}

func NewInterruptEvent(metadata EventMetadata, text string) *EventInterrupt {
	return &EventInterrupt{
		EventImpl: EventImpl{
			Type_:     EventTypeInterrupt,
			Metadata_: metadata,
		},
		Text: text,
	}
}

var _ Event = &EventInterrupt{}

func ToTypedEvent[T any](e Event) (*T, bool) {
	var ret *T
	err := json.Unmarshal(e.Payload(), &ret)
	if err != nil {
		return nil, false
	}

	return ret, true
}

func NewEventFromJson(b []byte) (Event, error) {
	var e *EventImpl
	err := json.Unmarshal(b, &e)
	if err != nil {
		return nil, err
	}

	e.payload = b

	switch e.Type_ {
	case EventTypeStart:
		ret, ok := ToTypedEvent[EventPartialCompletionStart](e)
		if !ok {
			return nil, fmt.Errorf("could not cast event to EventPartialCompletionStart")
		}
		ret.payload = b
		return ret, nil
	case EventTypePartialCompletion:
		ret, ok := ToTypedEvent[EventPartialCompletion](e)
		if !ok {
			return nil, fmt.Errorf("could not cast event to EventPartialCompletion")
		}
		ret.payload = b
		return ret, nil
	case EventTypeFinal:
		ret, ok := ToTypedEvent[EventFinal](e)
		if !ok {
			return nil, fmt.Errorf("could not cast event to EventFinal")
		}
		ret.payload = b
		return ret, nil
	case EventTypeError:
		ret, ok := ToTypedEvent[EventError](e)
		if !ok {
			return nil, fmt.Errorf("could not cast event to EventError")
		}
		ret.payload = b
		return ret, nil
	case EventTypeInterrupt:
		ret, ok := ToTypedEvent[EventInterrupt](e)
		if !ok {
			return nil, fmt.Errorf("could not cast event to EventInterrupt")
		}
		ret.payload = b
		return ret, nil
	}

	return e, nil
}

package events

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"
)

// EventRouter wires an in-process gochannel pub/sub together with a watermill
// router, so that handlers can subscribe to chat event topics.
type EventRouter struct {
	logger     watermill.LoggerAdapter
	Publisher  message.Publisher
	Subscriber message.Subscriber
	router     *message.Router
}

type EventRouterOption func(*EventRouter)

func WithLogger(logger watermill.LoggerAdapter) EventRouterOption {
	return func(r *EventRouter) {
		r.logger = logger
	}
}

func WithVerbose(verbose bool) EventRouterOption {
	return func(r *EventRouter) {
		if verbose {
			r.logger = NewWatermillLogger(log.Logger)
		}
	}
}

func NewEventRouter(options ...EventRouterOption) (*EventRouter, error) {
	ret := &EventRouter{
		logger: watermill.NopLogger{},
	}

	for _, o := range options {
		o(ret)
	}

	goPubSub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, ret.logger)
	ret.Publisher = goPubSub
	ret.Subscriber = goPubSub

	router, err := message.NewRouter(message.RouterConfig{}, ret.logger)
	if err != nil {
		return nil, err
	}

	ret.router = router

	return ret, nil
}

func (e *EventRouter) Close() error {
	log.Debug().Msg("Closing publisher")
	err := e.Publisher.Close()
	if err != nil {
		log.Error().Err(err).Msg("Failed to close pubsub")
		// not returning just yet
	}

	log.Debug().Msg("Closing router")
	err = e.router.Close()
	if err != nil {
		log.Error().Err(err).Msg("Failed to close router")
	}

	return nil
}

func (e *EventRouter) AddHandler(name string, topic string, f func(msg *message.Message) error) {
	e.router.AddNoPublisherHandler(name, topic, e.Subscriber, f)
}

// Running returns a channel that is closed once the router is up and handlers
// receive messages.
func (e *EventRouter) Running() chan struct{} {
	return e.router.Running()
}

func (e *EventRouter) Run(ctx context.Context) error {
	return e.router.Run(ctx)
}

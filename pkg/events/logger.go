package events

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// watermillZerologAdapter bridges watermill's logging interface to zerolog.
type watermillZerologAdapter struct {
	logger zerolog.Logger
}

func NewWatermillLogger(logger zerolog.Logger) watermill.LoggerAdapter {
	return &watermillZerologAdapter{logger: logger}
}

func (w *watermillZerologAdapter) Error(msg string, err error, fields watermill.LogFields) {
	w.logger.Error().Fields(map[string]interface{}(fields)).Err(err).Msg(msg)
}

// Info maps to Debug because watermill is chatty at info level.
func (w *watermillZerologAdapter) Info(msg string, fields watermill.LogFields) {
	w.logger.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w *watermillZerologAdapter) Debug(msg string, fields watermill.LogFields) {
	w.logger.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w *watermillZerologAdapter) Trace(msg string, fields watermill.LogFields) {
	w.logger.Trace().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w *watermillZerologAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	l := w.logger.With().Fields(map[string]interface{}(fields)).Logger()
	return &watermillZerologAdapter{logger: l}
}

var _ watermill.LoggerAdapter = &watermillZerologAdapter{}

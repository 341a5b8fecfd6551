package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/barunsh91/mychatbot/pkg/conversation"
	"github.com/barunsh91/mychatbot/pkg/events"
	"github.com/barunsh91/mychatbot/pkg/gemini/api"
)

// dataPrefix tags the lines of the SSE stream that carry an event payload.
const dataPrefix = "data:"

const defaultChunkSize = 4096

// StreamDecoder consumes one streamed response and drives the conversation
// store: every text fragment it extracts is appended to a single assistant
// message, created lazily on the first fragment. Progress is published to the
// configured event sinks.
type StreamDecoder struct {
	manager   conversation.Manager
	sinks     []events.EventSink
	metadata  events.EventMetadata
	started   time.Time
	chunkSize int
}

type StreamDecoderOption func(*StreamDecoder)

func WithSink(sink events.EventSink) StreamDecoderOption {
	return func(d *StreamDecoder) {
		d.sinks = append(d.sinks, sink)
	}
}

func WithEventMetadata(metadata events.EventMetadata) StreamDecoderOption {
	return func(d *StreamDecoder) {
		d.metadata = metadata
	}
}

// WithStartTime marks when the submission was dispatched, so every published
// event carries the elapsed duration at the moment it is emitted.
func WithStartTime(started time.Time) StreamDecoderOption {
	return func(d *StreamDecoder) {
		d.started = started
	}
}

func NewStreamDecoder(manager conversation.Manager, options ...StreamDecoderOption) *StreamDecoder {
	ret := &StreamDecoder{
		manager:   manager,
		chunkSize: defaultChunkSize,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// streamState lives for the duration of one response stream.
type streamState struct {
	// remainder buffers a trailing partial line between chunks. A record can
	// be split across chunk boundaries, so lines are only processed once their
	// terminating newline has arrived.
	remainder  string
	completion strings.Builder
	messageID  *conversation.NodeID
}

// eventMetadata snapshots the metadata for one event, stamping the elapsed
// duration at emission time.
func (d *StreamDecoder) eventMetadata() events.EventMetadata {
	metadata := d.metadata
	if !d.started.IsZero() {
		ms := time.Since(d.started).Milliseconds()
		metadata.DurationMs = &ms
	}
	return metadata
}

func (d *StreamDecoder) publish(e events.Event) {
	for _, sink := range d.sinks {
		if err := sink.PublishEvent(e); err != nil {
			log.Warn().Err(err).Str("event_type", string(e.Type())).Msg("Failed to publish event")
		}
	}
}

// DecodeResponse checks the response status and then decodes the body stream.
// A non-success status or an absent body is terminal; no store update happens
// in that case.
func (d *StreamDecoder) DecodeResponse(ctx context.Context, resp *http.Response) error {
	if resp.StatusCode != http.StatusOK {
		err := api.DecodeErrorStatus(resp)
		d.publish(events.NewErrorEvent(d.eventMetadata(), err))
		return err
	}

	if resp.Body == nil {
		err := &api.TransportError{StatusCode: resp.StatusCode, Message: "response has no body"}
		d.publish(events.NewErrorEvent(d.eventMetadata(), err))
		return err
	}

	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	return d.DecodeStream(ctx, resp.Body)
}

// DecodeStream pulls chunks off r until the stream ends. Fragment text is
// committed to the store incrementally, so nothing is left to do on a clean
// end of stream beyond publishing the final event.
func (d *StreamDecoder) DecodeStream(ctx context.Context, r io.Reader) error {
	state := &streamState{}
	buf := make([]byte, d.chunkSize)

	for {
		select {
		case <-ctx.Done():
			d.publish(events.NewInterruptEvent(d.eventMetadata(), state.completion.String()))
			return ctx.Err()
		default:
		}

		n, err := r.Read(buf)
		if n > 0 {
			state.remainder += string(buf[:n])
			lines := strings.Split(state.remainder, "\n")
			state.remainder = lines[len(lines)-1]
			for _, line := range lines[:len(lines)-1] {
				d.processLine(line, state)
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				if strings.TrimSpace(state.remainder) != "" {
					d.processLine(state.remainder, state)
				}
				log.Debug().
					Int("completion_len", state.completion.Len()).
					Msg("Streaming reader finished")
				d.publish(events.NewFinalEvent(d.eventMetadata(), state.completion.String()))
				return nil
			}

			readErr := errors.Wrap(err, "failed to read response stream")
			d.publish(events.NewErrorEvent(d.eventMetadata(), readErr))
			return readErr
		}
	}
}

// processLine handles one complete line of the stream. Malformed records are
// skipped, not fatal: the stream continues with the next record.
func (d *StreamDecoder) processLine(line string, state *streamState) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	if !strings.HasPrefix(line, dataPrefix) {
		log.Trace().Str("line", line).Msg("Skipping non-data line")
		return
	}

	payload := strings.TrimSpace(line[len(dataPrefix):])
	if payload == "" {
		// keepalive
		return
	}

	var resp api.GenerateResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		log.Warn().Err(err).Int("payload_len", len(payload)).Msg("Skipping malformed data record")
		return
	}

	if resp.UsageMetadata != nil {
		d.metadata.Usage = &events.Usage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		}
	}
	if reason := resp.FinishReason(); reason != "" {
		d.metadata.StopReason = &reason
	}

	text, ok := resp.FirstCandidateText()
	if !ok {
		log.Trace().Object("response", resp).Msg("Data record carries no text fragment")
		return
	}
	if text == "" {
		return
	}

	if state.messageID == nil {
		id := conversation.NewNodeID()
		state.messageID = &id
		d.publish(events.NewStartEvent(d.eventMetadata()))
	}

	d.manager.AppendAssistantFragment(*state.messageID, text)
	state.completion.WriteString(text)
	d.publish(events.NewPartialCompletionEvent(d.eventMetadata(), text, state.completion.String()))
}

package session

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/barunsh91/mychatbot/pkg/conversation"
	"github.com/barunsh91/mychatbot/pkg/documents"
	"github.com/barunsh91/mychatbot/pkg/events"
	"github.com/barunsh91/mychatbot/pkg/gemini"
	"github.com/barunsh91/mychatbot/pkg/gemini/api"
)

type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
)

var (
	// ErrBusy is returned when a submission is already in flight. The call is
	// a no-op: nothing is queued and the store is untouched.
	ErrBusy = errors.New("a submission is already in flight")

	// ErrEmptySubmission is returned when there is neither typed text nor an
	// attached document.
	ErrEmptySubmission = errors.New("nothing to submit")

	// ErrNoExtractor is returned when a submission carries an attachment but no
	// extractor is configured.
	ErrNoExtractor = errors.New("no document extractor configured")
)

// AttachmentError reports a failure to prepare the attached document for
// submission. Nothing was dispatched, nothing is on the event stream and the
// store is untouched, so the same submission can be retried.
type AttachmentError struct {
	Name  string
	cause error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("failed to extract text from %s: %v", e.Name, e.cause)
}

func (e *AttachmentError) Unwrap() error {
	return e.cause
}

// Attachment is the optional document of one pending submission.
type Attachment struct {
	Name     string
	MimeType string
	Payload  []byte
}

// Transport dispatches a composed request and returns a streamed response.
type Transport interface {
	StreamGenerateContent(ctx context.Context, payload *api.GenerateRequest) (*http.Response, error)
}

// Controller sequences one submission at a time through extraction,
// composition, dispatch and stream decoding. It is the only writer of the
// conversation store, which is what lets the store itself stay lock-free.
type Controller struct {
	manager   conversation.Manager
	transport Transport
	extractor documents.Extractor
	sinks     []events.EventSink
	sessionID string
	model     string

	mu      sync.Mutex
	state   State
	lastErr error
}

type ControllerOption func(*Controller)

func WithExtractor(extractor documents.Extractor) ControllerOption {
	return func(c *Controller) {
		c.extractor = extractor
	}
}

func WithSink(sink events.EventSink) ControllerOption {
	return func(c *Controller) {
		c.sinks = append(c.sinks, sink)
	}
}

func WithSessionID(sessionID string) ControllerOption {
	return func(c *Controller) {
		c.sessionID = sessionID
	}
}

func WithModel(model string) ControllerOption {
	return func(c *Controller) {
		c.model = model
	}
}

func NewController(manager conversation.Manager, transport Transport, options ...ControllerOption) *Controller {
	ret := &Controller{
		manager:   manager,
		transport: transport,
		state:     StateIdle,
	}
	for _, option := range options {
		option(ret)
	}
	if ret.sessionID == "" {
		ret.sessionID = uuid.NewString()
	}
	return ret
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error of the most recent submission, nil after a success.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Controller) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err
}

// begin transitions idle -> submitting. Concurrent submissions are rejected,
// not queued.
func (c *Controller) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return ErrBusy
	}
	c.state = StateSubmitting
	c.lastErr = nil
	return nil
}

func (c *Controller) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateIdle
}

// Submit runs one full submission cycle: validate, extract, append the user
// message, compose, dispatch, decode. On any failure after the user message
// was appended, a terminal assistant message describing the failure is
// appended so the conversation log stays self-explanatory.
func (c *Controller) Submit(ctx context.Context, typedText string, attachment *Attachment) error {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.finish()

	if strings.TrimSpace(typedText) == "" && attachment == nil {
		c.setErr(ErrEmptySubmission)
		return ErrEmptySubmission
	}

	userText, err := c.resolveUserText(ctx, typedText, attachment)
	if err != nil {
		// Extraction failed before any message was created; the store stays
		// untouched so the user can retry the same submission.
		c.setErr(err)
		return err
	}

	snapshot := c.manager.GetConversation()
	c.manager.AppendMessages(conversation.NewMessage(conversation.RoleUser, userText))

	payload, err := gemini.BuildGenerateRequest(snapshot, userText)
	if err != nil {
		return c.fail(err)
	}

	log.Debug().
		Str("session_id", c.sessionID).
		Int("history_len", len(payload.Contents)).
		Bool("has_attachment", attachment != nil).
		Msg("Dispatching submission")

	started := time.Now()
	resp, err := c.transport.StreamGenerateContent(ctx, payload)
	if err != nil {
		return c.fail(err)
	}

	decoder := gemini.NewStreamDecoder(c.manager, c.decoderOptions(started)...)
	if err := decoder.DecodeResponse(ctx, resp); err != nil {
		return c.failQuiet(err)
	}

	return nil
}

func (c *Controller) decoderOptions(started time.Time) []gemini.StreamDecoderOption {
	metadata := events.EventMetadata{
		ID:        uuid.New(),
		SessionID: c.sessionID,
		Model:     c.model,
	}

	ret := []gemini.StreamDecoderOption{
		gemini.WithEventMetadata(metadata),
		gemini.WithStartTime(started),
	}
	for _, sink := range c.sinks {
		ret = append(ret, gemini.WithSink(sink))
	}
	return ret
}

func (c *Controller) resolveUserText(ctx context.Context, typedText string, attachment *Attachment) (string, error) {
	if attachment == nil {
		return typedText, nil
	}
	if c.extractor == nil {
		return "", &AttachmentError{Name: attachment.Name, cause: ErrNoExtractor}
	}

	extraction, err := c.extractor.Extract(ctx, attachment.Payload, attachment.Name, attachment.MimeType)
	if err != nil {
		return "", &AttachmentError{Name: attachment.Name, cause: err}
	}

	return gemini.FormatUserText(typedText, extraction.Name, extraction.Text), nil
}

// fail records err, publishes it, and appends the terminal assistant message.
func (c *Controller) fail(err error) error {
	c.publishError(err)
	return c.failQuiet(err)
}

// failQuiet is fail without the event publication, for stages where the
// decoder has already published the error itself.
func (c *Controller) failQuiet(err error) error {
	log.Error().Err(err).Str("session_id", c.sessionID).Msg("Submission failed")
	c.manager.AppendMessages(conversation.NewMessage(
		conversation.RoleAssistant,
		fmt.Sprintf("Something went wrong: %s", err.Error()),
	))
	c.setErr(err)
	return err
}

func (c *Controller) publishError(err error) {
	metadata := events.EventMetadata{
		ID:        uuid.New(),
		SessionID: c.sessionID,
		Model:     c.model,
	}
	for _, sink := range c.sinks {
		if publishErr := sink.PublishEvent(events.NewErrorEvent(metadata, err)); publishErr != nil {
			log.Warn().Err(publishErr).Msg("Failed to publish error event")
		}
	}
}

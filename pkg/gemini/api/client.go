package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel   = "gemini-2.0-flash"
)

// TransportError reports a non-success response from the API, before any
// stream bytes were consumed.
type TransportError struct {
	StatusCode int
	Message    string
}

func (e *TransportError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("remote service error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("remote service error (status %d)", e.StatusCode)
}

// Client talks to the generative language API.
type Client struct {
	httpClient *http.Client
	apiKey     string
	BaseURL    string
	Model      string
	allowHTTP  bool
}

type ClientOption func(*Client)

func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.BaseURL = baseURL
	}
}

func WithModel(model string) ClientOption {
	return func(c *Client) {
		c.Model = model
	}
}

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithAllowHTTP permits plain-HTTP endpoints, for local test servers.
func WithAllowHTTP(allow bool) ClientOption {
	return func(c *Client) {
		c.allowHTTP = allow
	}
}

func NewClient(apiKey string, options ...ClientOption) *Client {
	ret := &Client{
		httpClient: &http.Client{},
		apiKey:     apiKey,
		BaseURL:    DefaultBaseURL,
		Model:      DefaultModel,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// validateEndpoint rejects endpoint URLs the client should never talk to:
// non-HTTP schemes, empty hosts, and plain HTTP unless explicitly allowed.
func (c *Client) validateEndpoint() error {
	parsed, err := url.Parse(c.BaseURL)
	if err != nil {
		return errors.Wrap(err, "invalid base URL")
	}

	switch parsed.Scheme {
	case "https":
	case "http":
		if !c.allowHTTP {
			return errors.New("http scheme is not allowed for the remote endpoint")
		}
	default:
		return errors.Errorf("unsupported URL scheme %q", parsed.Scheme)
	}

	if parsed.Hostname() == "" {
		return errors.New("endpoint URL host is required")
	}

	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("x-goog-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
}

func (c *Client) newRequest(ctx context.Context, endpoint string, payload *GenerateRequest) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	return req, nil
}

// DecodeErrorStatus turns a non-success response into a TransportError,
// carrying the remote-reported message when the error envelope decodes, and a
// generic status-based message otherwise. It consumes and closes the body.
func DecodeErrorStatus(resp *http.Response) error {
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	ret := &TransportError{StatusCode: resp.StatusCode}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ret
	}

	var errorResp ErrorResponse
	if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Message != "" {
		ret.Message = errorResp.Error.Message
	}

	return ret
}

// GenerateContent sends a non-streaming completion request.
func (c *Client) GenerateContent(ctx context.Context, payload *GenerateRequest) (*GenerateResponse, error) {
	if err := c.validateEndpoint(); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.BaseURL, c.Model)
	req, err := c.newRequest(ctx, endpoint, payload)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, DecodeErrorStatus(resp)
	}

	var ret GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&ret); err != nil {
		return nil, errors.Wrap(err, "failed to decode response")
	}

	return &ret, nil
}

// StreamGenerateContent sends a streaming completion request and returns the
// raw response. The body is an SSE stream of newline-delimited `data:`
// records; the caller owns closing it. A non-success status is decoded into a
// TransportError here, so a returned response always has status 200 and an
// open body.
func (c *Client) StreamGenerateContent(ctx context.Context, payload *GenerateRequest) (*http.Response, error) {
	if err := c.validateEndpoint(); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", c.BaseURL, c.Model)
	req, err := c.newRequest(ctx, endpoint, payload)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to dispatch streaming request")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, DecodeErrorStatus(resp)
	}

	return resp, nil
}

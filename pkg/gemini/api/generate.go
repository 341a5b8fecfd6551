package api

import (
	"github.com/rs/zerolog"
)

// Role is the wire-level author of a content entry. The generateContent API
// only knows "user" and "model".
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

type Part struct {
	Text string `json:"text,omitempty"`
}

type Content struct {
	Role  Role   `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

type GenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

// GenerateRequest is the payload for generateContent and
// streamGenerateContent. It is rebuilt from scratch for every submission and
// never mutated afterwards.
type GenerateRequest struct {
	Contents         []Content         `json:"contents"`
	GenerationConfig *GenerationConfig `json:"generationConfig,omitempty"`
}

type Candidate struct {
	Content      *Content `json:"content,omitempty"`
	FinishReason string   `json:"finishReason,omitempty"`
	Index        int      `json:"index,omitempty"`
}

type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount int `json:"candidatesTokenCount,omitempty"`
	TotalTokenCount      int `json:"totalTokenCount,omitempty"`
}

// GenerateResponse is one response object. In streaming mode each data record
// carries one of these, with a single text fragment (or none, for
// metadata-only records).
type GenerateResponse struct {
	Candidates    []Candidate    `json:"candidates,omitempty"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion  string         `json:"modelVersion,omitempty"`
}

// FirstCandidateText walks candidates[0].content.parts[0].text. It fails
// closed: any missing step of the path yields ok == false instead of a panic,
// so metadata-only records are simply skipped by callers.
func (r *GenerateResponse) FirstCandidateText() (string, bool) {
	if r == nil || len(r.Candidates) == 0 {
		return "", false
	}
	content := r.Candidates[0].Content
	if content == nil || len(content.Parts) == 0 {
		return "", false
	}
	return content.Parts[0].Text, true
}

// FinishReason returns the finish reason of the first candidate, if any.
func (r *GenerateResponse) FinishReason() string {
	if r == nil || len(r.Candidates) == 0 {
		return ""
	}
	return r.Candidates[0].FinishReason
}

func (r GenerateResponse) MarshalZerologObject(e *zerolog.Event) {
	e.Int("candidates", len(r.Candidates))
	if text, ok := r.FirstCandidateText(); ok {
		e.Int("text_len", len(text))
	}
	if reason := r.FinishReason(); reason != "" {
		e.Str("finish_reason", reason)
	}
	if r.UsageMetadata != nil {
		e.Int("prompt_tokens", r.UsageMetadata.PromptTokenCount)
		e.Int("candidate_tokens", r.UsageMetadata.CandidatesTokenCount)
	}
}

// ErrorResponse is the API's error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

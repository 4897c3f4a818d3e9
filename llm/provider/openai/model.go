// Package openai adapts runs onto the OpenAI Responses API.
package openai

import (
	"encoding/json"

	"github.com/contestra/ai-ranker/llm"
)

// Request is the subset of the Responses API creation payload this adapter
// sends. Reference: github.com/openai/openai-go/v2/responses.ResponseNewParams.
type Request struct {
	Model string `json:"model"`

	// A system (or developer) message inserted into the model's context.
	Instructions string `json:"instructions,omitempty"`

	// Input is always an array of input items here, never a bare string.
	Input []Item `json:"input"`

	Tools []Tool `json:"tools,omitempty"`

	// ToolChoice is "auto" or "required".
	ToolChoice string `json:"tool_choice,omitempty"`

	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"top_p,omitempty"`
	MaxOutputTokens *int64   `json:"max_output_tokens,omitempty"`

	// Configuration options for reasoning models.
	Reasoning *Reasoning `json:"reasoning,omitempty"`

	Text *TextOptions `json:"text,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

type Tool struct {
	Type string `json:"type"`
}

const ToolTypeWebSearch = "web_search"

type Reasoning struct {
	// Constrains effort on reasoning. Any of "minimal", "low", "medium", "high".
	Effort string `json:"effort,omitempty"`
}

type TextOptions struct {
	Format *TextFormat `json:"format,omitempty"`
}

type TextFormat struct {
	// The type of the format. Any of "text", "json_object", "json_schema".
	Type string `json:"type,omitempty"`

	Name   string          `json:"name,omitempty"`
	Schema json.RawMessage `json:"schema,omitempty"`
	Strict *bool           `json:"strict,omitempty"`
}

// Item is a single input or output entry. Output items reuse the shape, with
// web_search_call items carrying an Action.
type Item struct {
	ID     string `json:"id,omitempty"`
	Type   string `json:"type,omitempty"`
	Role   string `json:"role,omitempty"`
	Status string `json:"status,omitempty"`

	Content []ContentItem `json:"content,omitempty"`

	// This field is for web_search_call items.
	Action *SearchAction `json:"action,omitempty"`
}

const (
	ItemTypeMessage       = "message"
	ItemTypeWebSearchCall = "web_search_call"
)

type ContentItem struct {
	Type        string       `json:"type"`
	Text        string       `json:"text,omitempty"`
	Annotations []Annotation `json:"annotations,omitempty"`
}

const (
	ContentTypeInputText  = "input_text"
	ContentTypeOutputText = "output_text"
)

type Annotation struct {
	Type  string `json:"type"`
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
}

type SearchAction struct {
	Type  string `json:"type,omitempty"`
	Query string `json:"query,omitempty"`
}

type Response struct {
	ID     string `json:"id"`
	Model  string `json:"model"`
	Status string `json:"status,omitempty"`

	Output []Item `json:"output"`

	IncompleteDetails *IncompleteDetails `json:"incomplete_details,omitempty"`

	Usage *Usage `json:"usage,omitempty"`

	SystemFingerprint string `json:"system_fingerprint,omitempty"`

	Error *ResponseError `json:"error,omitempty"`
}

const (
	StatusCompleted  = "completed"
	StatusIncomplete = "incomplete"

	IncompleteReasonMaxOutputTokens = "max_output_tokens"
)

type IncompleteDetails struct {
	Reason string `json:"reason"`
}

type ResponseError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// MessageText concatenates the output_text content of all message items.
func (r *Response) MessageText() string {
	var out string

	for _, item := range r.Output {
		if item.Type != ItemTypeMessage {
			continue
		}

		for _, content := range item.Content {
			if content.Type == ContentTypeOutputText {
				out += content.Text
			}
		}
	}

	return out
}

// Starved reports whether the response ran out of output budget before
// producing a message.
func (r *Response) Starved() bool {
	return r.Status == StatusIncomplete &&
		r.IncompleteDetails != nil &&
		r.IncompleteDetails.Reason == IncompleteReasonMaxOutputTokens &&
		r.MessageText() == ""
}

type Usage struct {
	InputTokens       int64 `json:"input_tokens"`
	InputTokenDetails struct {
		CachedTokens int64 `json:"cached_tokens"`
	} `json:"input_tokens_details"`
	OutputTokens       int64 `json:"output_tokens"`
	OutputTokenDetails struct {
		ReasoningTokens int64 `json:"reasoning_tokens"`
	} `json:"output_tokens_details"`
	TotalTokens int64 `json:"total_tokens"`
}

func (u *Usage) ToUsage() map[string]int64 {
	if u == nil {
		return nil
	}

	total := u.TotalTokens
	if total == 0 {
		total = u.InputTokens + u.OutputTokens
	}

	return map[string]int64{
		llm.UsageInputTokens:     u.InputTokens,
		llm.UsageOutputTokens:    u.OutputTokens,
		llm.UsageTotalTokens:     total,
		llm.UsageReasoningTokens: u.OutputTokenDetails.ReasoningTokens,
	}
}

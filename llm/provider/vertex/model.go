// Package vertex adapts runs onto Gemini models served by Vertex AI, with an
// optional direct Generative Language API backend.
package vertex

import (
	"encoding/json"

	"github.com/contestra/ai-ranker/llm"
)

// GenerateContentRequest is the subset of the Gemini generateContent payload
// this adapter sends.
type GenerateContentRequest struct {
	Contents []*Content `json:"contents"`

	// SystemInstruction carries developer-set system instructions, text only.
	SystemInstruction *Content `json:"systemInstruction,omitempty"`

	Tools []*Tool `json:"tools,omitempty"`

	GenerationConfig *GenerationConfig `json:"generationConfig,omitempty"`
}

type Content struct {
	Parts []*Part `json:"parts,omitempty"`

	// Role is either "user" or "model".
	Role string `json:"role,omitempty"`
}

type Part struct {
	Text string `json:"text,omitempty"`

	// Thought indicates the part is a reasoning trace, not answer text.
	Thought bool `json:"thought,omitempty"`
}

type Tool struct {
	GoogleSearch *GoogleSearch `json:"googleSearch,omitempty"`
}

// GoogleSearch is the built-in search retrieval tool.
type GoogleSearch struct{}

type GenerationConfig struct {
	// ResponseMIMEType is the MIME type of the generated candidate text.
	ResponseMIMEType string `json:"responseMimeType,omitempty"`

	// ResponseSchema is an OpenAPI-style schema, only valid with
	// application/json output and never together with tools.
	ResponseSchema *Schema `json:"responseSchema,omitempty"`

	MaxOutputTokens int64 `json:"maxOutputTokens,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"`

	TopP *float64 `json:"topP,omitempty"`

	Seed *int64 `json:"seed,omitempty"`
}

// Schema is the OpenAPI-flavored schema dialect Gemini accepts in
// responseSchema. Types are uppercase.
type Schema struct {
	Type        string             `json:"type,omitempty"`
	Format      string             `json:"format,omitempty"`
	Description string             `json:"description,omitempty"`
	Nullable    bool               `json:"nullable,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

type GenerateContentResponse struct {
	Candidates []*Candidate `json:"candidates,omitempty"`

	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`

	ModelVersion string `json:"modelVersion,omitempty"`

	ResponseID string `json:"responseId,omitempty"`
}

type Candidate struct {
	Content *Content `json:"content,omitempty"`

	FinishReason string `json:"finishReason,omitempty"`

	// GroundingMetadata is kept raw; the evidence extractor is the only
	// reader and tolerates several shapes.
	GroundingMetadata json.RawMessage `json:"groundingMetadata,omitempty"`
}

const FinishReasonMaxTokens = "MAX_TOKENS"

// Text concatenates the non-thought text parts of the candidate.
func (c *Candidate) Text() string {
	if c == nil || c.Content == nil {
		return ""
	}

	var out string

	for _, part := range c.Content.Parts {
		if part == nil || part.Thought {
			continue
		}

		out += part.Text
	}

	return out
}

type UsageMetadata struct {
	PromptTokenCount     int64 `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount int64 `json:"candidatesTokenCount,omitempty"`
	TotalTokenCount      int64 `json:"totalTokenCount,omitempty"`
	ThoughtsTokenCount   int64 `json:"thoughtsTokenCount,omitempty"`
}

func (u *UsageMetadata) ToUsage() map[string]int64 {
	if u == nil {
		return nil
	}

	total := u.TotalTokenCount
	if total == 0 {
		total = u.PromptTokenCount + u.CandidatesTokenCount
	}

	return map[string]int64{
		llm.UsageInputTokens:     u.PromptTokenCount,
		llm.UsageOutputTokens:    u.CandidatesTokenCount,
		llm.UsageTotalTokens:     total,
		llm.UsageReasoningTokens: u.ThoughtsTokenCount,
	}
}

type GeminiError struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Package llm defines the provider-agnostic run contract: RunRequest in,
// RunResult out, with grounding enforcement and citation guarantees that hold
// across providers.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Provider identifies a provider adapter.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderVertex Provider = "vertex"
)

// ResolveProvider maps a caller-supplied provider key to a canonical Provider.
// The aliases "google" and "gemini" resolve to vertex.
func ResolveProvider(s string) (Provider, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openai":
		return ProviderOpenAI, true
	case "vertex", "google", "gemini":
		return ProviderVertex, true
	default:
		return "", false
	}
}

// GroundingMode controls whether web grounding is forbidden, allowed, or mandatory.
type GroundingMode string

const (
	GroundingOff       GroundingMode = "OFF"
	GroundingPreferred GroundingMode = "PREFERRED"
	GroundingRequired  GroundingMode = "REQUIRED"
)

func (m GroundingMode) Valid() bool {
	switch m {
	case GroundingOff, GroundingPreferred, GroundingRequired:
		return true
	default:
		return false
	}
}

func (m *GroundingMode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	mode := GroundingMode(strings.ToUpper(s))
	if !mode.Valid() {
		return fmt.Errorf("invalid grounding mode %q", s)
	}

	*m = mode

	return nil
}

// SchemaSpec is a JSON-Schema descriptor for structured output.
type SchemaSpec struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
	Strict bool            `json:"strict"`
}

// RunRequest is the immutable input of a single model run. The orchestrator
// may mutate a shallow copy when applying capability-driven coercions; the
// caller's value is never modified.
type RunRequest struct {
	// RunID is a caller-chosen unique identifier.
	RunID string `json:"run_id"`

	// ClientID is the tenant identifier for logging and tracing.
	ClientID string `json:"client_id,omitempty"`

	// Provider is one of "openai", "vertex"; aliases "google" and "gemini"
	// resolve to vertex.
	Provider string `json:"provider"`

	// ModelName is the provider-native model identifier; may be a publisher
	// path for Vertex.
	ModelName string `json:"model_name"`

	// Region is the optional Vertex region.
	Region string `json:"region,omitempty"`

	GroundingMode GroundingMode `json:"grounding_mode"`

	// SystemText holds optional system instructions.
	SystemText string `json:"system_text,omitempty"`

	// ALSBlock carries ambient locale signals, at most MaxALSLength
	// characters. It is delivered as a separate context turn before the user
	// prompt, never concatenated into it.
	ALSBlock string `json:"als_block,omitempty"`

	// UserPrompt is the naked user prompt; transmitted verbatim except when a
	// declared provoker is appended.
	UserPrompt string `json:"user_prompt"`

	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Seed        *int64   `json:"seed,omitempty"`

	Schema *SchemaSpec `json:"schema,omitempty"`

	// AllowEquivFallback is only consulted when GroundingMode is PREFERRED.
	AllowEquivFallback bool `json:"allow_equiv_fallback,omitempty"`

	// TimeoutSeconds bounds the total wall clock of the run including
	// in-adapter retries. Zero means DefaultTimeoutSeconds.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// Clone returns a shallow copy the adapters are free to mutate.
func (r *RunRequest) Clone() *RunRequest {
	cp := *r
	return &cp
}

// Citation is a normalized web citation. Source is "web_search" for
// provider-evidenced retrieval.
type Citation struct {
	URI    string `json:"uri"`
	Title  string `json:"title"`
	Source string `json:"source"`
}

const CitationSourceWebSearch = "web_search"

// ResultError is a soft failure embedded in a RunResult instead of raised.
type ResultError struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message,omitempty"`
}

// RunResult is the uniform output of a run.
type RunResult struct {
	RunID     string `json:"run_id"`
	Provider  string `json:"provider"`
	ModelName string `json:"model_name"`
	Region    string `json:"region,omitempty"`

	// GroundedEffective reports whether the provider actually performed web
	// retrieval during this call, derived exclusively from response evidence.
	GroundedEffective bool `json:"grounded_effective"`

	// ToolCallCount is the number of web-search invocations evidenced.
	ToolCallCount int `json:"tool_call_count"`

	// Citations is always a list of citation records, never strings.
	Citations []Citation `json:"citations"`

	// JSONText is the raw textual output.
	JSONText string `json:"json_text"`

	// JSONObj is the parsed object when a schema applies, or a wrapper
	// {"response": text} when grounding forced plain text.
	JSONObj any `json:"json_obj,omitempty"`

	// JSONValid is true only if parsing succeeded and, when applicable, the
	// output validated against the requested schema.
	JSONValid bool `json:"json_valid"`

	LatencyMS         int64            `json:"latency_ms"`
	SystemFingerprint string           `json:"system_fingerprint,omitempty"`
	Usage             map[string]int64 `json:"usage,omitempty"`

	Error *ResultError `json:"error,omitempty"`

	// Meta carries adapter-specific diagnostics: tool choice sent,
	// enforcement mode, reasoning effort, schema-applied flag, budget used,
	// retry counts.
	Meta map[string]any `json:"meta,omitempty"`
}

// Flat usage keys.
const (
	UsageInputTokens     = "input_tokens"
	UsageOutputTokens    = "output_tokens"
	UsageTotalTokens     = "total_tokens"
	UsageReasoningTokens = "reasoning_tokens"
)

// Meta keys shared across adapters.
const (
	MetaToolChoice           = "tool_choice"
	MetaEnforcementMode      = "enforcement_mode"
	MetaReasoningEffort      = "reasoning_effort"
	MetaSchemaApplied        = "schema_applied"
	MetaEffectiveTemperature = "effective_temperature"
	MetaEffectiveTopP        = "effective_top_p"
	MetaMaxOutputTokens      = "max_output_tokens"
	MetaProvokerHash         = "provoker_hash"
	MetaRetryCount           = "retry_count"
	MetaBudgetRetry          = "budget_retry"
	MetaALSPresent           = "als_present"
	MetaALSShape             = "als_shape"
	MetaResponseAPI          = "response_api"
	MetaWebToolType          = "web_tool_type"
	MetaGroundingModeSent    = "grounding_mode_requested"
)

// Enforcement modes recorded in Meta.
const (
	EnforcementHard = "hard"
	EnforcementSoft = "soft"
	EnforcementNone = "none"
)

const DefaultTimeoutSeconds = 60

// Adapter fulfills RunRequests against one provider family.
type Adapter interface {
	Provider() Provider
	SupportedModels() []string
	Run(ctx context.Context, req *RunRequest) (*RunResult, error)
}

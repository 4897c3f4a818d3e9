package llm

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/contestra/ai-ranker/internal/pkg/xjson"
)

// ValidateRequest checks a RunRequest without touching the network. Failures
// are *Error of kind invalid_request (or unknown_provider) with a
// human-readable reason.
func ValidateRequest(req *RunRequest) error {
	if req == nil {
		return invalid("", "request is nil")
	}

	provider, ok := ResolveProvider(req.Provider)
	if !ok {
		return &Error{
			Kind:    KindUnknownProvider,
			Model:   req.ModelName,
			Message: fmt.Sprintf("unknown provider %q", req.Provider),
		}
	}

	if req.RunID == "" {
		return invalid(provider, "run_id is required")
	}

	if req.ModelName == "" {
		return invalid(provider, "model_name is required")
	}

	if req.UserPrompt == "" {
		return invalid(provider, "user_prompt is required")
	}

	if req.GroundingMode != "" && !req.GroundingMode.Valid() {
		return invalid(provider, fmt.Sprintf("invalid grounding_mode %q", req.GroundingMode))
	}

	if n := utf8.RuneCountInString(req.ALSBlock); n > MaxALSLength {
		return invalid(provider, fmt.Sprintf("als_block is %d characters, maximum is %d", n, MaxALSLength))
	}

	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return invalid(provider, fmt.Sprintf("temperature %v out of range [0, 2]", *req.Temperature))
	}

	if req.TopP != nil && (*req.TopP < 0 || *req.TopP > 1) {
		return invalid(provider, fmt.Sprintf("top_p %v out of range [0, 1]", *req.TopP))
	}

	if req.TimeoutSeconds < 0 {
		return invalid(provider, "timeout_seconds must not be negative")
	}

	if req.Schema != nil {
		if err := validateSchema(req.Schema); err != nil {
			return invalid(provider, err.Error())
		}
	}

	return nil
}

func validateSchema(spec *SchemaSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("schema name is required")
	}

	if spec.Strict && xjson.IsNull(spec.Schema) {
		return fmt.Errorf("strict schema requires a schema object")
	}

	if xjson.IsNull(spec.Schema) {
		return nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(spec.Schema, &probe); err != nil {
		return fmt.Errorf("schema must be a JSON object: %w", err)
	}

	var js jsonschema.Schema
	if err := json.Unmarshal(spec.Schema, &js); err != nil {
		return fmt.Errorf("schema is not a valid JSON Schema: %w", err)
	}

	return nil
}

func invalid(provider Provider, msg string) *Error {
	return &Error{
		Kind:     KindInvalidRequest,
		Provider: provider,
		Message:  msg,
	}
}

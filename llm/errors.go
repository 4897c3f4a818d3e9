package llm

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a run failure. Raised kinds surface as *Error; embedded
// kinds appear in RunResult.Error.
type Kind string

const (
	KindInvalidRequest           Kind = "invalid_request"
	KindUnknownProvider          Kind = "unknown_provider"
	KindModelNotGroundingCapable Kind = "model_not_grounding_capable"
	KindNoToolCallInRequired     Kind = "no_tool_call_in_required"
	KindNoToolCallInSoftRequired Kind = "no_tool_call_in_soft_required"
	KindNoGroundingMetadata      Kind = "no_grounding_metadata"
	KindToolUsedInUngrounded     Kind = "tool_used_in_ungrounded"
	KindNoMessageOutput          Kind = "no_message_output"
	KindAuthRequired             Kind = "auth_required"
	KindProviderRateLimited      Kind = "provider_rate_limited"
	KindProviderTransportError   Kind = "provider_transport_error"
	KindExtractorShapeViolation  Kind = "extractor_shape_violation"

	// Embedded kinds. json_parse_failed is raised only under REQUIRED with a
	// schema applied; cancelled is never raised.
	KindJSONParseFailed Kind = "json_parse_failed"
	KindCancelled       Kind = "cancelled"
)

// Error is a classified run failure. Every raised error carries the provider,
// model, mode, tool choice sent, and enforcement mode so callers can log them
// verbatim.
type Error struct {
	Kind        Kind
	Provider    Provider
	Model       string
	Mode        GroundingMode
	ToolChoice  string
	Enforcement string
	Message     string
	Err         error
}

func (e *Error) Error() string {
	var sb strings.Builder

	sb.WriteString(string(e.Kind))

	if e.Provider != "" {
		fmt.Fprintf(&sb, " provider=%s", e.Provider)
	}

	if e.Model != "" {
		fmt.Fprintf(&sb, " model=%s", e.Model)
	}

	if e.Mode != "" {
		fmt.Fprintf(&sb, " mode=%s", e.Mode)
	}

	if e.ToolChoice != "" {
		fmt.Fprintf(&sb, " tool_choice=%s", e.ToolChoice)
	}

	if e.Enforcement != "" {
		fmt.Fprintf(&sb, " enforcement=%s", e.Enforcement)
	}

	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}

	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}

	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// KindOf returns the kind of a classified error, or "" for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return ""
}

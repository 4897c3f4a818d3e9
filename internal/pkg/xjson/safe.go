package xjson

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Repair attempts to fix almost-JSON text, such as output with trailing
// commas or unquoted keys. ok is false when no valid JSON can be recovered.
func Repair(s string) (string, bool) {
	if json.Valid([]byte(s)) {
		return s, true
	}

	repaired, err := jsonrepair.JSONRepair(s)
	if err != nil || !json.Valid([]byte(repaired)) {
		return s, false
	}

	return repaired, true
}

// StripFences removes a surrounding markdown code fence from text, if any.
// Models asked for JSON in plain-text mode routinely wrap it in ```json fences.
func StripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		// Drop the language tag line, e.g. ```json.
		trimmed = trimmed[idx+1:]
	}

	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")

	return strings.TrimSpace(trimmed)
}

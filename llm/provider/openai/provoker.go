package openai

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// searchFirstDirective is prepended to the instructions on the soft-required
// retry. It nudges without revealing anything about the caller's locale.
const searchFirstDirective = "Before answering, use the web_search tool to verify current facts. " +
	"Answer concisely with one official citation."

// provokerText builds the retry suffix appended to the user turn when a
// soft-required run came back with no search calls. The date is stated
// literally so the model cannot treat the question as timeless.
func provokerText(now time.Time) string {
	return fmt.Sprintf(
		"\n\nAs of today (%s), include a citation to an official source with a working link.",
		now.UTC().Format("2006-01-02"),
	)
}

// provokerHash fingerprints the provoker actually sent so runs can be grouped
// by the exact nudge they received.
func provokerHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:8])
}

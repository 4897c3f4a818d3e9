// Package capability tracks what each model supports: required tool choice,
// web grounding, schema and grounding together, locked sampling parameters.
// Static defaults cover the known model families; dynamic probes refine the
// required-tool-choice answer once per model per process.
package capability

import (
	"context"
	"strings"

	gocache "github.com/patrickmn/go-cache"
	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"
)

// Capability describes what a model can do and which parameters it pins.
type Capability struct {
	// SupportsRequiredToolChoice reports whether tool_choice:"required" may be
	// sent with web_search tools.
	SupportsRequiredToolChoice bool

	// SupportsGrounding reports whether the model can perform web retrieval.
	SupportsGrounding bool

	// CanCombineSchemaAndGrounding is false for Gemini models, where
	// GoogleSearch tools and responseSchema are mutually exclusive.
	CanCombineSchemaAndGrounding bool

	// TemperatureLockedTo, when set, overrides any caller temperature.
	TemperatureLockedTo *float64

	// ReasoningRequired marks models that reject requests without a reasoning
	// block.
	ReasoningRequired bool

	DefaultMaxOutputTokens  int
	GroundedMaxOutputTokens int
}

// NormalizeModel canonicalizes a model identifier: lowercase, trimmed, with
// Vertex publisher paths reduced to the bare model name.
func NormalizeModel(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	m = strings.TrimPrefix(m, "publishers/google/models/")
	m = strings.TrimPrefix(m, "models/")

	return m
}

// Defaults returns the static capability record for a model. Unknown models
// get conservative settings: no grounding, no required tool choice.
func Defaults(model string) Capability {
	m := NormalizeModel(model)

	switch {
	case strings.HasPrefix(m, "gpt-5"):
		return Capability{
			SupportsRequiredToolChoice:   false,
			SupportsGrounding:            true,
			CanCombineSchemaAndGrounding: true,
			TemperatureLockedTo:          lo.ToPtr(1.0),
			ReasoningRequired:            true,
			DefaultMaxOutputTokens:       1024,
			GroundedMaxOutputTokens:      6000,
		}
	case strings.HasPrefix(m, "gpt-4"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return Capability{
			SupportsRequiredToolChoice:   true,
			SupportsGrounding:            true,
			CanCombineSchemaAndGrounding: true,
			DefaultMaxOutputTokens:       1024,
			GroundedMaxOutputTokens:      6000,
		}
	case strings.HasPrefix(m, "gemini-2.5-pro"),
		strings.HasPrefix(m, "gemini-2.5-flash"),
		strings.HasPrefix(m, "gemini-2.0-flash"):
		return Capability{
			SupportsRequiredToolChoice:   false,
			SupportsGrounding:            true,
			CanCombineSchemaAndGrounding: false,
			DefaultMaxOutputTokens:       2048,
			GroundedMaxOutputTokens:      6000,
		}
	case strings.HasPrefix(m, "gemini"):
		// Only the 2.x generation above is cleared for GoogleSearch grounding.
		return Capability{
			SupportsGrounding:            false,
			CanCombineSchemaAndGrounding: false,
			DefaultMaxOutputTokens:       2048,
			GroundedMaxOutputTokens:      6000,
		}
	default:
		return Capability{
			SupportsGrounding:            false,
			CanCombineSchemaAndGrounding: true,
			DefaultMaxOutputTokens:       1024,
			GroundedMaxOutputTokens:      6000,
		}
	}
}

// ProbeFunc asks the provider whether a model accepts tool_choice:"required"
// with web tools. Implementations send a minimal live request and map the
// status code: success and rate limiting mean supported, a 400 means not.
type ProbeFunc func(ctx context.Context, model string) (bool, error)

// Registry memoizes capability lookups and probe results for the lifetime of
// the process.
type Registry struct {
	probes *gocache.Cache
	group  singleflight.Group
}

func NewRegistry() *Registry {
	return &Registry{
		probes: gocache.New(gocache.NoExpiration, 0),
	}
}

// Lookup returns the capability record for a model, with any memoized probe
// result applied on top of the static defaults.
func (r *Registry) Lookup(model string) Capability {
	cap := Defaults(model)

	if v, ok := r.probes.Get(NormalizeModel(model)); ok {
		cap.SupportsRequiredToolChoice = v.(bool)
	}

	return cap
}

// ProbeRequiredToolChoice resolves whether the model accepts required tool
// choice, probing at most once per model. Concurrent callers share a single
// in-flight probe; probe errors are not cached so a later call may retry.
func (r *Registry) ProbeRequiredToolChoice(ctx context.Context, model string, probe ProbeFunc) (bool, error) {
	key := NormalizeModel(model)

	if v, ok := r.probes.Get(key); ok {
		return v.(bool), nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		if cached, ok := r.probes.Get(key); ok {
			return cached, nil
		}

		supported, err := probe(ctx, model)
		if err != nil {
			return false, err
		}

		r.probes.Set(key, supported, gocache.NoExpiration)

		return supported, nil
	})
	if err != nil {
		return false, err
	}

	return v.(bool), nil
}

// Record stores a capability fact learned outside the probe path, such as a
// 400 received on a real request.
func (r *Registry) Record(model string, supportsRequired bool) {
	r.probes.Set(NormalizeModel(model), supportsRequired, gocache.NoExpiration)
}

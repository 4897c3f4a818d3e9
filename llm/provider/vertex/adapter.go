package vertex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/contestra/ai-ranker/internal/log"
	"github.com/contestra/ai-ranker/internal/pkg/httpclient"
	"github.com/contestra/ai-ranker/internal/pkg/xjson"
	"github.com/contestra/ai-ranker/llm"
	"github.com/contestra/ai-ranker/llm/capability"
	"github.com/contestra/ai-ranker/llm/grounding"
)

const (
	DefaultLocation = "europe-west4"

	responseAPIVertex = "vertex_genai"
	responseAPIDirect = "gemini_direct"
)

// backend decides where generateContent is sent and how it authenticates.
// Vertex uses regional endpoints with OAuth bearer tokens; the direct
// Generative Language API uses a plain API key header.
type backend interface {
	name() string
	endpoint(model, region string) string
	auth() *httpclient.AuthConfig
}

type vertexBackend struct {
	project     string
	location    string
	accessToken string
	baseURL     string
}

func (b *vertexBackend) name() string { return responseAPIVertex }

func (b *vertexBackend) endpoint(model, region string) string {
	if region == "" {
		region = b.location
	}

	base := b.baseURL
	if base == "" {
		base = fmt.Sprintf("https://%s-aiplatform.googleapis.com", region)
	}

	return fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s:generateContent",
		strings.TrimSuffix(base, "/"), b.project, region, model)
}

func (b *vertexBackend) auth() *httpclient.AuthConfig {
	return &httpclient.AuthConfig{
		Type:   httpclient.AuthTypeBearer,
		APIKey: b.accessToken,
	}
}

type directBackend struct {
	apiKey  string
	baseURL string
}

func (b *directBackend) name() string { return responseAPIDirect }

func (b *directBackend) endpoint(model, _ string) string {
	base := b.baseURL
	if base == "" {
		base = "https://generativelanguage.googleapis.com"
	}

	return fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimSuffix(base, "/"), model)
}

func (b *directBackend) auth() *httpclient.AuthConfig {
	return &httpclient.AuthConfig{
		Type:      httpclient.AuthTypeAPIKey,
		HeaderKey: "x-goog-api-key",
		APIKey:    b.apiKey,
	}
}

type Config struct {
	Project     string
	Location    string
	AccessToken string

	// BaseURL overrides the regional endpoint, mainly for tests.
	BaseURL string
}

type Option func(*Adapter)

func WithHTTPClient(client *httpclient.HttpClient) Option {
	return func(a *Adapter) { a.client = client }
}

// Adapter runs requests against Gemini models with grounding and schema
// mutual exclusion handled per model capability.
type Adapter struct {
	backend  backend
	client   *httpclient.HttpClient
	registry *capability.Registry
}

var _ llm.Adapter = (*Adapter)(nil)

func NewAdapter(cfg Config, registry *capability.Registry, opts ...Option) *Adapter {
	if cfg.Location == "" {
		cfg.Location = DefaultLocation
	}

	a := &Adapter{
		backend: &vertexBackend{
			project:     cfg.Project,
			location:    cfg.Location,
			accessToken: cfg.AccessToken,
			baseURL:     cfg.BaseURL,
		},
		client:   httpclient.NewHttpClient(),
		registry: registry,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// NewDirectAdapter runs against the Generative Language API instead of
// Vertex. It is the ungrounded fallback when Vertex credentials are missing.
func NewDirectAdapter(apiKey, baseURL string, registry *capability.Registry, opts ...Option) *Adapter {
	a := &Adapter{
		backend:  &directBackend{apiKey: apiKey, baseURL: baseURL},
		client:   httpclient.NewHttpClient(),
		registry: registry,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

func (a *Adapter) Provider() llm.Provider {
	return llm.ProviderVertex
}

func (a *Adapter) SupportedModels() []string {
	return []string{"gemini-2.5-pro", "gemini-2.5-flash", "gemini-2.0-flash"}
}

type run struct {
	req           *llm.RunRequest
	model         string
	caps          capability.Capability
	grounded      bool
	schemaApplied bool
	enforcement   string
	meta          map[string]any
}

func (a *Adapter) Run(ctx context.Context, req *llm.RunRequest) (*llm.RunResult, error) {
	req = req.Clone()
	if req.GroundingMode == "" {
		req.GroundingMode = llm.GroundingOff
	}

	timeout := req.TimeoutSeconds
	if timeout <= 0 {
		timeout = llm.DefaultTimeoutSeconds
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	ctx = log.WithRunID(ctx, req.RunID)

	st := &run{
		req:         req,
		model:       capability.NormalizeModel(req.ModelName),
		caps:        a.registry.Lookup(req.ModelName),
		grounded:    req.GroundingMode != llm.GroundingOff,
		enforcement: llm.EnforcementNone,
		meta:        map[string]any{},
	}

	if st.grounded && !st.caps.SupportsGrounding {
		return nil, &llm.Error{
			Kind:     llm.KindModelNotGroundingCapable,
			Provider: llm.ProviderVertex,
			Model:    req.ModelName,
			Mode:     req.GroundingMode,
			Message:  "model cannot use GoogleSearch grounding",
		}
	}

	// Grounding metadata either exists or the run failed; there is no soft
	// variant on Gemini.
	if req.GroundingMode == llm.GroundingRequired {
		st.enforcement = llm.EnforcementHard
	}

	payload, err := a.buildPayload(st)
	if err != nil {
		return nil, a.wrap(st, err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, a.wrap(st, err)
	}

	start := time.Now()

	raw, err := a.send(ctx, st, body)
	if err != nil {
		if cancelled := cancelledResult(st, err, start); cancelled != nil {
			return cancelled, nil
		}

		return nil, a.wrap(st, err)
	}

	var resp GenerateContentResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, a.wrap(st, fmt.Errorf("decode generateContent payload: %w", err))
	}

	if len(resp.Candidates) == 0 {
		return nil, &llm.Error{
			Kind:        llm.KindNoMessageOutput,
			Provider:    llm.ProviderVertex,
			Model:       req.ModelName,
			Mode:        req.GroundingMode,
			Enforcement: st.enforcement,
			Message:     "response has no candidates",
		}
	}

	candidate := resp.Candidates[0]

	evidence, err := grounding.FromVertexCandidate([]byte(gjson.GetBytes(raw, "candidates.0").Raw))
	if err != nil {
		return nil, err
	}

	if err := a.enforce(st, evidence); err != nil {
		return nil, err
	}

	text := candidate.Text()
	if text == "" {
		// Some SDK surfaces hoist the joined text to the top level.
		text = gjson.GetBytes(raw, "text").String()
	}

	if text == "" {
		return nil, &llm.Error{
			Kind:        llm.KindNoMessageOutput,
			Provider:    llm.ProviderVertex,
			Model:       req.ModelName,
			Mode:        req.GroundingMode,
			Enforcement: st.enforcement,
			Message:     fmt.Sprintf("candidate finished with %q and no text", candidate.FinishReason),
		}
	}

	result := &llm.RunResult{
		RunID:             req.RunID,
		Provider:          string(llm.ProviderVertex),
		ModelName:         req.ModelName,
		Region:            a.region(req),
		GroundedEffective: evidence.Grounded,
		ToolCallCount:     evidence.ToolCalls,
		Citations:         evidence.Citations,
		JSONText:          text,
		LatencyMS:         time.Since(start).Milliseconds(),
		SystemFingerprint: resp.ModelVersion,
		Usage:             resp.UsageMetadata.ToUsage(),
		Meta:              st.meta,
	}

	a.parseJSON(st, result)

	return result, nil
}

func (a *Adapter) region(req *llm.RunRequest) string {
	if req.Region != "" {
		return req.Region
	}

	if vb, ok := a.backend.(*vertexBackend); ok {
		return vb.location
	}

	return ""
}

func (a *Adapter) buildPayload(st *run) (*GenerateContentRequest, error) {
	req := st.req

	payload := &GenerateContentRequest{}

	system := req.SystemText
	if req.ALSBlock != "" {
		if system == "" {
			system = llm.LocaleSystemInstruction
		} else {
			system = system + "\n\n" + llm.LocaleSystemInstruction
		}
	}

	config := &GenerationConfig{
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Seed:        req.Seed,
	}

	if st.caps.TemperatureLockedTo != nil {
		config.Temperature = st.caps.TemperatureLockedTo
	}

	config.MaxOutputTokens = int64(st.caps.DefaultMaxOutputTokens)
	if st.grounded {
		config.MaxOutputTokens = int64(st.caps.GroundedMaxOutputTokens)
	}

	switch {
	case st.grounded:
		payload.Tools = []*Tool{{GoogleSearch: &GoogleSearch{}}}
		config.ResponseMIMEType = "text/plain"

		// GoogleSearch and responseSchema are mutually exclusive, so a
		// requested schema becomes a prose instruction and a best-effort
		// parse on the way out.
		if req.Schema != nil && !st.caps.CanCombineSchemaAndGrounding {
			system = joinInstructions(system, schemaInstruction(req.Schema))
		}

		st.meta[llm.MetaWebToolType] = "google_search"
	case req.Schema != nil:
		converted, err := ConvertSchema(req.Schema.Schema)
		if err != nil {
			return nil, err
		}

		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = converted
		st.schemaApplied = true
	}

	if system != "" {
		payload.SystemInstruction = &Content{Parts: []*Part{{Text: system}}}
	}

	// The ALS block rides as a leading part of the same user turn; the
	// prompt part stays verbatim.
	parts := make([]*Part, 0, 2)
	if req.ALSBlock != "" {
		parts = append(parts, &Part{Text: req.ALSBlock})
		st.meta[llm.MetaALSShape] = llm.ALSShapePrefixedContents
	}

	parts = append(parts, &Part{Text: req.UserPrompt})

	payload.Contents = []*Content{{Role: "user", Parts: parts}}
	payload.GenerationConfig = config

	st.meta[llm.MetaResponseAPI] = a.backend.name()
	st.meta[llm.MetaGroundingModeSent] = string(req.GroundingMode)
	st.meta[llm.MetaEnforcementMode] = st.enforcement
	st.meta[llm.MetaSchemaApplied] = st.schemaApplied
	st.meta[llm.MetaMaxOutputTokens] = config.MaxOutputTokens
	st.meta[llm.MetaALSPresent] = req.ALSBlock != ""

	if config.Temperature != nil {
		st.meta[llm.MetaEffectiveTemperature] = *config.Temperature
	}

	if config.TopP != nil {
		st.meta[llm.MetaEffectiveTopP] = *config.TopP
	}

	return payload, nil
}

func (a *Adapter) enforce(st *run, evidence *grounding.Evidence) error {
	req := st.req

	switch {
	case req.GroundingMode == llm.GroundingOff && evidence.ToolCalls > 0:
		return &llm.Error{
			Kind:        llm.KindToolUsedInUngrounded,
			Provider:    llm.ProviderVertex,
			Model:       req.ModelName,
			Mode:        req.GroundingMode,
			Enforcement: st.enforcement,
			Message:     fmt.Sprintf("%d search invocations in an ungrounded run", evidence.ToolCalls),
		}
	case req.GroundingMode == llm.GroundingRequired && !evidence.Grounded:
		return &llm.Error{
			Kind:        llm.KindNoGroundingMetadata,
			Provider:    llm.ProviderVertex,
			Model:       req.ModelName,
			Mode:        req.GroundingMode,
			Enforcement: st.enforcement,
			Message:     "candidate carries no grounding metadata",
		}
	}

	return nil
}

func (a *Adapter) parseJSON(st *run, result *llm.RunResult) {
	if st.req.Schema == nil {
		return
	}

	stripped := xjson.StripFences(result.JSONText)

	var obj any
	if err := json.Unmarshal([]byte(stripped), &obj); err != nil {
		if st.schemaApplied {
			result.Error = &llm.ResultError{
				Kind:    llm.KindJSONParseFailed,
				Message: err.Error(),
			}

			return
		}

		// Best effort in the grounded case: repair almost-JSON, otherwise
		// wrap the prose so downstream consumers still get an object.
		if repaired, ok := xjson.Repair(stripped); ok {
			var repairedObj any
			if json.Unmarshal([]byte(repaired), &repairedObj) == nil {
				if _, isObject := repairedObj.(map[string]any); isObject {
					result.JSONObj = repairedObj
					result.JSONValid = true

					return
				}
			}
		}

		result.JSONObj = map[string]any{"response": result.JSONText}

		return
	}

	result.JSONObj = obj
	result.JSONValid = true
}

func (a *Adapter) send(ctx context.Context, st *run, body []byte) ([]byte, error) {
	resp, err := a.client.Do(ctx, &httpclient.Request{
		Method:      http.MethodPost,
		URL:         a.backend.endpoint(st.model, st.req.Region),
		ContentType: "application/json",
		Body:        body,
		Auth:        a.backend.auth(),
	})
	if err != nil {
		return nil, err
	}

	return resp.Body, nil
}

func (a *Adapter) wrap(st *run, err error) error {
	var classified *llm.Error
	if errors.As(err, &classified) {
		return err
	}

	kind := llm.KindProviderTransportError

	var httpErr *httpclient.Error
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.IsRateLimited():
			kind = llm.KindProviderRateLimited
		case httpErr.IsAuthError():
			kind = llm.KindAuthRequired
		}
	}

	message := "generateContent call failed"

	if httpErr != nil {
		var detail GeminiError
		if jsonErr := json.Unmarshal(httpErr.Body, &detail); jsonErr == nil && detail.Error.Message != "" {
			message = detail.Error.Message
		}
	}

	return &llm.Error{
		Kind:        kind,
		Provider:    llm.ProviderVertex,
		Model:       st.req.ModelName,
		Mode:        st.req.GroundingMode,
		Enforcement: st.enforcement,
		Message:     message,
		Err:         err,
	}
}

func cancelledResult(st *run, err error, start time.Time) *llm.RunResult {
	if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil
	}

	return &llm.RunResult{
		RunID:     st.req.RunID,
		Provider:  string(llm.ProviderVertex),
		ModelName: st.req.ModelName,
		Citations: []llm.Citation{},
		LatencyMS: time.Since(start).Milliseconds(),
		Meta:      st.meta,
		Error: &llm.ResultError{
			Kind:    llm.KindCancelled,
			Message: err.Error(),
		},
	}
}

func joinInstructions(parts ...string) string {
	kept := make([]string, 0, len(parts))

	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}

	return strings.Join(kept, "\n\n")
}

func schemaInstruction(spec *llm.SchemaSpec) string {
	return fmt.Sprintf(
		"Respond with a single JSON object that conforms to this JSON Schema, with no surrounding prose:\n%s",
		string(spec.Schema),
	)
}

package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/contestra/ai-ranker/internal/log"
	"github.com/contestra/ai-ranker/internal/pkg/httpclient"
	"github.com/contestra/ai-ranker/internal/pkg/xjson"
	"github.com/contestra/ai-ranker/internal/pkg/xmap"
	"github.com/contestra/ai-ranker/llm"
	"github.com/contestra/ai-ranker/llm/capability"
	"github.com/contestra/ai-ranker/llm/grounding"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"

	toolChoiceAuto     = "auto"
	toolChoiceRequired = "required"

	// Fraction of the total budget that must remain for an in-adapter retry
	// to be worth attempting.
	minRetryBudget = 5

	// tokenCeiling caps the doubled-budget starvation retry. Budgets already
	// at or above it are not retried.
	tokenCeiling = 12000
)

type Config struct {
	APIKey  string
	BaseURL string

	// ToolsMaxOutputTokens overrides the grounded output budget when set.
	ToolsMaxOutputTokens int64
}

type Option func(*Adapter)

func WithHTTPClient(client *httpclient.HttpClient) Option {
	return func(a *Adapter) { a.client = client }
}

func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// Adapter runs requests against the OpenAI Responses API with grounding
// enforcement.
type Adapter struct {
	cfg      Config
	client   *httpclient.HttpClient
	registry *capability.Registry
	now      func() time.Time
}

var _ llm.Adapter = (*Adapter)(nil)

func NewAdapter(cfg Config, registry *capability.Registry, opts ...Option) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	a := &Adapter{
		cfg:      cfg,
		client:   httpclient.NewHttpClient(),
		registry: registry,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

func (a *Adapter) Provider() llm.Provider {
	return llm.ProviderOpenAI
}

func (a *Adapter) SupportedModels() []string {
	return []string{"gpt-5", "gpt-5-mini", "gpt-5-nano", "gpt-4o", "gpt-4o-mini"}
}

// run carries the mutable state of one Run invocation.
type run struct {
	req           *llm.RunRequest
	caps          capability.Capability
	grounded      bool
	toolChoice    string
	enforcement   string
	schemaApplied bool
	budget        int64
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
		caps:        a.registry.Lookup(req.ModelName),
		grounded:    req.GroundingMode != llm.GroundingOff,
		enforcement: llm.EnforcementNone,
		meta:        map[string]any{},
	}

	if st.grounded {
		st.toolChoice = toolChoiceAuto

		if req.GroundingMode == llm.GroundingRequired {
			hard, err := a.resolveRequiredSupport(ctx, req.ModelName)
			if err != nil {
				if cancelled := cancelledResult(st, err, time.Now()); cancelled != nil {
					return cancelled, nil
				}

				return nil, a.wrap(st, err)
			}

			if hard {
				st.toolChoice = toolChoiceRequired
				st.enforcement = llm.EnforcementHard
			} else {
				st.enforcement = llm.EnforcementSoft
			}
		}
	}

	body, err := a.buildBody(st)
	if err != nil {
		return nil, a.wrap(st, err)
	}

	start := time.Now()

	resp, raw, err := a.execute(ctx, st, body)
	if err != nil {
		if cancelled := cancelledResult(st, err, start); cancelled != nil {
			return cancelled, nil
		}

		return nil, a.wrap(st, err)
	}

	evidence, err := grounding.FromResponsesOutput(raw)
	if err != nil {
		return nil, a.wrap(st, err)
	}

	if err := a.enforce(st, evidence); err != nil {
		return nil, err
	}

	text := resp.MessageText()
	if text == "" {
		return nil, &llm.Error{
			Kind:        llm.KindNoMessageOutput,
			Provider:    llm.ProviderOpenAI,
			Model:       req.ModelName,
			Mode:        req.GroundingMode,
			ToolChoice:  st.toolChoice,
			Enforcement: st.enforcement,
			Message:     fmt.Sprintf("response status %q produced no message text", resp.Status),
		}
	}

	result := &llm.RunResult{
		RunID:             req.RunID,
		Provider:          string(llm.ProviderOpenAI),
		ModelName:         req.ModelName,
		GroundedEffective: evidence.Grounded,
		ToolCallCount:     evidence.ToolCalls,
		Citations:         evidence.Citations,
		JSONText:          text,
		LatencyMS:         time.Since(start).Milliseconds(),
		SystemFingerprint: resp.SystemFingerprint,
		Usage:             resp.Usage.ToUsage(),
		Meta:              st.meta,
	}

	if err := a.parseJSON(st, result); err != nil {
		return nil, err
	}

	return result, nil
}

// resolveRequiredSupport decides between hard and soft enforcement for
// REQUIRED mode. Models whose defaults allow required tool choice skip the
// probe entirely.
func (a *Adapter) resolveRequiredSupport(ctx context.Context, model string) (bool, error) {
	if capability.Defaults(model).SupportsRequiredToolChoice {
		return true, nil
	}

	return a.registry.ProbeRequiredToolChoice(ctx, model, a.probeRequired)
}

// probeRequired sends a minimal grounded request with tool_choice required.
// A 400 means the model rejects the combination; success or rate limiting
// means it accepts it.
func (a *Adapter) probeRequired(ctx context.Context, model string) (bool, error) {
	probe := &Request{
		Model:           model,
		Input:           []Item{userMessage("ping")},
		Tools:           []Tool{{Type: ToolTypeWebSearch}},
		ToolChoice:      toolChoiceRequired,
		MaxOutputTokens: lo.ToPtr(int64(16)),
	}

	if capability.Defaults(model).ReasoningRequired {
		probe.Reasoning = &Reasoning{Effort: "minimal"}
	}

	_, err := a.send(ctx, xjson.MustMarshal(probe))
	if err == nil {
		return true, nil
	}

	var httpErr *httpclient.Error
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.IsBadRequest():
			return false, nil
		case httpErr.IsRateLimited():
			return true, nil
		}
	}

	return false, err
}

func (a *Adapter) buildBody(st *run) ([]byte, error) {
	req := st.req

	payload := &Request{
		Model:    req.ModelName,
		Metadata: map[string]string{"run_id": req.RunID},
	}

	instructions := req.SystemText
	if req.ALSBlock != "" {
		if instructions == "" {
			instructions = llm.LocaleSystemInstruction
		} else {
			instructions = instructions + "\n\n" + llm.LocaleSystemInstruction
		}
	}

	// Soft enforcement leads with the search-first directive; the provoker
	// retry only adds the dated nudge on top of it.
	if st.enforcement == llm.EnforcementSoft {
		instructions = strings.TrimSpace(searchFirstDirective + "\n\n" + instructions)
	}

	payload.Instructions = instructions

	// The ALS block travels as its own turn before the user prompt, which is
	// sent verbatim.
	if req.ALSBlock != "" {
		payload.Input = append(payload.Input, userMessage(req.ALSBlock))
	}

	payload.Input = append(payload.Input, userMessage(req.UserPrompt))

	if st.grounded {
		payload.Tools = []Tool{{Type: ToolTypeWebSearch}}
		payload.ToolChoice = st.toolChoice
		st.meta[llm.MetaWebToolType] = ToolTypeWebSearch
	}

	temperature := req.Temperature
	if st.caps.TemperatureLockedTo != nil {
		temperature = st.caps.TemperatureLockedTo
	}

	payload.Temperature = temperature
	payload.TopP = req.TopP

	if st.caps.ReasoningRequired {
		effort := "minimal"
		if st.enforcement == llm.EnforcementSoft {
			// Leave headroom for the search call instead of deliberation.
			effort = "low"
		}

		payload.Reasoning = &Reasoning{Effort: effort}
		st.meta[llm.MetaReasoningEffort] = effort
	}

	st.budget = int64(st.caps.DefaultMaxOutputTokens)
	if st.grounded {
		st.budget = int64(st.caps.GroundedMaxOutputTokens)
		if a.cfg.ToolsMaxOutputTokens > 0 {
			st.budget = a.cfg.ToolsMaxOutputTokens
		}
	}

	payload.MaxOutputTokens = lo.ToPtr(st.budget)

	if req.Schema != nil && (!st.grounded || st.caps.CanCombineSchemaAndGrounding) {
		payload.Text = &TextOptions{
			Format: &TextFormat{
				Type:   "json_schema",
				Name:   req.Schema.Name,
				Schema: req.Schema.Schema,
				Strict: lo.ToPtr(req.Schema.Strict),
			},
		}
		st.schemaApplied = true
	}

	st.meta[llm.MetaResponseAPI] = "responses"
	st.meta[llm.MetaGroundingModeSent] = string(req.GroundingMode)
	st.meta[llm.MetaToolChoice] = st.toolChoice
	st.meta[llm.MetaEnforcementMode] = st.enforcement
	st.meta[llm.MetaSchemaApplied] = st.schemaApplied
	st.meta[llm.MetaMaxOutputTokens] = st.budget
	st.meta[llm.MetaALSPresent] = req.ALSBlock != ""
	st.meta[llm.MetaRetryCount] = 0
	st.meta[llm.MetaBudgetRetry] = false

	if req.ALSBlock != "" {
		st.meta[llm.MetaALSShape] = llm.ALSShapeSeparateTurn
	}

	if temperature != nil {
		st.meta[llm.MetaEffectiveTemperature] = *temperature
	}

	if req.TopP != nil {
		st.meta[llm.MetaEffectiveTopP] = *req.TopP
	}

	return json.Marshal(payload)
}

// execute sends the request and applies the in-adapter retries: one doubled
// budget resend on token starvation, and a capability downgrade when the
// provider rejects required tool choice outright.
func (a *Adapter) execute(ctx context.Context, st *run, body []byte) (*Response, []byte, error) {
	raw, err := a.send(ctx, body)

	var httpErr *httpclient.Error
	if err != nil && errors.As(err, &httpErr) && httpErr.IsBadRequest() && st.toolChoice == toolChoiceRequired {
		// The probe said yes but the real request says no. Remember the
		// answer and fall back to soft enforcement.
		a.registry.Record(st.req.ModelName, false)

		st.toolChoice = toolChoiceAuto
		st.enforcement = llm.EnforcementSoft
		st.meta[llm.MetaToolChoice] = st.toolChoice
		st.meta[llm.MetaEnforcementMode] = st.enforcement

		body, err = sjson.SetBytes(body, "tool_choice", toolChoiceAuto)
		if err != nil {
			return nil, nil, err
		}

		// The body was built for hard enforcement; give it the soft-mode
		// directive and effort before resending.
		instructions := gjson.GetBytes(body, "instructions").String()

		body, err = sjson.SetBytes(body, "instructions",
			strings.TrimSpace(searchFirstDirective+"\n\n"+instructions))
		if err != nil {
			return nil, nil, err
		}

		if gjson.GetBytes(body, "reasoning").Exists() {
			body, err = sjson.SetBytes(body, "reasoning.effort", "low")
			if err != nil {
				return nil, nil, err
			}

			st.meta[llm.MetaReasoningEffort] = "low"
		}

		raw, err = a.send(ctx, body)
	}

	if err != nil {
		return nil, nil, err
	}

	resp, err := parseResponse(raw)
	if err != nil {
		return nil, nil, err
	}

	if resp.Starved() && st.budget < tokenCeiling && a.retryAffordable(ctx, st) {
		log.Debug(ctx, "output budget exhausted before message, retrying with doubled budget",
			log.String("model", st.req.ModelName),
			log.Int64("budget", st.budget),
		)

		st.budget *= 2
		if st.budget > tokenCeiling {
			st.budget = tokenCeiling
		}
		st.meta[llm.MetaBudgetRetry] = true
		st.meta[llm.MetaMaxOutputTokens] = st.budget
		bumpRetry(st)

		body, err = sjson.SetBytes(body, "max_output_tokens", st.budget)
		if err != nil {
			return nil, nil, err
		}

		raw, err = a.send(ctx, body)
		if err != nil {
			return nil, nil, err
		}

		resp, err = parseResponse(raw)
		if err != nil {
			return nil, nil, err
		}
	}

	// Soft-required provoker retry: the model ignored the search tool, nudge
	// it once with an explicit freshness cue.
	if st.enforcement == llm.EnforcementSoft && a.retryAffordable(ctx, st) {
		evidence, err := grounding.FromResponsesOutput(raw)
		if err != nil {
			return nil, nil, err
		}

		if evidence.ToolCalls == 0 {
			body, err = a.applyProvoker(st, body)
			if err != nil {
				return nil, nil, err
			}

			bumpRetry(st)

			raw, err = a.send(ctx, body)
			if err != nil {
				return nil, nil, err
			}

			resp, err = parseResponse(raw)
			if err != nil {
				return nil, nil, err
			}
		}
	}

	return resp, raw, nil
}

// applyProvoker rewrites the serialized body in place, appending the dated
// provoker to the last user turn. The search-first directive and the low
// reasoning effort are already on the body from the first soft attempt.
func (a *Adapter) applyProvoker(st *run, body []byte) ([]byte, error) {
	provoker := provokerText(a.now())
	st.meta[llm.MetaProvokerHash] = provokerHash(provoker)

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}

	last := len(req.Input) - 1
	if last < 0 || len(req.Input[last].Content) == 0 {
		return nil, fmt.Errorf("request has no user turn to provoke")
	}

	return sjson.SetBytes(body,
		fmt.Sprintf("input.%d.content.0.text", last),
		req.Input[last].Content[0].Text+provoker,
	)
}

// retryAffordable reports whether enough of the run budget remains to make a
// second round trip worthwhile.
func (a *Adapter) retryAffordable(ctx context.Context, st *run) bool {
	deadline, ok := ctx.Deadline()
	if !ok {
		return true
	}

	timeout := st.req.TimeoutSeconds
	if timeout <= 0 {
		timeout = llm.DefaultTimeoutSeconds
	}

	total := time.Duration(timeout) * time.Second

	return time.Until(deadline) > total/minRetryBudget
}

func (a *Adapter) enforce(st *run, evidence *grounding.Evidence) error {
	req := st.req

	fail := func(kind llm.Kind, msg string) error {
		return &llm.Error{
			Kind:        kind,
			Provider:    llm.ProviderOpenAI,
			Model:       req.ModelName,
			Mode:        req.GroundingMode,
			ToolChoice:  st.toolChoice,
			Enforcement: st.enforcement,
			Message:     msg,
		}
	}

	switch {
	case req.GroundingMode == llm.GroundingOff && evidence.ToolCalls > 0:
		return fail(llm.KindToolUsedInUngrounded,
			fmt.Sprintf("%d web search calls in an ungrounded run", evidence.ToolCalls))
	case req.GroundingMode == llm.GroundingRequired && evidence.ToolCalls == 0:
		if st.enforcement == llm.EnforcementHard {
			return fail(llm.KindNoToolCallInRequired, "model made no web search calls")
		}

		return fail(llm.KindNoToolCallInSoftRequired,
			"model made no web search calls despite the provoker retry")
	}

	return nil
}

// parseJSON fills JSONObj/JSONValid from the message text. Parse failures are
// embedded in the result, except under REQUIRED with an applied schema, where
// the schema contract fails closed like the grounding contract does.
func (a *Adapter) parseJSON(st *run, result *llm.RunResult) error {
	if st.req.Schema == nil {
		return nil
	}

	stripped := xjson.StripFences(result.JSONText)

	var obj any
	if err := json.Unmarshal([]byte(stripped), &obj); err != nil {
		if st.req.GroundingMode == llm.GroundingRequired && st.schemaApplied {
			return &llm.Error{
				Kind:        llm.KindJSONParseFailed,
				Provider:    llm.ProviderOpenAI,
				Model:       st.req.ModelName,
				Mode:        st.req.GroundingMode,
				ToolChoice:  st.toolChoice,
				Enforcement: st.enforcement,
				Message:     "schema output did not parse",
				Err:         err,
			}
		}

		result.Error = &llm.ResultError{
			Kind:    llm.KindJSONParseFailed,
			Message: err.Error(),
		}

		return nil
	}

	result.JSONObj = obj
	result.JSONValid = true

	return nil
}

func (a *Adapter) send(ctx context.Context, body []byte) ([]byte, error) {
	resp, err := a.client.Do(ctx, &httpclient.Request{
		Method:      http.MethodPost,
		URL:         a.cfg.BaseURL + "/responses",
		ContentType: "application/json",
		Body:        body,
		Auth: &httpclient.AuthConfig{
			Type:   httpclient.AuthTypeBearer,
			APIKey: a.cfg.APIKey,
		},
	})
	if err != nil {
		return nil, err
	}

	return resp.Body, nil
}

func parseResponse(raw []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode responses payload: %w", err)
	}

	if resp.Error != nil && resp.Error.Message != "" {
		return nil, fmt.Errorf("responses payload carries error: %s", resp.Error.Message)
	}

	return &resp, nil
}

// wrap classifies transport failures into the shared error taxonomy. Already
// classified errors pass through untouched.
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

	return &llm.Error{
		Kind:        kind,
		Provider:    llm.ProviderOpenAI,
		Model:       st.req.ModelName,
		Mode:        st.req.GroundingMode,
		ToolChoice:  st.toolChoice,
		Enforcement: st.enforcement,
		Message:     "responses call failed",
		Err:         err,
	}
}

// cancelledResult converts a context cancellation into an embedded soft error
// so batch callers keep one result row per run.
func cancelledResult(st *run, err error, start time.Time) *llm.RunResult {
	if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil
	}

	return &llm.RunResult{
		RunID:     st.req.RunID,
		Provider:  string(llm.ProviderOpenAI),
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

func bumpRetry(st *run) {
	st.meta[llm.MetaRetryCount] = int(xmap.GetInt64(st.meta, llm.MetaRetryCount)) + 1
}

func userMessage(text string) Item {
	return Item{
		Type: ItemTypeMessage,
		Role: "user",
		Content: []ContentItem{{
			Type: ContentTypeInputText,
			Text: text,
		}},
	}
}

package openai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/contestra/ai-ranker/internal/pkg/httpclient"
	"github.com/contestra/ai-ranker/llm"
	"github.com/contestra/ai-ranker/llm/capability"
)

type fakeStep struct {
	status int
	body   string
}

type fakeServer struct {
	t        *testing.T
	steps    []fakeStep
	requests [][]byte
	server   *httptest.Server
}

func newFakeServer(t *testing.T, steps ...fakeStep) *fakeServer {
	t.Helper()

	fs := &fakeServer{t: t, steps: steps}
	fs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		fs.requests = append(fs.requests, body)

		require.NotEmpty(t, fs.steps, "unexpected extra request")
		step := fs.steps[0]
		fs.steps = fs.steps[1:]

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(step.status)
		_, _ = w.Write([]byte(step.body))
	}))
	t.Cleanup(fs.server.Close)

	return fs
}

func (fs *fakeServer) adapter(opts ...Option) (*Adapter, *capability.Registry) {
	registry := capability.NewRegistry()

	opts = append(opts, WithHTTPClient(httpclient.NewHttpClientWithClient(fs.server.Client())))

	return NewAdapter(Config{
		APIKey:  "sk-test",
		BaseURL: fs.server.URL,
	}, registry, opts...), registry
}

const ungroundedMessage = `{
	"id": "resp_1",
	"model": "gpt-5",
	"status": "completed",
	"output": [
		{"type": "message", "role": "assistant", "content": [{"type": "output_text", "text": "Paris."}]}
	],
	"usage": {"input_tokens": 12, "output_tokens": 3, "total_tokens": 15, "output_tokens_details": {"reasoning_tokens": 1}},
	"system_fingerprint": "fp_abc"
}`

const groundedMessage = `{
	"id": "resp_2",
	"model": "gpt-5",
	"status": "completed",
	"output": [
		{"type": "web_search_call", "status": "completed", "action": {"type": "search", "query": "capital of france"}},
		{"type": "message", "role": "assistant", "content": [{
			"type": "output_text",
			"text": "Paris, according to current sources.",
			"annotations": [{"type": "url_citation", "url": "https://example.com/fr", "title": "France"}]
		}]}
	],
	"usage": {"input_tokens": 20, "output_tokens": 9, "total_tokens": 29}
}`

func baseRequest(mode llm.GroundingMode) *llm.RunRequest {
	return &llm.RunRequest{
		RunID:         "run-1",
		Provider:      "openai",
		ModelName:     "gpt-5",
		GroundingMode: mode,
		UserPrompt:    "What is the capital of France?",
	}
}

func TestRunUngroundedOff(t *testing.T) {
	fs := newFakeServer(t, fakeStep{200, ungroundedMessage})
	adapter, _ := fs.adapter()

	result, err := adapter.Run(context.Background(), baseRequest(llm.GroundingOff))
	require.NoError(t, err)

	require.False(t, result.GroundedEffective)
	require.Zero(t, result.ToolCallCount)
	require.Empty(t, result.Citations)
	require.Equal(t, "Paris.", result.JSONText)
	require.Equal(t, "fp_abc", result.SystemFingerprint)
	require.Equal(t, int64(12), result.Usage[llm.UsageInputTokens])
	require.Equal(t, int64(1), result.Usage[llm.UsageReasoningTokens])

	sent := gjson.ParseBytes(fs.requests[0])
	require.False(t, sent.Get("tools").Exists())
	require.False(t, sent.Get("tool_choice").Exists())
	require.Equal(t, "minimal", sent.Get("reasoning.effort").String())
	// gpt-5 pins temperature regardless of the caller.
	require.Equal(t, 1.0, sent.Get("temperature").Float())
}

func TestRunOffRejectsToolUse(t *testing.T) {
	fs := newFakeServer(t, fakeStep{200, groundedMessage})
	adapter, _ := fs.adapter()

	_, err := adapter.Run(context.Background(), baseRequest(llm.GroundingOff))
	require.Error(t, err)
	require.True(t, llm.IsKind(err, llm.KindToolUsedInUngrounded))
}

func TestRunPreferredToleratesNoSearch(t *testing.T) {
	fs := newFakeServer(t, fakeStep{200, ungroundedMessage})
	adapter, _ := fs.adapter()

	result, err := adapter.Run(context.Background(), baseRequest(llm.GroundingPreferred))
	require.NoError(t, err)

	require.False(t, result.GroundedEffective)
	require.Equal(t, llm.EnforcementNone, result.Meta[llm.MetaEnforcementMode])

	sent := gjson.ParseBytes(fs.requests[0])
	require.Equal(t, "web_search", sent.Get("tools.0.type").String())
	require.Equal(t, "auto", sent.Get("tool_choice").String())
}

func TestRunRequiredHard(t *testing.T) {
	t.Run("grounded result passes", func(t *testing.T) {
		fs := newFakeServer(t, fakeStep{200, groundedMessage})
		adapter, _ := fs.adapter()

		req := baseRequest(llm.GroundingRequired)
		req.ModelName = "gpt-4o"

		result, err := adapter.Run(context.Background(), req)
		require.NoError(t, err)

		require.True(t, result.GroundedEffective)
		require.Equal(t, 1, result.ToolCallCount)
		require.Len(t, result.Citations, 1)
		require.Equal(t, "https://example.com/fr", result.Citations[0].URI)
		require.Equal(t, llm.EnforcementHard, result.Meta[llm.MetaEnforcementMode])

		sent := gjson.ParseBytes(fs.requests[0])
		require.Equal(t, "required", sent.Get("tool_choice").String())
	})

	t.Run("no search call fails closed", func(t *testing.T) {
		fs := newFakeServer(t, fakeStep{200, ungroundedMessage})
		adapter, _ := fs.adapter()

		req := baseRequest(llm.GroundingRequired)
		req.ModelName = "gpt-4o"

		_, err := adapter.Run(context.Background(), req)
		require.Error(t, err)
		require.True(t, llm.IsKind(err, llm.KindNoToolCallInRequired))
	})
}

func TestRunRequiredSoftProvokerRetry(t *testing.T) {
	fixed := time.Date(2025, 8, 25, 12, 0, 0, 0, time.UTC)

	fs := newFakeServer(t,
		fakeStep{200, ungroundedMessage},
		fakeStep{200, groundedMessage},
	)
	adapter, registry := fs.adapter(WithClock(func() time.Time { return fixed }))
	registry.Record("gpt-5", false)

	result, err := adapter.Run(context.Background(), baseRequest(llm.GroundingRequired))
	require.NoError(t, err)

	require.True(t, result.GroundedEffective)
	require.Equal(t, llm.EnforcementSoft, result.Meta[llm.MetaEnforcementMode])
	require.Equal(t, 1, result.Meta[llm.MetaRetryCount])
	require.NotEmpty(t, result.Meta[llm.MetaProvokerHash])

	require.Len(t, fs.requests, 2)

	// The directive and low effort ride on the first soft attempt already;
	// only the dated provoker is new on the retry.
	first := gjson.ParseBytes(fs.requests[0])
	require.Equal(t, "auto", first.Get("tool_choice").String())
	require.Equal(t, "What is the capital of France?", first.Get("input.0.content.0.text").String())
	require.Contains(t, first.Get("instructions").String(), "web_search tool")
	require.Equal(t, "low", first.Get("reasoning.effort").String())

	second := gjson.ParseBytes(fs.requests[1])
	require.Contains(t, second.Get("input.0.content.0.text").String(), "What is the capital of France?")
	require.Contains(t, second.Get("input.0.content.0.text").String(), "2025-08-25")
	require.Contains(t, second.Get("instructions").String(), "web_search tool")
	require.Equal(t, "low", second.Get("reasoning.effort").String())
}

func TestRunSoftFirstAttemptCarriesDirective(t *testing.T) {
	fs := newFakeServer(t, fakeStep{200, groundedMessage})
	adapter, registry := fs.adapter()
	registry.Record("gpt-5", false)

	result, err := adapter.Run(context.Background(), baseRequest(llm.GroundingRequired))
	require.NoError(t, err)

	require.True(t, result.GroundedEffective)
	require.Equal(t, 0, result.Meta[llm.MetaRetryCount])
	require.Len(t, fs.requests, 1)

	sent := gjson.ParseBytes(fs.requests[0])
	require.Contains(t, sent.Get("instructions").String(), "web_search tool")
	require.Equal(t, "low", sent.Get("reasoning.effort").String())
}

func TestRunRequiredSoftFailsAfterRetry(t *testing.T) {
	fs := newFakeServer(t,
		fakeStep{200, ungroundedMessage},
		fakeStep{200, ungroundedMessage},
	)
	adapter, registry := fs.adapter()
	registry.Record("gpt-5", false)

	_, err := adapter.Run(context.Background(), baseRequest(llm.GroundingRequired))
	require.Error(t, err)
	require.True(t, llm.IsKind(err, llm.KindNoToolCallInSoftRequired))
}

func TestRunRequiredProbesOnce(t *testing.T) {
	// Probe is rejected with a 400, so enforcement degrades to soft and the
	// real request goes out with tool_choice auto.
	fs := newFakeServer(t,
		fakeStep{400, `{"error": {"message": "tool_choice required is not supported"}}`},
		fakeStep{200, groundedMessage},
	)
	adapter, registry := fs.adapter()

	result, err := adapter.Run(context.Background(), baseRequest(llm.GroundingRequired))
	require.NoError(t, err)
	require.Equal(t, llm.EnforcementSoft, result.Meta[llm.MetaEnforcementMode])

	require.Len(t, fs.requests, 2)

	probe := gjson.ParseBytes(fs.requests[0])
	require.Equal(t, "required", probe.Get("tool_choice").String())

	real := gjson.ParseBytes(fs.requests[1])
	require.Equal(t, "auto", real.Get("tool_choice").String())

	require.False(t, registry.Lookup("gpt-5").SupportsRequiredToolChoice)
}

func TestRunTokenStarvationRetry(t *testing.T) {
	starved := `{
		"id": "resp_s",
		"model": "gpt-5",
		"status": "incomplete",
		"incomplete_details": {"reason": "max_output_tokens"},
		"output": [
			{"type": "web_search_call", "status": "completed", "action": {"query": "q"}}
		]
	}`

	fs := newFakeServer(t,
		fakeStep{200, starved},
		fakeStep{200, groundedMessage},
	)
	adapter, _ := fs.adapter()

	result, err := adapter.Run(context.Background(), baseRequest(llm.GroundingPreferred))
	require.NoError(t, err)

	require.Equal(t, true, result.Meta[llm.MetaBudgetRetry])
	require.Len(t, fs.requests, 2)

	firstBudget := gjson.ParseBytes(fs.requests[0]).Get("max_output_tokens").Int()
	secondBudget := gjson.ParseBytes(fs.requests[1]).Get("max_output_tokens").Int()
	require.Equal(t, firstBudget*2, secondBudget)
}

func TestRunALSSeparateTurn(t *testing.T) {
	fs := newFakeServer(t, fakeStep{200, ungroundedMessage})
	adapter, _ := fs.adapter()

	req := baseRequest(llm.GroundingOff)
	req.SystemText = "Answer concisely."
	req.ALSBlock = "Ambient context: it is a mild Tuesday morning; prices nearby show in euros."

	result, err := adapter.Run(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, llm.ALSShapeSeparateTurn, result.Meta[llm.MetaALSShape])

	sent := gjson.ParseBytes(fs.requests[0])
	require.Len(t, sent.Get("input").Array(), 2)
	require.Equal(t, req.ALSBlock, sent.Get("input.0.content.0.text").String())
	require.Equal(t, req.UserPrompt, sent.Get("input.1.content.0.text").String())
	require.Contains(t, sent.Get("instructions").String(), "Answer concisely.")
	require.Contains(t, sent.Get("instructions").String(), "Do not mention")
}

func TestRunSchemaWithGrounding(t *testing.T) {
	grounded := `{
		"id": "resp_j",
		"model": "gpt-5",
		"status": "completed",
		"output": [
			{"type": "web_search_call", "status": "completed", "action": {"query": "top brands"}},
			{"type": "message", "role": "assistant", "content": [{
				"type": "output_text",
				"text": "{\"brands\": [\"Acme\", \"Globex\"]}",
				"annotations": [{"type": "url_citation", "url": "https://example.com/brands", "title": "Brands"}]
			}]}
		]
	}`

	fs := newFakeServer(t, fakeStep{200, grounded})
	adapter, _ := fs.adapter()

	req := baseRequest(llm.GroundingPreferred)
	req.Schema = &llm.SchemaSpec{
		Name:   "brand_list",
		Schema: []byte(`{"type": "object", "properties": {"brands": {"type": "array", "items": {"type": "string"}}}}`),
		Strict: true,
	}

	result, err := adapter.Run(context.Background(), req)
	require.NoError(t, err)

	require.True(t, result.GroundedEffective)
	require.True(t, result.JSONValid)
	require.Equal(t, true, result.Meta[llm.MetaSchemaApplied])

	obj, ok := result.JSONObj.(map[string]any)
	require.True(t, ok)
	require.Equal(t, []any{"Acme", "Globex"}, obj["brands"])

	sent := gjson.ParseBytes(fs.requests[0])
	require.Equal(t, "json_schema", sent.Get("text.format.type").String())
	require.Equal(t, "brand_list", sent.Get("text.format.name").String())
	require.True(t, sent.Get("text.format.strict").Bool())
}

func TestRunSchemaParseFailureEmbedded(t *testing.T) {
	malformed := `{
		"id": "resp_m",
		"model": "gpt-5",
		"status": "completed",
		"output": [
			{"type": "message", "role": "assistant", "content": [{"type": "output_text", "text": "not json at all"}]}
		]
	}`

	fs := newFakeServer(t, fakeStep{200, malformed})
	adapter, _ := fs.adapter()

	req := baseRequest(llm.GroundingOff)
	req.Schema = &llm.SchemaSpec{Name: "x", Schema: []byte(`{"type": "object"}`)}

	result, err := adapter.Run(context.Background(), req)
	require.NoError(t, err)

	require.False(t, result.JSONValid)
	require.Nil(t, result.JSONObj)
	require.NotNil(t, result.Error)
	require.Equal(t, llm.KindJSONParseFailed, result.Error.Kind)
}

func TestBuildBodySkipsSchemaWhenModelCannotCombine(t *testing.T) {
	fs := newFakeServer(t)
	adapter, _ := fs.adapter()

	req := baseRequest(llm.GroundingPreferred)
	req.Schema = &llm.SchemaSpec{Name: "x", Schema: []byte(`{"type": "object"}`)}

	st := &run{
		req: req,
		caps: capability.Capability{
			SupportsGrounding:            true,
			CanCombineSchemaAndGrounding: false,
			DefaultMaxOutputTokens:       1024,
			GroundedMaxOutputTokens:      6000,
		},
		grounded:   true,
		toolChoice: "auto",
		meta:       map[string]any{},
	}

	body, err := adapter.buildBody(st)
	require.NoError(t, err)

	sent := gjson.ParseBytes(body)
	require.False(t, sent.Get("text").Exists())
	require.Equal(t, false, st.meta[llm.MetaSchemaApplied])
	require.False(t, st.schemaApplied)
}

func TestRunRequiredSchemaParseFailureRaises(t *testing.T) {
	fs := newFakeServer(t, fakeStep{200, groundedMessage})
	adapter, _ := fs.adapter()

	req := baseRequest(llm.GroundingRequired)
	req.ModelName = "gpt-4o"
	req.Schema = &llm.SchemaSpec{Name: "x", Schema: []byte(`{"type": "object"}`)}

	_, err := adapter.Run(context.Background(), req)
	require.Error(t, err)
	require.True(t, llm.IsKind(err, llm.KindJSONParseFailed))
}

func TestUsageTotalsComputed(t *testing.T) {
	u := &Usage{InputTokens: 5, OutputTokens: 7}
	require.Equal(t, int64(12), u.ToUsage()[llm.UsageTotalTokens])

	u.TotalTokens = 20
	require.Equal(t, int64(20), u.ToUsage()[llm.UsageTotalTokens])
}

func TestRunErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   llm.Kind
	}{
		{"unauthorized", 401, llm.KindAuthRequired},
		{"rate limited", 429, llm.KindProviderRateLimited},
		{"server error", 500, llm.KindProviderTransportError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFakeServer(t, fakeStep{tt.status, `{"error": {"message": "nope"}}`})
			adapter, _ := fs.adapter()

			_, err := adapter.Run(context.Background(), baseRequest(llm.GroundingOff))
			require.Error(t, err)
			require.True(t, llm.IsKind(err, tt.want), "got %v", err)
		})
	}
}

func TestRunCancelledEmbedded(t *testing.T) {
	fs := newFakeServer(t, fakeStep{200, ungroundedMessage})
	adapter, _ := fs.adapter()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := adapter.Run(ctx, baseRequest(llm.GroundingOff))
	require.NoError(t, err)
	require.NotNil(t, result.Error)
	require.Equal(t, llm.KindCancelled, result.Error.Kind)
}

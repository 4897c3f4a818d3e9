package llm

import (
	"strings"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func validRequest() *RunRequest {
	return &RunRequest{
		RunID:         "run-1",
		Provider:      "openai",
		ModelName:     "gpt-5",
		GroundingMode: GroundingOff,
		UserPrompt:    "What is the capital of France?",
	}
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RunRequest)
		wantErr Kind
	}{
		{
			name:   "valid request",
			mutate: func(r *RunRequest) {},
		},
		{
			name:    "missing run_id",
			mutate:  func(r *RunRequest) { r.RunID = "" },
			wantErr: KindInvalidRequest,
		},
		{
			name:    "missing model_name",
			mutate:  func(r *RunRequest) { r.ModelName = "" },
			wantErr: KindInvalidRequest,
		},
		{
			name:    "missing user_prompt",
			mutate:  func(r *RunRequest) { r.UserPrompt = "" },
			wantErr: KindInvalidRequest,
		},
		{
			name:    "unknown provider",
			mutate:  func(r *RunRequest) { r.Provider = "anthropic" },
			wantErr: KindUnknownProvider,
		},
		{
			name:   "google alias accepted",
			mutate: func(r *RunRequest) { r.Provider = "google" },
		},
		{
			name:    "bad grounding mode",
			mutate:  func(r *RunRequest) { r.GroundingMode = "SOMETIMES" },
			wantErr: KindInvalidRequest,
		},
		{
			name:   "empty grounding mode defaults later",
			mutate: func(r *RunRequest) { r.GroundingMode = "" },
		},
		{
			name:   "als at the limit",
			mutate: func(r *RunRequest) { r.ALSBlock = strings.Repeat("a", MaxALSLength) },
		},
		{
			name:    "als one over the limit",
			mutate:  func(r *RunRequest) { r.ALSBlock = strings.Repeat("a", MaxALSLength+1) },
			wantErr: KindInvalidRequest,
		},
		{
			name:   "multibyte als counted in runes",
			mutate: func(r *RunRequest) { r.ALSBlock = strings.Repeat("ü", MaxALSLength) },
		},
		{
			name:    "temperature too high",
			mutate:  func(r *RunRequest) { r.Temperature = lo.ToPtr(2.5) },
			wantErr: KindInvalidRequest,
		},
		{
			name:    "temperature negative",
			mutate:  func(r *RunRequest) { r.Temperature = lo.ToPtr(-0.1) },
			wantErr: KindInvalidRequest,
		},
		{
			name:   "temperature at boundary",
			mutate: func(r *RunRequest) { r.Temperature = lo.ToPtr(2.0) },
		},
		{
			name:    "top_p above one",
			mutate:  func(r *RunRequest) { r.TopP = lo.ToPtr(1.01) },
			wantErr: KindInvalidRequest,
		},
		{
			name:    "negative timeout",
			mutate:  func(r *RunRequest) { r.TimeoutSeconds = -5 },
			wantErr: KindInvalidRequest,
		},
		{
			name: "schema without name",
			mutate: func(r *RunRequest) {
				r.Schema = &SchemaSpec{Schema: []byte(`{"type": "object"}`)}
			},
			wantErr: KindInvalidRequest,
		},
		{
			name: "strict schema without body",
			mutate: func(r *RunRequest) {
				r.Schema = &SchemaSpec{Name: "x", Strict: true}
			},
			wantErr: KindInvalidRequest,
		},
		{
			name: "schema not an object",
			mutate: func(r *RunRequest) {
				r.Schema = &SchemaSpec{Name: "x", Schema: []byte(`["a"]`)}
			},
			wantErr: KindInvalidRequest,
		},
		{
			name: "well formed schema",
			mutate: func(r *RunRequest) {
				r.Schema = &SchemaSpec{
					Name:   "report",
					Schema: []byte(`{"type": "object", "properties": {"brand": {"type": "string"}}}`),
					Strict: true,
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)

			err := ValidateRequest(req)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}

			require.Error(t, err)
			require.True(t, IsKind(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestValidateRequestNil(t *testing.T) {
	err := ValidateRequest(nil)
	require.True(t, IsKind(err, KindInvalidRequest))
}

func TestResolveProvider(t *testing.T) {
	tests := []struct {
		in   string
		want Provider
		ok   bool
	}{
		{"openai", ProviderOpenAI, true},
		{"OpenAI", ProviderOpenAI, true},
		{"vertex", ProviderVertex, true},
		{"google", ProviderVertex, true},
		{"gemini", ProviderVertex, true},
		{" vertex ", ProviderVertex, true},
		{"anthropic", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ResolveProvider(tt.in)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestGroundingModeUnmarshal(t *testing.T) {
	var m GroundingMode
	require.NoError(t, m.UnmarshalJSON([]byte(`"required"`)))
	require.Equal(t, GroundingRequired, m)

	require.Error(t, m.UnmarshalJSON([]byte(`"maybe"`)))
	require.Error(t, m.UnmarshalJSON([]byte(`42`)))
}

func TestRunRequestClone(t *testing.T) {
	req := validRequest()
	req.Temperature = lo.ToPtr(0.7)

	cp := req.Clone()
	cp.ModelName = "other"
	cp.GroundingMode = GroundingRequired

	require.Equal(t, "gpt-5", req.ModelName)
	require.Equal(t, GroundingOff, req.GroundingMode)
}

// Package conf loads runtime configuration from the environment.
package conf

import (
	"github.com/spf13/viper"
)

type OpenAIConfig struct {
	APIKey  string
	BaseURL string

	// ToolsMaxOutputTokens widens the output budget for grounded GPT-5 runs.
	ToolsMaxOutputTokens int64
}

type VertexConfig struct {
	Project     string
	Location    string
	AccessToken string
	BaseURL     string

	// AllowGeminiDirect permits falling back to the Generative Language API
	// for ungrounded runs when Vertex credentials are rejected.
	AllowGeminiDirect bool
	GeminiAPIKey      string
}

type Config struct {
	LogLevel string
	OpenAI   OpenAIConfig
	Vertex   VertexConfig
}

// bindings maps config keys to the environment variables that feed them.
var bindings = map[string]string{
	"log_level":                     "LOG_LEVEL",
	"openai.api_key":                "OPENAI_API_KEY",
	"openai.base_url":               "OPENAI_BASE_URL",
	"openai.tools_max_output_tokens": "GPT5_TOOLS_MAX_OUTPUT_TOKENS",
	"vertex.project":                "VERTEX_PROJECT",
	"vertex.location":               "VERTEX_LOCATION",
	"vertex.access_token":           "VERTEX_ACCESS_TOKEN",
	"vertex.base_url":               "VERTEX_BASE_URL",
	"vertex.allow_gemini_direct":    "ALLOW_GEMINI_DIRECT",
	"vertex.gemini_api_key":         "GEMINI_API_KEY",
}

func Load() (*Config, error) {
	v := viper.New()

	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}

	v.SetDefault("log_level", "info")
	v.SetDefault("vertex.project", "contestra-ai")
	v.SetDefault("vertex.location", "europe-west4")

	return &Config{
		LogLevel: v.GetString("log_level"),
		OpenAI: OpenAIConfig{
			APIKey:               v.GetString("openai.api_key"),
			BaseURL:              v.GetString("openai.base_url"),
			ToolsMaxOutputTokens: v.GetInt64("openai.tools_max_output_tokens"),
		},
		Vertex: VertexConfig{
			Project:           v.GetString("vertex.project"),
			Location:          v.GetString("vertex.location"),
			AccessToken:       v.GetString("vertex.access_token"),
			BaseURL:           v.GetString("vertex.base_url"),
			AllowGeminiDirect: v.GetBool("vertex.allow_gemini_direct"),
			GeminiAPIKey:      v.GetString("vertex.gemini_api_key"),
		},
	}, nil
}

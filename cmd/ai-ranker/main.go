package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/hokaccha/go-prettyjson"

	"github.com/contestra/ai-ranker/conf"
	"github.com/contestra/ai-ranker/internal/build"
	"github.com/contestra/ai-ranker/internal/log"
	"github.com/contestra/ai-ranker/llm"
	"github.com/contestra/ai-ranker/llm/capability"
	"github.com/contestra/ai-ranker/llm/orchestrator"
	"github.com/contestra/ai-ranker/llm/provider/openai"
	"github.com/contestra/ai-ranker/llm/provider/vertex"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "run":
			handleRunCommand()
			return
		case "models":
			handleModelsCommand()
			return
		case "config":
			handleConfigCommand()
			return
		case "version", "--version", "-v":
			showVersion()
			return
		case "build-info":
			showBuildInfo()
			return
		}
	}

	showHelp()
}

func newOrchestrator(cfg *conf.Config) *orchestrator.Orchestrator {
	registry := capability.NewRegistry()

	params := orchestrator.Params{
		OpenAI: openai.NewAdapter(openai.Config{
			APIKey:               cfg.OpenAI.APIKey,
			BaseURL:              cfg.OpenAI.BaseURL,
			ToolsMaxOutputTokens: cfg.OpenAI.ToolsMaxOutputTokens,
		}, registry),
		Vertex: vertex.NewAdapter(vertex.Config{
			Project:     cfg.Vertex.Project,
			Location:    cfg.Vertex.Location,
			AccessToken: cfg.Vertex.AccessToken,
			BaseURL:     cfg.Vertex.BaseURL,
		}, registry),
		AllowGeminiDirect: cfg.Vertex.AllowGeminiDirect,
	}

	if cfg.Vertex.GeminiAPIKey != "" {
		params.GeminiDirect = vertex.NewDirectAdapter(cfg.Vertex.GeminiAPIKey, "", registry)
	}

	return orchestrator.New(params)
}

func handleRunCommand() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: ai-ranker run <request.json>")
		os.Exit(1)
	}

	cfg, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log.SetGlobal(log.New(cfg.LogLevel))

	data, err := os.ReadFile(os.Args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read request file: %v\n", err)
		os.Exit(1)
	}

	var req llm.RunRequest
	if err := json.Unmarshal(data, &req); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse request file: %v\n", err)
		os.Exit(1)
	}

	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}

	o := newOrchestrator(cfg)

	ctx := context.Background()
	defer func() {
		_ = o.Shutdown(ctx)
	}()

	result, err := o.Run(ctx, &req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Run failed: %v\n", err)
		os.Exit(1)
	}

	printJSON(result)
}

func handleModelsCommand() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: ai-ranker models <openai|vertex>")
		os.Exit(1)
	}

	cfg, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	o := newOrchestrator(cfg)

	models, err := o.SupportedModels(os.Args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	printJSON(models)
}

func handleConfigCommand() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: ai-ranker config <preview|get>")
		os.Exit(1)
	}

	switch os.Args[2] {
	case "preview":
		configPreview()
	case "get":
		configGet()
	default:
		fmt.Println("Usage: ai-ranker config <preview|get>")
		os.Exit(1)
	}
}

func configPreview() {
	cfg, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Secrets stay out of the preview.
	cfg.OpenAI.APIKey = redact(cfg.OpenAI.APIKey)
	cfg.Vertex.AccessToken = redact(cfg.Vertex.AccessToken)
	cfg.Vertex.GeminiAPIKey = redact(cfg.Vertex.GeminiAPIKey)

	printJSON(cfg)
}

func configGet() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: ai-ranker config get <key>")
		fmt.Println("")
		fmt.Println("Available keys:")
		fmt.Println("  log_level               Log level")
		fmt.Println("  vertex.project          Vertex project")
		fmt.Println("  vertex.location         Vertex region")
		fmt.Println("  openai.base_url         OpenAI base URL override")
		os.Exit(1)
	}

	key := os.Args[3]

	cfg, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var value any

	switch key {
	case "log_level":
		value = cfg.LogLevel
	case "vertex.project":
		value = cfg.Vertex.Project
	case "vertex.location":
		value = cfg.Vertex.Location
	case "vertex.allow_gemini_direct":
		value = cfg.Vertex.AllowGeminiDirect
	case "openai.base_url":
		value = cfg.OpenAI.BaseURL
	case "openai.tools_max_output_tokens":
		value = cfg.OpenAI.ToolsMaxOutputTokens
	default:
		fmt.Fprintf(os.Stderr, "Unknown config key: %s\n", key)
		os.Exit(1)
	}

	fmt.Println(value)
}

func redact(s string) string {
	if s == "" {
		return ""
	}

	return "***"
}

func printJSON(v any) {
	b, err := prettyjson.Marshal(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render output: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(string(b))
}

func showBuildInfo() {
	printJSON(build.GetBuildInfo())
}

func showVersion() {
	fmt.Println(build.Version)
}

func showHelp() {
	fmt.Println("Contestra AI Ranker")
	fmt.Println("")
	fmt.Println("Usage:")
	fmt.Println("  ai-ranker run <request.json>   Execute a single run and print the result")
	fmt.Println("  ai-ranker models <provider>    List supported models for a provider")
	fmt.Println("  ai-ranker config preview       Preview configuration (secrets redacted)")
	fmt.Println("  ai-ranker config get <key>     Get a specific config value")
	fmt.Println("  ai-ranker version              Show version")
	fmt.Println("  ai-ranker help                 Show this help message")
}

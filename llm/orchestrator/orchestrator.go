// Package orchestrator routes validated run requests to provider adapters
// and offers a bounded worker pool for asynchronous batches.
package orchestrator

import (
	"context"
	"fmt"
	"reflect"

	"github.com/zhenzou/executors"

	"github.com/contestra/ai-ranker/internal/log"
	"github.com/contestra/ai-ranker/llm"
)

type ErrorHandler struct{}

func (h *ErrorHandler) CatchError(runnable executors.Runnable, err error) {
	log.Error(context.Background(), "run task error", log.Cause(err))
}

type RejectionHandler struct{}

func (h *RejectionHandler) RejectExecution(runnable executors.Runnable, e executors.Executor) error {
	log.Error(context.Background(), "run task rejected by executor",
		log.String("runnable", reflect.ValueOf(runnable).String()))
	return nil
}

func newExecutor() executors.ScheduledExecutor {
	return executors.NewPoolScheduleExecutor(
		executors.WithMaxConcurrent(16),
		executors.WithMaxBlockingTasks(256),
		executors.WithErrorHandler(&ErrorHandler{}),
		executors.WithRejectionHandler(&RejectionHandler{}),
	)
}

// Params wires the orchestrator. GeminiDirect is optional and only consulted
// when AllowGeminiDirect is set.
type Params struct {
	OpenAI llm.Adapter
	Vertex llm.Adapter

	// GeminiDirect is the ungrounded fallback used when Vertex rejects the
	// credentials and the run does not need grounding.
	GeminiDirect      llm.Adapter
	AllowGeminiDirect bool

	Executor executors.ScheduledExecutor
}

type Orchestrator struct {
	adapters          map[llm.Provider]llm.Adapter
	geminiDirect      llm.Adapter
	allowGeminiDirect bool
	executor          executors.ScheduledExecutor
}

func New(params Params) *Orchestrator {
	adapters := map[llm.Provider]llm.Adapter{}
	if params.OpenAI != nil {
		adapters[llm.ProviderOpenAI] = params.OpenAI
	}

	if params.Vertex != nil {
		adapters[llm.ProviderVertex] = params.Vertex
	}

	executor := params.Executor
	if executor == nil {
		executor = newExecutor()
	}

	return &Orchestrator{
		adapters:          adapters,
		geminiDirect:      params.GeminiDirect,
		allowGeminiDirect: params.AllowGeminiDirect,
		executor:          executor,
	}
}

// Run validates and dispatches a single request. The orchestrator itself
// never retries; all retry policy lives inside the adapters.
// ValidateRequest checks a request against the contract without running it.
func (o *Orchestrator) ValidateRequest(req *llm.RunRequest) error {
	return llm.ValidateRequest(req)
}

func (o *Orchestrator) Run(ctx context.Context, req *llm.RunRequest) (*llm.RunResult, error) {
	if err := o.ValidateRequest(req); err != nil {
		return nil, err
	}

	provider, _ := llm.ResolveProvider(req.Provider)

	adapter, ok := o.adapters[provider]
	if !ok {
		return nil, &llm.Error{
			Kind:     llm.KindUnknownProvider,
			Provider: provider,
			Model:    req.ModelName,
			Message:  fmt.Sprintf("no adapter configured for provider %q", provider),
		}
	}

	ctx = log.WithRunID(ctx, req.RunID)
	if req.ClientID != "" {
		ctx = log.WithClientID(ctx, req.ClientID)
	}

	result, err := adapter.Run(ctx, req)
	if err != nil && o.shouldFallBackToDirect(provider, req, err) {
		log.Warn(ctx, "vertex rejected credentials, retrying on the direct Gemini API",
			log.String("model", req.ModelName), log.Cause(err))

		return o.geminiDirect.Run(ctx, req)
	}

	return result, err
}

// shouldFallBackToDirect allows the direct Generative Language API to stand
// in for Vertex, but only for ungrounded runs: the direct tier does not carry
// the same grounding guarantees.
func (o *Orchestrator) shouldFallBackToDirect(provider llm.Provider, req *llm.RunRequest, err error) bool {
	return provider == llm.ProviderVertex &&
		o.allowGeminiDirect &&
		o.geminiDirect != nil &&
		(req.GroundingMode == "" || req.GroundingMode == llm.GroundingOff) &&
		llm.IsKind(err, llm.KindAuthRequired)
}

// AsyncResult is one completed asynchronous run.
type AsyncResult struct {
	Result *llm.RunResult
	Err    error
}

// RunAsync submits the run to the worker pool and returns a channel that
// yields exactly one AsyncResult. Submission fails when the pool is saturated.
func (o *Orchestrator) RunAsync(ctx context.Context, req *llm.RunRequest) (<-chan AsyncResult, error) {
	ch := make(chan AsyncResult, 1)

	err := o.executor.ExecuteFunc(func(context.Context) {
		result, runErr := o.Run(ctx, req)
		ch <- AsyncResult{Result: result, Err: runErr}
		close(ch)
	})
	if err != nil {
		return nil, fmt.Errorf("submit run %s: %w", req.RunID, err)
	}

	return ch, nil
}

// SupportedModels lists the models the configured adapter for the provider
// key claims to support.
func (o *Orchestrator) SupportedModels(provider string) ([]string, error) {
	resolved, ok := llm.ResolveProvider(provider)
	if !ok {
		return nil, &llm.Error{
			Kind:    llm.KindUnknownProvider,
			Message: fmt.Sprintf("unknown provider %q", provider),
		}
	}

	adapter, ok := o.adapters[resolved]
	if !ok {
		return nil, &llm.Error{
			Kind:     llm.KindUnknownProvider,
			Provider: resolved,
			Message:  fmt.Sprintf("no adapter configured for provider %q", provider),
		}
	}

	return adapter.SupportedModels(), nil
}

// Shutdown drains the worker pool.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	return o.executor.Shutdown(ctx)
}

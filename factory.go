package planflow

import (
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/smilemakc/planflow/internal/application/executor"
	"github.com/smilemakc/planflow/internal/domain"
	"github.com/smilemakc/planflow/internal/infrastructure/monitoring"
	"github.com/smilemakc/planflow/internal/infrastructure/storage"
)

// EngineConfig wires an Engine's dependencies; every field has a working
// zero-value default except the OpenAI credentials.
type EngineConfig struct {
	// OpenAIAPIKey authenticates plan generation and the reference
	// LLMCompletionTool. Leave empty to run with no LLM-backed tool or
	// planner (Generate/Execute will fail without a planner.Client).
	OpenAIAPIKey string
	// OpenAIBaseURL overrides the default OpenAI endpoint, e.g. for a
	// compatible gateway.
	OpenAIBaseURL string
	// PlannerModel is the chat-completion model used for plan generation.
	PlannerModel string
	// HTTPClient backs the reference HTTPTool; defaults to a plain
	// *http.Client with a 30s timeout (executor.NewHTTPTool's own default)
	// when nil.
	HTTPClient executor.HTTPDoer
	// Backend persists suspension records. Defaults to an
	// in-process MemorySuspensionBackend.
	Backend domain.Backend
	// Metrics collects workflow/node execution stats. Defaults to a fresh
	// monitoring.MetricsCollector.
	Metrics *monitoring.MetricsCollector
	// ExtraSinks receive every FlowEvent alongside the default logging/
	// metrics sinks and each run's own EventStream, e.g. a
	// websocket.SocketObserver for live dashboards.
	ExtraSinks []domain.FlowEventSink
	// ExtraTools are registered on the base registry in addition to the
	// reference HTTPTool/LLMCompletionTool, available to every Execute/
	// Generate call unless shadowed by a per-call tool with the same id.
	ExtraTools []domain.Tool
	// ExtraJoins are registered on the base registry alongside ExtraTools.
	ExtraJoins []*domain.Join
	// Callback, when set, is notified after every successful tool call,
	// off the run's critical path. See executor.NewHTTPCallbackProcessor
	// for the HTTP-POST implementation.
	Callback executor.NodeCallbackProcessor
	// SuspensionTTL is the engine default for how long suspension tokens
	// stay valid; RunOptions.SuspensionTTL overrides it per run. Zero
	// means tokens never expire on their own.
	SuspensionTTL time.Duration
	// EventBufferSize is each run's EventStream channel capacity; a full
	// buffer backpressures the scheduler. Defaults to 256.
	EventBufferSize int
}

const defaultPlannerModel = "gpt-4o"

// NewEngine builds an Engine from cfg: each concern (registry, compiler,
// validator, planner, backend, sinks) gets its own small constructor call,
// composed here rather than hidden behind a single do-everything function.
func NewEngine(cfg EngineConfig) *Engine {
	var client *openai.Client
	if cfg.OpenAIAPIKey != "" {
		oaCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
		if cfg.OpenAIBaseURL != "" {
			oaCfg.BaseURL = cfg.OpenAIBaseURL
		}
		client = openai.NewClientWithConfig(oaCfg)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	registry := executor.NewRegistry(httpClient, client)
	for _, t := range cfg.ExtraTools {
		registry.RegisterTool(t)
	}
	for _, j := range cfg.ExtraJoins {
		registry.RegisterJoin(j)
	}

	compiler := executor.NewCompiler(registry)
	validator := executor.NewPlanValidator(registry)

	model := cfg.PlannerModel
	if model == "" {
		model = defaultPlannerModel
	}
	planner := executor.NewPlannerAdapter(client, model, validator)

	backend := cfg.Backend
	if backend == nil {
		backend = storage.NewMemorySuspensionBackend()
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = monitoring.NewMetricsCollector()
	}
	sinks := []domain.FlowEventSink{executor.NewDefaultSink(metrics, cfg.ExtraSinks...)}

	bufferSize := cfg.EventBufferSize
	if bufferSize <= 0 {
		bufferSize = defaultEventBufferSize
	}

	return &Engine{
		registry:        registry,
		compiler:        compiler,
		validator:       validator,
		planner:         planner,
		openaiClient:    client,
		model:           model,
		backend:         backend,
		resumer:         executor.NewResumeCoordinator(backend),
		sinks:           sinks,
		callback:        cfg.Callback,
		suspensionTTL:   cfg.SuspensionTTL,
		eventBufferSize: bufferSize,
	}
}

// NewSuspensionJanitor builds a janitor sweeping the Engine's own backend,
// for a caller to run in a goroutine alongside the server.
func (e *Engine) NewSuspensionJanitor(interval time.Duration) *executor.SuspensionJanitor {
	return executor.NewSuspensionJanitor(e.backend, interval)
}

// Package planflow is the public entry point for the planning and execution
// engine: synthesize a Plan from a natural-language goal, compile it to an
// IR, and run it to a stream of FlowEvents.
package planflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/smilemakc/planflow/internal/application/executor"
	"github.com/smilemakc/planflow/internal/domain"
)

// EventStream is the live feed of FlowEvents for one run. It
// is closed once the run reaches flow-complete, flow-error or
// flow-suspended.
type EventStream <-chan *domain.FlowEvent

// defaultEventBufferSize is each EventStream channel's capacity when
// EngineConfig doesn't set one.
const defaultEventBufferSize = 256

// channelSink fans FlowEvents into an EventStream channel. The buffer
// gives a slow consumer some slack before producers block on it.
type channelSink struct {
	ch chan *domain.FlowEvent
}

func newChannelSink(size int) *channelSink {
	if size <= 0 {
		size = defaultEventBufferSize
	}
	return &channelSink{ch: make(chan *domain.FlowEvent, size)}
}

func (s *channelSink) Emit(event *domain.FlowEvent) {
	s.ch <- event
}

// RunOptions configures a single execute/generate call. ToolTimeout and the
// rest of a node's retry/timeout behavior come from the Plan's own
// run-config; RunOptions only covers what the caller, not
// the model, decides.
type RunOptions struct {
	// SystemPrompt overrides the engine's default plan-generation prompt.
	SystemPrompt string
	// SessionID scopes tool invocations needing durable per-session state
	// (domain.ToolContext.SessionID); a random one is assigned if empty.
	SessionID string
	// Input seeds the root scope's "input" variable.
	Input map[string]any
	// SuspensionTTL bounds how long a suspended run's token stays valid;
	// zero means the record never expires on its own.
	SuspensionTTL time.Duration
}

const defaultSystemPrompt = `You are a planning engine. Given a goal, produce a Plan as JSON: a flat, ` +
	`id-referenced graph of operator nodes (tool, parallel, if-then, loop, map, filter, reduce, switch, ` +
	`sequence). Reference every input explicitly via $ variable syntax; never assume implicit data flow.`

// Engine holds everything a run needs that does not change per call: the
// tool/join registry, the compiler and validator built over it, the plan
// generator, the suspension backend, and the event sinks every run feeds
// in addition to its own EventStream.
type Engine struct {
	registry     *domain.Registry
	compiler     *executor.Compiler
	validator    *executor.PlanValidator
	planner      *executor.PlannerAdapter
	openaiClient *openai.Client
	model        string
	backend      domain.Backend
	resumer      *executor.ResumeCoordinator
	sinks        []domain.FlowEventSink
	callback     executor.NodeCallbackProcessor

	suspensionTTL   time.Duration
	eventBufferSize int

	// irCache lets Resume re-enter a suspended run with the same IR that
	// produced it. It is process-memory-bound like MemorySuspensionBackend
	// itself: resume only works within the engine instance that ran the
	// original flow. A durable IR store alongside a bun-backed Backend
	// would lift this.
	irCache sync.Map // flowID string -> *domain.IR
}

// Instance is a compiled, not-yet-run Plan. It lets a caller inspect the Plan before committing to run it.
type Instance struct {
	engine *Engine
	plan   *domain.Plan
	ir     *domain.IR
	opts   RunOptions
}

// GetPlan returns the compiled Plan.
func (i *Instance) GetPlan() *domain.Plan {
	return i.plan
}

// Run starts the Instance's compiled IR and returns its EventStream
// immediately; the run itself proceeds on a background goroutine.
func (i *Instance) Run(ctx context.Context) EventStream {
	return i.engine.runIR(ctx, i.ir, i.opts)
}

// RunCollect runs the Instance to completion and returns its terminal
// result, blocking until flow-complete/flow-error/flow-suspended. input,
// if non-nil, overrides the Instance's configured RunOptions.Input.
func (i *Instance) RunCollect(ctx context.Context, input map[string]any) (map[string]any, error) {
	opts := i.opts
	if input != nil {
		opts.Input = input
	}
	return collect(i.engine.runIR(ctx, i.ir, opts))
}

// Execute plans, compiles and runs goal in one call, returning its
// EventStream immediately. tools and joins are registered
// on top of the Engine's base registry for the duration of this run only.
func (e *Engine) Execute(ctx context.Context, goal string, tools []domain.Tool, joins []*domain.Join, opts RunOptions) (EventStream, error) {
	instance, err := e.Generate(ctx, goal, tools, joins, opts)
	if err != nil {
		return nil, err
	}
	return instance.Run(ctx), nil
}

// Generate plans and compiles goal without running it, returning an
// Instance handle.
func (e *Engine) Generate(ctx context.Context, goal string, tools []domain.Tool, joins []*domain.Join, opts RunOptions) (*Instance, error) {
	registry := e.registryFor(tools, joins)

	systemPrompt := opts.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}

	planner := e.planner
	if registry != e.registry {
		planner = executor.NewPlannerAdapter(e.openaiClient, e.model, executor.NewPlanValidator(registry))
	}

	plan, err := planner.Generate(ctx, systemPrompt, goal)
	if err != nil {
		return nil, err
	}

	compiler := e.compiler
	if registry != e.registry {
		compiler = executor.NewCompiler(registry)
	}
	ir, err := compiler.Compile(plan)
	if err != nil {
		return nil, err
	}

	return &Instance{engine: e, plan: plan, ir: ir, opts: opts}, nil
}

// Resume re-enters a suspended run at its suspended node, consuming the
// suspension token so a second resume with the same key fails. resumeInput stands in for the awaited tool's result.
func (e *Engine) Resume(ctx context.Context, suspensionKey string, resumeInput map[string]any) (EventStream, error) {
	record, err := e.backend.Fetch(suspensionKey)
	if err != nil {
		return nil, err
	}
	irv, ok := e.irCache.Load(record.FlowID)
	if !ok {
		return nil, fmt.Errorf("planflow: no cached IR for flow %q; resume must happen in the process that ran it", record.FlowID)
	}
	ir := irv.(*domain.IR)

	sink := newChannelSink(e.eventBufferSize)
	fanout := e.fanoutSink(sink)
	sessionID := uuid.NewString()
	sched := executor.NewScheduler(ir, executor.NewInvoker(ir.Registry, executor.NewExprEvaluator(), fanout, e.callback), executor.NewExprEvaluator(), fanout, e.backend)

	go func() {
		defer close(sink.ch)
		if _, err := e.resumer.Resume(ctx, sched, suspensionKey, sessionID, resumeInput); err != nil {
			sink.ch <- domain.NewFlowEvent(domain.FlowEventError, record.FlowID, 0, "", "", map[string]any{"error": err.Error()})
		}
	}()

	return sink.ch, nil
}

// runIR starts ir on a fresh Scheduler and returns its EventStream,
// running the scheduler itself on a background goroutine.
func (e *Engine) runIR(ctx context.Context, ir *domain.IR, opts RunOptions) EventStream {
	ttl := opts.SuspensionTTL
	if ttl == 0 {
		ttl = e.suspensionTTL
	}

	sink := newChannelSink(e.eventBufferSize)
	fanout := e.fanoutSink(sink)
	sched := executor.NewScheduler(ir, executor.NewInvoker(ir.Registry, executor.NewExprEvaluator(), fanout, e.callback), executor.NewExprEvaluator(), fanout, e.backend).
		WithSuspensionTTL(ttl)

	flowID := uuid.NewString()
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	e.irCache.Store(flowID, ir)

	go func() {
		defer close(sink.ch)
		if _, err := sched.Run(ctx, flowID, sessionID, opts.Input); err != nil {
			// Run already emitted flow-error/flow-suspended itself; nothing
			// further to surface here.
			_ = err
		}
	}()

	return sink.ch
}

// fanoutSink combines this run's channel sink with the Engine's standing
// sinks (logging, metrics, any extras from EngineConfig), so a caller
// draining the EventStream and background observability both see every
// event from one FlowEventSink.Emit broadcast.
func (e *Engine) fanoutSink(primary domain.FlowEventSink) domain.FlowEventSink {
	if len(e.sinks) == 0 {
		return primary
	}
	return &domain.MultiFlowEventSink{Sinks: append([]domain.FlowEventSink{primary}, e.sinks...)}
}

// registryFor returns e.registry unchanged when tools/joins is empty
// (the common case), or a fresh registry layering them on top otherwise.
func (e *Engine) registryFor(tools []domain.Tool, joins []*domain.Join) *domain.Registry {
	if len(tools) == 0 && len(joins) == 0 {
		return e.registry
	}
	r := domain.NewRegistry()
	for _, t := range e.registry.Tools() {
		r.RegisterTool(t)
	}
	for _, t := range tools {
		r.RegisterTool(t)
	}
	for _, j := range joins {
		r.RegisterJoin(j)
	}
	return r
}

// collect drains an EventStream to its terminal event and returns the
// run's result or error.
func collect(stream EventStream) (map[string]any, error) {
	for event := range stream {
		switch event.Type {
		case domain.FlowEventComplete:
			result, _ := event.Data["result"].(map[string]any)
			return result, nil
		case domain.FlowEventError:
			msg, _ := event.Data["error"].(string)
			return nil, fmt.Errorf("flow failed: %s", msg)
		case domain.FlowEventSuspended:
			key, _ := event.Data["suspensionKey"].(string)
			return nil, fmt.Errorf("flow suspended: %s", key)
		}
	}
	return nil, fmt.Errorf("event stream closed without a terminal event")
}

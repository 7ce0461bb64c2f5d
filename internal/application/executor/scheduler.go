package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/smilemakc/planflow/internal/domain"
	flowerrors "github.com/smilemakc/planflow/internal/domain/errors"
)

// defaultLoopIterationCap bounds "while" loops so a condition that never
// turns false cannot spin forever.
const defaultLoopIterationCap = 10_000

// defaultRunRetryBudget caps retries across a whole run, on top of each
// node's own retry policy.
const defaultRunRetryBudget = 100

// Scheduler executes a compiled IR: it walks the graph from the entry
// point in edge order, dispatching each node by kind. Composite nodes
// (parallel, if-then, loop, switch, sequence) run their children directly;
// top-level ordering between siblings comes from the graph's edges.
type Scheduler struct {
	ir       *domain.IR
	invoker  *Invoker
	eval     *ExprEvaluator
	sink     domain.FlowEventSink
	backend  domain.Backend
	cbs      *CircuitBreakerRegistry
	budget   *RetryBudget
	budgetMu sync.Mutex
	sequence int64
	seqMu    sync.Mutex

	completed *xsync.MapOf[string, map[string]any]

	// outputCache memoizes cache-enabled tool nodes for the duration of
	// the run, keyed by node id plus a digest of the resolved inputs.
	outputCache *xsync.MapOf[string, map[string]any]

	// suspensionTTL bounds how long a suspension record created by this
	// run stays valid; zero means it never expires on its own. Set via
	// WithSuspensionTTL.
	suspensionTTL time.Duration
}

// NewScheduler builds a Scheduler for a single run of ir.
func NewScheduler(ir *domain.IR, invoker *Invoker, eval *ExprEvaluator, sink domain.FlowEventSink, backend domain.Backend) *Scheduler {
	return &Scheduler{
		ir:        ir,
		invoker:   invoker,
		eval:      eval,
		sink:      sink,
		backend:   backend,
		cbs:       NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig()),
		budget:      NewRetryBudget(defaultRunRetryBudget),
		completed:   xsync.NewMapOf[string, map[string]any](),
		outputCache: xsync.NewMapOf[string, map[string]any](),
	}
}

// WithSuspensionTTL sets how long suspension records created by this run
// remain valid, returning s for chaining at construction time.
func (s *Scheduler) WithSuspensionTTL(ttl time.Duration) *Scheduler {
	s.suspensionTTL = ttl
	return s
}

// Run executes the IR against a root scope seeded with input. The returned
// map is the final node's recorded output. A tool-requested suspension ends
// the run with a flow-suspended event and a *suspendError; every other
// failure ends it with flow-error.
func (s *Scheduler) Run(ctx context.Context, flowID, sessionID string, input map[string]any) (map[string]any, error) {
	scope := domain.NewRootScope(input)

	s.emit(flowID, domain.FlowEventStart, "", "", map[string]any{"input": input})

	out, err := s.runGraph(ctx, flowID, sessionID, scope)
	if err != nil {
		return nil, s.emitTerminalError(flowID, err)
	}

	s.emit(flowID, domain.FlowEventComplete, "", "", map[string]any{"result": out})
	return out, nil
}

// Resume re-enters execution after a suspension: the record's scope and
// completed-output snapshots are rehydrated, the suspended node is treated
// as having returned resumeInput, and graph traversal continues from there.
func (s *Scheduler) Resume(ctx context.Context, flowID, sessionID string, record *domain.SuspensionRecord, resumeInput map[string]any) (map[string]any, error) {
	if err := s.validateResumeInput(record.NodeID, resumeInput); err != nil {
		return nil, err
	}

	scope := domain.NewRootScope(nil)
	for k, v := range record.ScopeSnapshot {
		_ = scope.Set(k, v)
	}
	for nodeID, out := range record.CompletedOutputs {
		s.completed.Store(nodeID, out)
	}

	s.emit(flowID, domain.FlowEventResumed, record.NodeID, "", map[string]any{"suspensionKey": record.SuspensionID})

	// The suspended node completes with resumeInput standing in for its
	// tool's result: record the output, bind its output variable, and emit
	// the node-complete the original run never got to.
	s.completed.Store(record.NodeID, resumeInput)
	if node, ok := s.ir.Graph.Nodes[record.NodeID]; ok {
		if v := node.OutputVar(); v != "" {
			_ = scope.Set(v, resumeInput)
		}
	}
	s.emit(flowID, domain.FlowEventNodeComplete, record.NodeID, "", map[string]any{"result": resumeInput})

	out, err := s.runGraph(ctx, flowID, sessionID, scope)
	if err != nil {
		return nil, s.emitTerminalError(flowID, err)
	}
	s.emit(flowID, domain.FlowEventComplete, "", "", map[string]any{"result": out})
	return out, nil
}

// emitTerminalError emits flow-suspended for a suspension, flow-error for
// everything else, and hands err back for the caller to return.
func (s *Scheduler) emitTerminalError(flowID string, err error) error {
	var susp *suspendError
	if asSuspendError(err, &susp) {
		s.emit(flowID, domain.FlowEventSuspended, susp.nodeID, "", map[string]any{"suspensionKey": susp.suspensionID, "message": susp.message})
		return err
	}
	s.emit(flowID, domain.FlowEventError, "", "", map[string]any{"error": err.Error()})
	return err
}

// validateResumeInput checks resumeInput against the suspended tool's
// output schema, since the input stands in for that tool's result.
func (s *Scheduler) validateResumeInput(nodeID string, resumeInput map[string]any) error {
	node, ok := s.ir.Graph.Nodes[nodeID]
	if !ok {
		return flowerrors.NewFlowError(flowerrors.ErrCompilation, fmt.Sprintf("suspended node %q not found in IR", nodeID))
	}
	toolNode, ok := node.(*domain.ToolNode)
	if !ok {
		return nil
	}
	tool, ok := s.ir.Registry.Tool(toolNode.ToolID)
	if !ok {
		return nil
	}
	if schema := tool.OutputSchema(); schema != nil {
		if err := schema.Validate(resumeInput); err != nil {
			return flowerrors.Wrap(flowerrors.ErrInputValidation, "resume input", err).WithNode(nodeID).WithTool(toolNode.ToolID)
		}
	}
	return nil
}

// runGraph executes the entry point and then every node that becomes ready
// as its edge predecessors complete. The result is the output of the last
// node to run.
func (s *Scheduler) runGraph(ctx context.Context, flowID, sessionID string, scope *domain.Scope) (map[string]any, error) {
	last, err := s.execNode(ctx, flowID, sessionID, s.ir.Graph.EntryPoint, scope, true)
	if err != nil {
		return nil, err
	}

	for {
		progressed := false
		for _, e := range s.ir.Graph.Edges {
			if _, done := s.completed.Load(e.To); done {
				continue
			}
			if _, done := s.completed.Load(e.From); !done {
				continue
			}
			if !s.edgePredecessorsDone(e.To) {
				continue
			}
			out, err := s.execNode(ctx, flowID, sessionID, e.To, scope, true)
			if err != nil {
				return nil, err
			}
			last = out
			progressed = true
		}
		if !progressed {
			return last, nil
		}
	}
}

// edgePredecessorsDone reports whether every edge into nodeID has a
// completed source.
func (s *Scheduler) edgePredecessorsDone(nodeID string) bool {
	for _, e := range s.ir.Graph.Edges {
		if e.To != nodeID {
			continue
		}
		if _, ok := s.completed.Load(e.From); !ok {
			return false
		}
	}
	return true
}

// execNode dispatches a single IR node. memo controls whether a prior
// recorded output short-circuits the execution: loop bodies pass false so
// each iteration re-runs its nodes, everything else passes true so a node
// reached through both an edge and a composite runs exactly once.
func (s *Scheduler) execNode(ctx context.Context, flowID, sessionID, nodeID string, scope *domain.Scope, memo bool) (map[string]any, error) {
	node, ok := s.ir.Graph.Nodes[nodeID]
	if !ok {
		return nil, flowerrors.NewFlowError(flowerrors.ErrCompilation, fmt.Sprintf("node %q not found in IR", nodeID)).WithFlow(flowID)
	}

	if memo {
		if out, ok := s.completed.Load(nodeID); ok {
			return out, nil
		}
	}

	if ctx.Err() != nil {
		return nil, flowerrors.NewFlowError(flowerrors.ErrCancelled, "run cancelled").WithNode(nodeID).WithFlow(flowID)
	}

	s.emit(flowID, domain.FlowEventNodeStart, nodeID, "", map[string]any{"nodeType": string(node.Kind())})

	childCtx := ctx
	var cancel context.CancelFunc
	if cfg := node.RunConfig(); cfg != nil && cfg.Timeout > 0 {
		childCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	out, err := s.dispatch(childCtx, flowID, sessionID, node, scope, memo)
	if err != nil {
		var susp *suspendError
		if !asSuspendError(err, &susp) {
			s.emit(flowID, domain.FlowEventNodeError, nodeID, "", map[string]any{"error": err.Error()})
		}
		return nil, err
	}

	s.completed.Store(nodeID, out)
	if v := node.OutputVar(); v != "" {
		_ = scope.Set(v, out)
	}
	s.emit(flowID, domain.FlowEventNodeComplete, nodeID, "", map[string]any{"result": out})
	return out, nil
}

func (s *Scheduler) dispatch(ctx context.Context, flowID, sessionID string, node domain.IRNode, scope *domain.Scope, memo bool) (map[string]any, error) {
	switch n := node.(type) {
	case *domain.ToolNode:
		return s.dispatchTool(ctx, flowID, sessionID, n, scope)
	case *domain.ConditionalNode:
		return s.dispatchConditional(ctx, flowID, sessionID, n, scope, memo)
	case *domain.ParallelNode:
		return s.dispatchParallel(ctx, flowID, sessionID, n, scope, memo)
	case *domain.SequenceNode:
		return s.dispatchSequence(ctx, flowID, sessionID, n, scope, memo)
	case *domain.LoopNode:
		return s.dispatchLoop(ctx, flowID, sessionID, n, scope)
	case *domain.SwitchNode:
		return s.dispatchSwitch(ctx, flowID, sessionID, n, scope, memo)
	default:
		return nil, flowerrors.NewFlowError(flowerrors.ErrCompilation, fmt.Sprintf("unhandled IR node kind %q", node.Kind())).WithNode(node.ID()).WithFlow(flowID)
	}
}

// dispatchTool runs a ToolNode through the configured retry policy and a
// per-tool circuit breaker, surfacing a suspension as a distinguished
// *suspendError rather than an ordinary failure.
func (s *Scheduler) dispatchTool(ctx context.Context, flowID, sessionID string, n *domain.ToolNode, scope *domain.Scope) (map[string]any, error) {
	var cacheKey string
	if cfg := n.RunConfig(); cfg != nil && cfg.Cache {
		resolved, err := s.eval.ResolveMap(n.Inputs, scope, s.snapshotCompleted())
		if err == nil {
			cacheKey = n.ID() + "#" + inputsDigest(resolved)
			if out, ok := s.outputCache.Load(cacheKey); ok {
				return out, nil
			}
		}
	}

	cb := s.cbs.Get(n.ToolID)
	policy := PolicyFromRunConfig(n.RunConfig())

	var output map[string]any
	var suspend *domain.SuspendSignal

	runErr := policy.Run(ctx, func(attempt int) error {
		if attempt > 0 && !s.useRetryBudget() {
			return flowerrors.NewFlowError(flowerrors.ErrToolFailurePermanent, "run retry budget exhausted")
		}
		return cb.Execute(ctx, func() error {
			var err error
			output, suspend, err = s.invoker.Invoke(ctx, n, scope, s.snapshotCompleted(), flowID, sessionID)
			return err
		})
	})
	if runErr != nil {
		return nil, wrapTimeout(ctx, runErr).WithNode(n.ID()).WithFlow(flowID)
	}
	if suspend != nil {
		createdAt := timeNow()
		record := &domain.SuspensionRecord{
			SuspensionID:     newSuspensionID(),
			FlowID:           flowID,
			NodeID:           n.ID(),
			AwaitKind:        suspend.AwaitKind,
			Payload:          suspend.Payload,
			CompletedOutputs: s.snapshotCompleted(),
			ScopeSnapshot:    scope.Snapshot(),
			CreatedAt:        createdAt,
		}
		if s.suspensionTTL > 0 {
			record.ExpiresAt = createdAt.Add(s.suspensionTTL)
		}
		// The record must be durable before flow-suspended goes out, so a
		// caller acting on the event can always resume.
		if s.backend != nil {
			if err := s.backend.Store(record); err != nil {
				return nil, flowerrors.Wrap(flowerrors.ErrToolFailurePermanent, "persist suspension", err).WithNode(n.ID()).WithFlow(flowID)
			}
		}
		return nil, &suspendError{nodeID: n.ID(), suspensionID: record.SuspensionID, message: suspend.AwaitKind}
	}
	if cacheKey != "" {
		s.outputCache.Store(cacheKey, output)
	}
	return output, nil
}

// inputsDigest hashes a resolved input map deterministically (JSON object
// keys marshal in sorted order).
func inputsDigest(inputs map[string]any) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return fmt.Sprintf("unhashable:%d", len(inputs))
	}
	h := fnv.New64a()
	_, _ = h.Write(data)
	return fmt.Sprintf("%x", h.Sum64())
}

func wrapTimeout(ctx context.Context, err error) *flowerrors.FlowError {
	if ctx.Err() == context.DeadlineExceeded {
		return flowerrors.Wrap(flowerrors.ErrTimeout, "node timed out", err)
	}
	if fe, ok := err.(*flowerrors.FlowError); ok {
		return fe
	}
	return flowerrors.Wrap(flowerrors.ErrToolFailurePermanent, "tool invocation failed", err)
}

func (s *Scheduler) dispatchConditional(ctx context.Context, flowID, sessionID string, n *domain.ConditionalNode, scope *domain.Scope, memo bool) (map[string]any, error) {
	ok, err := s.eval.EvalBool(n.Condition.Source, scope, s.snapshotCompleted())
	if err != nil {
		return nil, err
	}
	branch := n.ElseBranch
	if ok {
		branch = n.ThenBranch
	}
	return s.runSteps(ctx, flowID, sessionID, branch, scope.Child(), memo)
}

func (s *Scheduler) dispatchSwitch(ctx context.Context, flowID, sessionID string, n *domain.SwitchNode, scope *domain.Scope, memo bool) (map[string]any, error) {
	disc, err := s.eval.Resolve(n.Discriminator, scope, s.snapshotCompleted())
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%v", disc)
	branch, ok := n.Cases[key]
	if !ok {
		branch = n.Default
	}
	if len(branch) == 0 {
		return map[string]any{"matched": false}, nil
	}
	return s.runSteps(ctx, flowID, sessionID, branch, scope.Child(), memo)
}

func (s *Scheduler) dispatchSequence(ctx context.Context, flowID, sessionID string, n *domain.SequenceNode, scope *domain.Scope, memo bool) (map[string]any, error) {
	return s.runSteps(ctx, flowID, sessionID, n.Steps, scope.Child(), memo)
}

// runSteps executes a list of node ids in order, stopping at the first
// failure (used by SequenceNode and by branch lists of if-then/switch).
func (s *Scheduler) runSteps(ctx context.Context, flowID, sessionID string, steps []string, scope *domain.Scope, memo bool) (map[string]any, error) {
	var last map[string]any
	for _, id := range steps {
		out, err := s.execNode(ctx, flowID, sessionID, id, scope, memo)
		if err != nil {
			return nil, err
		}
		last = out
	}
	return last, nil
}

// dispatchParallel runs each branch concurrently and combines results per
// JoinStrategy.
func (s *Scheduler) dispatchParallel(ctx context.Context, flowID, sessionID string, n *domain.ParallelNode, scope *domain.Scope, memo bool) (map[string]any, error) {
	branchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type branchResult struct {
		out map[string]any
		err error
	}
	results := make([]branchResult, len(n.Branches))

	var wg sync.WaitGroup
	for i, steps := range n.Branches {
		wg.Add(1)
		go func(i int, steps []string) {
			defer wg.Done()
			out, err := s.runSteps(branchCtx, flowID, sessionID, steps, scope.Child(), memo)
			results[i] = branchResult{out: out, err: err}
			if err != nil && n.JoinStrategy == domain.JoinAll {
				cancel()
			}
			if err == nil && n.JoinStrategy == domain.JoinRace {
				cancel()
			}
		}(i, steps)
	}
	wg.Wait()

	switch n.JoinStrategy {
	case domain.JoinRace:
		for _, r := range results {
			if r.err == nil {
				return r.out, nil
			}
		}
		return nil, flowerrors.NewFlowError(flowerrors.ErrToolFailurePermanent, "all parallel branches failed in race").WithNode(n.ID()).WithFlow(flowID)

	case domain.JoinSettled:
		successes := make([]map[string]any, 0, len(results))
		failures := make([]string, 0)
		for _, r := range results {
			if r.err != nil {
				failures = append(failures, r.err.Error())
				continue
			}
			successes = append(successes, r.out)
		}
		return map[string]any{"successes": successes, "failures": failures}, nil

	default: // JoinAll
		branches := make([]map[string]any, len(results))
		byKey := map[string][]any{}
		for i, r := range results {
			if r.err != nil {
				return nil, r.err
			}
			branches[i] = r.out
			for k, v := range r.out {
				byKey[k] = append(byKey[k], v)
			}
		}
		merged := map[string]any{"branches": branches}
		for k, vs := range byKey {
			if len(vs) > 1 {
				// Same key produced by more than one branch: keep every
				// branch's value, in branch order, rather than letting the
				// last one silently win.
				merged[k] = vs
			} else {
				merged[k] = vs[0]
			}
		}
		return merged, nil
	}
}

// dispatchLoop runs the loop/map/filter/reduce family. Body nodes always
// execute with memoization off so every iteration re-runs them.
func (s *Scheduler) dispatchLoop(ctx context.Context, flowID, sessionID string, n *domain.LoopNode, scope *domain.Scope) (map[string]any, error) {
	switch n.LoopType {
	case domain.LoopWhile:
		return s.dispatchWhile(ctx, flowID, sessionID, n, scope)
	case domain.LoopReduce:
		return s.dispatchReduce(ctx, flowID, sessionID, n, scope)
	default: // for / map / filter
		return s.dispatchCollectionLoop(ctx, flowID, sessionID, n, scope)
	}
}

func (s *Scheduler) dispatchWhile(ctx context.Context, flowID, sessionID string, n *domain.LoopNode, scope *domain.Scope) (map[string]any, error) {
	if n.Condition == nil {
		return nil, flowerrors.NewFlowError(flowerrors.ErrCompilation, "while loop has no condition").WithNode(n.ID()).WithFlow(flowID)
	}
	var last map[string]any
	for i := 0; i < defaultLoopIterationCap; i++ {
		cont, err := s.eval.EvalBool(n.Condition.Source, scope, s.snapshotCompleted())
		if err != nil {
			return nil, err
		}
		if !cont {
			return last, nil
		}
		out, err := s.runSteps(ctx, flowID, sessionID, n.Body, scope.Child(), false)
		if err != nil {
			return nil, err
		}
		last = out
	}
	return nil, flowerrors.NewFlowError(flowerrors.ErrLoopBound, "while loop exceeded iteration cap").WithNode(n.ID()).WithFlow(flowID)
}

func (s *Scheduler) dispatchReduce(ctx context.Context, flowID, sessionID string, n *domain.LoopNode, scope *domain.Scope) (map[string]any, error) {
	items, err := s.resolveCollection(n, scope)
	if err != nil {
		return nil, err
	}
	accumulator, err := s.eval.Resolve(n.Initial, scope, s.snapshotCompleted())
	if err != nil {
		return nil, err
	}

	for _, item := range items {
		iterScope := scope.Child()
		if n.IteratorVar != "" {
			_ = iterScope.Set(n.IteratorVar, item)
		}
		_ = iterScope.Set(n.Accumulator, accumulator)
		out, err := s.runSteps(ctx, flowID, sessionID, n.Body, iterScope, false)
		if err != nil {
			return nil, err
		}
		accumulator = out
	}

	result, _ := accumulator.(map[string]any)
	if result == nil {
		result = map[string]any{"value": accumulator}
	}
	return result, nil
}

func (s *Scheduler) dispatchCollectionLoop(ctx context.Context, flowID, sessionID string, n *domain.LoopNode, scope *domain.Scope) (map[string]any, error) {
	items, err := s.resolveCollection(n, scope)
	if err != nil {
		return nil, err
	}

	cfg := n.RunConfig()
	if cfg != nil && cfg.Parallel {
		return s.dispatchCollectionLoopParallel(ctx, flowID, sessionID, n, scope, items, cfg.Concurrency)
	}

	skipErrors := n.LoopType == domain.LoopFilter && cfg != nil && cfg.SkipOnError
	skipped := NewElementErrorCollector()

	var results []map[string]any
	for i, item := range items {
		iterScope := scope.Child()
		if n.IteratorVar != "" {
			_ = iterScope.Set(n.IteratorVar, item)
		}
		out, err := s.runLoopBody(ctx, flowID, sessionID, n, iterScope)
		if err != nil {
			if skipErrors {
				skipped.Record(i, err)
				continue
			}
			return nil, err
		}
		if n.LoopType == domain.LoopFilter {
			if truthy(out) {
				results = append(results, asResultMap(item))
			}
			continue
		}
		results = append(results, out)
	}
	if n.LoopType == domain.LoopFor {
		return map[string]any{"iterations": len(items)}, nil
	}
	result := map[string]any{"items": results}
	if errs := skipped.Messages(); len(errs) > 0 {
		result["errors"] = errs
	}
	return result, nil
}

func (s *Scheduler) dispatchCollectionLoopParallel(ctx context.Context, flowID, sessionID string, n *domain.LoopNode, scope *domain.Scope, items []any, concurrency int) (map[string]any, error) {
	if concurrency <= 0 {
		concurrency = len(items)
	}
	sem := make(chan struct{}, concurrency)
	results := make([]map[string]any, len(items))
	keep := make([]bool, len(items))
	errs := make([]error, len(items))

	cfg := n.RunConfig()
	skipErrors := n.LoopType == domain.LoopFilter && cfg != nil && cfg.SkipOnError
	skipped := NewElementErrorCollector()

	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, item any) {
			defer wg.Done()
			defer func() { <-sem }()
			iterScope := scope.Child()
			if n.IteratorVar != "" {
				_ = iterScope.Set(n.IteratorVar, item)
			}
			out, err := s.runLoopBody(ctx, flowID, sessionID, n, iterScope)
			if err != nil {
				if skipErrors {
					skipped.Record(i, err)
					return
				}
				errs[i] = err
				return
			}
			if n.LoopType == domain.LoopFilter {
				keep[i] = truthy(out)
				results[i] = asResultMap(item)
				return
			}
			results[i] = out
		}(i, item)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	var out []map[string]any
	for i := range items {
		if n.LoopType == domain.LoopFilter {
			if keep[i] {
				out = append(out, results[i])
			}
			continue
		}
		out = append(out, results[i])
	}
	if n.LoopType == domain.LoopFor {
		return map[string]any{"iterations": len(items)}, nil
	}
	result := map[string]any{"items": out}
	if msgs := skipped.Messages(); len(msgs) > 0 {
		result["errors"] = msgs
	}
	return result, nil
}

// runLoopBody runs one iteration: the body node list, or, for a filter
// declared with a condition instead of a body, the condition itself, whose
// boolean result decides whether the element is kept.
func (s *Scheduler) runLoopBody(ctx context.Context, flowID, sessionID string, n *domain.LoopNode, iterScope *domain.Scope) (map[string]any, error) {
	if len(n.Body) == 0 && n.LoopType == domain.LoopFilter && n.Condition != nil {
		keep, err := s.eval.EvalBool(n.Condition.Source, iterScope, s.snapshotCompleted())
		if err != nil {
			return nil, err
		}
		return map[string]any{"value": keep}, nil
	}
	return s.runSteps(ctx, flowID, sessionID, n.Body, iterScope, false)
}

func (s *Scheduler) resolveCollection(n *domain.LoopNode, scope *domain.Scope) ([]any, error) {
	raw, err := s.eval.Resolve(n.Collection, scope, s.snapshotCompleted())
	if err != nil {
		return nil, err
	}
	switch v := raw.(type) {
	case []any:
		return v, nil
	case nil:
		return nil, nil
	default:
		return nil, flowerrors.NewFlowError(flowerrors.ErrCompilation, fmt.Sprintf("collection did not resolve to a list, got %T", raw)).WithNode(n.ID())
	}
}

func truthy(v map[string]any) bool {
	if v == nil {
		return false
	}
	if b, ok := v["value"].(bool); ok {
		return b
	}
	return len(v) > 0
}

// asResultMap keeps filter results uniform: map elements pass through,
// scalar elements are wrapped under "value".
func asResultMap(item any) map[string]any {
	if m, ok := item.(map[string]any); ok {
		return m
	}
	return map[string]any{"value": item}
}

// useRetryBudget consumes one retry from the run-level budget, reporting
// false once the budget is spent.
func (s *Scheduler) useRetryBudget() bool {
	s.budgetMu.Lock()
	defer s.budgetMu.Unlock()
	return s.budget.UseRetry()
}

func (s *Scheduler) snapshotCompleted() map[string]map[string]any {
	out := make(map[string]map[string]any)
	s.completed.Range(func(k string, v map[string]any) bool {
		out[k] = v
		return true
	})
	return out
}

func (s *Scheduler) emit(flowID string, eventType domain.FlowEventType, nodeID, toolID string, data map[string]any) {
	if s.sink == nil {
		return
	}
	s.seqMu.Lock()
	s.sequence++
	seq := s.sequence
	s.seqMu.Unlock()
	s.sink.Emit(domain.NewFlowEvent(eventType, flowID, seq, nodeID, toolID, data))
}

// suspendError signals that execution paused on a tool's SuspendSignal
// rather than failing outright. It travels up through execNode/runSteps
// like any other error so composite dispatch stops immediately, but
// Run/Resume recognize it and emit flow-suspended instead of flow-error.
type suspendError struct {
	nodeID       string
	suspensionID string
	message      string
}

func (e *suspendError) Error() string {
	return fmt.Sprintf("node %q suspended (%s)", e.nodeID, e.suspensionID)
}

func asSuspendError(err error, target **suspendError) bool {
	se, ok := err.(*suspendError)
	if ok {
		*target = se
	}
	return ok
}

// newSuspensionID mints an unguessable suspension token.
func newSuspensionID() string {
	return "susp_" + uuid.NewString()
}

func timeNow() time.Time { return time.Now() }

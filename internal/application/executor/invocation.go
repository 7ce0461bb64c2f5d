package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smilemakc/planflow/internal/domain"
	flowerrors "github.com/smilemakc/planflow/internal/domain/errors"
)

// Invoker runs the tool invocation contract: look the tool up, resolve
// and validate its inputs, call Execute, validate the output, and emit the
// tool-start/tool-output/tool-error events around the call.
type Invoker struct {
	eval     *ExprEvaluator
	reg      *domain.Registry
	sink     domain.FlowEventSink
	callback NodeCallbackProcessor
}

// NewInvoker builds an Invoker over a tool registry, an expression
// evaluator for input resolution, and the event sink tool-start/output/
// error events are published to. callback may be nil; when set, it fires
// once per successful tool call (see fireCallback below).
func NewInvoker(reg *domain.Registry, eval *ExprEvaluator, sink domain.FlowEventSink, callback NodeCallbackProcessor) *Invoker {
	return &Invoker{reg: reg, eval: eval, sink: sink, callback: callback}
}

// Invoke runs one ToolNode to completion: lookup, resolve, validate input,
// call, enforce timeout (the caller is expected to have already wrapped ctx
// with the node's timeout; see scheduler.go), validate output, and emit
// tool-start/tool-output/tool-error around the call.
func (inv *Invoker) Invoke(ctx context.Context, node *domain.ToolNode, scope *domain.Scope, completedOutputs map[string]map[string]any, flowID, sessionID string) (map[string]any, *domain.SuspendSignal, error) {
	if fromToolID, toToolID, ok := parseJoinToolID(node.ToolID); ok {
		out, err := inv.invokeJoin(node, scope, completedOutputs, flowID, fromToolID, toToolID)
		return out, nil, err
	}

	tool, ok := inv.reg.Tool(node.ToolID)
	if !ok {
		return nil, nil, flowerrors.NewFlowError(flowerrors.ErrCompilation, fmt.Sprintf("tool %q is not registered", node.ToolID)).WithNode(node.ID()).WithTool(node.ToolID)
	}

	input, err := inv.eval.ResolveMap(node.Inputs, scope, completedOutputs)
	if err != nil {
		return nil, nil, err
	}

	if schema := tool.InputSchema(); schema != nil {
		if err := schema.Validate(input); err != nil {
			return nil, nil, flowerrors.Wrap(flowerrors.ErrInputValidation, fmt.Sprintf("tool %q input", node.ToolID), err).WithNode(node.ID()).WithTool(node.ToolID)
		}
	}

	tctx := &domain.ToolContext{
		Context:   ctx,
		FlowID:    flowID,
		NodeID:    node.ID(),
		SessionID: sessionID,
		ScopeReader: func(name string) (any, bool) { return scope.Get(name) },
		Emit: func(eventType string, data map[string]any) {
			if inv.sink == nil {
				return
			}
			inv.sink.Emit(domain.NewFlowEvent(domain.FlowEventType(eventType), flowID, 0, node.ID(), node.ToolID, data))
		},
	}

	inv.emit(flowID, domain.FlowEventToolStart, node.ID(), node.ToolID, map[string]any{"input": input})
	log.Debug().Str("tool_id", node.ToolID).Str("node_id", node.ID()).Msg("invoking tool")
	startedAt := time.Now()

	output, suspend, err := tool.Execute(input, tctx)
	if err != nil {
		inv.emit(flowID, domain.FlowEventToolError, node.ID(), node.ToolID, map[string]any{"error": err.Error()})
		return nil, nil, err
	}
	if suspend != nil {
		return nil, suspend, nil
	}

	if schema := tool.OutputSchema(); schema != nil {
		if err := schema.Validate(output); err != nil {
			wrapped := flowerrors.Wrap(flowerrors.ErrOutputValidation, fmt.Sprintf("tool %q output", node.ToolID), err).WithNode(node.ID()).WithTool(node.ToolID)
			inv.emit(flowID, domain.FlowEventToolError, node.ID(), node.ToolID, map[string]any{"error": wrapped.Error()})
			return nil, nil, wrapped
		}
	}

	inv.emit(flowID, domain.FlowEventToolOutput, node.ID(), node.ToolID, map[string]any{"output": output})
	inv.fireCallback(flowID, node, output, startedAt)
	return output, nil, nil
}

// invokeJoin runs a synthetic join node spliced in by the compiler: resolve
// the upstream output the node's "from" input references, apply the
// registered join's Decode, and publish the decoded map as this node's
// output. Join transforms are pure, so there is no timeout or suspension
// path here.
func (inv *Invoker) invokeJoin(node *domain.ToolNode, scope *domain.Scope, completedOutputs map[string]map[string]any, flowID, fromToolID, toToolID string) (map[string]any, error) {
	join, ok := inv.reg.JoinFor(fromToolID, toToolID)
	if !ok {
		return nil, flowerrors.NewFlowError(flowerrors.ErrCompilation, fmt.Sprintf("join %s -> %s is not registered", fromToolID, toToolID)).WithNode(node.ID())
	}

	input, err := inv.eval.ResolveMap(node.Inputs, scope, completedOutputs)
	if err != nil {
		return nil, err
	}
	from, _ := input["from"].(map[string]any)
	if from == nil {
		return nil, flowerrors.NewFlowError(flowerrors.ErrMissingReference, "join node has no upstream output to decode").WithNode(node.ID())
	}

	inv.emit(flowID, domain.FlowEventToolStart, node.ID(), node.ToolID, map[string]any{"input": from})
	decoded, err := join.Decode(from)
	if err != nil {
		wrapped := flowerrors.Wrap(flowerrors.ErrToolFailurePermanent, fmt.Sprintf("join %s -> %s decode", fromToolID, toToolID), err).WithNode(node.ID())
		inv.emit(flowID, domain.FlowEventToolError, node.ID(), node.ToolID, map[string]any{"error": wrapped.Error()})
		return nil, wrapped
	}
	inv.emit(flowID, domain.FlowEventToolOutput, node.ID(), node.ToolID, map[string]any{"output": decoded})
	return decoded, nil
}

// fireCallback notifies inv.callback, if configured, of a successful tool
// call on its own goroutine so a slow or unreachable callback endpoint
// never delays the run (NodeCallbackProcessor's own contract).
func (inv *Invoker) fireCallback(flowID string, node *domain.ToolNode, output map[string]any, startedAt time.Time) {
	if inv.callback == nil {
		return
	}
	data := &NodeCallbackData{
		ExecutionID: flowID,
		NodeID:      node.ID(),
		NodeType:    node.ToolID,
		Output:      output,
		Duration:    time.Since(startedAt),
		StartedAt:   startedAt,
		CompletedAt: time.Now(),
	}
	go func() {
		if err := inv.callback.Process(context.Background(), data); err != nil {
			log.Warn().Err(err).Str("node_id", node.ID()).Msg("node callback failed")
		}
	}()
}

func (inv *Invoker) emit(flowID string, eventType domain.FlowEventType, nodeID, toolID string, data map[string]any) {
	if inv.sink == nil {
		return
	}
	inv.sink.Emit(domain.NewFlowEvent(eventType, flowID, 0, nodeID, toolID, data))
}

package executor

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/smilemakc/planflow/internal/domain"
	flowerrors "github.com/smilemakc/planflow/internal/domain/errors"
)

// Compiler lowers a validated Plan into an executable IR: each flat plan
// node becomes its IRNode shape, tool-to-tool edges get join nodes spliced
// in where schemas mismatch, and references are checked statically.
type Compiler struct {
	registry *domain.Registry
}

// NewCompiler builds a Compiler against the tool/join registry used for
// join injection (step 3 of §4.5).
func NewCompiler(registry *domain.Registry) *Compiler {
	return &Compiler{registry: registry}
}

// Compile lowers plan into an IR. The caller must have already run
// PlanValidator.Validate and found no errors; Compile still reports
// MissingJoin/Compilation failures that only surface once schemas are
// known to be connectable (step 3 is schema-aware, not purely structural).
func (c *Compiler) Compile(plan *domain.Plan) (*domain.IR, error) {
	nodes := make(map[string]domain.IRNode, len(plan.Nodes))
	for _, n := range plan.Nodes {
		irNode, err := c.lowerNode(n)
		if err != nil {
			return nil, err
		}
		nodes[n.ID()] = irNode
	}

	edges, err := c.buildEdges(plan, nodes)
	if err != nil {
		return nil, err
	}

	entry, err := c.entryPoint(plan, nodes)
	if err != nil {
		return nil, err
	}

	if err := c.checkReferences(nodes); err != nil {
		return nil, err
	}

	graph := &domain.IRGraph{Nodes: nodes, Edges: edges, EntryPoint: entry}
	return &domain.IR{Version: plan.Version, Metadata: plan.Metadata, Graph: graph, Registry: c.registry}, nil
}

// lowerNode dispatches a single Plan node to its IRNode shape by operator
// kind.
func (c *Compiler) lowerNode(n *domain.Node) (domain.IRNode, error) {
	kind := domain.OperatorKind(n.Type())
	cfg := runConfigOf(n)
	outputVar, _ := n.Config()["outputVar"].(string)

	switch kind {
	case domain.OperatorTool:
		toolID, _ := domain.ToolID(n)
		inputs, err := lowerValueMap(domain.Inputs(n))
		if err != nil {
			return nil, flowerrors.Wrap(flowerrors.ErrCompilation, fmt.Sprintf("node %q inputs", n.ID()), err)
		}
		return domain.NewToolNode(n.ID(), outputVar, cfg, toolID, inputs), nil

	case domain.OperatorParallel:
		ids := domain.ParallelIDs(n)
		branches := make([][]string, len(ids))
		for i, id := range ids {
			branches[i] = []string{id}
		}
		return domain.NewParallelNode(n.ID(), outputVar, cfg, branches, domain.JoinStrategyOf(n)), nil

	case domain.OperatorIfThen:
		condSrc, _ := domain.Condition(n)
		return domain.NewConditionalNode(n.ID(), outputVar, cfg, domain.Expression{Source: condSrc}, domain.IfTrue(n), domain.IfFalse(n)), nil

	case domain.OperatorSwitch:
		disc := lowerValue(domain.Discriminator(n))
		return domain.NewSwitchNode(n.ID(), outputVar, cfg, disc, domain.Cases(n), domain.DefaultCase(n)), nil

	case domain.OperatorLoop:
		if collection := domain.Collection(n); collection != nil {
			return domain.NewLoopNode(n.ID(), outputVar, cfg, domain.LoopFor, lowerValue(collection), nil, domain.IteratorVar(n), domain.Body(n), "", nil), nil
		}
		condSrc, _ := domain.LoopCondition(n)
		cond := domain.Expression{Source: condSrc}
		return domain.NewLoopNode(n.ID(), outputVar, cfg, domain.LoopWhile, nil, &cond, "", domain.Body(n), "", nil), nil

	case domain.OperatorMap:
		return domain.NewLoopNode(n.ID(), outputVar, cfg, domain.LoopMap, lowerValue(domain.Collection(n)), nil, domain.IteratorVar(n), domain.Body(n), "", nil), nil

	case domain.OperatorFilter:
		var cond *domain.Expression
		if condSrc, ok := domain.Condition(n); ok {
			c := domain.Expression{Source: condSrc}
			cond = &c
		}
		return domain.NewLoopNode(n.ID(), outputVar, cfg, domain.LoopFilter, lowerValue(domain.Collection(n)), cond, domain.IteratorVar(n), domain.Body(n), "", nil), nil

	case domain.OperatorReduce:
		return domain.NewLoopNode(n.ID(), outputVar, cfg, domain.LoopReduce, lowerValue(domain.Collection(n)), nil, domain.IteratorVar(n), domain.Body(n), domain.Accumulator(n), lowerValue(domain.Initial(n))), nil

	case domain.OperatorSequence:
		return domain.NewSequenceNode(n.ID(), outputVar, cfg, domain.Steps(n)), nil

	default:
		return nil, flowerrors.NewFlowError(flowerrors.ErrCompilation, fmt.Sprintf("node %q has unknown operator kind %q", n.ID(), n.Type()))
	}
}

// runConfigDTO is the wire shape of a plan node's optional run config.
// Durations are seconds, matching how the planner's JSON carries them.
type runConfigDTO struct {
	Timeout     float64 `json:"timeout"`
	Retries     int     `json:"retries"`
	RetryDelay  float64 `json:"retryDelay"`
	Cache       bool    `json:"cache"`
	Parallel    bool    `json:"parallel"`
	Concurrency int     `json:"concurrency"`
	SkipOnError bool    `json:"skipOnError"`
}

// runConfigOf reads the optional per-node run config from a Plan node's
// config map.
func runConfigOf(n *domain.Node) *domain.NodeRunConfig {
	dto, err := parseConfig[runConfigDTO](n.Config())
	if err != nil || dto == nil {
		return &domain.NodeRunConfig{}
	}
	return &domain.NodeRunConfig{
		Timeout:     durationFromSeconds(dto.Timeout),
		Retries:     dto.Retries,
		RetryDelay:  durationFromSeconds(dto.RetryDelay),
		Cache:       dto.Cache,
		Parallel:    dto.Parallel,
		Concurrency: dto.Concurrency,
		SkipOnError: dto.SkipOnError,
	}
}

// lowerValue interprets a single plan field: string-typed fields starting
// with "$" are always references; everything else (including non-string
// JSON values) is a Literal.
func lowerValue(raw any) domain.IRValue {
	if s, ok := raw.(string); ok {
		if v, ok := domain.ParseVariableRef(s); ok {
			return v
		}
	}
	return domain.Literal{Value: raw}
}

func lowerValueMap(raw map[string]any) (map[string]domain.IRValue, error) {
	out := make(map[string]domain.IRValue, len(raw))
	for k, v := range raw {
		out[k] = lowerValue(v)
	}
	return out, nil
}

func durationFromSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// buildEdges assembles the IR's control-flow edges from the Plan's explicit
// edges, injecting a synthetic join ToolNode wherever
// a tool→tool edge crosses an output/input schema mismatch that a
// registered Join bridges. An edge between two tool nodes whose schemas
// mismatch with no registered join fails compilation with ErrCompilation
// naming the missing pair.
func (c *Compiler) buildEdges(plan *domain.Plan, nodes map[string]domain.IRNode) ([]domain.IREdge, error) {
	edges := make([]domain.IREdge, 0, len(plan.Edges))

	for _, e := range plan.Edges {
		fromNode, ok := nodes[e.FromNodeID()]
		if !ok {
			return nil, flowerrors.NewFlowError(flowerrors.ErrCompilation, fmt.Sprintf("edge references unknown node %q", e.FromNodeID()))
		}
		toNode, ok := nodes[e.ToNodeID()]
		if !ok {
			return nil, flowerrors.NewFlowError(flowerrors.ErrCompilation, fmt.Sprintf("edge references unknown node %q", e.ToNodeID()))
		}

		fromTool, fromIsTool := fromNode.(*domain.ToolNode)
		toTool, toIsTool := toNode.(*domain.ToolNode)
		if !fromIsTool || !toIsTool {
			edges = append(edges, domain.IREdge{From: e.FromNodeID(), To: e.ToNodeID()})
			continue
		}

		join, ok := c.registry.JoinFor(fromTool.ToolID, toTool.ToolID)
		if !ok {
			if mismatch := c.schemaMismatch(fromTool.ToolID, toTool.ToolID); mismatch != "" {
				return nil, flowerrors.NewFlowError(flowerrors.ErrCompilation,
					fmt.Sprintf("missing join: %s -> %s (%s)", fromTool.ToolID, toTool.ToolID, mismatch))
			}
			// Schemas line up without a join: wire directly.
			edges = append(edges, domain.IREdge{From: e.FromNodeID(), To: e.ToNodeID()})
			continue
		}

		joinNodeID := joinNodeID(fromTool.ToolID, toTool.ToolID)
		if _, exists := nodes[joinNodeID]; !exists {
			nodes[joinNodeID] = domain.NewToolNode(joinNodeID, "", &domain.NodeRunConfig{}, joinToolID(join), map[string]domain.IRValue{
				"from": domain.Reference{NodeID: e.FromNodeID(), OutputName: ""},
			})
		}
		edges = append(edges, domain.IREdge{From: e.FromNodeID(), To: joinNodeID})
		edges = append(edges, domain.IREdge{From: joinNodeID, To: e.ToNodeID()})

		// Redirect the downstream tool's own references to the upstream
		// tool's raw output so it reads the join's decoded output instead.
		for k, v := range toTool.Inputs {
			if ref, ok := v.(domain.Reference); ok && ref.NodeID == e.FromNodeID() {
				toTool.Inputs[k] = domain.Reference{NodeID: joinNodeID, OutputName: ref.OutputName}
			}
		}
	}

	return edges, nil
}

// schemaMismatch reports why fromToolID's output can't feed toToolID's input
// directly, or "" if no registered join is needed. A mismatch exists when
// toToolID requires an input field fromToolID's output schema doesn't
// declare.
func (c *Compiler) schemaMismatch(fromToolID, toToolID string) string {
	fromTool, ok := c.registry.Tool(fromToolID)
	if !ok {
		return ""
	}
	toTool, ok := c.registry.Tool(toToolID)
	if !ok {
		return ""
	}
	out := fromTool.OutputSchema()
	in := toTool.InputSchema()
	if out == nil || in == nil {
		return ""
	}
	outDefs := out.GetDefinitions()
	for name, def := range in.GetDefinitions() {
		if !def.Required {
			continue
		}
		if _, ok := outDefs[name]; !ok {
			return fmt.Sprintf("%q required by %s not produced by %s", name, toToolID, fromToolID)
		}
	}
	return ""
}

// joinNodeID derives a deterministic synthetic node id for the join between
// two tools, hashed with FNV so compiling the same plan twice yields the
// same ids without embedding raw tool ids (which may contain characters
// unsafe for a node-id namespace) in the output.
func joinNodeID(fromToolID, toToolID string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(fmt.Sprintf("join:%s->%s", fromToolID, toToolID)))
	return fmt.Sprintf("__join_%x", h.Sum64())
}

// joinToolPrefix marks a ToolNode as a synthetic join: the invoker calls
// the registered Join's Decode for it instead of looking up a Registry tool.
const joinToolPrefix = "__join__:"

func joinToolID(j *domain.Join) string {
	return fmt.Sprintf("%s%s->%s", joinToolPrefix, j.FromToolID, j.ToToolID)
}

// parseJoinToolID reverses joinToolID, reporting ok=false for ordinary
// tool ids.
func parseJoinToolID(toolID string) (fromToolID, toToolID string, ok bool) {
	if !strings.HasPrefix(toolID, joinToolPrefix) {
		return "", "", false
	}
	pair := strings.TrimPrefix(toolID, joinToolPrefix)
	from, to, found := strings.Cut(pair, "->")
	if !found || from == "" || to == "" {
		return "", "", false
	}
	return from, to, true
}

// checkReferences verifies, before any node runs, that every Reference
// names a node present in the graph and every Variable names something some
// node can have bound by then: the run input, a node's output variable, or
// a loop's iterator/accumulator. Order-of-definition mistakes still surface
// at run time as MissingReference; this pass catches names nothing in the
// graph could ever produce.
func (c *Compiler) checkReferences(nodes map[string]domain.IRNode) error {
	definable := map[string]bool{"input": true}
	for _, n := range nodes {
		if v := n.OutputVar(); v != "" {
			definable[v] = true
		}
		if loop, ok := n.(*domain.LoopNode); ok {
			if loop.IteratorVar != "" {
				definable[loop.IteratorVar] = true
			}
			if loop.Accumulator != "" {
				definable[loop.Accumulator] = true
			}
		}
	}

	check := func(nodeID string, v domain.IRValue) error {
		switch val := v.(type) {
		case domain.Reference:
			if _, ok := nodes[val.NodeID]; !ok {
				return flowerrors.NewFlowError(flowerrors.ErrCompilation,
					fmt.Sprintf("node %q references output of unknown node %q", nodeID, val.NodeID))
			}
		case domain.Variable:
			if !definable[val.Name] {
				return flowerrors.NewFlowError(flowerrors.ErrCompilation,
					fmt.Sprintf("node %q reads variable %q no node produces", nodeID, val.Name))
			}
		}
		return nil
	}

	for id, n := range nodes {
		switch node := n.(type) {
		case *domain.ToolNode:
			for _, v := range node.Inputs {
				if err := check(id, v); err != nil {
					return err
				}
			}
		case *domain.LoopNode:
			if node.Collection != nil {
				if err := check(id, node.Collection); err != nil {
					return err
				}
			}
			if node.Initial != nil {
				if err := check(id, node.Initial); err != nil {
					return err
				}
			}
		case *domain.SwitchNode:
			if node.Discriminator != nil {
				if err := check(id, node.Discriminator); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// entryPoint picks the single root, or synthesizes a SequenceNode wrapping
// multiple roots.
func (c *Compiler) entryPoint(plan *domain.Plan, nodes map[string]domain.IRNode) (string, error) {
	if len(plan.RootIDs) == 0 {
		return "", flowerrors.NewFlowError(flowerrors.ErrCompilation, "plan has no rootIds")
	}
	if len(plan.RootIDs) == 1 {
		return plan.RootIDs[0], nil
	}
	id := "__entry_sequence"
	nodes[id] = domain.NewSequenceNode(id, "", &domain.NodeRunConfig{}, plan.RootIDs)
	return id, nil
}

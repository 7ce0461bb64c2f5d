package domain

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"
)

func init() {
	gob.Register(Literal{})
	gob.Register(Variable{})
	gob.Register(Reference{})
	gob.Register(Expression{})
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// ParallelJoinStrategy controls how a ParallelNode's branches are
// combined once they finish.
type ParallelJoinStrategy string

const (
	// JoinAll waits for every branch to succeed; the first failure cancels
	// the rest and propagates.
	JoinAll ParallelJoinStrategy = "all"
	// JoinRace returns as soon as one branch succeeds; losers are cancelled.
	JoinRace ParallelJoinStrategy = "race"
	// JoinSettled waits for all branches and returns successes and
	// failures together without propagating.
	JoinSettled ParallelJoinStrategy = "settled"
)

// NodeRunConfig is the per-node execution config: timeout, retries,
// caching and loop concurrency.
type NodeRunConfig struct {
	Timeout     time.Duration
	Retries     int
	RetryDelay  time.Duration
	Cache       bool
	Parallel    bool
	Concurrency int
	// SkipOnError makes a filter loop drop elements whose body fails
	// instead of failing the whole loop.
	SkipOnError bool
}

// IRNode is the tagged variant over the six node kinds. The marker method
// seals the set so the scheduler can switch exhaustively over it.
type IRNode interface {
	irNode()
	ID() string
	Kind() OperatorKind
	OutputVar() string
	RunConfig() *NodeRunConfig
}

type baseIRNode struct {
	id        string
	outputVar string
	config    *NodeRunConfig
}

func (b baseIRNode) ID() string              { return b.id }
func (b baseIRNode) OutputVar() string       { return b.outputVar }
func (b baseIRNode) RunConfig() *NodeRunConfig {
	if b.config == nil {
		return &NodeRunConfig{}
	}
	return b.config
}

// ToolNode invokes a single registered tool.
type ToolNode struct {
	baseIRNode
	ToolID string
	Inputs map[string]IRValue
}

func (ToolNode) irNode()            {}
func (ToolNode) Kind() OperatorKind { return OperatorTool }

// NewToolNode builds a ToolNode. Constructors live here (rather than
// exporting baseIRNode's fields) so the compiler (C5, application layer)
// can assemble IR nodes without reaching into domain internals.
func NewToolNode(id, outputVar string, cfg *NodeRunConfig, toolID string, inputs map[string]IRValue) *ToolNode {
	return &ToolNode{baseIRNode: baseIRNode{id: id, outputVar: outputVar, config: cfg}, ToolID: toolID, Inputs: inputs}
}

// ConditionalNode branches on a boolean Expression.
type ConditionalNode struct {
	baseIRNode
	Condition  Expression
	ThenBranch []string
	ElseBranch []string
}

func (ConditionalNode) irNode()            {}
func (ConditionalNode) Kind() OperatorKind { return OperatorIfThen }

// NewConditionalNode builds a ConditionalNode.
func NewConditionalNode(id, outputVar string, cfg *NodeRunConfig, condition Expression, thenBranch, elseBranch []string) *ConditionalNode {
	return &ConditionalNode{
		baseIRNode: baseIRNode{id: id, outputVar: outputVar, config: cfg},
		Condition:  condition, ThenBranch: thenBranch, ElseBranch: elseBranch,
	}
}

// ParallelNode runs its branches concurrently per JoinStrategy.
type ParallelNode struct {
	baseIRNode
	Branches     [][]string
	JoinStrategy ParallelJoinStrategy
}

func (ParallelNode) irNode()            {}
func (ParallelNode) Kind() OperatorKind { return OperatorParallel }

// NewParallelNode builds a ParallelNode.
func NewParallelNode(id, outputVar string, cfg *NodeRunConfig, branches [][]string, strategy ParallelJoinStrategy) *ParallelNode {
	return &ParallelNode{
		baseIRNode:   baseIRNode{id: id, outputVar: outputVar, config: cfg},
		Branches:     branches,
		JoinStrategy: strategy,
	}
}

// SequenceNode runs Steps in order, stopping at the first failure.
type SequenceNode struct {
	baseIRNode
	Steps []string
}

func (SequenceNode) irNode()            {}
func (SequenceNode) Kind() OperatorKind { return OperatorSequence }

// NewSequenceNode builds a SequenceNode.
func NewSequenceNode(id, outputVar string, cfg *NodeRunConfig, steps []string) *SequenceNode {
	return &SequenceNode{baseIRNode: baseIRNode{id: id, outputVar: outputVar, config: cfg}, Steps: steps}
}

// LoopKind distinguishes the loop-family operators (loop, as "for" or
// "while", plus map, filter and reduce), all lowered into a single LoopNode
// shape.
type LoopKind string

const (
	LoopFor    LoopKind = "for"
	LoopWhile  LoopKind = "while"
	LoopMap    LoopKind = "map"
	LoopFilter LoopKind = "filter"
	LoopReduce LoopKind = "reduce"
)

// LoopNode models loop/map/filter/reduce.
type LoopNode struct {
	baseIRNode
	LoopType    LoopKind
	Collection  IRValue // nil for "while"
	Condition   *Expression
	IteratorVar string
	Body        []string
	Accumulator string
	Initial     IRValue
}

func (LoopNode) irNode()            {}
func (LoopNode) Kind() OperatorKind { return OperatorLoop }

// NewLoopNode builds a LoopNode.
func NewLoopNode(id, outputVar string, cfg *NodeRunConfig, loopType LoopKind, collection IRValue, condition *Expression, iteratorVar string, body []string, accumulator string, initial IRValue) *LoopNode {
	return &LoopNode{
		baseIRNode:  baseIRNode{id: id, outputVar: outputVar, config: cfg},
		LoopType:    loopType,
		Collection:  collection,
		Condition:   condition,
		IteratorVar: iteratorVar,
		Body:        body,
		Accumulator: accumulator,
		Initial:     initial,
	}
}

// SwitchNode selects one branch by literal-matching Discriminator against
// Cases, falling back to Default.
type SwitchNode struct {
	baseIRNode
	Discriminator IRValue
	Cases         map[string][]string
	Default       []string
}

func (SwitchNode) irNode()            {}
func (SwitchNode) Kind() OperatorKind { return OperatorSwitch }

// NewSwitchNode builds a SwitchNode.
func NewSwitchNode(id, outputVar string, cfg *NodeRunConfig, discriminator IRValue, cases map[string][]string, def []string) *SwitchNode {
	return &SwitchNode{
		baseIRNode:    baseIRNode{id: id, outputVar: outputVar, config: cfg},
		Discriminator: discriminator,
		Cases:         cases,
		Default:       def,
	}
}

// IREdge is a control-flow ordering link between two IR nodes.
type IREdge struct {
	From string
	To   string
}

// IRGraph is the compiled, executable graph.
type IRGraph struct {
	Nodes       map[string]IRNode
	Edges       []IREdge
	EntryPoint  string
}

// Predecessors returns the ids of nodes with an edge into nodeID.
func (g *IRGraph) Predecessors(nodeID string) []string {
	var out []string
	for _, e := range g.Edges {
		if e.To == nodeID {
			out = append(out, e.From)
		}
	}
	return out
}

// Successors returns the ids of nodes nodeID has an edge into.
func (g *IRGraph) Successors(nodeID string) []string {
	var out []string
	for _, e := range g.Edges {
		if e.From == nodeID {
			out = append(out, e.To)
		}
	}
	return out
}

// IR is the compiler's output and the executor's input.
type IR struct {
	Version  string
	Metadata map[string]any
	Graph    *IRGraph
	Registry *Registry
}

// irNodeDTO is the fully exported wire shape of one IRNode. Gob skips
// unexported fields, so the node identity (id/outputVar/config, embedded
// unexported in every node kind) must be flattened out here to survive a
// round trip.
type irNodeDTO struct {
	NodeKind  OperatorKind
	ID        string
	OutputVar string
	Config    *NodeRunConfig

	ToolID string
	Inputs map[string]IRValue

	Condition  *Expression
	ThenBranch []string
	ElseBranch []string

	Branches     [][]string
	JoinStrategy ParallelJoinStrategy

	Steps []string

	LoopType    LoopKind
	Collection  IRValue
	IteratorVar string
	Body        []string
	Accumulator string
	Initial     IRValue

	Discriminator IRValue
	Cases         map[string][]string
	Default       []string
}

type irGraphDTO struct {
	Nodes      map[string]irNodeDTO
	Edges      []IREdge
	EntryPoint string
}

// irCachePayload is the gob-encoded shape SaveIR/GetIR persist: everything
// about an IR except its Registry, which is process-local tool/join
// wiring and never round-trips through storage. A caller loading a cached
// IR via GetIR must attach its own Registry before running it.
type irCachePayload struct {
	Version  string
	Metadata map[string]any
	Graph    irGraphDTO
}

func nodeToDTO(n IRNode) irNodeDTO {
	dto := irNodeDTO{NodeKind: n.Kind(), ID: n.ID(), OutputVar: n.OutputVar(), Config: n.RunConfig()}
	switch node := n.(type) {
	case *ToolNode:
		dto.ToolID = node.ToolID
		dto.Inputs = node.Inputs
	case *ConditionalNode:
		cond := node.Condition
		dto.Condition = &cond
		dto.ThenBranch = node.ThenBranch
		dto.ElseBranch = node.ElseBranch
	case *ParallelNode:
		dto.Branches = node.Branches
		dto.JoinStrategy = node.JoinStrategy
	case *SequenceNode:
		dto.Steps = node.Steps
	case *LoopNode:
		dto.LoopType = node.LoopType
		dto.Collection = node.Collection
		dto.Condition = node.Condition
		dto.IteratorVar = node.IteratorVar
		dto.Body = node.Body
		dto.Accumulator = node.Accumulator
		dto.Initial = node.Initial
	case *SwitchNode:
		dto.Discriminator = node.Discriminator
		dto.Cases = node.Cases
		dto.Default = node.Default
	}
	return dto
}

func nodeFromDTO(dto irNodeDTO) IRNode {
	switch dto.NodeKind {
	case OperatorTool:
		return NewToolNode(dto.ID, dto.OutputVar, dto.Config, dto.ToolID, dto.Inputs)
	case OperatorIfThen:
		var cond Expression
		if dto.Condition != nil {
			cond = *dto.Condition
		}
		return NewConditionalNode(dto.ID, dto.OutputVar, dto.Config, cond, dto.ThenBranch, dto.ElseBranch)
	case OperatorParallel:
		return NewParallelNode(dto.ID, dto.OutputVar, dto.Config, dto.Branches, dto.JoinStrategy)
	case OperatorSequence:
		return NewSequenceNode(dto.ID, dto.OutputVar, dto.Config, dto.Steps)
	case OperatorLoop:
		return NewLoopNode(dto.ID, dto.OutputVar, dto.Config, dto.LoopType, dto.Collection, dto.Condition, dto.IteratorVar, dto.Body, dto.Accumulator, dto.Initial)
	case OperatorSwitch:
		return NewSwitchNode(dto.ID, dto.OutputVar, dto.Config, dto.Discriminator, dto.Cases, dto.Default)
	default:
		return nil
	}
}

// EncodeIR serializes ir's Version/Metadata/Graph (not its Registry) for a
// PlanRepository's SaveIR. Concrete IRValue variants must be gob-registered
// (done in this package's init) for the interface-typed input fields to
// round-trip.
func EncodeIR(ir *IR) ([]byte, error) {
	payload := irCachePayload{
		Version:  ir.Version,
		Metadata: ir.Metadata,
		Graph:    irGraphDTO{Nodes: map[string]irNodeDTO{}, Edges: ir.Graph.Edges, EntryPoint: ir.Graph.EntryPoint},
	}
	for id, n := range ir.Graph.Nodes {
		payload.Graph.Nodes[id] = nodeToDTO(n)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeIR reverses EncodeIR. The returned IR's Registry is nil; the
// caller must attach one before compiling/running against it.
func DecodeIR(data []byte) (*IR, error) {
	var payload irCachePayload
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&payload); err != nil {
		return nil, err
	}
	graph := &IRGraph{Nodes: map[string]IRNode{}, Edges: payload.Graph.Edges, EntryPoint: payload.Graph.EntryPoint}
	for id, dto := range payload.Graph.Nodes {
		node := nodeFromDTO(dto)
		if node == nil {
			return nil, fmt.Errorf("unknown IR node kind %q for node %q", dto.NodeKind, id)
		}
		graph.Nodes[id] = node
	}
	return &IR{Version: payload.Version, Metadata: payload.Metadata, Graph: graph}, nil
}

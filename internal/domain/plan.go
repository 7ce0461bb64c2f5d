package domain

import (
	"encoding/json"
	"fmt"
)

// OperatorKind is the closed set of plan node operator kinds.
type OperatorKind string

const (
	OperatorTool       OperatorKind = "tool"
	OperatorParallel   OperatorKind = "parallel"
	OperatorIfThen     OperatorKind = "if-then"
	OperatorLoop       OperatorKind = "loop"
	OperatorMap        OperatorKind = "map"
	OperatorFilter     OperatorKind = "filter"
	OperatorReduce     OperatorKind = "reduce"
	OperatorSwitch     OperatorKind = "switch"
	OperatorSequence   OperatorKind = "sequence"
)

// IsValid reports whether k is one of the closed operator kinds.
func (k OperatorKind) IsValid() bool {
	switch k {
	case OperatorTool, OperatorParallel, OperatorIfThen, OperatorLoop,
		OperatorMap, OperatorFilter, OperatorReduce, OperatorSwitch, OperatorSequence:
		return true
	default:
		return false
	}
}

// IsComposite reports whether k names children by id rather than invoking
// a tool directly.
func (k OperatorKind) IsComposite() bool {
	return k != OperatorTool
}

// Plan is the LLM's synthesized output: a flat, id-referenced
// description of a workflow. Composite nodes (parallel/if-then/loop/switch/
// sequence) name child node ids instead of embedding child node bodies.
type Plan struct {
	Version  string         `json:"version"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Nodes    []*Node        `json:"nodes"`
	Edges    []*Edge        `json:"edges"`
	RootIDs  []string       `json:"rootIds"`
}

// NodeByID returns the plan node with the given id, or false if absent.
func (p *Plan) NodeByID(id string) (*Node, bool) {
	for _, n := range p.Nodes {
		if n.ID() == id {
			return n, true
		}
	}
	return nil, false
}

// Plan node config field accessors. A Plan's Node.Config() is a
// map[string]any; these helpers read the operator-specific fields and fail
// closed (zero value, false/empty) rather than panicking, since shape
// validation is the validator's job, not these accessors'.

// ToolID reads the "toolId" field of a tool node.
func ToolID(n *Node) (string, bool) {
	v, ok := n.Config()["toolId"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Inputs reads the "inputs" field of a tool node.
func Inputs(n *Node) map[string]any {
	v, _ := n.Config()["inputs"].(map[string]any)
	return v
}

// ParallelIDs reads the "parallelIds" field of a parallel node.
func ParallelIDs(n *Node) []string {
	return stringSlice(n.Config()["parallelIds"])
}

// JoinStrategyOf reads the optional "joinStrategy" field of a parallel
// node, defaulting to "all".
func JoinStrategyOf(n *Node) ParallelJoinStrategy {
	v, ok := n.Config()["joinStrategy"].(string)
	if !ok || v == "" {
		return JoinAll
	}
	return ParallelJoinStrategy(v)
}

// Condition reads the "condition" field of an if-then node or a filter
// node configured with a condition instead of a body.
func Condition(n *Node) (string, bool) {
	v, ok := n.Config()["condition"].(string)
	return v, ok
}

// IfTrue / IfFalse read the branch id lists of an if-then node.
func IfTrue(n *Node) []string  { return stringSlice(n.Config()["if_true"]) }
func IfFalse(n *Node) []string { return stringSlice(n.Config()["if_false"]) }

// Discriminator reads the "discriminator" field of a switch node. The
// value is returned as-is (spec allows string/number/boolean literals).
func Discriminator(n *Node) any { return n.Config()["discriminator"] }

// Cases reads the "cases" field of a switch node: caseValue -> child ids.
func Cases(n *Node) map[string][]string {
	raw, _ := n.Config()["cases"].(map[string]any)
	out := map[string][]string{}
	for k, v := range raw {
		out[k] = stringSlice(v)
	}
	return out
}

// DefaultCase reads the optional "default" field of a switch node.
func DefaultCase(n *Node) []string { return stringSlice(n.Config()["default"]) }

// Collection reads the "collection" field of a map/filter/reduce/loop node.
func Collection(n *Node) any { return n.Config()["collection"] }

// IteratorVar reads the "as" field of a map/filter/reduce node.
func IteratorVar(n *Node) string {
	s, _ := n.Config()["as"].(string)
	return s
}

// Body reads the "body" field of a loop/map/filter/reduce node.
func Body(n *Node) []string { return stringSlice(n.Config()["body"]) }

// Accumulator reads the "accumulator" field of a reduce node.
func Accumulator(n *Node) string {
	s, _ := n.Config()["accumulator"].(string)
	return s
}

// Initial reads the "initial" field of a reduce node.
func Initial(n *Node) any { return n.Config()["initial"] }

// LoopParallel / LoopConcurrency read map/loop iteration concurrency config.
func LoopParallel(n *Node) bool {
	b, _ := n.Config()["parallel"].(bool)
	return b
}

func LoopConcurrency(n *Node) int {
	switch v := n.Config()["concurrency"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Steps reads the "steps" field of a sequence node.
func Steps(n *Node) []string { return stringSlice(n.Config()["steps"]) }

// LoopCondition reads the "condition" field of a while-style loop node.
func LoopCondition(n *Node) (string, bool) {
	v, ok := n.Config()["condition"].(string)
	return v, ok
}

func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// ValidationErrorKind classifies a structural plan defect.
type ValidationErrorKind string

const (
	ValidationKindSchema     ValidationErrorKind = "schema"
	ValidationKindTool       ValidationErrorKind = "tool"
	ValidationKindConnection ValidationErrorKind = "connection"
)

// ValidationError is one structural defect found by the plan validator.
type ValidationError struct {
	KindOf     ValidationErrorKind
	Path       []string
	Expected   string
	Actual     string
	Suggestion string
}

func (e *ValidationError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s at %v: expected %s, got %s (%s)", e.KindOf, e.Path, e.Expected, e.Actual, e.Suggestion)
	}
	return fmt.Sprintf("%s at %v: expected %s, got %s", e.KindOf, e.Path, e.Expected, e.Actual)
}

// planNodeJSON is the wire shape of one plan node, the one the planner
// (executor/planner_adapter.go) decodes through Plan.UnmarshalJSON:
// a Node's unexported fields aren't directly marshalable, so MarshalJSON/
// UnmarshalJSON flatten to/from "id"/"type" plus the rest of Config().
type planNodeJSON struct {
	ID   string         `json:"id"`
	Type string         `json:"type"`
	Rest map[string]any `json:"-"`
}

func (n *planNodeJSON) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if id, ok := raw["id"].(string); ok {
		n.ID = id
	}
	if t, ok := raw["type"].(string); ok {
		n.Type = t
	}
	delete(raw, "id")
	delete(raw, "type")
	n.Rest = raw
	return nil
}

func (n planNodeJSON) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(n.Rest)+2)
	for k, v := range n.Rest {
		out[k] = v
	}
	out["id"] = n.ID
	out["type"] = n.Type
	return json.Marshal(out)
}

type planEdgeJSON struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type planJSON struct {
	Version  string         `json:"version"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Nodes    []planNodeJSON `json:"nodes"`
	Edges    []planEdgeJSON `json:"edges"`
	RootIDs  []string       `json:"rootIds"`
}

// MarshalJSON flattens Plan into the same wire shape the planner decodes
//, so a stored Plan round-trips byte-for-byte through
// PlanRepository.SavePlan/GetPlan.
func (p *Plan) MarshalJSON() ([]byte, error) {
	pj := planJSON{Version: p.Version, Metadata: p.Metadata, RootIDs: p.RootIDs}
	pj.Nodes = make([]planNodeJSON, len(p.Nodes))
	for i, n := range p.Nodes {
		pj.Nodes[i] = planNodeJSON{ID: n.ID(), Type: n.Type(), Rest: n.Config()}
	}
	pj.Edges = make([]planEdgeJSON, len(p.Edges))
	for i, e := range p.Edges {
		pj.Edges[i] = planEdgeJSON{From: e.FromNodeID(), To: e.ToNodeID()}
	}
	return json.Marshal(pj)
}

// UnmarshalJSON reverses MarshalJSON, reconstructing Nodes/Edges through
// NewNode/NewEdge since their fields are unexported.
func (p *Plan) UnmarshalJSON(data []byte) error {
	var pj planJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		return err
	}
	p.Version = pj.Version
	p.Metadata = pj.Metadata
	p.RootIDs = pj.RootIDs
	p.Nodes = make([]*Node, len(pj.Nodes))
	for i, n := range pj.Nodes {
		p.Nodes[i] = NewNode(n.ID, "", n.Type, n.ID, n.Rest)
	}
	p.Edges = make([]*Edge, len(pj.Edges))
	for i, e := range pj.Edges {
		p.Edges[i] = NewEdge(fmt.Sprintf("%s->%s", e.From, e.To), "", e.From, e.To, "control", nil)
	}
	return nil
}

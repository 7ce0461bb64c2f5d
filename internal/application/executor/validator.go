package executor

import (
	"fmt"

	"github.com/smilemakc/planflow/internal/domain"
)

// PlanValidator checks a decoded Plan for structural soundness before it
// is handed to the compiler: shape and operator-specific required fields,
// reference integrity (including a DFS cycle check over the union of
// composite child references and explicit edges), reachability from
// rootIds, and tool-id registration.
type PlanValidator struct {
	registry *domain.Registry
}

// NewPlanValidator builds a validator against the tool registry a plan's
// tool nodes are checked against.
func NewPlanValidator(registry *domain.Registry) *PlanValidator {
	return &PlanValidator{registry: registry}
}

// Validate runs every check and returns the complete list of defects
// found (not fail-fast), so the planner's retry loop can feed all of them
// back to the model in one round-trip.
func (v *PlanValidator) Validate(plan *domain.Plan) []*domain.ValidationError {
	var errs []*domain.ValidationError

	errs = append(errs, v.validateStructural(plan)...)
	// Reference integrity and reachability presuppose well-formed ids/kinds;
	// skip them if structural checks already found a schema-level fault to
	// avoid cascades of confusing secondary errors.
	if !hasKind(errs, domain.ValidationKindSchema) {
		errs = append(errs, v.validateReferences(plan)...)
		errs = append(errs, v.validateReachability(plan)...)
	}
	errs = append(errs, v.validateTools(plan)...)

	return errs
}

func hasKind(errs []*domain.ValidationError, kind domain.ValidationErrorKind) bool {
	for _, e := range errs {
		if e.KindOf == kind {
			return true
		}
	}
	return false
}

// validateStructural checks unique ids, a recognized operator kind, and
// the operator-specific required fields.
func (v *PlanValidator) validateStructural(plan *domain.Plan) []*domain.ValidationError {
	var errs []*domain.ValidationError
	seen := make(map[string]bool, len(plan.Nodes))

	for _, n := range plan.Nodes {
		path := []string{"nodes", n.ID()}

		if n.ID() == "" {
			errs = append(errs, &domain.ValidationError{
				KindOf: domain.ValidationKindSchema, Path: path,
				Expected: "non-empty node id", Actual: "empty",
			})
			continue
		}
		if seen[n.ID()] {
			errs = append(errs, &domain.ValidationError{
				KindOf: domain.ValidationKindSchema, Path: path,
				Expected: "unique node id", Actual: "duplicate",
				Suggestion: fmt.Sprintf("rename one of the two nodes with id %q", n.ID()),
			})
			continue
		}
		seen[n.ID()] = true

		kind := domain.OperatorKind(n.Type())
		if !kind.IsValid() {
			errs = append(errs, &domain.ValidationError{
				KindOf: domain.ValidationKindSchema, Path: path,
				Expected: "one of tool/parallel/if-then/loop/map/filter/reduce/switch/sequence",
				Actual:   n.Type(),
			})
			continue
		}

		errs = append(errs, v.validateOperatorFields(n, kind, path)...)
	}

	return errs
}

func (v *PlanValidator) validateOperatorFields(n *domain.Node, kind domain.OperatorKind, path []string) []*domain.ValidationError {
	var errs []*domain.ValidationError
	fail := func(expected, actual string) {
		errs = append(errs, &domain.ValidationError{KindOf: domain.ValidationKindSchema, Path: path, Expected: expected, Actual: actual})
	}

	switch kind {
	case domain.OperatorTool:
		if toolID, ok := domain.ToolID(n); !ok || toolID == "" {
			fail("\"toolId\" string field", "missing")
		}
	case domain.OperatorParallel:
		if len(domain.ParallelIDs(n)) == 0 {
			fail("non-empty \"parallelIds\"", "missing or empty")
		}
	case domain.OperatorIfThen:
		if _, ok := domain.Condition(n); !ok {
			fail("\"condition\" string field", "missing")
		}
		if len(domain.IfTrue(n)) == 0 && len(domain.IfFalse(n)) == 0 {
			fail("at least one of \"if_true\"/\"if_false\"", "both missing or empty")
		}
	case domain.OperatorSwitch:
		if n.Config()["discriminator"] == nil {
			fail("\"discriminator\" field", "missing")
		}
		if len(domain.Cases(n)) == 0 {
			fail("non-empty \"cases\" map", "missing or empty")
		}
	case domain.OperatorLoop:
		if domain.Collection(n) == nil {
			if _, ok := domain.LoopCondition(n); !ok {
				fail("\"collection\" or \"condition\" field", "both missing")
			}
		}
		if len(domain.Body(n)) == 0 {
			fail("non-empty \"body\"", "missing or empty")
		}
	case domain.OperatorMap:
		if domain.Collection(n) == nil {
			fail("\"collection\" field", "missing")
		}
		if len(domain.Body(n)) == 0 {
			fail("non-empty \"body\"", "missing or empty")
		}
	case domain.OperatorFilter:
		if domain.Collection(n) == nil {
			fail("\"collection\" field", "missing")
		}
		if len(domain.Body(n)) == 0 {
			if _, ok := domain.Condition(n); !ok {
				fail("\"body\" or \"condition\" field", "both missing")
			}
		}
	case domain.OperatorReduce:
		if domain.Collection(n) == nil {
			fail("\"collection\" field", "missing")
		}
		if domain.Accumulator(n) == "" {
			fail("\"accumulator\" field", "missing")
		}
		if len(domain.Body(n)) == 0 {
			fail("non-empty \"body\"", "missing or empty")
		}
	case domain.OperatorSequence:
		if len(domain.Steps(n)) == 0 {
			fail("non-empty \"steps\"", "missing or empty")
		}
	}

	return errs
}

// childIDs returns every child node id a composite node names, across all
// operator kinds, for reference-integrity and reachability traversal.
func childIDs(n *domain.Node, kind domain.OperatorKind) []string {
	switch kind {
	case domain.OperatorParallel:
		return domain.ParallelIDs(n)
	case domain.OperatorIfThen:
		return append(append([]string{}, domain.IfTrue(n)...), domain.IfFalse(n)...)
	case domain.OperatorSwitch:
		var out []string
		for _, ids := range domain.Cases(n) {
			out = append(out, ids...)
		}
		return append(out, domain.DefaultCase(n)...)
	case domain.OperatorLoop, domain.OperatorMap, domain.OperatorFilter, domain.OperatorReduce:
		return domain.Body(n)
	case domain.OperatorSequence:
		return domain.Steps(n)
	default:
		return nil
	}
}

// validateReferences checks that every child id / edge endpoint names an
// existing node, and that the child-reference graph has no cycles.
func (v *PlanValidator) validateReferences(plan *domain.Plan) []*domain.ValidationError {
	var errs []*domain.ValidationError

	for _, n := range plan.Nodes {
		kind := domain.OperatorKind(n.Type())
		for _, childID := range childIDs(n, kind) {
			if _, ok := plan.NodeByID(childID); !ok {
				errs = append(errs, &domain.ValidationError{
					KindOf: domain.ValidationKindConnection, Path: []string{"nodes", n.ID()},
					Expected: "existing node id", Actual: childID,
					Suggestion: fmt.Sprintf("node %q references undefined node %q", n.ID(), childID),
				})
			}
		}
	}
	for _, e := range plan.Edges {
		if _, ok := plan.NodeByID(e.FromNodeID()); !ok {
			errs = append(errs, &domain.ValidationError{
				KindOf: domain.ValidationKindConnection, Path: []string{"edges", e.ID()},
				Expected: "existing node id", Actual: e.FromNodeID(),
			})
		}
		if _, ok := plan.NodeByID(e.ToNodeID()); !ok {
			errs = append(errs, &domain.ValidationError{
				KindOf: domain.ValidationKindConnection, Path: []string{"edges", e.ID()},
				Expected: "existing node id", Actual: e.ToNodeID(),
			})
		}
	}
	for _, rootID := range plan.RootIDs {
		if _, ok := plan.NodeByID(rootID); !ok {
			errs = append(errs, &domain.ValidationError{
				KindOf: domain.ValidationKindConnection, Path: []string{"rootIds"},
				Expected: "existing node id", Actual: rootID,
			})
		}
	}

	if cyc := v.findCycle(plan); cyc != "" {
		errs = append(errs, &domain.ValidationError{
			KindOf: domain.ValidationKindConnection, Path: []string{"nodes", cyc},
			Expected: "acyclic child/edge references", Actual: "cycle detected",
		})
	}

	return errs
}

// findCycle runs a DFS-with-recursion-stack cycle detector over the union
// of composite child references and explicit edges, returning the id of a
// node found on a cycle, or "".
func (v *PlanValidator) findCycle(plan *domain.Plan) string {
	adj := make(map[string][]string, len(plan.Nodes))
	for _, n := range plan.Nodes {
		adj[n.ID()] = append(adj[n.ID()], childIDs(n, domain.OperatorKind(n.Type()))...)
	}
	for _, e := range plan.Edges {
		adj[e.FromNodeID()] = append(adj[e.FromNodeID()], e.ToNodeID())
	}

	visited := make(map[string]bool, len(plan.Nodes))
	recStack := make(map[string]bool, len(plan.Nodes))

	var dfs func(id string) string
	dfs = func(id string) string {
		visited[id] = true
		recStack[id] = true
		for _, next := range adj[id] {
			if !visited[next] {
				if hit := dfs(next); hit != "" {
					return hit
				}
			} else if recStack[next] {
				return next
			}
		}
		recStack[id] = false
		return ""
	}

	for _, n := range plan.Nodes {
		if !visited[n.ID()] {
			if hit := dfs(n.ID()); hit != "" {
				return hit
			}
		}
	}
	return ""
}

// validateReachability checks that every node is reachable from rootIds,
// either through composite child references or explicit edges.
func (v *PlanValidator) validateReachability(plan *domain.Plan) []*domain.ValidationError {
	reached := make(map[string]bool, len(plan.Nodes))
	var stack []string
	for _, id := range plan.RootIDs {
		stack = append(stack, id)
	}

	edgesFrom := make(map[string][]string, len(plan.Edges))
	for _, e := range plan.Edges {
		edgesFrom[e.FromNodeID()] = append(edgesFrom[e.FromNodeID()], e.ToNodeID())
	}

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reached[id] {
			continue
		}
		reached[id] = true

		n, ok := plan.NodeByID(id)
		if !ok {
			continue
		}
		stack = append(stack, childIDs(n, domain.OperatorKind(n.Type()))...)
		stack = append(stack, edgesFrom[id]...)
	}

	var errs []*domain.ValidationError
	for _, n := range plan.Nodes {
		if !reached[n.ID()] {
			errs = append(errs, &domain.ValidationError{
				KindOf: domain.ValidationKindConnection, Path: []string{"nodes", n.ID()},
				Expected: "reachable from rootIds", Actual: "unreachable",
				Suggestion: fmt.Sprintf("add node %q to rootIds or reference it from a reachable node", n.ID()),
			})
		}
	}
	return errs
}

// validateTools checks that every tool node's toolId is registered.
func (v *PlanValidator) validateTools(plan *domain.Plan) []*domain.ValidationError {
	var errs []*domain.ValidationError
	for _, n := range plan.Nodes {
		if domain.OperatorKind(n.Type()) != domain.OperatorTool {
			continue
		}
		toolID, ok := domain.ToolID(n)
		if !ok {
			continue // already reported by validateStructural
		}
		if v.registry == nil {
			continue
		}
		if _, ok := v.registry.Tool(toolID); !ok {
			errs = append(errs, &domain.ValidationError{
				KindOf: domain.ValidationKindTool, Path: []string{"nodes", n.ID()},
				Expected: "registered tool id", Actual: toolID,
				Suggestion: fmt.Sprintf("register a tool with id %q before compiling", toolID),
			})
		}
	}
	return errs
}

package executor

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/smilemakc/planflow/internal/domain"
	flowerrors "github.com/smilemakc/planflow/internal/domain/errors"
)

// disabledBuiltins is the set of expr-lang builtins this evaluator turns
// off. Plan expressions are a restricted comparison/boolean grammar, not a
// general scripting surface: collection pipelines, date/time access and
// JSON codecs all stay out of reach.
var disabledBuiltins = []string{
	"all", "any", "one", "none", "filter", "map", "find", "findIndex",
	"reduce", "sum", "mean", "median", "sort", "sortBy", "groupBy",
	"exec", "now", "duration", "date", "toJSON", "fromJSON",
	"get", "type", "repeat",
}

// ExprEvaluator evaluates condition/filter expressions against a Scope
// snapshot plus the run's recorded node outputs. "$name.path" references
// are rewritten to plain identifier access before compilation, and node
// outputs are exposed as "<nodeId>.output" in the environment.
type ExprEvaluator struct {
	mu            sync.RWMutex
	compiledCache map[string]*vm.Program
}

// NewExprEvaluator creates an evaluator with an empty compile cache.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{compiledCache: make(map[string]*vm.Program)}
}

func (e *ExprEvaluator) sandboxOptions(env map[string]any) []expr.Option {
	opts := []expr.Option{
		expr.Env(env),
		expr.AllowUndefinedVariables(),
		expr.Function("length", func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("length() takes exactly one argument")
			}
			switch v := params[0].(type) {
			case string:
				return len(v), nil
			case []any:
				return len(v), nil
			case map[string]any:
				return len(v), nil
			default:
				return nil, fmt.Errorf("length() unsupported type %T", v)
			}
		}),
		expr.Function("contains", func(params ...any) (any, error) {
			if len(params) != 2 {
				return nil, fmt.Errorf("contains() takes exactly two arguments")
			}
			s, ok := params[0].(string)
			if !ok {
				return nil, fmt.Errorf("contains() first argument must be a string, got %T", params[0])
			}
			substr, ok := params[1].(string)
			if !ok {
				return nil, fmt.Errorf("contains() second argument must be a string, got %T", params[1])
			}
			return strings.Contains(s, substr), nil
		}),
	}
	for _, b := range disabledBuiltins {
		opts = append(opts, expr.DisableBuiltin(b))
	}
	return opts
}

// compile compiles source into a cached vm.Program against env's shape.
func (e *ExprEvaluator) compile(source string, env map[string]any) (*vm.Program, error) {
	e.mu.RLock()
	p, ok := e.compiledCache[source]
	e.mu.RUnlock()
	if ok {
		return p, nil
	}

	program, err := expr.Compile(source, e.sandboxOptions(env)...)
	if err != nil {
		return nil, flowerrors.Wrap(flowerrors.ErrExpression, fmt.Sprintf("compile %q", source), err)
	}

	e.mu.Lock()
	e.compiledCache[source] = program
	e.mu.Unlock()
	return program, nil
}

// EvalBool runs expression source and requires a boolean result (used for
// if-then conditions, "while" conditions and condition-style filters).
func (e *ExprEvaluator) EvalBool(source string, scope *domain.Scope, completedOutputs map[string]map[string]any) (bool, error) {
	result, err := e.Eval(source, scope, completedOutputs)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, flowerrors.NewFlowError(flowerrors.ErrExpression,
			fmt.Sprintf("expression %q did not evaluate to a boolean, got %T", source, result))
	}
	return b, nil
}

// Eval runs expression source against scope's snapshot plus the recorded
// node outputs.
func (e *ExprEvaluator) Eval(source string, scope *domain.Scope, completedOutputs map[string]map[string]any) (any, error) {
	if strings.TrimSpace(source) == "" {
		return nil, flowerrors.NewFlowError(flowerrors.ErrExpression, "empty expression")
	}

	env := scope.Snapshot()
	for nodeID, out := range completedOutputs {
		if _, shadowed := env[nodeID]; !shadowed {
			env[nodeID] = map[string]any{"output": out}
		}
	}

	program, err := e.compile(stripRefSigils(source), env)
	if err != nil {
		return nil, err
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return nil, flowerrors.Wrap(flowerrors.ErrExpression, fmt.Sprintf("evaluate %q", source), err)
	}
	return result, nil
}

// stripRefSigils turns "$name.path" references into plain identifier
// access ("name.path") so the expression language can resolve them against
// the environment. Dollar signs inside string literals are left alone.
func stripRefSigils(source string) string {
	var b strings.Builder
	b.Grow(len(source))
	var quote rune
	runes := []rune(source)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if quote != 0 {
			b.WriteRune(r)
			if r == quote {
				quote = 0
			}
			continue
		}
		switch {
		case r == '\'' || r == '"':
			quote = r
			b.WriteRune(r)
		case r == '$' && i+1 < len(runes) && isIdentStart(runes[i+1]):
			// drop the sigil
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isIdentStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// Resolve materializes an IRValue against scope. completedOutputs supplies
// Reference lookups; it is keyed by node id and holds each node's recorded
// output map.
func (e *ExprEvaluator) Resolve(value domain.IRValue, scope *domain.Scope, completedOutputs map[string]map[string]any) (any, error) {
	switch v := value.(type) {
	case domain.Literal:
		return v.Value, nil
	case domain.Variable:
		root, ok := scope.Get(v.Name)
		if !ok {
			return nil, flowerrors.NewFlowError(flowerrors.ErrMissingReference,
				fmt.Sprintf("variable %q is not defined in scope", v.Name))
		}
		return walkPath(root, v.Path)
	case domain.Reference:
		out, ok := completedOutputs[v.NodeID]
		if !ok {
			return nil, flowerrors.NewFlowError(flowerrors.ErrMissingReference,
				fmt.Sprintf("node %q has not produced output yet", v.NodeID))
		}
		if v.OutputName == "" {
			return out, nil
		}
		return walkPath(out, strings.Split(v.OutputName, "."))
	case domain.Expression:
		return e.Eval(v.Source, scope, completedOutputs)
	default:
		return nil, flowerrors.NewFlowError(flowerrors.ErrCompilation, fmt.Sprintf("unknown IRValue kind %q", value.Kind()))
	}
}

// ResolveMap resolves every entry of a ToolNode's Inputs map.
func (e *ExprEvaluator) ResolveMap(inputs map[string]domain.IRValue, scope *domain.Scope, completedOutputs map[string]map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(inputs))
	for k, v := range inputs {
		resolved, err := e.Resolve(v, scope, completedOutputs)
		if err != nil {
			return nil, err
		}
		out[k] = resolved
	}
	return out, nil
}

func walkPath(root any, path []string) (any, error) {
	cur := root
	for _, segment := range path {
		switch c := cur.(type) {
		case map[string]any:
			v, ok := c[segment]
			if !ok {
				return nil, flowerrors.NewFlowError(flowerrors.ErrMissingReference,
					fmt.Sprintf("field %q not found", segment))
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil, flowerrors.NewFlowError(flowerrors.ErrMissingReference,
					fmt.Sprintf("index %q out of range for list of %d", segment, len(c)))
			}
			cur = c[idx]
		default:
			return nil, flowerrors.NewFlowError(flowerrors.ErrMissingReference,
				fmt.Sprintf("cannot index %T with field %q", cur, segment))
		}
	}
	return cur, nil
}

package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/planflow/internal/domain"
	flowerrors "github.com/smilemakc/planflow/internal/domain/errors"
)

func TestStripRefSigils(t *testing.T) {
	cases := []struct {
		in, out string
	}{
		{"$x > 3", "x > 3"},
		{"$user.age >= 18 && $user.active", "user.age >= 18 && user.active"},
		{`$name == "$literal"`, `name == "$literal"`},
		{"'$kept' == $v", "'$kept' == v"},
		{"3 > 2", "3 > 2"},
		{"$_x", "_x"},
		{"$ 1", "$ 1"},
	}
	for _, c := range cases {
		assert.Equal(t, c.out, stripRefSigils(c.in), c.in)
	}
}

func TestExprEvaluator_EvalBool(t *testing.T) {
	e := NewExprEvaluator()
	scope := domain.NewRootScope(map[string]any{"count": 5, "name": "widget"})

	cases := []struct {
		expr     string
		expected bool
	}{
		{"$input.count > 3", true},
		{"$input.count == 5 && $input.name == \"widget\"", true},
		{"$input.count < 3 || $input.name == \"widget\"", true},
		{"!($input.count > 3)", false},
		{"contains($input.name, \"wid\")", true},
		{"contains($input.name, \"nope\")", false},
		{"length($input.name) == 6", true},
	}
	for _, c := range cases {
		got, err := e.EvalBool(c.expr, scope, nil)
		require.NoError(t, err, c.expr)
		assert.Equal(t, c.expected, got, c.expr)
	}
}

func TestExprEvaluator_NodeOutputsInEnvironment(t *testing.T) {
	e := NewExprEvaluator()
	scope := domain.NewRootScope(nil)
	completed := map[string]map[string]any{
		"s1": {"isHigh": true, "value": 75},
	}

	got, err := e.EvalBool("$s1.output.isHigh", scope, completed)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestExprEvaluator_NonBooleanResultFails(t *testing.T) {
	e := NewExprEvaluator()
	scope := domain.NewRootScope(map[string]any{"n": 1})

	_, err := e.EvalBool("$input.n + 1", scope, nil)
	require.Error(t, err)
	var fe *flowerrors.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, flowerrors.ErrExpression, fe.Kind)
}

func TestExprEvaluator_EmptyExpressionFails(t *testing.T) {
	e := NewExprEvaluator()
	_, err := e.Eval("  ", domain.NewRootScope(nil), nil)
	require.Error(t, err)
}

func TestExprEvaluator_UnknownFunctionRejected(t *testing.T) {
	e := NewExprEvaluator()
	_, err := e.Eval("exec(\"rm -rf /\")", domain.NewRootScope(nil), nil)
	require.Error(t, err)
}

func TestExprEvaluator_DisabledBuiltinRejected(t *testing.T) {
	e := NewExprEvaluator()
	scope := domain.NewRootScope(map[string]any{"xs": []any{1, 2, 3}})
	_, err := e.Eval("map($input.xs, # + 1)", scope, nil)
	require.Error(t, err)
}

func TestResolve_Literal(t *testing.T) {
	e := NewExprEvaluator()
	got, err := e.Resolve(domain.Literal{Value: 42}, domain.NewRootScope(nil), nil)
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestResolve_VariableWalksPath(t *testing.T) {
	e := NewExprEvaluator()
	scope := domain.NewRootScope(nil)
	require.NoError(t, scope.Set("user", map[string]any{
		"profile": map[string]any{"email": "a@b.c"},
	}))

	got, err := e.Resolve(domain.Variable{Name: "user", Path: []string{"profile", "email"}}, scope, nil)
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", got)
}

func TestResolve_VariableMissing(t *testing.T) {
	e := NewExprEvaluator()
	_, err := e.Resolve(domain.Variable{Name: "ghost"}, domain.NewRootScope(nil), nil)
	require.Error(t, err)
	var fe *flowerrors.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, flowerrors.ErrMissingReference, fe.Kind)
}

func TestResolve_Reference(t *testing.T) {
	e := NewExprEvaluator()
	completed := map[string]map[string]any{
		"n1": {"data": map[string]any{"rows": []any{1, 2}}},
	}

	whole, err := e.Resolve(domain.Reference{NodeID: "n1"}, domain.NewRootScope(nil), completed)
	require.NoError(t, err)
	assert.Equal(t, completed["n1"], whole)

	nested, err := e.Resolve(domain.Reference{NodeID: "n1", OutputName: "data.rows"}, domain.NewRootScope(nil), completed)
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2}, nested)

	_, err = e.Resolve(domain.Reference{NodeID: "n2"}, domain.NewRootScope(nil), completed)
	require.Error(t, err)
	var fe *flowerrors.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, flowerrors.ErrMissingReference, fe.Kind)
}

func TestResolveMap(t *testing.T) {
	e := NewExprEvaluator()
	scope := domain.NewRootScope(map[string]any{"q": "query"})
	completed := map[string]map[string]any{"src": {"url": "http://x"}}

	got, err := e.ResolveMap(map[string]domain.IRValue{
		"query": domain.Variable{Name: "input", Path: []string{"q"}},
		"url":   domain.Reference{NodeID: "src", OutputName: "url"},
		"limit": domain.Literal{Value: 10},
	}, scope, completed)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"query": "query", "url": "http://x", "limit": 10}, got)
}

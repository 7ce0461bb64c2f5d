package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVariableRef(t *testing.T) {
	cases := []struct {
		in       string
		expected IRValue
		ok       bool
	}{
		{"$name", Variable{Name: "name", Path: []string{}}, true},
		{"$user.profile.email", Variable{Name: "user", Path: []string{"profile", "email"}}, true},
		{"$s1.output", Reference{NodeID: "s1"}, true},
		{"$s1.output.title", Reference{NodeID: "s1", OutputName: "title"}, true},
		{"$s1.output.data.rows", Reference{NodeID: "s1", OutputName: "data.rows"}, true},
		{"plain string", nil, false},
		{"", nil, false},
		{"$", nil, false},
	}

	for _, c := range cases {
		got, ok := ParseVariableRef(c.in)
		assert.Equal(t, c.ok, ok, c.in)
		if c.ok {
			assert.Equal(t, c.expected, got, c.in)
		}
	}
}

func TestIRValueKinds(t *testing.T) {
	assert.Equal(t, "literal", Literal{}.Kind())
	assert.Equal(t, "variable", Variable{}.Kind())
	assert.Equal(t, "reference", Reference{}.Kind())
	assert.Equal(t, "expression", Expression{}.Kind())
}

func TestOperatorKind(t *testing.T) {
	for _, k := range []OperatorKind{
		OperatorTool, OperatorParallel, OperatorIfThen, OperatorLoop,
		OperatorMap, OperatorFilter, OperatorReduce, OperatorSwitch, OperatorSequence,
	} {
		assert.True(t, k.IsValid(), string(k))
	}
	assert.False(t, OperatorKind("teleport").IsValid())

	assert.False(t, OperatorTool.IsComposite())
	assert.True(t, OperatorParallel.IsComposite())
}

func TestEncodeDecodeIR(t *testing.T) {
	ir := &IR{
		Version:  "1",
		Metadata: map[string]any{"goal": "test"},
		Graph: &IRGraph{
			Nodes: map[string]IRNode{
				"t": NewToolNode("t", "out", &NodeRunConfig{Retries: 2}, "http", map[string]IRValue{
					"url":  Literal{Value: "http://x"},
					"q":    Variable{Name: "input", Path: []string{"q"}},
					"prev": Reference{NodeID: "p", OutputName: "data"},
				}),
				"c": NewConditionalNode("c", "", nil, Expression{Source: "$x > 1"}, []string{"t"}, nil),
			},
			Edges:      []IREdge{{From: "t", To: "c"}},
			EntryPoint: "t",
		},
	}

	data, err := EncodeIR(ir)
	require.NoError(t, err)

	got, err := DecodeIR(data)
	require.NoError(t, err)
	assert.Equal(t, "1", got.Version)
	assert.Equal(t, "t", got.Graph.EntryPoint)
	assert.Nil(t, got.Registry)

	tool := got.Graph.Nodes["t"].(*ToolNode)
	assert.Equal(t, "http", tool.ToolID)
	assert.Equal(t, "out", tool.OutputVar())
	assert.Equal(t, 2, tool.RunConfig().Retries)
	assert.Equal(t, Reference{NodeID: "p", OutputName: "data"}, tool.Inputs["prev"])

	cond := got.Graph.Nodes["c"].(*ConditionalNode)
	assert.Equal(t, "$x > 1", cond.Condition.Source)
}

func TestIRGraphNeighbors(t *testing.T) {
	g := &IRGraph{
		Edges: []IREdge{{From: "a", To: "b"}, {From: "a", To: "c"}, {From: "b", To: "c"}},
	}
	assert.ElementsMatch(t, []string{"b", "c"}, g.Successors("a"))
	assert.ElementsMatch(t, []string{"a", "b"}, g.Predecessors("c"))
	assert.Empty(t, g.Predecessors("a"))
}

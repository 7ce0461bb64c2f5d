package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/planflow/internal/domain"
)

func compileRegistry(tools ...domain.Tool) *domain.Registry {
	reg := domain.NewRegistry()
	for _, t := range tools {
		reg.RegisterTool(t)
	}
	return reg
}

func TestCompile_LowersToolNode(t *testing.T) {
	reg := compileRegistry(fixedTool("search", map[string]any{"hits": []any{}}))
	plan := &domain.Plan{
		Version: "1",
		Nodes: []*domain.Node{
			domain.NewNode("s1", "", "tool", "s1", map[string]any{
				"toolId":    "search",
				"outputVar": "found",
				"inputs": map[string]any{
					"query":  "$input.q",
					"limit":  float64(10),
					"cursor": "$prev.output",
				},
				"timeout": float64(2),
				"retries": float64(1),
			}),
			toolNode("prev", "search", nil),
		},
		Edges:   []*domain.Edge{edge("prev", "s1")},
		RootIDs: []string{"prev"},
	}

	ir, err := NewCompiler(reg).Compile(plan)
	require.NoError(t, err)

	node := ir.Graph.Nodes["s1"].(*domain.ToolNode)
	assert.Equal(t, "search", node.ToolID)
	assert.Equal(t, "found", node.OutputVar())
	assert.Equal(t, 2*time.Second, node.RunConfig().Timeout)
	assert.Equal(t, 1, node.RunConfig().Retries)

	assert.Equal(t, domain.Variable{Name: "input", Path: []string{"q"}}, node.Inputs["query"])
	assert.Equal(t, domain.Literal{Value: float64(10)}, node.Inputs["limit"])
	assert.Equal(t, domain.Reference{NodeID: "prev"}, node.Inputs["cursor"])
}

func TestCompile_LowersCompositeKinds(t *testing.T) {
	reg := compileRegistry(fixedTool("t", nil))
	plan := &domain.Plan{
		Version: "1",
		Nodes: []*domain.Node{
			domain.NewNode("seq", "", "sequence", "seq", map[string]any{"steps": []any{"p", "c", "sw", "m", "r", "w"}}),
			domain.NewNode("p", "", "parallel", "p", map[string]any{"parallelIds": []any{"n1", "n2"}, "joinStrategy": "race"}),
			domain.NewNode("c", "", "if-then", "c", map[string]any{"condition": "$input.x > 1", "if_true": []any{"n1"}}),
			domain.NewNode("sw", "", "switch", "sw", map[string]any{
				"discriminator": "$input.kind",
				"cases":         map[string]any{"a": []any{"n1"}},
				"default":       []any{"n2"},
			}),
			domain.NewNode("m", "", "map", "m", map[string]any{"collection": "$input.xs", "as": "x", "body": []any{"n1"}}),
			domain.NewNode("r", "", "reduce", "r", map[string]any{
				"collection": "$input.xs", "as": "x", "accumulator": "acc",
				"initial": float64(0), "body": []any{"n1"},
			}),
			domain.NewNode("w", "", "loop", "w", map[string]any{"condition": "$input.more", "body": []any{"n2"}}),
			toolNode("n1", "t", nil),
			toolNode("n2", "t", nil),
		},
		RootIDs: []string{"seq"},
	}

	ir, err := NewCompiler(reg).Compile(plan)
	require.NoError(t, err)

	par := ir.Graph.Nodes["p"].(*domain.ParallelNode)
	assert.Equal(t, domain.JoinRace, par.JoinStrategy)
	assert.Equal(t, [][]string{{"n1"}, {"n2"}}, par.Branches)

	cond := ir.Graph.Nodes["c"].(*domain.ConditionalNode)
	assert.Equal(t, "$input.x > 1", cond.Condition.Source)
	assert.Equal(t, []string{"n1"}, cond.ThenBranch)

	sw := ir.Graph.Nodes["sw"].(*domain.SwitchNode)
	assert.Equal(t, []string{"n2"}, sw.Default)

	m := ir.Graph.Nodes["m"].(*domain.LoopNode)
	assert.Equal(t, domain.LoopMap, m.LoopType)
	assert.Equal(t, "x", m.IteratorVar)

	r := ir.Graph.Nodes["r"].(*domain.LoopNode)
	assert.Equal(t, domain.LoopReduce, r.LoopType)
	assert.Equal(t, "acc", r.Accumulator)

	w := ir.Graph.Nodes["w"].(*domain.LoopNode)
	assert.Equal(t, domain.LoopWhile, w.LoopType)
	require.NotNil(t, w.Condition)

	seq := ir.Graph.Nodes["seq"].(*domain.SequenceNode)
	assert.Len(t, seq.Steps, 6)
	assert.Equal(t, "seq", ir.Graph.EntryPoint)
}

func TestCompile_MultipleRootsGetSyntheticSequence(t *testing.T) {
	reg := compileRegistry(fixedTool("t", nil))
	plan := &domain.Plan{
		Version: "1",
		Nodes:   []*domain.Node{toolNode("a", "t", nil), toolNode("b", "t", nil)},
		RootIDs: []string{"a", "b"},
	}

	ir, err := NewCompiler(reg).Compile(plan)
	require.NoError(t, err)

	entry := ir.Graph.Nodes[ir.Graph.EntryPoint].(*domain.SequenceNode)
	assert.Equal(t, []string{"a", "b"}, entry.Steps)
}

func TestCompile_IsDeterministic(t *testing.T) {
	a := fixedTool("tool.a", nil)
	aOut := domain.NewVariableSchema()
	aOut.AddDefinition(&domain.VariableDefinition{Name: "title", Type: domain.VariableTypeString, Required: true})
	a.out = aOut

	b := fixedTool("tool.b", nil)
	bIn := domain.NewVariableSchema()
	bIn.AddDefinition(&domain.VariableDefinition{Name: "text", Type: domain.VariableTypeString, Required: true})
	b.inSchema = bIn

	join := &domain.Join{
		FromToolID: "tool.a", ToToolID: "tool.b",
		Decode: func(from map[string]any) (map[string]any, error) { return from, nil },
	}

	mkPlan := func() *domain.Plan {
		return &domain.Plan{
			Version: "1",
			Nodes:   []*domain.Node{toolNode("s1", "tool.a", nil), toolNode("s2", "tool.b", nil)},
			Edges:   []*domain.Edge{edge("s1", "s2")},
			RootIDs: []string{"s1"},
		}
	}

	mkReg := func() *domain.Registry {
		reg := compileRegistry(a, b)
		reg.RegisterJoin(join)
		return reg
	}

	ir1, err := NewCompiler(mkReg()).Compile(mkPlan())
	require.NoError(t, err)
	ir2, err := NewCompiler(mkReg()).Compile(mkPlan())
	require.NoError(t, err)

	ids1 := make([]string, 0, len(ir1.Graph.Nodes))
	for id := range ir1.Graph.Nodes {
		ids1 = append(ids1, id)
	}
	for _, id := range ids1 {
		_, ok := ir2.Graph.Nodes[id]
		assert.True(t, ok, "node %q present in both compilations", id)
	}
	assert.Equal(t, ir1.Graph.Edges, ir2.Graph.Edges)
	assert.Equal(t, ir1.Graph.EntryPoint, ir2.Graph.EntryPoint)
}

func TestCompile_MissingJoinFails(t *testing.T) {
	a := fixedTool("tool.a", nil)
	aOut := domain.NewVariableSchema()
	aOut.AddDefinition(&domain.VariableDefinition{Name: "title", Type: domain.VariableTypeString, Required: true})
	a.out = aOut

	b := fixedTool("tool.b", nil)
	bIn := domain.NewVariableSchema()
	bIn.AddDefinition(&domain.VariableDefinition{Name: "text", Type: domain.VariableTypeString, Required: true})
	b.inSchema = bIn

	plan := &domain.Plan{
		Version: "1",
		Nodes:   []*domain.Node{toolNode("s1", "tool.a", nil), toolNode("s2", "tool.b", nil)},
		Edges:   []*domain.Edge{edge("s1", "s2")},
		RootIDs: []string{"s1"},
	}

	_, err := NewCompiler(compileRegistry(a, b)).Compile(plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing join")
}

func TestCompile_CompatibleSchemasNeedNoJoin(t *testing.T) {
	a := fixedTool("tool.a", nil)
	aOut := domain.NewVariableSchema()
	aOut.AddDefinition(&domain.VariableDefinition{Name: "text", Type: domain.VariableTypeString, Required: true})
	a.out = aOut

	b := fixedTool("tool.b", nil)
	bIn := domain.NewVariableSchema()
	bIn.AddDefinition(&domain.VariableDefinition{Name: "text", Type: domain.VariableTypeString, Required: true})
	b.inSchema = bIn

	plan := &domain.Plan{
		Version: "1",
		Nodes:   []*domain.Node{toolNode("s1", "tool.a", nil), toolNode("s2", "tool.b", nil)},
		Edges:   []*domain.Edge{edge("s1", "s2")},
		RootIDs: []string{"s1"},
	}

	ir, err := NewCompiler(compileRegistry(a, b)).Compile(plan)
	require.NoError(t, err)
	assert.Len(t, ir.Graph.Nodes, 2)
	assert.Equal(t, []domain.IREdge{{From: "s1", To: "s2"}}, ir.Graph.Edges)
}

func TestCompile_RejectsUnknownVariable(t *testing.T) {
	reg := compileRegistry(fixedTool("t", nil))
	plan := &domain.Plan{
		Version: "1",
		Nodes: []*domain.Node{
			toolNode("s1", "t", map[string]any{"x": "$nothing_defines_this"}),
		},
		RootIDs: []string{"s1"},
	}

	_, err := NewCompiler(reg).Compile(plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing_defines_this")
}

func TestCompile_RejectsReferenceToUnknownNode(t *testing.T) {
	reg := compileRegistry(fixedTool("t", nil))
	plan := &domain.Plan{
		Version: "1",
		Nodes: []*domain.Node{
			toolNode("s1", "t", map[string]any{"x": "$ghost.output"}),
		},
		RootIDs: []string{"s1"},
	}

	_, err := NewCompiler(reg).Compile(plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestParseJoinToolID(t *testing.T) {
	from, to, ok := parseJoinToolID("__join__:a->b")
	require.True(t, ok)
	assert.Equal(t, "a", from)
	assert.Equal(t, "b", to)

	_, _, ok = parseJoinToolID("http.request")
	assert.False(t, ok)
}

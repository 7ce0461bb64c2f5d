package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/planflow/internal/domain"
	flowerrors "github.com/smilemakc/planflow/internal/domain/errors"
	"github.com/smilemakc/planflow/internal/infrastructure/storage"
)

// stubTool is a scriptable Tool for scheduler tests.
type stubTool struct {
	id       string
	inSchema *domain.VariableSchema
	out      *domain.VariableSchema
	execute  func(input map[string]any, tctx *domain.ToolContext) (map[string]any, *domain.SuspendSignal, error)
}

func (t *stubTool) ID() string                          { return t.id }
func (t *stubTool) Name() string                        { return t.id }
func (t *stubTool) Description() string                 { return "stub" }
func (t *stubTool) InputSchema() *domain.VariableSchema { return t.inSchema }
func (t *stubTool) OutputSchema() *domain.VariableSchema { return t.out }
func (t *stubTool) Execute(input map[string]any, tctx *domain.ToolContext) (map[string]any, *domain.SuspendSignal, error) {
	return t.execute(input, tctx)
}

func fixedTool(id string, out map[string]any) *stubTool {
	return &stubTool{id: id, execute: func(map[string]any, *domain.ToolContext) (map[string]any, *domain.SuspendSignal, error) {
		return out, nil, nil
	}}
}

// eventRecorder collects every emitted FlowEvent, safe for concurrent use.
type eventRecorder struct {
	mu     sync.Mutex
	events []*domain.FlowEvent
}

func (r *eventRecorder) Emit(event *domain.FlowEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) all() []*domain.FlowEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.FlowEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *eventRecorder) ofType(t domain.FlowEventType) []*domain.FlowEvent {
	var out []*domain.FlowEvent
	for _, e := range r.all() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// newTestScheduler compiles plan against the given tools/joins and wires a
// scheduler over a fresh in-memory backend.
func newTestScheduler(t *testing.T, plan *domain.Plan, tools []domain.Tool, joins []*domain.Join) (*Scheduler, *eventRecorder, *storage.MemorySuspensionBackend, *domain.IR) {
	t.Helper()

	reg := domain.NewRegistry()
	for _, tool := range tools {
		reg.RegisterTool(tool)
	}
	for _, j := range joins {
		reg.RegisterJoin(j)
	}

	errs := NewPlanValidator(reg).Validate(plan)
	require.Empty(t, errs, "plan should validate")

	ir, err := NewCompiler(reg).Compile(plan)
	require.NoError(t, err)

	rec := &eventRecorder{}
	eval := NewExprEvaluator()
	backend := storage.NewMemorySuspensionBackend()
	inv := NewInvoker(reg, eval, rec, nil)
	return NewScheduler(ir, inv, eval, rec, backend).WithSuspensionTTL(time.Hour), rec, backend, ir
}

func toolNode(id, toolID string, inputs map[string]any) *domain.Node {
	cfg := map[string]any{"toolId": toolID}
	if inputs != nil {
		cfg["inputs"] = inputs
	}
	return domain.NewNode(id, "", "tool", id, cfg)
}

func edge(from, to string) *domain.Edge {
	return domain.NewEdge(from+"->"+to, "", from, to, "control", nil)
}

func TestScheduler_SequentialChain(t *testing.T) {
	fetch := fixedTool("fetch", map[string]any{"data": []any{1, 2, 3, 4, 5}})
	sum := &stubTool{id: "sum", execute: func(input map[string]any, _ *domain.ToolContext) (map[string]any, *domain.SuspendSignal, error) {
		items, _ := input["data"].([]any)
		total := 0
		for _, v := range items {
			total += v.(int)
		}
		return map[string]any{"result": total}, nil, nil
	}}
	format := &stubTool{id: "format", execute: func(input map[string]any, _ *domain.ToolContext) (map[string]any, *domain.SuspendSignal, error) {
		return map[string]any{"formatted": "15"}, nil, nil
	}}

	plan := &domain.Plan{
		Version: "1",
		Nodes: []*domain.Node{
			toolNode("s1", "fetch", map[string]any{"source": "x"}),
			toolNode("s2", "sum", map[string]any{"data": "$s1.output.data"}),
			toolNode("s3", "format", map[string]any{"result": "$s2.output.result"}),
		},
		Edges:   []*domain.Edge{edge("s1", "s2"), edge("s2", "s3")},
		RootIDs: []string{"s1"},
	}

	sched, rec, _, _ := newTestScheduler(t, plan, []domain.Tool{fetch, sum, format}, nil)
	out, err := sched.Run(context.Background(), "flow-1", "sess-1", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"formatted": "15"}, out)

	events := rec.all()
	require.NotEmpty(t, events)
	assert.Equal(t, domain.FlowEventStart, events[0].Type)
	assert.Equal(t, domain.FlowEventComplete, events[len(events)-1].Type)
	assert.Len(t, rec.ofType(domain.FlowEventNodeStart), 3)
	assert.Len(t, rec.ofType(domain.FlowEventNodeComplete), 3)
	assert.Len(t, rec.ofType(domain.FlowEventToolStart), 3)
	assert.Len(t, rec.ofType(domain.FlowEventToolOutput), 3)
}

func TestScheduler_ConditionalBranch(t *testing.T) {
	check := fixedTool("check", map[string]any{"isHigh": true, "value": 75})
	high := fixedTool("high", map[string]any{"message": "Value is high!"})
	low := fixedTool("low", map[string]any{"message": "Value is low"})

	plan := &domain.Plan{
		Version: "1",
		Nodes: []*domain.Node{
			toolNode("s1", "check", map[string]any{"value": 75}),
			domain.NewNode("cond", "", "if-then", "cond", map[string]any{
				"condition": "$s1.output.isHigh",
				"if_true":   []any{"s2"},
				"if_false":  []any{"s3"},
			}),
			toolNode("s2", "high", nil),
			toolNode("s3", "low", nil),
		},
		Edges:   []*domain.Edge{edge("s1", "cond")},
		RootIDs: []string{"s1"},
	}

	sched, rec, _, _ := newTestScheduler(t, plan, []domain.Tool{check, high, low}, nil)
	out, err := sched.Run(context.Background(), "flow-2", "sess-1", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"message": "Value is high!"}, out)

	// The else branch never starts.
	for _, e := range rec.ofType(domain.FlowEventNodeStart) {
		assert.NotEqual(t, "s3", e.NodeID)
	}
}

func TestScheduler_ParallelAllPreservesBranchOrder(t *testing.T) {
	mk := func(id, msg string) *stubTool {
		return &stubTool{id: id, execute: func(map[string]any, *domain.ToolContext) (map[string]any, *domain.SuspendSignal, error) {
			time.Sleep(30 * time.Millisecond)
			return map[string]any{"result": msg}, nil, nil
		}}
	}
	a := mk("a", "A completed")
	b := mk("b", "B completed")
	c := mk("c", "C completed")

	plan := &domain.Plan{
		Version: "1",
		Nodes: []*domain.Node{
			domain.NewNode("p", "", "parallel", "p", map[string]any{"parallelIds": []any{"na", "nb", "nc"}}),
			toolNode("na", "a", nil),
			toolNode("nb", "b", nil),
			toolNode("nc", "c", nil),
		},
		RootIDs: []string{"p"},
	}

	sched, rec, _, _ := newTestScheduler(t, plan, []domain.Tool{a, b, c}, nil)
	out, err := sched.Run(context.Background(), "flow-3", "sess-1", nil)
	require.NoError(t, err)

	assert.Equal(t, []any{"A completed", "B completed", "C completed"}, out["result"])

	// Branches ran concurrently: every branch starts before any completes.
	events := rec.all()
	firstComplete := -1
	lastBranchStart := -1
	for i, e := range events {
		if e.Type == domain.FlowEventNodeStart && e.NodeID != "p" {
			lastBranchStart = i
		}
		if e.Type == domain.FlowEventNodeComplete && firstComplete == -1 {
			firstComplete = i
		}
	}
	assert.Less(t, lastBranchStart, firstComplete)
}

func TestScheduler_ParallelSettledPackagesFailures(t *testing.T) {
	ok := fixedTool("ok", map[string]any{"result": "fine"})
	bad := &stubTool{id: "bad", execute: func(map[string]any, *domain.ToolContext) (map[string]any, *domain.SuspendSignal, error) {
		return nil, nil, flowerrors.NewFlowError(flowerrors.ErrToolFailurePermanent, "boom")
	}}

	plan := &domain.Plan{
		Version: "1",
		Nodes: []*domain.Node{
			domain.NewNode("p", "", "parallel", "p", map[string]any{
				"parallelIds":  []any{"n1", "n2"},
				"joinStrategy": "settled",
			}),
			toolNode("n1", "ok", nil),
			toolNode("n2", "bad", nil),
		},
		RootIDs: []string{"p"},
	}

	sched, _, _, _ := newTestScheduler(t, plan, []domain.Tool{ok, bad}, nil)
	out, err := sched.Run(context.Background(), "flow-4", "sess-1", nil)
	require.NoError(t, err)

	successes := out["successes"].([]map[string]any)
	failures := out["failures"].([]string)
	assert.Len(t, successes, 1)
	assert.Len(t, failures, 1)
}

func TestScheduler_MapDoublesEachElement(t *testing.T) {
	double := &stubTool{id: "double", execute: func(input map[string]any, _ *domain.ToolContext) (map[string]any, *domain.SuspendSignal, error) {
		v := input["value"].(int)
		return map[string]any{"doubled": v * 2}, nil, nil
	}}

	plan := &domain.Plan{
		Version: "1",
		Nodes: []*domain.Node{
			domain.NewNode("m", "", "map", "m", map[string]any{
				"collection": []any{1, 2, 3, 4, 5},
				"as":         "item",
				"body":       []any{"d"},
			}),
			toolNode("d", "double", map[string]any{"value": "$item"}),
		},
		RootIDs: []string{"m"},
	}

	sched, _, _, _ := newTestScheduler(t, plan, []domain.Tool{double}, nil)
	out, err := sched.Run(context.Background(), "flow-5", "sess-1", nil)
	require.NoError(t, err)

	items := out["items"].([]map[string]any)
	require.Len(t, items, 5)
	for i, expected := range []int{2, 4, 6, 8, 10} {
		assert.Equal(t, expected, items[i]["doubled"])
	}
}

func TestScheduler_EmptyCollections(t *testing.T) {
	noop := fixedTool("noop", map[string]any{"ran": true})

	t.Run("map", func(t *testing.T) {
		plan := &domain.Plan{
			Version: "1",
			Nodes: []*domain.Node{
				domain.NewNode("m", "", "map", "m", map[string]any{
					"collection": []any{}, "as": "item", "body": []any{"n"},
				}),
				toolNode("n", "noop", nil),
			},
			RootIDs: []string{"m"},
		}
		sched, rec, _, _ := newTestScheduler(t, plan, []domain.Tool{noop}, nil)
		out, err := sched.Run(context.Background(), "f", "s", nil)
		require.NoError(t, err)
		assert.Empty(t, out["items"])
		assert.Empty(t, rec.ofType(domain.FlowEventToolStart), "no body invocations")
	})

	t.Run("reduce", func(t *testing.T) {
		plan := &domain.Plan{
			Version: "1",
			Nodes: []*domain.Node{
				domain.NewNode("r", "", "reduce", "r", map[string]any{
					"collection":  []any{},
					"as":          "item",
					"accumulator": "acc",
					"initial":     map[string]any{"total": 0},
					"body":        []any{"n"},
				}),
				toolNode("n", "noop", nil),
			},
			RootIDs: []string{"r"},
		}
		sched, rec, _, _ := newTestScheduler(t, plan, []domain.Tool{noop}, nil)
		out, err := sched.Run(context.Background(), "f", "s", nil)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"total": 0}, out)
		assert.Empty(t, rec.ofType(domain.FlowEventToolStart))
	})
}

func TestScheduler_ReduceFolds(t *testing.T) {
	add := &stubTool{id: "add", execute: func(input map[string]any, _ *domain.ToolContext) (map[string]any, *domain.SuspendSignal, error) {
		acc := input["acc"].(map[string]any)
		total := acc["total"].(int)
		return map[string]any{"total": total + input["item"].(int)}, nil, nil
	}}

	plan := &domain.Plan{
		Version: "1",
		Nodes: []*domain.Node{
			domain.NewNode("r", "", "reduce", "r", map[string]any{
				"collection":  []any{1, 2, 3},
				"as":          "item",
				"accumulator": "acc",
				"initial":     map[string]any{"total": 0},
				"body":        []any{"a"},
			}),
			toolNode("a", "add", map[string]any{"acc": "$acc", "item": "$item"}),
		},
		RootIDs: []string{"r"},
	}

	sched, _, _, _ := newTestScheduler(t, plan, []domain.Tool{add}, nil)
	out, err := sched.Run(context.Background(), "f", "s", nil)
	require.NoError(t, err)
	assert.Equal(t, 6, out["total"])
}

func TestScheduler_FilterByCondition(t *testing.T) {
	plan := &domain.Plan{
		Version: "1",
		Nodes: []*domain.Node{
			domain.NewNode("f", "", "filter", "f", map[string]any{
				"collection": []any{
					map[string]any{"n": 1},
					map[string]any{"n": 5},
					map[string]any{"n": 9},
				},
				"as":        "item",
				"condition": "$item.n > 3",
			}),
		},
		RootIDs: []string{"f"},
	}

	sched, _, _, _ := newTestScheduler(t, plan, nil, nil)
	out, err := sched.Run(context.Background(), "f", "s", nil)
	require.NoError(t, err)

	items := out["items"].([]map[string]any)
	require.Len(t, items, 2)
	assert.Equal(t, 5, items[0]["n"])
	assert.Equal(t, 9, items[1]["n"])
}

func TestScheduler_SwitchSelectsCase(t *testing.T) {
	urgent := fixedTool("urgent", map[string]any{"route": "urgent"})
	normal := fixedTool("normal", map[string]any{"route": "normal"})

	plan := &domain.Plan{
		Version: "1",
		Nodes: []*domain.Node{
			domain.NewNode("sw", "", "switch", "sw", map[string]any{
				"discriminator": "$input.priority",
				"cases": map[string]any{
					"high": []any{"u"},
					"low":  []any{"n"},
				},
			}),
			toolNode("u", "urgent", nil),
			toolNode("n", "normal", nil),
		},
		RootIDs: []string{"sw"},
	}

	sched, _, _, _ := newTestScheduler(t, plan, []domain.Tool{urgent, normal}, nil)
	out, err := sched.Run(context.Background(), "f", "s", map[string]any{"priority": "high"})
	require.NoError(t, err)
	assert.Equal(t, "urgent", out["route"])
}

func TestScheduler_SwitchNoMatchWithoutDefault(t *testing.T) {
	urgent := fixedTool("urgent", map[string]any{"route": "urgent"})

	plan := &domain.Plan{
		Version: "1",
		Nodes: []*domain.Node{
			domain.NewNode("sw", "", "switch", "sw", map[string]any{
				"discriminator": "$input.priority",
				"cases":         map[string]any{"high": []any{"u"}},
			}),
			toolNode("u", "urgent", nil),
		},
		RootIDs: []string{"sw"},
	}

	sched, _, _, _ := newTestScheduler(t, plan, []domain.Tool{urgent}, nil)
	out, err := sched.Run(context.Background(), "f", "s", map[string]any{"priority": "nope"})
	require.NoError(t, err)
	assert.Equal(t, false, out["matched"])
}

func TestScheduler_WhileFalseConditionSkipsBody(t *testing.T) {
	noop := fixedTool("noop", map[string]any{"ran": true})
	plan := &domain.Plan{
		Version: "1",
		Nodes: []*domain.Node{
			domain.NewNode("w", "", "loop", "w", map[string]any{
				"condition": "1 > 2",
				"body":      []any{"n"},
			}),
			toolNode("n", "noop", nil),
		},
		RootIDs: []string{"w"},
	}

	sched, rec, _, _ := newTestScheduler(t, plan, []domain.Tool{noop}, nil)
	_, err := sched.Run(context.Background(), "f", "s", nil)
	require.NoError(t, err)
	assert.Empty(t, rec.ofType(domain.FlowEventToolStart))
}

func TestScheduler_SuspendAndResume(t *testing.T) {
	var calls int
	approval := &stubTool{id: "approval", execute: func(input map[string]any, _ *domain.ToolContext) (map[string]any, *domain.SuspendSignal, error) {
		calls++
		return nil, &domain.SuspendSignal{
			Payload:   map[string]any{"prompt": "approve?"},
			AwaitKind: "human-approval",
		}, nil
	}}

	plan := &domain.Plan{
		Version: "1",
		Nodes:   []*domain.Node{toolNode("ap", "approval", nil)},
		RootIDs: []string{"ap"},
	}

	sched, rec, backend, ir := newTestScheduler(t, plan, []domain.Tool{approval}, nil)
	_, err := sched.Run(context.Background(), "flow-s", "sess", nil)
	require.Error(t, err)

	suspEvents := rec.ofType(domain.FlowEventSuspended)
	require.Len(t, suspEvents, 1)
	key, _ := suspEvents[0].Data["suspensionKey"].(string)
	require.NotEmpty(t, key)

	// Record committed before the event went out.
	record, err := backend.Fetch(key)
	require.NoError(t, err)
	assert.Equal(t, "ap", record.NodeID)
	assert.Equal(t, "approve?", record.Payload["prompt"])
	assert.Equal(t, 1, calls)

	// Resume on a fresh scheduler for the same IR.
	rec2 := &eventRecorder{}
	eval := NewExprEvaluator()
	sched2 := NewScheduler(ir, NewInvoker(ir.Registry, eval, rec2, nil), eval, rec2, backend)
	resumeInput := map[string]any{"approved": true, "approvedBy": "m@c"}

	out, err := NewResumeCoordinator(backend).Resume(context.Background(), sched2, key, "sess2", resumeInput)
	require.NoError(t, err)
	assert.Equal(t, resumeInput, out)

	events := rec2.all()
	require.NotEmpty(t, events)
	assert.Equal(t, domain.FlowEventResumed, events[0].Type)
	assert.Equal(t, domain.FlowEventComplete, events[len(events)-1].Type)

	completes := rec2.ofType(domain.FlowEventNodeComplete)
	require.NotEmpty(t, completes)
	assert.Equal(t, "ap", completes[0].NodeID)
	assert.Equal(t, 1, calls, "suspended tool is not re-invoked on resume")

	// The token is single-use.
	_, err = NewResumeCoordinator(backend).Resume(context.Background(), sched2, key, "sess3", resumeInput)
	require.Error(t, err)
	var fe *flowerrors.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, flowerrors.ErrSuspensionAlreadyUsed, fe.Kind)
}

func TestScheduler_JoinInjection(t *testing.T) {
	a := fixedTool("tool.a", map[string]any{"title": "Item-1"})
	aOut := domain.NewVariableSchema()
	aOut.AddDefinition(&domain.VariableDefinition{Name: "title", Type: domain.VariableTypeString, Required: true})
	a.out = aOut

	var received string
	b := &stubTool{id: "tool.b", execute: func(input map[string]any, _ *domain.ToolContext) (map[string]any, *domain.SuspendSignal, error) {
		received, _ = input["text"].(string)
		return map[string]any{"ok": true}, nil, nil
	}}
	bIn := domain.NewVariableSchema()
	bIn.AddDefinition(&domain.VariableDefinition{Name: "text", Type: domain.VariableTypeString, Required: true})
	b.inSchema = bIn

	join := &domain.Join{
		FromToolID: "tool.a",
		ToToolID:   "tool.b",
		Decode: func(from map[string]any) (map[string]any, error) {
			return map[string]any{"text": from["title"]}, nil
		},
		Encode: func(to map[string]any) (map[string]any, error) {
			return map[string]any{"title": to["text"]}, nil
		},
	}

	plan := &domain.Plan{
		Version: "1",
		Nodes: []*domain.Node{
			toolNode("s1", "tool.a", nil),
			toolNode("s2", "tool.b", map[string]any{"text": "$s1.output.text"}),
		},
		Edges:   []*domain.Edge{edge("s1", "s2")},
		RootIDs: []string{"s1"},
	}

	sched, _, _, ir := newTestScheduler(t, plan, []domain.Tool{a, b}, []*domain.Join{join})

	// A synthetic join node was spliced between s1 and s2.
	assert.Len(t, ir.Graph.Nodes, 3)

	out, err := sched.Run(context.Background(), "f", "s", nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, "Item-1", received)
}

func TestScheduler_CancellationStopsSequence(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	first := &stubTool{id: "first", execute: func(map[string]any, *domain.ToolContext) (map[string]any, *domain.SuspendSignal, error) {
		cancel()
		return map[string]any{"done": true}, nil, nil
	}}
	second := fixedTool("second", map[string]any{"done": true})

	plan := &domain.Plan{
		Version: "1",
		Nodes: []*domain.Node{
			domain.NewNode("seq", "", "sequence", "seq", map[string]any{"steps": []any{"n1", "n2"}}),
			toolNode("n1", "first", nil),
			toolNode("n2", "second", nil),
		},
		RootIDs: []string{"seq"},
	}

	sched, rec, _, _ := newTestScheduler(t, plan, []domain.Tool{first, second}, nil)
	_, err := sched.Run(ctx, "f", "s", nil)
	require.Error(t, err)

	var fe *flowerrors.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, flowerrors.ErrCancelled, fe.Kind)

	// The second step never starts.
	for _, e := range rec.ofType(domain.FlowEventNodeStart) {
		assert.NotEqual(t, "n2", e.NodeID)
	}
	errEvents := rec.ofType(domain.FlowEventError)
	require.Len(t, errEvents, 1)
}

func TestScheduler_RetriesTransientFailures(t *testing.T) {
	var attempts int
	flaky := &stubTool{id: "flaky", execute: func(map[string]any, *domain.ToolContext) (map[string]any, *domain.SuspendSignal, error) {
		attempts++
		if attempts < 3 {
			return nil, nil, flowerrors.NewFlowError(flowerrors.ErrToolFailureTransient, "try again")
		}
		return map[string]any{"ok": true}, nil, nil
	}}

	plan := &domain.Plan{
		Version: "1",
		Nodes: []*domain.Node{
			domain.NewNode("n", "", "tool", "n", map[string]any{
				"toolId":     "flaky",
				"retries":    float64(3),
				"retryDelay": float64(0.001),
			}),
		},
		RootIDs: []string{"n"},
	}

	sched, _, _, _ := newTestScheduler(t, plan, []domain.Tool{flaky}, nil)
	out, err := sched.Run(context.Background(), "f", "s", nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, 3, attempts)
}

func TestScheduler_PermanentFailureIsNotRetried(t *testing.T) {
	var attempts int
	broken := &stubTool{id: "broken", execute: func(map[string]any, *domain.ToolContext) (map[string]any, *domain.SuspendSignal, error) {
		attempts++
		return nil, nil, flowerrors.NewFlowError(flowerrors.ErrToolFailurePermanent, "no")
	}}

	plan := &domain.Plan{
		Version: "1",
		Nodes: []*domain.Node{
			domain.NewNode("n", "", "tool", "n", map[string]any{
				"toolId":     "broken",
				"retries":    float64(5),
				"retryDelay": float64(0.001),
			}),
		},
		RootIDs: []string{"n"},
	}

	sched, rec, _, _ := newTestScheduler(t, plan, []domain.Tool{broken}, nil)
	_, err := sched.Run(context.Background(), "f", "s", nil)
	require.Error(t, err)
	assert.Equal(t, 1, attempts)

	events := rec.all()
	assert.Equal(t, domain.FlowEventError, events[len(events)-1].Type)
}

func TestScheduler_OutputVarVisibleDownstream(t *testing.T) {
	produce := fixedTool("produce", map[string]any{"value": 42})
	consume := &stubTool{id: "consume", execute: func(input map[string]any, _ *domain.ToolContext) (map[string]any, *domain.SuspendSignal, error) {
		return map[string]any{"got": input["v"]}, nil, nil
	}}

	plan := &domain.Plan{
		Version: "1",
		Nodes: []*domain.Node{
			domain.NewNode("p", "", "tool", "p", map[string]any{
				"toolId":    "produce",
				"outputVar": "produced",
			}),
			toolNode("c", "consume", map[string]any{"v": "$produced.value"}),
		},
		Edges:   []*domain.Edge{edge("p", "c")},
		RootIDs: []string{"p"},
	}

	sched, _, _, _ := newTestScheduler(t, plan, []domain.Tool{produce, consume}, nil)
	out, err := sched.Run(context.Background(), "f", "s", nil)
	require.NoError(t, err)
	assert.Equal(t, 42, out["got"])
}

func TestScheduler_FilterSkipOnError(t *testing.T) {
	var seen int
	picky := &stubTool{id: "picky", execute: func(input map[string]any, _ *domain.ToolContext) (map[string]any, *domain.SuspendSignal, error) {
		seen++
		n := input["n"].(int)
		if n == 2 {
			return nil, nil, flowerrors.NewFlowError(flowerrors.ErrToolFailurePermanent, "bad element")
		}
		return map[string]any{"value": n > 0}, nil, nil
	}}

	plan := &domain.Plan{
		Version: "1",
		Nodes: []*domain.Node{
			domain.NewNode("f", "", "filter", "f", map[string]any{
				"collection":  []any{1, 2, 3},
				"as":          "item",
				"body":        []any{"p"},
				"skipOnError": true,
			}),
			toolNode("p", "picky", map[string]any{"n": "$item"}),
		},
		RootIDs: []string{"f"},
	}

	sched, _, _, _ := newTestScheduler(t, plan, []domain.Tool{picky}, nil)
	out, err := sched.Run(context.Background(), "f", "s", nil)
	require.NoError(t, err)

	items := out["items"].([]map[string]any)
	assert.Len(t, items, 2)
	assert.Len(t, out["errors"].([]string), 1)
	assert.Equal(t, 3, seen)
}

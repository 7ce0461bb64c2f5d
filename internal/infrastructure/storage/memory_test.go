package storage

import (
	"context"
	"testing"
	"time"

	"github.com/smilemakc/planflow/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Plans(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	plan := &domain.Plan{Version: "1", RootIDs: []string{"n1"}, Nodes: []*domain.Node{
		domain.NewNode("n1", "", "tool", "n1", map[string]any{"toolId": "http"}),
	}}
	require.NoError(t, s.SavePlan(ctx, "p1", plan))

	got, err := s.GetPlan(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "1", got.Version)

	exists, err := s.PlanExists(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, exists)

	ids, err := s.ListPlans(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, ids)

	require.NoError(t, s.DeletePlan(ctx, "p1"))
	_, err = s.GetPlan(ctx, "p1")
	assert.Error(t, err)
}

func TestMemoryStore_IRRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ir := &domain.IR{
		Version: "1",
		Graph: &domain.IRGraph{
			Nodes: map[string]domain.IRNode{
				"n1": domain.NewToolNode("n1", "", &domain.NodeRunConfig{}, "http", map[string]domain.IRValue{
					"url": domain.Literal{Value: "http://example.com"},
				}),
			},
			Edges:      nil,
			EntryPoint: "n1",
		},
	}
	require.NoError(t, s.SaveIR(ctx, "hash1", ir))

	got, ok, err := s.GetIR(ctx, "hash1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, got.Registry)
	tool, ok := got.Graph.Nodes["n1"].(*domain.ToolNode)
	require.True(t, ok)
	assert.Equal(t, "http", tool.ToolID)
	assert.Equal(t, domain.Literal{Value: "http://example.com"}, tool.Inputs["url"])

	_, ok, err = s.GetIR(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_RunsAndEvents(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	state := domain.NewExecutionState("flow-1", "plan-1")
	state.SetStatus(domain.ExecutionStateStatusRunning)
	require.NoError(t, s.SaveRunState(ctx, state))

	got, ok, err := s.GetRunState(ctx, "flow-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.ExecutionStateStatusRunning, got.Status())

	runs, err := s.ListRuns(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	ev := domain.NewEvent("ev-1", "node-started", "plan-1", "flow-1", "", "n1", nil, nil)
	require.NoError(t, s.AppendEvent(ctx, ev))
	events, err := s.GetEvents(ctx, "flow-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ev-1", events[0].EventID())

	since, err := s.GetEventsSince(ctx, "flow-1", "ev-1")
	require.NoError(t, err)
	assert.Empty(t, since)

	require.NoError(t, s.DeleteRunState(ctx, "flow-1"))
	_, ok, err = s.GetRunState(ctx, "flow-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_Suspensions(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()

	record := &domain.SuspensionRecord{SuspensionID: "susp-1", FlowID: "flow-1", CreatedAt: now}
	require.NoError(t, s.Store(record))

	fetched, err := s.Fetch("susp-1")
	require.NoError(t, err)
	assert.False(t, fetched.Consumed)

	consumed, err := s.Consume("susp-1")
	require.NoError(t, err)
	assert.True(t, consumed.Consumed)

	_, err = s.Consume("susp-1")
	assert.Error(t, err)
}

func TestMemoryStore_TransactionsAndHealth(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	txCtx, err := s.BeginTransaction(ctx)
	require.NoError(t, err)
	assert.NoError(t, s.CommitTransaction(txCtx))
	assert.NoError(t, s.RollbackTransaction(txCtx))
	assert.NoError(t, s.Ping(ctx))
	assert.NoError(t, s.Close())
}

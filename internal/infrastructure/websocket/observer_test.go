package websocket

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/planflow/internal/domain"
)

// mockBroadcaster is a mock implementation of the Broadcaster interface
type mockBroadcaster struct {
	mu      sync.Mutex
	events  []*WSEvent
	flowIDs []string
}

func newMockBroadcaster() *mockBroadcaster {
	return &mockBroadcaster{}
}

func (m *mockBroadcaster) Broadcast(userID, planID, flowID string, event *WSEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	m.flowIDs = append(m.flowIDs, flowID)
}

func (m *mockBroadcaster) lastEvent() *WSEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func TestSocketObserver_EmitFlowStart(t *testing.T) {
	mock := newMockBroadcaster()
	obs := NewSocketObserver(mock)

	obs.Emit(domain.NewFlowEvent(domain.FlowEventStart, "flow-1", 1, "", "", map[string]any{"input": map[string]any{"x": 1}}))

	evt := mock.lastEvent()
	require.NotNil(t, evt)
	assert.Equal(t, EventFlowStarted, evt.Type)
	assert.Equal(t, "flow-1", evt.FlowID)
	assert.Equal(t, "flow-1", mock.flowIDs[0])
}

func TestSocketObserver_EmitNodeLifecycle(t *testing.T) {
	mock := newMockBroadcaster()
	obs := NewSocketObserver(mock)

	obs.Emit(domain.NewFlowEvent(domain.FlowEventNodeStart, "flow-1", 2, "node-a", "", map[string]any{"nodeType": "tool"}))
	obs.Emit(domain.NewFlowEvent(domain.FlowEventNodeComplete, "flow-1", 3, "node-a", "", map[string]any{"result": map[string]any{"status": 200}}))

	require.Len(t, mock.events, 2)
	assert.Equal(t, EventNodeStarted, mock.events[0].Type)
	assert.Equal(t, "node-a", mock.events[0].NodeID)
	assert.Equal(t, "tool", mock.events[0].NodeType)
	assert.Equal(t, EventNodeCompleted, mock.events[1].Type)
	assert.NotNil(t, mock.events[1].Output)
}

func TestSocketObserver_EmitToolEvents(t *testing.T) {
	mock := newMockBroadcaster()
	obs := NewSocketObserver(mock)

	obs.Emit(domain.NewFlowEvent(domain.FlowEventToolStart, "flow-1", 4, "node-a", "http.request", map[string]any{"input": map[string]any{"url": "http://x"}}))
	obs.Emit(domain.NewFlowEvent(domain.FlowEventToolOutput, "flow-1", 5, "node-a", "http.request", map[string]any{"output": map[string]any{"status": 200}}))

	require.Len(t, mock.events, 2)
	assert.Equal(t, EventToolStarted, mock.events[0].Type)
	assert.Equal(t, "http.request", mock.events[0].ToolID)
	assert.Equal(t, EventToolOutput, mock.events[1].Type)
	assert.NotNil(t, mock.events[1].Output)
}

func TestSocketObserver_EmitErrorCarriesMessage(t *testing.T) {
	mock := newMockBroadcaster()
	obs := NewSocketObserver(mock)

	obs.Emit(domain.NewFlowEvent(domain.FlowEventNodeError, "flow-1", 6, "node-a", "http.request", map[string]any{"error": "boom"}))

	evt := mock.lastEvent()
	require.NotNil(t, evt)
	assert.Equal(t, EventNodeFailed, evt.Type)
	assert.Equal(t, "boom", evt.Error)
}

func TestSocketObserver_EmitSuspendedCarriesKey(t *testing.T) {
	mock := newMockBroadcaster()
	obs := NewSocketObserver(mock)

	obs.Emit(domain.NewFlowEvent(domain.FlowEventSuspended, "flow-1", 7, "node-a", "", map[string]any{
		"suspensionKey": "susp-1",
		"message":       "human-approval",
	}))
	obs.Emit(domain.NewFlowEvent(domain.FlowEventResumed, "flow-1", 8, "node-a", "", map[string]any{"suspensionKey": "susp-1"}))

	require.Len(t, mock.events, 2)
	assert.Equal(t, EventFlowSuspended, mock.events[0].Type)
	assert.Equal(t, "susp-1", mock.events[0].SuspensionKey)
	assert.Equal(t, "human-approval", mock.events[0].Message)
	assert.Equal(t, EventFlowResumed, mock.events[1].Type)
}

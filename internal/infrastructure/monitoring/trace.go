package monitoring

import (
	"fmt"
	"sync"
	"time"

	"github.com/smilemakc/planflow/internal/domain"
)

// ExecutionTrace represents a trace of execution events.
// It can be used for debugging and visualization.
type ExecutionTrace struct {
	ExecutionID string
	WorkflowID  string
	Events      []*TraceEvent
	mu          sync.Mutex
}

// TraceEvent represents a single event in the execution trace.
type TraceEvent struct {
	Timestamp time.Time
	EventType string
	NodeID    string
	NodeType  string
	Message   string
	Data      map[string]interface{}
	Error     error
}

// NewExecutionTrace creates a new ExecutionTrace.
func NewExecutionTrace(executionID, workflowID string) *ExecutionTrace {
	return &ExecutionTrace{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		Events:      make([]*TraceEvent, 0),
	}
}

// AddEvent adds an event to the trace.
func (t *ExecutionTrace) AddEvent(eventType, nodeID, nodeType, message string, data map[string]interface{}, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	event := &TraceEvent{
		Timestamp: time.Now(),
		EventType: eventType,
		NodeID:    nodeID,
		NodeType:  nodeType,
		Message:   message,
		Data:      data,
		Error:     err,
	}
	t.Events = append(t.Events, event)
}

// GetEvents returns all events in the trace.
func (t *ExecutionTrace) GetEvents() []*TraceEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	events := make([]*TraceEvent, len(t.Events))
	copy(events, t.Events)
	return events
}

// GetDuration returns the time between the first and last event, or 0 for
// an empty trace.
func (t *ExecutionTrace) GetDuration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.Events) < 2 {
		return 0
	}
	return t.Events[len(t.Events)-1].Timestamp.Sub(t.Events[0].Timestamp)
}

// GetEventsByType returns all events of the given type.
func (t *ExecutionTrace) GetEventsByType(eventType string) []*TraceEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*TraceEvent
	for _, e := range t.Events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// GetEventsByNodeID returns all events for the given node.
func (t *ExecutionTrace) GetEventsByNodeID(nodeID string) []*TraceEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*TraceEvent
	for _, e := range t.Events {
		if e.NodeID == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// GetErrorEvents returns all events carrying an error.
func (t *ExecutionTrace) GetErrorEvents() []*TraceEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*TraceEvent
	for _, e := range t.Events {
		if e.Error != nil {
			out = append(out, e)
		}
	}
	return out
}

// HasErrors reports whether the trace contains any error events.
func (t *ExecutionTrace) HasErrors() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.Events {
		if e.Error != nil {
			return true
		}
	}
	return false
}

// TraceSummary aggregates a trace for quick inspection.
type TraceSummary struct {
	ExecutionID string
	WorkflowID  string
	TotalEvents int
	ErrorCount  int
	Duration    time.Duration
	NodeIDs     []string
	EventTypes  map[string]int
}

// GetSummary computes a summary of the trace.
func (t *ExecutionTrace) GetSummary() *TraceSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	summary := &TraceSummary{
		ExecutionID: t.ExecutionID,
		WorkflowID:  t.WorkflowID,
		TotalEvents: len(t.Events),
		EventTypes:  make(map[string]int),
	}

	seenNodes := make(map[string]bool)
	for _, e := range t.Events {
		summary.EventTypes[e.EventType]++
		if e.Error != nil {
			summary.ErrorCount++
		}
		if e.NodeID != "" && !seenNodes[e.NodeID] {
			seenNodes[e.NodeID] = true
			summary.NodeIDs = append(summary.NodeIDs, e.NodeID)
		}
	}
	if len(t.Events) >= 2 {
		summary.Duration = t.Events[len(t.Events)-1].Timestamp.Sub(t.Events[0].Timestamp)
	}

	return summary
}

// String returns a string representation of the trace.
func (t *ExecutionTrace) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := fmt.Sprintf("Execution Trace [%s]\n", t.ExecutionID)
	result += fmt.Sprintf("Workflow: %s\n", t.WorkflowID)
	result += fmt.Sprintf("Events: %d\n\n", len(t.Events))

	for i, event := range t.Events {
		result += fmt.Sprintf("%d. [%s] %s", i+1, event.Timestamp.Format("15:04:05.000"), event.EventType)
		if event.NodeID != "" {
			result += fmt.Sprintf(" node=%s", event.NodeID)
		}
		if event.NodeType != "" {
			result += fmt.Sprintf(" type=%s", event.NodeType)
		}
		if event.Message != "" {
			result += fmt.Sprintf(" - %s", event.Message)
		}
		if event.Error != nil {
			result += fmt.Sprintf(" [ERROR: %v]", event.Error)
		}
		result += "\n"
	}

	return result
}

// TraceSink collects flow events into per-flow ExecutionTraces. It
// implements domain.FlowEventSink so it can be wired alongside the logging
// and metrics sinks, and the resulting traces saved via TracePersistence.
type TraceSink struct {
	mu     sync.Mutex
	traces map[string]*ExecutionTrace
}

// NewTraceSink creates an empty TraceSink.
func NewTraceSink() *TraceSink {
	return &TraceSink{traces: make(map[string]*ExecutionTrace)}
}

// Emit implements domain.FlowEventSink.
func (s *TraceSink) Emit(event *domain.FlowEvent) {
	if event == nil {
		return
	}

	s.mu.Lock()
	trace, ok := s.traces[event.FlowID]
	if !ok {
		trace = NewExecutionTrace(event.FlowID, event.FlowID)
		s.traces[event.FlowID] = trace
	}
	s.mu.Unlock()

	var message string
	if m, ok := event.Data["error"].(string); ok {
		message = m
	}
	var err error
	if message != "" && (event.Type == domain.FlowEventError ||
		event.Type == domain.FlowEventNodeError || event.Type == domain.FlowEventToolError) {
		err = fmt.Errorf("%s", message)
	}
	nodeType, _ := event.Data["nodeType"].(string)

	trace.AddEvent(string(event.Type), event.NodeID, nodeType, message, event.Data, err)
}

// Trace returns the collected trace for a flow, or nil if none exists.
func (s *TraceSink) Trace(flowID string) *ExecutionTrace {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.traces[flowID]
}

// Traces returns every collected trace.
func (s *TraceSink) Traces() []*ExecutionTrace {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ExecutionTrace, 0, len(s.traces))
	for _, t := range s.traces {
		out = append(out, t)
	}
	return out
}

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FlowEventType is the closed set of event kinds the execution engine emits
// for a single run. These are string-id events (a run, a
// node, a tool are addressed by the Plan/IR's string ids) and are kept
// separate from the persisted Event envelope in event.go: that model is
// what the REST/storage layer's EventStore keeps, while FlowEvent is the
// live stream a caller of execute/resume observes.
type FlowEventType string

const (
	FlowEventStart     FlowEventType = "flow-start"
	FlowEventComplete  FlowEventType = "flow-complete"
	FlowEventError     FlowEventType = "flow-error"
	FlowEventSuspended FlowEventType = "flow-suspended"
	FlowEventResumed   FlowEventType = "flow-resumed"

	FlowEventNodeStart    FlowEventType = "node-start"
	FlowEventNodeComplete FlowEventType = "node-complete"
	FlowEventNodeError    FlowEventType = "node-error"

	FlowEventToolStart  FlowEventType = "tool-start"
	FlowEventToolOutput FlowEventType = "tool-output"
	FlowEventToolError  FlowEventType = "tool-error"
)

// FlowEvent is one entry in a run's event stream. FlowID is the run
// identity; NodeID/ToolID are empty for flow-level events.
type FlowEvent struct {
	ID             uuid.UUID      `json:"id"`
	Type           FlowEventType  `json:"type"`
	FlowID         string         `json:"flowId"`
	NodeID         string         `json:"nodeId,omitempty"`
	ToolID         string         `json:"toolId,omitempty"`
	SequenceNumber int64          `json:"sequenceNumber"`
	Timestamp      time.Time      `json:"timestamp"`
	Data           map[string]any `json:"data,omitempty"`
}

// NewFlowEvent builds a FlowEvent, stamping a fresh id and timestamp.
func NewFlowEvent(eventType FlowEventType, flowID string, sequenceNumber int64, nodeID, toolID string, data map[string]any) *FlowEvent {
	if data == nil {
		data = map[string]any{}
	}
	return &FlowEvent{
		ID:             uuid.New(),
		Type:           eventType,
		FlowID:         flowID,
		NodeID:         nodeID,
		ToolID:         toolID,
		SequenceNumber: sequenceNumber,
		Timestamp:      time.Now(),
		Data:           data,
	}
}

// ToJSON is the wire encoding used by the REST and websocket payloads.
func (e *FlowEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FlowEventSink is the engine's output port for the event stream. The
// scheduler calls Emit for every lifecycle transition; logging, websocket
// and persistence observers all subscribe through this one interface.
type FlowEventSink interface {
	Emit(event *FlowEvent)
}

// FlowEventSinkFunc adapts a function to FlowEventSink.
type FlowEventSinkFunc func(event *FlowEvent)

func (f FlowEventSinkFunc) Emit(event *FlowEvent) { f(event) }

// MultiFlowEventSink fans a single Emit out to every sink it wraps.
type MultiFlowEventSink struct {
	Sinks []FlowEventSink
}

func (m *MultiFlowEventSink) Emit(event *FlowEvent) {
	for _, s := range m.Sinks {
		if s != nil {
			s.Emit(event)
		}
	}
}

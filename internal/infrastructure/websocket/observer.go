package websocket

import (
	"github.com/smilemakc/planflow/internal/domain"
)

// Ensure SocketObserver implements the engine's event sink.
var _ domain.FlowEventSink = (*SocketObserver)(nil)

// SocketObserver bridges the engine's domain.FlowEventSink to WebSocket
// clients through the Broadcaster interface: a single Emit dispatching on
// domain.FlowEventType, since FlowEvent already carries flow/node/tool ids
// and a type tag. Events broadcast by flow id; clients subscribe via
// CmdSubscribe with the flow id a run handed back.
type SocketObserver struct {
	hub Broadcaster
}

// NewSocketObserver creates a new SocketObserver.
func NewSocketObserver(hub Broadcaster) *SocketObserver {
	return &SocketObserver{hub: hub}
}

// Emit implements domain.FlowEventSink, translating a FlowEvent into a
// WSEvent and broadcasting it to every client subscribed to its flow.
func (so *SocketObserver) Emit(event *domain.FlowEvent) {
	ws := NewWSEvent(wsEventType(event.Type), "", event.FlowID)
	ws.NodeID = event.NodeID
	ws.ToolID = event.ToolID
	if nodeType, ok := event.Data["nodeType"].(string); ok {
		ws.NodeType = nodeType
	}
	if msg, ok := event.Data["error"].(string); ok {
		ws.Error = msg
	}
	if out, ok := event.Data["output"]; ok {
		ws.Output = out
	}
	if out, ok := event.Data["result"]; ok {
		ws.Output = out
	}
	if key, ok := event.Data["suspensionKey"].(string); ok {
		ws.SuspensionKey = key
	}
	if msg, ok := event.Data["message"].(string); ok {
		ws.Message = msg
	}
	so.hub.Broadcast("", "", event.FlowID, ws)
}

// wsEventType maps the engine's FlowEventType onto the wire event names
// the WebSocket protocol exposes (message.go).
func wsEventType(t domain.FlowEventType) string {
	switch t {
	case domain.FlowEventStart:
		return EventFlowStarted
	case domain.FlowEventComplete:
		return EventFlowCompleted
	case domain.FlowEventError:
		return EventFlowFailed
	case domain.FlowEventSuspended:
		return EventFlowSuspended
	case domain.FlowEventResumed:
		return EventFlowResumed
	case domain.FlowEventNodeStart:
		return EventNodeStarted
	case domain.FlowEventNodeComplete:
		return EventNodeCompleted
	case domain.FlowEventNodeError:
		return EventNodeFailed
	case domain.FlowEventToolStart:
		return EventToolStarted
	case domain.FlowEventToolOutput:
		return EventToolOutput
	case domain.FlowEventToolError:
		return EventToolFailed
	default:
		return string(t)
	}
}

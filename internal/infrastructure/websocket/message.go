package websocket

import (
	"time"
)

// Event types (server -> client)
const (
	EventFlowStarted   = "flow.started"
	EventFlowCompleted = "flow.completed"
	EventFlowFailed    = "flow.failed"
	EventFlowSuspended = "flow.suspended"
	EventFlowResumed   = "flow.resumed"
	EventNodeStarted   = "node.started"
	EventNodeCompleted = "node.completed"
	EventNodeFailed    = "node.failed"
	EventToolStarted   = "tool.started"
	EventToolOutput    = "tool.output"
	EventToolFailed    = "tool.failed"
)

// Command types (client -> server)
const (
	CmdSubscribe   = "subscribe"
	CmdUnsubscribe = "unsubscribe"
	CmdCancel      = "cancel"
)

// WSEvent represents an event sent from server to client. PlanID is the
// compiled plan's persisted id (when known); FlowID is the run identity
// every engine event carries.
type WSEvent struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	PlanID    string    `json:"plan_id,omitempty"`
	FlowID    string    `json:"flow_id"`

	// Node/tool fields (optional)
	NodeID   string `json:"node_id,omitempty"`
	NodeType string `json:"node_type,omitempty"`
	ToolID   string `json:"tool_id,omitempty"`
	Output   any    `json:"output,omitempty"`
	Error    string `json:"error,omitempty"`

	// Suspension fields (flow.suspended only)
	SuspensionKey string `json:"suspension_key,omitempty"`
	Message       string `json:"message,omitempty"`
}

// WSCommand represents a command sent from client to server. Subscriptions
// target a single run (flow_id) or every run of a plan (plan_id).
type WSCommand struct {
	Action string `json:"action"`
	FlowID string `json:"flow_id,omitempty"`
	PlanID string `json:"plan_id,omitempty"`
}

// WSResponse represents a response to a client command
type WSResponse struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewWSEvent creates a new WSEvent with the given type and IDs
func NewWSEvent(eventType, planID, flowID string) *WSEvent {
	return &WSEvent{
		Type:      eventType,
		Timestamp: time.Now(),
		PlanID:    planID,
		FlowID:    flowID,
	}
}

// NewSuccessResponse creates a success response
func NewSuccessResponse(responseType, message string) *WSResponse {
	return &WSResponse{
		Type:    responseType,
		Success: true,
		Message: message,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(responseType, errorMsg string) *WSResponse {
	return &WSResponse{
		Type:    responseType,
		Success: false,
		Error:   errorMsg,
	}
}

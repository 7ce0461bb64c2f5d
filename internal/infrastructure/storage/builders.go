package storage

import (
	"time"

	"github.com/smilemakc/planflow/internal/domain"
)

// EventBuilder assembles a domain.Event field by field, since Event's
// fields are unexported and its constructor takes the full set at once.
type EventBuilder struct {
	eventID      string
	eventType    string
	workflowID   string
	executionID  string
	workflowName string
	nodeID       string
	timestamp    time.Time
	payload      []byte
	metadata     map[string]string
}

func NewEventBuilder() *EventBuilder {
	return &EventBuilder{timestamp: time.Now(), metadata: map[string]string{}}
}
func (b *EventBuilder) EventID(id string) *EventBuilder        { b.eventID = id; return b }
func (b *EventBuilder) EventType(t string) *EventBuilder       { b.eventType = t; return b }
func (b *EventBuilder) WorkflowID(id string) *EventBuilder     { b.workflowID = id; return b }
func (b *EventBuilder) ExecutionID(id string) *EventBuilder    { b.executionID = id; return b }
func (b *EventBuilder) WorkflowName(name string) *EventBuilder { b.workflowName = name; return b }
func (b *EventBuilder) NodeID(id string) *EventBuilder         { b.nodeID = id; return b }
func (b *EventBuilder) Timestamp(t time.Time) *EventBuilder    { b.timestamp = t; return b }
func (b *EventBuilder) PayloadBytes(p []byte) *EventBuilder    { b.payload = p; return b }
func (b *EventBuilder) MetadataKV(k, v string) *EventBuilder {
	if b.metadata == nil {
		b.metadata = map[string]string{}
	}
	b.metadata[k] = v
	return b
}
func (b *EventBuilder) Build() *domain.Event {
	return domain.ReconstructEvent(b.eventID, b.eventType, b.workflowID, b.executionID, b.workflowName, b.nodeID, b.timestamp, b.payload, b.metadata)
}

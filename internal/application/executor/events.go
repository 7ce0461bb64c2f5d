package executor

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smilemakc/planflow/internal/domain"
	"github.com/smilemakc/planflow/internal/infrastructure/monitoring"
)

// LoggingEventSink writes every FlowEvent as a structured zerolog line,
// at error level for the error event kinds and info otherwise.
type LoggingEventSink struct{}

func NewLoggingEventSink() *LoggingEventSink { return &LoggingEventSink{} }

func (s *LoggingEventSink) Emit(event *domain.FlowEvent) {
	e := log.Info()
	if event.Type == domain.FlowEventError || event.Type == domain.FlowEventNodeError || event.Type == domain.FlowEventToolError {
		e = log.Error()
	}
	e = e.Str("flow_id", event.FlowID).Str("event", string(event.Type))
	if event.NodeID != "" {
		e = e.Str("node_id", event.NodeID)
	}
	if event.ToolID != "" {
		e = e.Str("tool_id", event.ToolID)
	}
	e.Int64("seq", event.SequenceNumber).Msg("flow event")
}

// MetricsEventSink feeds FlowEvents into a monitoring.MetricsCollector,
// pairing start and terminal events to record per-flow and per-node
// durations.
type MetricsEventSink struct {
	metrics   *monitoring.MetricsCollector
	startedAt map[string]time.Time
	nodeStart map[string]time.Time
}

func NewMetricsEventSink(metrics *monitoring.MetricsCollector) *MetricsEventSink {
	return &MetricsEventSink{
		metrics:   metrics,
		startedAt: make(map[string]time.Time),
		nodeStart: make(map[string]time.Time),
	}
}

func (s *MetricsEventSink) Emit(event *domain.FlowEvent) {
	switch event.Type {
	case domain.FlowEventStart:
		s.startedAt[event.FlowID] = event.Timestamp
	case domain.FlowEventComplete:
		s.metrics.RecordWorkflowExecution(event.FlowID, event.Timestamp.Sub(s.startedAt[event.FlowID]), true)
		delete(s.startedAt, event.FlowID)
	case domain.FlowEventError:
		s.metrics.RecordWorkflowExecution(event.FlowID, event.Timestamp.Sub(s.startedAt[event.FlowID]), false)
		delete(s.startedAt, event.FlowID)
	case domain.FlowEventNodeStart:
		s.nodeStart[event.FlowID+"/"+event.NodeID] = event.Timestamp
	case domain.FlowEventNodeComplete:
		key := event.FlowID + "/" + event.NodeID
		s.metrics.RecordNodeExecution(event.NodeID, event.ToolID, event.ToolID, event.Timestamp.Sub(s.nodeStart[key]), true, false)
		delete(s.nodeStart, key)
	case domain.FlowEventNodeError:
		key := event.FlowID + "/" + event.NodeID
		s.metrics.RecordNodeExecution(event.NodeID, event.ToolID, event.ToolID, event.Timestamp.Sub(s.nodeStart[key]), false, false)
		delete(s.nodeStart, key)
	}
}

// NewDefaultSink composes the standard sink stack (logging, metrics, and
// any caller-supplied transport sinks such as the websocket observer) into
// a single domain.FlowEventSink via domain.MultiFlowEventSink.
func NewDefaultSink(metrics *monitoring.MetricsCollector, extra ...domain.FlowEventSink) domain.FlowEventSink {
	sinks := []domain.FlowEventSink{NewLoggingEventSink()}
	if metrics != nil {
		sinks = append(sinks, NewMetricsEventSink(metrics))
	}
	sinks = append(sinks, extra...)
	return &domain.MultiFlowEventSink{Sinks: sinks}
}

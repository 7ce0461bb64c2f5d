package monitoring

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/smilemakc/planflow/internal/domain"
)

// OTelTraceSink turns flow events into OpenTelemetry spans: one span per
// run, one child span per node execution. Where the trace data goes is the
// caller's concern (configured through the global otel tracer provider or
// an explicitly supplied tracer).
type OTelTraceSink struct {
	tracer trace.Tracer

	mu        sync.Mutex
	flowCtxs  map[string]context.Context
	flowSpans map[string]trace.Span
	nodeSpans map[string]trace.Span
}

// NewOTelTraceSink creates a sink over tracer; nil falls back to the
// global provider's "planflow" tracer.
func NewOTelTraceSink(tracer trace.Tracer) *OTelTraceSink {
	if tracer == nil {
		tracer = otel.Tracer("planflow")
	}
	return &OTelTraceSink{
		tracer:    tracer,
		flowCtxs:  make(map[string]context.Context),
		flowSpans: make(map[string]trace.Span),
		nodeSpans: make(map[string]trace.Span),
	}
}

// Emit implements domain.FlowEventSink.
func (s *OTelTraceSink) Emit(event *domain.FlowEvent) {
	if event == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch event.Type {
	case domain.FlowEventStart, domain.FlowEventResumed:
		ctx, span := s.tracer.Start(context.Background(), "flow",
			trace.WithAttributes(attribute.String("flow.id", event.FlowID)))
		s.flowCtxs[event.FlowID] = ctx
		s.flowSpans[event.FlowID] = span

	case domain.FlowEventNodeStart:
		parent, ok := s.flowCtxs[event.FlowID]
		if !ok {
			parent = context.Background()
		}
		nodeType, _ := event.Data["nodeType"].(string)
		_, span := s.tracer.Start(parent, "node",
			trace.WithAttributes(
				attribute.String("flow.id", event.FlowID),
				attribute.String("node.id", event.NodeID),
				attribute.String("node.type", nodeType),
			))
		s.nodeSpans[event.FlowID+"/"+event.NodeID] = span

	case domain.FlowEventNodeComplete:
		s.endNodeSpan(event, codes.Ok, "")

	case domain.FlowEventNodeError:
		msg, _ := event.Data["error"].(string)
		s.endNodeSpan(event, codes.Error, msg)

	case domain.FlowEventComplete:
		s.endFlowSpan(event.FlowID, codes.Ok, "")

	case domain.FlowEventError:
		msg, _ := event.Data["error"].(string)
		s.endFlowSpan(event.FlowID, codes.Error, msg)

	case domain.FlowEventSuspended:
		s.endFlowSpan(event.FlowID, codes.Ok, "suspended")
	}
}

func (s *OTelTraceSink) endNodeSpan(event *domain.FlowEvent, code codes.Code, msg string) {
	key := event.FlowID + "/" + event.NodeID
	span, ok := s.nodeSpans[key]
	if !ok {
		return
	}
	delete(s.nodeSpans, key)
	span.SetStatus(code, msg)
	span.End()
}

func (s *OTelTraceSink) endFlowSpan(flowID string, code codes.Code, msg string) {
	span, ok := s.flowSpans[flowID]
	if !ok {
		return
	}
	delete(s.flowSpans, flowID)
	delete(s.flowCtxs, flowID)
	span.SetStatus(code, msg)
	span.End()
}

package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/smilemakc/planflow"
	"github.com/smilemakc/planflow/internal/domain"
	"github.com/smilemakc/planflow/internal/infrastructure/storage"
)

// ExecuteFlowRequest is the body of POST /api/v1/flows/execute.
type ExecuteFlowRequest struct {
	Goal                 string         `json:"goal"`
	SystemPrompt         string         `json:"systemPrompt,omitempty"`
	Input                map[string]any `json:"input,omitempty"`
	SessionID            string         `json:"sessionId,omitempty"`
	SuspensionTTLSeconds int            `json:"suspensionTtlSeconds,omitempty"`
}

// ExecuteFlowResponse is returned once the run's flow-start event has
// fired; the run itself continues in the background and is observable via
// GET /api/v1/flows/{id} and GET /api/v1/flows/{id}/events.
type ExecuteFlowResponse struct {
	FlowID string `json:"flowId"`
	PlanID string `json:"planId"`
}

// handleExecuteFlow handles POST /api/v1/flows/execute: generates and runs
// a Plan for goal in one call (planflow.Engine.Generate + Instance.Run),
// persisting the plan, the run's snapshot state and its event stream to
// Storage as it progresses.
func (s *Server) handleExecuteFlow(w http.ResponseWriter, r *http.Request) {
	var req ExecuteFlowRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Goal == "" {
		s.respondError(w, "goal is required", http.StatusBadRequest)
		return
	}

	opts := planflow.RunOptions{SystemPrompt: req.SystemPrompt, Input: req.Input, SessionID: req.SessionID}
	if req.SuspensionTTLSeconds > 0 {
		opts.SuspensionTTL = time.Duration(req.SuspensionTTLSeconds) * time.Second
	}

	flowID, planID, err := s.runFlow(r.Context(), req.Goal, opts)
	if err != nil {
		s.respondError(w, err.Error(), statusForRunErr(err))
		return
	}

	s.respondJSON(w, ExecuteFlowResponse{FlowID: flowID, PlanID: planID}, http.StatusAccepted)
}

// runErr carries the HTTP status a runFlow failure should surface, since it
// can fail either at planning (client-correctable: bad goal) or at the
// first-event read (server-side).
type runErr struct {
	status int
	msg    string
}

func (e *runErr) Error() string { return e.msg }

func statusForRunErr(err error) int {
	if re, ok := err.(*runErr); ok {
		return re.status
	}
	return http.StatusInternalServerError
}

// runFlow generates and runs a Plan for goal (planflow.Engine.Generate +
// Instance.Run), persists the plan, and hands the run's event
// stream to drainEvents in the background. It is shared by
// handleExecuteFlow and the HTTP trigger webhook handlers
// (handlers_triggers.go), both of which fire a flow from an external
// request and only need the resulting flow/plan IDs back.
func (s *Server) runFlow(ctx context.Context, goal string, opts planflow.RunOptions) (flowID, planID string, err error) {
	instance, err := s.engine.Generate(ctx, goal, nil, nil, opts)
	if err != nil {
		s.logger.Error("plan generation failed", "error", err)
		return "", "", &runErr{status: http.StatusUnprocessableEntity, msg: err.Error()}
	}

	planID = uuid.NewString()
	if err := s.store.SavePlan(ctx, planID, instance.GetPlan()); err != nil {
		s.logger.Error("failed to save plan", "error", err)
	}

	// The run gets its own context: the request ctx governs planning only,
	// so a client disconnect can't cancel an already-started flow.
	stream := instance.Run(context.Background())
	first, ok := <-stream
	if !ok {
		return "", "", &runErr{status: http.StatusInternalServerError, msg: "flow produced no events"}
	}

	state := domain.NewExecutionState(first.FlowID, planID)
	state.SetStatus(domain.ExecutionStateStatusRunning)
	if err := s.store.SaveRunState(ctx, state); err != nil {
		s.logger.Error("failed to save run state", "error", err)
	}
	s.persistEvent(ctx, first)

	go s.drainEvents(context.Background(), first.FlowID, planID, stream)

	return first.FlowID, planID, nil
}

// ResumeFlowRequest is the body of POST /api/v1/flows/resume.
type ResumeFlowRequest struct {
	SuspensionKey string         `json:"suspensionKey"`
	Input         map[string]any `json:"input,omitempty"`
}

// handleResumeFlow handles POST /api/v1/flows/resume:
// re-enters a suspended run at its suspended node, consuming the
// suspension token.
func (s *Server) handleResumeFlow(w http.ResponseWriter, r *http.Request) {
	var req ResumeFlowRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SuspensionKey == "" {
		s.respondError(w, "suspensionKey is required", http.StatusBadRequest)
		return
	}

	record, err := s.store.Fetch(req.SuspensionKey)
	if err != nil {
		s.respondError(w, "suspension not found", http.StatusNotFound)
		return
	}

	// As with execute, the resumed run outlives the request.
	stream, err := s.engine.Resume(context.Background(), req.SuspensionKey, req.Input)
	if err != nil {
		s.logger.Error("resume failed", "error", err)
		s.respondError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	go s.drainEvents(context.Background(), record.FlowID, "", stream)

	s.respondJSON(w, map[string]string{"flowId": record.FlowID}, http.StatusAccepted)
}

// handleListRuns handles GET /api/v1/flows?limit=&offset=.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	runs, err := s.store.ListRuns(ctx, limit, offset)
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		s.respondError(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	s.respondJSON(w, runs, http.StatusOK)
}

// handleGetRun handles GET /api/v1/flows/{id}.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	flowID := r.PathValue("id")
	state, ok, err := s.store.GetRunState(ctx, flowID)
	if err != nil {
		s.logger.Error("failed to get run state", "error", err)
		s.respondError(w, "failed to get run", http.StatusInternalServerError)
		return
	}
	if !ok {
		s.respondError(w, "run not found", http.StatusNotFound)
		return
	}
	s.respondJSON(w, state, http.StatusOK)
}

// handleGetEvents handles GET /api/v1/flows/{id}/events?since=eventId.
func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	flowID := r.PathValue("id")
	since := r.URL.Query().Get("since")

	var events []*domain.Event
	var err error
	if since != "" {
		events, err = s.store.GetEventsSince(ctx, flowID, since)
	} else {
		events, err = s.store.GetEvents(ctx, flowID)
	}
	if err != nil {
		s.logger.Error("failed to get events", "error", err)
		s.respondError(w, "failed to get events", http.StatusInternalServerError)
		return
	}
	s.respondJSON(w, events, http.StatusOK)
}

// drainEvents persists every event of a run's stream as it arrives and
// keeps the run's snapshot state (Storage.SaveRunState) up to date. It
// runs on its own background context so a client disconnecting the HTTP
// request that started the run never truncates the run itself.
func (s *Server) drainEvents(ctx context.Context, flowID, planID string, stream planflow.EventStream) {
	state, ok, err := s.store.GetRunState(ctx, flowID)
	if err != nil || !ok {
		state = domain.NewExecutionState(flowID, planID)
		state.SetStatus(domain.ExecutionStateStatusRunning)
	}

	for event := range stream {
		s.persistEvent(ctx, event)

		switch event.Type {
		case domain.FlowEventComplete:
			state.SetStatus(domain.ExecutionStateStatusCompleted)
		case domain.FlowEventError:
			state.SetStatus(domain.ExecutionStateStatusFailed)
			if msg, ok := event.Data["error"].(string); ok {
				state.SetError(msg)
			}
		case domain.FlowEventSuspended:
			// Suspended runs stay "running": they are not finished, only
			// paused pending a matching POST /api/v1/flows/resume.
		}

		if err := s.store.SaveRunState(ctx, state); err != nil {
			s.logger.Error("failed to save run state", "flowId", flowID, "error", err)
		}
	}
}

// persistEvent converts one FlowEvent into the storage-layer Event
// envelope (domain/event.go) and appends it, so the live stream a caller
// drains via EventStream and the durable event log a caller queries via
// GET .../events agree.
func (s *Server) persistEvent(ctx context.Context, event *domain.FlowEvent) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		s.logger.Error("failed to marshal event payload", "error", err)
		return
	}
	ev := storage.NewEventBuilder().
		EventID(event.ID.String()).
		EventType(string(event.Type)).
		ExecutionID(event.FlowID).
		NodeID(event.NodeID).
		Timestamp(event.Timestamp).
		PayloadBytes(payload).
		MetadataKV("toolId", event.ToolID).
		MetadataKV("sequenceNumber", strconv.FormatInt(event.SequenceNumber, 10)).
		Build()
	if err := s.store.AppendEvent(ctx, ev); err != nil {
		s.logger.Error("failed to append event", "flowId", event.FlowID, "error", err)
	}
}

package rest

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/smilemakc/planflow"
)

// GeneratePlanRequest is the body of POST /api/v1/plans/generate.
type GeneratePlanRequest struct {
	Goal         string         `json:"goal"`
	SystemPrompt string         `json:"systemPrompt,omitempty"`
	Input        map[string]any `json:"input,omitempty"`
}

// GeneratePlanResponse returns the synthesized, validated Plan alongside the id it was persisted under.
type GeneratePlanResponse struct {
	PlanID string      `json:"planId"`
	Plan   interface{} `json:"plan"`
}

// handleGeneratePlan handles POST /api/v1/plans/generate: synthesizes a
// Plan from a goal without running it (planflow.Engine.Generate), then
// persists it under a new id that GET /api/v1/plans/{id} serves. POST
// /api/v1/flows/execute takes a goal, not a plan id, and always generates
// its own plan; a stored plan cannot be run through the REST API.
func (s *Server) handleGeneratePlan(w http.ResponseWriter, r *http.Request) {
	var req GeneratePlanRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Goal == "" {
		s.respondError(w, "goal is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	instance, err := s.engine.Generate(ctx, req.Goal, nil, nil, planflow.RunOptions{
		SystemPrompt: req.SystemPrompt,
		Input:        req.Input,
	})
	if err != nil {
		s.logger.Error("plan generation failed", "error", err)
		s.respondError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	plan := instance.GetPlan()
	planID := uuid.NewString()
	if err := s.store.SavePlan(ctx, planID, plan); err != nil {
		s.logger.Error("failed to save plan", "error", err)
		s.respondError(w, "failed to save plan", http.StatusInternalServerError)
		return
	}

	s.respondJSON(w, GeneratePlanResponse{PlanID: planID, Plan: plan}, http.StatusCreated)
}

// handleListPlans handles GET /api/v1/plans.
func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ids, err := s.store.ListPlans(ctx)
	if err != nil {
		s.logger.Error("failed to list plans", "error", err)
		s.respondError(w, "failed to list plans", http.StatusInternalServerError)
		return
	}
	s.respondJSON(w, map[string]any{"planIds": ids}, http.StatusOK)
}

// handleGetPlan handles GET /api/v1/plans/{id}.
func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	planID := r.PathValue("id")
	plan, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		s.respondError(w, "plan not found", http.StatusNotFound)
		return
	}
	s.respondJSON(w, plan, http.StatusOK)
}

package rest

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/smilemakc/planflow"
	"github.com/smilemakc/planflow/internal/domain"
	"github.com/smilemakc/planflow/internal/trigger"
)

// webhookTrigger pairs a registered domain.Trigger with the goal template it
// fires: the HTTP payload's "input" becomes the run's Input and, unless the
// payload itself carries a "goal", the trigger's configured goal is used.
type webhookTrigger struct {
	def  *domain.Trigger
	http *trigger.HTTPTrigger
}

// triggerRegistry is the in-memory set of webhook triggers a server exposes,
// keyed by name (the {name} path segment of POST /api/v1/triggers/{name}).
// Unlike Plans/Flows this is not durable: a trigger is a routing rule, not a
// run, so losing it on restart just means re-registering it at startup.
type triggerRegistry struct {
	mu       sync.RWMutex
	webhooks map[string]*webhookTrigger
	manual   *trigger.ManualTrigger
}

func newTriggerRegistry() *triggerRegistry {
	return &triggerRegistry{
		webhooks: make(map[string]*webhookTrigger),
		manual:   trigger.NewManual(),
	}
}

// RegisterWebhook wires a named HTTP trigger to a default goal template,
// built through trigger.NewHTTPTriggerBuilder. The route itself accepts
// only POST, and the HTTPTrigger then also checks method, so a webhook
// registered with any method other than POST or "" answers every request
// with 405.
func (s *Server) RegisterWebhook(name, method, defaultGoal string) {
	b := trigger.NewHTTPTriggerBuilder().Path("/api/v1/triggers/"+name).Method(method)
	s.triggers.mu.Lock()
	s.triggers.webhooks[name] = &webhookTrigger{
		def:  domain.NewTrigger(name, "", "http", map[string]any{"goal": defaultGoal, "method": method}),
		http: b.Build(),
	}
	s.triggers.mu.Unlock()
}

// handleTriggerWebhook handles POST /api/v1/triggers/{name}: an external
// event source firing a registered workflow. The named webhook's
// HTTPTrigger checks the method and decodes the request body; its callback
// then passes the payload through trigger.ManualTrigger.Fire so a
// programmatic caller and an HTTP caller share the same payload-to-run path.
func (s *Server) handleTriggerWebhook(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	s.triggers.mu.RLock()
	wh, ok := s.triggers.webhooks[name]
	s.triggers.mu.RUnlock()
	if !ok {
		s.respondError(w, fmt.Sprintf("trigger %q not registered", name), http.StatusNotFound)
		return
	}

	wh.http.Handler(func(ctx context.Context, payload map[string]any) (int, any) {
		ctx, payload = s.triggers.manual.Fire(ctx, payload)

		goal, _ := payload["goal"].(string)
		if goal == "" {
			goal, _ = wh.def.Config()["goal"].(string)
		}
		if goal == "" {
			return http.StatusBadRequest, map[string]string{"error": "trigger has no goal configured and payload carries none"}
		}

		input, _ := payload["input"].(map[string]any)
		flowID, planID, err := s.runFlow(ctx, goal, planflow.RunOptions{Input: input})
		if err != nil {
			return statusForRunErr(err), map[string]string{"error": err.Error()}
		}
		return http.StatusAccepted, ExecuteFlowResponse{FlowID: flowID, PlanID: planID}
	})(w, r)
}

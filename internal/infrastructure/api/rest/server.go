package rest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/smilemakc/planflow"
	"github.com/smilemakc/planflow/internal/domain"
)

// ServerConfig toggles the middleware chain wrapped around the mux:
// CORS, rate limiting and API-key auth are optional, composable layers.
// No TLS/multi-tenant config; the REST surface is a thin wrapper over one
// Engine and one Storage.
type ServerConfig struct {
	EnableCORS      bool
	EnableRateLimit bool
	RateLimitMax    int
	RateLimitWindow time.Duration
	APIKeys         []string
}

// Server exposes the planning/execution engine over HTTP:
// plan generation, flow execution/resume, and run/event inspection against
// the Storage a caller wired into EngineConfig/NewEngine.
type Server struct {
	store    domain.Storage
	engine   *planflow.Engine
	mux      *http.ServeMux
	logger   *slog.Logger
	cfg      ServerConfig
	triggers *triggerRegistry
}

func NewServer(store domain.Storage, engine *planflow.Engine, logger *slog.Logger, cfg ServerConfig) *Server {
	s := &Server{
		store:    store,
		engine:   engine,
		mux:      http.NewServeMux(),
		logger:   logger,
		cfg:      cfg,
		triggers: newTriggerRegistry(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/v1/plans/generate", s.handleGeneratePlan)
	s.mux.HandleFunc("GET /api/v1/plans", s.handleListPlans)
	s.mux.HandleFunc("GET /api/v1/plans/{id}", s.handleGetPlan)

	s.mux.HandleFunc("POST /api/v1/flows/execute", s.handleExecuteFlow)
	s.mux.HandleFunc("POST /api/v1/flows/resume", s.handleResumeFlow)
	s.mux.HandleFunc("GET /api/v1/flows", s.handleListRuns)
	s.mux.HandleFunc("GET /api/v1/flows/{id}", s.handleGetRun)
	s.mux.HandleFunc("GET /api/v1/flows/{id}/events", s.handleGetEvents)

	s.mux.HandleFunc("POST /api/v1/triggers/{name}", s.handleTriggerWebhook)

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
}

// MountWebSocket registers handler as the live event-stream endpoint
// (GET /api/v1/ws). The handler upgrades the connection and hands it to
// the hub whose SocketObserver is wired into the engine's sinks; clients
// then subscribe to flow ids over the socket itself. Kept out of routes()
// so deployments without a hub simply never mount it.
func (s *Server) MountWebSocket(handler http.Handler) {
	s.mux.Handle("GET /api/v1/ws", handler)
}

// ServeHTTP applies the configured middleware chain around the mux:
// logging and recovery always, CORS/rate-limit/auth per ServerConfig
// (middleware.go).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var h http.Handler = s.mux
	if len(s.cfg.APIKeys) > 0 {
		h = newAuthMiddleware(s.cfg.APIKeys).middleware(h)
	}
	if s.cfg.EnableRateLimit {
		max := s.cfg.RateLimitMax
		if max <= 0 {
			max = 100
		}
		window := s.cfg.RateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		h = newRateLimiter(max, window).middleware(h)
	}
	if s.cfg.EnableCORS {
		h = corsMiddleware(h)
	}
	h = contentTypeMiddleware(h)
	h = recoveryMiddleware(s.logger, h)
	h = loggingMiddleware(s.logger, h)
	h.ServeHTTP(w, r)
}

func (s *Server) respondJSON(w http.ResponseWriter, v any, status int) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, message string, status int) {
	s.respondJSON(w, map[string]string{"error": message}, status)
}

func (s *Server) decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.respondError(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	s.respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

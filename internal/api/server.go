package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"hiring-pipeline-agents/internal/agent"
	"hiring-pipeline-agents/internal/catalog"
	"hiring-pipeline-agents/internal/telemetry"
)

// Agents is the view of the supervisor the admin API needs.
type Agents interface {
	Snapshot() []agent.Status
	Lookup(name string) (*agent.Scheduler, bool)
}

// Server wires HTTP handlers for the admin surface.
type Server struct {
	agents Agents
	logger *zap.Logger
}

// New constructs the admin server.
func New(agents Agents, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{agents: agents, logger: logger}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Get("/agents", s.handleList)
	r.Get("/agents/{name}", s.handleGet)
	r.Post("/agents/{name}/trigger", s.handleTrigger)
	r.Get("/catalog", s.handleCatalog)
	return r
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"agents": s.agents.Snapshot()})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	sch, ok := s.agents.Lookup(chi.URLParam(r, "name"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	writeJSON(w, http.StatusOK, sch.Snapshot())
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	sch, ok := s.agents.Lookup(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	queued := sch.Trigger()
	s.logger.Info("manual cycle requested", zap.String("agent", name), zap.Bool("queued", queued))
	writeJSON(w, http.StatusAccepted, map[string]any{"agent": name, "queued": queued})
}

type transitionView struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Stage string `json:"stage"`
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	edges := catalog.Transitions(catalog.StageCombined)
	out := make([]transitionView, 0, len(edges))
	for _, t := range edges {
		out = append(out, transitionView{From: t.From, To: t.To, Stage: t.Stage.String()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"transitions": out})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

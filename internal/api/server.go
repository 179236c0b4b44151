package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/DavidSchwarz2/agentpipe/internal/app"
	"github.com/DavidSchwarz2/agentpipe/internal/approval"
	"github.com/DavidSchwarz2/agentpipe/internal/broker"
	"github.com/DavidSchwarz2/agentpipe/internal/lifecycle"
	"github.com/DavidSchwarz2/agentpipe/internal/registry"
	"github.com/DavidSchwarz2/agentpipe/internal/runner"
)

// Server holds every collaborator the HTTP handlers delegate to. It carries
// no state of its own beyond the IssueFetcher; all engine state lives in the
// store and the collaborators.
type Server struct {
	db       *sql.DB
	reg      *registry.Registry
	run      *runner.Runner
	signals  *approval.Coordinator
	lc       *lifecycle.Manager
	evt      *broker.Broker
	settings app.RunnerSettings
	issues   IssueFetcher
}

// NewServer wires a Server against the given collaborators. issues may be
// nil, in which case StubIssueFetcher is used.
func NewServer(db *sql.DB, reg *registry.Registry, run *runner.Runner, signals *approval.Coordinator, lc *lifecycle.Manager, evt *broker.Broker, settings app.RunnerSettings, issues IssueFetcher) *Server {
	if issues == nil {
		issues = StubIssueFetcher{}
	}
	return &Server{db: db, reg: reg, run: run, signals: signals, lc: lc, evt: evt, settings: settings, issues: issues}
}

// NewRouter builds the chi router for the pipeline, registry, and event
// stream endpoints.
func (s *Server) NewRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/pipelines", func(r chi.Router) {
		r.Post("/", s.createPipeline)
		r.Get("/", s.listPipelines)
		r.Get("/conflicts", s.listConflicts)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getPipeline)
			r.Post("/abort", s.abortPipeline)
			r.Post("/approve", s.approvePipeline)
			r.Post("/reject", s.rejectPipeline)
			r.Post("/restart", s.restartPipeline)
		})
	})

	r.Route("/registry", func(r chi.Router) {
		r.Route("/agents", func(r chi.Router) {
			r.Get("/", s.listAgents)
			r.Post("/", s.createAgent)
			r.Put("/{name}", s.updateAgent)
			r.Delete("/{name}", s.deleteAgent)
		})
		r.Route("/pipelines", func(r chi.Router) {
			r.Get("/", s.listTemplates)
			r.Post("/", s.createTemplate)
			r.Put("/{name}", s.updateTemplate)
			r.Delete("/{name}", s.deleteTemplate)
		})
	})

	r.Get("/events", s.streamEvents)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

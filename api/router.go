// Package api exposes the core's REST surface over chi: job/task/workflow/
// artifact/DLQ endpoints, bearer-token auth, and an SSE push stream for job
// events.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bluebox123/agentic-orchestrator/artifact"
	"github.com/bluebox123/agentic-orchestrator/broker"
	"github.com/bluebox123/agentic-orchestrator/orchestrator"
	"github.com/bluebox123/agentic-orchestrator/planner"
	"github.com/bluebox123/agentic-orchestrator/registry"
	"github.com/bluebox123/agentic-orchestrator/store"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Deps collects every component the API surface calls into.
type Deps struct {
	Store     *store.Store
	Orch      *orchestrator.Orchestrator
	Artifacts *artifact.Store
	Broker    *broker.Broker
	Registry  *registry.Registry
	Planner   *planner.Planner
	Events    *EventBus
	JWTSecret string
	Logger    *slog.Logger
}

type handlers struct {
	store     *store.Store
	orch      *orchestrator.Orchestrator
	artifacts *artifact.Store
	broker    *broker.Broker
	registry  *registry.Registry
	planner   *planner.Planner
	events    *EventBus
	logger    *slog.Logger
}

// New builds the router for the public API. All routes under /api require
// a valid bearer token except the liveness probe.
func New(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	h := &handlers{
		store:     deps.Store,
		orch:      deps.Orch,
		artifacts: deps.Artifacts,
		broker:    deps.Broker,
		registry:  deps.Registry,
		planner:   deps.Planner,
		events:    deps.Events,
		logger:    deps.Logger,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware(deps.JWTSecret))

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", h.createJob)
			r.Get("/", h.listJobs)
			r.Get("/{id}", h.getJob)
			r.Get("/{id}/tasks", h.listJobTasks)
			r.Get("/{id}/events", h.handleJobEvents)
			r.Post("/{id}/cancel", h.cancelJob)
			r.Post("/{id}/pause", h.pauseJob)
			r.Post("/{id}/resume", h.resumeJob)
			r.Post("/{id}/schedule", h.scheduleJob)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/{id}/retry", h.retryTask)
			r.Post("/{id}/skip", h.skipTask)
			r.Post("/{id}/fail", h.failTask)
			r.Post("/{id}/review", h.reviewTask)
		})

		r.Route("/workflows", func(r chi.Router) {
			r.Post("/", h.createWorkflow)
			r.Post("/{id}/versions", h.createWorkflowVersion)
			r.Post("/{id}/run", h.runWorkflow)
		})

		r.Route("/artifacts", func(r chi.Router) {
			r.Get("/{id}/diff", h.diffArtifact)
			r.Get("/versions/{jobId}/{type}", h.listArtifactVersions)
			r.Get("/versions/{jobId}/{type}/{role}", h.listArtifactVersions)
			r.Post("/{id}/promote", h.promoteArtifact)
		})

		r.Get("/dlq", h.listDLQ)
		r.Post("/plan", h.plan)
	})

	return r
}

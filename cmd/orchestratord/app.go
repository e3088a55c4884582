package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/bluebox123/agentic-orchestrator/api"
	"github.com/bluebox123/agentic-orchestrator/artifact"
	"github.com/bluebox123/agentic-orchestrator/broker"
	"github.com/bluebox123/agentic-orchestrator/config"
	"github.com/bluebox123/agentic-orchestrator/llm"
	"github.com/bluebox123/agentic-orchestrator/orchestrator"
	"github.com/bluebox123/agentic-orchestrator/planner"
	"github.com/bluebox123/agentic-orchestrator/registry"
	"github.com/bluebox123/agentic-orchestrator/scheduler"
	"github.com/bluebox123/agentic-orchestrator/store"
)

// App wires together every component of the orchestration core: NATS
// transport, the JetStream-backed store and artifact layer, the
// orchestrator state machine, its broker consumer loops, the periodic
// scheduler, and the public HTTP API.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	embeddedServer *server.Server
	natsConn       *nats.Conn
	js             jetstream.JetStream

	store     *store.Store
	artifacts *artifact.Store
	reg       *registry.Registry
	broker    *broker.Broker
	events    *api.EventBus
	orch      *orchestrator.Orchestrator
	sched     *scheduler.Scheduler
	httpSrv   *http.Server

	consumerCancel context.CancelFunc
}

// NewApp creates an unstarted App over cfg.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{cfg: cfg, logger: logger}, nil
}

// Connect brings up NATS, the store, the broker, and the orchestrator —
// enough for one-shot CLI operations (replay-dlq) that need to drive state
// transitions without the consumer loops, scheduler, or HTTP API running.
func (a *App) Connect(ctx context.Context) error {
	if err := a.startNATS(ctx); err != nil {
		return fmt.Errorf("start NATS: %w", err)
	}

	s, err := store.New(ctx, a.js, a.cfg.Store.BucketPrefix)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	a.store = s

	b, err := broker.New(ctx, a.js, a.logger)
	if err != nil {
		return fmt.Errorf("initialize broker: %w", err)
	}
	a.broker = b

	a.artifacts = artifact.New(a.store)
	a.reg = registry.NewDefaultRegistry()

	a.events = api.NewEventBus(a.natsConn)
	a.orch = orchestrator.New(a.store, a.broker, a.events, a.artifacts, a.cfg.Task, a.logger)
	return nil
}

// Start brings up every component and begins serving: the broker's claim
// and result consumer loops, the periodic scheduler, and the public HTTP
// API. It returns once the listener is up; call Shutdown to stop.
func (a *App) Start(ctx context.Context) error {
	if err := a.Connect(ctx); err != nil {
		return err
	}

	consumerCtx, cancel := context.WithCancel(context.Background())
	a.consumerCancel = cancel
	go func() {
		if err := a.broker.RunClaimLoop(consumerCtx, a.orch); err != nil {
			a.logger.Error("claim consumer loop exited", "error", err)
		}
	}()
	go func() {
		if err := a.broker.RunResultLoop(consumerCtx, a.orch); err != nil {
			a.logger.Error("result consumer loop exited", "error", err)
		}
	}()

	a.sched = scheduler.New(a.store, a.orch, a.artifacts, a.cfg.Scheduler.TickInterval,
		time.Duration(a.cfg.Store.RetentionDays)*24*time.Hour, a.cfg.Task.Timeout, a.logger)
	a.sched.Start(consumerCtx)

	modelRegistry := planner.NewModelRegistryFromConfig(a.cfg.LLM)
	llmClient := llm.NewClient(modelRegistry, llm.WithLogger(a.logger))
	plan := planner.New(a.reg, llmClient, a.logger)

	handler := api.New(api.Deps{
		Store:     a.store,
		Orch:      a.orch,
		Artifacts: a.artifacts,
		Broker:    a.broker,
		Registry:  a.reg,
		Planner:   plan,
		Events:    a.events,
		JWTSecret: a.cfg.Auth.JWTSecret,
		Logger:    a.logger,
	})

	a.httpSrv = &http.Server{Addr: fmt.Sprintf(":%d", a.cfg.API.Port), Handler: handler}
	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("http server exited", "error", err)
		}
	}()

	a.logger.Info("orchestrator started", "port", a.cfg.API.Port)
	return nil
}

// Shutdown gracefully stops every component within timeout.
func (a *App) Shutdown(timeout time.Duration) {
	a.logger.Info("shutting down")

	if a.sched != nil {
		a.sched.Stop()
	}
	if a.consumerCancel != nil {
		a.consumerCancel()
	}
	if a.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := a.httpSrv.Shutdown(ctx); err != nil {
			a.logger.Warn("http server shutdown error", "error", err)
		}
	}
	if a.natsConn != nil {
		a.natsConn.Drain()
		a.natsConn.Close()
	}
	if a.embeddedServer != nil {
		a.embeddedServer.Shutdown()
		a.embeddedServer.WaitForShutdown()
	}

	a.logger.Info("shutdown complete")
}

func (a *App) startNATS(ctx context.Context) error {
	if a.cfg.NATS.URL != "" && !a.cfg.NATS.Embedded {
		a.logger.Info("connecting to NATS", "url", a.cfg.NATS.URL)
		conn, err := nats.Connect(a.cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		a.natsConn = conn
	} else {
		a.logger.Info("starting embedded NATS server")
		opts := &server.Options{
			Port:      -1,
			JetStream: true,
			NoLog:     true,
			NoSigs:    true,
		}
		ns, err := server.NewServer(opts)
		if err != nil {
			return fmt.Errorf("create embedded NATS server: %w", err)
		}
		go ns.Start()
		if !ns.ReadyForConnections(5 * time.Second) {
			ns.Shutdown()
			return fmt.Errorf("embedded NATS server failed to start")
		}
		a.embeddedServer = ns

		conn, err := nats.Connect(ns.ClientURL())
		if err != nil {
			ns.Shutdown()
			return fmt.Errorf("connect to embedded NATS: %w", err)
		}
		a.natsConn = conn
	}

	js, err := jetstream.New(a.natsConn)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}
	a.js = js
	return nil
}

// ReplayDLQ re-enqueues up to limit dead-lettered tasks for redispatch,
// returning the number successfully retried. FailFromDLQ already left each
// entry's task in FAILED, so replay is just the ordinary manual retry path
// (FAILED -> PENDING -> readiness scan), not a raw re-publish of the
// original dispatch message — that lets the orchestrator re-resolve
// placeholders against whatever upstream outputs exist now. Consumes the
// DLQ reader cursor exactly like the API's listing endpoint, so replayed
// entries won't reappear on a later GET /api/dlq page.
func (a *App) ReplayDLQ(ctx context.Context, limit int) (int, error) {
	entries, err := a.broker.FetchDLQ(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("fetch DLQ entries: %w", err)
	}

	n := 0
	for _, entry := range entries {
		jobID, taskID := entry.TaskMessage.JobID, entry.TaskMessage.TaskID
		if err := a.orch.RetryManual(ctx, jobID, taskID); err != nil {
			a.logger.Error("replay DLQ entry failed", "job_id", jobID, "task_id", taskID, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

package main

import (
	"context"
	"testing"
	"time"

	"github.com/bluebox123/agentic-orchestrator/config"
	"github.com/bluebox123/agentic-orchestrator/dag"
	"github.com/bluebox123/agentic-orchestrator/store"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.NATS.Embedded = true
	cfg.Store.BucketPrefix = "orchestratord-test"
	return cfg
}

func TestAppConnectStop(t *testing.T) {
	cfg := testConfig()
	app, err := NewApp(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, app.Connect(ctx))
	require.NotNil(t, app.natsConn)
	require.NotNil(t, app.js)
	require.NotNil(t, app.store)
	require.NotNil(t, app.broker)
	require.NotNil(t, app.orch)
	require.NotNil(t, app.embeddedServer)

	app.Shutdown(5 * time.Second)
	require.False(t, app.embeddedServer.Running())
}

func TestAppReplayDLQEmptyByDefault(t *testing.T) {
	cfg := testConfig()
	app, err := NewApp(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, app.Connect(ctx))
	defer app.Shutdown(5 * time.Second)

	n, err := app.ReplayDLQ(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestAppStartJobThenFailFromDLQTransitionsTaskFailed(t *testing.T) {
	cfg := testConfig()
	app, err := NewApp(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, app.Connect(ctx))
	defer app.Shutdown(5 * time.Second)

	job := store.Job{ID: "job-1", Title: "demo"}
	wf := dag.Workflow{Nodes: []dag.Node{{ID: "fetch", AgentType: "scraper"}}}
	require.NoError(t, app.orch.StartJob(ctx, job, wf))

	require.NoError(t, app.orch.FailFromDLQ(ctx, job.ID, job.ID+":fetch", "simulated worker crash"))

	task, _, err := app.store.GetTask(ctx, job.ID, job.ID+":fetch")
	require.NoError(t, err)
	require.Equal(t, store.TaskFailed, task.Status)
	require.Equal(t, "simulated worker crash", task.DLQAnnotation)
}

func TestLoadConfigRejectsMissingExplicitPath(t *testing.T) {
	_, err := loadConfig("/nonexistent/path/to/config.yaml", "")
	require.Error(t, err)
}

func TestLoadConfigAppliesNATSURLOverride(t *testing.T) {
	cfg, err := loadConfig("", "nats://example.invalid:4222")
	require.NoError(t, err)
	require.Equal(t, "nats://example.invalid:4222", cfg.NATS.URL)
	require.False(t, cfg.NATS.Embedded)
}

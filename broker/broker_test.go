package broker_test

import (
	"context"
	"testing"
	"time"

	"github.com/bluebox123/agentic-orchestrator/artifact"
	"github.com/bluebox123/agentic-orchestrator/broker"
	"github.com/bluebox123/agentic-orchestrator/config"
	"github.com/bluebox123/agentic-orchestrator/dag"
	"github.com/bluebox123/agentic-orchestrator/orchestrator"
	"github.com/bluebox123/agentic-orchestrator/store"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T) (*broker.Broker, *orchestrator.Orchestrator, *store.Store) {
	t.Helper()

	opts := &server.Options{JetStream: true, StoreDir: t.TempDir(), Port: -1}
	ns, err := server.NewServer(opts)
	require.NoError(t, err)
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS server did not become ready")
	}
	t.Cleanup(ns.Shutdown)

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	s, err := store.New(context.Background(), js, "test")
	require.NoError(t, err)

	b, err := broker.New(context.Background(), js, nil)
	require.NoError(t, err)

	cfg := config.TaskConfig{Timeout: 10 * time.Minute, MaxRetries: 3}
	orch := orchestrator.New(s, b, nil, artifact.New(s), cfg, nil)
	return b, orch, s
}

func TestEnqueueThenClaimMarksTaskRunning(t *testing.T) {
	b, orch, s := newTestBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobID := uuid.New().String()
	wf := dag.Workflow{Nodes: []dag.Node{{ID: "fetch", AgentType: "scraper"}}}
	require.NoError(t, orch.StartJob(ctx, store.Job{ID: jobID, Title: "demo"}, wf))
	taskID := jobID + ":fetch"

	go b.RunClaimLoop(ctx, orch)

	require.NoError(t, b.PublishClaim(ctx, jobID, taskID))

	require.Eventually(t, func() bool {
		task, _, err := s.GetTask(ctx, jobID, taskID)
		return err == nil && task.Status == store.TaskRunning
	}, 5*time.Second, 50*time.Millisecond)
}

func TestResultLoopAppliesSuccessResult(t *testing.T) {
	b, orch, s := newTestBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobID := uuid.New().String()
	wf := dag.Workflow{Nodes: []dag.Node{{ID: "fetch", AgentType: "scraper"}}}
	require.NoError(t, orch.StartJob(ctx, store.Job{ID: jobID, Title: "demo"}, wf))
	taskID := jobID + ":fetch"
	require.NoError(t, orch.MarkRunning(ctx, jobID, taskID))

	go b.RunResultLoop(ctx, orch)

	require.NoError(t, b.PublishResult(ctx, jobID, taskID, orchestrator.WorkerResult{
		Success: true,
		Outputs: map[string]any{"text": "hello"},
	}))

	require.Eventually(t, func() bool {
		task, _, err := s.GetTask(ctx, jobID, taskID)
		return err == nil && task.Status == store.TaskSuccess
	}, 5*time.Second, 50*time.Millisecond)
}

func TestResultLoopRoutesExhaustedRedeliveryToDLQ(t *testing.T) {
	b, orch, s := newTestBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobID := uuid.New().String()
	wf := dag.Workflow{Nodes: []dag.Node{{ID: "fetch", AgentType: "scraper"}}}
	require.NoError(t, orch.StartJob(ctx, store.Job{ID: jobID, Title: "demo"}, wf))
	taskID := jobID + ":fetch"
	// Deliberately never MarkRunning: HandleWorkerResult rejects a result for
	// a task that isn't RUNNING, forcing every delivery attempt to fail.

	go b.RunResultLoop(ctx, orch)

	require.NoError(t, b.PublishResult(ctx, jobID, taskID, orchestrator.WorkerResult{Success: true}))

	require.Eventually(t, func() bool {
		task, _, err := s.GetTask(ctx, jobID, taskID)
		return err == nil && task.Status == store.TaskFailed && task.DLQAnnotation != ""
	}, 10*time.Second, 100*time.Millisecond)

	entries, err := b.FetchDLQ(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	require.Equal(t, taskID, entries[0].TaskMessage.TaskID)
}

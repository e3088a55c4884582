package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/bluebox123/agentic-orchestrator/artifact"
	"github.com/bluebox123/agentic-orchestrator/config"
	"github.com/bluebox123/agentic-orchestrator/dag"
	"github.com/bluebox123/agentic-orchestrator/orchestrator"
	"github.com/bluebox123/agentic-orchestrator/scheduler"
	"github.com/bluebox123/agentic-orchestrator/store"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"
)

type noopEnqueuer struct{}

func (noopEnqueuer) Enqueue(context.Context, orchestrator.TaskMessage) error { return nil }

func newTestDeps(t *testing.T) (*store.Store, *orchestrator.Orchestrator, *artifact.Store) {
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

	arts := artifact.New(s)
	cfg := config.TaskConfig{Timeout: 10 * time.Minute, MaxRetries: 3}
	orch := orchestrator.New(s, noopEnqueuer{}, nil, arts, cfg, nil)
	return s, orch, arts
}

func TestFireDueScheduleSpawnsJobAndDisablesOnce(t *testing.T) {
	s, orch, arts := newTestDeps(t)
	ctx := context.Background()
	sch := scheduler.New(s, orch, arts, 0, 0, 0, nil)

	wf := dag.Workflow{Nodes: []dag.Node{{ID: "fetch", AgentType: "scraper"}}}
	_, err := s.CreateWorkflowTemplate(ctx, store.WorkflowTemplate{ID: "tmpl-1", Name: "demo"})
	require.NoError(t, err)
	_, err = s.CreateWorkflowVersion(ctx, store.WorkflowVersion{TemplateID: "tmpl-1", Version: 1, Workflow: wf})
	require.NoError(t, err)

	seedJobID := uuid.New().String()
	past := time.Now().Add(-time.Minute)
	_, err = s.CreateSchedule(ctx, store.Schedule{
		JobID: seedJobID, Type: store.ScheduleOnce, Enabled: true,
		NextRunAt: &past, TemplateID: "tmpl-1", TemplateVersion: 1, Title: "spawned",
	})
	require.NoError(t, err)

	require.NoError(t, sch.Tick(ctx))

	jobs, err := s.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "tmpl-1", jobs[0].TemplateID)

	updated, _, err := s.GetSchedule(ctx, seedJobID)
	require.NoError(t, err)
	require.False(t, updated.Enabled)
}

func TestFireDueCronScheduleAdvancesNextRun(t *testing.T) {
	s, orch, arts := newTestDeps(t)
	ctx := context.Background()
	sch := scheduler.New(s, orch, arts, 0, 0, 0, nil)

	wf := dag.Workflow{Nodes: []dag.Node{{ID: "fetch", AgentType: "scraper"}}}
	_, err := s.CreateWorkflowTemplate(ctx, store.WorkflowTemplate{ID: "tmpl-cron", Name: "demo"})
	require.NoError(t, err)
	_, err = s.CreateWorkflowVersion(ctx, store.WorkflowVersion{TemplateID: "tmpl-cron", Version: 1, Workflow: wf})
	require.NoError(t, err)

	seedJobID := uuid.New().String()
	past := time.Now().Add(-time.Minute)
	_, err = s.CreateSchedule(ctx, store.Schedule{
		JobID: seedJobID, Type: store.ScheduleCron, Enabled: true, CronExpr: "* * * * *",
		NextRunAt: &past, TemplateID: "tmpl-cron", TemplateVersion: 1,
	})
	require.NoError(t, err)

	require.NoError(t, sch.Tick(ctx))

	updated, _, err := s.GetSchedule(ctx, seedJobID)
	require.NoError(t, err)
	require.True(t, updated.Enabled)
	require.NotNil(t, updated.NextRunAt)
	require.True(t, updated.NextRunAt.After(past))
}

func TestRetentionGCDeletesOldTerminalJob(t *testing.T) {
	s, orch, arts := newTestDeps(t)
	ctx := context.Background()
	sch := scheduler.New(s, orch, arts, 0, time.Hour, 0, nil)

	jobID := uuid.New().String()
	_, err := s.CreateJob(ctx, store.Job{
		ID: jobID, Title: "old", Status: store.JobSuccess,
		UpdatedAt: time.Now().Add(-48 * time.Hour),
	})
	require.NoError(t, err)

	taskID := jobID + ":fetch"
	_, err = s.CreateTask(ctx, store.Task{ID: taskID, JobID: jobID, Status: store.TaskSuccess})
	require.NoError(t, err)
	_, err = s.CreateOutput(ctx, store.Output{TaskID: taskID, FieldName: "text", Value: "hi"})
	require.NoError(t, err)
	_, err = arts.RegisterArtifact(ctx, artifact.Report{
		TaskID: taskID, JobID: jobID, Type: store.ArtifactText, Filename: "out.txt", StorageKey: "k",
	})
	require.NoError(t, err)

	require.NoError(t, sch.Tick(ctx))

	_, _, err = s.GetJob(ctx, jobID)
	require.ErrorIs(t, err, store.ErrNotFound)

	tasks, err := s.ListTasksByJob(ctx, jobID)
	require.NoError(t, err)
	require.Empty(t, tasks)
}

func TestRetentionGCSparesRecentJob(t *testing.T) {
	s, orch, arts := newTestDeps(t)
	ctx := context.Background()
	sch := scheduler.New(s, orch, arts, 0, time.Hour, 0, nil)

	jobID := uuid.New().String()
	_, err := s.CreateJob(ctx, store.Job{ID: jobID, Title: "recent", Status: store.JobSuccess, UpdatedAt: time.Now()})
	require.NoError(t, err)

	require.NoError(t, sch.Tick(ctx))

	_, _, err = s.GetJob(ctx, jobID)
	require.NoError(t, err)
}

func TestDetectStuckTaskReclaimsWithRetry(t *testing.T) {
	s, orch, arts := newTestDeps(t)
	ctx := context.Background()
	sch := scheduler.New(s, orch, arts, 0, 0, time.Minute, nil)

	jobID := uuid.New().String()
	wf := dag.Workflow{Nodes: []dag.Node{{ID: "fetch", AgentType: "scraper"}}}
	require.NoError(t, orch.StartJob(ctx, store.Job{ID: jobID, Title: "demo"}, wf))

	taskID := jobID + ":fetch"
	require.NoError(t, orch.MarkRunning(ctx, jobID, taskID))

	task, rev, err := s.GetTask(ctx, jobID, taskID)
	require.NoError(t, err)
	stale := time.Now().Add(-2 * time.Hour)
	task.StartedAt = &stale
	_, err = s.UpdateTask(ctx, task, rev)
	require.NoError(t, err)

	require.NoError(t, sch.Tick(ctx))

	task, _, err = s.GetTask(ctx, jobID, taskID)
	require.NoError(t, err)
	require.Equal(t, store.TaskQueued, task.Status)
	require.Equal(t, 1, task.RetryCount)
}


package orchestrator_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/bluebox123/agentic-orchestrator/artifact"
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

// fakeEnqueuer records every enqueued message instead of publishing to a
// real broker, for assertions on what the orchestrator decided to dispatch.
type fakeEnqueuer struct {
	mu       sync.Mutex
	messages []orchestrator.TaskMessage
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, msg orchestrator.TaskMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeEnqueuer) drain() []orchestrator.TaskMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.messages
	f.messages = nil
	return out
}

func newTestOrchestrator(t *testing.T) (*orchestrator.Orchestrator, *store.Store, *fakeEnqueuer) {
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

	enq := &fakeEnqueuer{}
	cfg := config.TaskConfig{Timeout: 10 * time.Minute, MaxRetries: 3}
	o := orchestrator.New(s, enq, nil, artifact.New(s), cfg, nil)
	return o, s, enq
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestStartJobEnqueuesRootTasks(t *testing.T) {
	o, _, enq := newTestOrchestrator(t)
	ctx := context.Background()

	job := store.Job{ID: uuid.New().String(), Title: "demo"}
	wf := dag.Workflow{
		Nodes: []dag.Node{
			{ID: "fetch", AgentType: "scraper", Inputs: map[string]json.RawMessage{"url": raw(t, "https://example.com")}},
			{ID: "summarize", AgentType: "summarizer", Dependencies: []string{"fetch"},
				Inputs: map[string]json.RawMessage{"text": raw(t, "{{tasks.fetch.outputs.text}}")}},
		},
	}

	require.NoError(t, o.StartJob(ctx, job, wf))

	msgs := enq.drain()
	require.Len(t, msgs, 1)
	require.Equal(t, "scraper", msgs[0].AgentType)
}

func TestWorkerSuccessUnblocksDependent(t *testing.T) {
	o, s, enq := newTestOrchestrator(t)
	ctx := context.Background()

	jobID := uuid.New().String()
	job := store.Job{ID: jobID, Title: "demo"}
	wf := dag.Workflow{
		Nodes: []dag.Node{
			{ID: "fetch", AgentType: "scraper", Inputs: map[string]json.RawMessage{"url": raw(t, "https://example.com")}},
			{ID: "summarize", AgentType: "summarizer", Dependencies: []string{"fetch"},
				Inputs: map[string]json.RawMessage{"text": raw(t, "{{tasks.fetch.outputs.text}}")}},
		},
	}
	require.NoError(t, o.StartJob(ctx, job, wf))
	enq.drain()

	fetchTaskID := jobID + ":fetch"
	require.NoError(t, o.MarkRunning(ctx, jobID, fetchTaskID))
	require.NoError(t, o.HandleWorkerResult(ctx, jobID, fetchTaskID, orchestrator.WorkerResult{
		Success: true,
		Outputs: map[string]any{"text": "hello world"},
	}))

	msgs := enq.drain()
	require.Len(t, msgs, 1)
	require.Equal(t, jobID+":summarize", msgs[0].TaskID)

	var gotText string
	require.NoError(t, json.Unmarshal(msgs[0].ResolvedPayload["text"], &gotText))
	require.Equal(t, "hello world", gotText)

	fetchTask, _, err := s.GetTask(ctx, jobID, fetchTaskID)
	require.NoError(t, err)
	require.Equal(t, store.TaskSuccess, fetchTask.Status)
}

func TestWorkerFailureCascadesSkipToDependent(t *testing.T) {
	o, s, enq := newTestOrchestrator(t)
	ctx := context.Background()

	jobID := uuid.New().String()
	job := store.Job{ID: jobID, Title: "demo"}
	wf := dag.Workflow{
		Nodes: []dag.Node{
			{ID: "fetch", AgentType: "scraper"},
			{ID: "summarize", AgentType: "summarizer", Dependencies: []string{"fetch"}},
		},
	}
	require.NoError(t, o.StartJob(ctx, job, wf))
	enq.drain()

	fetchTaskID := jobID + ":fetch"
	require.NoError(t, o.MarkRunning(ctx, jobID, fetchTaskID))
	require.NoError(t, o.HandleWorkerResult(ctx, jobID, fetchTaskID, orchestrator.WorkerResult{
		Success: false, ErrorMsg: "permanent failure", Retryable: false,
	}))

	summarizeTask, _, err := s.GetTask(ctx, jobID, jobID+":summarize")
	require.NoError(t, err)
	require.Equal(t, store.TaskSkipped, summarizeTask.Status)

	job2, _, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, store.JobFailed, job2.Status)
}

func TestRetryableFailureRequeuesWithBackoff(t *testing.T) {
	o, s, enq := newTestOrchestrator(t)
	ctx := context.Background()

	jobID := uuid.New().String()
	job := store.Job{ID: jobID, Title: "demo"}
	wf := dag.Workflow{Nodes: []dag.Node{{ID: "fetch", AgentType: "scraper"}}}
	require.NoError(t, o.StartJob(ctx, job, wf))
	enq.drain()

	fetchTaskID := jobID + ":fetch"
	require.NoError(t, o.MarkRunning(ctx, jobID, fetchTaskID))
	require.NoError(t, o.HandleWorkerResult(ctx, jobID, fetchTaskID, orchestrator.WorkerResult{
		Success: false, Retryable: true,
	}))

	task, _, err := s.GetTask(ctx, jobID, fetchTaskID)
	require.NoError(t, err)
	require.Equal(t, store.TaskQueued, task.Status)
	require.Equal(t, 1, task.RetryCount)
}

func TestReviewApproveCompletesTask(t *testing.T) {
	o, s, enq := newTestOrchestrator(t)
	ctx := context.Background()

	jobID := uuid.New().String()
	job := store.Job{ID: jobID, Title: "demo"}
	wf := dag.Workflow{Nodes: []dag.Node{{ID: "review", AgentType: "reviewer"}}}
	require.NoError(t, o.StartJob(ctx, job, wf))
	enq.drain()

	taskID := jobID + ":review"
	require.NoError(t, o.MarkRunning(ctx, jobID, taskID))
	require.NoError(t, o.HandleWorkerResult(ctx, jobID, taskID, orchestrator.WorkerResult{
		Success: true, RequiresReview: true,
	}))

	task, _, err := s.GetTask(ctx, jobID, taskID)
	require.NoError(t, err)
	require.Equal(t, store.TaskAwaitingReview, task.Status)

	score := 0.9
	require.NoError(t, o.Review(ctx, jobID, taskID, store.ReviewApprove, &score, "looks good"))

	task, _, err = s.GetTask(ctx, jobID, taskID)
	require.NoError(t, err)
	require.Equal(t, store.TaskSuccess, task.Status)

	j, _, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, store.JobSuccess, j.Status)
}

func TestDuplicateWorkerSuccessForTerminalTaskIsDiscarded(t *testing.T) {
	o, s, enq := newTestOrchestrator(t)
	ctx := context.Background()

	jobID := uuid.New().String()
	job := store.Job{ID: jobID, Title: "demo"}
	wf := dag.Workflow{Nodes: []dag.Node{{ID: "fetch", AgentType: "scraper"}}}
	require.NoError(t, o.StartJob(ctx, job, wf))
	enq.drain()

	fetchTaskID := jobID + ":fetch"
	require.NoError(t, o.MarkRunning(ctx, jobID, fetchTaskID))
	require.NoError(t, o.HandleWorkerResult(ctx, jobID, fetchTaskID, orchestrator.WorkerResult{
		Success: true,
		Outputs: map[string]any{"text": "hello world"},
	}))

	task, rev, err := s.GetTask(ctx, jobID, fetchTaskID)
	require.NoError(t, err)
	require.Equal(t, store.TaskSuccess, task.Status)

	// At-least-once delivery: the same success report arrives again after
	// the task has already settled. It must be discarded, not reapplied
	// or turned into a failure.
	err = o.HandleWorkerResult(ctx, jobID, fetchTaskID, orchestrator.WorkerResult{
		Success: true,
		Outputs: map[string]any{"text": "hello world"},
	})
	require.ErrorIs(t, err, orchestrator.ErrTaskAlreadyTerminal)

	task, rev2, err := s.GetTask(ctx, jobID, fetchTaskID)
	require.NoError(t, err)
	require.Equal(t, store.TaskSuccess, task.Status)
	require.Equal(t, rev, rev2, "duplicate delivery must not write to the store")

	// A redelivered failure report for the same already-settled task must
	// be discarded the same way, never flipping SUCCESS to FAILED.
	err = o.FailFromDLQ(ctx, jobID, fetchTaskID, "stale redelivered failure")
	require.ErrorIs(t, err, orchestrator.ErrTaskAlreadyTerminal)

	task, _, err = s.GetTask(ctx, jobID, fetchTaskID)
	require.NoError(t, err)
	require.Equal(t, store.TaskSuccess, task.Status)
	require.Empty(t, task.DLQAnnotation)
}

func TestManualSkipAndRetry(t *testing.T) {
	o, s, _ := newTestOrchestrator(t)
	ctx := context.Background()

	jobID := uuid.New().String()
	job := store.Job{ID: jobID, Title: "demo"}
	wf := dag.Workflow{Nodes: []dag.Node{{ID: "fetch", AgentType: "scraper"}}}
	require.NoError(t, o.StartJob(ctx, job, wf))

	taskID := jobID + ":fetch"
	require.NoError(t, o.FailManual(ctx, jobID, taskID, "operator forced failure"))

	task, _, err := s.GetTask(ctx, jobID, taskID)
	require.NoError(t, err)
	require.Equal(t, store.TaskFailed, task.Status)

	require.NoError(t, o.RetryManual(ctx, jobID, taskID))
	task, _, err = s.GetTask(ctx, jobID, taskID)
	require.NoError(t, err)
	require.Equal(t, store.TaskQueued, task.Status)
}

func TestCancelJobCancelsNonTerminalTasks(t *testing.T) {
	o, s, _ := newTestOrchestrator(t)
	ctx := context.Background()

	jobID := uuid.New().String()
	job := store.Job{ID: jobID, Title: "demo"}
	wf := dag.Workflow{
		Nodes: []dag.Node{
			{ID: "fetch", AgentType: "scraper"},
			{ID: "summarize", AgentType: "summarizer", Dependencies: []string{"fetch"}},
		},
	}
	require.NoError(t, o.StartJob(ctx, job, wf))

	require.NoError(t, o.CancelJob(ctx, jobID))

	summarize, _, err := s.GetTask(ctx, jobID, jobID+":summarize")
	require.NoError(t, err)
	require.Equal(t, store.TaskCancelled, summarize.Status)

	j, _, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, store.JobCancelled, j.Status)
}

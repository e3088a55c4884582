// Package orchestrator drives jobs and tasks through their lifecycle: it
// instantiates a job's tasks from a validated workflow, scans for newly
// ready tasks after every completion, resolves placeholders against
// persisted outputs, and enqueues resolved payloads onto the broker.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bluebox123/agentic-orchestrator/artifact"
	"github.com/bluebox123/agentic-orchestrator/config"
	"github.com/bluebox123/agentic-orchestrator/dag"
	"github.com/bluebox123/agentic-orchestrator/store"
)

// ErrTaskAlreadyTerminal is returned by HandleWorkerResult and the manual
// terminal transitions when a task is already SUCCESS/FAILED/SKIPPED/
// CANCELLED. At-least-once delivery means a worker's result (or a
// redelivered DLQ failure) can arrive twice; callers must treat this as
// "ack and discard the duplicate", never as a reason to redeliver or
// re-fail an already-settled task.
var ErrTaskAlreadyTerminal = errors.New("orchestrator: task already terminal, discarding duplicate")

// Enqueuer publishes a resolved task onto the worker broker. Implemented by
// the broker package; kept as an interface here so orchestrator never
// imports jetstream directly.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg TaskMessage) error
}

// TaskMessage is the durable message published to the queue named by agent
// type, per the worker protocol's enqueue contract.
type TaskMessage struct {
	TaskID          string                     `json:"task_id"`
	JobID           string                     `json:"job_id"`
	AgentType       string                     `json:"agent_type"`
	ResolvedPayload map[string]json.RawMessage `json:"resolved_payload"`
	Attempt         int                        `json:"attempt"`
}

// EventPublisher re-emits job/task transitions to the push-stream layer.
// Optional: a nil EventPublisher silently disables event emission.
type EventPublisher interface {
	PublishTaskEvent(ctx context.Context, evt TaskEvent) error
	PublishJobEvent(ctx context.Context, evt JobEvent) error
}

// TaskEvent is one task state transition.
type TaskEvent struct {
	JobID     string          `json:"job_id"`
	TaskID    string          `json:"task_id"`
	Status    store.TaskStatus `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
}

// JobEvent is one job state transition.
type JobEvent struct {
	JobID     string         `json:"job_id"`
	Status    store.JobStatus `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
}

// Orchestrator owns every task/job state transition for jobs persisted in
// the store. A single active instance is assumed (no distributed consensus
// across replicas, per scope).
type Orchestrator struct {
	store     *store.Store
	enqueue   Enqueuer
	events    EventPublisher
	artifacts *artifact.Store
	cfg       config.TaskConfig
	logger    *slog.Logger
}

// New builds an Orchestrator. events and artifacts may be nil (artifact
// registration becomes a no-op without one, which is only appropriate in
// tests that don't exercise artifact-producing agents).
func New(s *store.Store, enq Enqueuer, events EventPublisher, artifacts *artifact.Store, cfg config.TaskConfig, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{store: s, enqueue: enq, events: events, artifacts: artifacts, cfg: cfg, logger: logger}
}

// taskID builds the store-level task id from a job and the workflow node id
// it was instantiated from. Task ids are job-scoped by construction, which
// keeps the (task_id, field_name) output uniqueness invariant globally true
// even though node ids (e.g. "fetch", "summarize") are reused across every
// job instantiated from the same template.
func taskID(jobID, nodeID string) string {
	return jobID + ":" + nodeID
}

// StartJob persists a new job and its tasks from a validated workflow, then
// runs the first readiness scan.
func (o *Orchestrator) StartJob(ctx context.Context, job store.Job, wf dag.Workflow) error {
	job.Status = store.JobRunning
	now := job.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}
	job.CreatedAt, job.UpdatedAt = now, now

	if _, err := o.store.CreateJob(ctx, job); err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	for _, n := range wf.Nodes {
		t := store.Task{
			ID:           taskID(job.ID, n.ID),
			JobID:        job.ID,
			Name:         n.ID,
			AgentType:    n.AgentType,
			Payload:      n.Inputs,
			Dependencies: dependencyTaskIDs(job.ID, n.Dependencies),
			Status:       store.TaskPending,
		}
		if _, err := o.store.CreateTask(ctx, t); err != nil {
			return fmt.Errorf("create task %s: %w", n.ID, err)
		}
	}

	o.emitJobEvent(ctx, job.ID, job.Status)
	return o.ReadinessScan(ctx, job.ID)
}

func dependencyTaskIDs(jobID string, nodeIDs []string) []string {
	out := make([]string, len(nodeIDs))
	for i, id := range nodeIDs {
		out[i] = taskID(jobID, id)
	}
	return out
}

// ReadinessScan recomputes which PENDING tasks are now ready, enqueuing
// them, and cascades SKIPPED status to any PENDING task with a failed or
// skipped dependency (the adopted default for the skipped-dependency
// cascade open question). Runs to a fixpoint since a newly-SKIPPED task can
// unlock further cascades and a newly-enqueued task does not.
func (o *Orchestrator) ReadinessScan(ctx context.Context, jobID string) error {
	job, _, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status == store.JobPaused || job.Status == store.JobCancelled {
		return nil
	}

	for {
		tasks, err := o.store.ListTasksByJob(ctx, jobID)
		if err != nil {
			return fmt.Errorf("list tasks: %w", err)
		}

		byID := make(map[string]store.Task, len(tasks))
		for _, t := range tasks {
			byID[t.ID] = t
		}

		progressed := false
		for _, t := range tasks {
			if t.Status != store.TaskPending {
				continue
			}
			ready, cascade := evaluateDependencies(t, byID)
			switch {
			case cascade:
				if err := o.skipTask(ctx, jobID, t.ID); err != nil {
					return err
				}
				progressed = true
			case ready:
				if err := o.enqueueTask(ctx, jobID, t.ID); err != nil {
					return err
				}
				progressed = true
			}
		}

		if !progressed {
			return o.reviseJob(ctx, jobID)
		}
	}
}

// evaluateDependencies reports whether a task's dependencies are all
// satisfied (ready), or whether any dependency resolved to SKIPPED/FAILED
// and the task should itself cascade to SKIPPED.
func evaluateDependencies(t store.Task, byID map[string]store.Task) (ready, cascade bool) {
	ready = true
	for _, depID := range t.Dependencies {
		dep, ok := byID[depID]
		if !ok {
			ready = false
			continue
		}
		switch dep.Status {
		case store.TaskSuccess:
		case store.TaskSkipped, store.TaskFailed:
			cascade = true
		default:
			ready = false
		}
	}
	if cascade {
		ready = false
	}
	return ready, cascade
}

func (o *Orchestrator) skipTask(ctx context.Context, jobID, taskID string) error {
	t, rev, err := o.store.GetTask(ctx, jobID, taskID)
	if err != nil {
		return err
	}
	if t.Status != store.TaskPending {
		return nil // already progressed under a concurrent scan
	}
	t.Status = store.TaskSkipped
	now := time.Now()
	t.FinishedAt = &now
	if _, err := o.store.UpdateTask(ctx, t, rev); err != nil {
		return fmt.Errorf("skip task %s: %w", taskID, err)
	}
	o.emitTaskEvent(ctx, jobID, taskID, store.TaskSkipped)
	return nil
}

func (o *Orchestrator) enqueueTask(ctx context.Context, jobID, taskID string) error {
	t, rev, err := o.store.GetTask(ctx, jobID, taskID)
	if err != nil {
		return err
	}
	if t.Status != store.TaskPending {
		return nil
	}

	resolved, err := o.resolvePayload(ctx, t)
	if err != nil {
		// Missing outputs at resolution time should be impossible given the
		// dependency invariants; report loudly as a fatal task error.
		return o.failTask(ctx, jobID, taskID, fmt.Sprintf("placeholder resolution failed: %v", err), false)
	}

	t.Status = store.TaskQueued
	if _, err := o.store.UpdateTask(ctx, t, rev); err != nil {
		return fmt.Errorf("queue task %s: %w", taskID, err)
	}
	o.emitTaskEvent(ctx, jobID, taskID, store.TaskQueued)

	if o.enqueue != nil {
		if err := o.enqueue.Enqueue(ctx, TaskMessage{
			TaskID:          taskID,
			JobID:           jobID,
			AgentType:       t.AgentType,
			ResolvedPayload: resolved,
			Attempt:         t.LastAttempt + 1,
		}); err != nil {
			o.logger.Error("enqueue failed", "task_id", taskID, "error", err)
		}
	}
	return nil
}

func (o *Orchestrator) emitTaskEvent(ctx context.Context, jobID, taskID string, status store.TaskStatus) {
	if o.events == nil {
		return
	}
	if err := o.events.PublishTaskEvent(ctx, TaskEvent{JobID: jobID, TaskID: taskID, Status: status, Timestamp: time.Now()}); err != nil {
		o.logger.Warn("publish task event failed", "task_id", taskID, "error", err)
	}
}

func (o *Orchestrator) emitJobEvent(ctx context.Context, jobID string, status store.JobStatus) {
	if o.events == nil {
		return
	}
	if err := o.events.PublishJobEvent(ctx, JobEvent{JobID: jobID, Status: status, Timestamp: time.Now()}); err != nil {
		o.logger.Warn("publish job event failed", "job_id", jobID, "error", err)
	}
}

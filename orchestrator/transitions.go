package orchestrator

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/bluebox123/agentic-orchestrator/artifact"
	"github.com/bluebox123/agentic-orchestrator/store"
)

// WorkerResult is what a worker posts back through the broker for a RUNNING task.
type WorkerResult struct {
	Success          bool
	ErrorMsg         string
	Retryable        bool
	Outputs          map[string]any
	Artifacts        []artifact.Report
	RequiresReview   bool // agent_type == "reviewer" and a human verdict is required
}

// MarkRunning transitions QUEUED -> RUNNING: the broker calls this when a
// worker picks up a delivered message, before the worker's eventual result
// comes back through HandleWorkerResult.
func (o *Orchestrator) MarkRunning(ctx context.Context, jobID, taskID string) error {
	t, rev, err := o.store.GetTask(ctx, jobID, taskID)
	if err != nil {
		return err
	}
	if t.Status != store.TaskQueued {
		return fmt.Errorf("task %s is %s, not QUEUED: cannot mark running", taskID, t.Status)
	}
	t.Status = store.TaskRunning
	now := time.Now()
	t.StartedAt = &now
	if _, err := o.store.UpdateTask(ctx, t, rev); err != nil {
		return fmt.Errorf("mark task %s running: %w", taskID, err)
	}
	o.emitTaskEvent(ctx, jobID, taskID, store.TaskRunning)
	return nil
}

// HandleWorkerResult applies a worker's completion report to a RUNNING task
// and re-scans readiness for the job.
func (o *Orchestrator) HandleWorkerResult(ctx context.Context, jobID, taskID string, result WorkerResult) error {
	t, rev, err := o.store.GetTask(ctx, jobID, taskID)
	if err != nil {
		return err
	}
	if t.Status.IsTerminal() {
		return ErrTaskAlreadyTerminal
	}
	if t.Status != store.TaskRunning {
		return fmt.Errorf("task %s is %s, not RUNNING: ignoring stale worker result", taskID, t.Status)
	}

	if !result.Success {
		return o.handleTaskFailure(ctx, jobID, taskID, t, rev, result)
	}

	if result.RequiresReview {
		t.Status = store.TaskAwaitingReview
		if _, err := o.store.UpdateTask(ctx, t, rev); err != nil {
			return fmt.Errorf("transition to AWAITING_REVIEW: %w", err)
		}
		o.emitTaskEvent(ctx, jobID, taskID, store.TaskAwaitingReview)
		return o.reviseJob(ctx, jobID)
	}

	return o.completeTaskSuccess(ctx, jobID, taskID, t, rev, result)
}

func (o *Orchestrator) completeTaskSuccess(ctx context.Context, jobID, taskID string, t store.Task, rev uint64, result WorkerResult) error {
	for field, value := range result.Outputs {
		if _, err := o.store.CreateOutput(ctx, store.Output{
			TaskID: taskID, FieldName: field, Value: value, CreatedAt: time.Now(),
		}); err != nil {
			return fmt.Errorf("persist output %s: %w", field, err)
		}
	}

	for _, rep := range result.Artifacts {
		rep.TaskID = taskID
		rep.JobID = jobID
		if o.artifacts != nil {
			if _, err := o.artifacts.RegisterArtifact(ctx, rep); err != nil {
				return fmt.Errorf("register artifact: %w", err)
			}
		}
	}

	now := time.Now()
	t.Status = store.TaskSuccess
	t.FinishedAt = &now
	if _, err := o.store.UpdateTask(ctx, t, rev); err != nil {
		return fmt.Errorf("complete task %s: %w", taskID, err)
	}
	o.emitTaskEvent(ctx, jobID, taskID, store.TaskSuccess)
	return o.ReadinessScan(ctx, jobID)
}

func (o *Orchestrator) handleTaskFailure(ctx context.Context, jobID, taskID string, t store.Task, rev uint64, result WorkerResult) error {
	if result.Retryable && t.RetryCount < o.cfg.MaxRetries {
		t.RetryCount++
		t.LastAttempt++
		t.Status = store.TaskQueued
		if _, err := o.store.UpdateTask(ctx, t, rev); err != nil {
			return fmt.Errorf("requeue task %s: %w", taskID, err)
		}
		o.emitTaskEvent(ctx, jobID, taskID, store.TaskQueued)
		o.scheduleBackoffRequeue(jobID, taskID, t.RetryCount)
		return nil
	}
	return o.failTask(ctx, jobID, taskID, result.ErrorMsg, false)
}

// scheduleBackoffRequeue re-publishes a retried task's resolved payload
// after an exponential backoff, since a retry transitions the task back to
// QUEUED immediately but redelivery must still be delayed.
func (o *Orchestrator) scheduleBackoffRequeue(jobID, taskID string, retryCount int) {
	delay := calculateBackoff(retryCount)
	go func() {
		time.Sleep(delay)
		ctx := context.Background()
		t, _, err := o.store.GetTask(ctx, jobID, taskID)
		if err != nil || t.Status != store.TaskQueued {
			return
		}
		resolved, err := o.resolvePayload(ctx, t)
		if err != nil {
			o.logger.Error("backoff requeue resolution failed", "task_id", taskID, "error", err)
			return
		}
		if o.enqueue == nil {
			return
		}
		if err := o.enqueue.Enqueue(ctx, TaskMessage{
			TaskID: taskID, JobID: jobID, AgentType: t.AgentType,
			ResolvedPayload: resolved, Attempt: t.LastAttempt,
		}); err != nil {
			o.logger.Error("backoff requeue enqueue failed", "task_id", taskID, "error", err)
		}
	}()
}

func calculateBackoff(retryCount int) time.Duration {
	base := float64(time.Second)
	backoff := base * math.Pow(2, float64(retryCount))
	jitter := time.Duration(rand.Int63n(int64(time.Second)))
	d := time.Duration(backoff) + jitter
	if max := 30 * time.Second; d > max {
		d = max
	}
	return d
}

// failTask terminally fails a task. dlq marks the FAILED-from-DLQ annotation path.
func (o *Orchestrator) failTask(ctx context.Context, jobID, taskID, reason string, dlq bool) error {
	t, rev, err := o.store.GetTask(ctx, jobID, taskID)
	if err != nil {
		return err
	}
	if t.Status.IsTerminal() {
		return ErrTaskAlreadyTerminal
	}
	now := time.Now()
	t.Status = store.TaskFailed
	t.FinishedAt = &now
	if dlq {
		t.DLQAnnotation = reason
	}
	if _, err := o.store.UpdateTask(ctx, t, rev); err != nil {
		return fmt.Errorf("fail task %s: %w", taskID, err)
	}
	o.logger.Warn("task failed", "task_id", taskID, "job_id", jobID, "reason", reason)
	o.emitTaskEvent(ctx, jobID, taskID, store.TaskFailed)
	return o.ReadinessScan(ctx, jobID)
}

// FailFromDLQ marks a task FAILED with a DLQ annotation — invoked when a
// message lands in the dead-letter queue after exhausting redelivery.
func (o *Orchestrator) FailFromDLQ(ctx context.Context, jobID, taskID, reason string) error {
	return o.failTask(ctx, jobID, taskID, reason, true)
}

// Review applies a human reviewer's verdict to a task in AWAITING_REVIEW.
func (o *Orchestrator) Review(ctx context.Context, jobID, taskID string, decision store.ReviewDecision, score *float64, feedback string) error {
	t, rev, err := o.store.GetTask(ctx, jobID, taskID)
	if err != nil {
		return err
	}
	if t.Status != store.TaskAwaitingReview {
		return fmt.Errorf("task %s is %s, not AWAITING_REVIEW", taskID, t.Status)
	}

	t.ReviewDecision = decision
	t.ReviewScore = score
	t.ReviewFeedback = feedback
	now := time.Now()
	t.FinishedAt = &now

	switch decision {
	case store.ReviewApprove:
		t.Status = store.TaskSuccess
	case store.ReviewReject:
		t.Status = store.TaskFailed
	default:
		return fmt.Errorf("unknown review decision %q", decision)
	}

	if _, err := o.store.UpdateTask(ctx, t, rev); err != nil {
		return fmt.Errorf("apply review to task %s: %w", taskID, err)
	}
	o.emitTaskEvent(ctx, jobID, taskID, t.Status)
	return o.ReadinessScan(ctx, jobID)
}

// RetryManual is the operator-initiated retry transition: FAILED -> PENDING,
// followed by a readiness scan that moves the task on to QUEUED once all of
// its dependencies are SUCCESS.
func (o *Orchestrator) RetryManual(ctx context.Context, jobID, taskID string) error {
	t, rev, err := o.store.GetTask(ctx, jobID, taskID)
	if err != nil {
		return err
	}
	if t.Status != store.TaskFailed {
		return fmt.Errorf("task %s is %s, not FAILED: cannot retry", taskID, t.Status)
	}
	t.Status = store.TaskPending
	t.DLQAnnotation = ""
	if _, err := o.store.UpdateTask(ctx, t, rev); err != nil {
		return fmt.Errorf("retry task %s: %w", taskID, err)
	}
	o.emitTaskEvent(ctx, jobID, taskID, store.TaskPending)
	return o.ReadinessScan(ctx, jobID)
}

// SkipManual is the operator-initiated skip transition, valid from any
// non-terminal status.
func (o *Orchestrator) SkipManual(ctx context.Context, jobID, taskID string) error {
	t, rev, err := o.store.GetTask(ctx, jobID, taskID)
	if err != nil {
		return err
	}
	if t.Status.IsTerminal() {
		return fmt.Errorf("task %s is already terminal (%s): cannot skip", taskID, t.Status)
	}
	now := time.Now()
	t.Status = store.TaskSkipped
	t.FinishedAt = &now
	if _, err := o.store.UpdateTask(ctx, t, rev); err != nil {
		return fmt.Errorf("skip task %s: %w", taskID, err)
	}
	o.emitTaskEvent(ctx, jobID, taskID, store.TaskSkipped)
	return o.ReadinessScan(ctx, jobID)
}

// FailManual is the operator-initiated force-fail transition.
func (o *Orchestrator) FailManual(ctx context.Context, jobID, taskID, reason string) error {
	return o.failTask(ctx, jobID, taskID, reason, false)
}

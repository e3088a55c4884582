package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/bluebox123/agentic-orchestrator/store"
)

// reviseJob re-evaluates a job's status from its tasks' current statuses
// and persists the change if it moved. A job is SUCCESS when every task is
// SUCCESS, SKIPPED or CANCELLED; FAILED when some task is FAILED and every
// other task is also in one of those terminal statuses; RUNNING otherwise,
// including while a FAILED task coexists with tasks not yet settled. A
// terminal job emits exactly one terminal event (the CAS write on the
// status field itself prevents a double emission under concurrent scans).
func (o *Orchestrator) reviseJob(ctx context.Context, jobID string) error {
	job, rev, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status.IsTerminal() || job.Status == store.JobPaused {
		return nil
	}

	tasks, err := o.store.ListTasksByJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("list tasks for job %s: %w", jobID, err)
	}

	next := deriveJobStatus(tasks)
	if next == job.Status {
		return nil
	}

	job.Status = next
	job.UpdatedAt = time.Now()
	if _, err := o.store.UpdateJob(ctx, job, rev); err != nil {
		return fmt.Errorf("update job %s status: %w", jobID, err)
	}
	o.emitJobEvent(ctx, jobID, next)
	return nil
}

func deriveJobStatus(tasks []store.Task) store.JobStatus {
	anyFailed := false
	allTerminalOrSkipped := true

	for _, t := range tasks {
		switch t.Status {
		case store.TaskFailed:
			anyFailed = true
		case store.TaskSuccess, store.TaskSkipped, store.TaskCancelled:
		default:
			allTerminalOrSkipped = false
		}
	}

	switch {
	case anyFailed && allTerminalOrSkipped:
		return store.JobFailed
	case anyFailed:
		return store.JobRunning // a failed task exists but a dependent path may still be runnable
	case allTerminalOrSkipped:
		return store.JobSuccess
	default:
		return store.JobRunning
	}
}

// CancelJob transitions a job and every non-terminal task to CANCELLED.
func (o *Orchestrator) CancelJob(ctx context.Context, jobID string) error {
	tasks, err := o.store.ListTasksByJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("list tasks for job %s: %w", jobID, err)
	}
	for _, t := range tasks {
		if t.Status.IsTerminal() {
			continue
		}
		rev, revErr := o.currentRevision(ctx, jobID, t.ID)
		if revErr != nil {
			continue
		}
		now := time.Now()
		t.Status = store.TaskCancelled
		t.FinishedAt = &now
		if _, err := o.store.UpdateTask(ctx, t, rev); err != nil {
			o.logger.Warn("cancel task failed", "task_id", t.ID, "error", err)
			continue
		}
		o.emitTaskEvent(ctx, jobID, t.ID, store.TaskCancelled)
	}

	job, rev, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.Status = store.JobCancelled
	job.UpdatedAt = time.Now()
	if _, err := o.store.UpdateJob(ctx, job, rev); err != nil {
		return fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	o.emitJobEvent(ctx, jobID, store.JobCancelled)
	return nil
}

// PauseJob and ResumeJob toggle a job's PAUSED status. While PAUSED, the
// orchestrator stops running readiness scans for the job.
func (o *Orchestrator) PauseJob(ctx context.Context, jobID string) error {
	return o.setJobStatus(ctx, jobID, store.JobPaused)
}

func (o *Orchestrator) ResumeJob(ctx context.Context, jobID string) error {
	if err := o.setJobStatus(ctx, jobID, store.JobRunning); err != nil {
		return err
	}
	return o.ReadinessScan(ctx, jobID)
}

func (o *Orchestrator) setJobStatus(ctx context.Context, jobID string, status store.JobStatus) error {
	job, rev, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.Status = status
	job.UpdatedAt = time.Now()
	if _, err := o.store.UpdateJob(ctx, job, rev); err != nil {
		return fmt.Errorf("set job %s status %s: %w", jobID, status, err)
	}
	o.emitJobEvent(ctx, jobID, status)
	return nil
}

func (o *Orchestrator) currentRevision(ctx context.Context, jobID, taskID string) (uint64, error) {
	_, rev, err := o.store.GetTask(ctx, jobID, taskID)
	return rev, err
}

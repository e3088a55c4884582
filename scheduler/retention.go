package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/bluebox123/agentic-orchestrator/store"
)

// retentionGC deletes every terminal job older than the retention threshold,
// along with everything it exclusively owns, in the ownership-cascade order:
// outputs, task logs, artifacts, tasks, schedule, audit entries, then the
// job itself. Each job's delete set is captured up front (its own task and
// output ids) so a concurrent write mid-GC can't orphan a row.
func (s *Scheduler) retentionGC(ctx context.Context) error {
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	cutoff := time.Now().Add(-s.retention)
	for _, job := range jobs {
		if !isRetentionEligible(job, cutoff) {
			continue
		}
		if err := s.deleteJobCascade(ctx, job.ID); err != nil {
			s.logger.Error("retention GC failed for job", "job_id", job.ID, "error", err)
			continue
		}
		s.logger.Info("retention GC deleted job", "job_id", job.ID, "status", job.Status)
	}
	return nil
}

func isRetentionEligible(job store.Job, cutoff time.Time) bool {
	switch job.Status {
	case store.JobSuccess, store.JobFailed, store.JobCancelled:
	default:
		return false
	}
	return job.UpdatedAt.Before(cutoff)
}

func (s *Scheduler) deleteJobCascade(ctx context.Context, jobID string) error {
	tasks, err := s.store.ListTasksByJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("list tasks for job %s: %w", jobID, err)
	}
	taskIDs := make([]string, len(tasks))
	for i, t := range tasks {
		taskIDs[i] = t.ID
	}

	// 1. Outputs and task logs, owned per-task.
	for _, taskID := range taskIDs {
		outputs, err := s.store.ListOutputsByTask(ctx, taskID)
		if err != nil {
			return fmt.Errorf("list outputs for task %s: %w", taskID, err)
		}
		for _, out := range outputs {
			if err := s.store.DeleteOutput(ctx, taskID, out.FieldName); err != nil {
				return fmt.Errorf("delete output %s/%s: %w", taskID, out.FieldName, err)
			}
		}
		if err := s.store.DeleteTaskLogsByTask(ctx, taskID); err != nil {
			return fmt.Errorf("delete task logs for %s: %w", taskID, err)
		}
	}

	// 2. Artifacts, owned per-job.
	if s.artifacts != nil {
		if err := s.artifacts.DeleteAllForJob(ctx, jobID); err != nil {
			return fmt.Errorf("delete artifacts for job %s: %w", jobID, err)
		}
	}

	// 3. Tasks themselves.
	for _, taskID := range taskIDs {
		if err := s.store.DeleteTask(ctx, jobID, taskID); err != nil {
			return fmt.Errorf("delete task %s: %w", taskID, err)
		}
	}

	// 4. Schedule, if any.
	if err := s.store.DeleteSchedule(ctx, jobID); err != nil {
		return fmt.Errorf("delete schedule for job %s: %w", jobID, err)
	}

	// 5. Audit entries.
	entries, err := s.store.ListAuditByJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("list audit entries for job %s: %w", jobID, err)
	}
	for _, e := range entries {
		if err := s.store.DeleteAudit(ctx, jobID, e.ID); err != nil {
			return fmt.Errorf("delete audit entry %s: %w", e.ID, err)
		}
	}

	// 6. The job row itself.
	return s.store.DeleteJob(ctx, jobID)
}

package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/bluebox123/agentic-orchestrator/orchestrator"
	"github.com/bluebox123/agentic-orchestrator/store"
)

// detectStuckTasks reclaims tasks that have been RUNNING longer than the
// configured task timeout — most likely a worker that crashed or never
// acked — by routing them through the orchestrator's normal retryable
// failure path, same as an explicit worker failure report would.
func (s *Scheduler) detectStuckTasks(ctx context.Context) error {
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	now := time.Now()
	for _, job := range jobs {
		if job.Status.IsTerminal() || job.Status == store.JobPaused {
			continue
		}
		tasks, err := s.store.ListTasksByJob(ctx, job.ID)
		if err != nil {
			s.logger.Error("list tasks for stuck scan failed", "job_id", job.ID, "error", err)
			continue
		}
		for _, t := range tasks {
			if t.Status != store.TaskRunning || t.StartedAt == nil {
				continue
			}
			if now.Sub(*t.StartedAt) < s.taskTimeout {
				continue
			}
			s.logger.Warn("reclaiming stuck task", "job_id", job.ID, "task_id", t.ID, "running_for", now.Sub(*t.StartedAt))
			if err := s.orch.HandleWorkerResult(ctx, job.ID, t.ID, orchestrator.WorkerResult{
				Success:   false,
				ErrorMsg:  "task exceeded timeout while RUNNING; reclaimed by scheduler",
				Retryable: true,
			}); err != nil {
				s.logger.Error("reclaim stuck task failed", "job_id", job.ID, "task_id", t.ID, "error", err)
			}
		}
	}
	return nil
}

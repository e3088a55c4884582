// Package scheduler runs the core's single periodic ticker: firing due job
// schedules, garbage-collecting retired jobs, and reclaiming tasks stuck in
// RUNNING past their timeout. All three action classes share one
// *store.Store and run sequentially on one ticker goroutine.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bluebox123/agentic-orchestrator/artifact"
	"github.com/bluebox123/agentic-orchestrator/orchestrator"
	"github.com/bluebox123/agentic-orchestrator/store"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// defaultTickInterval is used when config leaves TickInterval unset.
const defaultTickInterval = 30 * time.Second

// cronParser accepts the standard 5-field crontab syntax (minute hour dom
// month dow), matching robfig/cron/v3's default spec.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Scheduler owns the service's single background ticker.
type Scheduler struct {
	store        *store.Store
	orch         *orchestrator.Orchestrator
	artifacts    *artifact.Store
	tickInterval time.Duration
	retention    time.Duration
	taskTimeout  time.Duration
	logger       *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Scheduler. tickInterval, retention, and taskTimeout fall back
// to sensible defaults when zero.
func New(s *store.Store, orch *orchestrator.Orchestrator, artifacts *artifact.Store, tickInterval, retention, taskTimeout time.Duration, logger *slog.Logger) *Scheduler {
	if tickInterval <= 0 {
		tickInterval = defaultTickInterval
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	if taskTimeout <= 0 {
		taskTimeout = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:        s,
		orch:         orch,
		artifacts:    artifacts,
		tickInterval: tickInterval,
		retention:    retention,
		taskTimeout:  taskTimeout,
		logger:       logger,
		stopCh:       make(chan struct{}),
	}
}

// Start launches the ticker goroutine. It returns immediately; call Stop to
// shut it down cleanly.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop signals the ticker goroutine to exit and waits for it to finish.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// tick runs the three per-tick action classes sequentially, logging but not
// propagating individual failures — one action class's error must not block
// the others on the next cycle.
func (s *Scheduler) tick(ctx context.Context) {
	if err := s.Tick(ctx); err != nil {
		s.logger.Error("scheduler tick encountered errors", "error", err)
	}
}

// Tick runs the three per-tick action classes sequentially and returns every
// error encountered, joined with errors.Join (nil if none) — exported so
// tests can drive a single cycle deterministically instead of waiting on the ticker.
func (s *Scheduler) Tick(ctx context.Context) error {
	var errs []error
	if err := s.fireDueSchedules(ctx); err != nil {
		errs = append(errs, fmt.Errorf("fire due schedules: %w", err))
	}
	if err := s.retentionGC(ctx); err != nil {
		errs = append(errs, fmt.Errorf("retention GC: %w", err))
	}
	if err := s.detectStuckTasks(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stuck task detection: %w", err))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// fireDueSchedules spawns a new job for every enabled schedule whose
// next_run_at has passed, then advances (cron) or disables (once/delayed)
// the schedule.
func (s *Scheduler) fireDueSchedules(ctx context.Context) error {
	schedules, err := s.store.ListSchedules(ctx)
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}

	now := time.Now()
	for _, sched := range schedules {
		if !sched.Enabled || sched.NextRunAt == nil || sched.NextRunAt.After(now) {
			continue
		}

		if err := s.spawnJobFromTemplate(ctx, sched); err != nil {
			s.logger.Error("spawn scheduled job failed", "job_id", sched.JobID, "template_id", sched.TemplateID, "error", err)
			continue
		}

		updated := sched
		updated.LastRunAt = &now
		switch sched.Type {
		case store.ScheduleCron:
			next, err := nextCronRun(sched.CronExpr, now)
			if err != nil {
				s.logger.Error("parse cron expression failed, disabling schedule", "job_id", sched.JobID, "cron_expr", sched.CronExpr, "error", err)
				updated.Enabled = false
			} else {
				updated.NextRunAt = &next
			}
		default: // once, delayed: fire exactly once
			updated.Enabled = false
		}

		if _, _, err := s.updateSchedule(ctx, updated); err != nil {
			s.logger.Error("persist schedule advance failed", "job_id", sched.JobID, "error", err)
		}
	}
	return nil
}

// spawnJobFromTemplate instantiates a new job from the schedule's linked
// workflow template version and runs it through the orchestrator's normal
// StartJob path.
func (s *Scheduler) spawnJobFromTemplate(ctx context.Context, sched store.Schedule) error {
	wv, _, err := s.store.GetWorkflowVersion(ctx, sched.TemplateID, sched.TemplateVersion)
	if err != nil {
		return fmt.Errorf("load template %s v%d: %w", sched.TemplateID, sched.TemplateVersion, err)
	}

	job := store.Job{
		ID:              uuid.New().String(),
		OrgID:           sched.OrgID,
		OwnerID:         sched.OwnerID,
		Title:           sched.Title,
		TemplateID:      sched.TemplateID,
		TemplateVersion: sched.TemplateVersion,
	}
	return s.orch.StartJob(ctx, job, wv.Workflow)
}

// nextCronRun computes the next firing time strictly after from, per the
// standard 5-field crontab syntax.
func nextCronRun(expr string, from time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expr %q: %w", expr, err)
	}
	return schedule.Next(from), nil
}

// updateSchedule re-fetches the schedule for its current revision before a
// CAS update, since ListSchedules doesn't carry revisions.
func (s *Scheduler) updateSchedule(ctx context.Context, sched store.Schedule) (store.Schedule, uint64, error) {
	_, rev, err := s.store.GetSchedule(ctx, sched.JobID)
	if err != nil {
		return store.Schedule{}, 0, err
	}
	newRev, err := s.store.UpdateSchedule(ctx, sched, rev)
	return sched, newRev, err
}

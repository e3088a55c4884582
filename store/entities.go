package store

import (
	"context"
	"fmt"
)

// --- Job ---

func (s *Store) CreateJob(ctx context.Context, job Job) (uint64, error) {
	return s.Create(ctx, BucketJobs, job.ID, job)
}

func (s *Store) GetJob(ctx context.Context, id string) (Job, uint64, error) {
	var job Job
	rev, err := s.Get(ctx, BucketJobs, id, &job)
	return job, rev, err
}

func (s *Store) UpdateJob(ctx context.Context, job Job, expectedRevision uint64) (uint64, error) {
	return s.Update(ctx, BucketJobs, job.ID, job, expectedRevision)
}

func (s *Store) DeleteJob(ctx context.Context, id string) error {
	return s.Delete(ctx, BucketJobs, id)
}

// ListJobs returns every job in the store — used by the scheduler's
// retention-GC and stuck-task scans, which have no narrower key to
// prefix-scan against.
func (s *Store) ListJobs(ctx context.Context) ([]Job, error) {
	keys, err := s.KeysWithPrefix(ctx, BucketJobs, "")
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(keys))
	for _, k := range keys {
		var j Job
		if _, err := s.Get(ctx, BucketJobs, k, &j); err != nil {
			return nil, fmt.Errorf("load job %s: %w", k, err)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// --- Task ---
//
// Tasks are keyed "<job_id>.<task_id>" so ListTasksByJob can prefix-scan a
// single job's tasks without a secondary index.

func taskKey(jobID, taskID string) string {
	return jobID + "." + taskID
}

func (s *Store) CreateTask(ctx context.Context, task Task) (uint64, error) {
	return s.Create(ctx, BucketTasks, taskKey(task.JobID, task.ID), task)
}

func (s *Store) GetTask(ctx context.Context, jobID, taskID string) (Task, uint64, error) {
	var task Task
	rev, err := s.Get(ctx, BucketTasks, taskKey(jobID, taskID), &task)
	return task, rev, err
}

func (s *Store) UpdateTask(ctx context.Context, task Task, expectedRevision uint64) (uint64, error) {
	return s.Update(ctx, BucketTasks, taskKey(task.JobID, task.ID), task, expectedRevision)
}

func (s *Store) DeleteTask(ctx context.Context, jobID, taskID string) error {
	return s.Delete(ctx, BucketTasks, taskKey(jobID, taskID))
}

func (s *Store) ListTasksByJob(ctx context.Context, jobID string) ([]Task, error) {
	keys, err := s.KeysWithPrefix(ctx, BucketTasks, jobID+".")
	if err != nil {
		return nil, err
	}
	tasks := make([]Task, 0, len(keys))
	for _, k := range keys {
		var t Task
		if _, err := s.Get(ctx, BucketTasks, k, &t); err != nil {
			return nil, fmt.Errorf("load task %s: %w", k, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// --- Output ---
//
// Outputs are keyed "<task_id>.<field_name>", matching the (task_id,
// field_name) uniqueness invariant directly: Create fails with ErrConflict
// on a duplicate field for the same task.

func outputKey(taskID, field string) string {
	return taskID + "." + field
}

func (s *Store) CreateOutput(ctx context.Context, out Output) (uint64, error) {
	return s.Create(ctx, BucketOutputs, outputKey(out.TaskID, out.FieldName), out)
}

func (s *Store) GetOutput(ctx context.Context, taskID, field string) (Output, uint64, error) {
	var out Output
	rev, err := s.Get(ctx, BucketOutputs, outputKey(taskID, field), &out)
	return out, rev, err
}

func (s *Store) ListOutputsByTask(ctx context.Context, taskID string) ([]Output, error) {
	keys, err := s.KeysWithPrefix(ctx, BucketOutputs, taskID+".")
	if err != nil {
		return nil, err
	}
	outputs := make([]Output, 0, len(keys))
	for _, k := range keys {
		var o Output
		if _, err := s.Get(ctx, BucketOutputs, k, &o); err != nil {
			return nil, fmt.Errorf("load output %s: %w", k, err)
		}
		outputs = append(outputs, o)
	}
	return outputs, nil
}

func (s *Store) DeleteOutput(ctx context.Context, taskID, field string) error {
	return s.Delete(ctx, BucketOutputs, outputKey(taskID, field))
}

// --- TaskLog ---
//
// Keyed "<task_id>.<index>" via a monotonically increasing suffix so
// ListTaskLogsByTask preserves append order without needing a rev lookup.

func taskLogKey(taskID string, seq int) string {
	return fmt.Sprintf("%s.%012d", taskID, seq)
}

func (s *Store) AppendTaskLog(ctx context.Context, log TaskLog, seq int) (uint64, error) {
	return s.Create(ctx, BucketTaskLogs, taskLogKey(log.TaskID, seq), log)
}

func (s *Store) ListTaskLogsByTask(ctx context.Context, taskID string) ([]TaskLog, error) {
	keys, err := s.KeysWithPrefix(ctx, BucketTaskLogs, taskID+".")
	if err != nil {
		return nil, err
	}
	out := make([]TaskLog, 0, len(keys))
	for _, k := range keys {
		var l TaskLog
		if _, err := s.Get(ctx, BucketTaskLogs, k, &l); err != nil {
			return nil, fmt.Errorf("load task log %s: %w", k, err)
		}
		out = append(out, l)
	}
	return out, nil
}

func (s *Store) DeleteTaskLogsByTask(ctx context.Context, taskID string) error {
	keys, err := s.KeysWithPrefix(ctx, BucketTaskLogs, taskID+".")
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := s.Delete(ctx, BucketTaskLogs, k); err != nil {
			return err
		}
	}
	return nil
}

// --- Schedule ---
//
// One schedule per job; keyed directly by job_id.

func (s *Store) CreateSchedule(ctx context.Context, sched Schedule) (uint64, error) {
	return s.Create(ctx, BucketSchedules, sched.JobID, sched)
}

func (s *Store) GetSchedule(ctx context.Context, jobID string) (Schedule, uint64, error) {
	var sched Schedule
	rev, err := s.Get(ctx, BucketSchedules, jobID, &sched)
	return sched, rev, err
}

func (s *Store) UpdateSchedule(ctx context.Context, sched Schedule, expectedRevision uint64) (uint64, error) {
	return s.Update(ctx, BucketSchedules, sched.JobID, sched, expectedRevision)
}

func (s *Store) DeleteSchedule(ctx context.Context, jobID string) error {
	return s.Delete(ctx, BucketSchedules, jobID)
}

// ListSchedules returns every schedule in the store; the scheduler applies
// the "enabled && next_run_at <= now" filter itself since KV buckets have
// no query predicate to push this down to.
func (s *Store) ListSchedules(ctx context.Context) ([]Schedule, error) {
	keys, err := s.KeysWithPrefix(ctx, BucketSchedules, "")
	if err != nil {
		return nil, err
	}
	schedules := make([]Schedule, 0, len(keys))
	for _, k := range keys {
		var sched Schedule
		if _, err := s.Get(ctx, BucketSchedules, k, &sched); err != nil {
			return nil, fmt.Errorf("load schedule %s: %w", k, err)
		}
		schedules = append(schedules, sched)
	}
	return schedules, nil
}

// --- WorkflowTemplate / WorkflowVersion ---
//
// Versions are keyed "<template_id>.<version>" so ListWorkflowVersions can
// prefix-scan a template's history; templates are keyed directly by id.

func (s *Store) CreateWorkflowTemplate(ctx context.Context, wt WorkflowTemplate) (uint64, error) {
	return s.Create(ctx, BucketWorkflows, wt.ID, wt)
}

func (s *Store) GetWorkflowTemplate(ctx context.Context, id string) (WorkflowTemplate, uint64, error) {
	var wt WorkflowTemplate
	rev, err := s.Get(ctx, BucketWorkflows, id, &wt)
	return wt, rev, err
}

func (s *Store) ListWorkflowTemplates(ctx context.Context) ([]WorkflowTemplate, error) {
	keys, err := s.KeysWithPrefix(ctx, BucketWorkflows, "")
	if err != nil {
		return nil, err
	}
	out := make([]WorkflowTemplate, 0, len(keys))
	for _, k := range keys {
		var wt WorkflowTemplate
		if _, err := s.Get(ctx, BucketWorkflows, k, &wt); err != nil {
			return nil, fmt.Errorf("load workflow template %s: %w", k, err)
		}
		out = append(out, wt)
	}
	return out, nil
}

func workflowVersionKey(templateID string, version int) string {
	return fmt.Sprintf("%s.%06d", templateID, version)
}

// CreateWorkflowVersion inserts a new, immutable version; it fails with
// ErrConflict if that (template_id, version) pair already exists.
func (s *Store) CreateWorkflowVersion(ctx context.Context, wv WorkflowVersion) (uint64, error) {
	return s.Create(ctx, BucketWorkflowVersions, workflowVersionKey(wv.TemplateID, wv.Version), wv)
}

func (s *Store) GetWorkflowVersion(ctx context.Context, templateID string, version int) (WorkflowVersion, uint64, error) {
	var wv WorkflowVersion
	rev, err := s.Get(ctx, BucketWorkflowVersions, workflowVersionKey(templateID, version), &wv)
	return wv, rev, err
}

// ListWorkflowVersions returns every version of a template, ordered oldest
// first (the zero-padded version suffix in the key sorts lexicographically
// the same as numerically).
func (s *Store) ListWorkflowVersions(ctx context.Context, templateID string) ([]WorkflowVersion, error) {
	keys, err := s.KeysWithPrefix(ctx, BucketWorkflowVersions, templateID+".")
	if err != nil {
		return nil, err
	}
	out := make([]WorkflowVersion, 0, len(keys))
	for _, k := range keys {
		var wv WorkflowVersion
		if _, err := s.Get(ctx, BucketWorkflowVersions, k, &wv); err != nil {
			return nil, fmt.Errorf("load workflow version %s: %w", k, err)
		}
		out = append(out, wv)
	}
	return out, nil
}

// LatestWorkflowVersion returns the highest version number registered for a
// template.
func (s *Store) LatestWorkflowVersion(ctx context.Context, templateID string) (WorkflowVersion, error) {
	versions, err := s.ListWorkflowVersions(ctx, templateID)
	if err != nil {
		return WorkflowVersion{}, err
	}
	if len(versions) == 0 {
		return WorkflowVersion{}, fmt.Errorf("%w: no versions for template %s", ErrNotFound, templateID)
	}
	return versions[len(versions)-1], nil
}

// --- OrgMember ---

func orgMemberKey(orgID, userID string) string {
	return orgID + "." + userID
}

func (s *Store) PutOrgMember(ctx context.Context, m OrgMember) (uint64, error) {
	return s.Put(ctx, BucketOrgMembers, orgMemberKey(m.OrgID, m.UserID), m)
}

func (s *Store) GetOrgMember(ctx context.Context, orgID, userID string) (OrgMember, uint64, error) {
	var m OrgMember
	rev, err := s.Get(ctx, BucketOrgMembers, orgMemberKey(orgID, userID), &m)
	return m, rev, err
}

func (s *Store) ListOrgMembers(ctx context.Context, orgID string) ([]OrgMember, error) {
	keys, err := s.KeysWithPrefix(ctx, BucketOrgMembers, orgID+".")
	if err != nil {
		return nil, err
	}
	members := make([]OrgMember, 0, len(keys))
	for _, k := range keys {
		var m OrgMember
		if _, err := s.Get(ctx, BucketOrgMembers, k, &m); err != nil {
			return nil, fmt.Errorf("load org member %s: %w", k, err)
		}
		members = append(members, m)
	}
	return members, nil
}

// --- AuditEntry ---
//
// Keyed "<job_id>.<entry_id>" so ListAuditByJob can prefix-scan.

func auditKey(jobID, id string) string {
	return jobID + "." + id
}

func (s *Store) AppendAudit(ctx context.Context, entry AuditEntry) (uint64, error) {
	return s.Create(ctx, BucketAuditLog, auditKey(entry.JobID, entry.ID), entry)
}

func (s *Store) ListAuditByJob(ctx context.Context, jobID string) ([]AuditEntry, error) {
	keys, err := s.KeysWithPrefix(ctx, BucketAuditLog, jobID+".")
	if err != nil {
		return nil, err
	}
	entries := make([]AuditEntry, 0, len(keys))
	for _, k := range keys {
		var e AuditEntry
		if _, err := s.Get(ctx, BucketAuditLog, k, &e); err != nil {
			return nil, fmt.Errorf("load audit entry %s: %w", k, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *Store) DeleteAudit(ctx context.Context, jobID, id string) error {
	return s.Delete(ctx, BucketAuditLog, auditKey(jobID, id))
}

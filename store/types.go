// Package store persists the core's entities in JetStream KeyValue
// buckets: one bucket per collection, optimistic-concurrency (CAS) writes
// keyed by KV revision standing in for SQL row locks, and dot-joined
// composite keys for the partial-unique-index equivalents the data model
// requires (one current / one frozen artifact per (job_id, type, role)).
package store

import (
	"encoding/json"
	"time"

	"github.com/bluebox123/agentic-orchestrator/dag"
)

// JobStatus is the lifecycle status of a Job.
type JobStatus string

const (
	JobQueued    JobStatus = "QUEUED"
	JobRunning   JobStatus = "RUNNING"
	JobSuccess   JobStatus = "SUCCESS"
	JobFailed    JobStatus = "FAILED"
	JobCancelled JobStatus = "CANCELLED"
	JobPaused    JobStatus = "PAUSED"
)

// IsTerminal reports whether the status is a terminal job status.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobSuccess, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// TaskStatus is the lifecycle status of a Task.
type TaskStatus string

const (
	TaskPending        TaskStatus = "PENDING"
	TaskQueued         TaskStatus = "QUEUED"
	TaskRunning        TaskStatus = "RUNNING"
	TaskSuccess        TaskStatus = "SUCCESS"
	TaskFailed         TaskStatus = "FAILED"
	TaskSkipped        TaskStatus = "SKIPPED"
	TaskCancelled      TaskStatus = "CANCELLED"
	TaskAwaitingReview TaskStatus = "AWAITING_REVIEW"
)

// IsTerminal reports whether the status is a terminal task status.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskSuccess, TaskFailed, TaskSkipped, TaskCancelled:
		return true
	default:
		return false
	}
}

// ReviewDecision is a reviewer agent's verdict.
type ReviewDecision string

const (
	ReviewApprove ReviewDecision = "APPROVE"
	ReviewReject  ReviewDecision = "REJECT"
)

// Job is one execution of a DAG.
type Job struct {
	ID              string    `json:"id"`
	OrgID           string    `json:"org_id"`
	OwnerID         string    `json:"owner_id"`
	Title           string    `json:"title"`
	Status          JobStatus `json:"status"`
	TemplateID      string    `json:"template_id,omitempty"`
	TemplateVersion int       `json:"template_version,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Task is one DAG node belonging to a Job.
type Task struct {
	ID             string                     `json:"id"`
	JobID          string                     `json:"job_id"`
	Name           string                     `json:"name"`
	AgentType      string                     `json:"agent_type"`
	Payload        map[string]json.RawMessage `json:"payload"`
	Dependencies   []string                   `json:"dependencies"`
	Status         TaskStatus                 `json:"status"`
	RetryCount     int                        `json:"retry_count"`
	StartedAt      *time.Time                 `json:"started_at,omitempty"`
	FinishedAt     *time.Time                 `json:"finished_at,omitempty"`
	ReviewScore    *float64                   `json:"review_score,omitempty"`
	ReviewDecision ReviewDecision             `json:"review_decision,omitempty"`
	ReviewFeedback string                     `json:"review_feedback,omitempty"`
	DLQAnnotation  string                     `json:"dlq_annotation,omitempty"`
	LastAttempt    int                        `json:"last_attempt"`
}

// Output is a typed value emitted by a successful task.
type Output struct {
	TaskID    string    `json:"task_id"`
	FieldName string    `json:"field_name"`
	Value     any       `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// ArtifactType enumerates the supported artifact payload kinds.
type ArtifactType string

const (
	ArtifactPDF   ArtifactType = "pdf"
	ArtifactImage ArtifactType = "image"
	ArtifactChart ArtifactType = "chart"
	ArtifactTable ArtifactType = "table"
	ArtifactJSON  ArtifactType = "json"
	ArtifactText  ArtifactType = "text"
)

// ArtifactStatus is the promotion-lifecycle status of an Artifact.
type ArtifactStatus string

const (
	ArtifactDraft    ArtifactStatus = "draft"
	ArtifactApproved ArtifactStatus = "approved"
	ArtifactFrozen   ArtifactStatus = "frozen"
)

// Artifact is a binary or structured payload registered by a task,
// addressable by role within a job.
type Artifact struct {
	ID               string         `json:"id"`
	TaskID           string         `json:"task_id"`
	JobID            string         `json:"job_id"`
	Type             ArtifactType   `json:"type"`
	Role             string         `json:"role,omitempty"`
	Filename         string         `json:"filename"`
	StorageKey       string         `json:"storage_key"`
	MimeType         string         `json:"mime_type"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Version          int            `json:"version"`
	IsCurrent        bool           `json:"is_current"`
	ParentArtifactID string         `json:"parent_artifact_id,omitempty"`
	Status           ArtifactStatus `json:"status"`
	FrozenAt         *time.Time     `json:"frozen_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// ScheduleType enumerates the kinds of job schedules.
type ScheduleType string

const (
	ScheduleOnce    ScheduleType = "once"
	ScheduleDelayed ScheduleType = "delayed"
	ScheduleCron    ScheduleType = "cron"
)

// Schedule is the single schedule attached to a job. TemplateID/Version name
// the workflow each firing instantiates as a new job — kept on the schedule
// itself rather than looked up from JobID's original job, since that job may
// long since have been retention-GC'd by the time a cron schedule fires again.
type Schedule struct {
	JobID           string       `json:"job_id"`
	Type            ScheduleType `json:"type"`
	CronExpr        string       `json:"cron_expr,omitempty"`
	RunAt           *time.Time   `json:"run_at,omitempty"`
	NextRunAt       *time.Time   `json:"next_run_at,omitempty"`
	Enabled         bool         `json:"enabled"`
	LastRunAt       *time.Time   `json:"last_run_at,omitempty"`
	TemplateID      string       `json:"template_id"`
	TemplateVersion int          `json:"template_version"`
	OrgID           string       `json:"org_id,omitempty"`
	OwnerID         string       `json:"owner_id,omitempty"`
	Title           string       `json:"title,omitempty"`
}

// OrgRole is a member's role within an organization.
type OrgRole string

const (
	RoleOwner  OrgRole = "OWNER"
	RoleAdmin  OrgRole = "ADMIN"
	RoleMember OrgRole = "MEMBER"
)

// OrgMember links a user to an organization with a role.
type OrgMember struct {
	OrgID  string  `json:"org_id"`
	UserID string  `json:"user_id"`
	Role   OrgRole `json:"role"`
}

// WorkflowTemplate is a named, versioned workflow a job can be instantiated
// from, either directly via the API's run-a-version endpoint or indirectly
// through a Schedule's linked template.
type WorkflowTemplate struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// WorkflowVersion is one immutable, validated workflow body belonging to a
// WorkflowTemplate. Versions are never mutated once created; a new edit is
// always a new version number.
type WorkflowVersion struct {
	TemplateID string       `json:"template_id"`
	Version    int          `json:"version"`
	Workflow   dag.Workflow `json:"workflow"`
	CreatedAt  time.Time    `json:"created_at"`
}

// TaskLog is one line of a worker's execution log for a task, reported
// alongside (or independently of) its completion result.
type TaskLog struct {
	TaskID    string    `json:"task_id"`
	JobID     string    `json:"job_id"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// AuditEntry records one state-changing event for audit trail purposes —
// used for artifact promotions and other notable transitions.
type AuditEntry struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Actor      string    `json:"actor"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Timestamp  time.Time `json:"timestamp"`
}

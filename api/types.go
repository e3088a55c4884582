package api

import (
	"encoding/json"
	"time"

	"github.com/bluebox123/agentic-orchestrator/dag"
)

// TaskSpec is one node of a client-submitted DAG, mirroring dag.Node's
// wire shape.
type TaskSpec struct {
	ID           string                     `json:"id"`
	AgentType    string                     `json:"agent_type"`
	Inputs       map[string]json.RawMessage `json:"inputs"`
	Dependencies []string                   `json:"dependencies,omitempty"`
}

// createJobRequest is the body of POST /api/jobs.
type createJobRequest struct {
	Title string     `json:"title"`
	Tasks []TaskSpec `json:"tasks"`
}

// buildWorkflow turns client task specs into a dag.Workflow, deriving
// edges from each task's declared dependencies (the validator needs
// explicit edges for cycle detection; the orchestrator separately reads
// Node.Dependencies to persist each task's dependency list).
func buildWorkflow(tasks []TaskSpec) dag.Workflow {
	wf := dag.Workflow{Nodes: make([]dag.Node, len(tasks))}
	for i, t := range tasks {
		wf.Nodes[i] = dag.Node{
			ID:           t.ID,
			AgentType:    t.AgentType,
			Inputs:       t.Inputs,
			Dependencies: t.Dependencies,
		}
		for _, dep := range t.Dependencies {
			wf.Edges = append(wf.Edges, dag.Edge{From: dep, To: t.ID})
		}
	}
	return wf
}

type createJobResponse struct {
	JobID     string `json:"jobId"`
	TaskCount int    `json:"taskCount"`
}

type createWorkflowRequest struct {
	Name     string      `json:"name"`
	Workflow dag.Workflow `json:"workflow"`
}

type createWorkflowResponse struct {
	TemplateID string `json:"templateId"`
	Version    int    `json:"version"`
}

type runWorkflowRequest struct {
	Title   string `json:"title"`
	Version int    `json:"version,omitempty"` // 0 = latest
}

type scheduleJobRequest struct {
	Type            string     `json:"type"` // once, delayed, cron
	CronExpr        string     `json:"cron_expr,omitempty"`
	RunAt           *time.Time `json:"run_at,omitempty"`
	TemplateID      string     `json:"template_id,omitempty"`
	TemplateVersion int        `json:"template_version,omitempty"`
}

type reviewTaskRequest struct {
	Decision string   `json:"decision"` // APPROVE, REJECT
	Score    *float64 `json:"score,omitempty"`
	Feedback string   `json:"feedback,omitempty"`
}

type failTaskRequest struct {
	Reason string `json:"reason"`
}

type promoteArtifactRequest struct {
	TargetStatus string `json:"target_status"`
}

// planRequest is the body of POST /api/plan.
type planRequest struct {
	Prompt string `json:"prompt"`
}

// Package planner translates a natural-language request into a validated
// DAG by calling an LLM, parsing its response, and running it through the
// dag validator. The planner never throws: every failure mode surfaces as
// a PlanResult with CanExecute=false and a reason.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bluebox123/agentic-orchestrator/dag"
	"github.com/bluebox123/agentic-orchestrator/llm"
	"github.com/bluebox123/agentic-orchestrator/registry"
)

// PlanResult is the planner's always-populated output.
type PlanResult struct {
	CanExecute    bool           `json:"can_execute"`
	ReasonIfNot   string         `json:"reason_if_cannot,omitempty"`
	Workflow      *dag.Workflow  `json:"workflow,omitempty"`
	Explanation   string         `json:"explanation,omitempty"`
	ValidationErr []string       `json:"validation_errors,omitempty"`
	Compiled      map[string]map[string]dag.Value `json:"-"`
}

// llmPlanResponse is the shape the planner asks the LLM to emit.
type llmPlanResponse struct {
	CanExecute  bool          `json:"can_execute"`
	Reason      string        `json:"reason,omitempty"`
	Workflow    *dag.Workflow `json:"workflow,omitempty"`
	Explanation string        `json:"explanation,omitempty"`
}

// Planner builds prompts against the agent registry and drives the
// LLM -> parse -> validate pipeline.
type Planner struct {
	reg    *registry.Registry
	client llm.Completer
	logger *slog.Logger
}

// New creates a Planner over the given agent registry and LLM client.
func New(reg *registry.Registry, client llm.Completer, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{reg: reg, client: client, logger: logger}
}

// Plan calls the LLM with the user's prompt, parses its response, and
// validates any emitted workflow. It never returns an error; all failure
// modes are carried in the returned PlanResult.
func (p *Planner) Plan(ctx context.Context, userPrompt string) PlanResult {
	regJSON, err := json.Marshal(p.reg)
	if err != nil {
		return PlanResult{CanExecute: false, ReasonIfNot: fmt.Sprintf("internal error: marshal registry: %v", err)}
	}

	systemPrompt := buildSystemPrompt(string(regJSON))

	resp, err := p.client.Complete(ctx, llm.Request{
		Capability: "planning",
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		p.logger.Warn("planner: all providers exhausted", "error", err)
		return PlanResult{CanExecute: false, ReasonIfNot: "internal error: " + err.Error()}
	}

	raw := llm.ExtractJSON(resp.Content)
	if raw == "" {
		raw = strings.TrimSpace(resp.Content)
	}

	var parsed llmPlanResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		p.logger.Warn("planner: failed to parse LLM response", "error", err)
		return PlanResult{CanExecute: false, ReasonIfNot: "internal error: could not parse planner response"}
	}

	if !parsed.CanExecute {
		return PlanResult{CanExecute: false, ReasonIfNot: parsed.Reason, Explanation: parsed.Explanation}
	}

	if parsed.Workflow == nil {
		return PlanResult{CanExecute: false, ReasonIfNot: "internal error: can_execute=true but no workflow was produced"}
	}

	result := dag.Validate(*parsed.Workflow, p.reg)
	if !result.Valid {
		return PlanResult{
			CanExecute:    false,
			ReasonIfNot:   strings.Join(result.Errors, "; "),
			ValidationErr: result.Errors,
		}
	}

	return PlanResult{
		CanExecute:  true,
		Workflow:    parsed.Workflow,
		Explanation: parsed.Explanation,
		Compiled:    result.Compiled,
	}
}

// buildSystemPrompt embeds the registry JSON and the hard rules the LLM
// must follow when emitting a workflow.
func buildSystemPrompt(registryJSON string) string {
	var b strings.Builder
	b.WriteString("You are a workflow planner. You translate a user request into a DAG of agent tasks.\n\n")
	b.WriteString("Available agents (id, category, declared inputs, declared outputs):\n")
	b.WriteString(registryJSON)
	b.WriteString("\n\nHard rules:\n")
	b.WriteString("- Only use agent_type values that appear in the registry above.\n")
	b.WriteString("- Reference an upstream task's output with the exact syntax {{tasks.<id>.outputs.<field>}}; no other template syntax is supported.\n")
	b.WriteString("- Every placeholder reference must correspond to a declared dependency edge.\n")
	b.WriteString("- Artifact references for a pdf_composer's \"charts\" input must be a structured {\"type\":..., \"role\":...} object, not a placeholder string.\n")
	b.WriteString("- A reviewer node must have exactly one upstream dependency.\n\n")
	b.WriteString("Respond with exactly one JSON object, optionally wrapped in a ```json code fence, of the shape:\n")
	b.WriteString(`{"can_execute": bool, "reason": string (if can_execute is false), "workflow": {"nodes": [...], "edges": [...]} (if can_execute is true), "explanation": string}`)
	b.WriteString("\nEmit nothing else.")
	return b.String()
}

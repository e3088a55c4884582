// Package registry provides the static agent capability catalog consulted
// by the validator and the placeholder resolver.
package registry

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Category classifies an agent's role in a workflow.
type Category string

const (
	CategoryInput   Category = "input"
	CategoryProcess Category = "process"
	CategoryOutput  Category = "output"
	CategoryControl Category = "control"
)

// InputField describes one declared input of an agent.
type InputField struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// OutputField describes one declared output of an agent.
type OutputField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Capability is the static description of one agent type: its declared
// inputs and outputs. This is the single source of truth consulted by both
// the DAG validator and the placeholder resolver.
type Capability struct {
	ID       string        `json:"id"`
	Category Category      `json:"category"`
	Inputs   []InputField  `json:"inputs"`
	Outputs  []OutputField `json:"outputs"`
}

// HasOutput reports whether the capability declares an output with the
// given field name.
func (c Capability) HasOutput(field string) bool {
	for _, o := range c.Outputs {
		if o.Name == field {
			return true
		}
	}
	return false
}

// RequiredInputs returns the subset of inputs marked required.
func (c Capability) RequiredInputs() []InputField {
	var req []InputField
	for _, in := range c.Inputs {
		if in.Required {
			req = append(req, in)
		}
	}
	return req
}

// Registry is a read-only, concurrency-safe lookup of agent id to
// capability. Adding an agent is a code change, not configuration — see
// NewDefaultRegistry.
type Registry struct {
	mu           sync.RWMutex
	capabilities map[string]Capability
}

// New creates a registry from an explicit set of capabilities.
func New(caps map[string]Capability) *Registry {
	r := &Registry{capabilities: make(map[string]Capability, len(caps))}
	for id, c := range caps {
		c.ID = id
		r.capabilities[id] = c
	}
	return r
}

// Get looks up a capability by agent id.
func (r *Registry) Get(agentType string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.capabilities[agentType]
	return c, ok
}

// Has reports whether an agent type is known to the registry.
func (r *Registry) Has(agentType string) bool {
	_, ok := r.Get(agentType)
	return ok
}

// List returns all registered agent ids.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.capabilities))
	for id := range r.capabilities {
		ids = append(ids, id)
	}
	return ids
}

// MarshalJSON renders the registry for embedding in the planner's prompt.
func (r *Registry) MarshalJSON() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return json.Marshal(struct {
		Agents map[string]Capability `json:"agents"`
	}{Agents: r.capabilities})
}

// NewDefaultRegistry returns the built-in agent catalog covering the agent
// types named across the end-to-end scenarios: scraper, summarizer,
// chart renderer, PDF composer, reviewer, and an email sender.
func NewDefaultRegistry() *Registry {
	return New(map[string]Capability{
		"scraper": {
			Category: CategoryInput,
			Inputs: []InputField{
				{Name: "url", Type: "string", Required: true},
				{Name: "selector", Type: "string", Required: false},
			},
			Outputs: []OutputField{
				{Name: "text", Type: "string"},
				{Name: "html", Type: "string"},
			},
		},
		"summarizer": {
			Category: CategoryProcess,
			Inputs: []InputField{
				{Name: "text", Type: "string", Required: true},
				{Name: "max_sentences", Type: "number", Required: false},
			},
			Outputs: []OutputField{
				{Name: "summary", Type: "string"},
			},
		},
		"chart_renderer": {
			Category: CategoryOutput,
			Inputs: []InputField{
				{Name: "series", Type: "object", Required: true},
				{Name: "title", Type: "string", Required: false},
			},
			Outputs: []OutputField{
				{Name: "artifact_ref", Type: "object"},
			},
		},
		"pdf_composer": {
			Category: CategoryOutput,
			Inputs: []InputField{
				{Name: "sections", Type: "array", Required: true},
				{Name: "charts", Type: "array", Required: false},
			},
			Outputs: []OutputField{
				{Name: "artifact_ref", Type: "object"},
			},
		},
		"reviewer": {
			Category: CategoryControl,
			Inputs: []InputField{
				{Name: "target_task_id", Type: "string", Required: true},
			},
			Outputs: []OutputField{
				{Name: "review_score", Type: "number"},
				{Name: "review_decision", Type: "string"},
			},
		},
		"email_sender": {
			Category: CategoryOutput,
			Inputs: []InputField{
				{Name: "to", Type: "string", Required: true},
				{Name: "subject", Type: "string", Required: true},
				{Name: "body", Type: "string", Required: true},
			},
			Outputs: []OutputField{
				{Name: "message_id", Type: "string"},
			},
		},
	})
}

// ErrUnknownAgent is returned when an agent id has no registered capability.
func ErrUnknownAgent(agentType string) error {
	return fmt.Errorf("unknown agent type: %s", agentType)
}

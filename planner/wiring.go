package planner

import (
	"github.com/bluebox123/agentic-orchestrator/config"
	"github.com/bluebox123/agentic-orchestrator/model"
)

// NewModelRegistryFromConfig builds a model.Registry whose "planning"
// capability fallback chain is exactly primary -> fallback-1 -> fallback-2,
// the order the LLM provider fan-out requires. An endpoint whose Provider
// is empty is skipped (credentials absent for that tier).
func NewModelRegistryFromConfig(cfg config.LLMConfig) *model.Registry {
	endpoints := map[string]*model.EndpointConfig{}
	var chain []string

	add := func(name string, ep config.LLMEndpoint) {
		if ep.Provider == "" {
			return
		}
		endpoints[name] = &model.EndpointConfig{
			Provider: ep.Provider,
			URL:      ep.BaseURL,
			Model:    ep.Model,
		}
		chain = append(chain, name)
	}
	add("primary", cfg.Primary)
	add("fallback1", cfg.Fallback1)
	add("fallback2", cfg.Fallback2)

	return model.NewRegistry(map[model.Capability]*model.CapabilityConfig{
		model.CapabilityPlanning: {
			Description: "Workflow planning LLM calls",
			Preferred:   chain,
		},
	}, endpoints)
}

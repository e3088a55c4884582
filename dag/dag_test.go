package dag

import (
	"encoding/json"
	"testing"

	"github.com/bluebox123/agentic-orchestrator/registry"
)

func raw(v string) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func linearWorkflow() Workflow {
	return Workflow{
		Nodes: []Node{
			{ID: "s", AgentType: "scraper", Inputs: map[string]json.RawMessage{
				"url": raw("https://x"),
			}},
			{ID: "sum", AgentType: "summarizer", Inputs: map[string]json.RawMessage{
				"text": raw("{{tasks.s.outputs.text}}"),
			}},
		},
		Edges: []Edge{{From: "s", To: "sum"}},
	}
}

func TestValidateLinearPipelineAccepted(t *testing.T) {
	reg := registry.NewDefaultRegistry()
	result := Validate(linearWorkflow(), reg)

	if !result.Valid {
		t.Fatalf("expected valid workflow, got errors: %v", result.Errors)
	}

	val := result.Compiled["sum"]["text"]
	if val.Kind != KindRef || val.Ref.NodeID != "s" || val.Ref.Field != "text" {
		t.Errorf("expected compiled ref to s.text, got %+v", val)
	}
}

func TestValidateRejectsInvalidPlaceholder(t *testing.T) {
	reg := registry.NewDefaultRegistry()
	wf := linearWorkflow()
	wf.Nodes[1].Inputs["text"] = raw("{{tasks.s.outputs.nonexistent}}")

	result := Validate(wf, reg)
	if result.Valid {
		t.Fatal("expected validation to fail on nonexistent output reference")
	}

	found := false
	for _, e := range result.Errors {
		if containsAll(e, "nonexistent", "scraper") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected error naming the nonexistent output, got: %v", result.Errors)
	}
}

func TestValidateRejectsCycle(t *testing.T) {
	reg := registry.NewDefaultRegistry()
	wf := Workflow{
		Nodes: []Node{
			{ID: "a", AgentType: "scraper", Inputs: map[string]json.RawMessage{"url": raw("u")}},
			{ID: "b", AgentType: "summarizer", Inputs: map[string]json.RawMessage{"text": raw("t")}},
		},
		Edges: []Edge{
			{From: "a", To: "b"},
			{From: "b", To: "a"},
		},
	}

	result := Validate(wf, reg)
	if result.Valid {
		t.Fatal("expected cycle to be rejected")
	}
	found := false
	for _, e := range result.Errors {
		if containsAll(e, "cycle") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a cycle error, got: %v", result.Errors)
	}
}

func TestValidateRejectsUnknownAgent(t *testing.T) {
	reg := registry.NewDefaultRegistry()
	wf := Workflow{
		Nodes: []Node{
			{ID: "a", AgentType: "time_traveler", Inputs: map[string]json.RawMessage{}},
		},
	}

	result := Validate(wf, reg)
	if result.Valid {
		t.Fatal("expected unknown agent to be rejected")
	}
}

func TestValidateRejectsMissingDependencyEdge(t *testing.T) {
	reg := registry.NewDefaultRegistry()
	wf := Workflow{
		Nodes: []Node{
			{ID: "s", AgentType: "scraper", Inputs: map[string]json.RawMessage{"url": raw("u")}},
			{ID: "sum", AgentType: "summarizer", Inputs: map[string]json.RawMessage{
				"text": raw("{{tasks.s.outputs.text}}"),
			}},
		},
		// No edge s -> sum, even though sum references s's output.
	}

	result := Validate(wf, reg)
	if result.Valid {
		t.Fatal("expected missing dependency edge to be rejected")
	}
}

func TestValidateReviewerRequiresSingleUpstream(t *testing.T) {
	reg := registry.NewDefaultRegistry()
	wf := Workflow{
		Nodes: []Node{
			{ID: "a", AgentType: "scraper", Inputs: map[string]json.RawMessage{"url": raw("u")}},
			{ID: "b", AgentType: "scraper", Inputs: map[string]json.RawMessage{"url": raw("u")}},
			{ID: "r", AgentType: "reviewer", Inputs: map[string]json.RawMessage{
				"target_task_id": raw("a"),
			}},
		},
		Edges: []Edge{
			{From: "a", To: "r"},
			{From: "b", To: "r"},
		},
	}

	result := Validate(wf, reg)
	if result.Valid {
		t.Fatal("expected reviewer with two upstream deps to be rejected")
	}
}

func TestCompileValueTemplateInterpolation(t *testing.T) {
	val := CompileValue(raw("Hello {{tasks.s.outputs.name}}, welcome"))
	if val.Kind != KindTemplate {
		t.Fatalf("expected template kind, got %v", val.Kind)
	}
	if len(val.Template) != 3 {
		t.Fatalf("expected 3 template parts, got %d: %+v", len(val.Template), val.Template)
	}
}

func TestTopoOrderLinear(t *testing.T) {
	order, err := TopoOrder(linearWorkflow())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 2 || order[0] != "s" || order[1] != "sum" {
		t.Errorf("expected [s sum], got %v", order)
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !contains(s, sub) {
			return false
		}
	}
	return true
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && indexOf(s, sub) >= 0
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

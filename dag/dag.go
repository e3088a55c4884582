// Package dag validates candidate workflows — structural and semantic
// checks on the graph of tasks the planner emits, or that a client submits
// directly — and compiles each task's inputs into a Value tree the
// orchestrator's placeholder resolver walks.
package dag

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/bluebox123/agentic-orchestrator/registry"
)

// Node is one candidate DAG node.
type Node struct {
	ID           string                     `json:"id"`
	AgentType    string                     `json:"agent_type"`
	Inputs       map[string]json.RawMessage `json:"inputs"`
	Dependencies []string                   `json:"dependencies,omitempty"`
}

// Edge is a dependency edge: From must complete before To runs.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Workflow is a candidate DAG submitted for validation.
type Workflow struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Result is the outcome of Validate. Errors accumulate; Validate only
// short-circuits on a structural fault severe enough to make every later
// check meaningless (unknown edge endpoints).
type Result struct {
	Valid    bool
	Errors   []string
	Compiled map[string]map[string]Value // node id -> input name -> compiled value
}

// Validate runs the validator's checks, in order, against a candidate
// workflow: edge endpoints, acyclicity, known agents, placeholder syntax,
// and the reviewer single-upstream-dependency rule. It is a pure function.
func Validate(wf Workflow, reg *registry.Registry) Result {
	nodeByID := make(map[string]Node, len(wf.Nodes))
	for _, n := range wf.Nodes {
		nodeByID[n.ID] = n
	}

	var errs []string

	// 1. Edge endpoints must exist in nodes. This is the one catastrophic
	// structural fault — later checks assume every edge names real nodes.
	for _, e := range wf.Edges {
		if _, ok := nodeByID[e.From]; !ok {
			errs = append(errs, fmt.Sprintf("edge references unknown node %q", e.From))
		}
		if _, ok := nodeByID[e.To]; !ok {
			errs = append(errs, fmt.Sprintf("edge references unknown node %q", e.To))
		}
	}
	if len(errs) > 0 {
		return Result{Valid: false, Errors: errs}
	}

	adj := buildAdjacency(wf)
	incoming := buildIncoming(wf)

	// 2. Acyclicity by DFS with a recursion stack; report the first cycle.
	if cycle := detectCycle(wf.Nodes, adj); cycle != nil {
		errs = append(errs, fmt.Sprintf("cycle detected: %s", formatCycle(cycle)))
	}

	// 3. Known agents.
	for _, n := range wf.Nodes {
		if !reg.Has(n.AgentType) {
			errs = append(errs, fmt.Sprintf("node %q: unknown agent type %q", n.ID, n.AgentType))
		}
	}

	// 4. Placeholder syntax + reviewer upstream-dependency rule + compile.
	compiled := make(map[string]map[string]Value, len(wf.Nodes))
	for _, n := range wf.Nodes {
		cap, known := reg.Get(n.AgentType)
		nodeCompiled := make(map[string]Value, len(n.Inputs))

		// Sort input names for deterministic error ordering.
		names := make([]string, 0, len(n.Inputs))
		for name := range n.Inputs {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			raw := n.Inputs[name]
			val := CompileValue(raw)
			nodeCompiled[name] = val

			for _, ref := range val.Refs() {
				if _, ok := nodeByID[ref.NodeID]; !ok {
					errs = append(errs, fmt.Sprintf(
						"node %q input %q: placeholder references unknown node %q",
						n.ID, name, ref.NodeID))
					continue
				}
				if !incoming[n.ID][ref.NodeID] {
					errs = append(errs, fmt.Sprintf(
						"node %q input %q: placeholder references %q but no edge %q -> %q exists",
						n.ID, name, ref.NodeID, ref.NodeID, n.ID))
				}
				if refCap, ok := reg.Get(nodeByID[ref.NodeID].AgentType); ok {
					if !refCap.HasOutput(ref.Field) {
						errs = append(errs, fmt.Sprintf(
							"node %q input %q: agent %q does not declare output %q",
							n.ID, name, nodeByID[ref.NodeID].AgentType, ref.Field))
					}
				}
			}
		}
		compiled[n.ID] = nodeCompiled

		if known && cap.Category == registry.CategoryControl && n.AgentType == "reviewer" {
			if len(incoming[n.ID]) != 1 {
				errs = append(errs, fmt.Sprintf(
					"node %q: reviewer agents must have exactly one upstream dependency, found %d",
					n.ID, len(incoming[n.ID])))
			}
		}
	}

	return Result{Valid: len(errs) == 0, Errors: errs, Compiled: compiled}
}

func buildAdjacency(wf Workflow) map[string][]string {
	adj := make(map[string][]string, len(wf.Nodes))
	for _, n := range wf.Nodes {
		adj[n.ID] = nil
	}
	for _, e := range wf.Edges {
		adj[e.From] = append(adj[e.From], e.To)
	}
	return adj
}

func buildIncoming(wf Workflow) map[string]map[string]bool {
	incoming := make(map[string]map[string]bool, len(wf.Nodes))
	for _, n := range wf.Nodes {
		incoming[n.ID] = make(map[string]bool)
	}
	for _, e := range wf.Edges {
		incoming[e.To][e.From] = true
	}
	return incoming
}

// cycleState tracks DFS visitation for detectCycle.
type cycleState int

const (
	white cycleState = iota
	gray
	black
)

// detectCycle runs DFS with an explicit recursion stack and returns the
// first cycle found as an ordered slice of node ids, or nil if acyclic.
func detectCycle(nodes []Node, adj map[string][]string) []string {
	state := make(map[string]cycleState, len(nodes))
	for _, n := range nodes {
		state[n.ID] = white
	}

	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = gray
		stack = append(stack, id)

		for _, next := range adj[id] {
			switch state[next] {
			case white:
				if visit(next) {
					return true
				}
			case gray:
				// Found the back-edge; extract the cycle from the stack.
				start := 0
				for i, s := range stack {
					if s == next {
						start = i
						break
					}
				}
				cycle = append(append([]string{}, stack[start:]...), next)
				return true
			}
		}

		stack = stack[:len(stack)-1]
		state[id] = black
		return false
	}

	// Iterate nodes in declared order for deterministic "first cycle" choice.
	for _, n := range nodes {
		if state[n.ID] == white {
			if visit(n.ID) {
				return cycle
			}
		}
	}
	return nil
}

func formatCycle(cycle []string) string {
	s := ""
	for i, id := range cycle {
		if i > 0 {
			s += " -> "
		}
		s += id
	}
	return s
}

// TopoOrder returns the nodes in a valid topological order using Kahn's
// algorithm. The orchestrator's readiness scan does not use it; Validate's
// own cycle check is authoritative for rejecting cyclic workflows.
func TopoOrder(wf Workflow) ([]string, error) {
	inDegree := make(map[string]int, len(wf.Nodes))
	adj := make(map[string][]string, len(wf.Nodes))
	for _, n := range wf.Nodes {
		inDegree[n.ID] = 0
		adj[n.ID] = nil
	}
	for _, e := range wf.Edges {
		adj[e.From] = append(adj[e.From], e.To)
		inDegree[e.To]++
	}

	var queue []string
	for _, n := range wf.Nodes {
		if inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	sort.Strings(queue)

	var order []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		var newlyReady []string
		for _, next := range adj[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				newlyReady = append(newlyReady, next)
			}
		}
		sort.Strings(newlyReady)
		queue = append(queue, newlyReady...)
	}

	if len(order) != len(wf.Nodes) {
		return nil, fmt.Errorf("workflow contains a cycle; cannot compute topological order")
	}
	return order, nil
}

package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/goldenpath/internal/record"
)

// GraphWarning flags a structural oddity in the transition graph.
//
// Cycles are warnings, not errors, because they may be intentional:
//   - Tool retry loops (tool_executing -> tool_failed -> tool_executing)
//   - Multi-turn thinking loops with termination conditions
//
// A cycle that cannot reach any terminal event is still only a warning
// here; at runtime the loop and runaway detectors bound it.
type GraphWarning struct {
	Path    []string `json:"path"`    // Cycle path or affected events
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

// AnalyzeGraph performs static analysis on a contract's transition graph.
//
// The algorithm:
//  1. Build the event adjacency graph from declared transitions
//  2. Walk from initial events to flag unreachable declarations
//  3. Flag non-terminal events with no outgoing transitions (dead ends)
//  4. Use Tarjan's algorithm to find strongly connected components (cycles);
//     a cycle with no route to a terminal event is a guaranteed runaway
//
// A clean DAG from initial to terminal returns an empty warning list.
func AnalyzeGraph(c *record.Contract) []GraphWarning {
	if len(c.Events) == 0 {
		return []GraphWarning{}
	}

	graph := buildTransitionGraph(c)

	var warnings []GraphWarning
	warnings = append(warnings, findUnreachable(c, graph)...)
	warnings = append(warnings, findDeadEnds(c, graph)...)

	// Detect strongly connected components (cycles)
	sccs := tarjanSCC(graph)
	terminalReach := reachesTerminal(c, graph)

	for _, scc := range sccs {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph, terminalReach))
		}
	}

	return warnings
}

// transitionGraph maps event type → event types reachable in one step.
type transitionGraph map[string][]string

// buildTransitionGraph constructs the adjacency map. Every declared event
// gets a node even when it has no edges.
func buildTransitionGraph(c *record.Contract) transitionGraph {
	graph := make(transitionGraph, len(c.Events))
	for _, ev := range c.Events {
		graph[ev.Name] = []string{}
	}
	for _, tr := range c.Transitions {
		graph[tr.From] = append(graph[tr.From], tr.To)
	}
	return graph
}

// findUnreachable flags declared events no initial event can reach.
func findUnreachable(c *record.Contract, graph transitionGraph) []GraphWarning {
	reached := make(map[string]bool)
	queue := c.InitialEvents()
	for _, name := range queue {
		reached[name] = true
	}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range graph[current] {
			if !reached[next] {
				reached[next] = true
				queue = append(queue, next)
			}
		}
	}

	var unreachable []string
	for _, ev := range c.Events {
		if !reached[ev.Name] {
			unreachable = append(unreachable, ev.Name)
		}
	}
	sort.Strings(unreachable)

	var warnings []GraphWarning
	for _, name := range unreachable {
		warnings = append(warnings, GraphWarning{
			Path:    []string{name},
			Message: fmt.Sprintf("Event %q is unreachable from any initial event", name),
			Level:   "warning",
		})
	}
	return warnings
}

// findDeadEnds flags non-terminal events with no outgoing transitions.
// A run stalls there with no legal next event and no terminal.
func findDeadEnds(c *record.Contract, graph transitionGraph) []GraphWarning {
	var warnings []GraphWarning
	for _, ev := range c.Events {
		if ev.Terminal {
			continue
		}
		if len(graph[ev.Name]) == 0 {
			warnings = append(warnings, GraphWarning{
				Path:    []string{ev.Name},
				Message: fmt.Sprintf("Event %q is a dead end: not terminal and no outgoing transitions", ev.Name),
				Level:   "warning",
			})
		}
	}
	return warnings
}

// reachesTerminal computes, for every event, whether some terminal event
// is reachable from it (including the event itself being terminal).
func reachesTerminal(c *record.Contract, graph transitionGraph) map[string]bool {
	// Walk the reversed graph from terminal events.
	reversed := make(transitionGraph, len(graph))
	for from, tos := range graph {
		if reversed[from] == nil {
			reversed[from] = []string{}
		}
		for _, to := range tos {
			reversed[to] = append(reversed[to], from)
		}
	}

	reaches := make(map[string]bool)
	queue := c.TerminalEvents()
	for _, name := range queue {
		reaches[name] = true
	}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, prev := range reversed[current] {
			if !reaches[prev] {
				reaches[prev] = true
				queue = append(queue, prev)
			}
		}
	}
	return reaches
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph transitionGraph) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
//
// Returns a list of SCCs, where each SCC is a list of event types.
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(graph transitionGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		// Set the depth index for v
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		// Consider successors of v
		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				// Successor w has not yet been visited; recurse on it
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				// Successor w is on stack and hence in the current SCC
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// If v is a root node, pop the stack and create an SCC
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	// Visit all nodes in deterministic order
	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// cycleSCCToWarning converts an SCC to a GraphWarning.
//
// Cycles whose members can still reach a terminal event are informational;
// cycles with no exit are flagged as warnings since every run entering one
// must hit the runaway quota.
func cycleSCCToWarning(scc []string, graph transitionGraph, terminalReach map[string]bool) GraphWarning {
	hasExit := false
	for _, node := range scc {
		if terminalReach[node] {
			hasExit = true
			break
		}
	}

	level := "info"
	suffix := "bounded at runtime by the loop detector"
	if !hasExit {
		level = "warning"
		suffix = "no terminal event is reachable from it"
	}

	if len(scc) == 1 {
		// Self-loop
		name := scc[0]
		return GraphWarning{
			Path:    []string{name, name},
			Message: fmt.Sprintf("Self-transition detected: %s -> %s (%s)", name, name, suffix),
			Level:   level,
		}
	}

	// Multi-node cycle - reconstruct a cycle path
	path := reconstructCyclePath(scc, graph)

	pathStr := strings.Join(path, " -> ")
	return GraphWarning{
		Path:    path,
		Message: fmt.Sprintf("Transition cycle detected: %s (%s)", pathStr, suffix),
		Level:   level,
	}
}

// reconstructCyclePath builds a cycle path from an SCC.
//
// Strategy: Start at first node in SCC, follow edges to other SCC members,
// continue until we return to start node.
func reconstructCyclePath(scc []string, graph transitionGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	// Build set of SCC members for fast lookup
	sccSet := make(map[string]bool)
	for _, node := range scc {
		sccSet[node] = true
	}

	// Start at first node
	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	// Follow edges within SCC until we return to start
	for {
		visited[current] = true

		// Find next SCC member reachable from current
		var next string
		for _, neighbor := range graph[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}

		if next == "" {
			// No more unvisited neighbors in SCC
			break
		}

		path = append(path, next)

		if next == start {
			// Completed the cycle
			break
		}

		current = next
	}

	return path
}

package config

import (
	"fmt"
	"sort"
	"strings"
)

// CycleWarning reports a loop in the event graph of a document.
//
// Loops are warnings, not errors: a loop whose writes become no-ops stops
// on its own, one that keeps changing values stops at the max depth.
type CycleWarning struct {
	Path    []string `json:"path"`
	Message string   `json:"message"`
	Level   string   `json:"level"`
}

// eventGraph maps an event to the events it may cause within a loop.
type eventGraph map[string][]string

// AnalyzeCycles builds the event graph of doc and reports every strongly
// connected component that forms a loop.
//
// Edges:
//   - property: each triggering event → each dispatching event
//   - hack: each trigger → its dispatch events, the dispatch events of the
//     properties it sets, and the events and target dispatches of the
//     services it requests
//
// An acyclic graph returns an empty list.
func AnalyzeCycles(doc *Document) []CycleWarning {
	graph := buildEventGraph(doc)

	var warnings []CycleWarning
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			warnings = append(warnings, sccWarning(scc, graph))
		}
	}
	sort.Slice(warnings, func(i, j int) bool {
		return warnings[i].Path[0] < warnings[j].Path[0]
	})
	if warnings == nil {
		return []CycleWarning{}
	}
	return warnings
}

func buildEventGraph(doc *Document) eventGraph {
	graph := make(eventGraph)
	edge := func(from string, to ...string) {
		if _, ok := graph[from]; !ok {
			graph[from] = []string{}
		}
		for _, t := range to {
			if _, ok := graph[t]; !ok {
				graph[t] = []string{}
			}
			if !containsString(graph[from], t) {
				graph[from] = append(graph[from], t)
			}
		}
	}

	dispatchOf := make(map[string][]string)
	for _, e := range doc.Properties {
		id := str(e.Fields, "id")
		dispatch := strs(e.Fields, "dispatch")
		dispatchOf[id] = dispatch
		for _, trigger := range strs(e.Fields, "triggers") {
			edge(trigger, dispatch...)
		}
	}

	serviceEvents := make(map[string][]string)
	for _, e := range doc.Services {
		events := strs(e.Fields, "events")
		if target := str(e.Fields, "target"); target != "" {
			events = append(events, dispatchOf[target]...)
		}
		serviceEvents[str(e.Fields, "id")] = events
	}

	for _, e := range doc.Hacks {
		var caused []string
		caused = append(caused, strs(e.Fields, "dispatch")...)
		if set, ok := e.Fields["set"].(map[string]any); ok {
			for _, id := range sortedMapKeys(set) {
				caused = append(caused, dispatchOf[id]...)
			}
		}
		for _, id := range strs(e.Fields, "request") {
			caused = append(caused, serviceEvents[id]...)
		}
		for _, trigger := range strs(e.Fields, "triggers") {
			edge(trigger, caused...)
		}
	}
	return graph
}

func hasSelfLoop(node string, graph eventGraph) bool {
	return containsString(graph[node], node)
}

// tarjanSCC returns the strongly connected components of graph. Nodes are
// visited in sorted order so the result is deterministic.
func tarjanSCC(graph eventGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var connect func(string)
	connect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				connect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

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
			sort.Strings(scc)
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for n := range graph {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	for _, n := range nodes {
		if _, visited := indices[n]; !visited {
			connect(n)
		}
	}
	return sccs
}

func sccWarning(scc []string, graph eventGraph) CycleWarning {
	if len(scc) == 1 {
		return CycleWarning{
			Path:    []string{scc[0], scc[0]},
			Message: fmt.Sprintf("event %s re-triggers itself", scc[0]),
			Level:   "warning",
		}
	}
	path := cyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: "event loop: " + strings.Join(path, " -> "),
		Level:   "warning",
	}
}

// cyclePath walks from the first member through unvisited members until it
// returns to the start.
func cyclePath(scc []string, graph eventGraph) []string {
	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}

	start := scc[0]
	path := []string{start}
	visited := map[string]bool{start: true}
	for cur := start; ; {
		next := ""
		for _, w := range graph[cur] {
			if members[w] && (!visited[w] || w == start) {
				next = w
				break
			}
		}
		if next == "" {
			return path
		}
		path = append(path, next)
		if next == start {
			return path
		}
		visited[next] = true
		cur = next
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func sortedMapKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

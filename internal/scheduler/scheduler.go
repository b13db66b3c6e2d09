// Package scheduler implements the phase DAG algorithms: availability,
// status transitions with precondition checks, integrity validation, and
// leveled topological ordering. All functions operate on the graph passed
// in; there is no hidden state.
package scheduler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/flowgate/flowgate/internal/model"
)

// Available returns every pending phase whose dependencies are all
// complete, sorted ascending by phase ID. The ordering is load-bearing:
// it fixes fork enumeration order and hence which auto-track becomes the
// initially active one.
func Available(graph map[string]*model.PhaseNode) []*model.PhaseNode {
	var available []*model.PhaseNode
	for _, node := range graph {
		if node.Status != model.PhasePending {
			continue
		}
		depsMet := true
		for _, dep := range node.DependsOn {
			d, ok := graph[dep]
			if !ok {
				continue
			}
			if d.Status != model.PhaseComplete {
				depsMet = false
				break
			}
		}
		if depsMet {
			available = append(available, node)
		}
	}
	sort.Slice(available, func(i, j int) bool { return available[i].ID < available[j].ID })
	return available
}

// MarkActive transitions a phase pending → active.
func MarkActive(graph map[string]*model.PhaseNode, phaseID string) error {
	node, ok := graph[phaseID]
	if !ok {
		return &model.NotFoundError{Phase: phaseID}
	}
	if node.Status != model.PhasePending {
		return &model.InvalidStateError{Phase: phaseID, Got: node.Status, Want: model.PhasePending}
	}
	node.Status = model.PhaseActive
	return nil
}

// MarkComplete transitions a phase active → complete and returns the
// phases that became available as a direct result of this completion.
// The diff is the signal the transition controller uses to decide
// sequential vs fork without re-deriving it.
func MarkComplete(graph map[string]*model.PhaseNode, phaseID string) ([]*model.PhaseNode, error) {
	node, ok := graph[phaseID]
	if !ok {
		return nil, &model.NotFoundError{Phase: phaseID}
	}
	if node.Status != model.PhaseActive {
		return nil, &model.InvalidStateError{Phase: phaseID, Got: node.Status, Want: model.PhaseActive}
	}

	before := make(map[string]bool)
	for _, n := range Available(graph) {
		before[n.ID] = true
	}
	node.Status = model.PhaseComplete

	var newly []*model.PhaseNode
	for _, n := range Available(graph) {
		if !before[n.ID] {
			newly = append(newly, n)
		}
	}
	return newly, nil
}

// IsAllComplete reports whether every phase is complete. An empty graph
// is vacuously complete, which keeps configs without a phase DAG working.
func IsAllComplete(graph map[string]*model.PhaseNode) bool {
	for _, node := range graph {
		if node.Status != model.PhaseComplete {
			return false
		}
	}
	return true
}

// ValidateDAG checks graph integrity and returns every finding, not just
// the first: self-loops, dangling dependency references, and cycles
// (DFS three-coloring, reporting the full cycle path). An empty result
// means the graph is a valid DAG.
func ValidateDAG(graph map[string]*model.PhaseNode) []string {
	var errs []string
	if len(graph) == 0 {
		return errs
	}

	ids := sortedIDs(graph)

	for _, pid := range ids {
		for _, dep := range graph[pid].DependsOn {
			if dep == pid {
				errs = append(errs, fmt.Sprintf("self-loop: phase %q depends on itself", pid))
			}
		}
	}

	for _, pid := range ids {
		for _, dep := range graph[pid].DependsOn {
			if _, ok := graph[dep]; !ok {
				errs = append(errs, fmt.Sprintf("dangling reference: phase %q depends on unknown %q", pid, dep))
			}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(graph))

	var dfs func(pid string, path []string)
	dfs = func(pid string, path []string) {
		color[pid] = gray
		for _, dep := range graph[pid].DependsOn {
			if _, ok := graph[dep]; !ok {
				continue // already reported as dangling
			}
			switch color[dep] {
			case gray:
				start := 0
				for i, p := range path {
					if p == dep {
						start = i
						break
					}
				}
				cycle := append(append([]string{}, path[start:]...), dep)
				errs = append(errs, fmt.Sprintf("cycle detected: %s", strings.Join(cycle, " -> ")))
			case white:
				dfs(dep, append(path, dep))
			}
		}
		color[pid] = black
	}

	for _, pid := range ids {
		if color[pid] == white {
			dfs(pid, []string{pid})
		}
	}
	return errs
}

// ExecutionOrder returns the phase IDs grouped into topological levels.
// level(n) = 1 + max(level(dep)), 0 for nodes without dependencies;
// phases within a level may run in parallel and are sorted ascending.
// The graph is validated first since level computation assumes acyclicity;
// the first validation finding is returned as the error.
func ExecutionOrder(graph map[string]*model.PhaseNode) ([][]string, error) {
	if len(graph) == 0 {
		return nil, nil
	}
	if errs := ValidateDAG(graph); len(errs) > 0 {
		return nil, fmt.Errorf("%s", errs[0])
	}

	levels := make(map[string]int, len(graph))

	var levelOf func(pid string) int
	levelOf = func(pid string) int {
		if lv, ok := levels[pid]; ok {
			return lv
		}
		maxDep := -1
		for _, dep := range graph[pid].DependsOn {
			if _, ok := graph[dep]; !ok {
				continue
			}
			if lv := levelOf(dep); lv > maxDep {
				maxDep = lv
			}
		}
		levels[pid] = maxDep + 1
		return levels[pid]
	}

	maxLevel := 0
	for pid := range graph {
		if lv := levelOf(pid); lv > maxLevel {
			maxLevel = lv
		}
	}

	order := make([][]string, maxLevel+1)
	for pid, lv := range levels {
		order[lv] = append(order[lv], pid)
	}
	for _, group := range order {
		sort.Strings(group)
	}
	return order, nil
}

func sortedIDs(graph map[string]*model.PhaseNode) []string {
	ids := make([]string, 0, len(graph))
	for id := range graph {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

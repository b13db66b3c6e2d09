package controller

import (
	"fmt"
	"sort"
	"strings"

	"github.com/flowgate/flowgate/internal/audit"
	"github.com/flowgate/flowgate/internal/model"
	"github.com/flowgate/flowgate/internal/scheduler"
)

// PhaseAdd inserts a node into the phase graph. Duplicate IDs and
// dependencies on unknown phases are rejected up front; anything that
// would break DAG integrity rolls the tentative insertion back, leaving
// the graph exactly as it was.
func (c *Controller) PhaseAdd(id, label, module string, dependsOn []string) (string, error) {
	graph := c.state.PhaseGraph
	if _, exists := graph[id]; exists {
		return fmt.Sprintf("error: phase %q already exists", id), nil
	}
	for _, dep := range dependsOn {
		if _, ok := graph[dep]; !ok {
			return fmt.Sprintf("error: dependency %q does not exist", dep), nil
		}
	}
	if dependsOn == nil {
		dependsOn = []string{}
	}

	graph[id] = &model.PhaseNode{
		ID:        id,
		Label:     label,
		Module:    module,
		DependsOn: dependsOn,
		Status:    model.PhasePending,
	}
	if errs := scheduler.ValidateDAG(graph); len(errs) > 0 {
		delete(graph, id)
		return fmt.Sprintf("error: invalid DAG:\n- %s", strings.Join(errs, "\n- ")), nil
	}

	if err := c.save(); err != nil {
		return "", err
	}
	c.audit.LogEvent(audit.EventPhaseAdded, map[string]any{
		"phase": id, "label": label, "module": module, "depends_on": dependsOn,
	})
	return fmt.Sprintf("phase %s (%s) added", id, label), nil
}

// PhaseRemove deletes a node. Blocked while other nodes depend on it;
// dependents must be removed or rewired first.
func (c *Controller) PhaseRemove(id string) (string, error) {
	graph := c.state.PhaseGraph
	if _, ok := graph[id]; !ok {
		return fmt.Sprintf("error: phase %q not found", id), nil
	}

	var dependents []string
	for pid, node := range graph {
		for _, dep := range node.DependsOn {
			if dep == id {
				dependents = append(dependents, pid)
			}
		}
	}
	if len(dependents) > 0 {
		sort.Strings(dependents)
		return fmt.Sprintf("error: cannot remove phase %q, depended on by: %s", id, strings.Join(dependents, ", ")), nil
	}

	delete(graph, id)
	if err := c.save(); err != nil {
		return "", err
	}
	c.audit.LogEvent(audit.EventPhaseRemoved, map[string]any{"phase": id})
	return fmt.Sprintf("phase %q removed", id), nil
}

// PhaseList renders the graph's nodes in stable ID order.
func (c *Controller) PhaseList() (string, error) {
	graph := c.state.PhaseGraph
	if len(graph) == 0 {
		return "no phases defined", nil
	}

	ids := make([]string, 0, len(graph))
	for id := range graph {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sb strings.Builder
	for _, id := range ids {
		node := graph[id]
		fmt.Fprintf(&sb, "[%s] %s (%s) module=%s", id, node.Label, node.Status, node.Module)
		if len(node.DependsOn) > 0 {
			fmt.Fprintf(&sb, " depends_on: %s", strings.Join(node.DependsOn, ", "))
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// PhaseGraphView renders the leveled execution order for visualization.
func (c *Controller) PhaseGraphView() (string, error) {
	graph := c.state.PhaseGraph
	if len(graph) == 0 {
		return "no phases defined", nil
	}

	order, err := scheduler.ExecutionOrder(graph)
	if err != nil {
		return fmt.Sprintf("DAG error: %v", err), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d phases, %d levels\n", len(graph), len(order))
	for lv, group := range order {
		entries := make([]string, 0, len(group))
		for _, id := range group {
			node := graph[id]
			entries = append(entries, fmt.Sprintf("%s %s (%s)", id, node.Label, node.Status))
		}
		fmt.Fprintf(&sb, "Level %d: %s\n", lv, strings.Join(entries, " | "))
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

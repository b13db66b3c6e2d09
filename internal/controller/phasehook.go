package controller

import (
	"fmt"
	"strings"

	"github.com/flowgate/flowgate/internal/audit"
	"github.com/flowgate/flowgate/internal/model"
	"github.com/flowgate/flowgate/internal/scheduler"
)

// TransitionKind classifies the outcome of a phase-cycle transition.
type TransitionKind string

const (
	KindSequential  TransitionKind = "SEQUENTIAL"
	KindFork        TransitionKind = "FORK"
	KindWaiting     TransitionKind = "WAITING"
	KindAllComplete TransitionKind = "ALL_COMPLETE"
)

// shouldInterceptTransition decides whether an ordinary stage transition
// is taken over by the phase scheduler. All of: a phase cycle is
// configured, the graph is non-empty, the target is the cycle start, and
// either the transition originates from the cycle end or no phase is
// active anywhere (initial entry from any other stage).
func (c *Controller) shouldInterceptTransition(fromStage, target string) bool {
	pc := c.cfg.PhaseCycle
	if pc == nil || len(c.state.PhaseGraph) == 0 {
		return false
	}
	if target != pc.Start {
		return false
	}
	return fromStage == pc.End || c.hasNoActivePhase()
}

// phaseTransition advances the phase DAG when a transition re-enters the
// cycle start: complete the scope's phase, then branch on what became
// available: sequential, fork into auto tracks, wait for siblings, or
// finish the whole graph.
func (c *Controller) phaseTransition(trackID string) (string, error) {
	graph := c.state.PhaseGraph
	start := c.cfg.PhaseCycle.Start

	completed := c.resolveCurrentPhase(trackID)
	if completed != "" {
		if node, ok := graph[completed]; ok && node.Status == model.PhaseActive {
			if _, err := scheduler.MarkComplete(graph, completed); err != nil {
				return "", fmt.Errorf("complete phase %q: %w", completed, err)
			}
		} else {
			completed = ""
		}
	}

	available := scheduler.Available(graph)

	// The invoking track stays visible as complete until the join sweeps
	// it, so siblings and the user can observe it finished.
	if trackID != "" {
		if tr, ok := c.state.Tracks[trackID]; ok {
			tr.Status = model.TrackComplete
		}
	}

	switch {
	case len(available) == 0 && scheduler.IsAllComplete(graph):
		return c.finishAllPhases(completed)
	case len(available) == 0:
		return c.waitForSiblings(completed)
	case len(available) == 1:
		return c.advanceSequential(completed, available[0], start)
	default:
		return c.forkTracks(completed, available, start)
	}
}

func (c *Controller) finishAllPhases(completed string) (string, error) {
	c.cleanupCompletedAutoTracks()
	c.state.CurrentPhase = ""
	if err := c.save(); err != nil {
		return "", err
	}
	c.logPhaseTransition(KindAllComplete, completed, nil)
	return "All phases complete. The phase cycle is finished.", nil
}

func (c *Controller) waitForSiblings(completed string) (string, error) {
	// Pure status-query state: no graph or track mutation beyond the
	// completion already applied; re-entered on every call until the
	// sibling also completes.
	if err := c.save(); err != nil {
		return "", err
	}
	c.logPhaseTransition(KindWaiting, completed, nil)
	return "Waiting: sibling phases are still in progress.", nil
}

func (c *Controller) advanceSequential(completed string, node *model.PhaseNode, start string) (string, error) {
	c.cleanupCompletedAutoTracks()
	if err := scheduler.MarkActive(c.state.PhaseGraph, node.ID); err != nil {
		return "", err
	}
	c.state.CurrentPhase = node.ID
	c.state.CurrentStage = start
	c.state.ActiveModule = node.Module
	c.state.ActiveTrack = ""
	c.state.Checklist = []model.CheckItem{}
	c.engine.SetStage(start)
	c.ctx.Set("active_module", node.Module)

	if err := c.save(); err != nil {
		return "", err
	}
	c.logPhaseTransition(KindSequential, completed, []string{node.ID})
	return fmt.Sprintf("Phase %s (%s) is now active on stage %s.", node.ID, node.Label, start), nil
}

func (c *Controller) forkTracks(completed string, available []*model.PhaseNode, start string) (string, error) {
	c.cleanupCompletedAutoTracks()

	created := make([]string, 0, len(available))
	entered := make([]string, 0, len(available))
	for _, node := range available {
		if err := scheduler.MarkActive(c.state.PhaseGraph, node.ID); err != nil {
			return "", err
		}
		name := c.autoTrackName(node.ID)
		c.state.Tracks[name] = &model.TrackState{
			CurrentStage: start,
			ActiveModule: node.Module,
			Checklist:    []model.CheckItem{},
			Label:        node.Label,
			Status:       model.TrackInProgress,
			CreatedAt:    c.now().Format("2006-01-02T15:04:05"),
			PhaseID:      node.ID,
			CreatedBy:    model.CreatedAuto,
		}
		created = append(created, name)
		entered = append(entered, node.ID)
	}

	// Phase identity now lives per-track; the first created track
	// (lowest phase ID) becomes the implicit target.
	c.state.ActiveTrack = created[0]
	c.state.CurrentPhase = ""

	if err := c.save(); err != nil {
		return "", err
	}
	c.logPhaseTransition(KindFork, completed, entered)
	return fmt.Sprintf("Fork: %d parallel phases started, tracks %s (active: %s).",
		len(created), strings.Join(created, ", "), created[0]), nil
}

func (c *Controller) logPhaseTransition(kind TransitionKind, completed string, entered []string) {
	fields := map[string]any{
		"type":    string(kind),
		"entered": entered,
	}
	if completed != "" {
		fields["completed"] = completed
	}
	c.audit.LogEvent(audit.EventPhaseTransition, fields)
}

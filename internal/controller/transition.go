package controller

import (
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/flowgate/flowgate/internal/audit"
	"github.com/flowgate/flowgate/internal/auth"
	"github.com/flowgate/flowgate/internal/config"
	"github.com/flowgate/flowgate/internal/model"
	"github.com/flowgate/flowgate/internal/scheduler"
)

// NextStage validates and applies a stage transition for the effective
// scope. Rejections (unchecked items, failed conditions, ambiguous
// target) are returned as messages and leave persisted state untouched.
func (c *Controller) NextStage(target string, force bool, reason, track string) (string, error) {
	if force && strings.TrimSpace(reason) == "" {
		return "error: a non-empty reason is mandatory for a forced transition", nil
	}

	sc, err := c.resolveScope(track)
	if err != nil {
		return fmt.Sprintf("error: %v", err), nil
	}

	if unchecked := uncheckedItems(sc.checklist()); len(unchecked) > 0 && !force {
		var sb strings.Builder
		sb.WriteString("cannot proceed, unchecked items:\n")
		for _, text := range unchecked {
			fmt.Fprintf(&sb, "- %s\n", text)
		}
		return strings.TrimRight(sb.String(), "\n"), nil
	}

	if err := c.engine.SetStage(sc.currentStage()); err != nil {
		return fmt.Sprintf("error: current stage %q not found in config", sc.currentStage()), nil
	}
	available := c.engine.AvailableTransitions()
	if len(available) == 0 {
		return "end of sequence: no next stage defined", nil
	}

	var transition *config.TransitionConfig
	if target != "" {
		transition = c.engine.Transition(target)
		if transition == nil {
			return fmt.Sprintf("invalid target %q, valid choices: %s", target, targetList(available)), nil
		}
	} else {
		if len(available) > 1 {
			return fmt.Sprintf("branching point, specify a target: %s", targetList(available)), nil
		}
		transition = &available[0]
	}

	if c.shouldInterceptTransition(sc.currentStage(), transition.Target) {
		return c.phaseTransition(sc.trackID)
	}

	c.ctx.Set("active_module", sc.activeModule())
	results, failures, err := c.validateConditions(transition.Conditions, sc)
	if err != nil {
		return "", err
	}
	if len(failures) > 0 && !force {
		var sb strings.Builder
		sb.WriteString("cannot proceed, validation failed:\n")
		for _, msg := range failures {
			fmt.Fprintf(&sb, "- %s\n", msg)
		}
		return strings.TrimRight(sb.String(), "\n"), nil
	}

	fromStage := sc.currentStage()
	sc.setStage(transition.Target)
	sc.setChecklist([]model.CheckItem{})
	if !sc.isTrack() {
		c.engine.SetStage(transition.Target)
	}

	// Exiting the cycle end toward anything but the cycle start leaves
	// the DAG loop entirely; the graph is cleared as ordinary cleanup.
	if pc := c.cfg.PhaseCycle; pc != nil && len(c.state.PhaseGraph) > 0 &&
		fromStage == pc.End && transition.Target != pc.Start {
		c.state.PhaseGraph = map[string]*model.PhaseNode{}
		c.state.CurrentPhase = ""
	}

	if err := c.save(); err != nil {
		return "", err
	}
	c.audit.RecordTransition(fromStage, transition.Target, sc.activeModule(), results, force, reason)

	prefix := ""
	if force {
		prefix = "[FORCED] "
	}
	return fmt.Sprintf("%stransitioned to %s", prefix, transition.Target), nil
}

// validateConditions resolves and evaluates a transition's conditions.
// Validators run concurrently; results and failure messages come back in
// declaration order.
func (c *Controller) validateConditions(conditions []config.ConditionConfig, sc *scope) ([]map[string]any, []string, error) {
	resolved, err := c.engine.ResolveConditions(conditions, c.ctx)
	if err != nil {
		return nil, nil, err
	}

	results := make([]map[string]any, len(resolved))
	failMsgs := make([]string, len(resolved))

	var g errgroup.Group
	for i, cond := range resolved {
		i, cond := i, cond
		g.Go(func() error {
			results[i], failMsgs[i] = c.evaluateCondition(cond, sc)
			return nil
		})
	}
	g.Wait()

	var failures []string
	for _, msg := range failMsgs {
		if msg != "" {
			failures = append(failures, msg)
		}
	}
	return results, failures, nil
}

func (c *Controller) evaluateCondition(cond config.ConditionConfig, sc *scope) (map[string]any, string) {
	entry := map[string]any{"rule": cond.Rule, "args": cond.Args}

	if passed, handled := c.evaluateBuiltinRule(cond.Rule, sc); handled {
		if passed {
			entry["status"] = "PASS"
			return entry, ""
		}
		entry["status"] = "FAIL"
		msg := cond.FailMessage
		if msg == "" {
			msg = fmt.Sprintf("condition failed: %s", cond.Rule)
		}
		entry["error"] = msg
		return entry, msg
	}

	v := c.registry.Get(cond.Rule)
	if v == nil {
		msg := fmt.Sprintf("missing validator for rule %q", cond.Rule)
		entry["status"] = "ERROR"
		entry["error"] = msg
		return entry, msg
	}

	passed, err := v.Validate(cond.Args, c.ctx.Data)
	if err != nil {
		msg := fmt.Sprintf("rule %q: %v", cond.Rule, err)
		entry["status"] = "ERROR"
		entry["error"] = msg
		return entry, msg
	}
	if !passed {
		entry["status"] = "FAIL"
		msg := cond.FailMessage
		if msg == "" {
			msg = fmt.Sprintf("condition failed: %s %v", cond.Rule, cond.Args)
		}
		entry["error"] = msg
		return entry, msg
	}

	entry["status"] = "PASS"
	if cond.Rule == "file_exists" {
		if path, ok := cond.Args["path"].(string); ok {
			entry["hash"] = audit.FileHash(path)
		}
	}
	return entry, ""
}

// evaluateBuiltinRule handles rules the controller answers from its own
// state rather than a registered validator.
func (c *Controller) evaluateBuiltinRule(rule string, sc *scope) (passed, handled bool) {
	switch rule {
	case "checklist_complete":
		return len(uncheckedItems(sc.checklist())) == 0, true
	case "all_phases_complete":
		return scheduler.IsAllComplete(c.state.PhaseGraph), true
	}
	return false, false
}

// SetStage jumps the global state to a stage directly. Jumping to the
// cycle start while the phase graph is non-empty is refused so scheduling
// goes through the transition hook; a forced override needs a valid token.
func (c *Controller) SetStage(stage, module string, force bool, token string) (string, error) {
	if _, ok := c.cfg.Stages[stage]; !ok {
		return fmt.Sprintf("error: stage %q not found in config", stage), nil
	}

	if pc := c.cfg.PhaseCycle; pc != nil && len(c.state.PhaseGraph) > 0 && stage == pc.Start {
		if !force {
			return fmt.Sprintf("refused: the phase DAG is active, use 'next %s' so the scheduler can advance it (--force with token to override)", stage), nil
		}
		if !c.verifyToken(token) {
			return "error: invalid token for forced stage override", nil
		}
	}

	c.state.CurrentStage = stage
	if module != "" {
		c.state.ActiveModule = module
		c.ctx.Set("active_module", module)
	}
	c.state.Checklist = []model.CheckItem{}
	c.engine.SetStage(stage)
	if err := c.save(); err != nil {
		return "", err
	}
	return fmt.Sprintf("stage set to %s", stage), nil
}

func (c *Controller) verifyToken(token string) bool {
	return token != "" && auth.Verify(c.cfg.SecretFile, token)
}

func uncheckedItems(items []model.CheckItem) []string {
	var unchecked []string
	for _, item := range items {
		if !item.Checked {
			unchecked = append(unchecked, item.Text)
		}
	}
	return unchecked
}

func targetList(transitions []config.TransitionConfig) string {
	targets := make([]string, 0, len(transitions))
	for _, tr := range transitions {
		targets = append(targets, tr.Target)
	}
	return strings.Join(targets, ", ")
}

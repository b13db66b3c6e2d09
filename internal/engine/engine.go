// Package engine answers stage questions against the loaded config: the
// current stage definition, the legal transitions out of it, and the
// flattened, variable-resolved condition list for a chosen transition.
package engine

import (
	"fmt"

	"github.com/flowgate/flowgate/internal/config"
)

type Engine struct {
	cfg     *config.Config
	stageID string
}

func New(cfg *config.Config) *Engine {
	return &Engine{cfg: cfg}
}

// SetStage moves the engine's cursor. Unknown stage IDs are rejected.
func (e *Engine) SetStage(stageID string) error {
	if _, ok := e.cfg.Stages[stageID]; !ok {
		return fmt.Errorf("stage %q not found in configuration", stageID)
	}
	e.stageID = stageID
	return nil
}

// CurrentStage returns the active stage definition, or nil when no stage
// is set or the persisted stage is absent from the config.
func (e *Engine) CurrentStage() *config.StageConfig {
	if e.stageID == "" {
		return nil
	}
	return e.cfg.Stages[e.stageID]
}

func (e *Engine) AvailableTransitions() []config.TransitionConfig {
	stage := e.CurrentStage()
	if stage == nil {
		return nil
	}
	return stage.Transitions
}

// Transition returns the transition out of the current stage toward the
// given target, or nil when no such transition is declared.
func (e *Engine) Transition(target string) *config.TransitionConfig {
	for _, tr := range e.AvailableTransitions() {
		if tr.Target == target {
			t := tr
			return &t
		}
	}
	return nil
}

// ResolveConditions flattens ruleset references and substitutes ${var}
// expressions in args and fail messages from the given context.
func (e *Engine) ResolveConditions(conditions []config.ConditionConfig, ctx *Context) ([]config.ConditionConfig, error) {
	resolver := ctx.Resolver()
	var resolved []config.ConditionConfig

	for _, cond := range conditions {
		if cond.UseRuleset != "" {
			ruleset, ok := e.cfg.Rulesets[cond.UseRuleset]
			if !ok {
				return nil, fmt.Errorf("ruleset %q not found", cond.UseRuleset)
			}
			for _, rc := range ruleset {
				resolved = append(resolved, config.ConditionConfig{
					Rule:        rc.Rule,
					Args:        resolver.ResolveMap(rc.Args),
					FailMessage: resolver.ResolveString(rc.FailMessage),
				})
			}
			continue
		}
		resolved = append(resolved, config.ConditionConfig{
			Rule:        cond.Rule,
			Args:        resolver.ResolveMap(cond.Args),
			FailMessage: resolver.ResolveString(cond.FailMessage),
		})
	}
	return resolved, nil
}

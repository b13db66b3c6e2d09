// Package config loads and validates the workflow configuration: stage
// declarations, transitions with validation conditions, rulesets,
// variables, and the phase_cycle boundary consumed by the scheduler.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ConditionConfig is one validation condition on a transition. Exactly one
// of Rule or UseRuleset must be set.
type ConditionConfig struct {
	Rule        string         `yaml:"rule"`
	UseRuleset  string         `yaml:"use_ruleset"`
	Args        map[string]any `yaml:"args"`
	FailMessage string         `yaml:"fail_message"`
}

type TransitionConfig struct {
	Target     string            `yaml:"target"`
	Conditions []ConditionConfig `yaml:"conditions"`
}

type StageConfig struct {
	ID          string             `yaml:"id"`
	Label       string             `yaml:"label"`
	Checklist   []string           `yaml:"checklist"`
	Transitions []TransitionConfig `yaml:"transitions"`
}

// PhaseCycleConfig names the two stages between which the DAG scheduler
// intercepts ordinary transitions.
type PhaseCycleConfig struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

type Config struct {
	Version    string                       `yaml:"version"`
	Variables  map[string]string            `yaml:"variables"`
	Rulesets   map[string][]ConditionConfig `yaml:"rulesets"`
	Stages     map[string]*StageConfig      `yaml:"-"`
	StageOrder []string                     `yaml:"-"`
	PhaseCycle *PhaseCycleConfig            `yaml:"phase_cycle"`

	StateFile  string `yaml:"state_file"`
	SecretFile string `yaml:"secret_file"`
	AuditDir   string `yaml:"audit_dir"`
	StatusFile string `yaml:"status_file"`
}

// rawConfig keeps stages as a yaml.Node so declaration order survives
// decoding; the first declared stage is the default for new tracks.
type rawConfig struct {
	Config `yaml:",inline"`
	Stages yaml.Node `yaml:"stages"`
}

// Load reads, parses, and validates a workflow config file. Structural
// problems such as an undeclared stage reference or a condition with
// neither rule nor ruleset are hard errors at load time, never silently
// repaired.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg := raw.Config
	cfg.Stages = make(map[string]*StageConfig)

	if raw.Stages.Kind == yaml.MappingNode {
		// Mapping nodes store alternating key/value children.
		for i := 0; i+1 < len(raw.Stages.Content); i += 2 {
			id := raw.Stages.Content[i].Value
			var stage StageConfig
			if err := raw.Stages.Content[i+1].Decode(&stage); err != nil {
				return nil, fmt.Errorf("parse stage %q: %w", id, err)
			}
			if stage.ID == "" {
				stage.ID = id
			}
			cfg.Stages[id] = &stage
			cfg.StageOrder = append(cfg.StageOrder, id)
		}
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.StateFile == "" {
		cfg.StateFile = ".workflow/state.json"
	}
	if cfg.SecretFile == "" {
		cfg.SecretFile = ".workflow/secret"
	}
	if cfg.AuditDir == "" {
		cfg.AuditDir = ".workflow/audit"
	}
	if cfg.StatusFile == "" {
		cfg.StatusFile = ".workflow/ACTIVE_STATUS.md"
	}
	if cfg.Variables == nil {
		cfg.Variables = make(map[string]string)
	}
	if cfg.Rulesets == nil {
		cfg.Rulesets = make(map[string][]ConditionConfig)
	}
}

func validate(cfg *Config) error {
	for id, stage := range cfg.Stages {
		for _, tr := range stage.Transitions {
			if _, ok := cfg.Stages[tr.Target]; !ok {
				return fmt.Errorf("stage %q: transition target %q not found in stages", id, tr.Target)
			}
			for _, cond := range tr.Conditions {
				if err := validateCondition(cfg, cond); err != nil {
					return fmt.Errorf("stage %q → %q: %w", id, tr.Target, err)
				}
			}
		}
	}
	for name, conds := range cfg.Rulesets {
		for _, cond := range conds {
			if cond.Rule == "" {
				return fmt.Errorf("ruleset %q: condition must have a rule", name)
			}
		}
	}
	if pc := cfg.PhaseCycle; pc != nil {
		if _, ok := cfg.Stages[pc.Start]; !ok {
			return fmt.Errorf("phase_cycle.start %q not found in stages", pc.Start)
		}
		if _, ok := cfg.Stages[pc.End]; !ok {
			return fmt.Errorf("phase_cycle.end %q not found in stages", pc.End)
		}
	}
	return nil
}

func validateCondition(cfg *Config, cond ConditionConfig) error {
	if cond.Rule == "" && cond.UseRuleset == "" {
		return fmt.Errorf("condition must have either rule or use_ruleset")
	}
	if cond.Rule != "" && cond.UseRuleset != "" {
		return fmt.Errorf("condition cannot have both rule and use_ruleset")
	}
	if cond.UseRuleset != "" {
		if _, ok := cfg.Rulesets[cond.UseRuleset]; !ok {
			return fmt.Errorf("ruleset %q not found", cond.UseRuleset)
		}
	}
	return nil
}

// FirstStage returns the first declared stage ID, or "" for an empty config.
func (c *Config) FirstStage() string {
	if len(c.StageOrder) == 0 {
		return ""
	}
	return c.StageOrder[0]
}

package controller

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/flowgate/flowgate/internal/model"
)

var agentTagPattern = regexp.MustCompile(`\[AGENT:([\w-]+)\]`)

// Status renders the effective scope's stage and checklist. The stage's
// configured checklist is merged with persisted checked state so config
// edits show up without losing progress; the merged list is persisted
// back and mirrored into the status snapshot file.
func (c *Controller) Status(track string) (string, error) {
	sc, err := c.resolveScope(track)
	if err != nil {
		return fmt.Sprintf("error: %v", err), nil
	}

	if sc.currentStage() == "" {
		return "workflow not initialized, use the 'set' command", nil
	}
	stage, ok := c.cfg.Stages[sc.currentStage()]
	if !ok {
		return fmt.Sprintf("error: current stage %q not found in config", sc.currentStage()), nil
	}

	sc.setChecklist(mergeChecklist(stage.Checklist, sc.checklist()))
	if err := c.save(); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Current Stage: %s (%s)\n", stage.ID, stage.Label)
	sb.WriteString(strings.Repeat("=", 40) + "\n")
	fmt.Fprintf(&sb, "Active Module: %s\n", sc.activeModule())
	if sc.isTrack() {
		fmt.Fprintf(&sb, "Track: %s (%s)\n", sc.trackID, sc.track.Label)
	}
	sb.WriteString(strings.Repeat("-", 40) + "\n")
	for i, item := range sc.checklist() {
		mark := "[ ]"
		if item.Checked {
			mark = "[x]"
		}
		agent := ""
		if item.RequiredAgent != "" {
			agent = fmt.Sprintf(" (req: %s)", item.RequiredAgent)
		}
		fmt.Fprintf(&sb, "%d. %s %s%s\n", i+1, mark, item.Text, agent)
	}

	out := strings.TrimRight(sb.String(), "\n")
	c.writeStatusFile(out)
	return out, nil
}

// mergeChecklist seeds items from the stage config while carrying over
// checked/evidence/agent state for items whose text still matches.
func mergeChecklist(configured []string, persisted []model.CheckItem) []model.CheckItem {
	byText := make(map[string]model.CheckItem, len(persisted))
	for _, item := range persisted {
		byText[item.Text] = item
	}

	merged := make([]model.CheckItem, 0, len(configured))
	for _, text := range configured {
		item := model.CheckItem{Text: text}
		if prev, ok := byText[text]; ok {
			item.Checked = prev.Checked
			item.Evidence = prev.Evidence
			item.RequiredAgent = prev.RequiredAgent
		}
		if m := agentTagPattern.FindStringSubmatch(text); m != nil {
			item.RequiredAgent = m[1]
		}
		merged = append(merged, item)
	}
	return merged
}

// writeStatusFile mirrors the rendered status into a markdown snapshot
// for external tooling. Failures are non-fatal.
func (c *Controller) writeStatusFile(statusText string) {
	path := c.cfg.StatusFile
	if path == "" {
		return
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return
		}
	}
	content := fmt.Sprintf("> **[CURRENT WORKFLOW STATE]**\n> Updated at: %s\n>\n```markdown\n%s\n```\n",
		c.now().Format("2006-01-02 15:04:05"), statusText)
	os.WriteFile(path, []byte(content), 0o644)
}

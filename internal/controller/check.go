package controller

import (
	"fmt"
	"strings"

	"github.com/flowgate/flowgate/internal/audit"
)

// Check marks checklist items by 1-based index. [USER-APPROVE] items need
// a verified token; items with a required agent need a recorded review
// for the effective stage and track. A rejected item is reported and
// skipped without mutating it.
func (c *Controller) Check(indices []int, token, evidence, track string) (string, error) {
	sc, err := c.resolveScope(track)
	if err != nil {
		return fmt.Sprintf("error: %v", err), nil
	}

	items := sc.checklist()
	var results []string
	changed := false

	for _, index := range indices {
		if index < 1 || index > len(items) {
			results = append(results, fmt.Sprintf("invalid index: %d", index))
			continue
		}
		item := &items[index-1]

		if strings.HasPrefix(strings.TrimSpace(item.Text), "[USER-APPROVE]") {
			if token == "" {
				results = append(results, fmt.Sprintf("error: token required for [USER-APPROVE] item: %s", item.Text))
				continue
			}
			if !c.verifyToken(token) {
				results = append(results, fmt.Sprintf("error: invalid token for: %s", item.Text))
				continue
			}
		}

		if item.RequiredAgent != "" {
			if !c.audit.HasAgentReview(item.RequiredAgent, sc.currentStage(), sc.trackID) {
				results = append(results, fmt.Sprintf("error: agent review from %q not found for the current stage", item.RequiredAgent))
				continue
			}
		}

		item.Checked = true
		if evidence != "" {
			item.Evidence = evidence
		}
		changed = true
		results = append(results, fmt.Sprintf("checked: %s", item.Text))

		c.audit.LogEvent(audit.EventManualCheck, map[string]any{
			"milestone": c.state.CurrentMilestone,
			"phase":     c.state.CurrentPhase,
			"stage":     sc.currentStage(),
			"item":      item.Text,
			"evidence":  evidence,
		})
	}

	if changed {
		sc.setChecklist(items)
		if err := c.save(); err != nil {
			return "", err
		}
	}
	return strings.Join(results, "\n"), nil
}

// Uncheck clears checklist items by 1-based index.
func (c *Controller) Uncheck(indices []int, track string) (string, error) {
	sc, err := c.resolveScope(track)
	if err != nil {
		return fmt.Sprintf("error: %v", err), nil
	}

	items := sc.checklist()
	var results []string
	changed := false

	for _, index := range indices {
		if index < 1 || index > len(items) {
			results = append(results, fmt.Sprintf("invalid index: %d", index))
			continue
		}
		items[index-1].Checked = false
		items[index-1].Evidence = ""
		changed = true
		results = append(results, fmt.Sprintf("unchecked: %s", items[index-1].Text))
	}

	if changed {
		sc.setChecklist(items)
		if err := c.save(); err != nil {
			return "", err
		}
	}
	return strings.Join(results, "\n"), nil
}

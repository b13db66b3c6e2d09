package controller

import (
	"fmt"

	"github.com/flowgate/flowgate/internal/audit"
)

// RecordReview logs a sub-agent review for the effective scope's stage.
// The track ID is recorded so a review for one track never satisfies a
// sibling at the same stage.
func (c *Controller) RecordReview(agent, summary, track string) (string, error) {
	sc, err := c.resolveScope(track)
	if err != nil {
		return fmt.Sprintf("error: %v", err), nil
	}

	fields := map[string]any{
		"agent":   agent,
		"stage":   sc.currentStage(),
		"module":  sc.activeModule(),
		"summary": summary,
	}
	if sc.isTrack() {
		fields["track"] = sc.trackID
	}
	if err := c.audit.LogEvent(audit.EventAgentReview, fields); err != nil {
		return "", err
	}
	return fmt.Sprintf("recorded review from agent %q for stage %s", agent, sc.currentStage()), nil
}

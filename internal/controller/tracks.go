package controller

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/flowgate/flowgate/internal/audit"
	"github.com/flowgate/flowgate/internal/model"
)

var trackIDPattern = regexp.MustCompile(`^[\w-]+$`)

// TrackCreate adds a manual track. The stage defaults to the first
// declared stage when omitted.
func (c *Controller) TrackCreate(id, label, module, stage string) (string, error) {
	if !trackIDPattern.MatchString(id) {
		return fmt.Sprintf("error: invalid track id %q (letters, digits, - and _ only)", id), nil
	}
	if _, exists := c.state.Tracks[id]; exists {
		return fmt.Sprintf("error: track %q already exists", id), nil
	}
	if stage == "" {
		stage = c.cfg.FirstStage()
	}
	if _, ok := c.cfg.Stages[stage]; !ok {
		return fmt.Sprintf("error: stage %q not found in config", stage), nil
	}

	c.state.Tracks[id] = model.NewTrackState(stage, module, label, c.now().Format("2006-01-02T15:04:05"))
	if err := c.save(); err != nil {
		return "", err
	}
	c.audit.LogEvent(audit.EventTrackCreated, map[string]any{
		"track": id, "label": label, "module": module, "stage": stage,
	})
	return fmt.Sprintf("track %q created at stage %s", id, stage), nil
}

// TrackList renders all tracks, ID-sorted, marking the active one.
func (c *Controller) TrackList() (string, error) {
	if len(c.state.Tracks) == 0 {
		return "no tracks", nil
	}

	ids := make([]string, 0, len(c.state.Tracks))
	for id := range c.state.Tracks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sb strings.Builder
	for _, id := range ids {
		tr := c.state.Tracks[id]
		marker := " "
		if id == c.state.ActiveTrack {
			marker = "*"
		}
		fmt.Fprintf(&sb, "%s %s  stage=%s module=%s status=%s  %s\n",
			marker, id, tr.CurrentStage, tr.ActiveModule, tr.Status, tr.Label)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// TrackSwitch makes a track the implicit target of subsequent commands.
func (c *Controller) TrackSwitch(id string) (string, error) {
	if _, ok := c.state.Tracks[id]; !ok {
		return fmt.Sprintf("error: track %q not found", id), nil
	}
	c.state.ActiveTrack = id
	if err := c.save(); err != nil {
		return "", err
	}
	c.audit.LogEvent(audit.EventTrackSwitch, map[string]any{"track": id})
	return fmt.Sprintf("switched to track %q", id), nil
}

// TrackJoin collapses all tracks back to the global flow. Blocked while
// any track is still in progress.
func (c *Controller) TrackJoin() (string, error) {
	if len(c.state.Tracks) == 0 {
		return "no tracks to join", nil
	}

	var incomplete []string
	for id, tr := range c.state.Tracks {
		if tr.Status != model.TrackComplete {
			incomplete = append(incomplete, id)
		}
	}
	if len(incomplete) > 0 {
		sort.Strings(incomplete)
		return fmt.Sprintf("error: cannot join, tracks still in progress: %s", strings.Join(incomplete, ", ")), nil
	}

	joined := len(c.state.Tracks)
	c.state.Tracks = make(map[string]*model.TrackState)
	c.state.ActiveTrack = ""
	if err := c.save(); err != nil {
		return "", err
	}
	c.audit.LogEvent(audit.EventTracksJoined, map[string]any{"count": joined})
	return fmt.Sprintf("joined %d tracks", joined), nil
}

// TrackDelete removes a track regardless of status.
func (c *Controller) TrackDelete(id string) (string, error) {
	if _, ok := c.state.Tracks[id]; !ok {
		return fmt.Sprintf("error: track %q not found", id), nil
	}
	delete(c.state.Tracks, id)
	if c.state.ActiveTrack == id {
		c.state.ActiveTrack = ""
	}
	if err := c.save(); err != nil {
		return "", err
	}
	c.audit.LogEvent(audit.EventTrackDeleted, map[string]any{"track": id})
	return fmt.Sprintf("track %q deleted", id), nil
}

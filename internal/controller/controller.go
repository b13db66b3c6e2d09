// Package controller orchestrates the workflow: stage transitions with
// validated conditions, the phase DAG transition hook, and the lifecycle
// of parallel tracks. All collaborators are passed in explicitly; there
// is no process-global state.
package controller

import (
	"fmt"
	"time"

	"github.com/flowgate/flowgate/internal/audit"
	"github.com/flowgate/flowgate/internal/config"
	"github.com/flowgate/flowgate/internal/engine"
	"github.com/flowgate/flowgate/internal/model"
	statefile "github.com/flowgate/flowgate/internal/state"
	"github.com/flowgate/flowgate/internal/validator"
)

type Controller struct {
	cfg      *config.Config
	state    *model.WorkflowState
	store    *statefile.Store
	engine   *engine.Engine
	registry *validator.Registry
	audit    *audit.Logger
	ctx      *engine.Context
	now      func() time.Time
}

func New(cfg *config.Config) (*Controller, error) {
	logger, err := audit.NewLogger(cfg.AuditDir)
	if err != nil {
		return nil, err
	}

	store := statefile.NewStore(cfg.StateFile)
	st := store.Load()

	c := &Controller{
		cfg:      cfg,
		state:    st,
		store:    store,
		engine:   engine.New(cfg),
		registry: validator.NewRegistry(),
		audit:    logger,
		ctx:      engine.NewContext(cfg.Variables),
		now:      time.Now,
	}

	if st.CurrentStage != "" {
		if _, ok := cfg.Stages[st.CurrentStage]; ok {
			c.engine.SetStage(st.CurrentStage)
		}
	}
	c.ctx.Set("active_module", st.ActiveModule)
	return c, nil
}

// State exposes the in-memory workflow state, mainly for tests and the
// status renderer.
func (c *Controller) State() *model.WorkflowState {
	return c.state
}

// Registry exposes the validator registry so callers can add custom rules.
func (c *Controller) Registry() *validator.Registry {
	return c.registry
}

func (c *Controller) save() error {
	return c.store.Save(c.state)
}

// scope is the resolved target of an operation: a named track or the
// global state. Global and track progress are mutually exclusive views.
type scope struct {
	trackID string
	track   *model.TrackState
	state   *model.WorkflowState
}

func (s *scope) isTrack() bool { return s.track != nil }

func (s *scope) currentStage() string {
	if s.track != nil {
		return s.track.CurrentStage
	}
	return s.state.CurrentStage
}

func (s *scope) setStage(stage string) {
	if s.track != nil {
		s.track.CurrentStage = stage
		return
	}
	s.state.CurrentStage = stage
}

func (s *scope) activeModule() string {
	if s.track != nil {
		return s.track.ActiveModule
	}
	return s.state.ActiveModule
}

func (s *scope) checklist() []model.CheckItem {
	if s.track != nil {
		return s.track.Checklist
	}
	return s.state.Checklist
}

func (s *scope) setChecklist(items []model.CheckItem) {
	if s.track != nil {
		s.track.Checklist = items
		return
	}
	s.state.Checklist = items
}

// resolveScope picks the effective state for an operation: the explicit
// track if named, otherwise the active track, otherwise the global state.
// An explicit track that does not exist is an error; a stale active_track
// silently falls back to global.
func (c *Controller) resolveScope(track string) (*scope, error) {
	if track != "" {
		tr, ok := c.state.Tracks[track]
		if !ok {
			return nil, fmt.Errorf("track %q not found", track)
		}
		return &scope{trackID: track, track: tr, state: c.state}, nil
	}
	if c.state.ActiveTrack != "" {
		if tr, ok := c.state.Tracks[c.state.ActiveTrack]; ok {
			return &scope{trackID: c.state.ActiveTrack, track: tr, state: c.state}, nil
		}
	}
	return &scope{state: c.state}, nil
}

// resolveCurrentPhase maps a scope to its current phase ID: a track's
// phase back-reference, or the global current_phase. Empty when neither
// is set.
func (c *Controller) resolveCurrentPhase(trackID string) string {
	if trackID != "" {
		if tr, ok := c.state.Tracks[trackID]; ok {
			return tr.PhaseID
		}
		return ""
	}
	return c.state.CurrentPhase
}

// hasNoActivePhase detects "initial entry" into the DAG-driven part of
// the workflow: no global current phase and no in-progress auto track.
// Manual tracks do not count.
func (c *Controller) hasNoActivePhase() bool {
	if c.state.CurrentPhase != "" {
		return false
	}
	for _, tr := range c.state.Tracks {
		if tr.CreatedBy == model.CreatedAuto && tr.Status == model.TrackInProgress {
			return false
		}
	}
	return true
}

// cleanupCompletedAutoTracks sweeps auto tracks whose status is complete.
// Manual tracks are never swept. ActiveTrack is cleared if it pointed at
// a removed track.
func (c *Controller) cleanupCompletedAutoTracks() {
	for id, tr := range c.state.Tracks {
		if tr.CreatedBy == model.CreatedAuto && tr.Status == model.TrackComplete {
			delete(c.state.Tracks, id)
			if c.state.ActiveTrack == id {
				c.state.ActiveTrack = ""
			}
		}
	}
}

// autoTrackName derives a track name from a phase ID, disambiguating on
// collision so re-entering a forked stage never overwrites an existing
// track.
func (c *Controller) autoTrackName(phaseID string) string {
	name := "auto-" + phaseID
	if _, exists := c.state.Tracks[name]; !exists {
		return name
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d", name, i)
		if _, exists := c.state.Tracks[candidate]; !exists {
			return candidate
		}
	}
}

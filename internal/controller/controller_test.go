package controller

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgate/flowgate/internal/auth"
	"github.com/flowgate/flowgate/internal/config"
	"github.com/flowgate/flowgate/internal/model"
)

// testConfig wires a four-stage workflow with a work/gate phase cycle
// into a temp directory.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Variables: map[string]string{},
		Rulesets:  map[string][]config.ConditionConfig{},
		Stages: map[string]*config.StageConfig{
			"plan": {ID: "plan", Label: "Planning", Transitions: []config.TransitionConfig{
				{Target: "work"},
			}},
			"work": {ID: "work", Label: "Implementation", Checklist: []string{"implement feature"},
				Transitions: []config.TransitionConfig{{Target: "gate"}}},
			"gate": {ID: "gate", Label: "Verification", Transitions: []config.TransitionConfig{
				{Target: "work"},
				{Target: "done"},
			}},
			"done":    {ID: "done", Label: "Finished"},
			"approve": {ID: "approve", Label: "Approval", Checklist: []string{"[USER-APPROVE] deploy to production"}},
			"review":  {ID: "review", Label: "Review", Checklist: []string{"[AGENT:qa] code review passed"}},
		},
		StageOrder: []string{"plan", "work", "gate", "done", "approve", "review"},
		PhaseCycle: &config.PhaseCycleConfig{Start: "work", End: "gate"},
		StateFile:  filepath.Join(dir, "state.json"),
		SecretFile: filepath.Join(dir, "secret"),
		AuditDir:   filepath.Join(dir, "audit"),
		StatusFile: filepath.Join(dir, "STATUS.md"),
	}
}

func newTestController(t *testing.T) (*Controller, *config.Config) {
	t.Helper()
	cfg := testConfig(t)
	c, err := New(cfg)
	require.NoError(t, err)
	return c, cfg
}

func seedDiamond(c *Controller) {
	c.state.PhaseGraph = map[string]*model.PhaseNode{
		"p1": {ID: "p1", Label: "Core", Module: "core", DependsOn: []string{}, Status: model.PhasePending},
		"p2": {ID: "p2", Label: "API", Module: "api", DependsOn: []string{"p1"}, Status: model.PhasePending},
		"p3": {ID: "p3", Label: "UI", Module: "ui", DependsOn: []string{"p1"}, Status: model.PhasePending},
		"p4": {ID: "p4", Label: "Docs", Module: "docs", DependsOn: []string{"p2", "p3"}, Status: model.PhasePending},
	}
}

func TestInitialEntryActivatesFirstPhase(t *testing.T) {
	c, _ := newTestController(t)
	c.state.CurrentStage = "plan"
	seedDiamond(c)

	out, err := c.NextStage("work", false, "", "")
	require.NoError(t, err)
	assert.Contains(t, out, "Phase p1")

	assert.Equal(t, "p1", c.state.CurrentPhase)
	assert.Equal(t, "work", c.state.CurrentStage)
	assert.Equal(t, "core", c.state.ActiveModule)
	assert.Equal(t, model.PhaseActive, c.state.PhaseGraph["p1"].Status)
}

func TestPhaseCycleLifecycle(t *testing.T) {
	c, cfg := newTestController(t)
	seedDiamond(c)
	c.state.CurrentStage = "gate"
	c.state.CurrentPhase = "p1"
	c.state.PhaseGraph["p1"].Status = model.PhaseActive

	// Completing p1 unblocks p2 and p3: fork into two auto tracks.
	out, err := c.NextStage("work", false, "", "")
	require.NoError(t, err)
	assert.Contains(t, out, "Fork: 2")

	require.Contains(t, c.state.Tracks, "auto-p2")
	require.Contains(t, c.state.Tracks, "auto-p3")
	assert.Equal(t, "auto-p2", c.state.ActiveTrack)
	assert.Empty(t, c.state.CurrentPhase)
	assert.Equal(t, model.PhaseComplete, c.state.PhaseGraph["p1"].Status)
	assert.Equal(t, model.PhaseActive, c.state.PhaseGraph["p2"].Status)
	assert.Equal(t, model.PhaseActive, c.state.PhaseGraph["p3"].Status)

	p2 := c.state.Tracks["auto-p2"]
	assert.Equal(t, "work", p2.CurrentStage)
	assert.Equal(t, "api", p2.ActiveModule)
	assert.Equal(t, "p2", p2.PhaseID)
	assert.Equal(t, model.CreatedAuto, p2.CreatedBy)

	// First track completes its cycle and waits for its sibling.
	_, err = c.NextStage("gate", false, "", "auto-p2")
	require.NoError(t, err)
	out, err = c.NextStage("work", false, "", "auto-p2")
	require.NoError(t, err)
	assert.Contains(t, out, "Waiting")

	assert.Equal(t, model.PhaseComplete, c.state.PhaseGraph["p2"].Status)
	assert.Equal(t, model.TrackComplete, c.state.Tracks["auto-p2"].Status)
	assert.Equal(t, model.TrackInProgress, c.state.Tracks["auto-p3"].Status)

	// Second track completes: join, sweep the auto tracks, advance to p4.
	_, err = c.NextStage("gate", false, "", "auto-p3")
	require.NoError(t, err)
	out, err = c.NextStage("work", false, "", "auto-p3")
	require.NoError(t, err)
	assert.Contains(t, out, "Phase p4")

	assert.Empty(t, c.state.Tracks, "completed auto tracks should be swept")
	assert.Empty(t, c.state.ActiveTrack)
	assert.Equal(t, "p4", c.state.CurrentPhase)
	assert.Equal(t, "work", c.state.CurrentStage)
	assert.Equal(t, "docs", c.state.ActiveModule)

	// Last phase completes: the whole graph is done.
	_, err = c.NextStage("gate", false, "", "")
	require.NoError(t, err)
	out, err = c.NextStage("work", false, "", "")
	require.NoError(t, err)
	assert.Contains(t, out, "All phases complete")
	assert.Empty(t, c.state.CurrentPhase)

	// Leaving the cycle end toward a non-start stage clears the graph.
	out, err = c.NextStage("done", false, "", "")
	require.NoError(t, err)
	assert.Contains(t, out, "transitioned to done")
	assert.Empty(t, c.state.PhaseGraph)

	// State survives a reload through a fresh controller.
	c2, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, "done", c2.state.CurrentStage)
	assert.Empty(t, c2.state.PhaseGraph)
}

func TestCycleExitClearsIncompleteGraph(t *testing.T) {
	c, _ := newTestController(t)
	seedDiamond(c)
	c.state.CurrentStage = "gate"

	out, err := c.NextStage("done", false, "", "")
	require.NoError(t, err)
	assert.Contains(t, out, "transitioned to done")
	assert.Empty(t, c.state.PhaseGraph)
	assert.Empty(t, c.state.CurrentPhase)
}

func TestAutoTrackNameCollision(t *testing.T) {
	c, _ := newTestController(t)
	seedDiamond(c)
	c.state.CurrentStage = "gate"
	c.state.CurrentPhase = "p1"
	c.state.PhaseGraph["p1"].Status = model.PhaseActive

	// A manual track already owns the auto-p2 name; it must not be
	// overwritten by the fork.
	_, err := c.TrackCreate("auto-p2", "mine", "core", "plan")
	require.NoError(t, err)

	_, err = c.NextStage("work", false, "", "")
	require.NoError(t, err)

	require.Contains(t, c.state.Tracks, "auto-p2-2")
	assert.Equal(t, model.CreatedManual, c.state.Tracks["auto-p2"].CreatedBy)
	assert.Equal(t, "p2", c.state.Tracks["auto-p2-2"].PhaseID)
}

func TestNextStage_UncheckedItemsBlock(t *testing.T) {
	c, _ := newTestController(t)
	c.state.CurrentStage = "work"

	_, err := c.Status("")
	require.NoError(t, err)

	out, err := c.NextStage("gate", false, "", "")
	require.NoError(t, err)
	assert.Contains(t, out, "unchecked items")
	assert.Contains(t, out, "implement feature")
	assert.Equal(t, "work", c.state.CurrentStage)

	_, err = c.Check([]int{1}, "", "done in commit abc", "")
	require.NoError(t, err)

	out, err = c.NextStage("gate", false, "", "")
	require.NoError(t, err)
	assert.Contains(t, out, "transitioned to gate")
	assert.Empty(t, c.state.Checklist, "checklist resets on transition")
}

func TestNextStage_ForceNeedsReason(t *testing.T) {
	c, _ := newTestController(t)
	c.state.CurrentStage = "work"

	out, err := c.NextStage("gate", true, "  ", "")
	require.NoError(t, err)
	assert.Contains(t, out, "reason is mandatory")
}

func TestNextStage_BranchingAndInvalidTarget(t *testing.T) {
	c, _ := newTestController(t)
	c.state.CurrentStage = "gate"

	out, err := c.NextStage("", false, "", "")
	require.NoError(t, err)
	assert.Contains(t, out, "branching point")
	assert.Contains(t, out, "work, done")

	out, err = c.NextStage("ghost", false, "", "")
	require.NoError(t, err)
	assert.Contains(t, out, `invalid target "ghost"`)

	c.state.CurrentStage = "done"
	out, err = c.NextStage("", false, "", "")
	require.NoError(t, err)
	assert.Contains(t, out, "end of sequence")
}

func TestNextStage_FailedConditionAndForce(t *testing.T) {
	cfg := testConfig(t)
	cfg.Stages["plan"].Transitions = []config.TransitionConfig{{
		Target: "work",
		Conditions: []config.ConditionConfig{{
			Rule:        "file_exists",
			Args:        map[string]any{"path": filepath.Join(t.TempDir(), "missing.md")},
			FailMessage: "the report is missing",
		}},
	}}
	c, err := New(cfg)
	require.NoError(t, err)
	c.state.CurrentStage = "plan"

	out, err := c.NextStage("work", false, "", "")
	require.NoError(t, err)
	assert.Contains(t, out, "validation failed")
	assert.Contains(t, out, "the report is missing")
	assert.Equal(t, "plan", c.state.CurrentStage)

	out, err = c.NextStage("work", true, "known gap, tracked separately", "")
	require.NoError(t, err)
	assert.Contains(t, out, "[FORCED] transitioned to work")
}

func TestNextStage_BuiltinAllPhasesComplete(t *testing.T) {
	cfg := testConfig(t)
	cfg.Stages["gate"].Transitions = []config.TransitionConfig{
		{Target: "work"},
		{Target: "done", Conditions: []config.ConditionConfig{{
			Rule:        "all_phases_complete",
			FailMessage: "phases still open",
		}}},
	}
	c, err := New(cfg)
	require.NoError(t, err)
	seedDiamond(c)
	c.state.CurrentStage = "gate"

	out, err := c.NextStage("done", false, "", "")
	require.NoError(t, err)
	assert.Contains(t, out, "phases still open")

	for _, node := range c.state.PhaseGraph {
		node.Status = model.PhaseComplete
	}
	out, err = c.NextStage("done", false, "", "")
	require.NoError(t, err)
	assert.Contains(t, out, "transitioned to done")
}

func TestSetStage_PhaseGraphSafeguard(t *testing.T) {
	c, cfg := newTestController(t)
	seedDiamond(c)

	out, err := c.SetStage("work", "core", false, "")
	require.NoError(t, err)
	assert.Contains(t, out, "refused")

	out, err = c.SetStage("work", "core", true, "wrong-token")
	require.NoError(t, err)
	assert.Contains(t, out, "invalid token")

	require.NoError(t, auth.SaveSecret(cfg.SecretFile, "tok-123"))
	out, err = c.SetStage("work", "core", true, "tok-123")
	require.NoError(t, err)
	assert.Contains(t, out, "stage set to work")
	assert.Equal(t, "core", c.state.ActiveModule)

	// Non-cycle-start stages are never guarded.
	out, err = c.SetStage("plan", "", false, "")
	require.NoError(t, err)
	assert.Contains(t, out, "stage set to plan")

	out, err = c.SetStage("ghost", "", false, "")
	require.NoError(t, err)
	assert.Contains(t, out, "not found")
}

func TestCheck_UserApproveNeedsToken(t *testing.T) {
	c, cfg := newTestController(t)
	c.state.CurrentStage = "approve"
	_, err := c.Status("")
	require.NoError(t, err)

	out, err := c.Check([]int{1}, "", "", "")
	require.NoError(t, err)
	assert.Contains(t, out, "token required")
	assert.False(t, c.state.Checklist[0].Checked)

	require.NoError(t, auth.SaveSecret(cfg.SecretFile, "tok-123"))

	out, err = c.Check([]int{1}, "nope", "", "")
	require.NoError(t, err)
	assert.Contains(t, out, "invalid token")

	out, err = c.Check([]int{1}, "tok-123", "approved by ops", "")
	require.NoError(t, err)
	assert.Contains(t, out, "checked:")
	assert.True(t, c.state.Checklist[0].Checked)
	assert.Equal(t, "approved by ops", c.state.Checklist[0].Evidence)
}

func TestCheck_RequiredAgentReview(t *testing.T) {
	c, _ := newTestController(t)
	c.state.CurrentStage = "review"
	_, err := c.Status("")
	require.NoError(t, err)
	require.Equal(t, "qa", c.state.Checklist[0].RequiredAgent, "agent tag should be extracted")

	out, err := c.Check([]int{1}, "", "", "")
	require.NoError(t, err)
	assert.Contains(t, out, `agent review from "qa" not found`)

	_, err = c.RecordReview("qa", "looks good", "")
	require.NoError(t, err)

	out, err = c.Check([]int{1}, "", "", "")
	require.NoError(t, err)
	assert.Contains(t, out, "checked:")
}

func TestCheck_InvalidIndex(t *testing.T) {
	c, _ := newTestController(t)
	c.state.CurrentStage = "work"
	_, err := c.Status("")
	require.NoError(t, err)

	out, err := c.Check([]int{0, 99}, "", "", "")
	require.NoError(t, err)
	assert.Contains(t, out, "invalid index: 0")
	assert.Contains(t, out, "invalid index: 99")
}

func TestUncheck(t *testing.T) {
	c, _ := newTestController(t)
	c.state.CurrentStage = "work"
	_, err := c.Status("")
	require.NoError(t, err)
	_, err = c.Check([]int{1}, "", "proof", "")
	require.NoError(t, err)

	out, err := c.Uncheck([]int{1}, "")
	require.NoError(t, err)
	assert.Contains(t, out, "unchecked:")
	assert.False(t, c.state.Checklist[0].Checked)
	assert.Empty(t, c.state.Checklist[0].Evidence)
}

func TestStatus_MergePreservesProgress(t *testing.T) {
	c, _ := newTestController(t)
	c.state.CurrentStage = "work"
	c.state.Checklist = []model.CheckItem{
		{Text: "implement feature", Checked: true, Evidence: "commit abc"},
		{Text: "stale item no longer configured", Checked: true},
	}

	out, err := c.Status("")
	require.NoError(t, err)
	assert.Contains(t, out, "Current Stage: work (Implementation)")
	assert.Contains(t, out, "[x] implement feature")
	assert.NotContains(t, out, "stale item")

	require.Len(t, c.state.Checklist, 1)
	assert.Equal(t, "commit abc", c.state.Checklist[0].Evidence)
}

func TestStatus_Uninitialized(t *testing.T) {
	c, _ := newTestController(t)
	out, err := c.Status("")
	require.NoError(t, err)
	assert.Contains(t, out, "not initialized")
}

func TestTrackLifecycle(t *testing.T) {
	c, _ := newTestController(t)

	out, err := c.TrackCreate("bad id!", "", "", "")
	require.NoError(t, err)
	assert.Contains(t, out, "invalid track id")

	out, err = c.TrackCreate("feat-a", "Feature A", "api", "")
	require.NoError(t, err)
	assert.Contains(t, out, "created at stage plan", "default stage is the first declared")

	out, err = c.TrackCreate("feat-a", "", "", "")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")

	out, err = c.TrackCreate("feat-b", "Feature B", "ui", "work")
	require.NoError(t, err)
	assert.Contains(t, out, "created at stage work")

	out, err = c.TrackSwitch("feat-b")
	require.NoError(t, err)
	assert.Equal(t, "feat-b", c.state.ActiveTrack)

	out, err = c.TrackList()
	require.NoError(t, err)
	assert.Contains(t, out, "* feat-b")
	assert.Contains(t, out, "  feat-a")

	// Join refuses while anything is in progress.
	out, err = c.TrackJoin()
	require.NoError(t, err)
	assert.Contains(t, out, "still in progress")
	assert.Contains(t, out, "feat-a, feat-b")

	for _, tr := range c.state.Tracks {
		tr.Status = model.TrackComplete
	}
	out, err = c.TrackJoin()
	require.NoError(t, err)
	assert.Contains(t, out, "joined 2 tracks")
	assert.Empty(t, c.state.Tracks)
	assert.Empty(t, c.state.ActiveTrack)
}

func TestTrackDelete(t *testing.T) {
	c, _ := newTestController(t)
	_, err := c.TrackCreate("tmp", "", "", "")
	require.NoError(t, err)
	_, err = c.TrackSwitch("tmp")
	require.NoError(t, err)

	out, err := c.TrackDelete("tmp")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted")
	assert.Empty(t, c.state.ActiveTrack)

	out, err = c.TrackDelete("tmp")
	require.NoError(t, err)
	assert.Contains(t, out, "not found")
}

func TestTrackScope_ExplicitUnknownTrack(t *testing.T) {
	c, _ := newTestController(t)
	out, err := c.NextStage("work", false, "", "ghost")
	require.NoError(t, err)
	assert.Contains(t, out, `track "ghost" not found`)
}

func TestPhaseAddRemove(t *testing.T) {
	c, _ := newTestController(t)

	out, err := c.PhaseAdd("p1", "Core", "core", nil)
	require.NoError(t, err)
	assert.Contains(t, out, "added")

	out, err = c.PhaseAdd("p1", "Again", "core", nil)
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")

	out, err = c.PhaseAdd("p2", "API", "api", []string{"ghost"})
	require.NoError(t, err)
	assert.Contains(t, out, `dependency "ghost" does not exist`)
	assert.NotContains(t, c.state.PhaseGraph, "p2")

	_, err = c.PhaseAdd("p2", "API", "api", []string{"p1"})
	require.NoError(t, err)

	// p1 has a dependent, so it cannot be removed.
	out, err = c.PhaseRemove("p1")
	require.NoError(t, err)
	assert.Contains(t, out, "depended on by: p2")
	assert.Contains(t, c.state.PhaseGraph, "p1")

	out, err = c.PhaseRemove("p2")
	require.NoError(t, err)
	assert.Contains(t, out, "removed")

	out, err = c.PhaseRemove("ghost")
	require.NoError(t, err)
	assert.Contains(t, out, "not found")
}

func TestPhaseAdd_RollsBackOnInvalidDAG(t *testing.T) {
	c, _ := newTestController(t)
	// A corrupt graph loaded from disk: validation failures on insert
	// must leave it untouched rather than compounding the damage.
	c.state.PhaseGraph = map[string]*model.PhaseNode{
		"a": {ID: "a", DependsOn: []string{"b"}, Status: model.PhasePending},
		"b": {ID: "b", DependsOn: []string{"a"}, Status: model.PhasePending},
	}

	out, err := c.PhaseAdd("c", "New", "core", []string{"a"})
	require.NoError(t, err)
	assert.Contains(t, out, "invalid DAG")
	assert.NotContains(t, c.state.PhaseGraph, "c")
}

func TestPhaseListAndGraph(t *testing.T) {
	c, _ := newTestController(t)

	out, err := c.PhaseList()
	require.NoError(t, err)
	assert.Contains(t, out, "no phases defined")

	seedDiamond(c)

	out, err = c.PhaseList()
	require.NoError(t, err)
	assert.Contains(t, out, "[p1] Core (pending)")
	assert.Contains(t, out, "depends_on: p2, p3")

	out, err = c.PhaseGraphView()
	require.NoError(t, err)
	assert.Contains(t, out, "4 phases, 3 levels")
	assert.Contains(t, out, "Level 0: p1 Core (pending)")
	assert.Contains(t, out, "Level 1: p2 API (pending) | p3 UI (pending)")
	assert.Contains(t, out, "Level 2: p4 Docs (pending)")
}

// Package model defines the persisted data structures for flowgate's
// workflow state: the global cursor, parallel tracks, and the phase graph.
package model

// CheckItem is a single checklist line, shared by the global checklist
// and per-track checklists.
type CheckItem struct {
	Text          string `json:"text"`
	Checked       bool   `json:"checked"`
	Evidence      string `json:"evidence,omitempty"`
	RequiredAgent string `json:"required_agent,omitempty"`
	Action        string `json:"action,omitempty"`
	RequireArgs   bool   `json:"require_args,omitempty"`
}

// PhaseNode is one unit of schedulable work in the phase graph.
type PhaseNode struct {
	ID        string      `json:"id"`
	Label     string      `json:"label"`
	Module    string      `json:"module"`
	DependsOn []string    `json:"depends_on"`
	Status    PhaseStatus `json:"status"`
}

// TrackState is an independently progressing stage/checklist cursor.
// PhaseID is set only for tracks the scheduler created; it is a
// non-owning back-reference into the phase graph.
type TrackState struct {
	CurrentStage string      `json:"current_stage"`
	ActiveModule string      `json:"active_module"`
	Checklist    []CheckItem `json:"checklist"`
	Label        string      `json:"label"`
	Status       TrackStatus `json:"status"`
	CreatedAt    string      `json:"created_at"`
	PhaseID      string      `json:"phase_id,omitempty"`
	CreatedBy    TrackOrigin `json:"created_by"`
}

// WorkflowState is the root aggregate persisted to the state file.
// It is the sole owner of Tracks and PhaseGraph.
type WorkflowState struct {
	CurrentMilestone string                 `json:"current_milestone"`
	CurrentPhase     string                 `json:"current_phase"`
	CurrentStage     string                 `json:"current_stage"`
	ActiveModule     string                 `json:"active_module"`
	Checklist        []CheckItem            `json:"checklist"`
	Tracks           map[string]*TrackState `json:"tracks"`
	ActiveTrack      string                 `json:"active_track,omitempty"`
	PhaseGraph       map[string]*PhaseNode  `json:"phase_graph"`
}

// NewWorkflowState returns a fresh default state, as produced when the
// state file is missing or unreadable.
func NewWorkflowState() *WorkflowState {
	return &WorkflowState{
		ActiveModule: "unknown",
		Checklist:    []CheckItem{},
		Tracks:       make(map[string]*TrackState),
		PhaseGraph:   make(map[string]*PhaseNode),
	}
}

// NewTrackState returns an in-progress manual track with an empty checklist.
func NewTrackState(stage, module, label, createdAt string) *TrackState {
	return &TrackState{
		CurrentStage: stage,
		ActiveModule: module,
		Checklist:    []CheckItem{},
		Label:        label,
		Status:       TrackInProgress,
		CreatedAt:    createdAt,
		CreatedBy:    CreatedManual,
	}
}

// Normalize repairs nil maps and slices after JSON decoding so callers
// never see a nil Tracks or PhaseGraph.
func (s *WorkflowState) Normalize() {
	if s.ActiveModule == "" {
		s.ActiveModule = "unknown"
	}
	if s.Checklist == nil {
		s.Checklist = []CheckItem{}
	}
	if s.Tracks == nil {
		s.Tracks = make(map[string]*TrackState)
	}
	if s.PhaseGraph == nil {
		s.PhaseGraph = make(map[string]*PhaseNode)
	}
	for _, tr := range s.Tracks {
		if tr.Checklist == nil {
			tr.Checklist = []CheckItem{}
		}
		if tr.Status == "" {
			tr.Status = TrackInProgress
		}
		if tr.CreatedBy == "" {
			tr.CreatedBy = CreatedManual
		}
	}
	for id, node := range s.PhaseGraph {
		if node.ID == "" {
			node.ID = id
		}
		if node.DependsOn == nil {
			node.DependsOn = []string{}
		}
		if node.Status == "" {
			node.Status = PhasePending
		}
	}
}

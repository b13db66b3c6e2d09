package model

// PhaseStatus is the lifecycle state of a phase node. Transitions are
// strictly forward: pending → active → complete.
type PhaseStatus string

const (
	PhasePending  PhaseStatus = "pending"
	PhaseActive   PhaseStatus = "active"
	PhaseComplete PhaseStatus = "complete"
)

type TrackStatus string

const (
	TrackInProgress TrackStatus = "in_progress"
	TrackComplete   TrackStatus = "complete"
)

// TrackOrigin records who created a track. Auto tracks participate in
// phase-completion bookkeeping and are swept on join; manual tracks are
// never touched by automatic cleanup.
type TrackOrigin string

const (
	CreatedManual TrackOrigin = "manual"
	CreatedAuto   TrackOrigin = "auto"
)

var validPhaseTransitions = map[PhaseStatus]map[PhaseStatus]bool{
	PhasePending: {
		PhaseActive: true,
	},
	PhaseActive: {
		PhaseComplete: true,
	},
}

// CanTransition reports whether a phase may move from one status to another.
// There is no regression transition.
func CanTransition(from, to PhaseStatus) bool {
	return validPhaseTransitions[from][to]
}

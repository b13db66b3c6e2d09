package model

import "fmt"

// NotFoundError reports an operation against a phase ID absent from the graph.
type NotFoundError struct {
	Phase string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("phase %q not found in graph", e.Phase)
}

// InvalidStateError reports a scheduler mutation whose precondition failed:
// the phase exists but is not in the required status. Callers must not
// conflate this with NotFoundError.
type InvalidStateError struct {
	Phase string
	Got   PhaseStatus
	Want  PhaseStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("phase %q status is %q, expected %q", e.Phase, e.Got, e.Want)
}

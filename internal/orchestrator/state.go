package orchestrator

import "fmt"

// State is a step of the task state machine.
type State string

const (
	StateFitting               State = "fitting"
	StateTestingTerm           State = "testing_term"
	StateSelecting             State = "selecting"
	StateRefittingForInference State = "refitting_for_inference"
	StateRefittingForPlotting  State = "refitting_for_plotting"
	StateDerivingSignificance  State = "deriving_significance"
	StateDone                  State = "done"
)

func (s State) String() string { return string(s) }

// StateError reports the state in which a task failed.
type StateError struct {
	State State
	Err   error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("task failed while %s: %v", e.State, e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }

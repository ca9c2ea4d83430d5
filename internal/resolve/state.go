package resolve

import "fmt"

// State is a step of batch resolution.
type State int

const (
	StateValidating State = iota
	StateFetching
	StateMatching
	StateClustering
	StatePersisting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateValidating:
		return "validating"
	case StateFetching:
		return "fetching"
	case StateMatching:
		return "matching"
	case StateClustering:
		return "clustering"
	case StatePersisting:
		return "persisting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StageError reports the state and step at which a batch failed.
// It unwraps to the underlying error, so errors.Is still sees the database error kinds.
type StageError struct {
	State State
	Step  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.State, e.Step, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func fail(state State, step string, err error) *StageError {
	return &StageError{State: state, Step: step, Err: err}
}

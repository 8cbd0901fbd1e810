package reasoning

import "fmt"

// State tracks where a single-path execution is.
type State string

const (
	StateNew        State = "new"
	StateExecuting  State = "executing"
	StateValidating State = "validating"
	StateComplete   State = "complete"
	StateFailed     State = "failed"
)

// validTransitions defines allowed state transitions. Validation outcome is
// recorded on the result, so there is no failed state after validating.
var validTransitions = map[State][]State{
	StateNew:        {StateExecuting},
	StateExecuting:  {StateValidating, StateFailed},
	StateValidating: {StateComplete, StateExecuting},
}

// Transition validates and returns nil if from→to is a legal transition.
func Transition(from, to State) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("no transitions from %q", from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("invalid transition %q → %q", from, to)
}

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateComplete || s == StateFailed
}

package pipeline

import "fmt"

// State is the lifecycle position of a case within one run.
type State string

const (
	Pending    State = "PENDING"
	Generating State = "GENERATING"
	Running    State = "RUNNING"
	Comparing  State = "COMPARING"
	Passed     State = "OK"
	Skipped    State = "SKIP"
	Failed     State = "FAIL"
)

// Terminal reports whether s is a verdict state.
func (s State) Terminal() bool {
	return s == Passed || s == Skipped || s == Failed
}

// Transition validates a move between states. Terminal states have no
// outgoing transitions.
func Transition(from, to State) error {
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("invalid case transition %s -> %s", from, to)
	}
	return nil
}

func isAllowedTransition(from, to State) bool {
	switch from {
	case Pending:
		return to == Generating || to == Skipped
	case Generating:
		return to == Running || to == Failed || to == Skipped
	case Running:
		return to == Comparing || to == Skipped || to == Failed
	case Comparing:
		return to == Passed || to == Failed
	default:
		return false
	}
}

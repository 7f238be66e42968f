package task

import "fmt"

// State is the lifecycle state of one unit of work, or of a composite result
// computed from its children.
type State int

const (
	Pending State = iota
	Running
	Success
	Failed
	Skipped
	Aborted
)

var stateNames = [...]string{
	Pending: "PENDING",
	Running: "RUNNING",
	Success: "SUCCESS",
	Failed:  "FAILED",
	Skipped: "SKIPPED",
	Aborted: "ABORTED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further transitions are possible from s.
func (s State) Terminal() bool {
	return s >= Success
}

// OK reports whether s counts as a successful outcome when folding.
func (s State) OK() bool {
	return s == Success || s == Skipped
}

// transitions lists the states reachable from each non-terminal state.
// Terminal states have no entry.
var transitions = map[State][]State{
	Pending: {Running, Failed, Skipped, Aborted},
	Running: {Success, Failed, Skipped, Aborted},
}

// CanTransition reports whether a node in state from may move to state to.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Fold computes the state of a composite from the states of its parts.
//
// A composite with no parts is successful. While any part is still pending
// or running the composite is running (or pending, if nothing has started).
// Once every part is terminal, any failure makes the composite failed, then
// any abort makes it aborted; a composite whose parts were all skipped is
// skipped, otherwise it succeeded.
func Fold(states ...State) State {
	if len(states) == 0 {
		return Success
	}

	var pending, running, failed, aborted, skipped int
	for _, s := range states {
		switch s {
		case Pending:
			pending++
		case Running:
			running++
		case Failed:
			failed++
		case Aborted:
			aborted++
		case Skipped:
			skipped++
		}
	}

	switch {
	case pending == len(states):
		return Pending
	case running > 0 || pending > 0:
		return Running
	case failed > 0:
		return Failed
	case aborted > 0:
		return Aborted
	case skipped == len(states):
		return Skipped
	default:
		return Success
	}
}

package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Outcome is the terminal result of one unit of work.
type Outcome struct {
	State  State
	Reason string
}

// Succeeded returns a successful outcome.
func Succeeded() Outcome {
	return Outcome{State: Success}
}

// Failure returns a failed outcome with the given reason.
func Failure(reason string) Outcome {
	return Outcome{State: Failed, Reason: reason}
}

// Failuref returns a failed outcome with a formatted reason.
func Failuref(format string, args ...any) Outcome {
	return Outcome{State: Failed, Reason: fmt.Sprintf(format, args...)}
}

// Skip returns a skipped outcome with the given reason.
func Skip(reason string) Outcome {
	return Outcome{State: Skipped, Reason: reason}
}

// FromError maps an error to an outcome. Cancellation errors map to Aborted.
func FromError(err error) Outcome {
	switch {
	case err == nil:
		return Succeeded()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Outcome{State: Aborted, Reason: err.Error()}
	default:
		return Failure(err.Error())
	}
}

// Aggregate is the joined result of a set of units.
type Aggregate struct {
	Outcomes []Outcome
}

// OK is the logical AND of every outcome. Skipped units count as successful.
func (a Aggregate) OK() bool {
	for _, o := range a.Outcomes {
		if !o.State.OK() {
			return false
		}
	}
	return true
}

// State folds every outcome into one state.
func (a Aggregate) State() State {
	states := make([]State, len(a.Outcomes))
	for i, o := range a.Outcomes {
		states[i] = o.State
	}
	return Fold(states...)
}

// Reasons returns the reasons of every unsuccessful outcome, in submission order.
func (a Aggregate) Reasons() []string {
	var out []string
	for _, o := range a.Outcomes {
		if !o.State.OK() && o.Reason != "" {
			out = append(out, o.Reason)
		}
	}
	return out
}

// Count returns how many outcomes ended in state s.
func (a Aggregate) Count(s State) int {
	n := 0
	for _, o := range a.Outcomes {
		if o.State == s {
			n++
		}
	}
	return n
}

// Err returns nil when the aggregate is OK, otherwise an error listing every
// failure reason.
func (a Aggregate) Err() error {
	if a.OK() {
		return nil
	}
	reasons := a.Reasons()
	if len(reasons) == 0 {
		return fmt.Errorf("%d of %d units did not succeed", len(a.Outcomes)-a.Count(Success)-a.Count(Skipped), len(a.Outcomes))
	}
	return errors.New(strings.Join(reasons, "; "))
}

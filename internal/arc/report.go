package arc

import (
	"errors"
	"fmt"
	"strings"

	"arc-go/internal/task"
)

// Report is the structured result of one archive operation: a result tree
// rooted at Root.
type Report struct {
	Results *task.Results
	Root    task.NodeID
}

func newReport(format string, args ...any) Report {
	results := task.NewResults()
	root := results.Add(task.NoParent, fmt.Sprintf(format, args...))
	_ = results.Start(root)
	return Report{Results: results, Root: root}
}

// State returns the resolved state of the whole operation.
func (r Report) State() task.State {
	return r.Results.Resolve(r.Root)
}

// OK reports whether the operation succeeded or was skipped.
func (r Report) OK() bool {
	return r.State().OK()
}

// Reasons returns every failure or skip reason recorded in the tree.
func (r Report) Reasons() []string {
	return r.Results.Reasons(r.Root)
}

// Err returns nil when the operation is OK, otherwise an error carrying
// every recorded reason.
func (r Report) Err() error {
	if r.OK() {
		return nil
	}
	reasons := r.Reasons()
	if len(reasons) == 0 {
		return fmt.Errorf("operation finished %s", r.State())
	}
	return errors.New(strings.Join(reasons, "; "))
}

func (r Report) add(name string) task.NodeID {
	return r.Results.Add(r.Root, name)
}

func (r Report) record(id task.NodeID, o task.Outcome) {
	_ = r.Results.Record(id, o)
}

// finish records the root's own outcome once every child is recorded.
func (r Report) finish(o task.Outcome) {
	_ = r.Results.Record(r.Root, o)
}

package app

import (
	"fmt"
	"io"
	"strings"

	"arc-go/internal/arc"
	"arc-go/internal/task"
)

// WriteReport prints a report's result tree, one node per line, indented by
// depth, with each node's resolved state and reasons.
func WriteReport(w io.Writer, r arc.Report) error {
	if r.Results == nil {
		return nil
	}
	var walk func(id task.NodeID, depth int) error
	walk = func(id task.NodeID, depth int) error {
		n, ok := r.Results.Node(id)
		if !ok {
			return nil
		}
		line := fmt.Sprintf("%s%-8s %s", strings.Repeat("  ", depth), r.Results.Resolve(id), n.Name)
		if len(n.Reasons) > 0 {
			line += ": " + strings.Join(n.Reasons, "; ")
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
		for _, c := range n.Children {
			if err := walk(c, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(r.Root, 0)
}

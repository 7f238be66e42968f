package task

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidTransition is returned when a state change is not allowed by the
// transition table.
var ErrInvalidTransition = errors.New("invalid state transition")

// NodeID indexes a node in a Results arena.
type NodeID int

// NoParent marks a root node.
const NoParent NodeID = -1

// Node is one entry in the result tree.
type Node struct {
	ID       NodeID
	Parent   NodeID
	Name     string
	State    State
	Reasons  []string
	Children []NodeID
}

// Results is an arena of result nodes linked parent to children. Nodes are
// only ever appended, so a NodeID stays valid for the lifetime of the arena.
// Results is safe for concurrent use.
type Results struct {
	mu    sync.Mutex
	nodes []Node
}

// NewResults creates an empty result tree.
func NewResults() *Results {
	return &Results{}
}

// Add appends a pending node under parent and returns its id. A parent of
// NoParent creates a root.
func (r *Results) Add(parent NodeID, name string) NodeID {
	r.mu.Lock()
	defer r.mu.Unlock()

	if parent != NoParent && !r.valid(parent) {
		parent = NoParent
	}

	id := NodeID(len(r.nodes))
	r.nodes = append(r.nodes, Node{ID: id, Parent: parent, Name: name, State: Pending})
	if parent != NoParent {
		r.nodes[parent].Children = append(r.nodes[parent].Children, id)
	}
	return id
}

// Start moves a pending node to running.
func (r *Results) Start(id NodeID) error {
	return r.transition(id, Running, "")
}

// Succeed moves a running node to success.
func (r *Results) Succeed(id NodeID) error {
	return r.transition(id, Success, "")
}

// Fail marks a node failed with a reason.
func (r *Results) Fail(id NodeID, reason string) error {
	return r.transition(id, Failed, reason)
}

// Skip marks a node skipped with a reason.
func (r *Results) Skip(id NodeID, reason string) error {
	return r.transition(id, Skipped, reason)
}

// Abort marks a node aborted with a reason.
func (r *Results) Abort(id NodeID, reason string) error {
	return r.transition(id, Aborted, reason)
}

// Record applies a unit outcome to a node, starting it first if it is still
// pending and the outcome requires passing through running.
func (r *Results) Record(id NodeID, o Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.valid(id) {
		return fmt.Errorf("unknown result node %d", id)
	}
	if r.nodes[id].State == Pending && !CanTransition(Pending, o.State) {
		if err := r.set(id, Running, ""); err != nil {
			return err
		}
	}
	return r.set(id, o.State, o.Reason)
}

// Node returns a copy of the node with the given id.
func (r *Results) Node(id NodeID) (Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.valid(id) {
		return Node{}, false
	}
	n := r.nodes[id]
	n.Reasons = append([]string(nil), n.Reasons...)
	n.Children = append([]NodeID(nil), n.Children...)
	return n, true
}

// Resolve computes the effective state of a node. A leaf reports its own
// state. A composite folds its children's resolved states together with its
// own state, when its own state was set explicitly.
func (r *Results) Resolve(id NodeID) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolve(id)
}

// Reasons collects the non-empty reasons recorded on a node and on all of its
// descendants, in depth-first order.
func (r *Results) Reasons(id NodeID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	var walk func(NodeID)
	walk = func(n NodeID) {
		out = append(out, r.nodes[n].Reasons...)
		for _, c := range r.nodes[n].Children {
			walk(c)
		}
	}
	if r.valid(id) {
		walk(id)
	}
	return out
}

// Len returns the number of nodes in the arena.
func (r *Results) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.nodes)
}

func (r *Results) resolve(id NodeID) State {
	if !r.valid(id) {
		return Pending
	}
	n := r.nodes[id]
	if len(n.Children) == 0 {
		return n.State
	}

	states := make([]State, 0, len(n.Children)+1)
	for _, c := range n.Children {
		states = append(states, r.resolve(c))
	}
	if n.State.Terminal() {
		states = append(states, n.State)
	}
	return Fold(states...)
}

func (r *Results) transition(id NodeID, to State, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.valid(id) {
		return fmt.Errorf("unknown result node %d", id)
	}
	return r.set(id, to, reason)
}

func (r *Results) set(id NodeID, to State, reason string) error {
	from := r.nodes[id].State
	if !CanTransition(from, to) {
		return fmt.Errorf("node %d (%s): %s -> %s: %w", id, r.nodes[id].Name, from, to, ErrInvalidTransition)
	}
	r.nodes[id].State = to
	if reason != "" {
		r.nodes[id].Reasons = append(r.nodes[id].Reasons, reason)
	}
	return nil
}

func (r *Results) valid(id NodeID) bool {
	return id >= 0 && int(id) < len(r.nodes)
}

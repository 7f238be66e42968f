package task

import (
	"errors"
	"reflect"
	"sync"
	"testing"
)

func TestResults_ResolveFoldsChildren(t *testing.T) {
	r := NewResults()
	root := r.Add(NoParent, "remove")
	g2 := r.Add(root, "generation 2")
	g1 := r.Add(root, "generation 1")

	if got := r.Resolve(root); got != Pending {
		t.Fatalf("Resolve(root) = %s, want PENDING", got)
	}

	if err := r.Record(g2, Succeeded()); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if got := r.Resolve(root); got != Running {
		t.Errorf("Resolve(root) with one pending child = %s, want RUNNING", got)
	}

	if err := r.Record(g1, Failure("block abc missing")); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if got := r.Resolve(root); got != Failed {
		t.Errorf("Resolve(root) = %s, want FAILED", got)
	}

	want := []string{"block abc missing"}
	if got := r.Reasons(root); !reflect.DeepEqual(got, want) {
		t.Errorf("Reasons(root) = %v, want %v", got, want)
	}
}

func TestResults_OwnStateCountsForComposite(t *testing.T) {
	r := NewResults()
	root := r.Add(NoParent, "backup")
	disk := r.Add(root, "disk 0")

	if err := r.Record(disk, Succeeded()); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := r.Fail(root, "catalog write failed"); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}

	if got := r.Resolve(root); got != Failed {
		t.Errorf("Resolve(root) = %s, want FAILED", got)
	}
}

func TestResults_InvalidTransition(t *testing.T) {
	r := NewResults()
	id := r.Add(NoParent, "unit")

	if err := r.Succeed(id); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Succeed() on pending node error = %v, want ErrInvalidTransition", err)
	}
	if err := r.Start(id); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := r.Succeed(id); err != nil {
		t.Fatalf("Succeed() error = %v", err)
	}
	if err := r.Fail(id, "late"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Fail() on terminal node error = %v, want ErrInvalidTransition", err)
	}
}

func TestResults_Node(t *testing.T) {
	r := NewResults()
	root := r.Add(NoParent, "check")
	child := r.Add(root, "generation 0")

	n, ok := r.Node(root)
	if !ok {
		t.Fatal("Node(root) not found")
	}
	if !reflect.DeepEqual(n.Children, []NodeID{child}) {
		t.Errorf("Node(root).Children = %v, want [%d]", n.Children, child)
	}

	if _, ok := r.Node(99); ok {
		t.Error("Node(99) found, want missing")
	}

	if orphan := r.Add(42, "orphan"); r.mustNode(t, orphan).Parent != NoParent {
		t.Error("Add() with unknown parent did not create a root")
	}
}

func TestResults_ConcurrentRecord(t *testing.T) {
	r := NewResults()
	root := r.Add(NoParent, "blocks")

	ids := make([]NodeID, 50)
	for i := range ids {
		ids[i] = r.Add(root, "block")
	}

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id NodeID) {
			defer wg.Done()
			if i%10 == 0 {
				r.Record(id, Failure("failed"))
				return
			}
			r.Record(id, Succeeded())
		}(i, id)
	}
	wg.Wait()

	if got := r.Resolve(root); got != Failed {
		t.Errorf("Resolve(root) = %s, want FAILED", got)
	}
	if got := len(r.Reasons(root)); got != 5 {
		t.Errorf("len(Reasons(root)) = %d, want 5", got)
	}
}

func (r *Results) mustNode(t *testing.T, id NodeID) Node {
	t.Helper()
	n, ok := r.Node(id)
	if !ok {
		t.Fatalf("Node(%d) not found", id)
	}
	return n
}

package arc_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"arc-go/internal/arc"
	"arc-go/internal/testutil"
)

func childNames(r arc.Report) []string {
	root, _ := r.Results.Node(r.Root)
	var names []string
	for _, id := range root.Children {
		n, _ := r.Results.Node(id)
		names = append(names, n.Name)
	}
	return names
}

func entityKeys(t *testing.T, a *testutil.Archive, e arc.Entity) []string {
	t.Helper()
	keys, err := a.Store.List(context.Background(), arc.EntityFolder(e.UUID))
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	return keys
}

func TestArchiveManager_RemoveGenerations(t *testing.T) {
	ctx := context.Background()

	t.Run("removes dependents most recent first", func(t *testing.T) {
		a := testutil.NewTestArchive(t)
		vm := testutil.VM("web")
		seedChain(t, a, vm, 2)
		m := a.Open(t, vm, arc.WriteMode)

		report, err := m.RemoveGenerations(ctx, []int{0}, false)
		if err != nil {
			t.Fatalf("RemoveGenerations() error = %v", err)
		}
		if !report.OK() {
			t.Fatalf("RemoveGenerations() not OK: %v", report.Err())
		}
		want := []string{"generation 2", "generation 1", "generation 0"}
		if got := childNames(report); !slices.Equal(got, want) {
			t.Errorf("removal order = %v, want %v", got, want)
		}
		if got := m.GenerationIDList(); len(got) != 0 {
			t.Errorf("GenerationIDList() = %v, want empty", got)
		}
		if got := a.Blocks(t); len(got) != 0 {
			t.Errorf("payloads left = %v", got)
		}
		if got := entityKeys(t, a, vm); !slices.Equal(got, []string{arc.CatalogKey(vm.UUID)}) {
			t.Errorf("entity keys = %v, want only the catalog", got)
		}
	})

	t.Run("removing a leaf keeps its ancestors intact", func(t *testing.T) {
		a := testutil.NewTestArchive(t)
		vm := testutil.VM("web")
		seedChain(t, a, vm, 2)
		m := a.Open(t, vm, arc.WriteMode)

		if _, err := m.RemoveGenerations(ctx, []int{arc.LastGeneration}, false); err != nil {
			t.Fatalf("RemoveGenerations(LAST) error = %v", err)
		}
		if got := m.GenerationIDList(); !slices.Equal(got, []int{0, 1}) {
			t.Errorf("GenerationIDList() = %v, want [0 1]", got)
		}
		if got := m.LatestSucceededGenerationID(); got != 1 {
			t.Errorf("LatestSucceededGenerationID() = %d, want 1", got)
		}
		report, err := m.CheckGenerations(ctx, []int{arc.AllGenerations})
		if err != nil || !report.OK() {
			t.Errorf("CheckGenerations() after removal = %v, %v", report.Err(), err)
		}
	})

	t.Run("dry run changes nothing", func(t *testing.T) {
		a := testutil.NewTestArchive(t)
		vm := testutil.VM("web")
		seedChain(t, a, vm, 1)
		before := a.Store.Len()
		m := a.Open(t, vm, arc.WriteMode)

		report, err := m.RemoveGenerations(ctx, []int{arc.AllGenerations}, true)
		if err != nil {
			t.Fatalf("RemoveGenerations() error = %v", err)
		}
		if !report.OK() {
			t.Errorf("dry run not OK: %v", report.Err())
		}
		if got := a.Store.Len(); got != before {
			t.Errorf("store has %d objects after dry run, want %d", got, before)
		}
		if got := m.GenerationIDList(); !slices.Equal(got, []int{0, 1}) {
			t.Errorf("GenerationIDList() = %v, want [0 1]", got)
		}
	})

	t.Run("missing profile is skipped and dropped from the catalog", func(t *testing.T) {
		a := testutil.NewTestArchive(t)
		vm := testutil.VM("web")
		seedGenerations(t, a, vm, true, true)
		if err := a.Store.Delete(ctx, arc.ProfileKey(vm.UUID, 0)); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		m := a.Open(t, vm, arc.WriteMode)

		report, err := m.RemoveGenerations(ctx, []int{0}, false)
		if err != nil {
			t.Fatalf("RemoveGenerations() error = %v", err)
		}
		if !report.OK() {
			t.Errorf("RemoveGenerations() not OK: %v", report.Err())
		}
		if got := m.GenerationIDList(); !slices.Equal(got, []int{1}) {
			t.Errorf("GenerationIDList() = %v, want [1]", got)
		}

		reopened := a.Open(t, vm, arc.ReadMode)
		if got := reopened.GenerationIDList(); !slices.Equal(got, []int{1}) {
			t.Errorf("persisted GenerationIDList() = %v, want [1]", got)
		}
	})

	t.Run("unknown generation is reported", func(t *testing.T) {
		a := testutil.NewTestArchive(t)
		vm := testutil.VM("web")
		seedGenerations(t, a, vm, true)
		m := a.Open(t, vm, arc.WriteMode)

		report, err := m.RemoveGenerations(ctx, []int{7}, false)
		if err != nil {
			t.Fatalf("RemoveGenerations() error = %v", err)
		}
		if report.OK() {
			t.Error("RemoveGenerations([7]) OK")
		}
		if got := m.GenerationIDList(); !slices.Equal(got, []int{0}) {
			t.Errorf("GenerationIDList() = %v, want [0]", got)
		}
	})

	t.Run("block failure still drops the generation", func(t *testing.T) {
		a := testutil.NewTestArchive(t)
		vm := testutil.VM("web")
		seedGenerations(t, a, vm, true)
		a.Store.FailOn(testutil.OpDelete, "/data")
		m := a.Open(t, vm, arc.WriteMode)

		report, err := m.RemoveGenerations(ctx, []int{0}, false)
		if err != nil {
			t.Fatalf("RemoveGenerations() error = %v", err)
		}
		if report.OK() {
			t.Error("RemoveGenerations() OK although a block could not be deleted")
		}
		if got := m.GenerationIDList(); len(got) != 0 {
			t.Errorf("GenerationIDList() = %v, want empty", got)
		}
	})

	t.Run("read-only manager", func(t *testing.T) {
		a := testutil.NewTestArchive(t)
		vm := testutil.VM("web")
		seedGenerations(t, a, vm, true)
		m := a.Open(t, vm, arc.ReadMode)
		if _, err := m.RemoveGenerations(ctx, []int{0}, false); !errors.Is(err, arc.ErrReadOnly) {
			t.Errorf("RemoveGenerations() error = %v, want ErrReadOnly", err)
		}
	})
}

func TestArchiveManager_RemoveProfile(t *testing.T) {
	ctx := context.Background()

	t.Run("removes the archive", func(t *testing.T) {
		a := testutil.NewTestArchive(t)
		web, db := testutil.VM("web"), testutil.VM("db")
		seedChain(t, a, web, 1)
		seedGenerations(t, a, db, true)
		m := a.Open(t, web, arc.WriteMode)

		if _, err := m.RemoveProfile(ctx, false); err != nil {
			t.Fatalf("RemoveProfile() error = %v", err)
		}
		m.Close()

		if got := entityKeys(t, a, web); len(got) != 0 {
			t.Errorf("entity keys = %v, want none", got)
		}
		entities, err := a.Service.Entities(ctx)
		if err != nil {
			t.Fatalf("Entities() error = %v", err)
		}
		if len(entities) != 1 || entities[0].UUID != db.UUID {
			t.Errorf("Entities() = %v, want only db", entities)
		}
		if got := a.Blocks(t); len(got) != 1 {
			t.Errorf("payloads left = %v, want only db's block", got)
		}
		if _, err := a.Service.Open(ctx, web, arc.ReadMode); !errors.Is(err, arc.ErrNoArchive) {
			t.Errorf("Open(READ) after removal error = %v, want ErrNoArchive", err)
		}
	})

	t.Run("dry run changes nothing", func(t *testing.T) {
		a := testutil.NewTestArchive(t)
		vm := testutil.VM("web")
		seedChain(t, a, vm, 1)
		before := a.Store.Len()
		m := a.Open(t, vm, arc.WriteMode)

		if _, err := m.RemoveProfile(ctx, true); err != nil {
			t.Fatalf("RemoveProfile() error = %v", err)
		}
		if got := a.Store.Len(); got != before {
			t.Errorf("store has %d objects after dry run, want %d", got, before)
		}
		entities, _ := a.Service.Entities(ctx)
		if len(entities) != 1 {
			t.Errorf("Entities() = %v, want web", entities)
		}
	})

	t.Run("failure keeps the archive registered", func(t *testing.T) {
		a := testutil.NewTestArchive(t)
		vm := testutil.VM("web")
		seedGenerations(t, a, vm, true)
		a.Store.FailOn(testutil.OpDelete, "/data")
		m := a.Open(t, vm, arc.WriteMode)

		if _, err := m.RemoveProfile(ctx, false); err == nil {
			t.Fatal("RemoveProfile() error = nil")
		}
		entities, _ := a.Service.Entities(ctx)
		if len(entities) != 1 {
			t.Errorf("Entities() = %v, want web still registered", entities)
		}
	})
}

package arc_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"arc-go/internal/arc"
	"arc-go/internal/testutil"
)

var errRead = errors.New("read error")

// seedGenerations takes one full single-disk backup per entry of outcomes;
// a false entry makes the disk read fail so the generation is not succeeded.
func seedGenerations(t *testing.T, a *testutil.Archive, entity arc.Entity, outcomes ...bool) {
	t.Helper()
	for i, ok := range outcomes {
		src := testutil.NewStubDiskSource("disk-0", testutil.BlockSize).
			WriteBlock(0, []byte(fmt.Sprintf("generation %d", i)))
		if !ok {
			src.FailReadAt(0, errRead)
		}
		req := testutil.ChangeTracked()
		req.Mode = arc.Full
		res := a.Backup(t, entity, req, src)
		if res.Succeeded != ok {
			t.Fatalf("backup %d succeeded = %v, want %v", i, res.Succeeded, ok)
		}
	}
}

func TestArchiveManager_ResolveGenerations(t *testing.T) {
	a := testutil.NewTestArchive(t)
	vm := testutil.VM("web")
	seedGenerations(t, a, vm, true, false, true)
	m := a.Open(t, vm, arc.ReadMode)

	tests := []struct {
		name    string
		request []int
		want    []int
		wantErr error
	}{
		{"empty means latest succeeded", nil, []int{2}, nil},
		{"all", []int{arc.AllGenerations}, []int{0, 1, 2}, nil},
		{"succeeded", []int{arc.SucceededGenerations}, []int{2}, nil},
		{"failed", []int{arc.FailedGenerations}, []int{1}, nil},
		{"last", []int{arc.LastGeneration}, []int{2}, nil},
		{"literal ids sorted and deduplicated", []int{2, 0, 2}, []int{0, 2}, nil},
		{"literal ids need not exist", []int{5}, []int{5}, nil},
		{"selector mixed with id", []int{arc.AllGenerations, 1}, nil, arc.ErrMixedSelector},
		{"two selectors", []int{arc.LastGeneration, arc.FailedGenerations}, nil, arc.ErrMixedSelector},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.ResolveGenerations(tt.request)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ResolveGenerations(%v) error = %v, want %v", tt.request, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveGenerations(%v) error = %v", tt.request, err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("ResolveGenerations(%v) = %v, want %v", tt.request, got, tt.want)
			}
		})
	}

	t.Run("invalid negative id", func(t *testing.T) {
		if _, err := m.ResolveGenerations([]int{-7}); err == nil {
			t.Error("ResolveGenerations([-7]) error = nil, want error")
		}
	})
}

func TestArchiveManager_ResolveGenerations_NoMatch(t *testing.T) {
	a := testutil.NewTestArchive(t)

	t.Run("empty catalog", func(t *testing.T) {
		m := a.Open(t, testutil.VM("empty"), arc.WriteMode)
		_, err := m.ResolveGenerations(nil)
		if !errors.Is(err, arc.ErrNoGeneration) {
			t.Errorf("ResolveGenerations(nil) error = %v, want ErrNoGeneration", err)
		}
	})

	t.Run("no failed generation", func(t *testing.T) {
		vm := testutil.VM("healthy")
		seedGenerations(t, a, vm, true)
		m := a.Open(t, vm, arc.ReadMode)
		_, err := m.ResolveGenerations([]int{arc.FailedGenerations})
		if !errors.Is(err, arc.ErrNoGeneration) {
			t.Errorf("ResolveGenerations(FAILED) error = %v, want ErrNoGeneration", err)
		}
	})
}

func TestArchiveManager_ResolveGeneration(t *testing.T) {
	a := testutil.NewTestArchive(t)
	vm := testutil.VM("web")
	seedGenerations(t, a, vm, true, true)
	m := a.Open(t, vm, arc.ReadMode)

	if id, err := m.ResolveGeneration(arc.LastGeneration); err != nil || id != 1 {
		t.Errorf("ResolveGeneration(LAST) = %d, %v, want 1", id, err)
	}
	if _, err := m.ResolveGeneration(arc.AllGenerations); !errors.Is(err, arc.ErrMultipleGenerations) {
		t.Errorf("ResolveGeneration(ALL) error = %v, want ErrMultipleGenerations", err)
	}
}

func TestArchiveManager_LoadProfileGeneration(t *testing.T) {
	a := testutil.NewTestArchive(t)
	vm := testutil.VM("web")
	seedGenerations(t, a, vm, true, false)
	m := a.Open(t, vm, arc.ReadMode)
	ctx := context.Background()

	p, err := m.LoadProfileGeneration(ctx, arc.SucceededGenerations)
	if err != nil {
		t.Fatalf("LoadProfileGeneration(SUCCEEDED) error = %v", err)
	}
	if p == nil || p.GenerationID != 0 || !p.Succeeded {
		t.Errorf("LoadProfileGeneration(SUCCEEDED) = %+v, want succeeded generation 0", p)
	}

	p, err = m.LoadProfileGeneration(ctx, 7)
	if err != nil || p != nil {
		t.Errorf("LoadProfileGeneration(7) = %v, %v, want nil, nil", p, err)
	}
}

func TestArchiveManager_LoadProfileGeneration_NoGeneration(t *testing.T) {
	a := testutil.NewTestArchive(t)
	vm := testutil.VM("web")
	seedGenerations(t, a, vm, false)
	m := a.Open(t, vm, arc.ReadMode)

	latest := m.LatestSucceededGenerationID()
	if latest != arc.NoGeneration {
		t.Fatalf("LatestSucceededGenerationID() = %d, want %d", latest, arc.NoGeneration)
	}
	for _, sel := range []int{arc.AllGenerations, arc.SucceededGenerations, arc.FailedGenerations, arc.LastGeneration} {
		if latest == sel {
			t.Errorf("NoGeneration = %d collides with selector %d", latest, sel)
		}
	}

	p, err := m.LoadProfileGeneration(context.Background(), latest)
	if err != nil || p != nil {
		t.Errorf("LoadProfileGeneration(NoGeneration) = %v, %v, want nil, nil", p, err)
	}
}

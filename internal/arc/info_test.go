package arc_test

import (
	"testing"
	"time"

	"arc-go/internal/arc"
	"arc-go/internal/testutil"
)

func TestSatisfiesTimeFilter(t *testing.T) {
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	info := func(age time.Duration) arc.EntityInfo {
		return arc.EntityInfo{
			LatestSucceededID: 3,
			Generations: []arc.Generation{
				{ID: 3, Timestamp: now.Add(-age), Succeeded: true},
			},
		}
	}
	never := arc.EntityInfo{LatestSucceededID: arc.NoGeneration}

	tests := []struct {
		name   string
		info   arc.EntityInfo
		filter time.Duration
		want   bool
	}{
		{name: "zero keeps everything", info: never, filter: 0, want: true},
		{name: "recent within window", info: info(time.Hour), filter: 24 * time.Hour, want: true},
		{name: "old outside window", info: info(48 * time.Hour), filter: 24 * time.Hour, want: false},
		{name: "old matches negative filter", info: info(48 * time.Hour), filter: -24 * time.Hour, want: true},
		{name: "recent fails negative filter", info: info(time.Hour), filter: -24 * time.Hour, want: false},
		{name: "never succeeded fails positive filter", info: never, filter: time.Hour, want: false},
		{name: "never succeeded fails negative filter", info: never, filter: -time.Hour, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.SatisfiesTimeFilter(now, tt.filter); got != tt.want {
				t.Errorf("SatisfiesTimeFilter(%v) = %v, want %v", tt.filter, got, tt.want)
			}
		})
	}
}

func TestArchiveManager_Info(t *testing.T) {
	a := testutil.NewTestArchive(t)
	vm := testutil.VM("web")
	seedGenerations(t, a, vm, true, false)
	m := a.Open(t, vm, arc.ReadMode)

	info := m.Info()
	if info.Entity.UUID != vm.UUID {
		t.Errorf("Entity = %v, want %v", info.Entity, vm)
	}
	if len(info.Generations) != 2 || info.LatestID != 1 || info.LatestSucceededID != 0 {
		t.Errorf("Info() = %d generations, latest %d, latest succeeded %d; want 2, 1, 0",
			len(info.Generations), info.LatestID, info.LatestSucceededID)
	}
	g, ok := info.LatestSucceeded()
	if !ok || g.ID != 0 {
		t.Errorf("LatestSucceeded() = %v, %v; want generation 0", g, ok)
	}
	if !info.SatisfiesTimeFilter(a.Clock.Now().Add(time.Minute), time.Hour) {
		t.Error("SatisfiesTimeFilter() = false for a backup taken a minute ago")
	}
}

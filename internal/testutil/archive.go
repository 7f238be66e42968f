package testutil

import (
	"context"
	"strings"
	"testing"

	"arc-go/internal/arc"
	"arc-go/internal/codec"
	"arc-go/internal/metrics"
	"arc-go/internal/task"
)

// BlockSize is the block size of stub disks in archive tests.
const BlockSize = 16

// Archive bundles an arc.Service with the collaborators tests inspect.
type Archive struct {
	Service *arc.Service
	Store   *FaultStore
	Clock   *StubClock
	Codec   *codec.Pipeline
	Metrics *metrics.Collector
	Orch    *task.Orchestrator
}

// NewTestArchive creates a service over a FaultStore with compression and
// the test cipher enabled and unlocked.
func NewTestArchive(t *testing.T) *Archive {
	t.Helper()
	return NewTestArchiveWithPools(t, task.DefaultSizes())
}

// NewTestArchiveWithPools is NewTestArchive with explicit pool sizes.
func NewTestArchiveWithPools(t *testing.T, sizes task.Sizes) *Archive {
	t.Helper()

	pipeline, err := codec.NewPipeline(true, codec.NewTestCipher())
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	if err := pipeline.Unlock("test"); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	t.Cleanup(func() { pipeline.Close() })

	a := &Archive{
		Store:   NewFaultStore(),
		Clock:   FixedClock(),
		Codec:   pipeline,
		Metrics: metrics.NewCollector(),
		Orch:    task.NewOrchestrator(sizes),
	}
	a.Service = arc.NewService(a.Store, a.Codec, a.Orch, arc.NewNopLogger(), a.Clock, a.Metrics)
	return a
}

// VM returns a virtual machine entity named name.
func VM(name string) arc.Entity {
	return arc.Entity{UUID: arc.EntityUUID(name), Name: name, Type: arc.VirtualMachine}
}

// Open opens entity in mode and closes it when the test completes.
func (a *Archive) Open(t *testing.T, entity arc.Entity, mode arc.OpenMode) *arc.ArchiveManager {
	t.Helper()
	m, err := a.Service.Open(context.Background(), entity, mode)
	if err != nil {
		t.Fatalf("Open(%s) error = %v", mode, err)
	}
	t.Cleanup(m.Close)
	return m
}

// Backup opens entity for writing, runs one backup and closes it again.
func (a *Archive) Backup(t *testing.T, entity arc.Entity, req arc.BackupRequest, sources ...arc.DiskSource) *arc.BackupResult {
	t.Helper()
	m, err := a.Service.Open(context.Background(), entity, arc.WriteMode)
	if err != nil {
		t.Fatalf("Open(WRITE) error = %v", err)
	}
	defer m.Close()

	res, err := m.Backup(context.Background(), req, sources)
	if err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	return res
}

// BlockEvents returns the arc_block_events_total counter for event.
func (a *Archive) BlockEvents(t *testing.T, event string) float64 {
	t.Helper()
	samples, err := a.Metrics.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	for _, s := range samples {
		if s.Name == "arc_block_events_total" && s.Labels == "event="+event {
			return s.Value
		}
	}
	return 0
}

// Blocks returns the content keys of every stored block payload.
func (a *Archive) Blocks(t *testing.T) []string {
	t.Helper()
	keys, err := a.Store.List(context.Background(), arc.DisksFolder+"/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	var out []string
	for _, k := range keys {
		if rest, ok := strings.CutSuffix(k, "/data"); ok {
			out = append(out, strings.TrimPrefix(rest, arc.DisksFolder+"/"))
		}
	}
	return out
}

// ChangeTracked is a backup request with healthy change tracking.
func ChangeTracked() arc.BackupRequest {
	return arc.BackupRequest{ChangeTracking: true, ChangeTrackingHealthy: true}
}

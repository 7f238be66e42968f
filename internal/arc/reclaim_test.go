package arc_test

import (
	"context"
	"slices"
	"sync"
	"testing"

	"github.com/im7mortal/kmutex"

	"arc-go/internal/arc"
	"arc-go/internal/metrics"
	"arc-go/internal/task"
	"arc-go/internal/testutil"
)

func newBlockPair(a *testutil.Archive) (*arc.BlockWriter, *arc.BlockReclaimer) {
	locks := kmutex.New()
	w := arc.NewBlockWriter(a.Store, a.Codec, locks, arc.NewNopLogger(), a.Metrics)
	r := arc.NewBlockReclaimer(a.Store, locks, a.Orch, arc.NewNopLogger(), a.Metrics)
	return w, r
}

func TestBlockReclaimer_ReleaseBlock(t *testing.T) {
	ctx := context.Background()

	t.Run("last reference deletes ledger and payload", func(t *testing.T) {
		a := testutil.NewTestArchive(t)
		w, r := newBlockPair(a)
		blk, _, err := w.StoreBlock(ctx, "e", 0, []byte("data"))
		if err != nil {
			t.Fatalf("StoreBlock() error = %v", err)
		}
		if _, _, err := w.StoreBlock(ctx, "e", 1, []byte("data")); err != nil {
			t.Fatalf("StoreBlock() error = %v", err)
		}

		if o := r.ReleaseBlock(ctx, "e", 0, blk.ContentKey); o.State != task.Success {
			t.Fatalf("ReleaseBlock(0) = %+v", o)
		}
		if ok, _ := a.Store.Exists(ctx, arc.BlockDataKey(blk.ContentKey)); !ok {
			t.Fatal("payload deleted while still referenced")
		}

		if o := r.ReleaseBlock(ctx, "e", 1, blk.ContentKey); o.State != task.Success {
			t.Fatalf("ReleaseBlock(1) = %+v", o)
		}
		for _, key := range []string{arc.BlockDataKey(blk.ContentKey), arc.BlockLedgerKey(blk.ContentKey)} {
			if ok, _ := a.Store.Exists(ctx, key); ok {
				t.Errorf("%s still exists", key)
			}
		}
		if got := a.BlockEvents(t, metrics.EventReclaimed); got != 1 {
			t.Errorf("reclaimed events = %v, want 1", got)
		}
	})

	t.Run("missing ledger is skipped", func(t *testing.T) {
		a := testutil.NewTestArchive(t)
		_, r := newBlockPair(a)
		if o := r.ReleaseBlock(ctx, "e", 0, arc.ContentKey([]byte("gone"))); o.State != task.Skipped {
			t.Errorf("ReleaseBlock() = %+v, want SKIPPED", o)
		}
	})

	t.Run("unreadable ledger fails", func(t *testing.T) {
		a := testutil.NewTestArchive(t)
		w, r := newBlockPair(a)
		blk, _, _ := w.StoreBlock(ctx, "e", 0, []byte("data"))
		a.Store.FailOn(testutil.OpGet, arc.BlockLedgerKey(blk.ContentKey))
		if o := r.ReleaseBlock(ctx, "e", 0, blk.ContentKey); o.State != task.Failed {
			t.Errorf("ReleaseBlock() = %+v, want FAILED", o)
		}
	})

	t.Run("concurrent releases delete the payload exactly once", func(t *testing.T) {
		a := testutil.NewTestArchive(t)
		w, r := newBlockPair(a)
		const refs = 32
		var key string
		for gen := range refs {
			blk, _, err := w.StoreBlock(ctx, "e", gen, []byte("shared"))
			if err != nil {
				t.Fatalf("StoreBlock(%d) error = %v", gen, err)
			}
			key = blk.ContentKey
		}

		outcomes := make([]task.Outcome, refs)
		var wg sync.WaitGroup
		for gen := range refs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				outcomes[gen] = r.ReleaseBlock(ctx, "e", gen, key)
			}()
		}
		wg.Wait()

		for gen, o := range outcomes {
			if o.State != task.Success {
				t.Errorf("ReleaseBlock(%d) = %+v", gen, o)
			}
		}
		if got := a.Store.Deletes(arc.BlockDataKey(key)); got != 1 {
			t.Errorf("payload deleted %d times, want 1", got)
		}
		if got := a.Blocks(t); len(got) != 0 {
			t.Errorf("payloads left = %v", got)
		}
	})

	t.Run("concurrent store and release keep the block", func(t *testing.T) {
		a := testutil.NewTestArchive(t)
		w, r := newBlockPair(a)
		blk, _, _ := w.StoreBlock(ctx, "e", 0, []byte("busy"))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.ReleaseBlock(ctx, "e", 0, blk.ContentKey)
		}()
		go func() {
			defer wg.Done()
			if _, _, err := w.StoreBlock(ctx, "e", 1, []byte("busy")); err != nil {
				t.Errorf("StoreBlock() error = %v", err)
			}
		}()
		wg.Wait()

		if ok, _ := a.Store.Exists(ctx, arc.BlockDataKey(blk.ContentKey)); !ok {
			t.Fatal("payload missing although generation 1 references it")
		}
		if l := ledgerOf(t, a, "busy"); !l.HasReference("e", 1) || l.HasReference("e", 0) {
			t.Errorf("ledger = %+v, want only e/1", l.DedupList)
		}
	})
}

func TestBlockReclaimer_ReclaimGeneration(t *testing.T) {
	ctx := context.Background()
	a := testutil.NewTestArchive(t)
	vm := testutil.VM("web")
	a.Backup(t, vm, testutil.ChangeTracked(),
		testutil.NewStubDiskSource("disk-0", testutil.BlockSize).
			WriteBlock(0, []byte("shared")).
			WriteBlock(1, []byte("own")).
			WriteBlock(2, []byte("also own")))
	req := testutil.ChangeTracked()
	req.Mode = arc.Full
	a.Backup(t, vm, req, testutil.NewStubDiskSource("disk-0", testutil.BlockSize).WriteBlock(0, []byte("shared")))

	m := a.Open(t, vm, arc.ReadMode)
	p, err := m.LoadProfileGeneration(ctx, 0)
	if err != nil || p == nil {
		t.Fatalf("LoadProfileGeneration(0) = %v, %v", p, err)
	}

	shared := arc.ContentKey([]byte("shared"))
	a.Store.FailOn(testutil.OpPut, arc.BlockLedgerKey(shared))
	_, r := newBlockPair(a)
	agg := r.ReclaimGeneration(ctx, p)

	if agg.OK() {
		t.Fatal("ReclaimGeneration() OK with a failed ledger write")
	}
	if got := agg.Count(task.Failed); got != 1 {
		t.Errorf("failed = %d, want 1", got)
	}
	if got := agg.Count(task.Success); got != 2 {
		t.Errorf("succeeded = %d, want 2 (every other block still processed)", got)
	}
	if got := a.Blocks(t); !slices.Equal(got, []string{shared}) {
		t.Errorf("payloads left = %v, want only the shared block", got)
	}
}

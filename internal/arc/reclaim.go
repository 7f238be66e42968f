package arc

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/im7mortal/kmutex"

	"arc-go/internal/task"
)

// BlockReclaimer removes a generation's references from the blocks it uses
// and deletes blocks nobody references any more. Every ledger
// read-modify-write happens under the block's key lock.
type BlockReclaimer struct {
	store   ContentStore
	locks   *kmutex.Kmutex
	orch    *task.Orchestrator
	logger  Logger
	metrics Metrics
}

// NewBlockReclaimer creates a BlockReclaimer. locks must be the same keyed
// mutex the BlockWriter uses.
func NewBlockReclaimer(store ContentStore, locks *kmutex.Kmutex, orch *task.Orchestrator, logger Logger, metrics Metrics) *BlockReclaimer {
	return &BlockReclaimer{
		store:   store,
		locks:   locks,
		orch:    orch,
		logger:  logger,
		metrics: metrics,
	}
}

type releaseResult int

const (
	releaseFailed releaseResult = iota
	releaseSkipped
	releaseUpdated
	releaseRemoved
)

// ReleaseBlock drops the reference of (entityUUID, genID) from the block's
// ledger. When the ledger becomes empty the ledger and the payload are both
// deleted. A block whose ledger is already gone is skipped.
func (r *BlockReclaimer) ReleaseBlock(ctx context.Context, entityUUID string, genID int, key string) task.Outcome {
	o, _ := r.release(ctx, entityUUID, genID, key)
	return o
}

func (r *BlockReclaimer) release(ctx context.Context, entityUUID string, genID int, key string) (task.Outcome, releaseResult) {
	// A ledger rewrite and the deletes that follow it are not interrupted.
	ctx = context.WithoutCancel(ctx)
	r.locks.Lock(key)
	defer r.locks.Unlock(key)

	data, err := r.store.Get(ctx, BlockLedgerKey(key))
	if errors.Is(err, ErrNotFound) {
		r.logger.Warn("block already removed", "key", key, "entity", entityUUID, "generation", genID)
		r.metrics.BlockMissing()
		return task.Skip(fmt.Sprintf("block %s already removed", key)), releaseSkipped
	}
	if err != nil {
		r.metrics.BlockFailed()
		return task.Failuref("reading ledger of block %s: %v", key, err), releaseFailed
	}
	ledger, err := DecodeDedupLedger(data)
	if err != nil {
		r.metrics.BlockFailed()
		return task.Failuref("block %s: %v", key, err), releaseFailed
	}

	if !ledger.RemoveReference(entityUUID, genID) {
		r.logger.Debug("block not referenced by generation", "key", key, "entity", entityUUID, "generation", genID)
	}

	if ledger.Empty() {
		if err := r.store.Delete(ctx, BlockLedgerKey(key)); err != nil {
			r.metrics.BlockFailed()
			return task.Failuref("deleting ledger of block %s: %v", key, err), releaseFailed
		}
		if err := r.store.Delete(ctx, BlockDataKey(key)); err != nil {
			r.metrics.BlockFailed()
			return task.Failuref("deleting block %s: %v", key, err), releaseFailed
		}
		r.metrics.BlockReclaimed()
		return task.Succeeded(), releaseRemoved
	}

	encoded, err := ledger.Encode()
	if err != nil {
		r.metrics.BlockFailed()
		return task.Failuref("block %s: %v", key, err), releaseFailed
	}
	if err := r.store.Put(ctx, BlockLedgerKey(key), encoded); err != nil {
		r.metrics.BlockFailed()
		return task.Failuref("writing ledger of block %s: %v", key, err), releaseFailed
	}
	r.metrics.LedgerUpdated()
	return task.Succeeded(), releaseUpdated
}

// ReclaimGeneration releases every block referenced by the profile through
// the archive pool. Every block is processed even when some fail; the
// aggregate carries all failure reasons.
func (r *BlockReclaimer) ReclaimGeneration(ctx context.Context, p *GenerationProfile) task.Aggregate {
	keys := p.ContentKeys()
	var removed, updated atomic.Int64

	units := make([]task.Unit, len(keys))
	for i, key := range keys {
		units[i] = func(ctx context.Context) task.Outcome {
			o, res := r.release(ctx, p.Entity.UUID, p.GenerationID, key)
			switch res {
			case releaseRemoved:
				removed.Add(1)
			case releaseUpdated:
				updated.Add(1)
			}
			return o
		}
	}

	agg := r.orch.Archive.Run(ctx, units)
	r.logger.Info("generation blocks released",
		"entity", p.Entity.UUID,
		"generation", p.GenerationID,
		"blocks", len(keys),
		"removed", removed.Load(),
		"updated", updated.Load(),
		"failed", agg.Count(task.Failed)+agg.Count(task.Aborted))
	return agg
}

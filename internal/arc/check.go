package arc

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"

	"arc-go/internal/task"
)

// CheckGenerations verifies the requested generations together with every
// ancestor they depend on, root first. Each generation is verified once: its
// profile must be valid and succeeded and every block payload must exist and
// decode to content matching the recorded md5.
func (m *ArchiveManager) CheckGenerations(ctx context.Context, request []int) (Report, error) {
	ids, err := m.ResolveGenerations(request)
	if err != nil {
		return Report{}, err
	}
	report := newReport("check %s", m.entity)

	verified := make(map[int]bool)
	for _, id := range ids {
		chain := m.resolver.ParentGenerations(id)
		if len(chain) == 0 {
			report.record(report.add(fmt.Sprintf("generation %d", id)), task.Failuref("generation %d does not exist", id))
			continue
		}
		for _, info := range chain {
			genID := info.GenerationID
			if verified[genID] {
				continue
			}
			verified[genID] = true
			node := report.add(fmt.Sprintf("generation %d", genID))
			if err := ctx.Err(); err != nil {
				report.record(node, task.FromError(err))
				continue
			}
			report.record(node, m.checkGeneration(ctx, genID))
		}
	}

	report.finish(task.Succeeded())
	m.svc.logger.Info("check finished", "entity", m.entity.UUID, "generations", len(verified), "state", report.State().String())
	return report, nil
}

func (m *ArchiveManager) checkGeneration(ctx context.Context, genID int) task.Outcome {
	p, err := m.loadProfile(ctx, genID)
	switch {
	case err != nil:
		return task.Failuref("generation %d: %v", genID, err)
	case p == nil:
		return task.Failuref("generation %d: profile not found", genID)
	}
	if err := p.Validate(); err != nil {
		return task.Failuref("generation %d: %v", genID, err)
	}
	if !p.Succeeded {
		return task.Failuref("generation %d is marked FAILED", genID)
	}

	blocks := make(map[string]BlockInfo)
	for _, d := range p.Disks {
		for _, b := range d.Blocks {
			blocks[b.ContentKey] = b
		}
	}
	keys := p.ContentKeys()
	units := make([]task.Unit, len(keys))
	for i, key := range keys {
		blk := blocks[key]
		units[i] = func(ctx context.Context) task.Outcome {
			return m.checkBlock(ctx, blk)
		}
	}

	agg := m.svc.orch.Archive.Run(ctx, units)
	if !agg.OK() {
		return task.Failuref("generation %d: %d of %d blocks invalid: %v", genID, len(keys)-agg.Count(task.Success), len(keys), agg.Err())
	}
	m.svc.logger.Debug("generation verified", "entity", m.entity.UUID, "generation", genID, "blocks", len(keys))
	return task.Succeeded()
}

func (m *ArchiveManager) checkBlock(ctx context.Context, blk BlockInfo) task.Outcome {
	data, err := m.readBlock(ctx, blk)
	if err != nil {
		return task.Failure(err.Error())
	}
	sum := md5.Sum(data)
	if got := hex.EncodeToString(sum[:]); got != blk.MD5 {
		return task.Failuref("block %s: md5 %s, want %s", blk.ContentKey, got, blk.MD5)
	}
	return task.Succeeded()
}

// readBlock fetches and decodes a block payload.
func (m *ArchiveManager) readBlock(ctx context.Context, blk BlockInfo) ([]byte, error) {
	ctx = context.WithoutCancel(ctx)
	payload, err := m.svc.store.Get(ctx, BlockDataKey(blk.ContentKey))
	if errors.Is(err, ErrNotFound) {
		m.svc.metrics.BlockMissing()
		return nil, fmt.Errorf("block %s is missing", blk.ContentKey)
	}
	if err != nil {
		return nil, fmt.Errorf("block %s: %w", blk.ContentKey, err)
	}
	data, err := m.svc.codec.Decode(payload, blk.Flags())
	if err != nil {
		return nil, fmt.Errorf("block %s: %w", blk.ContentKey, err)
	}
	return data, nil
}

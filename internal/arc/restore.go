package arc

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"

	"arc-go/internal/task"
)

// RestoreDisk writes one disk of a succeeded generation to w, each block at
// its offset. Blocks are fetched concurrently through the disk pool.
func (m *ArchiveManager) RestoreDisk(ctx context.Context, genID, diskID int, w io.WriterAt) (Report, error) {
	p, err := m.LoadProfileGeneration(ctx, genID)
	if err != nil {
		return Report{}, err
	}
	if p == nil {
		return Report{}, fmt.Errorf("%s generation %d: %w", m.entity, genID, ErrGenerationNotFound)
	}
	if !p.Succeeded {
		return Report{}, fmt.Errorf("%s generation %d: %w", m.entity, p.GenerationID, ErrNotSucceeded)
	}
	d := p.Disk(diskID)
	if d == nil {
		return Report{}, fmt.Errorf("%s generation %d has no disk %d", m.entity, p.GenerationID, diskID)
	}

	report := newReport("restore %s generation %d disk %d", m.entity, p.GenerationID, diskID)
	ids := d.BlockIDs()
	units := make([]task.Unit, len(ids))
	for i, blockID := range ids {
		blk := d.Blocks[blockID]
		offset := int64(blockID) * d.BlockSize
		units[i] = func(ctx context.Context) task.Outcome {
			data, err := m.readBlock(ctx, blk)
			if err != nil {
				return task.Failuref("block %d: %v", blockID, err)
			}
			sum := md5.Sum(data)
			if hex.EncodeToString(sum[:]) != blk.MD5 {
				return task.Failuref("block %d: checksum mismatch", blockID)
			}
			if _, err := w.WriteAt(data, offset); err != nil {
				return task.Failuref("block %d: writing: %v", blockID, err)
			}
			return task.Succeeded()
		}
	}

	agg := m.svc.orch.Disk.Run(ctx, units)
	node := report.add(fmt.Sprintf("disk %d", diskID))
	if agg.OK() {
		report.record(node, task.Succeeded())
	} else {
		report.record(node, task.Outcome{State: agg.State(), Reason: agg.Err().Error()})
	}
	report.finish(task.Succeeded())

	m.svc.logger.Info("disk restored",
		"entity", m.entity.UUID,
		"generation", p.GenerationID,
		"disk", diskID,
		"blocks", len(ids),
		"failed", len(ids)-agg.Count(task.Success))
	return report, nil
}

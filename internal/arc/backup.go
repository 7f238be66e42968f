package arc

import (
	"context"
	"fmt"
	"strings"

	"arc-go/internal/task"
)

// BackupResult is the outcome of one entity backup.
type BackupResult struct {
	Report
	Profile   *GenerationProfile
	Succeeded bool
}

// Backup takes a new generation of the entity from its disk sources. Disks
// are transferred concurrently through the disk pool; a failed disk does not
// stop the others but leaves the generation not succeeded. Cancelling ctx
// stops further disks from being submitted; the generation is still
// finalized, as not succeeded. An error is returned only when the generation
// could not be prepared or finalized.
func (m *ArchiveManager) Backup(ctx context.Context, req BackupRequest, sources []DiskSource) (*BackupResult, error) {
	if m.entity.Type == Group {
		return nil, fmt.Errorf("%s: group entities are backed up with BackupGroup", m.entity)
	}
	p, err := m.PrepareNewGeneration(ctx, req)
	if err != nil {
		return nil, err
	}
	report := newReport("backup %s generation %d", m.entity, p.GenerationID)

	m.DetermineBackupMode(p, req.Mode)
	p.Disks = make([]DiskProfile, len(sources))
	p.NumberOfDisks = len(sources)

	nodes := make([]task.NodeID, len(sources))
	units := make([]task.Unit, len(sources))
	for i, src := range sources {
		nodes[i] = report.add(fmt.Sprintf("disk %d", i))
		p.Disks[i] = DiskProfile{DiskID: i, Blocks: make(map[int]BlockInfo)}
		units[i] = func(ctx context.Context) task.Outcome {
			return m.BackupDisk(ctx, p, i, src)
		}
	}
	agg := m.svc.orch.Disk.Run(ctx, units)
	for i, o := range agg.Outcomes {
		report.record(nodes[i], o)
	}

	ok, err := m.FinalizeBackup(context.WithoutCancel(ctx), p, agg.Outcomes)
	switch {
	case err != nil:
		report.finish(task.FromError(err))
	case !ok:
		report.finish(task.Failuref("generation %d of %s is not succeeded", p.GenerationID, m.entity))
	default:
		report.finish(task.Succeeded())
	}
	return &BackupResult{Report: report, Profile: p, Succeeded: ok}, err
}

// BackupDisk transfers one disk into a prepared generation and records it as
// p.Disks[diskID]. An INCREMENTAL disk starts from the previous generation's
// block map and overlays the blocks changed since its change id; every
// inherited block that was not overwritten gains a reference from the new
// generation. Blocks stored before a failure stay recorded so that removing
// the generation releases them.
func (m *ArchiveManager) BackupDisk(ctx context.Context, p *GenerationProfile, diskID int, src DiskSource) task.Outcome {
	info, err := src.Describe(ctx)
	if err != nil {
		return task.Failuref("disk %d: describing: %v", diskID, err)
	}

	d := DiskProfile{
		DiskID:         diskID,
		UUID:           info.UUID,
		Capacity:       info.Capacity,
		ChangeID:       info.ChangeID,
		ChangeTracking: info.ChangeTracking,
		BlockSize:      info.BlockSize,
		DiskMode:       info.DiskMode,
		BackupMode:     UnknownMode,
		Blocks:         make(map[int]BlockInfo),
	}
	defer func() { p.Disks[diskID] = d }()

	if info.DiskMode.Independent() {
		return task.Skip(fmt.Sprintf("disk %d: independent disk %s is not backed up", diskID, info.UUID))
	}
	if info.BlockSize <= 0 {
		return task.Failuref("disk %d: invalid block size %d", diskID, info.BlockSize)
	}

	mode, prevDisk := m.DetermineDiskBackupMode(p, info)
	d.BackupMode = mode
	since := ""
	if mode == Incremental {
		since = prevDisk.ChangeID
	}

	written := make(map[int]bool)
	var stored, deduped int
	err = src.ReadBlocks(ctx, since, func(blockID int, data []byte) error {
		blk, dedup, err := m.svc.writer.StoreBlock(ctx, m.entity.UUID, p.GenerationID, data)
		if err != nil {
			return fmt.Errorf("block %d: %w", blockID, err)
		}
		blk.Offset = int64(blockID) * info.BlockSize
		d.Blocks[blockID] = blk
		written[blockID] = true
		if dedup {
			deduped++
		} else {
			stored++
		}
		return nil
	})
	if err != nil {
		m.svc.metrics.BlockFailed()
		return task.Failuref("disk %d: %v", diskID, err)
	}

	var failures []string
	if prevDisk != nil {
		for _, blockID := range prevDisk.BlockIDs() {
			if written[blockID] || int64(blockID)*info.BlockSize >= info.Capacity {
				continue
			}
			blk, err := m.svc.writer.Reference(ctx, m.entity.UUID, p.GenerationID, prevDisk.Blocks[blockID])
			if err != nil {
				failures = append(failures, fmt.Sprintf("block %d: %v", blockID, err))
				continue
			}
			d.Blocks[blockID] = blk
		}
	}

	m.svc.logger.Info("disk backed up",
		"entity", m.entity.UUID,
		"generation", p.GenerationID,
		"disk", diskID,
		"mode", mode.String(),
		"stored", stored,
		"deduplicated", deduped,
		"blocks", len(d.Blocks))

	if len(failures) > 0 {
		return task.Failuref("disk %d: %d inherited blocks unavailable: %s", diskID, len(failures), strings.Join(failures, "; "))
	}
	return task.Succeeded()
}

// GroupMember is one child entity of a group backup with its disk sources.
type GroupMember struct {
	Entity  Entity
	Sources []DiskSource
	Request BackupRequest
}

// BackupGroup takes a generation of a group entity by backing up every
// member through the child pool. The group's mode is the fold of the modes
// its members achieved. Members may not be groups themselves.
func (s *Service) BackupGroup(ctx context.Context, group Entity, req BackupRequest, members []GroupMember) (*BackupResult, error) {
	if group.Type != Group {
		return nil, fmt.Errorf("%s is not a group", group)
	}
	m, err := s.Open(ctx, group, WriteMode)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	p, err := m.PrepareNewGeneration(ctx, req)
	if err != nil {
		return nil, err
	}
	report := newReport("backup %s generation %d", group, p.GenerationID)
	p.Children = make([]ChildGeneration, len(members))

	nodes := make([]task.NodeID, len(members))
	units := make([]task.Unit, len(members))
	for i, member := range members {
		nodes[i] = report.add(member.Entity.String())
		p.Children[i] = ChildGeneration{Entity: member.Entity, GenerationID: NoGeneration}
		units[i] = func(ctx context.Context) task.Outcome {
			return s.backupMember(ctx, p, i, member)
		}
	}
	agg := s.orch.Child.Run(ctx, units)
	for i, o := range agg.Outcomes {
		report.record(nodes[i], o)
	}

	ok, err := m.FinalizeBackup(context.WithoutCancel(ctx), p, agg.Outcomes)
	switch {
	case err != nil:
		report.finish(task.FromError(err))
	case !ok:
		report.finish(task.Failuref("generation %d of %s is not succeeded", p.GenerationID, group))
	default:
		report.finish(task.Succeeded())
	}
	return &BackupResult{Report: report, Profile: p, Succeeded: ok}, err
}

func (s *Service) backupMember(ctx context.Context, p *GenerationProfile, i int, member GroupMember) task.Outcome {
	if member.Entity.Type == Group {
		return task.Failuref("%s: nested groups are not supported", member.Entity)
	}
	m, err := s.Open(ctx, member.Entity, WriteMode)
	if err != nil {
		return task.FromError(err)
	}
	defer m.Close()

	res, err := m.Backup(ctx, member.Request, member.Sources)
	if err != nil {
		return task.Failuref("%s: %v", member.Entity, err)
	}
	p.Children[i] = ChildGeneration{
		Entity:       member.Entity,
		GenerationID: res.Profile.GenerationID,
		BackupMode:   res.Profile.BackupMode,
		Succeeded:    res.Succeeded,
	}
	if !res.OK() {
		return task.Failuref("%s: %v", member.Entity, res.Err())
	}
	return task.Succeeded()
}

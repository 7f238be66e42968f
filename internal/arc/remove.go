package arc

import (
	"context"
	"errors"
	"fmt"

	"arc-go/internal/task"
)

// RemoveGenerations deletes the requested generations and every generation
// depending on them, most recent dependent first. Blocks are released
// through the BlockReclaimer before a generation's folder and catalog entry
// are removed. A generation whose profile is already gone is skipped but its
// catalog entry is still dropped. In dry-run mode nothing is modified.
func (m *ArchiveManager) RemoveGenerations(ctx context.Context, request []int, dryRun bool) (Report, error) {
	if err := m.writable(); err != nil {
		return Report{}, err
	}
	ids, err := m.ResolveGenerations(request)
	if err != nil {
		return Report{}, err
	}
	report := newReport("remove generations of %s", m.entity)

	var order []int
	queued := make(map[int]bool)
	for _, id := range ids {
		chain := m.resolver.DependingGenerations(id)
		if len(chain) == 0 {
			report.record(report.add(fmt.Sprintf("generation %d", id)), task.Failuref("generation %d does not exist", id))
			continue
		}
		for i := len(chain) - 1; i >= 0; i-- {
			if g := chain[i].GenerationID; !queued[g] {
				queued[g] = true
				order = append(order, g)
			}
		}
	}

	for _, genID := range order {
		node := report.add(fmt.Sprintf("generation %d", genID))
		if err := ctx.Err(); err != nil {
			report.record(node, task.FromError(err))
			continue
		}
		report.record(node, m.deleteGeneration(ctx, genID, dryRun))
	}

	if !dryRun && len(order) > 0 {
		if err := m.persistCatalog(ctx); err != nil {
			report.finish(task.FromError(err))
			return report, err
		}
	}
	report.finish(task.Succeeded())
	return report, nil
}

func (m *ArchiveManager) deleteGeneration(ctx context.Context, genID int, dryRun bool) task.Outcome {
	p, err := m.loadProfile(ctx, genID)
	if err == nil && p != nil {
		err = p.Validate()
	}
	if err != nil && !errors.Is(err, ErrProfileInvalid) {
		return task.Failuref("generation %d: %v", genID, err)
	}
	if p == nil || err != nil {
		if dryRun {
			return task.Skip(fmt.Sprintf("dry run: generation %d has no usable profile, catalog entry would be removed", genID))
		}
		m.catalog.Remove(genID)
		m.svc.logger.Warn("generation profile already removed", "entity", m.entity.UUID, "generation", genID, "error", err)
		return task.Skip(fmt.Sprintf("generation %d: profile already removed", genID))
	}

	if dryRun {
		m.svc.logger.Info("dry run: would remove generation", "entity", m.entity.UUID, "generation", genID, "blocks", len(p.ContentKeys()))
		return task.Skip(fmt.Sprintf("dry run: generation %d would be removed", genID))
	}

	defer m.catalog.Remove(genID)

	agg := m.svc.reclaimer.ReclaimGeneration(ctx, p)
	if err := m.svc.store.DeleteFolder(ctx, p.GenerationPath()); err != nil {
		return task.Failuref("generation %d: deleting folder: %v", genID, err)
	}
	if !agg.OK() {
		return task.Failuref("generation %d: %v", genID, agg.Err())
	}
	m.svc.logger.Info("generation removed", "entity", m.entity.UUID, "generation", genID)
	return task.Succeeded()
}

// RemoveProfile removes every generation of the entity, then its folder and
// its entry in the entity index. The archive is kept when any generation
// could not be removed.
func (m *ArchiveManager) RemoveProfile(ctx context.Context, dryRun bool) (Report, error) {
	if err := m.writable(); err != nil {
		return Report{}, err
	}

	var report Report
	if m.catalog.Len() > 0 {
		r, err := m.RemoveGenerations(ctx, []int{AllGenerations}, dryRun)
		if err != nil {
			return r, err
		}
		report = r
	} else {
		report = newReport("remove generations of %s", m.entity)
		report.finish(task.Succeeded())
	}

	if dryRun {
		m.svc.logger.Info("dry run: would remove archive", "entity", m.entity.UUID)
		return report, nil
	}
	if !report.OK() {
		return report, fmt.Errorf("removing archive of %s: %w", m.entity, report.Err())
	}
	if err := m.svc.store.DeleteFolder(ctx, EntityFolder(m.entity.UUID)); err != nil {
		return report, fmt.Errorf("removing archive of %s: %w", m.entity, err)
	}
	if err := m.svc.unregisterEntity(ctx, m.entity.UUID); err != nil {
		return report, err
	}
	m.svc.logger.Info("archive removed", "entity", m.entity.UUID)
	return report, nil
}

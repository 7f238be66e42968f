package arc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"arc-go/internal/task"
)

// BackupRequest describes a backup about to be taken.
type BackupRequest struct {
	// Mode is the requested mode. FULL forces a full backup; any other value
	// lets the engine choose.
	Mode BackupMode
	// ChangeTracking reports whether the entity has change tracking enabled.
	ChangeTracking bool
	// ChangeTrackingHealthy reports whether the change tracking health check passed.
	ChangeTrackingHealthy bool
	Metadata              map[string]string
}

// ArchiveManager is the single owner of one entity's catalog for the duration
// of an operation. It is not safe for concurrent use; the units it fans out
// only touch per-unit state.
type ArchiveManager struct {
	svc      *Service
	entity   Entity
	mode     OpenMode
	catalog  *Catalog
	resolver *DependencyResolver
	closed   bool
}

// Close releases the entity's write lock. It is safe to call more than once.
func (m *ArchiveManager) Close() {
	if m.closed {
		return
	}
	m.closed = true
	if m.mode == WriteMode {
		m.svc.writers.Unlock(m.entity.UUID)
	}
}

// Entity returns the managed entity.
func (m *ArchiveManager) Entity() Entity {
	return m.entity
}

// Mode returns the mode the manager was opened in.
func (m *ArchiveManager) Mode() OpenMode {
	return m.mode
}

// Dependencies returns the resolver over the manager's catalog.
func (m *ArchiveManager) Dependencies() *DependencyResolver {
	return m.resolver
}

func (m *ArchiveManager) LatestSucceededGenerationID() int { return m.catalog.LatestSucceededID() }
func (m *ArchiveManager) LatestGenerationID() int          { return m.catalog.LatestID() }
func (m *ArchiveManager) FailedGenerationList() []int      { return m.catalog.Failed() }
func (m *ArchiveManager) SucceededGenerationList() []int   { return m.catalog.Succeeded() }
func (m *ArchiveManager) GenerationIDList() []int          { return m.catalog.IDs() }

// Generation returns the catalog entry of genID.
func (m *ArchiveManager) Generation(genID int) (Generation, bool) {
	return m.catalog.Generation(genID)
}

func (m *ArchiveManager) writable() error {
	if m.closed {
		return fmt.Errorf("%s: archive closed", m.entity)
	}
	if m.mode != WriteMode {
		return fmt.Errorf("%s: %w", m.entity, ErrReadOnly)
	}
	return nil
}

// PrepareNewGeneration allocates the next generation id and persists an
// unfinalized profile and the catalog. The caller must not start any disk
// I/O when it fails.
func (m *ArchiveManager) PrepareNewGeneration(ctx context.Context, req BackupRequest) (*GenerationProfile, error) {
	if err := m.writable(); err != nil {
		return nil, err
	}

	var previous *GenerationProfile
	if latest := m.catalog.LatestSucceededID(); latest >= 0 {
		p, err := m.loadProfile(ctx, latest)
		switch {
		case err != nil:
			m.svc.logger.Warn("previous generation unreadable, chain broken", "entity", m.entity.UUID, "generation", latest, "error", err)
		case p == nil:
			m.svc.logger.Warn("previous generation profile missing, chain broken", "entity", m.entity.UUID, "generation", latest)
		default:
			previous = p
		}
	}

	mode := UnknownMode
	if req.Mode == Full {
		mode = Full
	}
	now := m.svc.clock.Now().UTC()
	id := m.catalog.NewGenerationID(now, mode)
	g, _ := m.catalog.Generation(id)

	p := &GenerationProfile{
		Entity:                m.entity,
		GenerationID:          id,
		PreviousGenerationID:  g.PreviousGenerationID,
		Timestamp:             now,
		BackupMode:            mode,
		ChangeTracking:        req.ChangeTracking,
		ChangeTrackingHealthy: req.ChangeTrackingHealthy,
		MD5Filename:           manifestFile,
		Disks:                 []DiskProfile{},
		Metadata:              req.Metadata,
		previous:              previous,
	}

	if err := m.putProfile(ctx, p); err != nil {
		m.catalog.Remove(id)
		return nil, fmt.Errorf("preparing generation %d of %s: %w", id, m.entity, err)
	}
	if err := m.persistCatalog(ctx); err != nil {
		m.catalog.Remove(id)
		return nil, fmt.Errorf("preparing generation %d of %s: %w", id, m.entity, err)
	}
	if err := m.svc.registerEntity(ctx, m.entity); err != nil {
		return nil, err
	}

	m.svc.logger.Info("generation prepared", "entity", m.entity.UUID, "generation", id, "dependsOn", p.PreviousGenerationID)
	return p, nil
}

// DetermineBackupMode decides the entity-level mode of a prepared
// generation. Without healthy change tracking, or without a succeeded
// previous generation, the backup is FULL and is detached from any parent
// generation; otherwise it is INCREMENTAL on top of the latest succeeded
// generation.
func (m *ArchiveManager) DetermineBackupMode(p *GenerationProfile, requested BackupMode) BackupMode {
	prev := p.Previous()
	switch {
	case requested == Full, !p.ChangeTracking, !p.ChangeTrackingHealthy:
		m.detach(p)
		p.BackupMode = Full
	case prev == nil || !m.catalog.IsSucceeded(prev.GenerationID):
		m.detach(p)
		p.BackupMode = Full
	default:
		p.PreviousGenerationID = prev.GenerationID
		p.BackupMode = Incremental
	}
	m.svc.logger.Debug("backup mode determined", "entity", m.entity.UUID, "generation", p.GenerationID, "mode", p.BackupMode.String())
	return p.BackupMode
}

func (m *ArchiveManager) detach(p *GenerationProfile) {
	p.PreviousGenerationID = NoGeneration
	m.catalog.SetNotDependent(p.GenerationID)
}

// DetermineDiskBackupMode decides the mode of one disk. INCREMENTAL needs an
// entity-level INCREMENTAL decision, change tracking on the disk, and a
// matching disk in the previous generation with the same capacity and block
// size and a usable change id on both sides. The matching previous disk is
// returned for an INCREMENTAL decision.
func (m *ArchiveManager) DetermineDiskBackupMode(p *GenerationProfile, info DiskInfo) (BackupMode, *DiskProfile) {
	if p.BackupMode == Full || !info.ChangeTracking {
		return Full, nil
	}
	prev := p.Previous()
	if prev == nil {
		return Full, nil
	}
	prevDisk := prev.DiskByUUID(info.UUID)
	switch {
	case prevDisk == nil:
		return Full, nil
	case prevDisk.Capacity != info.Capacity:
		m.svc.logger.Info("disk capacity changed, full backup", "entity", m.entity.UUID, "disk", info.UUID)
		return Full, nil
	case prevDisk.BlockSize != info.BlockSize:
		return Full, nil
	case !usableChangeID(prevDisk.ChangeID), !usableChangeID(info.ChangeID):
		return Full, nil
	}
	return Incremental, prevDisk
}

func usableChangeID(id string) bool {
	return id != "" && id != "*"
}

// FinalizeBackup completes a generation. It succeeds only when every result
// is successful or skipped. The entity-level mode becomes the fold of the
// disk and child modes. The profile is always persisted; the catalog is
// persisted only once the checksum manifest is stored, so a generation
// whose manifest failed is never marked succeeded. Finalizing twice with the
// same results leaves the catalog as finalizing once.
func (m *ArchiveManager) FinalizeBackup(ctx context.Context, p *GenerationProfile, results []task.Outcome) (bool, error) {
	if err := m.writable(); err != nil {
		return false, err
	}

	var modes []BackupMode
	for _, d := range p.Disks {
		if !d.DiskMode.Independent() {
			modes = append(modes, d.BackupMode)
		}
	}
	for _, c := range p.Children {
		modes = append(modes, c.BackupMode)
	}
	if len(modes) > 0 {
		p.BackupMode = FoldBackupModes(modes...)
	}
	if p.BackupMode == Full && p.IsDependent() {
		m.detach(p)
	}
	p.NumberOfDisks = len(p.Disks)
	p.Succeeded = task.Aggregate{Outcomes: results}.OK()

	manifestErr := m.putManifest(ctx, p)
	if manifestErr != nil {
		p.Succeeded = false
	}
	if err := m.putProfile(ctx, p); err != nil {
		return false, fmt.Errorf("finalizing generation %d of %s: %w", p.GenerationID, m.entity, err)
	}
	if manifestErr != nil {
		return false, fmt.Errorf("finalizing generation %d of %s: %w", p.GenerationID, m.entity, manifestErr)
	}

	if err := m.catalog.CompleteGeneration(p); err != nil {
		return false, err
	}
	if err := m.persistCatalog(ctx); err != nil {
		return false, fmt.Errorf("finalizing generation %d of %s: %w", p.GenerationID, m.entity, err)
	}

	m.svc.logger.Info("generation finalized",
		"entity", m.entity.UUID,
		"generation", p.GenerationID,
		"mode", p.BackupMode.String(),
		"succeeded", p.Succeeded,
		"blocks", p.NumberOfBlocks())
	return p.Succeeded, nil
}

// LoadProfileGeneration loads the profile of one generation. genID may be
// LastGeneration, SucceededGenerations, NoGeneration or a literal id. It
// returns nil and no error when the generation does not exist.
func (m *ArchiveManager) LoadProfileGeneration(ctx context.Context, genID int) (*GenerationProfile, error) {
	if genID == NoGeneration {
		return nil, nil
	}
	id, err := m.ResolveGeneration(genID)
	if errors.Is(err, ErrNoGeneration) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !m.catalog.Exists(id) {
		return nil, nil
	}
	return m.loadProfile(ctx, id)
}

// loadProfile reads the stored profile of a concrete id, returning nil when
// it is missing.
func (m *ArchiveManager) loadProfile(ctx context.Context, genID int) (*GenerationProfile, error) {
	data, err := m.svc.store.Get(ctx, ProfileKey(m.entity.UUID, genID))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading generation %d of %s: %w", genID, m.entity, err)
	}
	return DecodeGenerationProfile(data)
}

func (m *ArchiveManager) putProfile(ctx context.Context, p *GenerationProfile) error {
	data, err := p.Encode()
	if err != nil {
		return err
	}
	return m.svc.store.Put(ctx, p.ContentPath(), data)
}

// putManifest writes one "<md5>  <block key>" line per block, ordered by
// disk and block id.
func (m *ArchiveManager) putManifest(ctx context.Context, p *GenerationProfile) error {
	var b strings.Builder
	for _, d := range p.Disks {
		for _, id := range d.BlockIDs() {
			blk := d.Blocks[id]
			fmt.Fprintf(&b, "%s  %s\n", blk.MD5, BlockDataKey(blk.ContentKey))
		}
	}
	if err := m.svc.store.Put(ctx, p.ManifestPath(), []byte(b.String())); err != nil {
		return fmt.Errorf("writing checksum manifest: %w", err)
	}
	return nil
}

func (m *ArchiveManager) persistCatalog(ctx context.Context) error {
	data, err := m.catalog.Encode()
	if err != nil {
		return err
	}
	if err := m.svc.store.Put(ctx, CatalogKey(m.entity.UUID), data); err != nil {
		return fmt.Errorf("writing catalog of %s: %w", m.entity, err)
	}
	return nil
}

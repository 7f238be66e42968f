package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"arc-go/internal/arc"
	"arc-go/internal/codec"
	"arc-go/internal/config"
	"arc-go/internal/database"
	"arc-go/internal/metrics"
	"arc-go/internal/source"
	"arc-go/internal/store"
	"arc-go/internal/task"
)

// metadataFolder holds per-host history snapshots in the content store.
const metadataFolder = "_meta"

// ArcApp is the application layer between the CLI and the archive service.
// It constructs all dependencies from config, exposes high-level operations
// that accept entity names and raw paths, and manages the history database
// lifecycle on Close.
type ArcApp struct {
	cfg     *config.Config
	db      arc.History
	store   arc.ContentStore
	codec   *codec.Pipeline
	metrics *metrics.Collector
	orch    *task.Orchestrator
	service *arc.Service
	clock   arc.Clock
	op      *Operation
	logFile *os.File
}

// NewArcApp creates a fully wired ArcApp from the given config.
// operation identifies the CLI command being run (e.g. "Backup", "Remove").
// The caller must call Close when done.
func NewArcApp(ctx context.Context, cfg *config.Config, operation string) (*ArcApp, error) {
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	st, err := store.NewStoreFromConfig(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("creating content store: %w", err)
	}
	closers = append(closers, st.Close)

	pipeline, err := codec.NewCodecFromConfig(cfg.Codec)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("creating codec: %w", err)
	}
	closers = append(closers, pipeline.Close)

	clock := arc.RealClock{}
	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.HostID, clock)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("creating database: %w", err)
	}
	closers = append(closers, db.Close)

	if err := db.CheckMigrations(); err != nil {
		cleanup()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	// Check local history version against the copy kept in the store.
	remoteVersion, err := readMetadataVersion(ctx, st, cfg.HostID)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("checking remote metadata version: %w", err)
	}
	localMax, err := db.MaxOperationID()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("checking local metadata version: %w", err)
	}
	if remoteVersion > localMax {
		cleanup()
		return nil, fmt.Errorf("local database is behind remote (local=%d, remote=%d): restore from store or re-initialize", localMax, remoteVersion)
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID, cfg.LogLevel)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	orch := task.NewOrchestrator(poolSizes(cfg.Pools))
	collector := metrics.NewCollector()
	svc := arc.NewService(st, pipeline, orch, &slogAdapter{l: logger}, clock, collector)

	return &ArcApp{
		cfg:     cfg,
		db:      db,
		store:   st,
		codec:   pipeline,
		metrics: collector,
		orch:    orch,
		service: svc,
		clock:   clock,
		op:      NewOperation(operation, ""),
		logFile: logFile,
	}, nil
}

func poolSizes(cfg config.PoolsConfig) task.Sizes {
	sizes := task.DefaultSizes()
	if cfg.Disk > 0 {
		sizes.Disk = cfg.Disk
	}
	if cfg.Archive > 0 {
		sizes.Archive = cfg.Archive
	}
	if cfg.Child > 0 {
		sizes.Child = cfg.Child
	}
	return sizes
}

// SetupCipher generates the key pair of the configured cipher, protecting the
// private key with passphrase.
func SetupCipher(cfg *config.Config, passphrase string) error {
	cipher, err := codec.NewCipherFromConfig(cfg.Codec)
	if err != nil {
		return err
	}
	if cipher == nil {
		return errors.New("no cipher configured")
	}
	if cipher.IsConfigured() {
		return errors.New("cipher keys already exist")
	}
	return cipher.Setup(passphrase)
}

// Ciphered reports whether block payloads are encrypted, in which case reads
// need Unlock first.
func (a *ArcApp) Ciphered() bool {
	return a.codec.Cipher() != nil
}

// Unlock unlocks the cipher for the rest of the session.
func (a *ArcApp) Unlock(passphrase string) error {
	return a.codec.Unlock(passphrase)
}

// persistOperation saves the operation to the database, giving it an auto-increment ID.
// This should only be called for archive-mutating commands.
func (a *ArcApp) persistOperation(entity, parameters string) error {
	if a.op.Persisted() {
		return nil
	}
	a.op.Entity = entity
	a.op.Parameters = parameters
	dbOp, err := a.db.CreateOperation(a.op.Operation, a.op.Parameters, a.op.Entity)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

// Entity builds the entity named name. kind is "vm", "disk" or "group"; an
// empty kind means "vm".
func Entity(name, kind string) (arc.Entity, error) {
	if name == "" {
		return arc.Entity{}, errors.New("entity name is empty")
	}
	t := arc.EntityType(kind)
	switch t {
	case "":
		t = arc.VirtualMachine
	case arc.VirtualMachine, arc.VirtualDisk, arc.Group:
	default:
		return arc.Entity{}, fmt.Errorf("unknown entity type: %q", kind)
	}
	return arc.Entity{UUID: arc.EntityUUID(name), Name: name, Type: t}, nil
}

// lookup names an existing entity. The stored catalog supplies the type.
func lookup(name string) arc.Entity {
	return arc.Entity{UUID: arc.EntityUUID(name), Name: name}
}

func (a *ArcApp) sources(images []string) ([]arc.DiskSource, error) {
	if len(images) == 0 {
		return nil, errors.New("no disk images given")
	}
	stateDir := a.cfg.StateDir()
	blockSize := a.cfg.BlockSize
	if blockSize == 0 {
		blockSize = config.DefaultBlockSize
	}
	out := make([]arc.DiskSource, len(images))
	for i, img := range images {
		src, err := source.NewImageSource(img, blockSize, arc.DiskPersistent, stateDir)
		if err != nil {
			return nil, fmt.Errorf("disk %d: %w", i, err)
		}
		out[i] = src
	}
	return out, nil
}

func backupRequest(full bool) arc.BackupRequest {
	req := arc.BackupRequest{ChangeTracking: true, ChangeTrackingHealthy: true}
	if full {
		req.Mode = arc.Full
	}
	return req
}

// Backup takes a new generation of entity from the given disk images.
func (a *ArcApp) Backup(ctx context.Context, entity arc.Entity, images []string, full bool) (*arc.BackupResult, error) {
	if err := a.persistOperation(entity.Name, strings.Join(images, ",")); err != nil {
		return nil, err
	}
	srcs, err := a.sources(images)
	if err != nil {
		a.op.Fail()
		return nil, err
	}

	m, err := a.service.Open(ctx, entity, arc.WriteMode)
	if err != nil {
		a.op.Fail()
		return nil, err
	}
	defer m.Close()

	res, err := m.Backup(ctx, backupRequest(full), srcs)
	if err != nil || !res.Succeeded {
		a.op.Fail()
	}
	return res, err
}

// GroupMember names a member VM of a group backup and its disk images.
type GroupMember struct {
	Name   string
	Images []string
}

// BackupGroup takes a new generation of a group and of each of its members.
func (a *ArcApp) BackupGroup(ctx context.Context, group string, members []GroupMember, full bool) (*arc.BackupResult, error) {
	names := make([]string, len(members))
	for i, mb := range members {
		names[i] = mb.Name
	}
	if err := a.persistOperation(group, strings.Join(names, ",")); err != nil {
		return nil, err
	}

	g, err := Entity(group, string(arc.Group))
	if err != nil {
		a.op.Fail()
		return nil, err
	}
	req := backupRequest(full)
	gm := make([]arc.GroupMember, len(members))
	for i, mb := range members {
		e, err := Entity(mb.Name, string(arc.VirtualMachine))
		if err != nil {
			a.op.Fail()
			return nil, err
		}
		srcs, err := a.sources(mb.Images)
		if err != nil {
			a.op.Fail()
			return nil, fmt.Errorf("%s: %w", mb.Name, err)
		}
		gm[i] = arc.GroupMember{Entity: e, Sources: srcs, Request: req}
	}

	res, err := a.service.BackupGroup(ctx, g, req, gm)
	if err != nil || !res.Succeeded {
		a.op.Fail()
	}
	return res, err
}

// Restore writes one disk of a generation of the named entity to outPath.
func (a *ArcApp) Restore(ctx context.Context, name string, genID, diskID int, outPath string) (arc.Report, error) {
	m, err := a.service.Open(ctx, lookup(name), arc.ReadMode)
	if err != nil {
		return arc.Report{}, err
	}
	defer m.Close()

	p, err := m.LoadProfileGeneration(ctx, genID)
	if err != nil {
		return arc.Report{}, err
	}
	if p == nil {
		return arc.Report{}, fmt.Errorf("%s generation %d: %w", name, genID, arc.ErrGenerationNotFound)
	}
	d := p.Disk(diskID)
	if d == nil {
		return arc.Report{}, fmt.Errorf("%s generation %d has no disk %d", name, p.GenerationID, diskID)
	}

	f, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return arc.Report{}, fmt.Errorf("creating restore target: %w", err)
	}
	defer f.Close()
	if err := f.Truncate(d.Capacity); err != nil {
		return arc.Report{}, fmt.Errorf("sizing restore target: %w", err)
	}

	return m.RestoreDisk(ctx, p.GenerationID, diskID, f)
}

// Check verifies the requested generations of the named entity.
func (a *ArcApp) Check(ctx context.Context, name string, request []int) (arc.Report, error) {
	m, err := a.service.Open(ctx, lookup(name), arc.ReadMode)
	if err != nil {
		return arc.Report{}, err
	}
	defer m.Close()
	return m.CheckGenerations(ctx, request)
}

// Remove deletes the requested generations of the named entity and every
// generation depending on them.
func (a *ArcApp) Remove(ctx context.Context, name string, request []int, dryRun bool) (arc.Report, error) {
	m, err := a.openExisting(ctx, name, dryRun)
	if err != nil {
		return arc.Report{}, err
	}
	defer m.Close()

	r, err := m.RemoveGenerations(ctx, request, dryRun)
	if err != nil || !r.OK() {
		a.op.Fail()
	}
	return r, err
}

// RemoveArchive deletes every generation of the named entity and the entity's archive.
func (a *ArcApp) RemoveArchive(ctx context.Context, name string, dryRun bool) (arc.Report, error) {
	m, err := a.openExisting(ctx, name, dryRun)
	if err != nil {
		return arc.Report{}, err
	}
	defer m.Close()

	r, err := m.RemoveProfile(ctx, dryRun)
	if err != nil || !r.OK() {
		a.op.Fail()
	}
	return r, err
}

// openExisting opens an archive for writing after making sure it exists, so
// a removal never creates an empty catalog.
func (a *ArcApp) openExisting(ctx context.Context, name string, dryRun bool) (*arc.ArchiveManager, error) {
	probe, err := a.service.Open(ctx, lookup(name), arc.ReadMode)
	if err != nil {
		return nil, err
	}
	entity := probe.Entity()
	probe.Close()

	if !dryRun {
		if err := a.persistOperation(name, ""); err != nil {
			return nil, err
		}
	}
	m, err := a.service.Open(ctx, entity, arc.WriteMode)
	if err != nil {
		a.op.Fail()
		return nil, err
	}
	return m, nil
}

// List summarizes every archived entity passing the signed age filter (see
// arc.SatisfiesTimeFilter).
func (a *ArcApp) List(ctx context.Context, filter time.Duration) ([]arc.EntityInfo, error) {
	entities, err := a.service.Entities(ctx)
	if err != nil {
		return nil, err
	}
	now := a.clock.Now()
	var out []arc.EntityInfo
	for _, e := range entities {
		m, err := a.service.Open(ctx, e, arc.ReadMode)
		if errors.Is(err, arc.ErrNoArchive) {
			continue
		}
		if err != nil {
			return nil, err
		}
		info := m.Info()
		m.Close()
		if info.SatisfiesTimeFilter(now, filter) {
			out = append(out, info)
		}
	}
	return out, nil
}

// Generations returns the catalog summary of the named entity.
func (a *ArcApp) Generations(ctx context.Context, name string) (arc.EntityInfo, error) {
	m, err := a.service.Open(ctx, lookup(name), arc.ReadMode)
	if err != nil {
		return arc.EntityInfo{}, err
	}
	defer m.Close()
	return m.Info(), nil
}

// GetHistory returns the most recent archive operations.
func (a *ArcApp) GetHistory(limit int) ([]*arc.Operation, error) {
	return a.db.ListOperations(limit)
}

// WriteMetrics prints the block counters gathered during this run.
func (a *ArcApp) WriteMetrics(w io.Writer) error {
	return a.metrics.WriteText(w)
}

// Close finalizes the operation and closes all resources.
// For persisted operations: finishes the operation record, snapshots the
// database and uploads the snapshot to the content store.
func (a *ArcApp) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	a.orch.Wait()

	if a.op.Persisted() {
		if err := a.db.FinishOperation(a.op.ID, a.op.Status); err != nil {
			keep(fmt.Errorf("finishing operation: %w", err))
		}

		tmpPath, err := a.snapshotDatabase()
		keep(err)
		if err := a.db.Close(); err != nil {
			keep(fmt.Errorf("closing database: %w", err))
		}
		if tmpPath != "" {
			keep(a.uploadMetadata(tmpPath, a.op.ID))
			os.Remove(tmpPath)
		}
	} else if err := a.db.Close(); err != nil {
		keep(fmt.Errorf("closing database: %w", err))
	}

	if err := a.store.Close(); err != nil {
		keep(fmt.Errorf("closing content store: %w", err))
	}
	keep(a.codec.Close())
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// snapshotDatabase copies the history database to a temp file and returns
// its path, or "" when the snapshot failed.
func (a *ArcApp) snapshotDatabase() (string, error) {
	tmpFile, err := os.CreateTemp("", "arc-db-backup-*.db")
	if err != nil {
		return "", fmt.Errorf("creating temp file for db backup: %w", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()

	if err := a.db.BackupTo(tmpPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("backing up database: %w", err)
	}
	return tmpPath, nil
}

// uploadMetadata stores the database snapshot and its version, the id of
// the operation that produced it.
func (a *ArcApp) uploadMetadata(path string, version int64) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading db backup for upload: %w", err)
	}
	ctx := context.Background()
	if err := a.store.Put(ctx, metadataKey(a.cfg.HostID, "history.db"), data); err != nil {
		return fmt.Errorf("uploading metadata to store: %w", err)
	}
	v := []byte(strconv.FormatInt(version, 10))
	if err := a.store.Put(ctx, metadataKey(a.cfg.HostID, "version"), v); err != nil {
		return fmt.Errorf("uploading metadata version to store: %w", err)
	}
	return nil
}

func metadataKey(hostID, name string) string {
	return path.Join(metadataFolder, hostID, name)
}

// readMetadataVersion returns the version of the last uploaded history
// snapshot, or 0 when none exists.
func readMetadataVersion(ctx context.Context, st arc.ContentStore, hostID string) (int64, error) {
	data, err := st.Get(ctx, metadataKey(hostID, "version"))
	if errors.Is(err, arc.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing metadata version: %w", err)
	}
	return v, nil
}

package arc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/im7mortal/kmutex"

	"arc-go/internal/task"
)

// OpenMode selects whether an ArchiveManager may mutate the archive.
type OpenMode int

const (
	ReadMode OpenMode = iota
	WriteMode
)

func (m OpenMode) String() string {
	if m == WriteMode {
		return "WRITE"
	}
	return "READ"
}

// Service holds the collaborators shared by every archive operation and
// opens per-entity ArchiveManagers.
type Service struct {
	store     ContentStore
	codec     BlockCodec
	orch      *task.Orchestrator
	logger    Logger
	clock     Clock
	metrics   Metrics
	writers   *kmutex.Kmutex
	writer    *BlockWriter
	reclaimer *BlockReclaimer
}

// NewService creates a Service. A nil metrics sink disables metrics.
func NewService(store ContentStore, codec BlockCodec, orch *task.Orchestrator, logger Logger, clock Clock, metrics Metrics) *Service {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	blocks := kmutex.New()
	return &Service{
		store:     store,
		codec:     codec,
		orch:      orch,
		logger:    logger,
		clock:     clock,
		metrics:   metrics,
		writers:   kmutex.New(),
		writer:    NewBlockWriter(store, codec, blocks, logger, metrics),
		reclaimer: NewBlockReclaimer(store, blocks, orch, logger, metrics),
	}
}

// Open loads an entity's catalog. A manager opened in WriteMode holds the
// entity's write lock until Close, so at most one writer exists per entity;
// a second writer blocks in Open. Opening an entity without an archive for
// reading fails with ErrNoArchive; for writing it starts an empty catalog.
func (s *Service) Open(ctx context.Context, entity Entity, mode OpenMode) (*ArchiveManager, error) {
	if entity.UUID == "" {
		return nil, errors.New("entity has no uuid")
	}
	if mode == WriteMode {
		s.writers.Lock(entity.UUID)
	}

	catalog, err := s.loadCatalog(ctx, entity, mode)
	if err != nil {
		if mode == WriteMode {
			s.writers.Unlock(entity.UUID)
		}
		return nil, err
	}

	s.logger.Debug("archive opened", "entity", entity.UUID, "mode", mode.String(), "generations", catalog.Len())
	return &ArchiveManager{
		svc:      s,
		entity:   catalog.Entity(),
		mode:     mode,
		catalog:  catalog,
		resolver: NewDependencyResolver(catalog),
	}, nil
}

func (s *Service) loadCatalog(ctx context.Context, entity Entity, mode OpenMode) (*Catalog, error) {
	data, err := s.store.Get(ctx, CatalogKey(entity.UUID))
	if errors.Is(err, ErrNotFound) {
		if mode == ReadMode {
			return nil, fmt.Errorf("opening %s: %w", entity, ErrNoArchive)
		}
		return NewCatalog(entity), nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", entity, err)
	}
	catalog, err := DecodeCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", entity, err)
	}
	return catalog, nil
}

// Entities returns every entity recorded in the store's global index,
// sorted by name.
func (s *Service) Entities(ctx context.Context) ([]Entity, error) {
	s.writers.Lock(GlobalIndexKey)
	defer s.writers.Unlock(GlobalIndexKey)
	return s.readIndex(ctx)
}

func (s *Service) registerEntity(ctx context.Context, e Entity) error {
	s.writers.Lock(GlobalIndexKey)
	defer s.writers.Unlock(GlobalIndexKey)

	entities, err := s.readIndex(ctx)
	if err != nil {
		return err
	}
	for _, known := range entities {
		if known.UUID == e.UUID {
			return nil
		}
	}
	return s.writeIndex(ctx, append(entities, e))
}

func (s *Service) unregisterEntity(ctx context.Context, uuid string) error {
	s.writers.Lock(GlobalIndexKey)
	defer s.writers.Unlock(GlobalIndexKey)

	entities, err := s.readIndex(ctx)
	if err != nil {
		return err
	}
	kept := entities[:0]
	for _, e := range entities {
		if e.UUID != uuid {
			kept = append(kept, e)
		}
	}
	return s.writeIndex(ctx, kept)
}

func (s *Service) readIndex(ctx context.Context) ([]Entity, error) {
	data, err := s.store.Get(ctx, GlobalIndexKey)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading entity index: %w", err)
	}
	var entities []Entity
	if err := json.Unmarshal(data, &entities); err != nil {
		return nil, fmt.Errorf("decoding entity index: %w", err)
	}
	return entities, nil
}

func (s *Service) writeIndex(ctx context.Context, entities []Entity) error {
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].Name != entities[j].Name {
			return entities[i].Name < entities[j].Name
		}
		return entities[i].UUID < entities[j].UUID
	})
	data, err := json.MarshalIndent(entities, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding entity index: %w", err)
	}
	if err := s.store.Put(ctx, GlobalIndexKey, data); err != nil {
		return fmt.Errorf("writing entity index: %w", err)
	}
	return nil
}

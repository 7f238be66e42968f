package arc

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Catalog is the ordered record of every generation of one entity. A Catalog
// is owned by exactly one ArchiveManager for the duration of an operation
// and is not safe for concurrent use.
type Catalog struct {
	entity          Entity
	generations     map[int]*Generation
	latest          int
	latestSucceeded int
	nextID          int
}

type catalogDocument struct {
	Entity          Entity       `json:"entity"`
	Latest          int          `json:"latest"`
	LatestSucceeded int          `json:"latestSucceeded"`
	NextID          int          `json:"nextGenerationId"`
	Generations     []Generation `json:"generations"`
}

// NewCatalog creates an empty catalog for an entity.
func NewCatalog(entity Entity) *Catalog {
	return &Catalog{
		entity:          entity,
		generations:     make(map[int]*Generation),
		latest:          NoGeneration,
		latestSucceeded: NoGeneration,
	}
}

// DecodeCatalog parses a stored catalog.
func DecodeCatalog(data []byte) (*Catalog, error) {
	var doc catalogDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}

	c := NewCatalog(doc.Entity)
	for _, g := range doc.Generations {
		if g.ID < 0 {
			return nil, fmt.Errorf("decoding catalog: negative generation id %d", g.ID)
		}
		if _, dup := c.generations[g.ID]; dup {
			return nil, fmt.Errorf("decoding catalog: duplicate generation id %d", g.ID)
		}
		gen := g
		c.generations[g.ID] = &gen
	}
	c.nextID = doc.NextID
	c.recompute()
	return c, nil
}

// Encode serializes the catalog with generations in ascending id order.
func (c *Catalog) Encode() ([]byte, error) {
	doc := catalogDocument{
		Entity:          c.entity,
		Latest:          c.latest,
		LatestSucceeded: c.latestSucceeded,
		NextID:          c.nextID,
		Generations:     make([]Generation, 0, len(c.generations)),
	}
	for _, id := range c.IDs() {
		doc.Generations = append(doc.Generations, *c.generations[id])
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding catalog: %w", err)
	}
	return data, nil
}

// Entity returns the entity the catalog belongs to.
func (c *Catalog) Entity() Entity {
	return c.entity
}

// Len returns the number of generations.
func (c *Catalog) Len() int {
	return len(c.generations)
}

// NewGenerationID appends a pending generation and returns its id. Ids are
// monotonic and never reused, even after the latest generation is removed;
// the first id of a catalog is 0. Unless mode is FULL, the new generation
// depends on the latest succeeded generation.
func (c *Catalog) NewGenerationID(ts time.Time, mode BackupMode) int {
	id := c.nextID
	if c.latest >= id {
		id = c.latest + 1
	}

	parent := NoGeneration
	if mode != Full {
		parent = c.latestSucceeded
	}

	c.generations[id] = &Generation{
		ID:                   id,
		Timestamp:            ts,
		BackupMode:           mode,
		PreviousGenerationID: parent,
	}
	c.latest = id
	c.nextID = id + 1
	return id
}

// Generation returns a copy of the generation with the given id.
func (c *Catalog) Generation(id int) (Generation, bool) {
	g, ok := c.generations[id]
	if !ok {
		return Generation{}, false
	}
	return *g, true
}

// Exists reports whether id is a generation of the catalog.
func (c *Catalog) Exists(id int) bool {
	_, ok := c.generations[id]
	return id >= 0 && ok
}

// IsSucceeded reports whether id exists and succeeded.
func (c *Catalog) IsSucceeded(id int) bool {
	g, ok := c.generations[id]
	return ok && g.Succeeded
}

// IDs returns every generation id in ascending order.
func (c *Catalog) IDs() []int {
	ids := make([]int, 0, len(c.generations))
	for id := range c.generations {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Succeeded returns the ids of succeeded generations in ascending order.
func (c *Catalog) Succeeded() []int {
	return c.filter(func(g *Generation) bool { return g.Succeeded })
}

// Failed returns the ids of generations that did not succeed, in ascending order.
func (c *Catalog) Failed() []int {
	return c.filter(func(g *Generation) bool { return !g.Succeeded })
}

// LatestID returns the highest generation id, or NoGeneration.
func (c *Catalog) LatestID() int {
	return c.latest
}

// LatestSucceededID returns the highest succeeded generation id, or NoGeneration.
func (c *Catalog) LatestSucceededID() int {
	return c.latestSucceeded
}

// PrevSucceeded returns the highest succeeded generation id below id, or NoGeneration.
func (c *Catalog) PrevSucceeded(id int) int {
	best := NoGeneration
	for gid, g := range c.generations {
		if gid < id && g.Succeeded && gid > best {
			best = gid
		}
	}
	return best
}

// NextSucceeded returns the generation immediately after id if it succeeded.
func (c *Catalog) NextSucceeded(id int) (Generation, bool) {
	next := -1
	for gid := range c.generations {
		if gid > id && (next < 0 || gid < next) {
			next = gid
		}
	}
	if next < 0 || !c.generations[next].Succeeded {
		return Generation{}, false
	}
	return *c.generations[next], true
}

// CompleteGeneration copies the outcome of a finished backup from its
// profile into the catalog entry. Calling it again with the same profile
// leaves the catalog unchanged.
func (c *Catalog) CompleteGeneration(p *GenerationProfile) error {
	g, ok := c.generations[p.GenerationID]
	if !ok {
		return fmt.Errorf("completing generation %d: %w", p.GenerationID, ErrGenerationNotFound)
	}
	*g = p.Generation()
	c.recompute()
	return nil
}

// SetNotDependent detaches a generation from its parent.
func (c *Catalog) SetNotDependent(id int) {
	if g, ok := c.generations[id]; ok {
		g.PreviousGenerationID = NoGeneration
	}
}

// Remove deletes a generation entry and returns it.
func (c *Catalog) Remove(id int) (Generation, bool) {
	g, ok := c.generations[id]
	if !ok {
		return Generation{}, false
	}
	delete(c.generations, id)
	c.recompute()
	return *g, true
}

func (c *Catalog) filter(keep func(*Generation) bool) []int {
	var ids []int
	for _, id := range c.IDs() {
		if keep(c.generations[id]) {
			ids = append(ids, id)
		}
	}
	return ids
}

// recompute derives latest and latestSucceeded from the remaining entries.
func (c *Catalog) recompute() {
	latest, succeeded := NoGeneration, NoGeneration
	for id, g := range c.generations {
		if id > latest {
			latest = id
		}
		if g.Succeeded && id > succeeded {
			succeeded = id
		}
	}
	c.latest = latest
	c.latestSucceeded = succeeded
}

package arc

// DependencyResolver walks the dependency graph of one catalog. Both walks
// tolerate malformed catalogs: a missing generation ends the walk and a
// generation is never visited twice.
type DependencyResolver struct {
	catalog *Catalog
}

// NewDependencyResolver creates a resolver over c.
func NewDependencyResolver(c *Catalog) *DependencyResolver {
	return &DependencyResolver{catalog: c}
}

// Info describes genID's position in the graph.
func (r *DependencyResolver) Info(genID int) DependencyInfo {
	info := DependencyInfo{
		GenerationID:          genID,
		DependsOnGenerationID: NoGeneration,
		DependingGenerationID: NoGeneration,
	}
	g, ok := r.catalog.Generation(genID)
	if !ok {
		return info
	}
	info.Exists = true
	info.BackupMode = g.BackupMode
	info.DependsOnGenerationID = g.PreviousGenerationID
	info.DependingGenerationID = r.DependingGenerationID(genID)
	return info
}

// DependingGenerationID returns the nearest later generation whose parent is
// genID, or NoGeneration.
func (r *DependencyResolver) DependingGenerationID(genID int) int {
	for _, id := range r.catalog.IDs() {
		if id <= genID {
			continue
		}
		if g, _ := r.catalog.Generation(id); g.PreviousGenerationID == genID {
			return id
		}
	}
	return NoGeneration
}

// ParentGenerations returns the chain of ancestors of genID ending with genID
// itself, root first. A generation that is not in the catalog yields an
// empty chain; a missing ancestor truncates the chain at that point.
func (r *DependencyResolver) ParentGenerations(genID int) []DependencyInfo {
	var chain []DependencyInfo
	visited := make(map[int]bool)
	for id := genID; id >= 0 && !visited[id]; {
		visited[id] = true
		info := r.Info(id)
		if !info.Exists {
			break
		}
		chain = append(chain, info)
		id = info.DependsOnGenerationID
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// DependingGenerations returns genID followed by every generation that
// depends on it directly or transitively, root first: each generation
// appears after the generation it depends on. Deleting in reverse order
// tears a chain down from its most recent member.
func (r *DependencyResolver) DependingGenerations(genID int) []DependencyInfo {
	if !r.catalog.Exists(genID) {
		return nil
	}

	children := make(map[int][]int)
	for _, id := range r.catalog.IDs() {
		g, _ := r.catalog.Generation(id)
		if g.IsDependent() {
			children[g.PreviousGenerationID] = append(children[g.PreviousGenerationID], id)
		}
	}

	var result []DependencyInfo
	visited := map[int]bool{genID: true}
	queue := []int{genID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		result = append(result, r.Info(id))
		for _, c := range children[id] {
			if !visited[c] {
				visited[c] = true
				queue = append(queue, c)
			}
		}
	}
	return result
}

package arc

import (
	"fmt"
	"sort"
)

func isSelector(id int) bool {
	return id == AllGenerations || id == SucceededGenerations || id == FailedGenerations || id == LastGeneration
}

// ResolveGenerations expands a generation request into concrete ids, sorted
// ascending and without duplicates. A selector must be the only element of
// the request. An empty request means the latest succeeded generation.
// Literal ids are returned whether or not they exist; operations report
// missing generations individually.
func (m *ArchiveManager) ResolveGenerations(request []int) ([]int, error) {
	if len(request) == 0 {
		if id := m.catalog.LatestSucceededID(); id >= 0 {
			return []int{id}, nil
		}
		return nil, fmt.Errorf("%s: %w", m.entity, ErrNoGeneration)
	}

	for _, id := range request {
		if isSelector(id) && len(request) > 1 {
			return nil, fmt.Errorf("%v: %w", request, ErrMixedSelector)
		}
		if id < 0 && !isSelector(id) {
			return nil, fmt.Errorf("invalid generation id %d", id)
		}
	}

	var ids []int
	switch request[0] {
	case AllGenerations:
		ids = m.catalog.IDs()
	case SucceededGenerations:
		if id := m.catalog.LatestSucceededID(); id >= 0 {
			ids = []int{id}
		}
	case FailedGenerations:
		ids = m.catalog.Failed()
	case LastGeneration:
		if id := m.catalog.LatestID(); id >= 0 {
			ids = []int{id}
		}
	default:
		seen := make(map[int]bool, len(request))
		for _, id := range request {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		sort.Ints(ids)
	}

	if len(ids) == 0 {
		return nil, fmt.Errorf("%s: %w", m.entity, ErrNoGeneration)
	}
	return ids, nil
}

// ResolveGeneration resolves a request that must name exactly one generation.
func (m *ArchiveManager) ResolveGeneration(genID int) (int, error) {
	ids, err := m.ResolveGenerations([]int{genID})
	if err != nil {
		return 0, err
	}
	if len(ids) != 1 {
		return 0, fmt.Errorf("%s: generation %d: %w", m.entity, genID, ErrMultipleGenerations)
	}
	return ids[0], nil
}

package app

import (
	"fmt"
	"strconv"
	"strings"

	"arc-go/internal/arc"
)

var selectorNames = map[string]int{
	"all":       arc.AllGenerations,
	"succeeded": arc.SucceededGenerations,
	"failed":    arc.FailedGenerations,
	"last":      arc.LastGeneration,
}

// ParseGenerations parses a generation request as given on the command line:
// one of "all", "succeeded", "failed", "last", or a comma-separated list of
// generation ids. An empty string yields an empty request.
func ParseGenerations(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if id, ok := selectorNames[strings.ToLower(s)]; ok {
		return []int{id}, nil
	}

	var ids []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if _, ok := selectorNames[strings.ToLower(part)]; ok {
			return nil, fmt.Errorf("%q: %w", s, arc.ErrMixedSelector)
		}
		id, err := strconv.Atoi(part)
		if err != nil || id < 0 {
			return nil, fmt.Errorf("invalid generation id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

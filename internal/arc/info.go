package arc

import "time"

// EntityInfo summarizes an entity's archive for listing.
type EntityInfo struct {
	Entity            Entity
	Generations       []Generation
	LatestID          int
	LatestSucceededID int
}

// LatestSucceeded returns the latest succeeded generation, if any.
func (i EntityInfo) LatestSucceeded() (Generation, bool) {
	for _, g := range i.Generations {
		if g.ID == i.LatestSucceededID {
			return g, true
		}
	}
	return Generation{}, false
}

// SatisfiesTimeFilter applies a signed age filter to the latest succeeded
// generation. A positive d keeps entities backed up within the last d; a
// negative d keeps entities whose latest succeeded backup is older than -d.
// A zero d keeps everything. Entities without a succeeded generation only
// pass the zero filter.
func (i EntityInfo) SatisfiesTimeFilter(now time.Time, d time.Duration) bool {
	return SatisfiesTimeFilter(i, now, d)
}

// SatisfiesTimeFilter reports whether info passes the filter d at now.
func SatisfiesTimeFilter(info EntityInfo, now time.Time, d time.Duration) bool {
	if d == 0 {
		return true
	}
	g, ok := info.LatestSucceeded()
	if !ok {
		return false
	}
	if d > 0 {
		return g.Timestamp.After(now.Add(-d))
	}
	return g.Timestamp.Before(now.Add(d))
}

// Info summarizes the archive.
func (m *ArchiveManager) Info() EntityInfo {
	info := EntityInfo{
		Entity:            m.entity,
		LatestID:          m.catalog.LatestID(),
		LatestSucceededID: m.catalog.LatestSucceededID(),
	}
	for _, id := range m.catalog.IDs() {
		g, _ := m.catalog.Generation(id)
		info.Generations = append(info.Generations, g)
	}
	return info
}

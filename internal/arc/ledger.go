package arc

import (
	"encoding/json"
	"fmt"
	"sort"
)

// DedupItem lists the generations of one entity that reference a block.
type DedupItem struct {
	UUID        string `json:"uuid"`
	Generations []int  `json:"generations"`
}

// DedupLedger is stored beside a block payload and records every
// (entity, generation) pair referencing it. A payload exists in the store
// exactly when its ledger has at least one reference.
type DedupLedger struct {
	MD5        string      `json:"md5"`
	Size       int64       `json:"size"`
	StreamSize int64       `json:"streamSize"`
	Compressed bool        `json:"compress"`
	Ciphered   bool        `json:"cipher"`
	DedupList  []DedupItem `json:"dedupList"`
}

// NewDedupLedger creates a ledger for a freshly stored block.
func NewDedupLedger(info BlockInfo) *DedupLedger {
	return &DedupLedger{
		MD5:        info.MD5,
		Size:       info.Size,
		StreamSize: info.StreamSize,
		Compressed: info.Compressed,
		Ciphered:   info.Ciphered,
	}
}

// DecodeDedupLedger parses a stored ledger.
func DecodeDedupLedger(data []byte) (*DedupLedger, error) {
	var l DedupLedger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("decoding dedup ledger: %w", err)
	}
	return &l, nil
}

// Encode serializes the ledger.
func (l *DedupLedger) Encode() ([]byte, error) {
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("encoding dedup ledger: %w", err)
	}
	return data, nil
}

// AddReference records that generation genID of entity uuid uses the block.
// Returns false if the reference was already present.
func (l *DedupLedger) AddReference(uuid string, genID int) bool {
	for i := range l.DedupList {
		item := &l.DedupList[i]
		if item.UUID != uuid {
			continue
		}
		for _, g := range item.Generations {
			if g == genID {
				return false
			}
		}
		item.Generations = append(item.Generations, genID)
		sort.Ints(item.Generations)
		return true
	}
	l.DedupList = append(l.DedupList, DedupItem{UUID: uuid, Generations: []int{genID}})
	return true
}

// RemoveReference drops the reference of generation genID of entity uuid.
// An entity left with no generations is removed from the ledger. Returns
// false if the reference was not present.
func (l *DedupLedger) RemoveReference(uuid string, genID int) bool {
	for i := range l.DedupList {
		item := &l.DedupList[i]
		if item.UUID != uuid {
			continue
		}
		for j, g := range item.Generations {
			if g != genID {
				continue
			}
			item.Generations = append(item.Generations[:j], item.Generations[j+1:]...)
			if len(item.Generations) == 0 {
				l.DedupList = append(l.DedupList[:i], l.DedupList[i+1:]...)
			}
			return true
		}
		return false
	}
	return false
}

// HasReference reports whether generation genID of entity uuid uses the block.
func (l *DedupLedger) HasReference(uuid string, genID int) bool {
	for _, item := range l.DedupList {
		if item.UUID != uuid {
			continue
		}
		for _, g := range item.Generations {
			if g == genID {
				return true
			}
		}
	}
	return false
}

// References returns the total number of (entity, generation) references.
func (l *DedupLedger) References() int {
	n := 0
	for _, item := range l.DedupList {
		n += len(item.Generations)
	}
	return n
}

// Empty reports whether nothing references the block any more.
func (l *DedupLedger) Empty() bool {
	return l.References() == 0
}

// Flags returns the codec flags of the stored payload.
func (l *DedupLedger) Flags() CodecFlags {
	return CodecFlags{Compressed: l.Compressed, Ciphered: l.Ciphered}
}

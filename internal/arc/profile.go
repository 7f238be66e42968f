package arc

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// DiskMode is the persistence mode of a disk.
type DiskMode string

const (
	DiskPersistent               DiskMode = "persistent"
	DiskNonPersistent            DiskMode = "nonpersistent"
	DiskIndependentPersistent    DiskMode = "independent_persistent"
	DiskIndependentNonPersistent DiskMode = "independent_nonpersistent"
)

// Independent reports whether the disk is excluded from snapshots, and
// therefore from backups.
func (m DiskMode) Independent() bool {
	return m == DiskIndependentPersistent || m == DiskIndependentNonPersistent
}

// BlockInfo describes one stored block of a disk. The same BlockInfo may
// appear in many generations when the region it covers did not change.
type BlockInfo struct {
	ContentKey string `json:"key"`
	MD5        string `json:"md5"`
	Size       int64  `json:"size"`
	StreamSize int64  `json:"streamSize"`
	Offset     int64  `json:"offset"`
	Compressed bool   `json:"compress"`
	Ciphered   bool   `json:"cipher"`
}

// Flags returns the codec flags of the stored payload.
func (b BlockInfo) Flags() CodecFlags {
	return CodecFlags{Compressed: b.Compressed, Ciphered: b.Ciphered}
}

// DiskProfile is the block map of one disk within one generation.
type DiskProfile struct {
	DiskID         int               `json:"diskId"`
	UUID           string            `json:"uuid"`
	Capacity       int64             `json:"capacity"`
	ChangeID       string            `json:"changeId"`
	ChangeTracking bool              `json:"changeTracking"`
	BlockSize      int64             `json:"blockSize"`
	DiskMode       DiskMode          `json:"diskMode"`
	BackupMode     BackupMode        `json:"backupMode"`
	Blocks         map[int]BlockInfo `json:"dumps"`
}

// BlockIDs returns the disk's block ids in ascending order.
func (d *DiskProfile) BlockIDs() []int {
	ids := make([]int, 0, len(d.Blocks))
	for id := range d.Blocks {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// ChildGeneration references the generation a child entity produced as part
// of a group backup.
type ChildGeneration struct {
	Entity       Entity     `json:"entity"`
	GenerationID int        `json:"generationId"`
	BackupMode   BackupMode `json:"backupMode"`
	Succeeded    bool       `json:"succeeded"`
}

// GenerationProfile is the full descriptor of one generation.
type GenerationProfile struct {
	Entity                Entity            `json:"entity"`
	GenerationID          int               `json:"generationId"`
	PreviousGenerationID  int               `json:"previousGenerationId"`
	Timestamp             time.Time         `json:"timestamp"`
	BackupMode            BackupMode        `json:"backupMode"`
	ChangeTracking        bool              `json:"changeTracking"`
	ChangeTrackingHealthy bool              `json:"changeTrackingHealthy"`
	Succeeded             bool              `json:"succeeded"`
	NumberOfDisks         int               `json:"numberOfDisks"`
	MD5Filename           string            `json:"md5Filename"`
	Disks                 []DiskProfile     `json:"disks"`
	Children              []ChildGeneration `json:"children,omitempty"`
	Metadata              map[string]string `json:"metadata,omitempty"`

	// previous is the latest succeeded generation at the time this one was
	// prepared. It is not serialized.
	previous *GenerationProfile
}

// DecodeGenerationProfile parses a stored profile.
func DecodeGenerationProfile(data []byte) (*GenerationProfile, error) {
	var p GenerationProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding generation profile: %v: %w", err, ErrProfileInvalid)
	}
	for i := range p.Disks {
		if p.Disks[i].Blocks == nil {
			p.Disks[i].Blocks = make(map[int]BlockInfo)
		}
	}
	return &p, nil
}

// Encode serializes the profile.
func (p *GenerationProfile) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding generation profile: %w", err)
	}
	return data, nil
}

// Validate checks the profile's structural consistency.
func (p *GenerationProfile) Validate() error {
	if p.Entity.UUID == "" {
		return fmt.Errorf("missing entity uuid: %w", ErrProfileInvalid)
	}
	if p.GenerationID < 0 {
		return fmt.Errorf("negative generation id %d: %w", p.GenerationID, ErrProfileInvalid)
	}
	if p.NumberOfDisks != len(p.Disks) {
		return fmt.Errorf("numberOfDisks is %d but %d disks are present: %w", p.NumberOfDisks, len(p.Disks), ErrProfileInvalid)
	}
	for i, d := range p.Disks {
		if d.DiskID != i {
			return fmt.Errorf("disk at index %d has id %d: %w", i, d.DiskID, ErrProfileInvalid)
		}
		for id, b := range d.Blocks {
			if b.ContentKey == "" {
				return fmt.Errorf("disk %d block %d has no content key: %w", i, id, ErrProfileInvalid)
			}
		}
	}
	return nil
}

// IsDependent reports whether the generation depends on a parent.
func (p *GenerationProfile) IsDependent() bool {
	return p.PreviousGenerationID >= 0
}

// Previous returns the latest succeeded generation known when this one was
// prepared, or nil.
func (p *GenerationProfile) Previous() *GenerationProfile {
	return p.previous
}

// NumberOfBlocks returns the total number of blocks across all disks.
func (p *GenerationProfile) NumberOfBlocks() int {
	n := 0
	for _, d := range p.Disks {
		n += len(d.Blocks)
	}
	return n
}

// ContentKeys returns every distinct content key referenced by the profile,
// sorted.
func (p *GenerationProfile) ContentKeys() []string {
	seen := make(map[string]struct{})
	for _, d := range p.Disks {
		for _, b := range d.Blocks {
			seen[b.ContentKey] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Disk returns the disk with the given id, or nil.
func (p *GenerationProfile) Disk(diskID int) *DiskProfile {
	if diskID < 0 || diskID >= len(p.Disks) {
		return nil
	}
	return &p.Disks[diskID]
}

// DiskByUUID returns the disk with the given uuid, or nil.
func (p *GenerationProfile) DiskByUUID(uuid string) *DiskProfile {
	for i := range p.Disks {
		if p.Disks[i].UUID == uuid {
			return &p.Disks[i]
		}
	}
	return nil
}

// GenerationPath returns the generation's folder in the store.
func (p *GenerationProfile) GenerationPath() string {
	return GenerationFolder(p.Entity.UUID, p.GenerationID)
}

// ContentPath returns the key the profile is stored at.
func (p *GenerationProfile) ContentPath() string {
	return ProfileKey(p.Entity.UUID, p.GenerationID)
}

// ManifestPath returns the key of the generation's checksum manifest.
func (p *GenerationProfile) ManifestPath() string {
	return GenerationFolder(p.Entity.UUID, p.GenerationID) + p.MD5Filename
}

// Generation returns the catalog entry describing this profile.
func (p *GenerationProfile) Generation() Generation {
	return Generation{
		ID:                   p.GenerationID,
		Timestamp:            p.Timestamp,
		BackupMode:           p.BackupMode,
		PreviousGenerationID: p.PreviousGenerationID,
		Succeeded:            p.Succeeded,
		NumberOfDisks:        p.NumberOfDisks,
	}
}

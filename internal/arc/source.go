package arc

import "context"

// DiskInfo describes a disk as reported by its source at backup time.
type DiskInfo struct {
	UUID     string
	Capacity int64
	// ChangeID identifies the disk state captured by this backup. It is
	// compared with the previous generation's ChangeID to decide whether an
	// incremental capture is possible.
	ChangeID string
	// ChangeTracking reports whether the source can enumerate changed blocks.
	ChangeTracking bool
	DiskMode       DiskMode
	BlockSize      int64
}

// DiskSource produces the content of one disk. Transferring the bytes is
// the source's concern; the engine only stores what it is handed.
type DiskSource interface {
	// Describe returns the disk's current identity and capabilities.
	Describe(ctx context.Context) (DiskInfo, error)

	// ReadBlocks calls fn for every block changed since sinceChangeID. An
	// empty sinceChangeID requests every block.
	ReadBlocks(ctx context.Context, sinceChangeID string, fn func(blockID int, data []byte) error) error
}

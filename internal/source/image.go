// Package source provides DiskSources that read raw disk images.
package source

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"arc-go/internal/arc"
)

// ImageSource is a DiskSource over a raw image file read in fixed-size
// blocks. Change tracking is emulated with a block map kept in stateDir: the
// per-block SHA-1 hashes seen by the last read, tagged with the change id
// they produced. A read since that change id emits only the blocks whose
// hash differs.
type ImageSource struct {
	path      string
	uuid      string
	blockSize int64
	mode      arc.DiskMode
	stateDir  string
}

var _ arc.DiskSource = (*ImageSource)(nil)

// blockMap is the persisted state of the last read.
type blockMap struct {
	ChangeID  string   `json:"changeId"`
	BlockSize int64    `json:"blockSize"`
	Hashes    []string `json:"hashes"`
}

// NewImageSource validates path and returns a source for it. An empty
// stateDir disables change tracking, so every backup of the image is full.
func NewImageSource(path string, blockSize int64, mode arc.DiskMode, stateDir string) (*ImageSource, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("invalid block size %d", blockSize)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}
	info, err := os.Lstat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat image: %w", err)
	}
	m := info.Mode()
	switch {
	case m.IsDir():
		return nil, fmt.Errorf("image is a directory: %s", absPath)
	case m&os.ModeSymlink != 0:
		return nil, fmt.Errorf("symlinks not supported: %s", absPath)
	case m&os.ModeNamedPipe != 0:
		return nil, fmt.Errorf("named pipes not supported: %s", absPath)
	case m&os.ModeSocket != 0:
		return nil, fmt.Errorf("sockets not supported: %s", absPath)
	case !m.IsRegular():
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}
	if mode == "" {
		mode = arc.DiskPersistent
	}
	return &ImageSource{
		path:      absPath,
		uuid:      uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+absPath)).String(),
		blockSize: blockSize,
		mode:      mode,
		stateDir:  stateDir,
	}, nil
}

// Path returns the absolute image path.
func (s *ImageSource) Path() string {
	return s.path
}

func (s *ImageSource) mapPath() string {
	return filepath.Join(s.stateDir, s.uuid+".json")
}

func (s *ImageSource) Describe(ctx context.Context) (arc.DiskInfo, error) {
	hashes, size, err := s.scan(ctx, nil)
	if err != nil {
		return arc.DiskInfo{}, err
	}
	info := arc.DiskInfo{
		UUID:      s.uuid,
		Capacity:  size,
		ChangeID:  changeID(hashes),
		DiskMode:  s.mode,
		BlockSize: s.blockSize,
	}
	if s.stateDir != "" {
		if bm, err := s.loadMap(); err == nil && bm != nil && bm.BlockSize == s.blockSize {
			info.ChangeTracking = true
		}
	}
	return info, nil
}

func (s *ImageSource) ReadBlocks(ctx context.Context, sinceChangeID string, fn func(blockID int, data []byte) error) error {
	var prev []string
	if sinceChangeID != "" && s.stateDir != "" {
		bm, err := s.loadMap()
		if err != nil {
			return err
		}
		if bm != nil && bm.ChangeID == sinceChangeID && bm.BlockSize == s.blockSize {
			prev = bm.Hashes
		}
	}

	hashes, _, err := s.scan(ctx, func(blockID int, hash string, data []byte) error {
		if blockID < len(prev) && prev[blockID] == hash {
			return nil
		}
		return fn(blockID, data)
	})
	if err != nil {
		return err
	}
	if s.stateDir == "" {
		return nil
	}
	return s.saveMap(&blockMap{ChangeID: changeID(hashes), BlockSize: s.blockSize, Hashes: hashes})
}

// scan reads the image block by block, returning every block's hash and
// the image size. fn, when set, is called for each block in order.
func (s *ImageSource) scan(ctx context.Context, fn func(blockID int, hash string, data []byte) error) ([]string, int64, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, 0, fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()

	var hashes []string
	var size int64
	buf := make([]byte, s.blockSize)
	for blockID := 0; ; blockID++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			data := buf[:n]
			sum := sha1.Sum(data)
			hash := hex.EncodeToString(sum[:])
			hashes = append(hashes, hash)
			size += int64(n)
			if fn != nil {
				if err := fn(blockID, hash, append([]byte(nil), data...)); err != nil {
					return nil, 0, err
				}
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("reading block %d: %w", blockID, err)
		}
	}
	return hashes, size, nil
}

// changeID identifies an image state by the hash of its block hashes.
func changeID(hashes []string) string {
	h := sha1.New()
	for _, s := range hashes {
		io.WriteString(h, s)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (s *ImageSource) loadMap() (*blockMap, error) {
	data, err := os.ReadFile(s.mapPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading block map: %w", err)
	}
	var bm blockMap
	if err := json.Unmarshal(data, &bm); err != nil {
		// A damaged map only costs a full read.
		return nil, nil
	}
	return &bm, nil
}

func (s *ImageSource) saveMap(bm *blockMap) error {
	if err := os.MkdirAll(s.stateDir, 0755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	data, err := json.Marshal(bm)
	if err != nil {
		return fmt.Errorf("encoding block map: %w", err)
	}
	tmp := s.mapPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing block map: %w", err)
	}
	if err := os.Rename(tmp, s.mapPath()); err != nil {
		return fmt.Errorf("writing block map: %w", err)
	}
	return nil
}

package source_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"arc-go/internal/arc"
	"arc-go/internal/source"
)

const blockSize = 4

func writeImage(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func readAll(t *testing.T, src arc.DiskSource, since string) map[int][]byte {
	t.Helper()
	got := make(map[int][]byte)
	err := src.ReadBlocks(context.Background(), since, func(blockID int, data []byte) error {
		got[blockID] = data
		return nil
	})
	if err != nil {
		t.Fatalf("ReadBlocks() error = %v", err)
	}
	return got
}

func blockIDs(m map[int][]byte) []int {
	var ids []int
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func TestNewImageSource_Rejects(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "disk.img")
	writeImage(t, img, []byte("data"))
	link := filepath.Join(dir, "link.img")
	if err := os.Symlink(img, link); err != nil {
		t.Fatalf("Symlink() error = %v", err)
	}

	tests := []struct {
		name      string
		path      string
		blockSize int64
	}{
		{name: "directory", path: dir, blockSize: blockSize},
		{name: "symlink", path: link, blockSize: blockSize},
		{name: "missing", path: filepath.Join(dir, "none.img"), blockSize: blockSize},
		{name: "zero block size", path: img, blockSize: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := source.NewImageSource(tt.path, tt.blockSize, "", ""); err == nil {
				t.Error("NewImageSource() expected error, got nil")
			}
		})
	}
}

func TestImageSource_Describe(t *testing.T) {
	img := filepath.Join(t.TempDir(), "disk.img")
	writeImage(t, img, []byte("aaaabbbbcc"))

	src, err := source.NewImageSource(img, blockSize, "", "")
	if err != nil {
		t.Fatalf("NewImageSource() error = %v", err)
	}
	info, err := src.Describe(context.Background())
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if info.Capacity != 10 {
		t.Errorf("Capacity = %d, want 10", info.Capacity)
	}
	if info.BlockSize != blockSize {
		t.Errorf("BlockSize = %d, want %d", info.BlockSize, blockSize)
	}
	if info.DiskMode != arc.DiskPersistent {
		t.Errorf("DiskMode = %q, want %q", info.DiskMode, arc.DiskPersistent)
	}
	if info.ChangeTracking {
		t.Error("ChangeTracking = true without state dir, want false")
	}
	if info.ChangeID == "" {
		t.Error("ChangeID is empty")
	}

	again, err := source.NewImageSource(img, blockSize, "", "")
	if err != nil {
		t.Fatalf("NewImageSource() error = %v", err)
	}
	info2, err := again.Describe(context.Background())
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if info2.UUID != info.UUID || info2.ChangeID != info.ChangeID {
		t.Errorf("Describe() not stable: %+v vs %+v", info2, info)
	}
}

func TestImageSource_ReadBlocks(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "disk.img")
	state := filepath.Join(dir, "state")
	writeImage(t, img, []byte("aaaabbbbcc"))

	src, err := source.NewImageSource(img, blockSize, "", state)
	if err != nil {
		t.Fatalf("NewImageSource() error = %v", err)
	}
	ctx := context.Background()

	first, err := src.Describe(ctx)
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if first.ChangeTracking {
		t.Error("ChangeTracking = true before first read, want false")
	}

	full := readAll(t, src, "")
	if !slices.Equal(blockIDs(full), []int{0, 1, 2}) {
		t.Fatalf("ReadBlocks() full = %v, want [0 1 2]", blockIDs(full))
	}
	if !bytes.Equal(full[2], []byte("cc")) {
		t.Errorf("last block = %q, want %q", full[2], "cc")
	}

	writeImage(t, img, []byte("aaaaBBBBcc"))
	second, err := src.Describe(ctx)
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if !second.ChangeTracking {
		t.Error("ChangeTracking = false after first read, want true")
	}
	if second.ChangeID == first.ChangeID {
		t.Error("ChangeID did not change after modifying the image")
	}

	changed := readAll(t, src, first.ChangeID)
	if !slices.Equal(blockIDs(changed), []int{1}) {
		t.Errorf("ReadBlocks(since) = %v, want [1]", blockIDs(changed))
	}

	// An unknown change id falls back to every block.
	all := readAll(t, src, "unknown")
	if len(all) != 3 {
		t.Errorf("ReadBlocks(unknown) returned %d blocks, want 3", len(all))
	}
}

func TestImageSource_ReadBlocksCanceled(t *testing.T) {
	img := filepath.Join(t.TempDir(), "disk.img")
	writeImage(t, img, []byte("aaaabbbb"))
	src, err := source.NewImageSource(img, blockSize, "", "")
	if err != nil {
		t.Fatalf("NewImageSource() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = src.ReadBlocks(ctx, "", func(int, []byte) error { return nil })
	if err == nil {
		t.Error("ReadBlocks() with canceled context expected error, got nil")
	}
}

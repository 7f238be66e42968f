package testutil

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"arc-go/internal/arc"
)

// StubDiskSource is an in-memory DiskSource. Every WriteBlock starts a new
// change id ("change-N"); ReadBlocks since a known change id yields only the
// blocks written after it. Safe for concurrent use.
type StubDiskSource struct {
	mu             sync.Mutex
	uuid           string
	blockSize      int64
	capacity       int64
	changeTracking bool
	mode           arc.DiskMode
	version        int
	blocks         map[int][]byte
	written        map[int]int // block id -> version that last wrote it
	describeErr    error
	failBlock      int
	failErr        error
	reads          []string
}

var _ arc.DiskSource = (*StubDiskSource)(nil)

// NewStubDiskSource creates an empty disk with change tracking enabled.
func NewStubDiskSource(uuid string, blockSize int64) *StubDiskSource {
	return &StubDiskSource{
		uuid:           uuid,
		blockSize:      blockSize,
		capacity:       -1,
		changeTracking: true,
		mode:           arc.DiskPersistent,
		blocks:         make(map[int][]byte),
		written:        make(map[int]int),
		failBlock:      -1,
	}
}

// WriteBlock sets the content of a block and starts a new change id.
func (s *StubDiskSource) WriteBlock(blockID int, data []byte) *StubDiskSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version++
	s.blocks[blockID] = append([]byte(nil), data...)
	s.written[blockID] = s.version
	return s
}

// SetCapacity overrides the capacity derived from the highest block.
func (s *StubDiskSource) SetCapacity(capacity int64) *StubDiskSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capacity = capacity
	return s
}

func (s *StubDiskSource) SetChangeTracking(enabled bool) *StubDiskSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changeTracking = enabled
	return s
}

func (s *StubDiskSource) SetDiskMode(mode arc.DiskMode) *StubDiskSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	return s
}

// FailDescribe makes Describe return err.
func (s *StubDiskSource) FailDescribe(err error) *StubDiskSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.describeErr = err
	return s
}

// FailReadAt makes ReadBlocks return err when it reaches blockID.
func (s *StubDiskSource) FailReadAt(blockID int, err error) *StubDiskSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failBlock, s.failErr = blockID, err
	return s
}

// ChangeID returns the current change id.
func (s *StubDiskSource) ChangeID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changeID()
}

func (s *StubDiskSource) changeID() string {
	return "change-" + strconv.Itoa(s.version)
}

// Reads returns the sinceChangeID of every ReadBlocks call.
func (s *StubDiskSource) Reads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.reads...)
}

func (s *StubDiskSource) Describe(context.Context) (arc.DiskInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.describeErr != nil {
		return arc.DiskInfo{}, s.describeErr
	}
	capacity := s.capacity
	if capacity < 0 {
		capacity = 0
		for id := range s.blocks {
			capacity = max(capacity, int64(id+1)*s.blockSize)
		}
	}
	return arc.DiskInfo{
		UUID:           s.uuid,
		Capacity:       capacity,
		ChangeID:       s.changeID(),
		ChangeTracking: s.changeTracking,
		DiskMode:       s.mode,
		BlockSize:      s.blockSize,
	}, nil
}

func (s *StubDiskSource) ReadBlocks(ctx context.Context, sinceChangeID string, fn func(blockID int, data []byte) error) error {
	s.mu.Lock()
	s.reads = append(s.reads, sinceChangeID)
	since := -1
	if v, ok := strings.CutPrefix(sinceChangeID, "change-"); ok {
		if n, err := strconv.Atoi(v); err == nil && n <= s.version {
			since = n
		}
	}
	var ids []int
	for id := range s.blocks {
		if since < 0 || s.written[id] > since {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	blocks := make([][]byte, len(ids))
	for i, id := range ids {
		blocks[i] = append([]byte(nil), s.blocks[id]...)
	}
	failBlock, failErr := s.failBlock, s.failErr
	s.mu.Unlock()

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if id == failBlock {
			return fmt.Errorf("reading block %d: %w", id, failErr)
		}
		if err := fn(id, blocks[i]); err != nil {
			return err
		}
	}
	return nil
}

package testutil

import (
	"context"
	"errors"
	"strings"
	"sync"

	"arc-go/internal/arc"
	"arc-go/internal/store"
)

// ErrInjected is returned by FaultStore for operations it was told to fail.
var ErrInjected = errors.New("injected store failure")

// Store operation names understood by FaultStore.
const (
	OpGet    = "get"
	OpPut    = "put"
	OpDelete = "delete"
	OpExists = "exists"
	OpList   = "list"
)

// FaultStore wraps a MemoryStore and fails chosen operations on chosen
// keys. It also counts deletes per key.
type FaultStore struct {
	*store.MemoryStore

	mu      sync.Mutex
	faults  map[string]struct{} // op + "\x00" + key suffix
	deletes map[string]int
}

var _ arc.ContentStore = (*FaultStore)(nil)

func NewFaultStore() *FaultStore {
	return &FaultStore{
		MemoryStore: store.NewMemoryStore(),
		faults:      make(map[string]struct{}),
		deletes:     make(map[string]int),
	}
}

// FailOn makes op fail for every key ending in keySuffix.
func (s *FaultStore) FailOn(op, keySuffix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op+"\x00"+keySuffix] = struct{}{}
}

// Heal removes every injected fault.
func (s *FaultStore) Heal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = make(map[string]struct{})
}

// Deletes returns how many times key was deleted while it existed.
func (s *FaultStore) Deletes(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletes[key]
}

func (s *FaultStore) fail(op, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for f := range s.faults {
		fop, suffix, _ := strings.Cut(f, "\x00")
		if fop == op && strings.HasSuffix(key, suffix) {
			return ErrInjected
		}
	}
	return nil
}

func (s *FaultStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := s.fail(OpExists, key); err != nil {
		return false, err
	}
	return s.MemoryStore.Exists(ctx, key)
}

func (s *FaultStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.fail(OpGet, key); err != nil {
		return nil, err
	}
	return s.MemoryStore.Get(ctx, key)
}

func (s *FaultStore) Put(ctx context.Context, key string, data []byte) error {
	if err := s.fail(OpPut, key); err != nil {
		return err
	}
	return s.MemoryStore.Put(ctx, key, data)
}

func (s *FaultStore) Delete(ctx context.Context, key string) error {
	if err := s.fail(OpDelete, key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ok, _ := s.MemoryStore.Exists(ctx, key); ok {
		s.deletes[key]++
	}
	return s.MemoryStore.Delete(ctx, key)
}

func (s *FaultStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := s.fail(OpList, prefix); err != nil {
		return nil, err
	}
	return s.MemoryStore.List(ctx, prefix)
}

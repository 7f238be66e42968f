package store

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"arc-go/internal/arc"
)

// backends returns a fresh instance of every store that runs without
// external services.
func backends(t *testing.T) map[string]arc.ContentStore {
	t.Helper()

	fsStore, err := NewFileSystemStore(filepath.Join(t.TempDir(), "store"))
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}
	badgerStore, err := NewBadgerStore("")
	if err != nil {
		t.Fatalf("NewBadgerStore() error = %v", err)
	}
	sqliteStore, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}

	stores := map[string]arc.ContentStore{
		"memory":     NewMemoryStore(),
		"filesystem": fsStore,
		"badger":     badgerStore,
		"sqlite":     sqliteStore,
		"s3":         NewS3StoreFromClient(newFakeS3(), "bucket", "arc"),
	}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s arc.ContentStore)) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, s)
		})
	}
}

func TestStore_PutGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s arc.ContentStore) {
		ctx := context.Background()

		tests := []struct {
			name string
			key  string
			data []byte
		}{
			{name: "top level", key: "global.json", data: []byte(`{"entities":[]}`)},
			{name: "nested", key: "disks/abc/data", data: []byte("payload")},
			{name: "empty", key: "disks/abc/json", data: []byte{}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if err := s.Put(ctx, tt.key, tt.data); err != nil {
					t.Fatalf("Put() error = %v", err)
				}
				got, err := s.Get(ctx, tt.key)
				if err != nil {
					t.Fatalf("Get() error = %v", err)
				}
				if string(got) != string(tt.data) {
					t.Errorf("Get() = %q, want %q", got, tt.data)
				}
				ok, err := s.Exists(ctx, tt.key)
				if err != nil {
					t.Fatalf("Exists() error = %v", err)
				}
				if !ok {
					t.Error("Exists() = false, want true")
				}
			})
		}
	})
}

func TestStore_Overwrite(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s arc.ContentStore) {
		ctx := context.Background()
		if err := s.Put(ctx, "a/b", []byte("first")); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if err := s.Put(ctx, "a/b", []byte("second")); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		got, err := s.Get(ctx, "a/b")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if string(got) != "second" {
			t.Errorf("Get() = %q, want %q", got, "second")
		}
	})
}

func TestStore_Missing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s arc.ContentStore) {
		ctx := context.Background()

		_, err := s.Get(ctx, "no/such/key")
		if !errors.Is(err, arc.ErrNotFound) {
			t.Errorf("Get() error = %v, want ErrNotFound", err)
		}
		ok, err := s.Exists(ctx, "no/such/key")
		if err != nil {
			t.Fatalf("Exists() error = %v", err)
		}
		if ok {
			t.Error("Exists() = true, want false")
		}
		if err := s.Delete(ctx, "no/such/key"); err != nil {
			t.Errorf("Delete() of missing key error = %v", err)
		}
	})
}

func TestStore_InvalidKey(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s arc.ContentStore) {
		ctx := context.Background()
		for _, key := range []string{"", "/abs", "dir/", "a/../b", "./a", "a//b"} {
			if err := s.Put(ctx, key, []byte("x")); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("Put(%q) error = %v, want ErrInvalidKey", key, err)
			}
		}
	})
}

func TestStore_Delete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s arc.ContentStore) {
		ctx := context.Background()
		if err := s.Put(ctx, "disks/k1/data", []byte("x")); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if err := s.Delete(ctx, "disks/k1/data"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := s.Get(ctx, "disks/k1/data"); !errors.Is(err, arc.ErrNotFound) {
			t.Errorf("Get() after Delete() error = %v, want ErrNotFound", err)
		}
	})
}

func TestStore_List(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s arc.ContentStore) {
		ctx := context.Background()
		keys := []string{
			"vm-1/profile.json",
			"vm-1/0/generation.json",
			"vm-1/0/md5sum.txt",
			"vm-10/profile.json",
			"disks/k1/data",
		}
		for _, k := range keys {
			if err := s.Put(ctx, k, []byte(k)); err != nil {
				t.Fatalf("Put(%s) error = %v", k, err)
			}
		}

		tests := []struct {
			prefix string
			want   []string
		}{
			{prefix: "vm-1", want: []string{"vm-1/0/generation.json", "vm-1/0/md5sum.txt", "vm-1/profile.json"}},
			{prefix: "vm-1/", want: []string{"vm-1/0/generation.json", "vm-1/0/md5sum.txt", "vm-1/profile.json"}},
			{prefix: "vm-1/0", want: []string{"vm-1/0/generation.json", "vm-1/0/md5sum.txt"}},
			{prefix: "nothing", want: nil},
		}
		for _, tt := range tests {
			t.Run(tt.prefix, func(t *testing.T) {
				got, err := s.List(ctx, tt.prefix)
				if err != nil {
					t.Fatalf("List() error = %v", err)
				}
				if len(got) == 0 && len(tt.want) == 0 {
					return
				}
				if !slices.Equal(got, tt.want) {
					t.Errorf("List(%q) = %v, want %v", tt.prefix, got, tt.want)
				}
			})
		}

		all, err := s.List(ctx, "")
		if err != nil {
			t.Fatalf("List(\"\") error = %v", err)
		}
		if len(all) != len(keys) {
			t.Errorf("List(\"\") returned %d keys, want %d", len(all), len(keys))
		}
	})
}

func TestStore_Copy(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s arc.ContentStore) {
		ctx := context.Background()
		if err := s.Put(ctx, "src/obj", []byte("content")); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if err := s.Copy(ctx, "src/obj", "dst/obj"); err != nil {
			t.Fatalf("Copy() error = %v", err)
		}
		got, err := s.Get(ctx, "dst/obj")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if string(got) != "content" {
			t.Errorf("Get() = %q, want %q", got, "content")
		}
		if err := s.Copy(ctx, "src/missing", "dst/other"); !errors.Is(err, arc.ErrNotFound) {
			t.Errorf("Copy() of missing key error = %v, want ErrNotFound", err)
		}
	})
}

func TestStore_DeleteFolder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s arc.ContentStore) {
		ctx := context.Background()
		for _, k := range []string{"vm-1/profile.json", "vm-1/0/generation.json", "vm-10/profile.json"} {
			if err := s.Put(ctx, k, []byte("x")); err != nil {
				t.Fatalf("Put(%s) error = %v", k, err)
			}
		}

		if err := s.DeleteFolder(ctx, "vm-1"); err != nil {
			t.Fatalf("DeleteFolder() error = %v", err)
		}
		left, err := s.List(ctx, "")
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if !slices.Equal(left, []string{"vm-10/profile.json"}) {
			t.Errorf("List() after DeleteFolder() = %v, want [vm-10/profile.json]", left)
		}

		if err := s.DeleteFolder(ctx, ""); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("DeleteFolder(\"\") error = %v, want ErrInvalidKey", err)
		}
	})
}

func TestStore_ConcurrentPut(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s arc.ContentStore) {
		ctx := context.Background()
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.Put(ctx, "disks/shared/json", []byte("ledger")); err != nil {
					t.Errorf("Put() error = %v", err)
				}
			}()
		}
		wg.Wait()

		got, err := s.Get(ctx, "disks/shared/json")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if string(got) != "ledger" {
			t.Errorf("Get() = %q, want ledger", got)
		}
	})
}

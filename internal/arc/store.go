package arc

import "context"

// ContentStore is a key/value object store for archive content. Keys are
// slash-separated paths relative to the store root; a "folder" is a key
// prefix ending in "/".
type ContentStore interface {
	// Exists reports whether key holds an object.
	Exists(ctx context.Context, key string) (bool, error)

	// Get returns the object at key. Returns an error wrapping ErrNotFound
	// if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores data at key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte) error

	// Delete removes the object at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns the sorted keys of every object under the folder prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Copy duplicates the object at src to dst.
	Copy(ctx context.Context, src, dst string) error

	// DeleteFolder removes every object under the folder prefix.
	DeleteFolder(ctx context.Context, prefix string) error

	// Close releases resources held by the store.
	Close() error
}

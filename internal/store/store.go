// Package store provides ContentStore backends: memory, local filesystem,
// S3, Badger and SQLite.
package store

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"arc-go/internal/arc"
)

// ErrInvalidKey is returned for keys that are empty, absolute, or escape the
// store root.
var ErrInvalidKey = errors.New("invalid store key")

// validKey checks a slash-separated object key.
func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") {
		return fmt.Errorf("%q: %w", key, ErrInvalidKey)
	}
	if path.Clean(key) != key {
		return fmt.Errorf("%q: %w", key, ErrInvalidKey)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." || seg == "." {
			return fmt.Errorf("%q: %w", key, ErrInvalidKey)
		}
	}
	return nil
}

// folderPrefix turns a folder name into a key prefix ending in "/". The
// empty prefix selects the whole store.
func folderPrefix(prefix string) string {
	if prefix == "" || strings.HasSuffix(prefix, "/") {
		return prefix
	}
	return prefix + "/"
}

func notFound(key string) error {
	return fmt.Errorf("%s: %w", key, arc.ErrNotFound)
}

// deletablePrefix refuses to delete the whole store.
func deletablePrefix(prefix string) (string, error) {
	if strings.Trim(prefix, "/") == "" {
		return "", fmt.Errorf("refusing to delete store root: %w", ErrInvalidKey)
	}
	return folderPrefix(prefix), nil
}

// Package blob stores uploaded report media as opaque key->bytes objects.
package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Store interface {
	// Put writes the object and returns its storage key.
	Put(ctx context.Context, ownerID, filename string, data []byte) (string, error)
	Delete(ctx context.Context, key string) error
}

// objectKey builds uploads/<owner>/<stamp>_<name> keys. Owner segments keep
// per-user listings cheap; the timestamp keeps repeated filenames distinct.
func objectKey(prefix, ownerID, filename string, now time.Time) string {
	name := filepath.Base(filename)
	stamp := now.Format("20060102_150405")
	return strings.TrimPrefix(strings.Join([]string{prefix, "uploads", ownerID, stamp + "_" + name}, "/"), "/")
}

// DirStore keeps objects on the local filesystem under a root directory.
// Used in dev mode and tests; production deployments use S3Store.
type DirStore struct {
	root string
}

func NewDirStore(root string) (*DirStore, error) {
	if root == "" {
		return nil, fmt.Errorf("blob root dir required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &DirStore{root: root}, nil
}

func (s *DirStore) Put(ctx context.Context, ownerID, filename string, data []byte) (string, error) {
	key := objectKey("", ownerID, filename, time.Now().UTC())
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return key, nil
}

func (s *DirStore) Delete(ctx context.Context, key string) error {
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

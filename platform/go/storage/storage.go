// Package storage abstracts the blob backends the deletion subsystem touches:
// per-tenant upload directories on the shared filesystem and the external
// object store holding exported archives.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ObjectStore is the narrow purge contract the post-deletion steps use. A GCS
// or S3 implementation plugs in here; the local implementation below is the
// default for single-node deployments.
type ObjectStore interface {
	// DeleteObject removes a single blob. Missing objects are treated as
	// already deleted and return nil.
	DeleteObject(ctx context.Context, path string) error
	// PurgePrefix removes everything under a prefix, returning how many
	// objects were deleted.
	PurgePrefix(ctx context.Context, prefix string) (int64, error)
}

// LocalStore keeps blobs under a root directory on the local filesystem.
type LocalStore struct {
	root string
}

// NewLocalStore builds a store rooted at the given directory.
func NewLocalStore(root string) (*LocalStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalStore{root: root}, nil
}

// Root returns the base directory.
func (s *LocalStore) Root() string {
	return s.root
}

// resolve joins and confines a relative path to the store root. Paths that
// escape the root are rejected rather than silently clamped.
func (s *LocalStore) resolve(rel string) (string, error) {
	cleaned := filepath.Clean("/" + rel)
	full := filepath.Join(s.root, cleaned)
	if !strings.HasPrefix(full, filepath.Clean(s.root)+string(os.PathSeparator)) && full != filepath.Clean(s.root) {
		return "", fmt.Errorf("path escapes storage root: %s", rel)
	}
	return full, nil
}

// DeleteObject removes one file; a missing file counts as success.
func (s *LocalStore) DeleteObject(ctx context.Context, path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object %s: %w", path, err)
	}
	return nil
}

// PurgePrefix removes the directory subtree under prefix and counts the files
// that existed.
func (s *LocalStore) PurgePrefix(ctx context.Context, prefix string) (int64, error) {
	full, err := s.resolve(prefix)
	if err != nil {
		return 0, err
	}

	var count int64
	err = filepath.Walk(full, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			count++
		}
		return nil
	})
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("walk prefix %s: %w", prefix, err)
	}

	if err := os.RemoveAll(full); err != nil {
		return 0, fmt.Errorf("purge prefix %s: %w", prefix, err)
	}
	return count, nil
}

// TenantUploadPrefix is where a tenant's document blobs live relative to the
// store root.
func TenantUploadPrefix(tenantID string) string {
	return filepath.Join("uploads", tenantID)
}

var _ ObjectStore = (*LocalStore)(nil)

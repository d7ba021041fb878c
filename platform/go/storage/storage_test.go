package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("blob"), 0o644))
}

func TestDeleteObject(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store, err := NewLocalStore(root)
	require.NoError(t, err)

	writeFile(t, filepath.Join(root, "uploads", "doc.pdf"))
	require.NoError(t, store.DeleteObject(context.Background(), "uploads/doc.pdf"))
	require.NoFileExists(t, filepath.Join(root, "uploads", "doc.pdf"))
}

func TestDeleteObjectMissingIsSuccess(t *testing.T) {
	t.Parallel()

	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.DeleteObject(context.Background(), "uploads/never-existed.pdf"))
}

func TestDeleteObjectTraversalStaysConfined(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store, err := NewLocalStore(filepath.Join(root, "store"))
	require.NoError(t, err)

	outside := filepath.Join(root, "outside.txt")
	writeFile(t, outside)

	require.NoError(t, store.DeleteObject(context.Background(), "../outside.txt"))
	require.FileExists(t, outside)
}

func TestPurgePrefixCountsAndRemoves(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store, err := NewLocalStore(root)
	require.NoError(t, err)

	tenantID := uuid.New().String()
	prefix := TenantUploadPrefix(tenantID)
	writeFile(t, filepath.Join(root, prefix, "a.pdf"))
	writeFile(t, filepath.Join(root, prefix, "sub", "b.pdf"))
	writeFile(t, filepath.Join(root, "uploads", "other-tenant", "keep.pdf"))

	n, err := store.PurgePrefix(context.Background(), prefix)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	require.NoDirExists(t, filepath.Join(root, prefix))
	require.FileExists(t, filepath.Join(root, "uploads", "other-tenant", "keep.pdf"))
}

func TestPurgePrefixMissingIsZero(t *testing.T) {
	t.Parallel()

	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	n, err := store.PurgePrefix(context.Background(), TenantUploadPrefix(uuid.New().String()))
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestNewLocalStoreRequiresRoot(t *testing.T) {
	t.Parallel()

	_, err := NewLocalStore("  ")
	require.Error(t, err)
}

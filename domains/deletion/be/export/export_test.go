package export

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewExporterValidation(t *testing.T) {
	t.Parallel()

	_, err := NewExporter("", time.Hour, zap.NewNop())
	require.Error(t, err)

	_, err = NewExporter(t.TempDir(), time.Hour, nil)
	require.Error(t, err)

	e, err := NewExporter(t.TempDir(), 0, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, DefaultRetention, e.retention)
}

func TestPurgeTempRemovesOnlyStagingFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	e, err := NewExporter(root, time.Hour, zap.NewNop())
	require.NoError(t, err)

	tenantID := uuid.New()
	staging := e.tempDir(tenantID)
	require.NoError(t, os.MkdirAll(filepath.Join(staging, "tables"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "users.json"), []byte("[]"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "tables", "shifts.json"), []byte("[]"), 0o644))

	archive := filepath.Join(root, "exports", tenantID.String()+"-gdpr.zip")
	require.NoError(t, os.MkdirAll(filepath.Dir(archive), 0o755))
	require.NoError(t, os.WriteFile(archive, []byte("zip"), 0o644))

	count, err := e.PurgeTemp(tenantID)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	_, err = os.Stat(staging)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(archive)
	require.NoError(t, err)
}

func TestPurgeTempMissingDirIsZero(t *testing.T) {
	t.Parallel()

	e, err := NewExporter(t.TempDir(), time.Hour, zap.NewNop())
	require.NoError(t, err)

	count, err := e.PurgeTemp(uuid.New())
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestFileChecksum(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "archive.zip")
	payload := []byte("tenant archive bytes")
	require.NoError(t, os.WriteFile(path, payload, 0o644))

	sum := sha256.Sum256(payload)
	got, err := fileChecksum(path)
	require.NoError(t, err)
	require.Equal(t, hex.EncodeToString(sum[:]), got)

	_, err = fileChecksum(filepath.Join(t.TempDir(), "missing.zip"))
	require.Error(t, err)
}

func TestNormalizeValue(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	require.Equal(t, id.String(), normalizeValue([16]byte(id)))

	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	require.Equal(t, "2026-03-10T11:00:00Z", normalizeValue(at))

	require.Equal(t, int64(7), normalizeValue(int64(7)))
}

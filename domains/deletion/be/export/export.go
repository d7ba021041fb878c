// Package export produces the GDPR data export and the final rollback backup
// for a tenant before any destructive step runs. Archives are plain zip files
// of per-table JSON dumps, registered with a checksum and a retention window.
package export

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/staffbridge/staffbridge-saas/platform/go/persistence"
)

// Kinds of registered artifacts.
const (
	KindGDPRExport  = "gdpr_export"
	KindFinalBackup = "final_backup"
)

// DefaultRetention is how long artifacts stay on disk before the retention
// sweeper may remove them.
const DefaultRetention = 90 * 24 * time.Hour

// Exporter writes archives under a configured root directory.
type Exporter struct {
	root      string
	retention time.Duration
	logger    *zap.Logger

	now func() time.Time
}

// NewExporter constructs an Exporter rooted at dir. A zero retention falls
// back to the 90-day default.
func NewExporter(root string, retention time.Duration, logger *zap.Logger) (*Exporter, error) {
	if root == "" {
		return nil, fmt.Errorf("export root is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create export root: %w", err)
	}
	return &Exporter{root: root, retention: retention, logger: logger, now: time.Now}, nil
}

// ExportTenant dumps every tenant-scoped table into a zip archive and returns
// the registration record. The dump runs inside the step's transaction, so it
// sees a consistent snapshot.
func (e *Exporter) ExportTenant(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID) (persistence.DataExportRecord, error) {
	return e.writeArchive(ctx, tx, tenantID, KindGDPRExport)
}

// BackupTenant writes the final pre-destruction backup archive.
func (e *Exporter) BackupTenant(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID) (persistence.DataExportRecord, error) {
	return e.writeArchive(ctx, tx, tenantID, KindFinalBackup)
}

// PurgeTemp removes the tenant's staging directory and returns how many files
// it held. Archives under exports/ are untouched; they expire with retention.
func (e *Exporter) PurgeTemp(tenantID uuid.UUID) (int64, error) {
	dir := e.tempDir(tenantID)

	var count int64
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
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
		return 0, fmt.Errorf("walk temp dir: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return 0, fmt.Errorf("purge temp dir: %w", err)
	}
	return count, nil
}

func (e *Exporter) tempDir(tenantID uuid.UUID) string {
	return filepath.Join(e.root, "tmp", tenantID.String())
}

func (e *Exporter) writeArchive(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, kind string) (persistence.DataExportRecord, error) {
	now := e.now().UTC()

	tables, err := persistence.TenantScopedTables(ctx, tx)
	if err != nil {
		return persistence.DataExportRecord{}, err
	}

	tmpDir := e.tempDir(tenantID)
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return persistence.DataExportRecord{}, fmt.Errorf("create staging dir: %w", err)
	}

	name := fmt.Sprintf("%s-%s-%s.zip", tenantID, now.Format("20060102T150405Z"), kind)
	staging := filepath.Join(tmpDir, name)

	if err := e.writeZip(ctx, tx, tenantID, tables, staging); err != nil {
		return persistence.DataExportRecord{}, err
	}

	checksum, err := fileChecksum(staging)
	if err != nil {
		return persistence.DataExportRecord{}, err
	}

	finalDir := filepath.Join(e.root, "exports")
	if err := os.MkdirAll(finalDir, 0o755); err != nil {
		return persistence.DataExportRecord{}, fmt.Errorf("create exports dir: %w", err)
	}
	finalPath := filepath.Join(finalDir, name)
	if err := os.Rename(staging, finalPath); err != nil {
		return persistence.DataExportRecord{}, fmt.Errorf("move archive into place: %w", err)
	}

	e.logger.Info("tenant archive written",
		zap.String("tenant_id", tenantID.String()),
		zap.String("kind", kind),
		zap.String("path", finalPath),
	)

	return persistence.DataExportRecord{
		ID:        uuid.New(),
		TenantID:  tenantID,
		FilePath:  finalPath,
		Checksum:  checksum,
		Kind:      kind,
		CreatedAt: now,
		ExpiresAt: now.Add(e.retention),
	}, nil
}

func (e *Exporter) writeZip(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, tables []string, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer f.Close() // nolint:errcheck

	zw := zip.NewWriter(f)
	for _, table := range tables {
		if _, whitelisted := persistence.ComplianceWhitelist[table]; whitelisted {
			continue
		}
		rows, err := dumpTable(ctx, tx, table, tenantID)
		if err != nil {
			return err
		}
		entry, err := zw.Create(table + ".json")
		if err != nil {
			return fmt.Errorf("create zip entry for %s: %w", table, err)
		}
		enc := json.NewEncoder(entry)
		if err := enc.Encode(rows); err != nil {
			return fmt.Errorf("encode %s dump: %w", table, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	return f.Close()
}

// dumpTable reads every tenant row of a table into generic maps keyed by
// column name.
func dumpTable(ctx context.Context, tx pgx.Tx, table string, tenantID uuid.UUID) ([]map[string]any, error) {
	query := fmt.Sprintf(`SELECT * FROM %s WHERE tenant_id = $1`, pgx.Identifier{table}.Sanitize())
	rows, err := tx.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("dump %s: %w", table, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read %s row: %w", table, err)
		}
		record := make(map[string]any, len(fields))
		for i, field := range fields {
			record[field.Name] = normalizeValue(values[i])
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// normalizeValue makes pgx-native values JSON-friendly.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case [16]byte:
		return uuid.UUID(val).String()
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open archive for checksum: %w", err)
	}
	defer f.Close() // nolint:errcheck

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash archive: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

package execstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqliteDriver "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// GormStore persists ExecutionRecords via gorm, over sqlite or postgres.
type GormStore struct {
	db *gorm.DB
}

// executionRow is the gorm row shape backing ExecutionRecord.
type executionRow struct {
	ExecutionID   string `gorm:"primaryKey"`
	TenantID      string `gorm:"index"`
	CodeHash      string
	Status        string
	ResultSummary string
	ErrorMessage  string
	ToolCallCount int
	DurationMS    int64
	CreatedAt     time.Time `gorm:"index"`
}

func (executionRow) TableName() string { return "ptc_execution_records" }

func rowFromRecord(r ExecutionRecord) executionRow {
	return executionRow{
		ExecutionID:   r.ExecutionID,
		TenantID:      r.TenantID,
		CodeHash:      r.CodeHash,
		Status:        r.Status,
		ResultSummary: r.ResultSummary,
		ErrorMessage:  r.ErrorMessage,
		ToolCallCount: r.ToolCallCount,
		DurationMS:    r.DurationMS,
		CreatedAt:     r.CreatedAt,
	}
}

func (row executionRow) toRecord() ExecutionRecord {
	return ExecutionRecord{
		ExecutionID:   row.ExecutionID,
		TenantID:      row.TenantID,
		CodeHash:      row.CodeHash,
		Status:        row.Status,
		ResultSummary: row.ResultSummary,
		ErrorMessage:  row.ErrorMessage,
		ToolCallCount: row.ToolCallCount,
		DurationMS:    row.DurationMS,
		CreatedAt:     row.CreatedAt,
	}
}

// NewGormStore opens the execution records table over driver/dsn
// ("sqlite" or "postgres") and migrates ptc_execution_records.
func NewGormStore(driver, dsn string) (*GormStore, error) {
	db, err := openExecutionDB(strings.ToLower(strings.TrimSpace(driver)), strings.TrimSpace(dsn))
	if err != nil {
		return nil, fmt.Errorf("execstore: open store: %w", err)
	}
	store := &GormStore{db: db}
	if err := store.db.AutoMigrate(&executionRow{}); err != nil {
		return nil, fmt.Errorf("execstore: migrate: %w", err)
	}
	return store, nil
}

// openExecutionDB opens the gorm connection backing the execution
// record store, creating the parent directory of a sqlite file DSN if
// needed. driver/dsn are expected to already be validated and defaulted
// by internal/config; this only distinguishes the two drivers this
// store actually supports.
func openExecutionDB(driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case "sqlite":
		if err := ensureSQLiteRecordsDir(dsn); err != nil {
			return nil, err
		}
		return gorm.Open(sqliteDriver.Open(dsn), &gorm.Config{})
	case "postgres":
		return gorm.Open(postgres.Open(dsn), &gorm.Config{})
	default:
		return nil, fmt.Errorf("execstore: unsupported driver %q", driver)
	}
}

// ensureSQLiteRecordsDir creates the parent directory of a sqlite file
// DSN so a fresh deployment doesn't fail to open ptchost.db under a
// directory that hasn't been created yet.
func ensureSQLiteRecordsDir(dsn string) error {
	path, ok := sqliteFilePath(dsn)
	if !ok {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("execstore: create sqlite db dir: %w", err)
	}
	return nil
}

// sqliteFilePath extracts the on-disk path from a sqlite DSN, or
// reports ok=false for an in-memory DSN with no directory to create.
// This store only ever sees a plain file path from config (e.g.
// "ptchost.db") or ":memory:" from tests, not the full range of
// sqlite's "file:...?mode=..." URI DSNs, so it doesn't try to parse
// those.
func sqliteFilePath(dsn string) (string, bool) {
	raw := strings.TrimSpace(dsn)
	if raw == "" || strings.EqualFold(raw, ":memory:") {
		return "", false
	}
	return raw, true
}

func (s *GormStore) RecordExecution(ctx context.Context, record ExecutionRecord) error {
	row := rowFromRecord(record)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("execstore: record execution: %w", err)
	}
	return nil
}

func (s *GormStore) ListRecent(ctx context.Context, tenantID string, limit int) ([]ExecutionRecord, error) {
	query := s.db.WithContext(ctx).Model(&executionRow{}).Order("created_at DESC")
	if tenantID != "" {
		query = query.Where("tenant_id = ?", tenantID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []executionRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("execstore: list recent: %w", err)
	}
	out := make([]ExecutionRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRecord())
	}
	return out, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("execstore: get sql db: %w", err)
	}
	return sqlDB.Close()
}

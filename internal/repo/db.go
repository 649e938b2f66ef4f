// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file contains database bootstrapping helpers for
// SQLite (pure Go driver) and PostgreSQL, schema migrations, and the startup
// schema capability check that selects the entry write strategy.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/visitproof/internal/domain"
)

// OpenDB opens the configured relational store and registers the
// OpenTelemetry plugin so every statement produces a span.
func OpenDB(driver, dsn string) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case "sqlite":
		db, err = OpenSQLite(dsn)
	case "postgres":
		db, err = OpenPostgres(dsn)
	default:
		return nil, fmt.Errorf("repo: unsupported driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := db.Use(tracing.NewPlugin()); err != nil {
		return nil, fmt.Errorf("repo: register tracing: %w", err)
	}
	return db, nil
}

// OpenSQLite opens (or creates) a SQLite database and applies PRAGMAs.
func OpenSQLite(path string) (*gorm.DB, error) {
	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	// PRAGMAs
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	// Pool
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return db, nil
}

// OpenPostgres opens a PostgreSQL database using the pgx-backed GORM driver.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return db, nil
}

// AutoMigrate creates or updates the entries and visit_logs tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Entry{},
		&domain.VisitLog{},
	)
}

// Columns written on every insert. An entries table missing any of these is
// unusable.
var requiredColumns = []string{
	"id", "created_at", "updated_at", "client_txn_id",
	"name", "doc_no", "reg_no", "contact", "remark", "reason",
	"reg_norm_key", "id_norm_key",
	"image_object_key", "external_file_id", "external_url",
	"sync_status", "sync_attempts",
}

// Columns added after the first schema version. Deployments whose schema is
// managed out of band may not have them yet.
var optionalColumns = []string{
	"image_hash", "reason_other", "tower", "unit", "sync_error",
}

// Schema describes which optional entry columns exist. It is detected once at
// startup and passed to every write so statements never name a missing
// column.
type Schema struct {
	present map[string]bool
}

// FullSchema reports every optional column as present. It matches a database
// created by AutoMigrate.
func FullSchema() Schema {
	s := Schema{present: make(map[string]bool, len(optionalColumns))}
	for _, c := range optionalColumns {
		s.present[c] = true
	}
	return s
}

// DetectSchema inspects the entries table. It fails only when a required
// column is missing.
func DetectSchema(db *gorm.DB) (Schema, error) {
	m := db.Migrator()
	if !m.HasTable(&domain.Entry{}) {
		return Schema{}, fmt.Errorf("repo: table %q does not exist", domain.Entry{}.TableName())
	}
	for _, c := range requiredColumns {
		if !m.HasColumn(&domain.Entry{}, c) {
			return Schema{}, fmt.Errorf("repo: required column entries.%s is missing", c)
		}
	}
	s := Schema{present: make(map[string]bool, len(optionalColumns))}
	for _, c := range optionalColumns {
		s.present[c] = m.HasColumn(&domain.Entry{}, c)
	}
	return s, nil
}

// Has reports whether the optional column exists.
func (s Schema) Has(column string) bool { return s.present[column] }

// Missing lists the optional columns that are absent.
func (s Schema) Missing() []string {
	var out []string
	for _, c := range optionalColumns {
		if !s.present[c] {
			out = append(out, c)
		}
	}
	return out
}

// Columns returns the column set used for entry inserts.
func (s Schema) Columns() []string {
	out := make([]string, 0, len(requiredColumns)+len(optionalColumns))
	out = append(out, requiredColumns...)
	for _, c := range optionalColumns {
		if s.present[c] {
			out = append(out, c)
		}
	}
	return out
}

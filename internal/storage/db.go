package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't handle concurrent writes well
	db.SetMaxIdleConns(1)

	return &DB{db}, nil
}

// Migrate runs database migrations
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationDeployments,
		migrationIndexes,
	}

	for i, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	// ALTER TABLE migrations (ignore "duplicate column" errors)
	alterMigrations := []string{
		migrationInferenceComponent,
	}
	for _, migration := range alterMigrations {
		_, _ = db.ExecContext(ctx, migration)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

const migrationDeployments = `
CREATE TABLE IF NOT EXISTS deployments (
	id TEXT PRIMARY KEY,
	endpoint_name TEXT NOT NULL,
	model_name TEXT NOT NULL,
	region TEXT NOT NULL,
	image TEXT NOT NULL,
	server TEXT NOT NULL,
	model_id TEXT NOT NULL,
	instance_type TEXT NOT NULL,
	instance_count INTEGER NOT NULL DEFAULT 1,
	copies INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'creating',
	error TEXT,

	-- Redacted container environment as JSON
	env_json TEXT,

	-- Timestamps
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	in_service_at DATETIME,
	deleted_at DATETIME
);
`

const migrationIndexes = `
CREATE INDEX IF NOT EXISTS idx_deployments_endpoint ON deployments(endpoint_name);
CREATE INDEX IF NOT EXISTS idx_deployments_status ON deployments(status);
CREATE INDEX IF NOT EXISTS idx_deployments_created_at ON deployments(created_at);
`

const migrationInferenceComponent = `
ALTER TABLE deployments ADD COLUMN inference_component_name TEXT;
`

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Package storage persists benchmark run history in SQLite, so results
// from past runs can be queried without trawling result files.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

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

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite doesn't handle concurrent writes well
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &DB{db}, nil
}

// Migrate runs database migrations
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationRuns,
		migrationResults,
		migrationIndexes,
	}

	for i, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

const migrationRuns = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	run_dir TEXT NOT NULL,
	code_hash TEXT NOT NULL,
	started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

const migrationResults = `
CREATE TABLE IF NOT EXISTS results (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	recipe_dir TEXT NOT NULL,
	variant TEXT NOT NULL,
	model TEXT NOT NULL,
	engine TEXT NOT NULL,
	gpu_name TEXT NOT NULL,
	gpu_count INTEGER NOT NULL,
	status TEXT NOT NULL,
	result_path TEXT,

	-- Headline metrics from the bench results table
	successful_requests INTEGER,
	failed_requests INTEGER,
	benchmark_duration_s REAL,
	request_throughput REAL,
	output_token_throughput REAL,
	total_token_throughput REAL,
	mean_ttft_ms REAL,
	p99_ttft_ms REAL,
	mean_tpot_ms REAL,

	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,

	FOREIGN KEY (run_id) REFERENCES runs(id)
);
`

const migrationIndexes = `
CREATE INDEX IF NOT EXISTS idx_results_run_id ON results(run_id);
CREATE INDEX IF NOT EXISTS idx_results_model ON results(model);
CREATE INDEX IF NOT EXISTS idx_results_gpu_name ON results(gpu_name);
CREATE INDEX IF NOT EXISTS idx_results_status ON results(status);
`

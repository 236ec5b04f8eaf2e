// Package db provides the SQLite catalog of job artifacts written under an
// account's output directory.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const CatalogDBFile = "catalog.db"

// CatalogSchema indexes the JSON job snapshots kept next to the workbooks.
const CatalogSchema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS artifacts (
    uuid            TEXT PRIMARY KEY,
    account         TEXT NOT NULL,
    stage           TEXT NOT NULL,  -- search | create | update | activation | add
    job_id          INTEGER NOT NULL DEFAULT 0,
    label           TEXT DEFAULT '',
    content_hash    TEXT NOT NULL,
    storage_path    TEXT NOT NULL,
    byte_size       INTEGER DEFAULT 0,
    created_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_artifacts_stage ON artifacts(account, stage);
CREATE INDEX IF NOT EXISTS idx_artifacts_job ON artifacts(stage, job_id);
`

// OpenCatalog opens or creates the catalog database in dir.
func OpenCatalog(dir string) (*sql.DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating catalog directory: %w", err)
	}
	dbPath := filepath.Join(dir, CatalogDBFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening catalog db: %w", err)
	}

	if _, err := db.Exec(CatalogSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing catalog schema: %w", err)
	}

	return db, nil
}

// EnsureOutputDir creates the per-account bulk output layout.
func EnsureOutputDir(path string) error {
	dirs := []string{
		path,
		filepath.Join(path, "json"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}
	return nil
}

// Package storage opens the orchestrator's SQLite database.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mattjoyce/vkore/internal/fsguard"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := fsguard.RequireLocal(path, "state.path"); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Basic health check + apply a few safe pragmas.
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA journal_mode = WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS module_launch (
  id          TEXT PRIMARY KEY,
  module      TEXT NOT NULL,
  kind        TEXT NOT NULL,
  trigger     TEXT NOT NULL,
  attempt     INTEGER NOT NULL DEFAULT 0,
  pid         INTEGER,
  state       TEXT NOT NULL,
  exit_code   INTEGER,
  started_at  TEXT NOT NULL,
  exited_at   TEXT,
  last_error  TEXT,
  output_tail TEXT
);`,
		`CREATE TABLE IF NOT EXISTS dependency_install (
  dependency   TEXT PRIMARY KEY,
  module       TEXT NOT NULL,
  source       TEXT NOT NULL,
  path         TEXT NOT NULL,
  installed_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS module_launch_module_started_at_idx ON module_launch(module, started_at);`,
		`CREATE INDEX IF NOT EXISTS module_launch_state_idx ON module_launch(state);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}

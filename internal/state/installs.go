package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Install records a dependency fetched into the dependencies directory.
type Install struct {
	Dependency  string
	Module      string
	Source      string
	Path        string
	InstalledAt time.Time
}

type InstallStore struct {
	db *sql.DB
}

func NewInstallStore(db *sql.DB) *InstallStore {
	return &InstallStore{db: db}
}

// RecordInstall upserts an install. Reinstalling a dependency replaces the row.
func (s *InstallStore) RecordInstall(ctx context.Context, in Install) error {
	if in.Dependency == "" {
		return fmt.Errorf("dependency name is empty")
	}
	at := in.InstalledAt
	if at.IsZero() {
		at = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO dependency_install(dependency, module, source, path, installed_at)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(dependency) DO UPDATE SET
  module = excluded.module,
  source = excluded.source,
  path = excluded.path,
  installed_at = excluded.installed_at;
`, in.Dependency, in.Module, in.Source, in.Path, at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert dependency install: %w", err)
	}
	return nil
}

// List returns every recorded install ordered by dependency name.
func (s *InstallStore) List(ctx context.Context) ([]Install, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT dependency, module, source, path, installed_at
FROM dependency_install
ORDER BY dependency;
`)
	if err != nil {
		return nil, fmt.Errorf("query dependency installs: %w", err)
	}
	defer rows.Close()

	var out []Install
	for rows.Next() {
		var (
			in Install
			at string
		)
		if err := rows.Scan(&in.Dependency, &in.Module, &in.Source, &in.Path, &at); err != nil {
			return nil, fmt.Errorf("scan dependency install: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
			in.InstalledAt = t
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dependency installs: %w", err)
	}
	return out, nil
}

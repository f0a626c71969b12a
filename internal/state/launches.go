// Package state persists launch history and dependency installs.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// MaxOutputTailBytes caps the stored output tail per launch.
const MaxOutputTailBytes = 64 * 1024

// Launch is one recorded module instance.
type Launch struct {
	ID         string
	Module     string
	Kind       string // process or callable
	Trigger    string // autostart, interval, manual, restart
	Attempt    int
	PID        int
	State      string
	ExitCode   *int
	StartedAt  time.Time
	ExitedAt   *time.Time
	LastError  string
	OutputTail string
}

// LaunchExit is the terminal status of a launch.
type LaunchExit struct {
	State      string
	ExitCode   int
	ExitedAt   time.Time
	LastError  string
	OutputTail string
}

type LaunchStore struct {
	db *sql.DB
}

func NewLaunchStore(db *sql.DB) *LaunchStore {
	return &LaunchStore{db: db}
}

// RecordLaunch inserts a running launch.
func (s *LaunchStore) RecordLaunch(ctx context.Context, l Launch) error {
	if l.ID == "" || l.Module == "" {
		return fmt.Errorf("launch id and module are required")
	}
	started := l.StartedAt
	if started.IsZero() {
		started = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO module_launch(id, module, kind, trigger, attempt, pid, state, started_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, l.ID, l.Module, l.Kind, l.Trigger, l.Attempt, nullInt(l.PID), l.State, started.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert module launch: %w", err)
	}
	return nil
}

// RecordExit stores the terminal status of a launch.
func (s *LaunchStore) RecordExit(ctx context.Context, id string, exit LaunchExit) error {
	tail := exit.OutputTail
	if len(tail) > MaxOutputTailBytes {
		tail = tail[len(tail)-MaxOutputTailBytes:]
	}
	exitedAt := exit.ExitedAt
	if exitedAt.IsZero() {
		exitedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE module_launch
SET state = ?, exit_code = ?, exited_at = ?, last_error = ?, output_tail = ?
WHERE id = ?;
`, exit.State, exit.ExitCode, exitedAt.UTC().Format(time.RFC3339Nano), nullString(exit.LastError), nullString(tail), id)
	if err != nil {
		return fmt.Errorf("update module launch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update module launch: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("launch %s not found", id)
	}
	return nil
}

// Get returns a single launch by ID.
func (s *LaunchStore) Get(ctx context.Context, id string) (*Launch, error) {
	row := s.db.QueryRowContext(ctx, launchSelect+" WHERE id = ?;", id)
	l, err := scanLaunch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("launch %s not found", id)
	}
	return l, err
}

// Recent returns the newest launches first. An empty module matches all.
func (s *LaunchStore) Recent(ctx context.Context, module string, limit int) ([]Launch, error) {
	if limit <= 0 {
		limit = 50
	}

	var (
		rows *sql.Rows
		err  error
	)
	if module == "" {
		rows, err = s.db.QueryContext(ctx, launchSelect+" ORDER BY started_at DESC LIMIT ?;", limit)
	} else {
		rows, err = s.db.QueryContext(ctx, launchSelect+" WHERE module = ? ORDER BY started_at DESC LIMIT ?;", module, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query module launches: %w", err)
	}
	defer rows.Close()

	var out []Launch
	for rows.Next() {
		l, err := scanLaunch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate module launches: %w", err)
	}
	return out, nil
}

const launchSelect = `SELECT id, module, kind, trigger, attempt, pid, state, exit_code, started_at, exited_at, last_error, output_tail FROM module_launch`

type scanner interface {
	Scan(dest ...any) error
}

func scanLaunch(row scanner) (*Launch, error) {
	var (
		l        Launch
		pid      sql.NullInt64
		exitCode sql.NullInt64
		started  string
		exited   sql.NullString
		lastErr  sql.NullString
		tail     sql.NullString
	)
	if err := row.Scan(&l.ID, &l.Module, &l.Kind, &l.Trigger, &l.Attempt, &pid, &l.State, &exitCode, &started, &exited, &lastErr, &tail); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan module launch: %w", err)
	}

	l.PID = int(pid.Int64)
	if exitCode.Valid {
		code := int(exitCode.Int64)
		l.ExitCode = &code
	}
	if t, err := time.Parse(time.RFC3339Nano, started); err == nil {
		l.StartedAt = t
	}
	if exited.Valid {
		if t, err := time.Parse(time.RFC3339Nano, exited.String); err == nil {
			l.ExitedAt = &t
		}
	}
	l.LastError = lastErr.String
	l.OutputTail = tail.String
	return &l, nil
}

func nullInt(v int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v != 0}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/artpar/mcplaunch/domain/launch"
	"github.com/artpar/mcplaunch/ports"
)

// LaunchStore implements ports.LaunchStore using SQLite.
type LaunchStore struct {
	db *DB
}

// NewLaunchStore creates a new SQLite launch store.
func NewLaunchStore(db *DB) *LaunchStore {
	return &LaunchStore{db: db}
}

// Create stores a new attempt.
func (s *LaunchStore) Create(ctx context.Context, r launch.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO launches (id, path, name, state, error, pid, started_at, duration_ms, exit_code, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Path, r.Name, string(r.State), r.Error, r.PID,
		r.StartedAt.UTC(), r.DurationMS, r.ExitCode, r.EndedAt)

	return err
}

// Finish records the exit of a loaded module.
func (s *LaunchStore) Finish(ctx context.Context, id string, exitCode int, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE launches SET exit_code = ?, ended_at = ? WHERE id = ?
	`, exitCode, at.UTC(), id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Get retrieves an attempt by ID.
func (s *LaunchStore) Get(ctx context.Context, id string) (launch.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, path, name, state, error, pid, started_at, duration_ms, exit_code, ended_at
		FROM launches
		WHERE id = ?
	`, id)

	r, err := scanLaunch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return launch.Record{}, ErrNotFound
	}
	return r, err
}

// List returns the most recent attempts, newest first.
func (s *LaunchStore) List(ctx context.Context, limit int) ([]launch.Record, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, path, name, state, error, pid, started_at, duration_ms, exit_code, ended_at
		FROM launches
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []launch.Record
	for rows.Next() {
		r, err := scanLaunch(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLaunch(row scanner) (launch.Record, error) {
	var r launch.Record
	var state string
	var exitCode sql.NullInt64
	var endedAt sql.NullTime

	err := row.Scan(
		&r.ID, &r.Path, &r.Name, &state, &r.Error, &r.PID,
		&r.StartedAt, &r.DurationMS, &exitCode, &endedAt,
	)
	if err != nil {
		return launch.Record{}, err
	}

	r.State = launch.State(state)
	if exitCode.Valid {
		code := int(exitCode.Int64)
		r.ExitCode = &code
	}
	if endedAt.Valid {
		t := endedAt.Time
		r.EndedAt = &t
	}
	return r, nil
}

// Ensure interface compliance.
var _ ports.LaunchStore = (*LaunchStore)(nil)

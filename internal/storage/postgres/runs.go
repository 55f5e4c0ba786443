package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/jamesturk/bobsled/internal/storage"
)

const runColumns = "uuid, task, status, start_time, end_time, run_info, logs, exit_code"

// AddRun inserts a new run row. RunInfo is stored as JSONB.
func (s *Store) AddRun(ctx context.Context, run *storage.Run) error {
	infoJSON, err := json.Marshal(run.RunInfo)
	if err != nil {
		return fmt.Errorf("failed to encode run info: %w", err)
	}

	query := `
		INSERT INTO runs (uuid, task, status, start_time, end_time, run_info, logs, exit_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = s.db.ExecContext(ctx, query,
		run.UUID, run.Task, run.Status, run.Start, run.End,
		infoJSON, run.Logs, run.ExitCode,
	)
	return err
}

// SaveRun overwrites the mutable fields of an existing run.
func (s *Store) SaveRun(ctx context.Context, run *storage.Run) error {
	infoJSON, err := json.Marshal(run.RunInfo)
	if err != nil {
		return fmt.Errorf("failed to encode run info: %w", err)
	}

	query := `
		UPDATE runs
		SET status = $2, end_time = $3, run_info = $4, logs = $5, exit_code = $6
		WHERE uuid = $1
	`
	res, err := s.db.ExecContext(ctx, query,
		run.UUID, run.Status, run.End, infoJSON, run.Logs, run.ExitCode,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s does not exist", run.UUID)
	}
	return nil
}

func scanRun(scan func(dest ...any) error) (*storage.Run, error) {
	var run storage.Run
	var infoJSON []byte
	var end sql.NullTime
	var exitCode sql.NullInt64

	if err := scan(&run.UUID, &run.Task, &run.Status, &run.Start, &end,
		&infoJSON, &run.Logs, &exitCode); err != nil {
		return nil, err
	}
	if end.Valid {
		t := end.Time
		run.End = &t
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		run.ExitCode = &code
	}
	if len(infoJSON) > 0 {
		if err := json.Unmarshal(infoJSON, &run.RunInfo); err != nil {
			return nil, fmt.Errorf("failed to decode run info: %w", err)
		}
	}
	return &run, nil
}

// GetRun returns the run with the given uuid, or nil if none exists.
func (s *Store) GetRun(ctx context.Context, uuid string) (*storage.Run, error) {
	query := fmt.Sprintf("SELECT %s FROM runs WHERE uuid = $1", runColumns)

	run, err := scanRun(s.db.QueryRowContext(ctx, query, uuid).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// GetRuns returns runs matching the filter, newest first.
func (s *Store) GetRuns(ctx context.Context, filter storage.RunFilter) ([]*storage.Run, error) {
	var conditions []string
	var args []any

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, pq.Array(statuses))
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.TaskName != "" {
		args = append(args, filter.TaskName)
		conditions = append(conditions, fmt.Sprintf("task = $%d", len(args)))
	}

	query := fmt.Sprintf("SELECT %s FROM runs", runColumns)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY start_time DESC"
	if filter.Latest > 0 {
		args = append(args, filter.Latest)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*storage.Run
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

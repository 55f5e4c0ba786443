package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/jamesturk/bobsled/internal/storage"
)

const taskColumns = "name, image, entrypoint, environment, memory, cpu, enabled, timeout_minutes, tags, triggers, next_tasks"

func scanTask(scan func(dest ...any) error) (*storage.Task, error) {
	var task storage.Task
	var entrypoint, tags, triggers, nextTasks []byte

	if err := scan(&task.Name, &task.Image, &entrypoint, &task.Environment,
		&task.Memory, &task.CPU, &task.Enabled, &task.TimeoutMinutes,
		&tags, &triggers, &nextTasks); err != nil {
		return nil, err
	}

	for _, field := range []struct {
		data []byte
		dst  any
	}{
		{entrypoint, &task.Entrypoint},
		{tags, &task.Tags},
		{triggers, &task.Triggers},
		{nextTasks, &task.NextTasks},
	} {
		if len(field.data) == 0 {
			continue
		}
		if err := json.Unmarshal(field.data, field.dst); err != nil {
			return nil, fmt.Errorf("failed to decode task field: %w", err)
		}
	}
	return &task, nil
}

// GetTasks returns all registered tasks.
func (s *Store) GetTasks(ctx context.Context) ([]*storage.Task, error) {
	query := fmt.Sprintf("SELECT %s FROM tasks ORDER BY name", taskColumns)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*storage.Task
	for rows.Next() {
		task, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// GetTask returns the task with the given name, or nil if none exists.
func (s *Store) GetTask(ctx context.Context, name string) (*storage.Task, error) {
	query := fmt.Sprintf("SELECT %s FROM tasks WHERE name = $1", taskColumns)

	task, err := scanTask(s.db.QueryRowContext(ctx, query, name).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return task, err
}

// SetTasks replaces the full task set inside one transaction: tasks in
// the new set are upserted by name, tasks absent from it are removed.
func (s *Store) SetTasks(ctx context.Context, tasks []*storage.Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	names := make([]string, len(tasks))
	for i, t := range tasks {
		names[i] = t.Name
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM tasks WHERE NOT (name = ANY($1))", pq.Array(names)); err != nil {
		return err
	}

	upsert := `
		INSERT INTO tasks (name, image, entrypoint, environment, memory, cpu, enabled, timeout_minutes, tags, triggers, next_tasks)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (name) DO UPDATE SET
			image = EXCLUDED.image,
			entrypoint = EXCLUDED.entrypoint,
			environment = EXCLUDED.environment,
			memory = EXCLUDED.memory,
			cpu = EXCLUDED.cpu,
			enabled = EXCLUDED.enabled,
			timeout_minutes = EXCLUDED.timeout_minutes,
			tags = EXCLUDED.tags,
			triggers = EXCLUDED.triggers,
			next_tasks = EXCLUDED.next_tasks
	`
	for _, t := range tasks {
		entrypoint, err := jsonField(t.Entrypoint)
		if err != nil {
			return err
		}
		tags, err := jsonField(t.Tags)
		if err != nil {
			return err
		}
		triggers, err := jsonField(t.Triggers)
		if err != nil {
			return err
		}
		nextTasks, err := jsonField(t.NextTasks)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, upsert,
			t.Name, t.Image, entrypoint, t.Environment, t.Memory, t.CPU,
			t.Enabled, t.TimeoutMinutes, tags, triggers, nextTasks,
		); err != nil {
			return fmt.Errorf("failed to upsert task %s: %w", t.Name, err)
		}
	}

	return tx.Commit()
}

// jsonField marshals a slice for JSONB storage, normalizing nil to [].
func jsonField(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return []byte("[]"), nil
	}
	return data, nil
}

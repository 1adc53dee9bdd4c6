package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/opencommander/commander/internal/core"
)

// CreateTask inserts a task together with its first pending execution.
func (s *Store) CreateTask(ctx context.Context, task *core.Task, exec *core.TaskExecution) error {
	now := s.now().UTC()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	prepareExecution(exec, task.ID, now)

	return s.withTx(ctx, "create task", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, project_id, body, agent_id, mount_point, created_by, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			task.ID, task.ProjectID, task.Body, task.AgentID, task.MountPoint,
			task.CreatedBy, toMillis(task.CreatedAt)); err != nil {
			return fmt.Errorf("inserting task: %w", err)
		}
		return insertExecution(ctx, tx, exec)
	})
}

// GetTask returns the task with id, or a not-found error.
func (s *Store) GetTask(ctx context.Context, id string) (*core.Task, error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT id, project_id, body, agent_id, mount_point, created_by, created_at
		FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("task", id)
	}
	return task, err
}

// ListTasks returns the tasks of a project, newest first.
func (s *Store) ListTasks(ctx context.Context, projectID string) ([]core.Task, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, project_id, body, agent_id, mount_point, created_by, created_at
		FROM tasks WHERE project_id = ? ORDER BY created_at DESC, id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	tasks := []core.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

func scanTask(row scanner) (*core.Task, error) {
	var (
		t       core.Task
		created int64
	)
	if err := row.Scan(&t.ID, &t.ProjectID, &t.Body, &t.AgentID, &t.MountPoint, &t.CreatedBy, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning task: %w", err)
	}
	t.CreatedAt = fromMillis(created)
	return &t, nil
}

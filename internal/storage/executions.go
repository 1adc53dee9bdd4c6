package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opencommander/commander/internal/core"
)

func prepareExecution(exec *core.TaskExecution, taskID string, now time.Time) {
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	if exec.TaskID == "" {
		exec.TaskID = taskID
	}
	if exec.Status == "" {
		exec.Status = core.ExecutionPending
	}
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = now
	}
}

func insertExecution(ctx context.Context, tx *sql.Tx, exec *core.TaskExecution) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO task_executions (id, task_id, status, created_at) VALUES (?, ?, ?, ?)`,
		exec.ID, exec.TaskID, string(exec.Status), toMillis(exec.CreatedAt)); err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

// CreateExecution inserts a new pending execution for an existing task.
func (s *Store) CreateExecution(ctx context.Context, exec *core.TaskExecution) error {
	prepareExecution(exec, exec.TaskID, s.now().UTC())
	return s.withTx(ctx, "create execution", func(tx *sql.Tx) error {
		return insertExecution(ctx, tx, exec)
	})
}

// GetExecution returns an execution with its decompressed logs.
func (s *Store) GetExecution(ctx context.Context, id string) (*core.TaskExecution, error) {
	var (
		exec     core.TaskExecution
		status   string
		logs     []byte
		encoding string
		created  int64
		started  sql.NullInt64
		finished sql.NullInt64
	)
	err := s.readDB.QueryRowContext(ctx, `
		SELECT id, task_id, status, logs, logs_encoding, result, error, created_at, started_at, finished_at
		FROM task_executions WHERE id = ?`, id).
		Scan(&exec.ID, &exec.TaskID, &status, &logs, &encoding, &exec.Result, &exec.Error,
			&created, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("execution", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting execution: %w", err)
	}

	exec.Logs, err = decodeLogs(logs, encoding)
	if err != nil {
		return nil, fmt.Errorf("execution %s: %w", id, err)
	}
	exec.Status = core.ExecutionStatus(status)
	exec.CreatedAt = fromMillis(created)
	exec.StartedAt = fromNullMillisPtr(started)
	exec.FinishedAt = fromNullMillisPtr(finished)
	return &exec, nil
}

// ListExecutions returns a task's executions, newest first, without logs.
func (s *Store) ListExecutions(ctx context.Context, taskID string) ([]core.TaskExecution, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, task_id, status, result, error, created_at, started_at, finished_at
		FROM task_executions WHERE task_id = ? ORDER BY created_at DESC, id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}
	defer rows.Close()

	execs := []core.TaskExecution{}
	for rows.Next() {
		var (
			exec     core.TaskExecution
			status   string
			created  int64
			started  sql.NullInt64
			finished sql.NullInt64
		)
		if err := rows.Scan(&exec.ID, &exec.TaskID, &status, &exec.Result, &exec.Error,
			&created, &started, &finished); err != nil {
			return nil, fmt.Errorf("scanning execution: %w", err)
		}
		exec.Status = core.ExecutionStatus(status)
		exec.CreatedAt = fromMillis(created)
		exec.StartedAt = fromNullMillisPtr(started)
		exec.FinishedAt = fromNullMillisPtr(finished)
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// MarkExecutionRunning moves a pending execution to running.
func (s *Store) MarkExecutionRunning(ctx context.Context, id string, at time.Time) error {
	return s.transition(ctx, id, core.ExecutionRunning, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE task_executions SET status = ?, started_at = ? WHERE id = ?`,
			string(core.ExecutionRunning), toMillis(at), id)
		return err
	})
}

// FinishExecution records the terminal status, logs and result of an execution.
func (s *Store) FinishExecution(ctx context.Context, id string, status core.ExecutionStatus, logs, result, errMsg string, at time.Time) error {
	if !status.IsTerminal() {
		return core.ErrState(core.CodeInvalidTransition,
			fmt.Sprintf("finish requires a terminal status, got %s", status))
	}
	data, encoding := encodeLogs(logs)
	return s.transition(ctx, id, status, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE task_executions
			SET status = ?, logs = ?, logs_encoding = ?, logs_size = ?, result = ?, error = ?, finished_at = ?
			WHERE id = ?`,
			string(status), data, encoding, len(logs), result, errMsg, toMillis(at), id)
		return err
	})
}

// transition checks the current status inside the write transaction
// before applying update.
func (s *Store) transition(ctx context.Context, id string, next core.ExecutionStatus, update func(tx *sql.Tx) error) error {
	return s.withTx(ctx, "update execution", func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM task_executions WHERE id = ?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return core.ErrNotFound("execution", id)
		}
		if err != nil {
			return fmt.Errorf("reading execution status: %w", err)
		}
		if !core.ExecutionStatus(current).CanTransitionTo(next) {
			return core.ErrState(core.CodeInvalidTransition,
				fmt.Sprintf("execution %s cannot move from %s to %s", id, current, next))
		}
		if err := update(tx); err != nil {
			return fmt.Errorf("updating execution: %w", err)
		}
		return nil
	})
}

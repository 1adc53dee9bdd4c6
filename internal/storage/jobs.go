package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opencommander/commander/internal/core"
)

// InsertJob stores a waiting job. A job whose ID already exists is left
// untouched and inserted reports false.
func (s *Store) InsertJob(ctx context.Context, job *core.Job) (inserted bool, err error) {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now().UTC()
	}
	err = s.retryWrite(ctx, "insert job", func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO queue_jobs (id, name, payload, state, max_attempts, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`,
			job.ID, job.Name, job.Payload, string(core.JobWaiting), job.MaxAttempts, toMillis(job.CreatedAt))
		if err != nil {
			return fmt.Errorf("inserting job: %w", err)
		}
		n, _ := res.RowsAffected()
		inserted = n > 0
		return nil
	})
	return inserted, err
}

// ClaimJob atomically moves the oldest waiting job to active and locks it
// for workerID until now+lockFor. It returns nil when nothing is waiting.
func (s *Store) ClaimJob(ctx context.Context, workerID string, lockFor time.Duration, now time.Time) (*core.Job, error) {
	var job *core.Job
	err := s.retryWrite(ctx, "claim job", func() error {
		var (
			j       core.Job
			created int64
		)
		err := s.db.QueryRowContext(ctx, `
			UPDATE queue_jobs
			SET state = ?, attempts_made = attempts_made + 1, locked_by = ?, lock_expires_at = ?, processed_at = ?
			WHERE id = (
				SELECT id FROM queue_jobs
				WHERE state = ? AND attempts_made < max_attempts
				ORDER BY created_at, id LIMIT 1
			)
			RETURNING id, name, payload, attempts_made, max_attempts, created_at`,
			string(core.JobActive), workerID, toMillis(now.Add(lockFor)), toMillis(now),
			string(core.JobWaiting)).
			Scan(&j.ID, &j.Name, &j.Payload, &j.AttemptsMade, &j.MaxAttempts, &created)
		if errors.Is(err, sql.ErrNoRows) {
			job = nil
			return nil
		}
		if err != nil {
			return fmt.Errorf("claiming job: %w", err)
		}
		j.State = core.JobActive
		j.LockedBy = workerID
		j.LockExpires = now.Add(lockFor)
		j.CreatedAt = fromMillis(created)
		j.ProcessedAt = now
		job = &j
		return nil
	})
	return job, err
}

// CompleteJob marks an active job held by workerID as completed.
func (s *Store) CompleteJob(ctx context.Context, id, workerID, result string, now time.Time) error {
	return s.finishJob(ctx, id, workerID, core.JobCompleted, result, "", now)
}

// FailJob marks an active job held by workerID as failed.
func (s *Store) FailJob(ctx context.Context, id, workerID, reason string, now time.Time) error {
	return s.finishJob(ctx, id, workerID, core.JobFailed, "", reason, now)
}

func (s *Store) finishJob(ctx context.Context, id, workerID string, state core.JobState, result, reason string, now time.Time) error {
	return s.retryWrite(ctx, "finish job", func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE queue_jobs
			SET state = ?, result = ?, failed_reason = ?, finished_at = ?, lock_expires_at = NULL
			WHERE id = ? AND state = ? AND locked_by = ?`,
			string(state), result, reason, toMillis(now), id, string(core.JobActive), workerID)
		if err != nil {
			return fmt.Errorf("finishing job: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return core.ErrState(core.CodeInvalidTransition,
				fmt.Sprintf("job %s is not active for worker %s", id, workerID))
		}
		return nil
	})
}

// ExtendJobLock pushes the lock of an active job held by workerID to until.
func (s *Store) ExtendJobLock(ctx context.Context, id, workerID string, until time.Time) error {
	return s.retryWrite(ctx, "extend job lock", func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE queue_jobs SET lock_expires_at = ?
			WHERE id = ? AND state = ? AND locked_by = ?`,
			toMillis(until), id, string(core.JobActive), workerID)
		if err != nil {
			return fmt.Errorf("extending job lock: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return core.ErrState(core.CodeInvalidTransition,
				fmt.Sprintf("job %s is not active for worker %s", id, workerID))
		}
		return nil
	})
}

// FailStalledJobs fails every active job whose lock expired before now and
// returns their IDs. Stalled jobs never return to waiting.
func (s *Store) FailStalledJobs(ctx context.Context, reason string, now time.Time) ([]string, error) {
	var ids []string
	err := s.withTx(ctx, "fail stalled jobs", func(tx *sql.Tx) error {
		ids = ids[:0]
		rows, err := tx.QueryContext(ctx, `
			UPDATE queue_jobs
			SET state = ?, failed_reason = ?, finished_at = ?, lock_expires_at = NULL
			WHERE state = ? AND lock_expires_at < ?
			RETURNING id`,
			string(core.JobFailed), reason, toMillis(now), string(core.JobActive), toMillis(now))
		if err != nil {
			return fmt.Errorf("failing stalled jobs: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("scanning stalled job: %w", err)
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	return ids, err
}

// CleanJobs deletes jobs in a finished state that either finished before
// olderThan or fall outside the newest keep jobs of that state.
func (s *Store) CleanJobs(ctx context.Context, state core.JobState, olderThan time.Time, keep int) (int64, error) {
	var removed int64
	err := s.withTx(ctx, "clean jobs", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM queue_jobs WHERE state = ? AND finished_at < ?`,
			string(state), toMillis(olderThan))
		if err != nil {
			return fmt.Errorf("cleaning aged jobs: %w", err)
		}
		byAge, _ := res.RowsAffected()

		res, err = tx.ExecContext(ctx, `
			DELETE FROM queue_jobs WHERE state = ? AND id NOT IN (
				SELECT id FROM queue_jobs WHERE state = ?
				ORDER BY finished_at DESC, id DESC LIMIT ?
			)`,
			string(state), string(state), keep)
		if err != nil {
			return fmt.Errorf("cleaning excess jobs: %w", err)
		}
		byCount, _ := res.RowsAffected()
		removed = byAge + byCount
		return nil
	})
	return removed, err
}

// GetJob returns a job by ID, or a not-found error.
func (s *Store) GetJob(ctx context.Context, id string) (*core.Job, error) {
	var (
		j         core.Job
		state     string
		created   int64
		lockExp   sql.NullInt64
		processed sql.NullInt64
		finished  sql.NullInt64
	)
	err := s.readDB.QueryRowContext(ctx, `
		SELECT id, name, payload, state, attempts_made, max_attempts, locked_by, lock_expires_at,
		       failed_reason, result, created_at, processed_at, finished_at
		FROM queue_jobs WHERE id = ?`, id).
		Scan(&j.ID, &j.Name, &j.Payload, &state, &j.AttemptsMade, &j.MaxAttempts, &j.LockedBy, &lockExp,
			&j.FailedReason, &j.Result, &created, &processed, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("job", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting job: %w", err)
	}
	j.State = core.JobState(state)
	j.LockExpires = fromNullMillis(lockExp)
	j.CreatedAt = fromMillis(created)
	j.ProcessedAt = fromNullMillis(processed)
	j.FinishedAt = fromNullMillis(finished)
	return &j, nil
}

// CountJobs returns the number of jobs per state.
func (s *Store) CountJobs(ctx context.Context) (core.JobCounts, error) {
	var counts core.JobCounts
	rows, err := s.readDB.QueryContext(ctx, `SELECT state, COUNT(*) FROM queue_jobs GROUP BY state`)
	if err != nil {
		return counts, fmt.Errorf("counting jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			state string
			n     int64
		)
		if err := rows.Scan(&state, &n); err != nil {
			return counts, fmt.Errorf("scanning job count: %w", err)
		}
		switch core.JobState(state) {
		case core.JobWaiting:
			counts.Waiting = n
		case core.JobActive:
			counts.Active = n
		case core.JobCompleted:
			counts.Completed = n
		case core.JobFailed:
			counts.Failed = n
		}
	}
	return counts, rows.Err()
}

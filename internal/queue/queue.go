// Package queue implements the task execution job queue on top of the
// SQLite job table.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/opencommander/commander/internal/clock"
	"github.com/opencommander/commander/internal/core"
	"github.com/opencommander/commander/internal/logging"
)

// JobName tags task execution jobs in the shared job table.
const JobName = "task-execution"

// StalledReason is recorded on jobs whose worker lock expired.
const StalledReason = "job stalled: worker lock expired"

// Retention bounds how long and how many finished jobs are kept.
type Retention struct {
	Age   time.Duration
	Count int
}

// Policy is the retry and retention policy applied to every job.
type Policy struct {
	Attempts         int
	RemoveOnComplete Retention
	RemoveOnFail     Retention
}

// DefaultPolicy is the fixed policy for task execution jobs. A job is
// processed at most once; reruns are explicit operator actions.
var DefaultPolicy = Policy{
	Attempts:         1,
	RemoveOnComplete: Retention{Age: 24 * time.Hour, Count: 1000},
	RemoveOnFail:     Retention{Age: 7 * 24 * time.Hour, Count: 5000},
}

// JobStore is the persistence the queue needs.
type JobStore interface {
	InsertJob(ctx context.Context, job *core.Job) (bool, error)
	ClaimJob(ctx context.Context, workerID string, lockFor time.Duration, now time.Time) (*core.Job, error)
	CompleteJob(ctx context.Context, id, workerID, result string, now time.Time) error
	FailJob(ctx context.Context, id, workerID, reason string, now time.Time) error
	ExtendJobLock(ctx context.Context, id, workerID string, until time.Time) error
	FailStalledJobs(ctx context.Context, reason string, now time.Time) ([]string, error)
	CleanJobs(ctx context.Context, state core.JobState, olderThan time.Time, keep int) (int64, error)
	CountJobs(ctx context.Context) (core.JobCounts, error)
}

// Queue enqueues and hands out task execution jobs.
type Queue struct {
	store  JobStore
	clock  clock.Clock
	logger *logging.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock sets the clock used for lock and retention times.
func WithClock(c clock.Clock) Option {
	return func(q *Queue) { q.clock = c }
}

// WithLogger sets the queue logger.
func WithLogger(l *logging.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// New creates a queue over store.
func New(store JobStore, opts ...Option) *Queue {
	q := &Queue{
		store:  store,
		clock:  clock.Real(),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue stores job under its execution ID and returns that ID. Enqueuing
// an ID that already exists keeps the existing job and returns the same ID.
// Backend failures are returned as unavailable errors.
func (q *Queue) Enqueue(ctx context.Context, job core.TaskExecutionJob) (string, error) {
	if strings.TrimSpace(job.ExecutionID) == "" {
		return "", core.ErrValidation(core.CodeEmptyExecutionID, "executionId is required")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encoding job payload: %w", err)
	}

	inserted, err := q.store.InsertJob(ctx, &core.Job{
		ID:          job.ExecutionID,
		Name:        JobName,
		Payload:     payload,
		MaxAttempts: DefaultPolicy.Attempts,
		CreatedAt:   q.clock.Now().UTC(),
	})
	if err != nil {
		return "", core.ErrUnavailable("queue", err)
	}
	if !inserted {
		q.logger.Debug("duplicate enqueue ignored", "job_id", job.ExecutionID)
	}
	return job.ExecutionID, nil
}

// Claimed is a job handed to a worker along with its decoded payload.
type Claimed struct {
	Job     core.Job
	Payload core.TaskExecutionJob
}

// Claim takes the oldest waiting job for workerID and locks it for lockFor.
// It returns nil when the queue is empty. A job whose payload cannot be
// decoded is failed immediately and the error returned.
func (q *Queue) Claim(ctx context.Context, workerID string, lockFor time.Duration) (*Claimed, error) {
	now := q.clock.Now().UTC()
	job, err := q.store.ClaimJob(ctx, workerID, lockFor, now)
	if err != nil {
		return nil, core.ErrUnavailable("queue", err)
	}
	if job == nil {
		return nil, nil
	}

	var payload core.TaskExecutionJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		reason := fmt.Sprintf("decoding payload: %v", err)
		if ferr := q.store.FailJob(ctx, job.ID, workerID, reason, now); ferr != nil {
			q.logger.Warn("failing undecodable job", "job_id", job.ID, "error", ferr)
		}
		return nil, fmt.Errorf("job %s: %s", job.ID, reason)
	}
	return &Claimed{Job: *job, Payload: payload}, nil
}

// Complete marks a claimed job as completed.
func (q *Queue) Complete(ctx context.Context, jobID, workerID, result string) error {
	return q.store.CompleteJob(ctx, jobID, workerID, result, q.clock.Now().UTC())
}

// Fail marks a claimed job as failed. Failed jobs are never retried.
func (q *Queue) Fail(ctx context.Context, jobID, workerID, reason string) error {
	return q.store.FailJob(ctx, jobID, workerID, reason, q.clock.Now().UTC())
}

// ExtendLock keeps a claimed job locked for another lockFor from now.
func (q *Queue) ExtendLock(ctx context.Context, jobID, workerID string, lockFor time.Duration) error {
	return q.store.ExtendJobLock(ctx, jobID, workerID, q.clock.Now().UTC().Add(lockFor))
}

// FailStalled fails every active job whose lock has expired and returns
// their IDs.
func (q *Queue) FailStalled(ctx context.Context) ([]string, error) {
	ids, err := q.store.FailStalledJobs(ctx, StalledReason, q.clock.Now().UTC())
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		q.logger.Warn("failed stalled jobs", "count", len(ids))
	}
	return ids, nil
}

// Clean applies DefaultPolicy retention to finished jobs.
func (q *Queue) Clean(ctx context.Context) (int64, error) {
	now := q.clock.Now().UTC()
	completed, err := q.store.CleanJobs(ctx, core.JobCompleted,
		now.Add(-DefaultPolicy.RemoveOnComplete.Age), DefaultPolicy.RemoveOnComplete.Count)
	if err != nil {
		return 0, fmt.Errorf("cleaning completed jobs: %w", err)
	}
	failed, err := q.store.CleanJobs(ctx, core.JobFailed,
		now.Add(-DefaultPolicy.RemoveOnFail.Age), DefaultPolicy.RemoveOnFail.Count)
	if err != nil {
		return completed, fmt.Errorf("cleaning failed jobs: %w", err)
	}
	return completed + failed, nil
}

// Counts returns the number of jobs per state.
func (q *Queue) Counts(ctx context.Context) (core.JobCounts, error) {
	return q.store.CountJobs(ctx)
}

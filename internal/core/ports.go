package core

import (
	"context"
	"time"
)

// PresenceStore persists the per-user presence rows.
type PresenceStore interface {
	// UpsertPresence deletes every record last seen before cutoff and then
	// writes the caller's record, atomically.
	UpsertPresence(ctx context.Context, rec PresenceRecord, cutoff time.Time) error
	GetPresence(ctx context.Context, userID string) (*PresenceRecord, error)
	ListPresenceByProject(ctx context.Context, projectID string, cutoff time.Time) ([]PresenceEntry, error)
	ListPresenceBySession(ctx context.Context, sessionID string, cutoff time.Time) ([]PresenceEntry, error)
	DeletePresence(ctx context.Context, userID string) (bool, error)
	PruneStalePresence(ctx context.Context, cutoff time.Time) (int64, error)
}

// AccessChecker resolves whether a user may see a project or session.
type AccessChecker interface {
	IsProjectMember(ctx context.Context, projectID, userID string) (bool, error)
	GetSession(ctx context.Context, sessionID string) (*Session, error)
}

// JobQueue hands execution jobs to workers.
type JobQueue interface {
	Enqueue(ctx context.Context, job TaskExecutionJob) (string, error)
}

// ExecutionStore persists task executions.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, exec *TaskExecution) error
	GetExecution(ctx context.Context, id string) (*TaskExecution, error)
	MarkExecutionRunning(ctx context.Context, id string, at time.Time) error
	FinishExecution(ctx context.Context, id string, status ExecutionStatus, logs, result, errMsg string, at time.Time) error
}

package core

import "time"

// JobState is the queue-side lifecycle of a job. It is independent of the
// TaskExecution status, which the worker maintains.
type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Job is a queue entry as stored by the backend.
type Job struct {
	ID           string
	Name         string
	Payload      []byte
	State        JobState
	AttemptsMade int
	MaxAttempts  int
	LockedBy     string
	LockExpires  time.Time
	FailedReason string
	Result       string
	CreatedAt    time.Time
	ProcessedAt  time.Time
	FinishedAt   time.Time
}

// JobCounts reports how many jobs sit in each state.
type JobCounts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

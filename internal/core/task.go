package core

import "time"

// ExecutionStatus tracks the lifecycle of one agent run.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed
}

// CanTransitionTo reports whether moving from s to next is legal.
// pending -> running -> completed|failed; pending -> failed covers
// enqueue failures and jobs that stalled before starting.
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	switch s {
	case ExecutionPending:
		return next == ExecutionRunning || next == ExecutionFailed
	case ExecutionRunning:
		return next == ExecutionCompleted || next == ExecutionFailed
	}
	return false
}

// Task is a unit of agent work created in a project.
type Task struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"projectId"`
	Body       string    `json:"body"`
	AgentID    string    `json:"agentId"`
	MountPoint string    `json:"mountPoint,omitempty"`
	CreatedBy  string    `json:"createdBy"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TaskExecution is one attempt to run a task, updated by the worker.
type TaskExecution struct {
	ID         string          `json:"id"`
	TaskID     string          `json:"taskId"`
	Status     ExecutionStatus `json:"status"`
	Logs       string          `json:"logs,omitempty"`
	Result     string          `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	StartedAt  *time.Time      `json:"startedAt,omitempty"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`
}

// TaskExecutionJob is the queue payload for one execution. ExecutionID
// doubles as the queue job ID.
type TaskExecutionJob struct {
	ExecutionID string `json:"executionId"`
	TaskID      string `json:"taskId"`
	Body        string `json:"body"`
	AgentID     string `json:"agentId"`
	MountPoint  string `json:"mountPoint,omitempty"`
}

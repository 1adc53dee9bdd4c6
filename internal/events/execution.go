package events

// Event type constants for execution events.
const (
	TypeExecutionQueued    = "execution_queued"
	TypeExecutionStarted   = "execution_started"
	TypeExecutionCompleted = "execution_completed"
	TypeExecutionFailed    = "execution_failed"
)

// ExecutionEvent reports a task execution lifecycle change.
type ExecutionEvent struct {
	BaseEvent
	TaskID      string `json:"taskId"`
	ExecutionID string `json:"executionId"`
	AgentID     string `json:"agentId,omitempty"`
	Error       string `json:"error,omitempty"`
}

func newExecutionEvent(eventType, projectID, taskID, executionID string) ExecutionEvent {
	return ExecutionEvent{
		BaseEvent:   NewBaseEvent(eventType, projectID),
		TaskID:      taskID,
		ExecutionID: executionID,
	}
}

// NewExecutionQueuedEvent creates an event for a freshly enqueued execution.
func NewExecutionQueuedEvent(projectID, taskID, executionID, agentID string) ExecutionEvent {
	e := newExecutionEvent(TypeExecutionQueued, projectID, taskID, executionID)
	e.AgentID = agentID
	return e
}

// NewExecutionStartedEvent creates an event for an execution picked up by a worker.
func NewExecutionStartedEvent(projectID, taskID, executionID, agentID string) ExecutionEvent {
	e := newExecutionEvent(TypeExecutionStarted, projectID, taskID, executionID)
	e.AgentID = agentID
	return e
}

// NewExecutionCompletedEvent creates an event for a successful execution.
func NewExecutionCompletedEvent(projectID, taskID, executionID string) ExecutionEvent {
	return newExecutionEvent(TypeExecutionCompleted, projectID, taskID, executionID)
}

// NewExecutionFailedEvent creates an event for a failed execution.
func NewExecutionFailedEvent(projectID, taskID, executionID, errMsg string) ExecutionEvent {
	e := newExecutionEvent(TypeExecutionFailed, projectID, taskID, executionID)
	e.Error = errMsg
	return e
}

// Package tasks creates tasks and their executions and hands executions
// to the job queue.
package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opencommander/commander/internal/clock"
	"github.com/opencommander/commander/internal/core"
	"github.com/opencommander/commander/internal/events"
	"github.com/opencommander/commander/internal/logging"
)

// Store is the persistence the task service needs.
type Store interface {
	core.ExecutionStore
	CreateTask(ctx context.Context, task *core.Task, exec *core.TaskExecution) error
	GetTask(ctx context.Context, id string) (*core.Task, error)
	ListTasks(ctx context.Context, projectID string) ([]core.Task, error)
	ListExecutions(ctx context.Context, taskID string) ([]core.TaskExecution, error)
	IsProjectMember(ctx context.Context, projectID, userID string) (bool, error)
}

// AgentSet reports which agent IDs can run tasks.
type AgentSet interface {
	Has(id string) bool
}

// Publisher receives execution events.
type Publisher interface {
	Publish(event events.Event)
}

// CreateInput is the caller-supplied part of a new task.
type CreateInput struct {
	Body       string `json:"body"`
	AgentID    string `json:"agentId"`
	MountPoint string `json:"mountPoint,omitempty"`
}

// Detail is a task with its executions, newest first.
type Detail struct {
	core.Task
	Executions []core.TaskExecution `json:"executions"`
}

// Service coordinates task creation, reruns and reads.
type Service struct {
	store  Store
	queue  core.JobQueue
	agents AgentSet
	bus    Publisher
	clock  clock.Clock
	logger *logging.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithAgents restricts tasks to known agents.
func WithAgents(a AgentSet) Option {
	return func(s *Service) { s.agents = a }
}

// WithPublisher sets where execution_queued events go.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.bus = p }
}

// WithClock sets the clock used for failure timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithLogger sets the service logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a task service.
func NewService(store Store, queue core.JobQueue, opts ...Option) *Service {
	s := &Service{
		store:  store,
		queue:  queue,
		clock:  clock.Real(),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a task with a pending execution and enqueues it. When the
// enqueue fails the execution is marked failed and the error returned, so
// no pending execution is left without a job.
func (s *Service) Create(ctx context.Context, userID, projectID string, in CreateInput) (*core.Task, *core.TaskExecution, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, nil, core.ErrValidation(core.CodeEmptyProjectID, "projectId is required")
	}
	if strings.TrimSpace(in.Body) == "" {
		return nil, nil, core.ErrValidation(core.CodeEmptyBody, "body is required")
	}
	in.AgentID = strings.TrimSpace(in.AgentID)
	if in.AgentID == "" || (s.agents != nil && !s.agents.Has(in.AgentID)) {
		return nil, nil, core.ErrValidation(core.CodeUnknownAgent,
			fmt.Sprintf("unknown agent %q", in.AgentID))
	}
	if err := s.requireMember(ctx, projectID, userID); err != nil {
		return nil, nil, err
	}

	task := &core.Task{
		ProjectID:  projectID,
		Body:       in.Body,
		AgentID:    in.AgentID,
		MountPoint: strings.TrimSpace(in.MountPoint),
		CreatedBy:  userID,
	}
	exec := &core.TaskExecution{}
	if err := s.store.CreateTask(ctx, task, exec); err != nil {
		return nil, nil, err
	}

	if err := s.enqueue(ctx, task, exec); err != nil {
		return task, exec, err
	}
	return task, exec, nil
}

// Rerun creates and enqueues a fresh execution of an existing task.
func (s *Service) Rerun(ctx context.Context, userID, taskID string) (*core.TaskExecution, error) {
	task, err := s.visibleTask(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	exec := &core.TaskExecution{TaskID: task.ID}
	if err := s.store.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, task, exec); err != nil {
		return exec, err
	}
	return exec, nil
}

// Get returns a task with its executions.
func (s *Service) Get(ctx context.Context, userID, taskID string) (*Detail, error) {
	task, err := s.visibleTask(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	execs, err := s.store.ListExecutions(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	return &Detail{Task: *task, Executions: execs}, nil
}

// List returns the tasks of a project, newest first.
func (s *Service) List(ctx context.Context, userID, projectID string) ([]core.Task, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, core.ErrValidation(core.CodeEmptyProjectID, "projectId is required")
	}
	if err := s.requireMember(ctx, projectID, userID); err != nil {
		return nil, err
	}
	return s.store.ListTasks(ctx, projectID)
}

// Execution returns one execution with its logs.
func (s *Service) Execution(ctx context.Context, userID, executionID string) (*core.TaskExecution, error) {
	exec, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.visibleTask(ctx, userID, exec.TaskID); err != nil {
		return nil, core.ErrNotFound("execution", executionID)
	}
	return exec, nil
}

func (s *Service) enqueue(ctx context.Context, task *core.Task, exec *core.TaskExecution) error {
	_, err := s.queue.Enqueue(ctx, core.TaskExecutionJob{
		ExecutionID: exec.ID,
		TaskID:      task.ID,
		Body:        task.Body,
		AgentID:     task.AgentID,
		MountPoint:  task.MountPoint,
	})
	if err != nil {
		msg := fmt.Sprintf("enqueue failed: %v", err)
		// Compensate even when the request context is already done.
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if ferr := s.store.FinishExecution(cctx, exec.ID, core.ExecutionFailed, "", "", msg, s.clock.Now().UTC()); ferr != nil {
			s.logger.Error("marking execution failed after enqueue error",
				"execution_id", exec.ID, "error", ferr)
		} else {
			exec.Status = core.ExecutionFailed
			exec.Error = msg
		}
		return fmt.Errorf("enqueueing execution %s: %w", exec.ID, err)
	}

	s.logger.Info("execution queued", "task_id", task.ID, "execution_id", exec.ID, "agent", task.AgentID)
	if s.bus != nil {
		s.bus.Publish(events.NewExecutionQueuedEvent(task.ProjectID, task.ID, exec.ID, task.AgentID))
	}
	return nil
}

func (s *Service) visibleTask(ctx context.Context, userID, taskID string) (*core.Task, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, core.ErrValidation(core.CodeEmptyTaskID, "taskId is required")
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	ok, err := s.store.IsProjectMember(ctx, task.ProjectID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.ErrNotFound("task", taskID)
	}
	return task, nil
}

func (s *Service) requireMember(ctx context.Context, projectID, userID string) error {
	ok, err := s.store.IsProjectMember(ctx, projectID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return core.ErrNotFound("project", projectID)
	}
	return nil
}
